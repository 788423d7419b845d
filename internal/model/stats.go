package model

// OrderStats 卖家维度的订单统计，交易历史分析器的输入
type OrderStats struct {
	Total     int64
	Completed int64
	Disputed  int64
	Refunded  int64
}

// ProductStats 卖家维度的商品统计，商品质量分析器的输入
type ProductStats struct {
	Total           int64
	Active          int64
	Flagged         int64
	AvgVerification float64
	MinPrice        float64
	MaxPrice        float64
}
