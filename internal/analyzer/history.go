package analyzer

import (
	"context"
	"time"

	"trustmarket/internal/model"
)

// 交易历史分 = 成功率 * 0.5 + 争议健康度 * 0.3 + 交易量 * 0.2
const (
	historyWeightSuccess = 0.50
	historyWeightDispute = 0.30
	historyWeightVolume  = 0.20

	// 争议率放大 5 倍后封顶：2% 的争议率就该明显拉低分数
	historyDisputeAmplifier = 5.0

	// 交易量在 50 单处拉满
	historyVolumeSaturation = 50.0

	// 零交易历史的保底分，与社交分的"未验证"口径一致
	historyNoDataFloor = 0.30
)

// HistorySource 订单统计数据源
type HistorySource interface {
	OrderStats(ctx context.Context, sellerID int64) (model.OrderStats, error)
}

// TransactionHistoryAnalyzer 交易历史分析器
type TransactionHistoryAnalyzer struct {
	orders HistorySource
}

func NewTransactionHistoryAnalyzer(orders HistorySource) *TransactionHistoryAnalyzer {
	return &TransactionHistoryAnalyzer{orders: orders}
}

func (a *TransactionHistoryAnalyzer) Kind() model.AnalyzerKind {
	return model.AnalyzerTransactionHistory
}

func (a *TransactionHistoryAnalyzer) Evaluate(ctx context.Context, subjectID int64) (model.PartialScore, error) {
	stats, err := a.orders.OrderStats(ctx, subjectID)
	if err != nil {
		return model.FailedPartial(a.Kind(), "order_stats_failed"), nil
	}

	now := time.Now()
	if stats.Total == 0 {
		return model.PartialScore{
			Source:      a.Kind(),
			Value:       historyNoDataFloor,
			ComputedAt:  now,
			ReasonCodes: []string{"no_transaction_history"},
		}, nil
	}

	successRate := float64(stats.Completed) / float64(stats.Total)
	disputeRate := float64(stats.Disputed+stats.Refunded) / float64(stats.Total)

	disputeHealth := 1 - historyDisputeAmplifier*disputeRate
	if disputeHealth < 0 {
		disputeHealth = 0
	}

	volume := float64(stats.Total) / historyVolumeSaturation
	if volume > 1 {
		volume = 1
	}

	value := successRate*historyWeightSuccess + disputeHealth*historyWeightDispute + volume*historyWeightVolume

	var reasons []string
	if disputeRate > 0 {
		reasons = append(reasons, "has_disputes")
	}

	return model.PartialScore{
		Source:      a.Kind(),
		Value:       clamp01(value),
		ComputedAt:  now,
		ReasonCodes: reasons,
	}, nil
}
