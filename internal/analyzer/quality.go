package analyzer

import (
	"context"
	"time"

	"trustmarket/internal/model"
)

// 商品质量分 = 健康在售比 * 0.4 + 平均审核分 * 0.3 + 价格多样性 * 0.3
const (
	qualityWeightActiveRatio    = 0.40
	qualityWeightVerification   = 0.30
	qualityWeightPriceDiversity = 0.30

	// 无商品时的保底分
	qualityNoDataFloor = 0.30
)

// QualitySource 商品统计数据源
type QualitySource interface {
	ProductStats(ctx context.Context, sellerID int64) (model.ProductStats, error)
}

// ProductQualityAnalyzer 商品质量分析器
type ProductQualityAnalyzer struct {
	products QualitySource
}

func NewProductQualityAnalyzer(products QualitySource) *ProductQualityAnalyzer {
	return &ProductQualityAnalyzer{products: products}
}

func (a *ProductQualityAnalyzer) Kind() model.AnalyzerKind {
	return model.AnalyzerProductQuality
}

func (a *ProductQualityAnalyzer) Evaluate(ctx context.Context, subjectID int64) (model.PartialScore, error) {
	stats, err := a.products.ProductStats(ctx, subjectID)
	if err != nil {
		return model.FailedPartial(a.Kind(), "product_stats_failed"), nil
	}

	now := time.Now()
	if stats.Total == 0 {
		return model.PartialScore{
			Source:      a.Kind(),
			Value:       qualityNoDataFloor,
			ComputedAt:  now,
			ReasonCodes: []string{"no_products"},
		}, nil
	}

	// 被标记的商品双倍抵扣在售比
	healthyRatio := (float64(stats.Active) - float64(stats.Flagged)) / float64(stats.Total)
	if healthyRatio < 0 {
		healthyRatio = 0
	}

	var priceDiversity float64
	if stats.MaxPrice > 0 {
		priceDiversity = (stats.MaxPrice - stats.MinPrice) / stats.MaxPrice
	}

	value := healthyRatio*qualityWeightActiveRatio +
		clamp01(stats.AvgVerification)*qualityWeightVerification +
		priceDiversity*qualityWeightPriceDiversity

	var reasons []string
	if stats.Flagged > 0 {
		reasons = append(reasons, "flagged_products")
	}

	return model.PartialScore{
		Source:      a.Kind(),
		Value:       clamp01(value),
		ComputedAt:  now,
		ReasonCodes: reasons,
	}, nil
}
