package model

import (
	"encoding/json"
	"time"
)

// AnalyzerKind 评分来源
type AnalyzerKind string

const (
	AnalyzerSocialVerification AnalyzerKind = "social_verification"
	AnalyzerLegitimacy         AnalyzerKind = "legitimacy"
	AnalyzerBehavior           AnalyzerKind = "behavior"
	AnalyzerFraud              AnalyzerKind = "fraud"
	AnalyzerTransactionHistory AnalyzerKind = "transaction_history"
	AnalyzerProductQuality     AnalyzerKind = "product_quality"
)

// AllAnalyzerKinds 固定顺序，聚合结果与遍历顺序无关，但日志输出保持稳定
var AllAnalyzerKinds = []AnalyzerKind{
	AnalyzerSocialVerification,
	AnalyzerLegitimacy,
	AnalyzerBehavior,
	AnalyzerFraud,
	AnalyzerTransactionHistory,
	AnalyzerProductQuality,
}

// PartialScore 单个分析器的评分结果
// 纯值对象，不单独落库，只作为综合分的一部分持久化
type PartialScore struct {
	Source      AnalyzerKind `json:"source"`
	Value       float64      `json:"value"` // [0,1]
	Weight      float64      `json:"weight"`
	ComputedAt  time.Time    `json:"computed_at"`
	ReasonCodes []string     `json:"reason_codes,omitempty"`
	Failed      bool         `json:"failed"`
}

// FailedPartial 分析器失败时的占位结果
// 失败的分项会被聚合器从分子和分母中同时剔除，绝不按 0 分计算
func FailedPartial(kind AnalyzerKind, reason string) PartialScore {
	return PartialScore{
		Source:      kind,
		ComputedAt:  time.Now(),
		ReasonCodes: []string{reason},
		Failed:      true,
	}
}

// ============================================================================
// 信任等级
// ============================================================================

type Tier int

const (
	TierVeryPoor Tier = iota
	TierPoor
	TierFair
	TierGood
	TierVeryGood
	TierExcellent
)

func (t Tier) String() string {
	switch t {
	case TierVeryPoor:
		return "VERY_POOR"
	case TierPoor:
		return "POOR"
	case TierFair:
		return "FAIR"
	case TierGood:
		return "GOOD"
	case TierVeryGood:
		return "VERY_GOOD"
	case TierExcellent:
		return "EXCELLENT"
	}
	return "UNKNOWN"
}

// tierBand 区间下闭上开，最高档上界闭合
type tierBand struct {
	Min  float64
	Tier Tier
}

// SellerScoreBands 卖家分档位表
var SellerScoreBands = []tierBand{
	{0.90, TierExcellent},
	{0.80, TierVeryGood},
	{0.70, TierGood},
	{0.60, TierFair},
	{0.40, TierPoor},
	{0.00, TierVeryPoor},
}

// ReputationBands 声誉分档位表
// 与卖家分的边界不同，历史上是两套独立的产品口径，保持分开维护
var ReputationBands = []tierBand{
	{0.85, TierExcellent},
	{0.70, TierVeryGood},
	{0.55, TierGood},
	{0.40, TierFair},
	{0.25, TierPoor},
	{0.00, TierVeryPoor},
}

// TierOf 按档位表映射等级，value 恰好等于下界时归入该档
func TierOf(value float64, bands []tierBand) Tier {
	for _, b := range bands {
		if value >= b.Min {
			return b.Tier
		}
	}
	return TierVeryPoor
}

func SellerTierOf(value float64) Tier {
	return TierOf(value, SellerScoreBands)
}

func ReputationTierOf(value float64) Tier {
	return TierOf(value, ReputationBands)
}

// ============================================================================
// 综合信任分
// ============================================================================

// TrustScore 主体当前的综合信任分，每个主体一行（覆盖写）
type TrustScore struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SubjectID      int64     `gorm:"uniqueIndex;not null" json:"subject_id"`
	OverallValue   float64   `gorm:"not null;index" json:"overall_value"`
	Tier           string    `gorm:"type:varchar(20);not null" json:"tier"`
	ReputationTier string    `gorm:"type:varchar(20);not null" json:"reputation_tier"`
	Breakdown      string    `gorm:"type:text" json:"-"` // map[AnalyzerKind]PartialScore 的 JSON
	ComputedAt     time.Time `gorm:"not null" json:"computed_at"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TrustScore) TableName() string {
	return "trust_score"
}

// SetBreakdown 序列化各分项明细
func (s *TrustScore) SetBreakdown(breakdown map[AnalyzerKind]PartialScore) error {
	data, err := json.Marshal(breakdown)
	if err != nil {
		return err
	}
	s.Breakdown = string(data)
	return nil
}

// GetBreakdown 反序列化各分项明细
func (s *TrustScore) GetBreakdown() (map[AnalyzerKind]PartialScore, error) {
	breakdown := make(map[AnalyzerKind]PartialScore)
	if s.Breakdown == "" {
		return breakdown, nil
	}
	if err := json.Unmarshal([]byte(s.Breakdown), &breakdown); err != nil {
		return nil, err
	}
	return breakdown, nil
}

// ScoreHistory 评分历史，只追加，仅用于审计，不参与重算
type ScoreHistory struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SubjectID    int64     `gorm:"index;not null" json:"subject_id"`
	OverallValue float64   `gorm:"not null" json:"overall_value"`
	Tier         string    `gorm:"type:varchar(20);not null" json:"tier"`
	Breakdown    string    `gorm:"type:text" json:"-"`
	ComputedAt   time.Time `gorm:"index;not null" json:"computed_at"`
}

func (ScoreHistory) TableName() string {
	return "score_history"
}
