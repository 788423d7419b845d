package analyzer

import (
	"context"
	"strings"
	"time"

	"trustmarket/internal/model"
)

// 行为分按四个子域加权，缺数据的子域剔除后权重归一化
const (
	behaviorWeightListing       = 0.30
	behaviorWeightCommunication = 0.25
	behaviorWeightTransaction   = 0.25
	behaviorWeightAccount       = 0.20

	// 挂单行为
	behaviorPenaltyFlaggedListing = 0.25 // 存在被标记的商品
	behaviorPenaltyListingBurst   = 0.20 // 24 小时内挂单超过 20 条
	behaviorPenaltyKeywordListing = 0.15 // 商品描述命中可疑关键词
	behaviorListingBurstCount     = 20
	behaviorListingBurstWindow    = 24 * time.Hour

	// 沟通行为
	behaviorPenaltySpamMessages = 0.30 // 垃圾消息占比超过 20%
	behaviorPenaltySlowResponse = 0.15 // 平均响应超过 24 小时
	behaviorSpamRatioThreshold  = 0.20
	behaviorSlowResponseMinutes = 24 * 60

	// 交易行为
	behaviorPenaltyCancelledOrders = 0.25 // 取消订单占比超过 30%
	behaviorPenaltyDisputedOrders  = 0.30 // 存在争议订单
	behaviorCancelRatioThreshold   = 0.30
	behaviorTransactionWindow      = 90 * 24 * time.Hour

	// 账号行为
	behaviorPenaltyProfileChurn = 0.20 // 资料频繁变更
	behaviorPenaltyDormant      = 0.15 // 长期无登录
	behaviorProfileChurnCount   = 10
)

// CommunicationStats 站内沟通统计
// 消息系统是独立服务，数据可能完全缺失
type CommunicationStats struct {
	Messages           int64
	SpamRatio          float64
	AvgResponseMinutes float64
}

// CommunicationSource 沟通数据源，hasData 为 false 表示该子域无数据
type CommunicationSource interface {
	CommunicationStats(ctx context.Context, userID int64) (*CommunicationStats, bool, error)
}

// SellerListingSource 卖家挂单数据源
type SellerListingSource interface {
	ListBySeller(ctx context.Context, sellerID int64) ([]model.Product, error)
	CountRecentBySeller(ctx context.Context, sellerID int64, since time.Time) (int64, error)
}

// UserOrderSource 用户近期订单数据源（买卖双方向）
type UserOrderSource interface {
	ListRecentByUser(ctx context.Context, userID int64, since time.Time) ([]model.EscrowOrder, error)
}

// BehaviorAnalyzer 行为模式分析器
// communication 允许为 nil，此时沟通子域视为无数据
type BehaviorAnalyzer struct {
	users         UserSource
	listings      SellerListingSource
	orders        UserOrderSource
	communication CommunicationSource
}

func NewBehaviorAnalyzer(users UserSource, listings SellerListingSource, orders UserOrderSource, communication CommunicationSource) *BehaviorAnalyzer {
	return &BehaviorAnalyzer{users: users, listings: listings, orders: orders, communication: communication}
}

func (a *BehaviorAnalyzer) Kind() model.AnalyzerKind {
	return model.AnalyzerBehavior
}

type subDomainScore struct {
	score  float64
	weight float64
}

func (a *BehaviorAnalyzer) Evaluate(ctx context.Context, subjectID int64) (model.PartialScore, error) {
	now := time.Now()
	var parts []subDomainScore
	var reasons []string

	listingScore, ok, err := a.scoreListing(ctx, subjectID, now, &reasons)
	if err != nil {
		return model.FailedPartial(a.Kind(), "listing_fetch_failed"), nil
	}
	if ok {
		parts = append(parts, subDomainScore{listingScore, behaviorWeightListing})
	}

	commScore, ok, err := a.scoreCommunication(ctx, subjectID, &reasons)
	if err != nil {
		return model.FailedPartial(a.Kind(), "communication_fetch_failed"), nil
	}
	if ok {
		parts = append(parts, subDomainScore{commScore, behaviorWeightCommunication})
	}

	txScore, ok, err := a.scoreTransaction(ctx, subjectID, now, &reasons)
	if err != nil {
		return model.FailedPartial(a.Kind(), "order_fetch_failed"), nil
	}
	if ok {
		parts = append(parts, subDomainScore{txScore, behaviorWeightTransaction})
	}

	accountScore, ok, err := a.scoreAccount(ctx, subjectID, now, &reasons)
	if err != nil {
		return model.FailedPartial(a.Kind(), "user_fetch_failed"), nil
	}
	if ok {
		parts = append(parts, subDomainScore{accountScore, behaviorWeightAccount})
	}

	if len(parts) == 0 {
		return model.FailedPartial(a.Kind(), "no_behavior_data"), nil
	}

	// 缺失子域的权重摊给剩余子域
	var weightSum, weighted float64
	for _, p := range parts {
		weightSum += p.weight
		weighted += p.score * p.weight
	}

	return model.PartialScore{
		Source:      a.Kind(),
		Value:       clamp01(weighted / weightSum),
		ComputedAt:  now,
		ReasonCodes: reasons,
	}, nil
}

func (a *BehaviorAnalyzer) scoreListing(ctx context.Context, subjectID int64, now time.Time, reasons *[]string) (float64, bool, error) {
	products, err := a.listings.ListBySeller(ctx, subjectID)
	if err != nil {
		return 0, false, err
	}
	if len(products) == 0 {
		return 0, false, nil
	}

	score := 1.0

	flagged := false
	keyword := false
	for _, p := range products {
		if p.Status == model.ProductStatusFlagged {
			flagged = true
		}
		if hasSuspiciousKeyword(p.Name + " " + p.Description) {
			keyword = true
		}
	}
	if flagged {
		score -= behaviorPenaltyFlaggedListing
		*reasons = append(*reasons, "flagged_listings")
	}
	if keyword {
		score -= behaviorPenaltyKeywordListing
		*reasons = append(*reasons, "suspicious_listing_text")
	}

	recent, err := a.listings.CountRecentBySeller(ctx, subjectID, now.Add(-behaviorListingBurstWindow))
	if err != nil {
		return 0, false, err
	}
	if recent > behaviorListingBurstCount {
		score -= behaviorPenaltyListingBurst
		*reasons = append(*reasons, "listing_burst")
	}

	return clamp01(score), true, nil
}

func (a *BehaviorAnalyzer) scoreCommunication(ctx context.Context, subjectID int64, reasons *[]string) (float64, bool, error) {
	if a.communication == nil {
		return 0, false, nil
	}
	stats, hasData, err := a.communication.CommunicationStats(ctx, subjectID)
	if err != nil {
		return 0, false, err
	}
	if !hasData || stats == nil || stats.Messages == 0 {
		return 0, false, nil
	}

	score := 1.0
	if stats.SpamRatio > behaviorSpamRatioThreshold {
		score -= behaviorPenaltySpamMessages
		*reasons = append(*reasons, "spam_messages")
	}
	if stats.AvgResponseMinutes > behaviorSlowResponseMinutes {
		score -= behaviorPenaltySlowResponse
		*reasons = append(*reasons, "slow_response")
	}
	return clamp01(score), true, nil
}

func (a *BehaviorAnalyzer) scoreTransaction(ctx context.Context, subjectID int64, now time.Time, reasons *[]string) (float64, bool, error) {
	orders, err := a.orders.ListRecentByUser(ctx, subjectID, now.Add(-behaviorTransactionWindow))
	if err != nil {
		return 0, false, err
	}
	if len(orders) == 0 {
		return 0, false, nil
	}

	var cancelled, disputed int
	for _, o := range orders {
		switch o.Status {
		case model.OrderStatusCancelled:
			cancelled++
		case model.OrderStatusDisputed, model.OrderStatusRefunded:
			disputed++
		}
	}

	score := 1.0
	if float64(cancelled)/float64(len(orders)) > behaviorCancelRatioThreshold {
		score -= behaviorPenaltyCancelledOrders
		*reasons = append(*reasons, "high_cancel_ratio")
	}
	if disputed > 0 {
		score -= behaviorPenaltyDisputedOrders
		*reasons = append(*reasons, "disputed_orders")
	}
	return clamp01(score), true, nil
}

func (a *BehaviorAnalyzer) scoreAccount(ctx context.Context, subjectID int64, now time.Time, reasons *[]string) (float64, bool, error) {
	user, err := a.users.GetByID(ctx, subjectID)
	if err != nil {
		return 0, false, err
	}

	score := 1.0
	if user.ProfileUpdateCount > behaviorProfileChurnCount {
		score -= behaviorPenaltyProfileChurn
		*reasons = append(*reasons, "profile_churn")
	}
	// 注册超过 30 天仍零登录记录视为休眠账号
	if user.LoginCount == 0 && now.Sub(user.CreatedAt) > 30*24*time.Hour {
		score -= behaviorPenaltyDormant
		*reasons = append(*reasons, "dormant_account")
	}
	return clamp01(score), true, nil
}

func hasSuspiciousKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range suspiciousKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
