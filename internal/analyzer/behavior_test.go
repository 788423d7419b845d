package analyzer

import (
	"context"
	"errors"
	"testing"
	"time"

	"trustmarket/internal/model"
)

type stubUserSource struct {
	user *model.User
	err  error
}

func (s *stubUserSource) GetByID(ctx context.Context, userID int64) (*model.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.user, nil
}

type stubListingSource struct {
	products []model.Product
	recent   int64
}

func (s *stubListingSource) ListBySeller(ctx context.Context, sellerID int64) ([]model.Product, error) {
	return s.products, nil
}

func (s *stubListingSource) CountRecentBySeller(ctx context.Context, sellerID int64, since time.Time) (int64, error) {
	return s.recent, nil
}

type stubOrderSource struct {
	orders []model.EscrowOrder
}

func (s *stubOrderSource) ListRecentByUser(ctx context.Context, userID int64, since time.Time) ([]model.EscrowOrder, error) {
	return s.orders, nil
}

type stubCommSource struct {
	stats   *CommunicationStats
	hasData bool
}

func (s *stubCommSource) CommunicationStats(ctx context.Context, userID int64) (*CommunicationStats, bool, error) {
	return s.stats, s.hasData, nil
}

func healthyUser() *model.User {
	return &model.User{
		ID:         1,
		LoginCount: 20,
		CreatedAt:  time.Now().Add(-180 * 24 * time.Hour),
	}
}

// 沟通子域无数据时权重摊给剩余三个子域
func TestBehaviorRenormalizesMissingSubDomain(t *testing.T) {
	a := NewBehaviorAnalyzer(
		&stubUserSource{user: healthyUser()},
		&stubListingSource{products: []model.Product{{Status: model.ProductStatusActive, Name: "handmade mug"}}},
		&stubOrderSource{orders: []model.EscrowOrder{
			{Status: model.OrderStatusCompleted},
			{Status: model.OrderStatusCompleted},
			{Status: model.OrderStatusDisputed},
		}},
		nil,
	)

	partial, err := a.Evaluate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	// 挂单 1.0*0.3 + 交易(争议扣分后 0.7)*0.25 + 账号 1.0*0.2，权重和 0.75
	want := (1.0*behaviorWeightListing + 0.7*behaviorWeightTransaction + 1.0*behaviorWeightAccount) /
		(behaviorWeightListing + behaviorWeightTransaction + behaviorWeightAccount)
	if !almostEqual(partial.Value, want) {
		t.Errorf("Value = %v, want %v", partial.Value, want)
	}
}

func TestBehaviorSpamCommunication(t *testing.T) {
	a := NewBehaviorAnalyzer(
		&stubUserSource{user: healthyUser()},
		&stubListingSource{},
		&stubOrderSource{},
		&stubCommSource{hasData: true, stats: &CommunicationStats{Messages: 100, SpamRatio: 0.5}},
	)

	partial, err := a.Evaluate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	// 只有沟通和账号两个子域有数据：沟通 0.7*0.25 + 账号 1.0*0.2，权重和 0.45
	want := (0.7*behaviorWeightCommunication + 1.0*behaviorWeightAccount) /
		(behaviorWeightCommunication + behaviorWeightAccount)
	if !almostEqual(partial.Value, want) {
		t.Errorf("Value = %v, want %v", partial.Value, want)
	}
}

func TestBehaviorFlaggedListings(t *testing.T) {
	a := NewBehaviorAnalyzer(
		&stubUserSource{user: healthyUser()},
		&stubListingSource{products: []model.Product{
			{Status: model.ProductStatusActive, Name: "vintage camera"},
			{Status: model.ProductStatusFlagged, Name: "vintage lens"},
		}},
		&stubOrderSource{},
		nil,
	)

	partial, err := a.Evaluate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := (0.75*behaviorWeightListing + 1.0*behaviorWeightAccount) /
		(behaviorWeightListing + behaviorWeightAccount)
	if !almostEqual(partial.Value, want) {
		t.Errorf("Value = %v, want %v", partial.Value, want)
	}
	found := false
	for _, r := range partial.ReasonCodes {
		if r == "flagged_listings" {
			found = true
		}
	}
	if !found {
		t.Error("缺少 flagged_listings 原因码")
	}
}

func TestBehaviorUserFetchError(t *testing.T) {
	a := NewBehaviorAnalyzer(
		&stubUserSource{err: errors.New("db down")},
		&stubListingSource{},
		&stubOrderSource{},
		nil,
	)

	partial, err := a.Evaluate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !partial.Failed {
		t.Fatal("用户数据拉取失败应转成失败分项")
	}
}
