package analyzer

import (
	"context"
	"testing"
	"time"

	"trustmarket/internal/model"
)

type stubFraudProductSource struct {
	active     []model.Product
	recent     int64
	peerPrices []float64
	duplicates int64
}

func (s *stubFraudProductSource) ListActiveBySeller(ctx context.Context, sellerID int64) ([]model.Product, error) {
	return s.active, nil
}

func (s *stubFraudProductSource) CountRecentBySeller(ctx context.Context, sellerID int64, since time.Time) (int64, error) {
	return s.recent, nil
}

func (s *stubFraudProductSource) PeerPrices(ctx context.Context, namePrefix string, excludeProductID int64) ([]float64, error) {
	return s.peerPrices, nil
}

func (s *stubFraudProductSource) CountDuplicateByName(ctx context.Context, name string, excludeSellerID int64) (int64, error) {
	return s.duplicates, nil
}

func establishedSeller() *model.User {
	return &model.User{ID: 1, CreatedAt: time.Now().Add(-365 * 24 * time.Hour)}
}

func TestFraudCleanListing(t *testing.T) {
	products := &stubFraudProductSource{
		active: []model.Product{
			{ID: 1, SellerID: 1, Name: "Handmade ceramic mug", Description: "Glazed stoneware, 350ml", Price: 25},
		},
		peerPrices: []float64{20, 25, 30},
	}
	a := NewFraudAnalyzer(products, &stubUserSource{user: establishedSeller()})

	partial, err := a.Evaluate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !almostEqual(partial.Value, 1.0) {
		t.Errorf("干净商品 Value = %v, want 1.0", partial.Value)
	}
}

func TestFraudSuspiciousListing(t *testing.T) {
	products := &stubFraudProductSource{
		active: []model.Product{
			{
				ID:          1,
				SellerID:    1,
				Name:        "GUARANTEED PROFIT CRYPTO PACKAGE DEAL",
				Description: "free money!!! limited time only!!! contact me on whatsapp +1234567890",
				Price:       2,
			},
		},
		peerPrices: []float64{100, 120, 110},
	}
	a := NewFraudAnalyzer(products, &stubUserSource{user: establishedSeller()})

	partial, err := a.Evaluate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	// 关键词(封顶0.3) + 全大写(0.15) + 标点(0.10) + 联系方式(0.20) + 低价(0.25) = 1.0
	if !almostEqual(partial.Value, 0.0) {
		t.Errorf("高风险商品 Value = %v, want 0.0", partial.Value)
	}

	want := map[string]bool{
		"suspicious_keywords":     false,
		"excessive_caps":          false,
		"excessive_punctuation":   false,
		"contact_info_in_listing": false,
		"price_far_below_market":  false,
	}
	for _, r := range partial.ReasonCodes {
		if _, ok := want[r]; ok {
			want[r] = true
		}
	}
	for code, hit := range want {
		if !hit {
			t.Errorf("缺少原因码 %s", code)
		}
	}
}

func TestFraudYoungSellerHighPrice(t *testing.T) {
	products := &stubFraudProductSource{
		active: []model.Product{
			{ID: 1, SellerID: 1, Name: "Luxury watch limited", Description: "brand new", Price: 5000},
		},
	}
	young := &model.User{ID: 1, CreatedAt: time.Now().Add(-24 * time.Hour)}
	a := NewFraudAnalyzer(products, &stubUserSource{user: young})

	partial, err := a.Evaluate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !almostEqual(partial.Value, 1.0-fraudRiskYoungSellerPrice) {
		t.Errorf("Value = %v, want %v", partial.Value, 1.0-fraudRiskYoungSellerPrice)
	}
}

func TestFraudDuplicateListing(t *testing.T) {
	products := &stubFraudProductSource{
		active: []model.Product{
			{ID: 1, SellerID: 1, Name: "Nintendo Switch OLED", Description: "sealed box", Price: 300},
		},
		duplicates: 3,
	}
	a := NewFraudAnalyzer(products, &stubUserSource{user: establishedSeller()})

	partial, err := a.Evaluate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !almostEqual(partial.Value, 1.0-fraudRiskDuplicateListing) {
		t.Errorf("Value = %v, want %v", partial.Value, 1.0-fraudRiskDuplicateListing)
	}
}

func TestFraudNoActiveListings(t *testing.T) {
	a := NewFraudAnalyzer(&stubFraudProductSource{}, &stubUserSource{user: establishedSeller()})

	partial, err := a.Evaluate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if partial.Failed {
		t.Fatal("无在售商品不是失败")
	}
	if !almostEqual(partial.Value, fraudNoListingNeutral) {
		t.Errorf("Value = %v, want %v", partial.Value, fraudNoListingNeutral)
	}
}

func TestCapsRatio(t *testing.T) {
	if capsRatio("short") != 0 {
		t.Error("字母太少不触发大写比例")
	}
	if got := capsRatio("THIS IS ALL UPPERCASE TEXT HERE"); got <= fraudCapsRatioThreshold {
		t.Errorf("capsRatio = %v, 应超过阈值", got)
	}
}
