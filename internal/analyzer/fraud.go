package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"trustmarket/internal/model"

	gocache "github.com/patrickmn/go-cache"
)

// 欺诈检测是风险累加模型：各信号独立加风险分，
// trust = 1 - clamp(risk, 0, 1)
const (
	fraudRiskKeywordEach      = 0.10
	fraudRiskKeywordCap       = 0.30
	fraudRiskAllCaps          = 0.15 // 标题大写字母占比过半
	fraudRiskPunctuation      = 0.10 // 感叹号/问号堆砌
	fraudRiskContactInfo      = 0.20 // 描述里塞联系方式，绕过平台交易
	fraudRiskPriceDeviation   = 0.25 // 价格偏离同类均价（<10% 或 >500%）
	fraudRiskYoungSellerPrice = 0.20 // 注册不满 7 天就挂高价商品
	fraudRiskListingBurst     = 0.15 // 1 小时内挂单超过 5 条
	fraudRiskDuplicateListing = 0.25 // 跨卖家同名商品

	fraudCapsRatioThreshold    = 0.50
	fraudCapsMinLetters        = 20
	fraudPunctuationThreshold  = 5
	fraudPriceLowRatio         = 0.10
	fraudPriceHighRatio        = 5.0
	fraudPeerMinSamples        = 3
	fraudYoungSellerAge        = 7 * 24 * time.Hour
	fraudYoungSellerPriceFloor = 1000.0
	fraudBurstWindow           = time.Hour
	fraudBurstCount            = 5

	// 同类价格样本的缓存时间，评分批量跑时同前缀商品很多
	fraudPeerCacheTTL = 5 * time.Minute

	// 卖家没有在售商品时无欺诈信号，给中性分
	fraudNoListingNeutral = 0.50
)

// 黑灰产高频词，命中即加风险分（行为分析器的挂单检查共用这张表）
var suspiciousKeywords = []string{
	"free money",
	"guaranteed profit",
	"limited time only",
	"wire transfer only",
	"no refund",
	"crypto doubling",
	"giveaway",
	"dm me",
}

var (
	fraudEmailPattern   = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	fraudPhonePattern   = regexp.MustCompile(`\+?\d[\d\-\s]{6,}\d`)
	fraudContactPattern = regexp.MustCompile(`(?i)(t\.me/|wa\.me/|whatsapp|telegram|wechat)`)
)

// FraudProductSource 欺诈检测的商品数据源
type FraudProductSource interface {
	ListActiveBySeller(ctx context.Context, sellerID int64) ([]model.Product, error)
	CountRecentBySeller(ctx context.Context, sellerID int64, since time.Time) (int64, error)
	PeerPrices(ctx context.Context, namePrefix string, excludeProductID int64) ([]float64, error)
	CountDuplicateByName(ctx context.Context, name string, excludeSellerID int64) (int64, error)
}

// FraudAnalyzer 欺诈检测分析器
// 以商品为粒度计算风险，主体分取该卖家全部在售商品的均值
type FraudAnalyzer struct {
	products  FraudProductSource
	users     UserSource
	peerCache *gocache.Cache // 同类价格样本缓存，key 为名称前缀
}

func NewFraudAnalyzer(products FraudProductSource, users UserSource) *FraudAnalyzer {
	return &FraudAnalyzer{
		products:  products,
		users:     users,
		peerCache: gocache.New(fraudPeerCacheTTL, 2*fraudPeerCacheTTL),
	}
}

func (a *FraudAnalyzer) Kind() model.AnalyzerKind {
	return model.AnalyzerFraud
}

func (a *FraudAnalyzer) Evaluate(ctx context.Context, subjectID int64) (model.PartialScore, error) {
	now := time.Now()

	products, err := a.products.ListActiveBySeller(ctx, subjectID)
	if err != nil {
		return model.FailedPartial(a.Kind(), "product_fetch_failed"), nil
	}
	if len(products) == 0 {
		return model.PartialScore{
			Source:      a.Kind(),
			Value:       fraudNoListingNeutral,
			ComputedAt:  now,
			ReasonCodes: []string{"no_active_listings"},
		}, nil
	}

	user, err := a.users.GetByID(ctx, subjectID)
	if err != nil {
		return model.FailedPartial(a.Kind(), "user_fetch_failed"), nil
	}

	recentCount, err := a.products.CountRecentBySeller(ctx, subjectID, now.Add(-fraudBurstWindow))
	if err != nil {
		return model.FailedPartial(a.Kind(), "product_fetch_failed"), nil
	}

	var trustSum float64
	reasonSet := make(map[string]struct{})
	for i := range products {
		risk, reasons := a.EvaluateProduct(ctx, &products[i], user, recentCount, now)
		trustSum += 1 - clamp01(risk)
		for _, r := range reasons {
			reasonSet[r] = struct{}{}
		}
	}

	reasons := make([]string, 0, len(reasonSet))
	for r := range reasonSet {
		reasons = append(reasons, r)
	}

	return model.PartialScore{
		Source:      a.Kind(),
		Value:       clamp01(trustSum / float64(len(products))),
		ComputedAt:  now,
		ReasonCodes: reasons,
	}, nil
}

// EvaluateProduct 单商品风险分，挂单入口也会调用做前置检查
func (a *FraudAnalyzer) EvaluateProduct(ctx context.Context, product *model.Product, seller *model.User, recentCount int64, now time.Time) (float64, []string) {
	var risk float64
	var reasons []string

	text := strings.ToLower(product.Name + " " + product.Description)

	var keywordRisk float64
	for _, kw := range suspiciousKeywords {
		if strings.Contains(text, kw) {
			keywordRisk += fraudRiskKeywordEach
		}
	}
	if keywordRisk > fraudRiskKeywordCap {
		keywordRisk = fraudRiskKeywordCap
	}
	if keywordRisk > 0 {
		risk += keywordRisk
		reasons = append(reasons, "suspicious_keywords")
	}

	if capsRatio(product.Name) > fraudCapsRatioThreshold {
		risk += fraudRiskAllCaps
		reasons = append(reasons, "excessive_caps")
	}

	if strings.Count(text, "!")+strings.Count(text, "?") > fraudPunctuationThreshold {
		risk += fraudRiskPunctuation
		reasons = append(reasons, "excessive_punctuation")
	}

	if fraudEmailPattern.MatchString(text) || fraudPhonePattern.MatchString(text) || fraudContactPattern.MatchString(text) {
		risk += fraudRiskContactInfo
		reasons = append(reasons, "contact_info_in_listing")
	}

	if deviation, hit := a.priceDeviation(ctx, product); hit {
		risk += fraudRiskPriceDeviation
		reasons = append(reasons, deviation)
	}

	if seller != nil && now.Sub(seller.CreatedAt) < fraudYoungSellerAge && product.Price > fraudYoungSellerPriceFloor {
		risk += fraudRiskYoungSellerPrice
		reasons = append(reasons, "young_seller_high_price")
	}

	if recentCount > fraudBurstCount {
		risk += fraudRiskListingBurst
		reasons = append(reasons, "rapid_listing_burst")
	}

	if dup, err := a.products.CountDuplicateByName(ctx, product.Name, product.SellerID); err == nil && dup > 0 {
		risk += fraudRiskDuplicateListing
		reasons = append(reasons, "duplicate_listing")
	}

	return risk, reasons
}

// priceDeviation 与同类商品均价对比，样本不足时不触发
func (a *FraudAnalyzer) priceDeviation(ctx context.Context, product *model.Product) (string, bool) {
	prefix := namePrefix(product.Name)
	if prefix == "" {
		return "", false
	}

	var peers []float64
	cacheKey := fmt.Sprintf("peer:%s", prefix)
	if cached, ok := a.peerCache.Get(cacheKey); ok {
		peers = cached.([]float64)
	} else {
		fetched, err := a.products.PeerPrices(ctx, prefix, product.ID)
		if err != nil {
			return "", false
		}
		peers = fetched
		a.peerCache.Set(cacheKey, peers, gocache.DefaultExpiration)
	}

	if len(peers) < fraudPeerMinSamples {
		return "", false
	}

	var sum float64
	for _, p := range peers {
		sum += p
	}
	avg := sum / float64(len(peers))
	if avg <= 0 {
		return "", false
	}

	if product.Price < avg*fraudPriceLowRatio {
		return "price_far_below_market", true
	}
	if product.Price > avg*fraudPriceHighRatio {
		return "price_far_above_market", true
	}
	return "", false
}

// namePrefix 取名称前两个词作为同类商品的匹配前缀
func namePrefix(name string) string {
	words := strings.Fields(strings.ToLower(name))
	if len(words) == 0 {
		return ""
	}
	if len(words) == 1 {
		return words[0]
	}
	return words[0] + " " + words[1]
}

func capsRatio(s string) float64 {
	var letters, upper int
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters < fraudCapsMinLetters {
		return 0
	}
	return float64(upper) / float64(letters)
}
