package analyzer

import (
	"context"
	"time"

	"trustmarket/internal/model"
)

// 单平台信号的固定加分表，总分封顶 1.0
const (
	socialPointsFollowers100  = 0.15
	socialPointsFollowers1k   = 0.25
	socialPointsFollowers10k  = 0.35
	socialPointsPosts10       = 0.10
	socialPointsPosts50       = 0.15
	socialPointsAge30d        = 0.10
	socialPointsAge180d       = 0.15
	socialPointsAge365d       = 0.20
	socialPointsEngagement1pc = 0.10
	socialPointsEngagement5pc = 0.15
	socialPointsVerified      = 0.40
	socialPointsBusiness      = 0.15

	// 平台子分达到该阈值才算"已验证"，参与整体平均
	socialVerifiedThreshold = 0.5

	// 每多绑一个平台加 0.1，封顶 0.2
	socialCrossPlatformBonus    = 0.10
	socialCrossPlatformBonusCap = 0.20

	// 没有任何绑定账号时的保底分："未验证"不等于"欺诈"
	socialNoAccountFloor = 0.30
)

// AccountSource 绑定账号数据源
type AccountSource interface {
	ListByUserID(ctx context.Context, userID int64) ([]model.LinkedAccount, error)
}

// SocialVerificationAnalyzer 社交账号验证分析器
type SocialVerificationAnalyzer struct {
	accounts AccountSource
}

func NewSocialVerificationAnalyzer(accounts AccountSource) *SocialVerificationAnalyzer {
	return &SocialVerificationAnalyzer{accounts: accounts}
}

func (a *SocialVerificationAnalyzer) Kind() model.AnalyzerKind {
	return model.AnalyzerSocialVerification
}

func (a *SocialVerificationAnalyzer) Evaluate(ctx context.Context, subjectID int64) (model.PartialScore, error) {
	accounts, err := a.accounts.ListByUserID(ctx, subjectID)
	if err != nil {
		return model.FailedPartial(a.Kind(), "account_fetch_failed"), nil
	}

	if len(accounts) == 0 {
		return model.PartialScore{
			Source:      a.Kind(),
			Value:       socialNoAccountFloor,
			ComputedAt:  time.Now(),
			ReasonCodes: []string{"no_linked_accounts"},
		}, nil
	}

	now := time.Now()
	reasons := make([]string, 0, len(accounts))

	var verifiedSum float64
	var verifiedCount int
	for _, account := range accounts {
		subScore := platformScore(&account, now)
		if subScore >= socialVerifiedThreshold {
			verifiedSum += subScore
			verifiedCount++
			reasons = append(reasons, "verified_platform:"+account.Platform)
		} else {
			reasons = append(reasons, "weak_platform:"+account.Platform)
		}
	}

	if verifiedCount == 0 {
		return model.PartialScore{
			Source:      a.Kind(),
			Value:       socialNoAccountFloor,
			ComputedAt:  now,
			ReasonCodes: append(reasons, "no_verified_platforms"),
		}, nil
	}

	overall := verifiedSum / float64(verifiedCount)

	// 跨平台加成：多平台身份互相佐证
	if len(accounts) > 1 {
		bonus := socialCrossPlatformBonus * float64(len(accounts)-1)
		if bonus > socialCrossPlatformBonusCap {
			bonus = socialCrossPlatformBonusCap
		}
		overall += bonus
		reasons = append(reasons, "cross_platform_bonus")
	}

	return model.PartialScore{
		Source:      a.Kind(),
		Value:       clamp01(overall),
		ComputedAt:  now,
		ReasonCodes: reasons,
	}, nil
}

// platformScore 单平台子分：各信号固定加分，封顶 1.0
func platformScore(account *model.LinkedAccount, now time.Time) float64 {
	var score float64

	switch {
	case account.Followers >= 10000:
		score += socialPointsFollowers10k
	case account.Followers >= 1000:
		score += socialPointsFollowers1k
	case account.Followers >= 100:
		score += socialPointsFollowers100
	}

	switch {
	case account.Posts >= 50:
		score += socialPointsPosts50
	case account.Posts >= 10:
		score += socialPointsPosts10
	}

	if !account.AccountCreated.IsZero() {
		age := now.Sub(account.AccountCreated)
		switch {
		case age >= 365*24*time.Hour:
			score += socialPointsAge365d
		case age >= 180*24*time.Hour:
			score += socialPointsAge180d
		case age >= 30*24*time.Hour:
			score += socialPointsAge30d
		}
	}

	switch {
	case account.EngagementRate >= 0.05:
		score += socialPointsEngagement5pc
	case account.EngagementRate >= 0.01:
		score += socialPointsEngagement1pc
	}

	if account.Verified {
		score += socialPointsVerified
	}
	if account.Business {
		score += socialPointsBusiness
	}

	return clamp01(score)
}
