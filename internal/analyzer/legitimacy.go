package analyzer

import (
	"context"
	"log"
	"math"
	"time"

	"trustmarket/internal/model"
)

// 合法性扣分表：从 1.0 起步，命中异常信号逐项扣减
const (
	legitimacyPenaltyFollowerSwing = 0.30 // 粉丝数两次快照间波动超过 50%
	legitimacyPenaltyPostBurst     = 0.20 // 短期内突击发帖超过 10 条
	legitimacyPenaltyLowEngagement = 0.20 // 互动率低于 0.5%，疑似买粉
	legitimacyPenaltyVerifiedFlip  = 0.25 // 平台认证被撤销
	legitimacyPenaltyProfileChange = 0.10 // 账号类型变更

	legitimacyFollowerSwingRatio = 0.50
	legitimacyPostBurstCount     = 10
	legitimacyLowEngagementRate  = 0.005

	// 认证/企业账号的加成，合计封顶 0.2
	legitimacyBonusVerified = 0.10
	legitimacyBonusBusiness = 0.10

	// 没有绑定账号时给中性分：无数据不是异常信号
	legitimacyNoAccountNeutral = 0.50
)

// SnapshotStore 账号快照的读写
type SnapshotStore interface {
	GetLatestSnapshot(ctx context.Context, accountID int64) (*model.AccountSnapshot, error)
	CreateSnapshot(ctx context.Context, snapshot *model.AccountSnapshot) error
}

// SnapshotFetcher 从平台侧拉取账号的最新状态
type SnapshotFetcher interface {
	Fetch(ctx context.Context, account *model.LinkedAccount) (*model.AccountSnapshot, error)
}

// LegitimacyAnalyzer 账号合法性分析器
// 拉取平台侧最新快照，与库内最近一条快照做差分，识别异常波动，
// 并把新快照落库供下一轮对比
type LegitimacyAnalyzer struct {
	accounts  AccountSource
	snapshots SnapshotStore
	fetcher   SnapshotFetcher
}

func NewLegitimacyAnalyzer(accounts AccountSource, snapshots SnapshotStore, fetcher SnapshotFetcher) *LegitimacyAnalyzer {
	return &LegitimacyAnalyzer{accounts: accounts, snapshots: snapshots, fetcher: fetcher}
}

func (a *LegitimacyAnalyzer) Kind() model.AnalyzerKind {
	return model.AnalyzerLegitimacy
}

func (a *LegitimacyAnalyzer) Evaluate(ctx context.Context, subjectID int64) (model.PartialScore, error) {
	accounts, err := a.accounts.ListByUserID(ctx, subjectID)
	if err != nil {
		return model.FailedPartial(a.Kind(), "account_fetch_failed"), nil
	}

	now := time.Now()
	if len(accounts) == 0 {
		return model.PartialScore{
			Source:      a.Kind(),
			Value:       legitimacyNoAccountNeutral,
			ComputedAt:  now,
			ReasonCodes: []string{"no_linked_accounts"},
		}, nil
	}

	var sum float64
	var evaluated int
	reasons := make([]string, 0, 4)

	for i := range accounts {
		account := &accounts[i]

		fresh, err := a.fetcher.Fetch(ctx, account)
		if err != nil {
			// 单个平台拉取失败只跳过该账号，全挂才算分析器失败
			log.Printf("拉取账号快照失败: accountID=%d, platform=%s, err=%v", account.ID, account.Platform, err)
			continue
		}

		prev, err := a.snapshots.GetLatestSnapshot(ctx, account.ID)
		if err != nil {
			return model.FailedPartial(a.Kind(), "snapshot_fetch_failed"), nil
		}

		score, accountReasons := a.scoreAccount(account, prev, fresh)
		sum += score
		evaluated++
		reasons = append(reasons, accountReasons...)

		if err := a.snapshots.CreateSnapshot(ctx, fresh); err != nil {
			// 快照落库失败不影响本轮评分，下一轮差分会退化成"无历史"
			log.Printf("保存账号快照失败: accountID=%d, err=%v", account.ID, err)
		}
	}

	if evaluated == 0 {
		return model.FailedPartial(a.Kind(), "all_platform_fetch_failed"), nil
	}

	return model.PartialScore{
		Source:      a.Kind(),
		Value:       clamp01(sum / float64(evaluated)),
		ComputedAt:  now,
		ReasonCodes: reasons,
	}, nil
}

// scoreAccount 单账号合法性打分，prev 为 nil 时只看当前状态
func (a *LegitimacyAnalyzer) scoreAccount(account *model.LinkedAccount, prev *model.AccountSnapshot, fresh *model.AccountSnapshot) (float64, []string) {
	score := 1.0
	var reasons []string

	if prev != nil {
		if prev.Followers > 0 {
			swing := math.Abs(float64(fresh.Followers-prev.Followers)) / float64(prev.Followers)
			if swing > legitimacyFollowerSwingRatio {
				score -= legitimacyPenaltyFollowerSwing
				reasons = append(reasons, "follower_swing:"+account.Platform)
			}
		}

		if fresh.Posts-prev.Posts > legitimacyPostBurstCount {
			score -= legitimacyPenaltyPostBurst
			reasons = append(reasons, "post_burst:"+account.Platform)
		}

		if prev.Verified && !fresh.Verified {
			score -= legitimacyPenaltyVerifiedFlip
			reasons = append(reasons, "verified_revoked:"+account.Platform)
		}

		if prev.Business != fresh.Business {
			score -= legitimacyPenaltyProfileChange
			reasons = append(reasons, "profile_type_changed:"+account.Platform)
		}
	}

	if fresh.Followers > 0 && fresh.EngagementRate < legitimacyLowEngagementRate {
		score -= legitimacyPenaltyLowEngagement
		reasons = append(reasons, "low_engagement:"+account.Platform)
	}

	var bonus float64
	if fresh.Verified {
		bonus += legitimacyBonusVerified
	}
	if fresh.Business {
		bonus += legitimacyBonusBusiness
	}
	score += bonus

	return clamp01(score), reasons
}
