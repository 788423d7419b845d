package platform

import (
	"context"
	"hash/fnv"
	"time"

	"trustmarket/internal/analyzer"
	"trustmarket/internal/model"
)

// SimulatedFetcher SnapshotFetcher 的本地模拟实现
//
// 平台方的开放接口需要逐个申请配额，开发/联调环境直接基于库内账号
// 数据做确定性漂移：同一账号在同一小时内拉到的快照完全一致，
// 跨小时有小幅波动，足够驱动合法性分析器的差分逻辑
type SimulatedFetcher struct{}

var _ analyzer.SnapshotFetcher = (*SimulatedFetcher)(nil)

func NewSimulatedFetcher() *SimulatedFetcher {
	return &SimulatedFetcher{}
}

func (f *SimulatedFetcher) Fetch(ctx context.Context, account *model.LinkedAccount) (*model.AccountSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	drift := driftFactor(account.ID, now)

	followers := account.Followers + int64(float64(account.Followers)*drift*0.02)
	posts := account.Posts
	if drift > 0.5 {
		posts++
	}

	return &model.AccountSnapshot{
		AccountID:      account.ID,
		Followers:      followers,
		Posts:          posts,
		EngagementRate: account.EngagementRate * (1 + drift*0.05),
		Verified:       account.Verified,
		Business:       account.Business,
		TakenAt:        now,
	}, nil
}

// driftFactor [-1,1] 区间的确定性扰动，按账号和小时取哈希
func driftFactor(accountID int64, now time.Time) float64 {
	h := fnv.New64a()
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(accountID >> (8 * i))
	}
	hour := now.Unix() / 3600
	for i := 0; i < 8; i++ {
		buf[8+i] = byte(hour >> (8 * i))
	}
	h.Write(buf[:])
	return float64(h.Sum64()%2001)/1000 - 1
}
