package analyzer

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"trustmarket/internal/model"
)

type stubAccountSource struct {
	accounts []model.LinkedAccount
	err      error
}

func (s *stubAccountSource) ListByUserID(ctx context.Context, userID int64) ([]model.LinkedAccount, error) {
	return s.accounts, s.err
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestSocialVerificationTwoPlatforms(t *testing.T) {
	// Instagram 子分 0.60：粉丝 1w(+0.35) + 帖子 50(+0.15) + 互动率 1%(+0.10)
	// Facebook 子分 0.55：粉丝 100(+0.15) + 平台认证(+0.40)
	// 两个平台都过验证线，均值 0.575 + 跨平台加成 0.1 = 0.675
	source := &stubAccountSource{accounts: []model.LinkedAccount{
		{ID: 1, Platform: model.PlatformInstagram, Followers: 10000, Posts: 50, EngagementRate: 0.01},
		{ID: 2, Platform: model.PlatformFacebook, Followers: 100, Verified: true},
	}}
	a := NewSocialVerificationAnalyzer(source)

	partial, err := a.Evaluate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if partial.Failed {
		t.Fatal("不应该失败")
	}
	if !almostEqual(partial.Value, 0.675) {
		t.Errorf("Value = %v, want 0.675", partial.Value)
	}
}

func TestSocialVerificationNoAccounts(t *testing.T) {
	a := NewSocialVerificationAnalyzer(&stubAccountSource{})

	partial, err := a.Evaluate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	// 未绑定账号给保底分，不按失败处理
	if partial.Failed {
		t.Fatal("无账号不是失败")
	}
	if !almostEqual(partial.Value, socialNoAccountFloor) {
		t.Errorf("Value = %v, want %v", partial.Value, socialNoAccountFloor)
	}
}

func TestSocialVerificationWeakPlatformsOnly(t *testing.T) {
	source := &stubAccountSource{accounts: []model.LinkedAccount{
		{ID: 1, Platform: model.PlatformTwitter, Followers: 10, Posts: 1},
	}}
	a := NewSocialVerificationAnalyzer(source)

	partial, err := a.Evaluate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !almostEqual(partial.Value, socialNoAccountFloor) {
		t.Errorf("Value = %v, want %v", partial.Value, socialNoAccountFloor)
	}
}

func TestSocialVerificationFetchError(t *testing.T) {
	a := NewSocialVerificationAnalyzer(&stubAccountSource{err: errors.New("db down")})

	partial, err := a.Evaluate(context.Background(), 1)
	if err != nil {
		t.Fatalf("数据源错误不向上抛: %v", err)
	}
	if !partial.Failed {
		t.Fatal("数据源错误应转成失败分项")
	}
}

func TestPlatformScoreCapped(t *testing.T) {
	account := &model.LinkedAccount{
		Followers:      100000,
		Posts:          500,
		EngagementRate: 0.1,
		Verified:       true,
		Business:       true,
		AccountCreated: time.Now().Add(-2 * 365 * 24 * time.Hour),
	}
	if got := platformScore(account, time.Now()); got != 1.0 {
		t.Errorf("platformScore = %v, want 封顶 1.0", got)
	}
}
