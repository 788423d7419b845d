package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"trustmarket/internal/analyzer"
	"trustmarket/internal/model"
	"trustmarket/internal/repository"

	"gorm.io/gorm"
)

var validPlatforms = map[string]bool{
	model.PlatformInstagram: true,
	model.PlatformFacebook:  true,
	model.PlatformTwitter:   true,
	model.PlatformTiktok:    true,
}

// LinkAccountRequest 绑定社交账号请求
type LinkAccountRequest struct {
	UserID         int64     `json:"user_id" binding:"required"`
	Platform       string    `json:"platform" binding:"required"`
	PlatformUserID string    `json:"platform_user_id" binding:"required"`
	DisplayName    string    `json:"display_name"`
	Followers      int64     `json:"followers"`
	Posts          int64     `json:"posts"`
	EngagementRate float64   `json:"engagement_rate"`
	Verified       bool      `json:"verified"`
	Business       bool      `json:"business"`
	AccountCreated time.Time `json:"account_created"`
	AccessToken    string    `json:"access_token"`
	RawPayload     string    `json:"raw_payload"`
}

// SocialService 社交账号绑定与单项评估
type SocialService struct {
	db          *gorm.DB
	userRepo    *repository.UserRepository
	accountRepo *repository.LinkedAccountRepository

	legitimacy *analyzer.LegitimacyAnalyzer
	behavior   *analyzer.BehaviorAnalyzer
}

func NewSocialService(
	db *gorm.DB,
	legitimacy *analyzer.LegitimacyAnalyzer,
	behavior *analyzer.BehaviorAnalyzer,
) *SocialService {
	return &SocialService{
		db:          db,
		userRepo:    repository.NewUserRepository(db),
		accountRepo: repository.NewLinkedAccountRepository(db),
		legitimacy:  legitimacy,
		behavior:    behavior,
	}
}

// LinkAccount 绑定社交账号
// 同一 (用户, 平台) 重复绑定直接覆盖，并立即落一条基线快照供差分
func (s *SocialService) LinkAccount(ctx context.Context, req *LinkAccountRequest) (*model.LinkedAccount, error) {
	if !validPlatforms[req.Platform] {
		return nil, fmt.Errorf("%w: 不支持的平台 %s", ErrValidationFailed, req.Platform)
	}
	if req.Followers < 0 || req.Posts < 0 || req.EngagementRate < 0 {
		return nil, fmt.Errorf("%w: 账号指标不能为负数", ErrValidationFailed)
	}

	if _, err := s.userRepo.GetByID(ctx, req.UserID); err != nil {
		return nil, err
	}

	account := &model.LinkedAccount{
		UserID:         req.UserID,
		Platform:       req.Platform,
		PlatformUserID: req.PlatformUserID,
		DisplayName:    req.DisplayName,
		Followers:      req.Followers,
		Posts:          req.Posts,
		EngagementRate: req.EngagementRate,
		Verified:       req.Verified,
		Business:       req.Business,
		AccountCreated: req.AccountCreated,
		AccessToken:    req.AccessToken,
		RawPayload:     req.RawPayload,
	}
	if err := s.accountRepo.Upsert(ctx, account); err != nil {
		return nil, fmt.Errorf("绑定社交账号失败: %w", err)
	}

	// 覆盖绑定时 Upsert 不回填 ID，按 (用户, 平台) 再查一次
	saved, err := s.accountRepo.GetByUserAndPlatform(ctx, req.UserID, req.Platform)
	if err != nil {
		return nil, err
	}

	snapshot := &model.AccountSnapshot{
		AccountID:      saved.ID,
		Followers:      saved.Followers,
		Posts:          saved.Posts,
		EngagementRate: saved.EngagementRate,
		Verified:       saved.Verified,
		Business:       saved.Business,
		TakenAt:        time.Now(),
	}
	if err := s.accountRepo.CreateSnapshot(ctx, snapshot); err != nil {
		// 基线快照丢失只影响第一轮差分，不阻断绑定
		log.Printf("写入基线快照失败: accountID=%d, err=%v", saved.ID, err)
	}

	return saved, nil
}

// GetLinkedAccounts 查询用户绑定的全部社交账号
func (s *SocialService) GetLinkedAccounts(ctx context.Context, userID int64) ([]model.LinkedAccount, error) {
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	return s.accountRepo.ListByUserID(ctx, userID)
}

// UnlinkAccount 解绑社交账号，历史快照保留作审计
func (s *SocialService) UnlinkAccount(ctx context.Context, userID int64, platform string) error {
	if !validPlatforms[platform] {
		return fmt.Errorf("%w: 不支持的平台 %s", ErrValidationFailed, platform)
	}
	return s.accountRepo.Delete(ctx, userID, platform)
}

// EvaluateLegitimacy 单独执行合法性分析
// 调度族独立触发，结果不落综合分，只更新该族的检查时间
func (s *SocialService) EvaluateLegitimacy(ctx context.Context, userID int64) (model.PartialScore, error) {
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return model.PartialScore{}, err
	}

	partial, err := s.legitimacy.Evaluate(ctx, userID)
	if err != nil {
		return model.PartialScore{}, err
	}

	if err := s.userRepo.TouchLegitimacyCheck(ctx, userID); err != nil {
		log.Printf("更新合法性检查时间失败: userID=%d, err=%v", userID, err)
	}
	return partial, nil
}

// EvaluateBehavior 单独执行行为分析
func (s *SocialService) EvaluateBehavior(ctx context.Context, userID int64) (model.PartialScore, error) {
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return model.PartialScore{}, err
	}

	partial, err := s.behavior.Evaluate(ctx, userID)
	if err != nil {
		return model.PartialScore{}, err
	}

	if err := s.userRepo.TouchBehaviorCheck(ctx, userID); err != nil {
		log.Printf("更新行为检查时间失败: userID=%d, err=%v", userID, err)
	}
	return partial, nil
}
