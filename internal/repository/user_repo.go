package repository

import (
	"context"
	"errors"
	"time"

	"trustmarket/internal/model"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound = errors.New("用户不存在")
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *UserRepository) GetByID(ctx context.Context, userID int64) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) IncrementLoginCount(ctx context.Context, userID int64) error {
	result := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", userID).
		UpdateColumn("login_count", gorm.Expr("login_count + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateProfile 更新资料并累计变更次数，供行为分析器识别资料频繁变更
func (r *UserRepository) UpdateProfile(ctx context.Context, userID int64, walletAddress string) error {
	result := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"wallet_address":       walletAddress,
			"profile_update_count": gorm.Expr("profile_update_count + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// listStale 查询某个检查列为空或早于 before 的活跃用户ID
func (r *UserRepository) listStale(ctx context.Context, column string, before time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("status = ?", model.UserStatusActive).
		Where(column+" IS NULL OR "+column+" < ?", before).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *UserRepository) ListStaleScoreCheck(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	return r.listStale(ctx, "last_score_check", before, limit)
}

func (r *UserRepository) ListStaleLegitimacyCheck(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	return r.listStale(ctx, "last_legitimacy_check", before, limit)
}

func (r *UserRepository) ListStaleBehaviorCheck(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	return r.listStale(ctx, "last_behavior_check", before, limit)
}

func (r *UserRepository) touch(ctx context.Context, userID int64, column string) error {
	return r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", userID).
		UpdateColumn(column, time.Now()).Error
}

func (r *UserRepository) TouchScoreCheck(ctx context.Context, userID int64) error {
	return r.touch(ctx, userID, "last_score_check")
}

func (r *UserRepository) TouchLegitimacyCheck(ctx context.Context, userID int64) error {
	return r.touch(ctx, userID, "last_legitimacy_check")
}

func (r *UserRepository) TouchBehaviorCheck(ctx context.Context, userID int64) error {
	return r.touch(ctx, userID, "last_behavior_check")
}
