package repository

import (
	"context"
	"errors"

	"trustmarket/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound = errors.New("绑定账号不存在")
)

type LinkedAccountRepository struct {
	db *gorm.DB
}

func NewLinkedAccountRepository(db *gorm.DB) *LinkedAccountRepository {
	return &LinkedAccountRepository{db: db}
}

// Upsert 绑定账号，同一 (user_id, platform) 重新绑定时整行覆盖
func (r *LinkedAccountRepository) Upsert(ctx context.Context, account *model.LinkedAccount) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "platform"}},
			UpdateAll: true,
		}).
		Create(account).Error
}

func (r *LinkedAccountRepository) ListByUserID(ctx context.Context, userID int64) ([]model.LinkedAccount, error) {
	var accounts []model.LinkedAccount
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("platform ASC").
		Find(&accounts).Error
	return accounts, err
}

func (r *LinkedAccountRepository) GetByUserAndPlatform(ctx context.Context, userID int64, platform string) (*model.LinkedAccount, error) {
	var account model.LinkedAccount
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND platform = ?", userID, platform).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *LinkedAccountRepository) Delete(ctx context.Context, userID int64, platform string) error {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND platform = ?", userID, platform).
		Delete(&model.LinkedAccount{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ============================================================
// 账号快照（合法性分析的差分基准）
// ============================================================

func (r *LinkedAccountRepository) CreateSnapshot(ctx context.Context, snapshot *model.AccountSnapshot) error {
	return r.db.WithContext(ctx).Create(snapshot).Error
}

// GetLatestSnapshot 取最近一条快照，没有历史快照时返回 nil
func (r *LinkedAccountRepository) GetLatestSnapshot(ctx context.Context, accountID int64) (*model.AccountSnapshot, error) {
	var snapshot model.AccountSnapshot
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("taken_at DESC").
		First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &snapshot, nil
}
