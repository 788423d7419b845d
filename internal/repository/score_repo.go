package repository

import (
	"context"
	"errors"

	"trustmarket/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrScoreNotFound = errors.New("信任分不存在")
)

type ScoreRepository struct {
	db *gorm.DB
}

func NewScoreRepository(db *gorm.DB) *ScoreRepository {
	return &ScoreRepository{db: db}
}

// Upsert 写入主体当前综合分
//
// 【关键点】单行 upsert，综合分绝不允许出现半写状态，
// 分项明细与总分在同一行内原子落库
func (r *ScoreRepository) Upsert(ctx context.Context, tx *gorm.DB, score *model.TrustScore) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "subject_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"overall_value", "tier", "reputation_tier", "breakdown", "computed_at", "updated_at",
			}),
		}).
		Create(score).Error
}

// AppendHistory 追加评分历史（审计用）
func (r *ScoreRepository) AppendHistory(ctx context.Context, tx *gorm.DB, history *model.ScoreHistory) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(history).Error
}

func (r *ScoreRepository) GetBySubject(ctx context.Context, subjectID int64) (*model.TrustScore, error) {
	var score model.TrustScore
	err := r.db.WithContext(ctx).Where("subject_id = ?", subjectID).First(&score).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrScoreNotFound
		}
		return nil, err
	}
	return &score, nil
}

// TopSubjects 综合分排行
func (r *ScoreRepository) TopSubjects(ctx context.Context, limit int) ([]model.TrustScore, error) {
	var scores []model.TrustScore
	err := r.db.WithContext(ctx).
		Order("overall_value DESC").
		Limit(limit).
		Find(&scores).Error
	return scores, err
}

func (r *ScoreRepository) ListHistory(ctx context.Context, subjectID int64, limit int) ([]model.ScoreHistory, error) {
	var history []model.ScoreHistory
	err := r.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("computed_at DESC").
		Limit(limit).
		Find(&history).Error
	return history, err
}
