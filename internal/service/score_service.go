package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"trustmarket/internal/analyzer"
	"trustmarket/internal/config"
	"trustmarket/internal/model"
	"trustmarket/internal/repository"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const (
	scoreCacheKeyPrefix = "trust:score:"
	scoreCacheTTL       = 10 * time.Minute

	// 所有分析器都失败时的兜底分，避免评分覆盖被一次故障清空
	scoreAllFailedFallback = 0.5
)

// ScoreService 综合信任分服务
// 并发扇出全部分析器，按权重聚合，结果和历史在同一事务内落库
type ScoreService struct {
	db        *gorm.DB
	redis     *redis.Client
	analyzers []analyzer.Analyzer
	weights   map[string]float64
	timeout   time.Duration

	userRepo   *repository.UserRepository
	scoreRepo  *repository.ScoreRepository
	outboxRepo *repository.OutboxRepository
	scoreTopic string
}

func NewScoreService(
	db *gorm.DB,
	redisClient *redis.Client,
	analyzers []analyzer.Analyzer,
	cfg *config.Config,
) *ScoreService {
	return &ScoreService{
		db:         db,
		redis:      redisClient,
		analyzers:  analyzers,
		weights:    cfg.Scoring.Weights,
		timeout:    cfg.Scoring.AnalyzerTimeout(),
		userRepo:   repository.NewUserRepository(db),
		scoreRepo:  repository.NewScoreRepository(db),
		outboxRepo: repository.NewOutboxRepository(db),
		scoreTopic: cfg.Kafka.Topic.ScoreUpdated,
	}
}

// ComputeScore 重算主体综合信任分
//
// 流程：
// 1. 并发执行全部分析器，单个超时/失败转成 failed 分项
// 2. 对非失败分项做权重归一化的加权平均
// 3. 评分覆盖、历史追加、评分更新事件在同一事务内提交
func (s *ScoreService) ComputeScore(ctx context.Context, subjectID int64) (*model.TrustScore, error) {
	user, err := s.userRepo.GetByID(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	partials := s.fanOut(ctx, subjectID)
	value, breakdown := AggregateScore(partials, s.weights)

	now := time.Now()
	score := &model.TrustScore{
		SubjectID:      user.ID,
		OverallValue:   value,
		Tier:           model.SellerTierOf(value).String(),
		ReputationTier: model.ReputationTierOf(value).String(),
		ComputedAt:     now,
	}
	if err := score.SetBreakdown(breakdown); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.scoreRepo.Upsert(ctx, tx, score); err != nil {
			return err
		}
		history := &model.ScoreHistory{
			SubjectID:    score.SubjectID,
			OverallValue: score.OverallValue,
			Tier:         score.Tier,
			Breakdown:    score.Breakdown,
			ComputedAt:   now,
		}
		if err := s.scoreRepo.AppendHistory(ctx, tx, history); err != nil {
			return err
		}
		return s.appendScoreEvent(ctx, tx, score)
	})
	if err != nil {
		return nil, fmt.Errorf("评分结果落库失败: %w", err)
	}

	if err := s.userRepo.TouchScoreCheck(ctx, subjectID); err != nil {
		log.Printf("更新评分检查时间失败: subjectID=%d, err=%v", subjectID, err)
	}
	s.cacheScore(ctx, score)

	return score, nil
}

// fanOut 并发执行全部分析器，结果按固定顺序返回
// 单个分析器超时/崩溃不影响其他分析器，超时的按失败分项处理
func (s *ScoreService) fanOut(ctx context.Context, subjectID int64) []model.PartialScore {
	partials := make([]model.PartialScore, len(s.analyzers))

	var wg sync.WaitGroup
	for i, a := range s.analyzers {
		wg.Add(1)
		go func(idx int, a analyzer.Analyzer) {
			defer wg.Done()
			partials[idx] = s.runAnalyzer(ctx, a, subjectID)
		}(i, a)
	}
	wg.Wait()

	return partials
}

// runAnalyzer 带超时执行单个分析器
// 分析器自身应当响应 ctx，这里的 select 是对不守约分析器的兜底，
// 超时后内部 goroutine 写入带缓冲的通道后自然退出，不会泄漏
func (s *ScoreService) runAnalyzer(ctx context.Context, a analyzer.Analyzer, subjectID int64) model.PartialScore {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan model.PartialScore, 1)
	go func() {
		partial, err := a.Evaluate(ctx, subjectID)
		if err != nil {
			partial = model.FailedPartial(a.Kind(), "analyzer_error")
		}
		done <- partial
	}()

	select {
	case partial := <-done:
		return partial
	case <-ctx.Done():
		log.Printf("分析器执行超时: kind=%s, subjectID=%d", a.Kind(), subjectID)
		return model.FailedPartial(a.Kind(), "analyzer_timeout")
	}
}

// AggregateScore 加权聚合各分析器结果
//
// 失败的分项从分子和分母同时剔除，剩余权重重新归一化，
// 绝不把失败当 0 分：一次数据源抖动不应该把主体打成最低档。
// 全部失败时返回兜底中性分。
func AggregateScore(partials []model.PartialScore, weights map[string]float64) (float64, map[model.AnalyzerKind]model.PartialScore) {
	breakdown := make(map[model.AnalyzerKind]model.PartialScore, len(partials))

	var weightSum, weighted float64
	for _, p := range partials {
		p.Weight = weights[string(p.Source)]
		breakdown[p.Source] = p

		if p.Failed || p.Weight <= 0 {
			continue
		}
		weightSum += p.Weight
		weighted += p.Value * p.Weight
	}

	if weightSum == 0 {
		return scoreAllFailedFallback, breakdown
	}
	return weighted / weightSum, breakdown
}

// appendScoreEvent 评分更新事件随评分事务一起写入发件箱
func (s *ScoreService) appendScoreEvent(ctx context.Context, tx *gorm.DB, score *model.TrustScore) error {
	payload, err := json.Marshal(map[string]interface{}{
		"subject_id":      score.SubjectID,
		"overall_value":   score.OverallValue,
		"tier":            score.Tier,
		"reputation_tier": score.ReputationTier,
		"computed_at":     score.ComputedAt,
	})
	if err != nil {
		return err
	}
	msg := &model.OutboxMessage{
		MessageKey: fmt.Sprintf("%d", score.SubjectID),
		Topic:      s.scoreTopic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	return s.outboxRepo.Create(ctx, tx, msg)
}

// GetScore 查询主体当前信任分，优先走缓存
func (s *ScoreService) GetScore(ctx context.Context, subjectID int64) (*model.TrustScore, error) {
	if cached := s.getCachedScore(ctx, subjectID); cached != nil {
		return cached, nil
	}

	score, err := s.scoreRepo.GetBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	s.cacheScore(ctx, score)
	return score, nil
}

// GetTopSubjects 按综合分倒序返回前 N 个主体
func (s *ScoreService) GetTopSubjects(ctx context.Context, limit int) ([]model.TrustScore, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.scoreRepo.TopSubjects(ctx, limit)
}

// GetScoreHistory 查询主体的评分历史
func (s *ScoreService) GetScoreHistory(ctx context.Context, subjectID int64, limit int) ([]model.ScoreHistory, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.scoreRepo.ListHistory(ctx, subjectID, limit)
}

func (s *ScoreService) cacheScore(ctx context.Context, score *model.TrustScore) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(score)
	if err != nil {
		return
	}
	key := fmt.Sprintf("%s%d", scoreCacheKeyPrefix, score.SubjectID)
	if err := s.redis.Set(ctx, key, data, scoreCacheTTL).Err(); err != nil {
		log.Printf("写入评分缓存失败: subjectID=%d, err=%v", score.SubjectID, err)
	}
}

func (s *ScoreService) getCachedScore(ctx context.Context, subjectID int64) *model.TrustScore {
	if s.redis == nil {
		return nil
	}
	key := fmt.Sprintf("%s%d", scoreCacheKeyPrefix, subjectID)
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("读取评分缓存失败: subjectID=%d, err=%v", subjectID, err)
		}
		return nil
	}
	var score model.TrustScore
	if err := json.Unmarshal(data, &score); err != nil {
		return nil
	}
	return &score
}
