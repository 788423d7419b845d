package job

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"trustmarket/internal/config"
	"trustmarket/internal/repository"
	"trustmarket/internal/service"

	"gorm.io/gorm"
)

// 三个调度族各自独立的节拍和陈旧度阈值
const (
	FamilyComposite  = "composite"  // 综合信任分重算
	FamilyLegitimacy = "legitimacy" // 账号合法性巡检
	FamilyBehavior   = "behavior"   // 行为模式巡检
)

// ScoreJob 评分调度任务
//
// 每个调度族有独立的 ticker 和执行守卫：上一轮没跑完时本轮直接跳过，
// 慢批次绝不堆积。族之间互不影响，合法性巡检卡住不耽误综合分重算。
type ScoreJob struct {
	userRepo      *repository.UserRepository
	scoreService  *service.ScoreService
	socialService *service.SocialService
	families      map[string]config.FamilyConfig

	inProgress map[string]*int32
	stopCh     chan struct{}
}

func NewScoreJob(
	db *gorm.DB,
	scoreService *service.ScoreService,
	socialService *service.SocialService,
	cfg *config.ScoringConfig,
) *ScoreJob {
	inProgress := map[string]*int32{
		FamilyComposite:  new(int32),
		FamilyLegitimacy: new(int32),
		FamilyBehavior:   new(int32),
	}
	return &ScoreJob{
		userRepo:      repository.NewUserRepository(db),
		scoreService:  scoreService,
		socialService: socialService,
		families:      cfg.Families,
		inProgress:    inProgress,
		stopCh:        make(chan struct{}),
	}
}

func (j *ScoreJob) Start() {
	for family := range j.inProgress {
		go j.loop(family)
	}
}

func (j *ScoreJob) Stop() {
	close(j.stopCh)
}

func (j *ScoreJob) loop(family string) {
	familyCfg := j.families[family]
	ticker := time.NewTicker(familyCfg.Interval())
	defer ticker.Stop()

	log.Printf("评分调度族启动: family=%s, interval=%s", family, familyCfg.Interval())
	for {
		select {
		case <-j.stopCh:
			log.Printf("评分调度族停止: family=%s", family)
			return
		case <-ticker.C:
			if _, err := j.RunOnce(context.Background(), family); err != nil {
				log.Printf("评分调度执行失败: family=%s, err=%v", family, err)
			}
		}
	}
}

// RunOnce 执行一轮调度，返回本轮处理的主体数
// 同族上一轮未结束时直接跳过（返回 0），不同族可以并发
func (j *ScoreJob) RunOnce(ctx context.Context, family string) (int, error) {
	guard, ok := j.inProgress[family]
	if !ok {
		return 0, nil
	}
	if !atomic.CompareAndSwapInt32(guard, 0, 1) {
		log.Printf("上一轮评分调度尚未结束，跳过本轮: family=%s", family)
		return 0, nil
	}
	defer atomic.StoreInt32(guard, 0)

	familyCfg := j.families[family]
	batchSize := familyCfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	workers := familyCfg.Workers
	if workers <= 0 {
		workers = 4
	}

	subjectIDs, err := j.listStale(ctx, family, time.Now().Add(-familyCfg.Staleness()), batchSize)
	if err != nil {
		return 0, err
	}
	if len(subjectIDs) == 0 {
		return 0, nil
	}

	// 信号量限制并发，单个主体失败只记日志不中断批次
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var processed int32
	for _, subjectID := range subjectIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(id int64) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := j.runOne(ctx, family, id); err != nil {
				log.Printf("主体评估失败: family=%s, subjectID=%d, err=%v", family, id, err)
				return
			}
			atomic.AddInt32(&processed, 1)
		}(subjectID)
	}
	wg.Wait()

	log.Printf("评分调度完成: family=%s, 候选=%d, 成功=%d", family, len(subjectIDs), processed)
	return int(processed), nil
}

func (j *ScoreJob) listStale(ctx context.Context, family string, before time.Time, limit int) ([]int64, error) {
	switch family {
	case FamilyComposite:
		return j.userRepo.ListStaleScoreCheck(ctx, before, limit)
	case FamilyLegitimacy:
		return j.userRepo.ListStaleLegitimacyCheck(ctx, before, limit)
	case FamilyBehavior:
		return j.userRepo.ListStaleBehaviorCheck(ctx, before, limit)
	}
	return nil, nil
}

func (j *ScoreJob) runOne(ctx context.Context, family string, subjectID int64) error {
	switch family {
	case FamilyComposite:
		_, err := j.scoreService.ComputeScore(ctx, subjectID)
		return err
	case FamilyLegitimacy:
		_, err := j.socialService.EvaluateLegitimacy(ctx, subjectID)
		return err
	case FamilyBehavior:
		_, err := j.socialService.EvaluateBehavior(ctx, subjectID)
		return err
	}
	return nil
}
