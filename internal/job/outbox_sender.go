package job

import (
	"context"
	"log"
	"time"

	"trustmarket/internal/infrastructure/mq"
	"trustmarket/internal/model"
	"trustmarket/internal/repository"

	"gorm.io/gorm"
)

// OutboxSender 发件箱投递任务
// 扫描 PENDING 消息投递到 Kafka，投递成功标记 SENT，
// 失败累加重试次数，超过上限标记 FAILED 等人工介入
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	interval   time.Duration
	batchSize  int
	maxRetry   int
	stopCh     chan struct{}

	// 投递函数，默认走 Kafka，测试时替换
	send func(topic, key, value string) error
}

func NewOutboxSender(db *gorm.DB, maxRetry int) *OutboxSender {
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		interval:   5 * time.Second,
		batchSize:  100,
		maxRetry:   maxRetry,
		stopCh:     make(chan struct{}),
		send:       mq.SendMessage,
	}
}

func (s *OutboxSender) Start() {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		log.Println("发件箱投递任务启动")
		for {
			select {
			case <-s.stopCh:
				log.Println("发件箱投递任务停止")
				return
			case <-ticker.C:
				s.RunOnce(context.Background())
			}
		}
	}()
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// RunOnce 投递一批待发送消息，返回成功投递的条数
func (s *OutboxSender) RunOnce(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		log.Printf("查询待投递消息失败: %v", err)
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if err := s.send(msg.Topic, msg.MessageKey, msg.Payload); err != nil {
			log.Printf("投递消息失败: id=%d, topic=%s, err=%v", msg.ID, msg.Topic, err)
			if msg.RetryCount+1 >= s.maxRetry {
				if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
					log.Printf("标记消息失败状态出错: id=%d, err=%v", msg.ID, err)
				}
			} else if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
				log.Printf("累加重试次数失败: id=%d, err=%v", msg.ID, err)
			}
			continue
		}

		if err := s.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); err != nil {
			// 消息已经发出去了，状态没更新会导致重复投递，消费端需要幂等
			log.Printf("标记消息已发送失败: id=%d, err=%v", msg.ID, err)
			continue
		}
		sent++
	}
	return sent
}
