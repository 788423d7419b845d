package job

import (
	"context"
	"errors"
	"testing"

	"trustmarket/internal/model"
)

func TestOutboxSenderDeliversPending(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 3; i++ {
		msg := &model.OutboxMessage{
			MessageKey: "k",
			Topic:      "trust.score.updated",
			Payload:    `{"n":1}`,
			Status:     model.OutboxStatusPending,
		}
		if err := db.Create(msg).Error; err != nil {
			t.Fatalf("写入消息失败: %v", err)
		}
	}

	var delivered []string
	sender := NewOutboxSender(db, 3)
	sender.send = func(topic, key, value string) error {
		delivered = append(delivered, topic)
		return nil
	}

	if sent := sender.RunOnce(context.Background()); sent != 3 {
		t.Errorf("sent = %d, want 3", sent)
	}
	if len(delivered) != 3 {
		t.Errorf("投递次数 = %d, want 3", len(delivered))
	}

	var pending int64
	db.Model(&model.OutboxMessage{}).Where("status = ?", model.OutboxStatusPending).Count(&pending)
	if pending != 0 {
		t.Errorf("仍有 %d 条 PENDING", pending)
	}
}

func TestOutboxSenderRetriesAndFails(t *testing.T) {
	db := newTestDB(t)
	msg := &model.OutboxMessage{
		MessageKey: "k",
		Topic:      "trust.escrow.events",
		Payload:    `{}`,
		Status:     model.OutboxStatusPending,
	}
	if err := db.Create(msg).Error; err != nil {
		t.Fatalf("写入消息失败: %v", err)
	}

	sender := NewOutboxSender(db, 2)
	sender.send = func(topic, key, value string) error {
		return errors.New("broker down")
	}

	// 第一轮：重试计数 +1，仍然 PENDING
	sender.RunOnce(context.Background())
	var saved model.OutboxMessage
	db.First(&saved, msg.ID)
	if saved.Status != model.OutboxStatusPending || saved.RetryCount != 1 {
		t.Errorf("第一轮后 status=%s retry=%d, want PENDING/1", saved.Status, saved.RetryCount)
	}

	// 第二轮：达到上限标记 FAILED
	sender.RunOnce(context.Background())
	db.First(&saved, msg.ID)
	if saved.Status != model.OutboxStatusFailed {
		t.Errorf("第二轮后 status=%s, want FAILED", saved.Status)
	}
}
