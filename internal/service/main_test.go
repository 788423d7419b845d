package service

import (
	"testing"

	"trustmarket/internal/config"
	"trustmarket/internal/model"
	"trustmarket/pkg/idgen"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	idgen.Init(1)
}

// newTestDB 内存 sqlite，限制单连接避免 :memory: 多连接各开一个库
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("获取底层连接失败: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&model.User{},
		&model.LinkedAccount{},
		&model.AccountSnapshot{},
		&model.Product{},
		&model.EscrowOrder{},
		&model.EscrowTransaction{},
		&model.TrustScore{},
		&model.ScoreHistory{},
		&model.OutboxMessage{},
	); err != nil {
		t.Fatalf("建表失败: %v", err)
	}
	return db
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				ScoreUpdated:   "trust.score.updated",
				EscrowEvents:   "trust.escrow.events",
				ReconcileAlert: "trust.escrow.reconcile",
			},
		},
		Business: config.BusinessConfig{
			ReleaseAfterSeconds: 604800,
			StuckOrderMinutes:   10,
			MaxRetryCount:       5,
		},
		Scoring: config.ScoringConfig{
			AnalyzerTimeoutSec: 1,
			Weights: map[string]float64{
				"social_verification": 0.20,
				"legitimacy":          0.15,
				"behavior":            0.20,
				"fraud":               0.20,
				"transaction_history": 0.15,
				"product_quality":     0.10,
			},
		},
	}
}
