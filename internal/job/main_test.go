package job

import (
	"testing"

	"trustmarket/internal/config"
	"trustmarket/internal/model"
	"trustmarket/pkg/idgen"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	idgen.Init(2)
}

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
			MaxRetryCount:       3,
		},
		Scoring: config.ScoringConfig{
			AnalyzerTimeoutSec: 1,
			Weights: map[string]float64{
				"social_verification": 1.0,
			},
			Families: map[string]config.FamilyConfig{
				FamilyComposite:  {IntervalMinutes: 60, StalenessMinutes: 60, BatchSize: 10, Workers: 2},
				FamilyLegitimacy: {IntervalMinutes: 30, StalenessMinutes: 30, BatchSize: 10, Workers: 2},
				FamilyBehavior:   {IntervalMinutes: 60, StalenessMinutes: 360, BatchSize: 10, Workers: 2},
			},
		},
	}
}
