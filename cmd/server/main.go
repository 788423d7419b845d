package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trustmarket/internal/analyzer"
	"trustmarket/internal/config"
	"trustmarket/internal/handler"
	"trustmarket/internal/infrastructure/cache"
	"trustmarket/internal/infrastructure/content"
	"trustmarket/internal/infrastructure/database"
	"trustmarket/internal/infrastructure/mq"
	"trustmarket/internal/infrastructure/platform"
	"trustmarket/internal/infrastructure/settlement"
	"trustmarket/internal/job"
	"trustmarket/internal/repository"
	"trustmarket/internal/service"
	"trustmarket/pkg/idgen"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka
	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	// 外部协作方：链上结算后端、内容存储、平台快照
	backend, err := settlement.NewEthereumBackend(&cfg.Settlement)
	if err != nil {
		log.Fatalf("初始化链上结算后端失败: %v", err)
	}
	contentStore := content.NewIPFSStore(&cfg.Content)
	snapshotFetcher := platform.NewSimulatedFetcher()

	// 各分析器共享仓储层的数据源实现
	userRepo := repository.NewUserRepository(db)
	accountRepo := repository.NewLinkedAccountRepository(db)
	productRepo := repository.NewProductRepository(db)
	orderRepo := repository.NewOrderRepository(db)

	legitimacyAnalyzer := analyzer.NewLegitimacyAnalyzer(accountRepo, accountRepo, snapshotFetcher)
	behaviorAnalyzer := analyzer.NewBehaviorAnalyzer(userRepo, productRepo, orderRepo, nil)
	analyzers := []analyzer.Analyzer{
		analyzer.NewSocialVerificationAnalyzer(accountRepo),
		legitimacyAnalyzer,
		behaviorAnalyzer,
		analyzer.NewFraudAnalyzer(productRepo, userRepo),
		analyzer.NewTransactionHistoryAnalyzer(orderRepo),
		analyzer.NewProductQualityAnalyzer(productRepo),
	}

	// 服务层
	userService := service.NewUserService(db)
	productService := service.NewProductService(db)
	scoreService := service.NewScoreService(db, redisClient, analyzers, cfg)
	socialService := service.NewSocialService(db, legitimacyAnalyzer, behaviorAnalyzer)
	escrowService := service.NewEscrowService(db, redisClient, backend, contentStore, cfg)

	// 后台任务
	outboxSender := job.NewOutboxSender(db, cfg.Business.MaxRetryCount)
	outboxSender.Start()
	defer outboxSender.Stop()

	scoreJob := job.NewScoreJob(db, scoreService, socialService, &cfg.Scoring)
	scoreJob.Start()
	defer scoreJob.Stop()

	reconcileJob := job.NewReconcileJob(db, backend, cfg)
	reconcileJob.Start()
	defer reconcileJob.Stop()

	// 设置路由
	router := handler.SetupRouter(userService, productService, escrowService, scoreService, socialService)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
