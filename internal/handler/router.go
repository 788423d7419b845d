package handler

import (
	"trustmarket/internal/service"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(
	userService *service.UserService,
	productService *service.ProductService,
	escrowService *service.EscrowService,
	scoreService *service.ScoreService,
	socialService *service.SocialService,
) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	userHandler := NewUserHandler(userService)
	productHandler := NewProductHandler(productService)
	escrowHandler := NewEscrowHandler(escrowService)
	scoreHandler := NewScoreHandler(scoreService)
	socialHandler := NewSocialHandler(socialService)

	api := r.Group("/api/v1")
	{
		// 用户
		users := api.Group("/users")
		{
			users.POST("", userHandler.CreateUser)
			users.GET("/:userID", userHandler.GetUser)
			users.POST("/:userID/login", userHandler.RecordLogin)
			users.PUT("/:userID/profile", userHandler.UpdateProfile)
		}

		// 商品
		products := api.Group("/products")
		{
			products.POST("", productHandler.CreateProduct)
			products.GET("", productHandler.ListProducts)
			products.GET("/:productID", productHandler.GetProduct)
			products.PUT("/:productID/status", productHandler.UpdateStatus)
		}

		// 托管订单
		escrow := api.Group("/escrow")
		{
			escrow.POST("/orders", escrowHandler.CreateEscrow)
			escrow.GET("/orders", escrowHandler.ListOrders)
			escrow.GET("/orders/:orderNo", escrowHandler.GetOrder)
			escrow.GET("/orders/:orderNo/details", escrowHandler.GetEscrowDetails)
			escrow.POST("/orders/:orderNo/release", escrowHandler.ReleaseEscrow)
			escrow.POST("/orders/:orderNo/dispute", escrowHandler.RaiseDispute)
			escrow.POST("/orders/:orderNo/ship", escrowHandler.MarkShipped)
			escrow.POST("/orders/:orderNo/deliver", escrowHandler.MarkDelivered)
		}

		// 信任分
		// 排行榜单独挂一级路径，gin 不允许 :subjectID 和静态段同级
		api.GET("/leaderboard", scoreHandler.GetTopSubjects)
		scores := api.Group("/scores")
		{
			scores.GET("/:subjectID", scoreHandler.GetScore)
			scores.GET("/:subjectID/history", scoreHandler.GetScoreHistory)
			scores.POST("/:subjectID/compute", scoreHandler.ComputeScore)
		}

		// 社交账号
		social := api.Group("/social")
		{
			social.POST("/accounts", socialHandler.LinkAccount)
			social.GET("/users/:userID/accounts", socialHandler.GetLinkedAccounts)
			social.DELETE("/users/:userID/accounts/:platform", socialHandler.UnlinkAccount)
			social.POST("/users/:userID/legitimacy", socialHandler.EvaluateLegitimacy)
			social.POST("/users/:userID/behavior", socialHandler.EvaluateBehavior)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
