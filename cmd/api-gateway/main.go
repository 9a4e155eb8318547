package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/sma-laundry-api/api/swagger"
	"github.com/noah-isme/sma-laundry-api/internal/handler"
	"github.com/noah-isme/sma-laundry-api/internal/middleware"
	"github.com/noah-isme/sma-laundry-api/internal/models"
	"github.com/noah-isme/sma-laundry-api/internal/repository"
	"github.com/noah-isme/sma-laundry-api/internal/service"
	"github.com/noah-isme/sma-laundry-api/pkg/cache"
	"github.com/noah-isme/sma-laundry-api/pkg/config"
	"github.com/noah-isme/sma-laundry-api/pkg/database"
	"github.com/noah-isme/sma-laundry-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-laundry-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-laundry-api/pkg/middleware/requestid"
)

// @title SMA Laundry API
// @version 0.1.0
// @description Boarding school laundry allowance and wash request accounting
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	departmentRepo := repository.NewDepartmentRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	policyRepo := repository.NewWashPolicyRepository(db)
	planRepo := repository.NewWashPlanRepository(db)
	requestRepo := repository.NewWashRequestRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "sma-laundry-api",
	})
	departmentSvc := service.NewDepartmentService(departmentRepo, nil, logr)
	batchSvc := service.NewBatchService(batchRepo, departmentRepo, nil, logr)
	promotionSvc := service.NewPromotionService(batchRepo, planRepo, studentRepo, policyRepo, cacheRepo, db, logr).
		WithMetrics(metricsSvc)
	studentSvc := service.NewStudentService(studentRepo, batchRepo, planRepo, policyRepo, db, nil, logr)
	policySvc := service.NewWashPolicyService(policyRepo, nil, logr)
	planSvc := service.NewWashPlanService(planRepo, cacheRepo, logr, service.PlanConfig{
		BalanceCacheTTL: cfg.Wash.BalanceCacheTTL,
	}).WithMetrics(metricsSvc)
	washSvc := service.NewWashService(requestRepo, planRepo, cacheRepo, db, nil, logr, service.WashConfig{
		MaxWeightKg: cfg.Wash.MaxWeightKg,
	}).WithMetrics(metricsSvc)
	exportSvc := service.NewExportService(planRepo, requestRepo, nil, nil, logr)

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	departmentHandler := handler.NewDepartmentHandler(departmentSvc)
	batchHandler := handler.NewBatchHandler(batchSvc, promotionSvc)
	studentHandler := handler.NewStudentHandler(studentSvc, planSvc)
	policyHandler := handler.NewPolicyHandler(policySvc)
	planHandler := handler.NewPlanHandler(planSvc)
	requestHandler := handler.NewRequestHandler(washSvc)
	exportHandler := handler.NewExportHandler(exportSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)

		session := auth.Group("", middleware.JWT(authSvc))
		session.POST("/logout", authHandler.Logout)
		session.POST("/change-password", authHandler.ChangePassword)
		session.GET("/me", authHandler.Me)
	}

	protected := api.Group("", middleware.JWT(authSvc))

	staff := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)
	operators := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleOperator)

	departments := protected.Group("/departments", staff)
	{
		departments.GET("", departmentHandler.List)
		departments.GET("/:id", departmentHandler.Get)
		departments.POST("", departmentHandler.Create)
		departments.PUT("/:id", departmentHandler.Update)
		departments.DELETE("/:id", departmentHandler.Delete)
	}

	batches := protected.Group("/batches", staff)
	{
		batches.GET("", batchHandler.List)
		batches.GET("/:id", batchHandler.Get)
		batches.POST("", batchHandler.Create)
		batches.PUT("/:id", batchHandler.Update)
		batches.DELETE("/:id", batchHandler.Delete)
		batches.GET("/:id/years", batchHandler.Years)
		batches.PUT("/:id/years/:yearNo", batchHandler.UpdateYear)
		batches.POST("/:id/promote", batchHandler.Promote)
	}

	students := protected.Group("/students")
	{
		students.GET("", staff, studentHandler.List)
		students.GET("/:id", middleware.RBAC("SUPERADMIN", "ADMIN", "OPERATOR", "SELF"), studentHandler.Get)
		students.POST("", staff, studentHandler.Create)
		students.PUT("/:id", staff, studentHandler.Update)
		students.DELETE("/:id", staff, studentHandler.Delete)
		students.GET("/:id/balance", middleware.RBAC("SUPERADMIN", "ADMIN", "OPERATOR", "SELF"), studentHandler.Balance)
	}

	policies := protected.Group("/policies", staff)
	{
		policies.GET("", policyHandler.List)
		policies.GET("/active", policyHandler.GetActive)
		policies.GET("/:id", policyHandler.Get)
		policies.POST("", policyHandler.Create)
		policies.PUT("/:id", policyHandler.Update)
		policies.POST("/:id/activate", policyHandler.Activate)
		policies.POST("/:id/deactivate", policyHandler.Deactivate)
		policies.DELETE("/:id", policyHandler.Delete)
		policies.POST("/:id/restore", policyHandler.Restore)
	}

	plans := protected.Group("/plans")
	{
		plans.GET("", operators, planHandler.List)
		plans.GET("/:id", operators, planHandler.Get)
		plans.GET("/:id/balance", operators, planHandler.Balance)
		plans.DELETE("/:id", staff, planHandler.Delete)
	}

	requests := protected.Group("/requests")
	{
		requests.GET("", operators, requestHandler.List)
		requests.GET("/:id", operators, requestHandler.Get)
		requests.POST("", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleOperator, models.RoleStudent), requestHandler.Create)
		requests.PUT("/:id/weight", operators, requestHandler.Reweigh)
		requests.PUT("/:id/status", operators, requestHandler.Transition)
		requests.DELETE("/:id", operators, requestHandler.Delete)
	}

	if cfg.Export.Enabled {
		exports := protected.Group("/exports")
		exports.GET("/batches/:id/years/:yearNo", staff, exportHandler.BatchYearUsage)
		exports.GET("/students/:id/requests", middleware.RBAC("SUPERADMIN", "ADMIN", "OPERATOR", "SELF"), exportHandler.RequestHistory)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
