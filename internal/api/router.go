package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/timmy/ecosync/internal/api/handler"
	"github.com/timmy/ecosync/internal/api/middleware"
	"github.com/timmy/ecosync/internal/config"
	"github.com/timmy/ecosync/internal/service"
)

// Services bundles what the public API routes depend on.
type Services struct {
	Verification *service.VerificationService
	Purge        *service.PurgeService
	Rewards      *service.RewardService
	LostFound    *service.LostFoundService
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(services *Services, cfg *config.Config) *gin.Engine {
	r := newEngine(cfg.Server.Mode, "api")

	// Create handlers
	healthHandler := handler.NewHealthHandler(func() gin.H {
		return gin.H{
			"offline_mode": cfg.Verification.OfflineMode,
			"vector_store": cfg.VectorStore.Backend,
		}
	})
	postHandler := handler.NewPostHandler(services.Verification)
	rewardHandler := handler.NewRewardHandler(services.Rewards)
	lostFoundHandler := handler.NewLostFoundHandler(services.LostFound)
	adminHandler := handler.NewAdminHandler(services.Verification, services.Purge, services.LostFound)

	// Health check
	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Posts
		v1.POST("/posts", postHandler.CreatePost)
		v1.GET("/posts", postHandler.ListPosts)
		v1.GET("/posts/:id", postHandler.GetPost)

		// Rewards
		v1.GET("/rewards/users/:user_id", rewardHandler.GetBalance)
		v1.POST("/rewards/redeem", rewardHandler.Redeem)

		// Lost & found
		v1.POST("/lost-found", lostFoundHandler.CreateReport)
		v1.GET("/lost-found", lostFoundHandler.ListReports)

		admin := v1.Group("/admin")
		admin.Use(middleware.RequireKey(middleware.HeaderAdminKey, cfg.Admin.APIKey, true))
		{
			admin.POST("/posts/reverify", adminHandler.Reverify)
			admin.POST("/posts/:id/approve", adminHandler.ApprovePost)
			admin.POST("/posts/:id/reject", adminHandler.RejectPost)
			admin.DELETE("/posts/:id", adminHandler.DeletePost)
			admin.POST("/purge", adminHandler.Purge)
			admin.PATCH("/lost-found/:id/status/:status", adminHandler.UpdateLostFoundStatus)
		}
	}

	return r
}

// SetupVerifierRouter configures the router of the verification microservice.
func SetupVerifierRouter(verifier *service.AIVerifier, cfg *config.Config) *gin.Engine {
	r := newEngine(cfg.Server.Mode, "verifier")

	healthHandler := handler.NewHealthHandler(func() gin.H {
		return gin.H{"extractor_loaded": verifier.ExtractorLoaded()}
	})
	verifyHandler := handler.NewVerifyHandler(verifier)

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ai := r.Group("/ai")
	ai.Use(middleware.RequireKey(middleware.HeaderAIKey, cfg.Verifier.APIKey, false))
	ai.POST("/verify", verifyHandler.Verify)

	return r
}

func newEngine(mode, component string) *gin.Engine {
	// Set Gin mode
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(component))
	r.Use(middleware.Metrics())
	return r
}
