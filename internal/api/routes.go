package api

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dotaduels/backend/internal/api/handlers"
	"github.com/dotaduels/backend/internal/config"
	"github.com/dotaduels/backend/internal/matchmaking"
	"github.com/dotaduels/backend/internal/middleware"
	"github.com/dotaduels/backend/internal/store"
	"github.com/dotaduels/backend/internal/ws"
)

// SetupRoutes configures all API routes. db may be nil when running on the
// in-memory store; the admin surface needs Postgres and is skipped then.
func SetupRoutes(router *gin.Engine, st store.Store, db *sqlx.DB, svc *matchmaking.Service, cfg *config.Config) {
	router.Use(middleware.CORS(cfg))

	// Liveness + metrics
	router.GET("/", handlers.Root)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck)

		// User endpoints
		v1.POST("/user", handlers.GetOrCreateUser(st))
		v1.GET("/user/:telegram_id/transactions", handlers.GetTransactions(st))

		// Matchmaking endpoints
		mm := v1.Group("/matchmaking")
		{
			mm.POST("/start", handlers.StartMatchmaking(svc))
			mm.POST("/cancel", handlers.CancelMatchmaking(svc))
			mm.GET("/status", handlers.MatchmakingStatus(svc))
			mm.GET("/ws", ws.HandleMatchmakingWS())
		}

		// Admin endpoints (Postgres only)
		if db != nil {
			adm := v1.Group("/admin")
			adm.POST("/login", handlers.AdminLogin(db, cfg))

			authed := adm.Group("", middleware.AdminAuth(cfg.JWTSecret))
			{
				authed.GET("/users", handlers.AdminListUsers(st))
				authed.GET("/users/:telegram_id/transactions", handlers.GetTransactions(st))
				authed.GET("/matches", handlers.AdminListMatches(st))
				authed.GET("/audit", handlers.AdminAuditLog(db))
				authed.POST("/matches/:id/resolve", handlers.AdminResolveMatch(st, db))
				authed.POST("/matches/:id/void", handlers.AdminVoidMatch(st, db))
				authed.POST("/users/:telegram_id/adjust", handlers.AdminAdjustBalance(st, db))
			}
		} else {
			log.Println("[API] Admin routes disabled (no database configured)")
		}
	}
}
