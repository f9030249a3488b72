package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/thermline/hpfleet/internal/actor"
	"github.com/thermline/hpfleet/internal/api/middleware"
	cfgpkg "github.com/thermline/hpfleet/internal/config"
	"github.com/thermline/hpfleet/internal/metrics"
	"github.com/thermline/hpfleet/internal/storage"
	"github.com/thermline/hpfleet/internal/storage/gormrepo"
)

// RegisterRoutes 注册全部 API 路由
func RegisterRoutes(
	r *gin.Engine,
	pub Publisher,
	actors *actor.Registry,
	store storage.Store,
	repo *gormrepo.Repository,
	apiCfg cfgpkg.APIConfig,
	m *metrics.AppMetrics,
	logger *zap.Logger,
) {
	if r == nil {
		return
	}

	api := r.Group("/api/v1")
	if apiCfg.Auth.Enabled {
		api.Use(middleware.APIKeyAuth(apiCfg.Auth, logger))
		logger.Info("api authentication enabled", zap.Int("api_keys_count", len(apiCfg.Auth.APIKeys)))
	} else {
		logger.Warn("api authentication disabled - only for development!")
	}

	// 摄取入口单独限流（设备上报流量远大于运维查询）
	if pub != nil {
		ing := api.Group("/ingest")
		ing.Use(middleware.RateLimit(apiCfg.RateLimit))
		ih := NewIngestHandler(pub, logger)
		ing.POST("/telemetry", ih.PostTelemetry)
		ing.POST("/heartbeat", ih.PostHeartbeat)
		ing.POST("/modbus", ih.PostModbus)
	}

	if actors != nil && store != nil {
		ch := NewCommandHandler(actors, store, m, logger)
		api.POST("/devices/:deviceId/commands", ch.Enqueue)
		api.GET("/devices/:deviceId/commands/poll", ch.Poll)
		api.POST("/devices/:deviceId/commands/:writeId/ack", ch.Acknowledge)
		api.GET("/devices/:deviceId/state", ch.State)
	}

	if repo != nil {
		rh := NewReadOnlyHandler(repo, logger)
		api.GET("/devices", rh.ListDevices)
		api.GET("/devices/:deviceId/latest", rh.GetLatestState)
		api.GET("/devices/:deviceId/telemetry", rh.RecentTelemetry)
		api.GET("/devices/:deviceId/baselines", rh.ListBaselines)
		api.GET("/devices/:deviceId/writes", rh.ListWrites)
		api.GET("/alerts", rh.ListAlerts)
		api.POST("/maintenance-windows", rh.CreateMaintenanceWindow)
		api.GET("/maintenance-windows", rh.ListMaintenanceWindows)
	}

	logger.Info("api routes registered")
}
