// Package api 提供 whisper-local 的 HTTP 服务层: 转写端点、模型管理、
// 健康检查与 Prometheus 指标。
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/houzhh15/whisper-local/internal/config"
	"github.com/houzhh15/whisper-local/internal/engine"
	"github.com/houzhh15/whisper-local/internal/models"
)

// Deps 注入路由所需的服务实例
type Deps struct {
	Cfg      *config.Config
	Engine   engine.Engine
	Failover *engine.Failover // 单引擎部署时为 nil
	Store    *models.Store
}

// NewRouter 构建 gin 路由
// 健康检查与指标端点不鉴权, /api/whisper 下的业务端点按配置启用 JWT
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger())

	startTime := time.Now()
	r.GET("/healthz", HandleHealth(deps.Engine, deps.Failover, startTime))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	grp := r.Group("/api/whisper")
	if deps.Cfg.Security.AuthEnabled {
		grp.Use(JWTAuth([]byte(deps.Cfg.Security.JWTSecret)))
	}
	grp.POST("/transcribe", HandleTranscribe(deps))
	grp.GET("/model", HandleListModels(deps.Store))
	grp.GET("/model/:id", HandleGetModel(deps.Store))
	grp.POST("/model", HandleDownloadModel(deps.Store))

	return r
}
