package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/whisper-local/internal/engine"
)

// HandleHealth 创建健康检查的HTTP处理函数
// 参数:
//
//	eng: 当前服务使用的引擎 (可能是限流/主备包装后的链)
//	fo: 主备切换控制器, 单引擎部署时为nil
//	startTime: 进程启动时间, 用于计算uptime
//
// 响应格式:
//
//	{
//	  "success": true,
//	  "data": {
//	    "implementation": "faster-whisper",
//	    "is_healthy": true,
//	    "is_degraded": false,
//	    "last_check_time": "2026-08-23T09:00:00Z",
//	    "consecutive_fails": 0,
//	    "error_message": "",
//	    "uptime_seconds": 120
//	  }
//	}
func HandleHealth(eng engine.Engine, fo *engine.Failover, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 检查依赖是否为nil (服务未启动或未初始化)
		if eng == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"success": false,
				"error":   "transcription service not initialized",
			})
			return
		}

		data := gin.H{
			"implementation": eng.Name(),
			"uptime_seconds": int64(time.Since(startTime).Seconds()),
		}

		// 主备部署时附带健康探测详情
		if fo != nil {
			status := fo.Status()
			data["is_healthy"] = status.IsHealthy
			data["is_degraded"] = status.Degraded
			data["last_check_time"] = status.LastCheckTime
			data["consecutive_fails"] = status.ConsecutiveFails
			data["error_message"] = status.ErrorMessage
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    data,
		})
	}
}
