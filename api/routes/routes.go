package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/receipt-processor/api/handlers"
	"github.com/feichai0017/receipt-processor/api/middleware"
	"github.com/feichai0017/receipt-processor/pkg/logger"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, log logger.Logger) {
	// 全局中间件
	r.Use(middleware.RequestID(), middleware.AccessLog(log), middleware.CORS())

	r.GET("/health", h.Health.Health)

	v1 := r.Group("/api/v1")

	receipts := v1.Group("/receipts")
	{
		receipts.POST("", h.Receipt.Submit)
		receipts.GET("/:id", h.Receipt.GetByID)
	}
}
