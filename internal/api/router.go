package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/jengzang/drone-imagery-dashboard/internal/config"
	"github.com/jengzang/drone-imagery-dashboard/internal/handler"
	"github.com/jengzang/drone-imagery-dashboard/internal/middleware"
)

// Handlers groups every HTTP handler the router mounts
type Handlers struct {
	Backend       *handler.BackendHandler
	Uploads       *handler.UploadHandler
	Tasks         *handler.TaskHandler
	Gallery       *handler.GalleryHandler
	FieldMaps     *handler.FieldMapHandler
	Prescriptions *handler.PrescriptionHandler
}

// SetupRouter 设置路由
func SetupRouter(ctx context.Context, cfg *config.Config, logger *logrus.Logger, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger(logger), middleware.CORS())
	if cfg.RateLimit > 0 {
		r.Use(middleware.RateLimit(ctx, cfg.RateLimit, time.Minute))
	}

	// uploads are streamed to the backend; only small parts are kept in memory
	r.MaxMultipartMemory = 32 << 20

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Drone imagery dashboard API is running",
		})
	})

	api := r.Group("/api/v1")
	if cfg.JWTSecret != "" {
		api.Use(middleware.JWTAuth(cfg.JWTSecret))
	}
	{
		backend := api.Group("/backend")
		{
			backend.GET("/status", h.Backend.Status)
			backend.POST("/check", h.Backend.Check)
		}

		api.POST("/uploads", h.Uploads.Upload)

		tasks := api.Group("/tasks")
		{
			tasks.GET("", h.Tasks.ListTasks)
			tasks.POST("/refresh", h.Tasks.Refresh)
			tasks.GET("/:id", h.Tasks.GetTask)
			tasks.DELETE("/:id", h.Tasks.DeleteTask)
		}

		api.GET("/gallery", h.Gallery.List)
		api.GET("/results/:taskId/:fileName", h.Gallery.GetFile)

		api.GET("/fieldmaps", h.FieldMaps.List)

		prescriptions := api.Group("/prescriptions")
		{
			prescriptions.GET("", h.Prescriptions.List)
			prescriptions.POST("", h.Prescriptions.Create)
			prescriptions.GET("/stats", h.Prescriptions.Stats)
			prescriptions.GET("/:id", h.Prescriptions.Get)
			prescriptions.DELETE("/:id", h.Prescriptions.Delete)
			prescriptions.PUT("/:id/status", h.Prescriptions.SetStatus)
			prescriptions.PUT("/:id/cells", h.Prescriptions.SetCell)
			prescriptions.POST("/:id/bulk", h.Prescriptions.BulkApply)
			prescriptions.PUT("/:id/grid", h.Prescriptions.ResizeGrid)
			prescriptions.GET("/:id/robot-path", h.Prescriptions.RobotPath)
		}

		api.POST("/area", h.Prescriptions.EstimateArea)
	}

	return r
}
