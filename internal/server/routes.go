package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kazuki-osada/internal-excali-banana/internal/server/middleware"
)

// InitRoutes は API のルーティングを組み立てます。timeout はリクエストごとの期限です。
func (h *Handler) InitRoutes(timeout time.Duration) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger())
	router.Use(middleware.Timeout(timeout))

	router.GET("/health", h.Health)

	api := router.Group("/api")
	{
		api.POST("/generate", h.GenerateContract)

		boards := api.Group("/boards")
		{
			boards.POST("", h.CreateBoard)
			boards.DELETE("/:id", h.DeleteBoard)
			boards.PUT("/:id/theme", h.PutTheme)
			boards.PUT("/:id/scene", h.PutScene)
			boards.GET("/:id/scene", h.GetScene)
			boards.DELETE("/:id/scene", h.ClearScene)
			boards.PUT("/:id/surface", h.PutSurface)
			boards.POST("/:id/generate", h.Generate)
			boards.GET("/:id/status", h.Status)
			boards.POST("/:id/export", h.Export)
			boards.GET("/:id/result", h.Result)
		}
	}

	return router
}
