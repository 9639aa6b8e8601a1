package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/vision-ocr/api/handlers"
	"github.com/feichai0017/vision-ocr/api/middleware"
)

// SetupRoutes registers every route on r.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, allowedOrigins []string) {
	r.Use(middleware.CORS(allowedOrigins))

	v1 := r.Group("/api/v1")
	v1.GET("/health", h.Health.Check)
	v1.POST("/ocr", h.OCR.Recognize)
}
