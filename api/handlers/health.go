package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/vision-ocr/internal/agent"
)

type HealthHandler struct {
	startedAt time.Time
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{startedAt: time.Now()}
}

type HealthResponse struct {
	Status  string              `json:"status"`
	Uptime  string              `json:"uptime"`
	Formats map[string][]string `json:"formats"`
}

func (h *HealthHandler) Check(c *gin.Context) {
	images, documents := agent.SupportedExtensions()
	c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(h.startedAt).Round(time.Second).String(),
		Formats: map[string][]string{
			"images":    images,
			"documents": documents,
		},
	})
}
