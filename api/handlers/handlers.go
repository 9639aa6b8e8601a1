package handlers

import (
	"github.com/feichai0017/vision-ocr/internal/service/ocr"
	"github.com/feichai0017/vision-ocr/pkg/logger"
)

type Handlers struct {
	OCR    *OCRHandler
	Health *HealthHandler
}

func NewHandlers(
	ocrService ocr.Processor,
	logger logger.Logger,
	cfg *OCRHandlerConfig,
) *Handlers {
	return &Handlers{
		OCR:    NewOCRHandler(ocrService, logger, cfg),
		Health: NewHealthHandler(),
	}
}
