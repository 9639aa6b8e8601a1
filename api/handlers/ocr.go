package handlers

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feichai0017/vision-ocr/internal/models"
	"github.com/feichai0017/vision-ocr/internal/service/ocr"
	"github.com/feichai0017/vision-ocr/internal/utils/validator"
	"github.com/feichai0017/vision-ocr/internal/workspace"
	"github.com/feichai0017/vision-ocr/pkg/converters"
	"github.com/feichai0017/vision-ocr/pkg/logger"
)

// multipart framing allowance on top of the file size limit
const formOverhead = 1 << 20

type OCRHandlerConfig struct {
	MaxUploadSize  int64
	TempRoot       string
	RequestTimeout time.Duration
}

type OCRHandler struct {
	service   ocr.Processor
	validator *validator.DocumentValidator
	converter converters.DocumentConverter
	logger    logger.Logger
	config    OCRHandlerConfig
}

type ErrorResponse struct {
	Error   string                      `json:"error"`
	Message string                      `json:"message"`
	Details []validator.ValidationError `json:"details,omitempty"`
}

func NewOCRHandler(service ocr.Processor, log logger.Logger, cfg *OCRHandlerConfig) *OCRHandler {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg == nil {
		cfg = &OCRHandlerConfig{}
	}
	c := *cfg
	if c.MaxUploadSize <= 0 {
		c.MaxUploadSize = 50 << 20
	}
	return &OCRHandler{
		service:   service,
		validator: validator.NewDocumentValidator(log, &validator.ValidatorConfig{MaxFileSize: c.MaxUploadSize}),
		converter: converters.NewJSONConverter(),
		logger:    log,
		config:    c,
	}
}

// Recognize runs OCR on one uploaded file and answers with the converted
// document. The upload lives in its own workspace, released on return.
func (h *OCRHandler) Recognize(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.config.MaxUploadSize+formOverhead)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.handleError(c, http.StatusRequestEntityTooLarge, validator.CodeFileTooLarge, "Upload too large", err)
			return
		}
		h.handleError(c, http.StatusBadRequest, "INVALID_UPLOAD", "Invalid file upload", err)
		return
	}

	check, err := h.validator.ValidateFile(header)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "INVALID_UPLOAD", "Failed to read upload", err)
		return
	}
	if !check.IsValid {
		status := http.StatusBadRequest
		switch {
		case check.HasCode(validator.CodeFileTooLarge):
			status = http.StatusRequestEntityTooLarge
		case check.HasCode(validator.CodeInvalidFileType):
			status = http.StatusUnsupportedMediaType
		}
		c.JSON(status, ErrorResponse{
			Error:   check.Errors[0].Code,
			Message: check.Errors[0].Message,
			Details: check.Errors,
		})
		return
	}

	ctx := c.Request.Context()
	if h.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.RequestTimeout)
		defer cancel()
	}

	ws := workspace.New(h.config.TempRoot, h.logger)
	defer ws.Release()

	dir, err := ws.MkdirTemp("upload-*")
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to store upload", err)
		return
	}
	dst := filepath.Join(dir, filepath.Base(header.Filename))
	if err := c.SaveUploadedFile(header, dst); err != nil {
		h.handleError(c, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to store upload", err)
		return
	}

	result, err := h.service.ProcessFile(ctx, dst)
	if err != nil {
		status, code := statusFor(err)
		h.handleError(c, status, code, "Failed to process file", err)
		return
	}

	doc, err := h.converter.Convert(result)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "CONVERSION_ERROR", "Failed to convert result", err)
		return
	}
	doc.ID = uuid.NewString()
	doc.Metadata.FileName = header.Filename
	doc.Metadata.FileSize = header.Size

	h.logger.Info("Upload processed",
		logger.String("id", doc.ID),
		logger.String("filename", header.Filename),
		logger.String("hash", check.FileInfo.Hash),
		logger.String("status", doc.Status),
	)
	c.JSON(http.StatusOK, doc)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT"
	case errors.Is(err, models.ErrDocumentConversion):
		return http.StatusUnprocessableEntity, "DOCUMENT_CONVERSION"
	case errors.Is(err, models.ErrFileNotFound):
		return http.StatusBadRequest, "FILE_NOT_FOUND"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "CANCELLED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (h *OCRHandler) handleError(c *gin.Context, status int, code, message string, err error) {
	h.logger.Error(message,
		logger.String("path", c.Request.URL.Path),
		logger.Int("status", status),
		logger.Error(err),
	)
	response := ErrorResponse{Error: code, Message: message}
	if err != nil {
		response.Message = message + ": " + err.Error()
	}
	c.JSON(status, response)
}
