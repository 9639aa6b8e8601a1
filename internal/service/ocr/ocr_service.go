package ocr

import (
	"context"
	"time"

	"github.com/feichai0017/vision-ocr/internal/models"
)

// Processor is the file-level OCR entry point shared by the CLI and the HTTP
// API.
type Processor interface {
	ProcessFile(ctx context.Context, path string) (*models.OCRResult, error)
	ProcessFiles(ctx context.Context, paths []string, each func(FileOutcome)) []FileOutcome
}

// FileOutcome is the per-file result of ProcessFiles. Exactly one of Result
// and Err is set.
type FileOutcome struct {
	Path    string
	Result  *models.OCRResult
	Err     error
	Elapsed time.Duration
}
