package document

import (
	"context"

	"github.com/feichai0017/vision-ocr/internal/models"
	"github.com/feichai0017/vision-ocr/internal/workspace"
)

// Rasterizer converts a paged document into per-page images owned by ws.
type Rasterizer interface {
	Rasterize(ctx context.Context, ws *workspace.Workspace, path string, dpi int) ([]models.PageImage, error)
}

// Normalizer prepares one page image for recognition. It never fails.
type Normalizer interface {
	Normalize(ws *workspace.Workspace, path string) models.NormalizedImage
}

// Recognizer extracts text from one normalized image. It never fails;
// models.NoResult stands for nothing recognized.
type Recognizer interface {
	Recognize(ctx context.Context, img models.NormalizedImage) models.RecognitionResult
}
