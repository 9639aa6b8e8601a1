package ocr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/feichai0017/vision-ocr/internal/agent"
	"github.com/feichai0017/vision-ocr/internal/agent/document"
	"github.com/feichai0017/vision-ocr/internal/models"
	"github.com/feichai0017/vision-ocr/internal/workspace"
	"github.com/feichai0017/vision-ocr/pkg/logger"
)

// PageSeparator joins the text of consecutive pages.
const PageSeparator = "\n\n"

type ServiceConfig struct {
	// DPI passed to the rasterizer; <= 0 uses the rasterizer default.
	DPI int
	// TempRoot is the parent of every workspace directory; empty means
	// os.TempDir.
	TempRoot string
}

type Service struct {
	rasterizer document.Rasterizer
	normalizer document.Normalizer
	recognizer document.Recognizer
	logger     logger.Logger
	config     ServiceConfig
}

func NewService(
	rasterizer document.Rasterizer,
	normalizer document.Normalizer,
	recognizer document.Recognizer,
	log logger.Logger,
	cfg *ServiceConfig,
) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg == nil {
		cfg = &ServiceConfig{}
	}
	return &Service{
		rasterizer: rasterizer,
		normalizer: normalizer,
		recognizer: recognizer,
		logger:     log,
		config:     *cfg,
	}
}

// ProcessFile runs one file through classification, rasterization,
// per-page recognition and concatenation. A result without text is not an
// error. Only a missing file, an unsupported extension, a failed document
// conversion or a cancelled context abort the file; those come back as
// *models.ProcessError. Temporary files are released on every path.
func (s *Service) ProcessFile(ctx context.Context, path string) (*models.OCRResult, error) {
	start := time.Now()
	log := s.logger.With(logger.String("file", path))

	if err := checkExists(path); err != nil {
		log.Error("File not found", logger.Error(err))
		return nil, &models.ProcessError{Op: "open", Path: path, Err: err}
	}

	format, err := agent.Classify(path)
	if err != nil {
		log.Error("Unsupported file format", logger.Error(err))
		return nil, &models.ProcessError{Op: "classify", Path: path, Err: err}
	}

	ws := workspace.New(s.config.TempRoot, log)
	defer ws.Release()

	log.Info("Processing file", logger.String("format", format.String()))

	var pages []models.PageImage
	switch format {
	case models.FormatDocument:
		pages, err = s.rasterizer.Rasterize(ctx, ws, path, s.config.DPI)
		if err != nil {
			log.Error("Document conversion failed", logger.Error(err))
			return nil, &models.ProcessError{Op: "rasterize", Path: path, Err: err}
		}
	default:
		pages = []models.PageImage{{Path: path, Index: 1}}
	}

	result := &models.OCRResult{
		Path:      path,
		Format:    format,
		PageCount: len(pages),
		StartedAt: start,
	}

	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			log.Warn("Processing interrupted", logger.Int("page", page.Index), logger.Error(err))
			return nil, &models.ProcessError{Op: "recognize", Path: path, Err: err}
		}

		rec := s.recognizePage(ctx, ws, page)
		if !rec.Found() {
			log.Info("No text on page", logger.Int("page", page.Index))
			continue
		}
		result.Pages = append(result.Pages, models.PageText{
			Index:  page.Index,
			Text:   rec.Text,
			Source: rec.Source,
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, &models.ProcessError{Op: "recognize", Path: path, Err: err}
	}

	texts := make([]string, len(result.Pages))
	for i, p := range result.Pages {
		texts[i] = p.Text
	}
	result.Text = strings.Join(texts, PageSeparator)
	result.Duration = time.Since(start)

	log.Info("File processed",
		logger.Int("pages", result.PageCount),
		logger.Int("pagesWithText", len(result.Pages)),
		logger.Duration("duration", result.Duration),
	)
	return result, nil
}

// recognizePage normalizes and recognizes one page. A normalized derivative
// is removed as soon as recognition returns.
func (s *Service) recognizePage(ctx context.Context, ws *workspace.Workspace, page models.PageImage) models.RecognitionResult {
	img := s.normalizer.Normalize(ws, page.Path)
	if img.Temporary {
		defer ws.Remove(img.Path)
	}
	return s.recognizer.Recognize(ctx, img)
}

// ProcessFiles processes paths one after another, each in its own workspace.
// each, when non-nil, sees every outcome as soon as it is known. Files left
// over after cancellation are reported with the context error.
func (s *Service) ProcessFiles(ctx context.Context, paths []string, each func(FileOutcome)) []FileOutcome {
	outcomes := make([]FileOutcome, 0, len(paths))
	for _, path := range paths {
		var outcome FileOutcome
		if err := ctx.Err(); err != nil {
			outcome = FileOutcome{
				Path: path,
				Err:  &models.ProcessError{Op: "start", Path: path, Err: err},
			}
		} else {
			start := time.Now()
			res, err := s.ProcessFile(ctx, path)
			outcome = FileOutcome{Path: path, Result: res, Err: err, Elapsed: time.Since(start)}
		}
		outcomes = append(outcomes, outcome)
		if each != nil {
			each(outcome)
		}
	}
	return outcomes
}

func checkExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.ErrFileNotFound
		}
		return fmt.Errorf("%w: %w", models.ErrFileNotFound, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: is a directory", models.ErrFileNotFound)
	}
	return nil
}
