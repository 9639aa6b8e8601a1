// Package bootstrap builds the OCR pipeline from configuration for the
// binaries under cmd/.
package bootstrap

import (
	"fmt"

	"github.com/feichai0017/vision-ocr/config"
	ocrimage "github.com/feichai0017/vision-ocr/internal/agent/document/image"
	"github.com/feichai0017/vision-ocr/internal/agent/document/image/tesseract"
	"github.com/feichai0017/vision-ocr/internal/agent/document/pdf"
	"github.com/feichai0017/vision-ocr/internal/service/ocr"
	"github.com/feichai0017/vision-ocr/pkg/logger"
)

// Hooks observe progress without affecting results.
type Hooks struct {
	OnChunk func(chunk string)
	OnPage  pdf.ProgressFunc
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig) (logger.Logger, error) {
	opts := []logger.Option{
		logger.WithLevel(cfg.Level),
		logger.WithEncoding(cfg.Encoding),
		logger.WithDevelopment(cfg.Development),
	}
	if len(cfg.OutputPaths) > 0 {
		opts = append(opts, logger.WithOutputPaths(cfg.OutputPaths))
	}
	return logger.NewLogger(opts...)
}

// Pipeline is a ready OCR service plus what must be closed with it.
type Pipeline struct {
	Service *ocr.Service
	remote  *ocrimage.OllamaClient
}

func (p *Pipeline) Close() error {
	if p.remote != nil {
		return p.remote.Close()
	}
	return nil
}

// NewPipeline wires rasterizer, normalizer and recognizer from cfg.
func NewPipeline(cfg *config.Config, log logger.Logger, hooks Hooks) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	poppler := pdf.NewPoppler(cfg.Raster.PdftoppmPath)
	if !poppler.Available() {
		log.Warn("pdftoppm not found, PDF input will fail", logger.String("binary", cfg.Raster.PdftoppmPath))
	}
	var rasterOpts []pdf.Option
	if hooks.OnPage != nil {
		rasterOpts = append(rasterOpts, pdf.WithProgress(hooks.OnPage))
	}
	rasterizer := pdf.NewRasterizer(poppler, &pdf.Options{
		DPI:         cfg.Raster.DPI,
		Workers:     cfg.Raster.Workers,
		JPEGQuality: cfg.Normalize.JPEGQuality,
	}, log.Named("rasterizer"), rasterOpts...)

	normalizer := ocrimage.NewNormalizer(&ocrimage.NormalizeOptions{
		MaxDimension: cfg.Normalize.MaxDimension,
		JPEGQuality:  cfg.Normalize.JPEGQuality,
	}, log.Named("normalizer"))

	p := &Pipeline{}
	var remote ocrimage.RemoteEngine
	if cfg.Ollama.Enabled {
		var clientOpts []ocrimage.ClientOption
		if hooks.OnChunk != nil {
			clientOpts = append(clientOpts, ocrimage.WithChunkObserver(hooks.OnChunk))
		}
		p.remote = ocrimage.NewOllamaClient(&ocrimage.OllamaConfig{
			Endpoint:    cfg.Ollama.Endpoint,
			Model:       cfg.Ollama.Model,
			Timeout:     cfg.Ollama.Timeout,
			Temperature: cfg.Ollama.Temperature,
			MaxTokens:   cfg.Ollama.MaxTokens,
		}, log.Named("ollama"), clientOpts...)
		remote = p.remote
	}

	var local ocrimage.LocalEngine
	if cfg.Tesseract.Enabled {
		local = tesseract.NewEngine(&tesseract.Config{
			Languages:   cfg.Tesseract.Languages,
			PageSegMode: cfg.Tesseract.PageSegMode,
			Preprocess: &ocrimage.PreprocessConfig{
				Grayscale:       cfg.Tesseract.Grayscale,
				Contrast:        cfg.Tesseract.Contrast,
				Sharpen:         cfg.Tesseract.Sharpen > 0,
				SharpenStrength: cfg.Tesseract.Sharpen,
			},
		}, log.Named("tesseract"))
	}

	if remote == nil && local == nil {
		log.Warn("Both recognition strategies disabled, every page will yield no result")
	}

	recognizer := ocrimage.NewRecognizer(remote, local, log.Named("recognizer"))
	p.Service = ocr.NewService(rasterizer, normalizer, recognizer, log.Named("ocr"), &ocr.ServiceConfig{
		DPI:      cfg.Raster.DPI,
		TempRoot: cfg.TempRoot,
	})
	return p, nil
}
