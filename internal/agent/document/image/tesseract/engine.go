// Package tesseract provides the local recognition engine backed by
// libtesseract through gosseract. It is the only package that needs cgo.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	ocrimage "github.com/feichai0017/vision-ocr/internal/agent/document/image"
	"github.com/feichai0017/vision-ocr/internal/models"
	"github.com/feichai0017/vision-ocr/pkg/logger"
)

type Config struct {
	Languages   []string
	PageSegMode int
	Preprocess  *ocrimage.PreprocessConfig
}

func DefaultConfig() *Config {
	return &Config{
		Languages:   []string{"eng"},
		PageSegMode: int(gosseract.PSM_AUTO),
	}
}

// Engine implements image.LocalEngine. A fresh gosseract client is created
// per call since clients are not safe for concurrent use.
type Engine struct {
	config        *Config
	chain         ocrimage.Chain
	clientFactory func() *gosseract.Client
	logger        logger.Logger
}

func NewEngine(config *Config, log logger.Logger) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{
		config:        config,
		chain:         ocrimage.NewChain(config.Preprocess),
		clientFactory: gosseract.NewClient,
		logger:        log,
	}
}

// RecognizeFile runs tesseract over the image at path and returns the trimmed
// text. Every failure wraps models.ErrLocalEngine.
func (e *Engine) RecognizeFile(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrLocalEngine, err)
	}

	client := e.clientFactory()
	defer client.Close()

	if err := e.configure(client); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrLocalEngine, err)
	}
	if err := e.setImage(client, path); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrLocalEngine, err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("%w: recognize text: %w", models.ErrLocalEngine, err)
	}
	text = strings.TrimSpace(text)
	e.logger.Debug("Tesseract finished",
		logger.String("path", path),
		logger.Int("chars", len(text)),
	)
	return text, nil
}

// configure sets no resolution hint. Pages arrive after normalization, which
// may have resized them, so tesseract estimates the DPI itself.
func (e *Engine) configure(client *gosseract.Client) error {
	if len(e.config.Languages) > 0 {
		if err := client.SetLanguage(e.config.Languages...); err != nil {
			return fmt.Errorf("set languages: %w", err)
		}
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(e.config.PageSegMode)); err != nil {
		return fmt.Errorf("set page seg mode: %w", err)
	}
	return nil
}

func (e *Engine) setImage(client *gosseract.Client, path string) error {
	if len(e.chain) == 0 {
		if err := client.SetImage(path); err != nil {
			return fmt.Errorf("set image: %w", err)
		}
		return nil
	}

	img, err := imaging.Open(path)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	if img, err = e.chain.Process(img); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return fmt.Errorf("encode image: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return fmt.Errorf("set image: %w", err)
	}
	return nil
}
