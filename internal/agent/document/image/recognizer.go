package image

import (
	"context"
	"encoding/base64"
	"os"
	"strings"
	"time"

	"github.com/feichai0017/vision-ocr/internal/models"
	"github.com/feichai0017/vision-ocr/pkg/logger"
)

// RemoteEngine recognizes a base64-encoded image through a model service.
type RemoteEngine interface {
	Recognize(ctx context.Context, base64Image string) RemoteOutcome
}

// LocalEngine recognizes an image file on this host.
type LocalEngine interface {
	RecognizeFile(ctx context.Context, path string) (string, error)
}

// Recognizer tries the remote engine first and substitutes the local engine
// only when the remote one produced no text.
type Recognizer struct {
	remote RemoteEngine
	local  LocalEngine
	logger logger.Logger
}

// NewRecognizer wires the two strategies. Either may be nil, in which case
// that strategy always yields no result.
func NewRecognizer(remote RemoteEngine, local LocalEngine, log logger.Logger) *Recognizer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Recognizer{remote: remote, local: local, logger: log}
}

// Recognize never returns an error. Failures of either strategy collapse to
// models.NoResult.
func (r *Recognizer) Recognize(ctx context.Context, img models.NormalizedImage) models.RecognitionResult {
	start := time.Now()
	log := r.logger.With(logger.String("image", img.Path))

	if text, ok := r.tryRemote(ctx, log, img.Path); ok {
		log.Info("Recognized with remote model", logger.Duration("duration", time.Since(start)))
		return models.RecognitionResult{Text: text, Source: models.SourceRemote}
	}

	if err := ctx.Err(); err != nil {
		log.Warn("Skipping local fallback, context done", logger.Error(err))
		return models.NoResult
	}

	if text, ok := r.tryLocal(ctx, log, img.Path); ok {
		log.Info("Recognized with local engine", logger.Duration("duration", time.Since(start)))
		return models.RecognitionResult{Text: text, Source: models.SourceLocal}
	}

	log.Warn("No text recognized", logger.Duration("duration", time.Since(start)))
	return models.NoResult
}

func (r *Recognizer) tryRemote(ctx context.Context, log logger.Logger, path string) (string, bool) {
	if r.remote == nil {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("Failed to read image for remote recognition", logger.Error(err))
		return "", false
	}

	out := r.remote.Recognize(ctx, base64.StdEncoding.EncodeToString(data))
	if !out.Found() {
		log.Info("Remote recognition produced no text, falling back",
			logger.String("status", out.Status.String()),
			logger.Error(out.Err),
		)
		return "", false
	}
	return out.Text, true
}

func (r *Recognizer) tryLocal(ctx context.Context, log logger.Logger, path string) (string, bool) {
	if r.local == nil {
		return "", false
	}
	text, err := r.local.RecognizeFile(ctx, path)
	if err != nil {
		log.Warn("Local recognition failed", logger.Error(err))
		return "", false
	}
	text = strings.TrimSpace(text)
	return text, text != ""
}
