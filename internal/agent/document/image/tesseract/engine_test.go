package tesseract

import (
	"context"
	"errors"
	"image/color"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ocrimage "github.com/feichai0017/vision-ocr/internal/agent/document/image"
	"github.com/feichai0017/vision-ocr/internal/models"
	"github.com/feichai0017/vision-ocr/pkg/logger"
)

func requireTesseract(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed")
	}
}

func blankPage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blank.png")
	require.NoError(t, imaging.Save(imaging.New(200, 100, color.White), path))
	return path
}

func TestRecognizeFileBlankPage(t *testing.T) {
	requireTesseract(t)

	for name, cfg := range map[string]*Config{
		"plain": nil,
		"preprocessed": {
			Languages:   []string{"eng"},
			PageSegMode: 3,
			Preprocess:  &ocrimage.PreprocessConfig{Grayscale: true, Contrast: 20},
		},
	} {
		t.Run(name, func(t *testing.T) {
			text, err := NewEngine(cfg, logger.NewTestLogger()).RecognizeFile(context.Background(), blankPage(t))
			require.NoError(t, err)
			assert.Empty(t, text)
		})
	}
}

func TestConfigureSetsNoResolutionHint(t *testing.T) {
	requireTesseract(t)

	engine := NewEngine(&Config{Languages: []string{"eng"}, PageSegMode: 6}, nil)
	client := engine.clientFactory()
	defer client.Close()

	require.NoError(t, engine.configure(client))
	_, ok := client.Variables["user_defined_dpi"]
	assert.False(t, ok)
	assert.Equal(t, []string{"eng"}, client.Languages)
}

func TestRecognizeFileMissingImage(t *testing.T) {
	requireTesseract(t)

	engine := NewEngine(&Config{
		Languages:  []string{"eng"},
		Preprocess: &ocrimage.PreprocessConfig{Grayscale: true},
	}, nil)
	_, err := engine.RecognizeFile(context.Background(), filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrLocalEngine))
}

func TestRecognizeFileCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(nil, nil).RecognizeFile(ctx, "unused.png")
	assert.True(t, errors.Is(err, models.ErrLocalEngine))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestEngineSatisfiesLocalEngine(t *testing.T) {
	var _ ocrimage.LocalEngine = NewEngine(nil, nil)
}
