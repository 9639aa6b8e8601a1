package image

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/feichai0017/vision-ocr/internal/models"
	"github.com/feichai0017/vision-ocr/internal/workspace"
	"github.com/feichai0017/vision-ocr/pkg/logger"
)

// NormalizeOptions bounds the images handed to recognition.
type NormalizeOptions struct {
	MaxDimension int
	JPEGQuality  int
}

// DefaultNormalizeOptions caps the longer side at 2048px and re-encodes at
// JPEG quality 85.
func DefaultNormalizeOptions() *NormalizeOptions {
	return &NormalizeOptions{
		MaxDimension: 2048,
		JPEGQuality:  85,
	}
}

// Normalizer turns arbitrary raster input into a bounded three-channel JPEG.
type Normalizer struct {
	opts   *NormalizeOptions
	logger logger.Logger
}

func NewNormalizer(opts *NormalizeOptions, log logger.Logger) *Normalizer {
	if opts == nil {
		opts = DefaultNormalizeOptions()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Normalizer{opts: opts, logger: log}
}

// Normalize writes a re-encoded copy of path into a new workspace directory.
// It never fails: if the image cannot be decoded or written the original path
// comes back with Temporary=false.
func (n *Normalizer) Normalize(ws *workspace.Workspace, path string) models.NormalizedImage {
	out, err := n.normalize(ws, path)
	if err != nil {
		n.logger.Warn("Image optimization failed, using original",
			logger.String("path", path),
			logger.Error(err),
		)
		return models.NormalizedImage{Path: path}
	}
	return models.NormalizedImage{Path: out, Temporary: true}
}

func (n *Normalizer) normalize(ws *workspace.Workspace, path string) (string, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	src := img.Bounds()

	if needsFlatten(img) {
		img = flatten(img)
	}

	if limit := n.opts.MaxDimension; limit > 0 && max(src.Dx(), src.Dy()) > limit {
		img = imaging.Fit(img, limit, limit, imaging.Lanczos)
	}

	dir, err := ws.MkdirTemp("normalize-*")
	if err != nil {
		return "", err
	}
	out := filepath.Join(dir, "optimized.jpg")
	if err := imaging.Save(img, out, imaging.JPEGQuality(n.opts.JPEGQuality)); err != nil {
		ws.Remove(out)
		return "", fmt.Errorf("failed to encode image: %w", err)
	}

	dst := img.Bounds()
	n.logger.Debug("Image optimized",
		logger.String("path", path),
		logger.Int("width", dst.Dx()),
		logger.Int("height", dst.Dy()),
		logger.Bool("resized", dst.Size() != src.Size()),
	)
	return out, nil
}

// needsFlatten reports whether img is paletted or carries real transparency,
// neither of which survives a JPEG round trip cleanly.
func needsFlatten(img image.Image) bool {
	if _, ok := img.(*image.Paletted); ok {
		return true
	}
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return false
}

// flatten composites img over a white canvas of the same size.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
