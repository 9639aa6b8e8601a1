package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/vision-ocr/internal/models"
	"github.com/feichai0017/vision-ocr/internal/workspace"
	"github.com/feichai0017/vision-ocr/pkg/logger"
)

const (
	DefaultDPI         = 300
	DefaultWorkers     = 4
	DefaultJPEGQuality = 85
)

type Options struct {
	DPI         int
	Workers     int
	JPEGQuality int
}

func DefaultOptions() *Options {
	return &Options{
		DPI:         DefaultDPI,
		Workers:     DefaultWorkers,
		JPEGQuality: DefaultJPEGQuality,
	}
}

// ProgressFunc is told each time a page finishes. Calls are serialized.
type ProgressFunc func(page, done, total int)

type Option func(*Rasterizer)

func WithProgress(fn ProgressFunc) Option {
	return func(r *Rasterizer) {
		r.progress = fn
	}
}

// Rasterizer turns a paged document into one JPEG per page.
type Rasterizer struct {
	renderer PageRenderer
	opts     Options
	logger   logger.Logger
	progress ProgressFunc
}

func NewRasterizer(renderer PageRenderer, opts *Options, log logger.Logger, options ...Option) *Rasterizer {
	if renderer == nil {
		renderer = NewPoppler("")
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.DPI <= 0 {
		o.DPI = DefaultDPI
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.JPEGQuality <= 0 || o.JPEGQuality > 100 {
		o.JPEGQuality = DefaultJPEGQuality
	}
	if log == nil {
		log = logger.NewNop()
	}
	r := &Rasterizer{renderer: renderer, opts: o, logger: log}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Rasterize renders every page of the document at dpi (<= 0 means the
// configured default) into a single workspace directory. The result is
// ordered by page index. Any failure aborts the whole document and wraps
// models.ErrDocumentConversion.
func (r *Rasterizer) Rasterize(ctx context.Context, ws *workspace.Workspace, path string, dpi int) ([]models.PageImage, error) {
	if dpi <= 0 {
		dpi = r.opts.DPI
	}
	start := time.Now()

	total, err := r.countPages(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrDocumentConversion, err)
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: document has no pages", models.ErrDocumentConversion)
	}

	dir, err := ws.MkdirTemp("raster-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrDocumentConversion, err)
	}

	r.logger.Info("Rasterizing document",
		logger.String("path", path),
		logger.Int("pages", total),
		logger.Int("dpi", dpi),
	)

	pages := make([]models.PageImage, total)
	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i := 1; i <= total; i++ {
		index := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := r.renderPage(gctx, dir, path, index, dpi)
			if err != nil {
				return fmt.Errorf("page %d: %w", index, err)
			}
			pages[index-1] = models.PageImage{Path: out, Index: index}

			mu.Lock()
			done++
			r.logger.Info("Converted page", logger.Int("page", index), logger.Int("total", total))
			if r.progress != nil {
				r.progress(index, done, total)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrDocumentConversion, err)
	}

	r.logger.Info("Document rasterized",
		logger.String("path", path),
		logger.Int("pages", total),
		logger.Duration("duration", time.Since(start)),
	)
	return pages, nil
}

// countPages prefers the renderer's own count and falls back to parsing the
// document when the renderer cannot count or fails to.
func (r *Rasterizer) countPages(ctx context.Context, path string) (int, error) {
	if counter, ok := r.renderer.(PageCounter); ok {
		n, err := counter.PageCount(ctx, path)
		if err == nil {
			return n, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		r.logger.Warn("Renderer could not count pages, parsing document",
			logger.String("path", path),
			logger.Error(err),
		)
	}
	return PageCount(path)
}

// renderPage renders one page and re-encodes it as page_NNNN.jpg.
func (r *Rasterizer) renderPage(ctx context.Context, dir, path string, index, dpi int) (string, error) {
	raw, err := r.renderer.RenderPage(ctx, path, index, dpi, filepath.Join(dir, fmt.Sprintf("raw_%04d", index)))
	if err != nil {
		return "", err
	}
	defer os.Remove(raw)

	img, err := imaging.Open(raw)
	if err != nil {
		return "", fmt.Errorf("decode rendered page: %w", err)
	}
	out := filepath.Join(dir, fmt.Sprintf("page_%04d.jpg", index))
	if err := imaging.Save(img, out, imaging.JPEGQuality(r.opts.JPEGQuality)); err != nil {
		return "", fmt.Errorf("encode page: %w", err)
	}
	return out, nil
}

// PageCount opens the document and returns its page count. Documents the
// parser cannot read are reported as errors, including parser panics.
func PageCount(path string) (n int, err error) {
	defer func() {
		if p := recover(); p != nil {
			n, err = 0, fmt.Errorf("malformed document: %v", p)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()
	return reader.NumPage(), nil
}
