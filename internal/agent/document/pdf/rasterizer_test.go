package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/vision-ocr/internal/models"
	"github.com/feichai0017/vision-ocr/internal/workspace"
	"github.com/feichai0017/vision-ocr/pkg/logger"
)

// buildPDF returns a minimal well-formed document with n blank pages.
func buildPDF(n int) []byte {
	var (
		buf     bytes.Buffer
		offsets []int
	)
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	kids := make([]string, n)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n))
	for i := 0; i < n; i++ {
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 100] >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func writePDF(t *testing.T, pages int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, buildPDF(pages), 0o600))
	return path
}

// fakeRenderer writes a small PNG per page, optionally failing one page.
type fakeRenderer struct {
	failPage int
	delay    func(page int) time.Duration

	mu       sync.Mutex
	dpis     []int
	inFlight int32
	maxSeen  int32
}

func (f *fakeRenderer) RenderPage(ctx context.Context, doc string, page, dpi int, outPrefix string) (string, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if cur <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, cur) {
			break
		}
	}

	f.mu.Lock()
	f.dpis = append(f.dpis, dpi)
	f.mu.Unlock()

	if f.delay != nil {
		select {
		case <-time.After(f.delay(page)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if page == f.failPage {
		return "", errors.New("renderer crashed")
	}

	out := outPrefix + ".png"
	img := imaging.New(40, 20, color.Gray{Y: uint8(page * 10)})
	if err := imaging.Save(img, out); err != nil {
		return "", err
	}
	return out, nil
}

func newWorkspace(t *testing.T) (*workspace.Workspace, string) {
	t.Helper()
	root := t.TempDir()
	ws := workspace.New(root, nil)
	t.Cleanup(ws.Release)
	return ws, root
}

func TestPageCount(t *testing.T) {
	for _, n := range []int{1, 3, 12} {
		got, err := PageCount(writePDF(t, n))
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}
}

func TestRasterizeOrdersPagesByIndex(t *testing.T) {
	const total = 9
	renderer := &fakeRenderer{
		// later pages finish first
		delay: func(page int) time.Duration { return time.Duration(total-page) * 5 * time.Millisecond },
	}
	var (
		progress []int
		mu       sync.Mutex
	)
	log := logger.NewTestLogger()
	r := NewRasterizer(renderer, &Options{Workers: 3}, log, WithProgress(func(page, done, n int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, total, n)
		progress = append(progress, done)
	}))

	ws, _ := newWorkspace(t)
	pages, err := r.Rasterize(context.Background(), ws, writePDF(t, total), 0)
	require.NoError(t, err)
	require.Len(t, pages, total)

	for i, p := range pages {
		assert.Equal(t, i+1, p.Index)
		assert.Equal(t, fmt.Sprintf("page_%04d.jpg", i+1), filepath.Base(p.Path))

		f, err := os.Open(p.Path)
		require.NoError(t, err)
		_, format, err := image.DecodeConfig(f)
		f.Close()
		require.NoError(t, err)
		assert.Equal(t, "jpeg", format)
	}

	dir := filepath.Dir(pages[0].Path)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, total, "raw renders should be removed")

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, progress)
	assert.LessOrEqual(t, atomic.LoadInt32(&renderer.maxSeen), int32(3))
	for _, dpi := range renderer.dpis {
		assert.Equal(t, DefaultDPI, dpi)
	}

	var converted []int
	for _, e := range log.GetEntries() {
		if e.Level != "INFO" || e.Message != "Converted page" {
			continue
		}
		fields := map[string]int64{}
		for _, f := range e.Fields {
			fields[f.Key] = f.Integer
		}
		assert.Equal(t, int64(total), fields["total"])
		converted = append(converted, int(fields["page"]))
	}
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, converted)
}

// countingRenderer reports a page count the way pdfinfo would, independent
// of whether the in-process parser accepts the file.
type countingRenderer struct {
	*fakeRenderer
	pages int
	err   error
	calls int32
}

func (c *countingRenderer) PageCount(ctx context.Context, doc string) (int, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.pages, c.err
}

// damagedPDFs returns documents poppler repairs on load but a strict parser
// rejects: line endings rewritten to CRLF, and bytes before the header.
func damagedPDFs(t *testing.T, pages int) map[string]string {
	t.Helper()
	dir := t.TempDir()
	docs := map[string][]byte{
		"crlf":        bytes.ReplaceAll(buildPDF(pages), []byte("\n"), []byte("\r\n")),
		"junk-prefix": append([]byte("junk-prefix\n"), buildPDF(pages)...),
	}
	paths := map[string]string{}
	for name, data := range docs {
		p := filepath.Join(dir, name+".pdf")
		require.NoError(t, os.WriteFile(p, data, 0o600))
		paths[name] = p
	}
	return paths
}

func TestRasterizeCountsPagesWithRenderer(t *testing.T) {
	for name, path := range damagedPDFs(t, 3) {
		t.Run(name, func(t *testing.T) {
			_, err := PageCount(path)
			require.Error(t, err, "strict parser should reject the damaged file")

			renderer := &countingRenderer{fakeRenderer: &fakeRenderer{}, pages: 3}
			ws, _ := newWorkspace(t)
			pages, err := NewRasterizer(renderer, nil, nil).Rasterize(context.Background(), ws, path, 0)
			require.NoError(t, err)
			require.Len(t, pages, 3)
			for i, p := range pages {
				assert.Equal(t, i+1, p.Index)
				assert.FileExists(t, p.Path)
			}
			assert.Equal(t, int32(1), atomic.LoadInt32(&renderer.calls))
		})
	}
}

func TestRasterizeRendererCountWinsOverPageTree(t *testing.T) {
	renderer := &countingRenderer{fakeRenderer: &fakeRenderer{}, pages: 4}
	ws, _ := newWorkspace(t)

	pages, err := NewRasterizer(renderer, nil, nil).Rasterize(context.Background(), ws, writePDF(t, 2), 0)
	require.NoError(t, err)
	assert.Len(t, pages, 4)
}

func TestRasterizeFallsBackToParserWhenCountFails(t *testing.T) {
	renderer := &countingRenderer{fakeRenderer: &fakeRenderer{}, err: errors.New("pdfinfo: not found")}
	log := logger.NewTestLogger()
	ws, _ := newWorkspace(t)

	pages, err := NewRasterizer(renderer, nil, log).Rasterize(context.Background(), ws, writePDF(t, 2), 0)
	require.NoError(t, err)
	assert.Len(t, pages, 2)
	assert.True(t, log.Contains("WARN", "Renderer could not count pages"))
}

func TestRasterizeDamagedWithoutCounterFails(t *testing.T) {
	for name, path := range damagedPDFs(t, 2) {
		t.Run(name, func(t *testing.T) {
			ws, _ := newWorkspace(t)
			renderer := &countingRenderer{fakeRenderer: &fakeRenderer{}, err: errors.New("pdfinfo: not found")}
			_, err := NewRasterizer(renderer, nil, nil).Rasterize(context.Background(), ws, path, 0)
			assert.True(t, errors.Is(err, models.ErrDocumentConversion))
		})
	}
}

func TestRasterizeUsesRequestedDPI(t *testing.T) {
	renderer := &fakeRenderer{}
	ws, _ := newWorkspace(t)

	_, err := NewRasterizer(renderer, nil, nil).Rasterize(context.Background(), ws, writePDF(t, 2), 150)
	require.NoError(t, err)
	assert.Equal(t, []int{150, 150}, renderer.dpis)
}

func TestRasterizeFailures(t *testing.T) {
	corrupt := filepath.Join(t.TempDir(), "corrupt.pdf")
	require.NoError(t, os.WriteFile(corrupt, []byte("%PDF-1.4\nthis is not really a pdf"), 0o600))

	tests := []struct {
		name     string
		path     string
		renderer *fakeRenderer
	}{
		{"corrupt document", corrupt, &fakeRenderer{}},
		{"missing document", filepath.Join(t.TempDir(), "missing.pdf"), &fakeRenderer{}},
		{"zero pages", writePDF(t, 0), &fakeRenderer{}},
		{"page failure", writePDF(t, 4), &fakeRenderer{failPage: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws, _ := newWorkspace(t)
			pages, err := NewRasterizer(tt.renderer, nil, nil).Rasterize(context.Background(), ws, tt.path, 0)
			assert.Nil(t, pages)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrDocumentConversion))
		})
	}
}

func TestRasterizeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	renderer := &fakeRenderer{delay: func(int) time.Duration { return time.Second }}
	ws, root := newWorkspace(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	pages, err := NewRasterizer(renderer, nil, nil).Rasterize(ctx, ws, writePDF(t, 6), 0)
	assert.Nil(t, pages)
	assert.True(t, errors.Is(err, context.Canceled))

	ws.Release()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPopplerRendersBlankPages(t *testing.T) {
	poppler := NewPoppler("")
	if !poppler.Available() {
		t.Skip("pdftoppm not installed")
	}
	ws, _ := newWorkspace(t)

	pages, err := NewRasterizer(poppler, &Options{DPI: 72}, nil).Rasterize(context.Background(), ws, writePDF(t, 2), 0)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	for _, p := range pages {
		assert.FileExists(t, p.Path)
	}
}

func TestPopplerPageCount(t *testing.T) {
	poppler := NewPoppler("")
	if _, err := exec.LookPath("pdfinfo"); err != nil {
		t.Skip("pdfinfo not installed")
	}

	n, err := poppler.PageCount(context.Background(), writePDF(t, 3))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for name, path := range damagedPDFs(t, 3) {
		n, err := poppler.PageCount(context.Background(), path)
		require.NoError(t, err, name)
		assert.Equal(t, 3, n, name)
	}
}

func TestPopplerLooksUpPdfinfoNextToPdftoppm(t *testing.T) {
	bin := filepath.Join("opt", "poppler", "bin", "pdftoppm")
	assert.Equal(t, filepath.Join("opt", "poppler", "bin", "pdfinfo"), NewPoppler(bin).infoBinary)
	assert.Equal(t, "pdfinfo", NewPoppler("").infoBinary)
}

func TestPopplerMissingBinary(t *testing.T) {
	p := NewPoppler("definitely-not-pdftoppm")
	_, err := p.RenderPage(context.Background(), "x.pdf", 1, 72, filepath.Join(t.TempDir(), "p"))
	assert.Error(t, err)

	p.infoBinary = "definitely-not-pdfinfo"
	_, err = p.PageCount(context.Background(), "x.pdf")
	assert.Error(t, err)
}
