package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// PageRenderer renders a single 1-based page of a document to an image file.
// outPrefix is a path without extension; the returned path is the file
// actually written.
type PageRenderer interface {
	RenderPage(ctx context.Context, documentPath string, page, dpi int, outPrefix string) (string, error)
}

// PageCounter reports how many pages a document has. Renderers that
// implement it are asked before the document is parsed in-process.
type PageCounter interface {
	PageCount(ctx context.Context, documentPath string) (int, error)
}

var pdfinfoPages = regexp.MustCompile(`(?m)^Pages:\s+(\d+)\s*$`)

// Poppler renders pages with poppler's pdftoppm and counts them with
// pdfinfo from the same installation.
type Poppler struct {
	binary     string
	infoBinary string
}

// NewPoppler returns a renderer using binary, or pdftoppm from PATH when
// binary is empty. pdfinfo is looked up next to binary.
func NewPoppler(binary string) *Poppler {
	if binary == "" {
		binary = "pdftoppm"
	}
	info := "pdfinfo"
	if strings.ContainsRune(binary, filepath.Separator) {
		info = filepath.Join(filepath.Dir(binary), "pdfinfo")
	}
	return &Poppler{binary: binary, infoBinary: info}
}

// PageCount asks pdfinfo for the page count, so documents poppler repairs
// while loading are counted the same way they are rendered.
func (p *Poppler) PageCount(ctx context.Context, documentPath string) (int, error) {
	cmd := exec.CommandContext(ctx, p.infoBinary, documentPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%s: %w: %s", p.infoBinary, err, strings.TrimSpace(stderr.String()))
	}
	m := pdfinfoPages.FindSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("%s: page count not reported", p.infoBinary)
	}
	return strconv.Atoi(string(m[1]))
}

func (p *Poppler) RenderPage(ctx context.Context, documentPath string, page, dpi int, outPrefix string) (string, error) {
	cmd := exec.CommandContext(ctx,
		p.binary,
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		"-r", strconv.Itoa(dpi),
		"-jpeg",
		"-singlefile",
		documentPath,
		outPrefix,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%s: %w: %s", p.binary, err, strings.TrimSpace(stderr.String()))
	}
	return outPrefix + ".jpg", nil
}

// Available reports whether the renderer binary can be found.
func (p *Poppler) Available() bool {
	_, err := exec.LookPath(p.binary)
	return err == nil
}
