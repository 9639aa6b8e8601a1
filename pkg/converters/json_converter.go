package converters

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/feichai0017/vision-ocr/internal/models"
)

// DocumentConverter turns a file-level OCR result into its published form.
type DocumentConverter interface {
	Convert(result *models.OCRResult) (*ProcessedDocument, error)
}

const (
	StatusCompleted = "completed"
	StatusNoText    = "no_text"
)

// ProcessedDocument is the JSON document returned by the CLI and the API.
type ProcessedDocument struct {
	ID          string           `json:"id,omitempty"`
	Status      string           `json:"status"`
	Text        string           `json:"text"`
	Content     []PageContent    `json:"content"`
	Metadata    DocumentMetadata `json:"metadata"`
	ProcessedAt time.Time        `json:"processedAt"`
}

// PageContent is the text of one page that produced any.
type PageContent struct {
	Text     string `json:"text"`
	Position int    `json:"position"`
	Type     string `json:"type"`
	Source   string `json:"source"`
}

type DocumentMetadata struct {
	FileName      string `json:"fileName"`
	FileType      string `json:"fileType"`
	Format        string `json:"format"`
	FileSize      int64  `json:"fileSize,omitempty"`
	PageCount     int    `json:"pageCount"`
	PagesWithText int    `json:"pagesWithText"`
	RemotePages   int    `json:"remotePages"`
	LocalPages    int    `json:"localPages"`
	ProcessingMs  int64  `json:"processingMs"`
}

type JSONConverter struct{}

func NewJSONConverter() *JSONConverter {
	return &JSONConverter{}
}

func (c *JSONConverter) Convert(result *models.OCRResult) (*ProcessedDocument, error) {
	if result == nil {
		return nil, fmt.Errorf("no result to convert")
	}

	contentType := "page"
	if result.Format == models.FormatImage {
		contentType = "image"
	}

	doc := &ProcessedDocument{
		Status:      StatusNoText,
		Text:        result.Text,
		Content:     make([]PageContent, 0, len(result.Pages)),
		ProcessedAt: result.StartedAt.Add(result.Duration),
		Metadata: DocumentMetadata{
			FileName:      filepath.Base(result.Path),
			FileType:      strings.ToLower(filepath.Ext(result.Path)),
			Format:        result.Format.String(),
			PageCount:     result.PageCount,
			PagesWithText: len(result.Pages),
			ProcessingMs:  result.Duration.Milliseconds(),
		},
	}
	if result.HasText() {
		doc.Status = StatusCompleted
	}
	if info, err := os.Stat(result.Path); err == nil {
		doc.Metadata.FileSize = info.Size()
	}

	for _, page := range result.Pages {
		doc.Content = append(doc.Content, PageContent{
			Text:     page.Text,
			Position: page.Index,
			Type:     contentType,
			Source:   string(page.Source),
		})
		switch page.Source {
		case models.SourceRemote:
			doc.Metadata.RemotePages++
		case models.SourceLocal:
			doc.Metadata.LocalPages++
		}
	}

	return doc, nil
}
