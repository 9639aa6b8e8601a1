package agent

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/feichai0017/vision-ocr/internal/models"
)

// supported image extensions and their MIME types
var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".bmp":  "image/bmp",
	".tiff": "image/tiff",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// supported paged document extensions
var documentExtensions = map[string]string{
	".pdf": "application/pdf",
}

// Classify maps a path to its processing class by extension.
func Classify(path string) (models.SupportedFormat, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := documentExtensions[ext]; ok {
		return models.FormatDocument, nil
	}
	if _, ok := imageExtensions[ext]; ok {
		return models.FormatImage, nil
	}
	if ext == "" {
		ext = "(none)"
	}
	return models.FormatUnknown, fmt.Errorf("%w: %s", models.ErrUnsupportedFormat, ext)
}

// IsSupportedFile reports whether path has an image or document extension.
func IsSupportedFile(path string) bool {
	_, err := Classify(path)
	return err == nil
}

// MIMEType returns the MIME type for a supported path, or "" otherwise.
func MIMEType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if m, ok := imageExtensions[ext]; ok {
		return m
	}
	return documentExtensions[ext]
}

// SupportedExtensions lists the accepted extensions, sorted, split into
// images and documents.
func SupportedExtensions() (images, documents []string) {
	for ext := range imageExtensions {
		images = append(images, ext)
	}
	for ext := range documentExtensions {
		documents = append(documents, ext)
	}
	sort.Strings(images)
	sort.Strings(documents)
	return images, documents
}
