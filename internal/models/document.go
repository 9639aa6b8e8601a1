package models

import (
	"time"
)

// SupportedFormat is the processing class of an input file, decided from its
// extension before anything else happens to the file.
type SupportedFormat int

const (
	FormatUnknown SupportedFormat = iota
	FormatImage
	FormatDocument
)

func (f SupportedFormat) String() string {
	switch f {
	case FormatImage:
		return "image"
	case FormatDocument:
		return "document"
	default:
		return "unknown"
	}
}

// PageImage is one raster image on disk. Index is 1-based within the source
// document; a standalone image is page 1.
type PageImage struct {
	Path  string
	Index int
}

// NormalizedImage is what gets sent to recognition. Temporary images were
// written by the normalizer and must be removed once recognized; otherwise
// Path is the untouched original.
type NormalizedImage struct {
	Path      string
	Temporary bool
}

// RecognitionSource names the strategy that produced a page's text.
type RecognitionSource string

const (
	SourceNone   RecognitionSource = ""
	SourceRemote RecognitionSource = "remote"
	SourceLocal  RecognitionSource = "local"
)

// RecognitionResult is either non-empty text or no result at all.
type RecognitionResult struct {
	Text   string
	Source RecognitionSource
}

// NoResult is the explicit "nothing recognized" value.
var NoResult = RecognitionResult{}

// Found reports whether recognition produced text.
func (r RecognitionResult) Found() bool {
	return r.Text != ""
}

// PageText is the recognized text of one page.
type PageText struct {
	Index  int               `json:"index"`
	Text   string            `json:"text"`
	Source RecognitionSource `json:"source"`
}

// OCRResult is the outcome of processing a single file. Pages only holds pages
// that produced text, in page order.
type OCRResult struct {
	Path      string          `json:"path"`
	Format    SupportedFormat `json:"format"`
	PageCount int             `json:"pageCount"`
	Pages     []PageText      `json:"pages"`
	Text      string          `json:"text"`
	StartedAt time.Time       `json:"startedAt"`
	Duration  time.Duration   `json:"duration"`
}

// HasText reports whether any page produced text. A result without text is
// the file-level "no result".
func (r *OCRResult) HasText() bool {
	return r != nil && len(r.Pages) > 0
}
