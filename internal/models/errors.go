package models

import (
	"errors"
	"fmt"
)

// Errors that abort processing of a file.
var (
	ErrFileNotFound       = errors.New("file not found")
	ErrUnsupportedFormat  = errors.New("unsupported file format")
	ErrDocumentConversion = errors.New("document conversion failed")
)

// Recognition-stage errors. These are absorbed by the recognizer and only
// show up in logs.
var (
	ErrNetworkUnavailable = errors.New("recognition service unavailable")
	ErrRecognitionEmpty   = errors.New("recognition returned no text")
	ErrLocalEngine        = errors.New("local ocr engine failed")
)

// ProcessError carries the failed operation and file for a per-file failure.
type ProcessError struct {
	Op   string
	Path string
	Err  error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}
