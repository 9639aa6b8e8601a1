package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/feichai0017/vision-ocr/internal/agent"
	"github.com/feichai0017/vision-ocr/pkg/logger"
)

const (
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeEmptyFile       = "EMPTY_FILE"
	CodeInvalidFileType = "INVALID_FILE_TYPE"
	CodeInvalidContent  = "INVALID_CONTENT"
)

// DocumentValidator checks uploads before anything is written to disk.
type DocumentValidator struct {
	logger logger.Logger
	config *ValidatorConfig
}

type ValidatorConfig struct {
	MaxFileSize int64
}

type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	FileInfo FileInfo          `json:"fileInfo"`
}

type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type FileInfo struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
	Hash      string `json:"hash"`
}

func NewDocumentValidator(log logger.Logger, config *ValidatorConfig) *DocumentValidator {
	if config == nil {
		config = &ValidatorConfig{MaxFileSize: 50 << 20}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &DocumentValidator{logger: log, config: config}
}

// HasCode reports whether the result failed with the given code.
func (r *ValidationResult) HasCode(code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// ValidateFile checks size and extension first and only reads the content
// when both pass.
func (v *DocumentValidator) ValidateFile(file *multipart.FileHeader) (*ValidationResult, error) {
	result := &ValidationResult{
		IsValid: true,
		FileInfo: FileInfo{
			Filename:  file.Filename,
			Size:      file.Size,
			Extension: strings.ToLower(filepath.Ext(file.Filename)),
		},
	}

	if errs := v.performBasicValidation(result.FileInfo); len(errs) > 0 {
		result.IsValid = false
		result.Errors = errs
		v.logger.Warn("Upload rejected",
			logger.String("filename", file.Filename),
			logger.Int64("size", file.Size),
			logger.String("code", errs[0].Code),
		)
		return result, nil
	}

	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	mimeType, err := v.detectMimeType(f)
	if err != nil {
		return nil, fmt.Errorf("failed to detect mime type: %w", err)
	}
	result.FileInfo.MimeType = mimeType
	if strings.HasPrefix(mimeType, "text/") {
		result.IsValid = false
		result.Errors = append(result.Errors, ValidationError{
			Code:    CodeInvalidContent,
			Message: fmt.Sprintf("Content looks like %s, not %s", mimeType, agent.MIMEType(file.Filename)),
			Field:   "file",
		})
		return result, nil
	}

	hash, err := v.calculateHash(f)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate hash: %w", err)
	}
	result.FileInfo.Hash = hash
	return result, nil
}

func (v *DocumentValidator) performBasicValidation(info FileInfo) []ValidationError {
	var errs []ValidationError

	if info.Size <= 0 {
		errs = append(errs, ValidationError{
			Code:    CodeEmptyFile,
			Message: "File is empty",
			Field:   "size",
		})
	}
	if info.Size > v.config.MaxFileSize {
		errs = append(errs, ValidationError{
			Code:    CodeFileTooLarge,
			Message: fmt.Sprintf("File size exceeds maximum limit of %d bytes", v.config.MaxFileSize),
			Field:   "size",
		})
	}
	if !agent.IsSupportedFile(info.Filename) {
		images, documents := agent.SupportedExtensions()
		errs = append(errs, ValidationError{
			Code: CodeInvalidFileType,
			Message: fmt.Sprintf("File type %q is not allowed, supported: %s",
				info.Extension, strings.Join(append(images, documents...), " ")),
			Field: "extension",
		})
	}
	return errs
}

// detectMimeType sniffs the first 512 bytes and rewinds.
func (v *DocumentValidator) detectMimeType(file multipart.File) (string, error) {
	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(buffer[:n]), nil
}

func (v *DocumentValidator) calculateHash(file multipart.File) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
