package validator

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/tiff"

	"github.com/feichai0017/receipt-processor/internal/apperr"
	"github.com/feichai0017/receipt-processor/pkg/logger"
)

// DocumentValidator 上传文件验证器
type DocumentValidator struct {
	logger logger.Logger
	config *ValidatorConfig
}

type ValidatorConfig struct {
	MaxFileSize  int64               // 最大文件大小（字节）
	AllowedTypes map[string][]string // {扩展名: []MIME类型}
	MinDimension int                 // 图片最小尺寸
}

// FileInfo describes an accepted upload.
type FileInfo struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
	Hash      string `json:"hash"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

func (f *FileInfo) IsImage() bool {
	return strings.HasPrefix(f.MimeType, "image/")
}

type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ValidationErrors is every problem found with one upload.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Message
	}
	return strings.Join(msgs, "; ")
}

// DefaultConfig accepts receipt photos and PDFs up to maxSize bytes.
func DefaultConfig(maxSize int64) *ValidatorConfig {
	return &ValidatorConfig{
		MaxFileSize: maxSize,
		AllowedTypes: map[string][]string{
			".pdf":  {"application/pdf"},
			".jpg":  {"image/jpeg"},
			".jpeg": {"image/jpeg"},
			".png":  {"image/png"},
			// net/http does not sniff TIFF; the decode check below does.
			".tiff": {"image/tiff", "application/octet-stream"},
			".tif":  {"image/tiff", "application/octet-stream"},
		},
		MinDimension: 100,
	}
}

func NewDocumentValidator(log logger.Logger, config *ValidatorConfig) *DocumentValidator {
	if config == nil {
		config = DefaultConfig(10 << 20)
	}
	return &DocumentValidator{logger: log.Named("validator"), config: config}
}

// Validate checks an upload held in memory. Rejections are INVALID_UPLOAD
// errors wrapping ValidationErrors.
func (v *DocumentValidator) Validate(filename string, data []byte) (*FileInfo, error) {
	info := &FileInfo{
		Filename:  filename,
		Size:      int64(len(data)),
		Extension: strings.ToLower(filepath.Ext(filename)),
		MimeType:  http.DetectContentType(data),
	}

	var errs ValidationErrors
	errs = append(errs, v.performBasicValidation(info)...)
	if len(errs) == 0 {
		errs = append(errs, v.validateMimeType(info)...)
	}
	if len(errs) == 0 {
		errs = append(errs, v.performTypeSpecificValidation(data, info)...)
	}
	if len(errs) > 0 {
		v.logger.Info("Upload rejected",
			logger.String("filename", filename),
			logger.String("mimeType", info.MimeType),
			logger.String("reason", errs.Error()),
		)
		return nil, apperr.E(apperr.KindInvalidUpload, "validator.Validate", errs)
	}

	sum := sha256.Sum256(data)
	info.Hash = hex.EncodeToString(sum[:])
	return info, nil
}

func (v *DocumentValidator) performBasicValidation(info *FileInfo) []ValidationError {
	var errors []ValidationError
	if info.Size == 0 {
		errors = append(errors, ValidationError{
			Code:    "EMPTY_FILE",
			Message: "file is empty",
			Field:   "size",
		})
	}
	if info.Size > v.config.MaxFileSize {
		errors = append(errors, ValidationError{
			Code:    "FILE_TOO_LARGE",
			Message: fmt.Sprintf("file size exceeds maximum limit of %d bytes", v.config.MaxFileSize),
			Field:   "size",
		})
	}
	if _, ok := v.config.AllowedTypes[info.Extension]; !ok {
		errors = append(errors, ValidationError{
			Code:    "INVALID_FILE_TYPE",
			Message: fmt.Sprintf("file type %q is not allowed", info.Extension),
			Field:   "extension",
		})
	}
	return errors
}

func (v *DocumentValidator) validateMimeType(info *FileInfo) []ValidationError {
	for _, mime := range v.config.AllowedTypes[info.Extension] {
		if mime == info.MimeType {
			if mime == "application/octet-stream" {
				info.MimeType = "image/tiff"
			}
			return nil
		}
	}
	return []ValidationError{{
		Code:    "INVALID_MIME_TYPE",
		Message: fmt.Sprintf("content %s does not match extension %s", info.MimeType, info.Extension),
		Field:   "mimeType",
	}}
}

func (v *DocumentValidator) performTypeSpecificValidation(data []byte, info *FileInfo) []ValidationError {
	if !info.IsImage() {
		return nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return []ValidationError{{
			Code:    "INVALID_IMAGE",
			Message: "image cannot be decoded",
			Field:   "file",
		}}
	}
	info.Width, info.Height = cfg.Width, cfg.Height

	if cfg.Width < v.config.MinDimension || cfg.Height < v.config.MinDimension {
		return []ValidationError{{
			Code:    "IMAGE_TOO_SMALL",
			Message: fmt.Sprintf("image is %dx%d, minimum side is %d", cfg.Width, cfg.Height, v.config.MinDimension),
			Field:   "file",
		}}
	}
	return nil
}
