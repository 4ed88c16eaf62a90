package agent

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/feichai0017/receipt-processor/config"
	"github.com/feichai0017/receipt-processor/internal/agent/document"
	"github.com/feichai0017/receipt-processor/internal/agent/document/image"
	"github.com/feichai0017/receipt-processor/internal/agent/document/pdf"
	"github.com/feichai0017/receipt-processor/internal/models"
	"github.com/feichai0017/receipt-processor/pkg/logger"
	"github.com/feichai0017/receipt-processor/pkg/storage"
)

// 扩展名到 MIME 类型的映射
var extToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".pdf":  "application/pdf",
}

// MIMEFor maps a file extension (with or without the dot) to its MIME type.
func MIMEFor(ext string) (string, bool) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	mime, ok := extToMIME[ext]
	return mime, ok
}

// NewDetector builds the configured OCR engine, optionally fronted by the PDF
// text layer reader.
func NewDetector(ctx context.Context, cfg *config.Config, log logger.Logger) (document.Detector, error) {
	var (
		base document.Detector
		err  error
	)
	switch cfg.OCR.Engine {
	case "textract":
		base, err = image.NewTextractDetector(ctx, cfg.Textract.Resolved(cfg.S3), log)
	case "tesseract":
		base, err = image.NewTesseractDetector(cfg.OCR.Languages, log)
	default:
		return nil, fmt.Errorf("unsupported OCR engine: %s", cfg.OCR.Engine)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s detector: %w", cfg.OCR.Engine, err)
	}

	if cfg.OCR.PDFTextLayer {
		base = pdf.NewTextLayerDetector(base, log)
	}
	log.Info("OCR engine ready", logger.String("engine", base.Name()))
	return base, nil
}

// SourceFor points a detector at a stored file. Backends that live in S3
// expose their bucket so Textract can read the object in place.
func SourceFor(store storage.Storage, file *models.StoredFile) document.Source {
	key := file.ObjectKey()
	src := document.Source{
		Key:         key,
		ContentType: file.ContentType,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return store.Get(ctx, key)
		},
	}
	if src.ContentType == "" {
		src.ContentType, _ = MIMEFor(path.Ext(key))
	}
	if loc, ok := store.(storage.S3Locator); ok {
		src.Bucket = loc.Bucket()
	}
	return src
}
