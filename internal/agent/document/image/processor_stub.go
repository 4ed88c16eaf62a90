//go:build !tesseract

package image

import (
	"context"
	"errors"

	"github.com/feichai0017/receipt-processor/internal/agent/document"
	"github.com/feichai0017/receipt-processor/pkg/logger"
)

// ErrTesseractUnavailable is returned when the binary was built without the
// tesseract tag.
var ErrTesseractUnavailable = errors.New("tesseract support not compiled in (build with -tags tesseract)")

type TesseractDetector struct{}

func NewTesseractDetector(_ []string, _ logger.Logger) (*TesseractDetector, error) {
	return nil, ErrTesseractUnavailable
}

func (d *TesseractDetector) Name() string { return "tesseract" }

func (d *TesseractDetector) DetectText(context.Context, document.Source) ([]document.Block, error) {
	return nil, ErrTesseractUnavailable
}
