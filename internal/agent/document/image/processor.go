//go:build tesseract

package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"
	_ "golang.org/x/image/tiff"

	"github.com/feichai0017/receipt-processor/internal/agent/document"
	"github.com/feichai0017/receipt-processor/pkg/logger"
)

// TesseractDetector runs OCR locally. It needs libtesseract, so it is only
// compiled with the tesseract build tag.
type TesseractDetector struct {
	languages     []string
	preprocessors Chain
	logger        logger.Logger
}

func NewTesseractDetector(languages []string, log logger.Logger) (*TesseractDetector, error) {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &TesseractDetector{
		languages:     languages,
		preprocessors: OCRChain(),
		logger:        log.Named("tesseract"),
	}, nil
}

func (d *TesseractDetector) Name() string { return "tesseract" }

func (d *TesseractDetector) DetectText(ctx context.Context, src document.Source) ([]document.Block, error) {
	data, err := src.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	img, err = d.preprocessors.Process(img)
	if err != nil {
		return nil, fmt.Errorf("preprocessing failed: %w", err)
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: 100}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	// 每个任务使用独立的 Tesseract 客户端
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(d.languages...); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("failed to get text lines: %w", err)
	}

	blocks := make([]document.Block, 0, len(boxes)+1)
	blocks = append(blocks, document.Block{Type: document.BlockPage})
	for _, box := range boxes {
		line := strings.TrimSpace(box.Word)
		if line == "" {
			continue
		}
		blocks = append(blocks, document.Block{Type: document.BlockLine, Text: line})
	}

	d.logger.Debug("Tesseract finished",
		logger.String("key", src.Key),
		logger.Int("lines", len(blocks)-1),
		logger.Strings("languages", d.languages),
	)
	return blocks, nil
}
