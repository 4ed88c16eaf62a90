package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/receipt-processor/internal/agent/document"
	"github.com/feichai0017/receipt-processor/pkg/logger"
)

const maxPageWorkers = 4

// TextLayerDetector reads the embedded text of digital PDFs (e-mailed NFC-e
// receipts, for one) and hands everything else to the fallback engine.
type TextLayerDetector struct {
	fallback document.Detector
	logger   logger.Logger
}

func NewTextLayerDetector(fallback document.Detector, log logger.Logger) *TextLayerDetector {
	return &TextLayerDetector{fallback: fallback, logger: log.Named("pdf")}
}

func (d *TextLayerDetector) Name() string { return "pdf+" + d.fallback.Name() }

func (d *TextLayerDetector) DetectText(ctx context.Context, src document.Source) ([]document.Block, error) {
	if !isPDF(src) {
		return d.fallback.DetectText(ctx, src)
	}

	content, err := src.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	pages, err := extractPages(ctx, content)
	if err != nil {
		d.logger.Warn("PDF text layer unreadable, falling back",
			logger.String("key", src.Key),
			logger.Error(err),
		)
		return d.fallback.DetectText(ctx, src)
	}

	blocks := pagesToBlocks(pages)
	if document.LineText(blocks) == "" {
		d.logger.Debug("PDF has no text layer, falling back", logger.String("key", src.Key))
		return d.fallback.DetectText(ctx, src)
	}
	return blocks, nil
}

func isPDF(src document.Source) bool {
	return src.ContentType == "application/pdf" || strings.HasSuffix(strings.ToLower(src.Key), ".pdf")
}

// extractPages returns the plain text of every page, in page order.
func extractPages(ctx context.Context, content []byte) (pages []string, err error) {
	// ledongthuc/pdf panics on some malformed xref tables.
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return nil, err
	}

	numPages := pdfReader.NumPage()
	pages = make([]string, numPages)

	// 并行处理每一页
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxPageWorkers)
	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("malformed page %d: %v", pageNum, r)
				}
			}()
			if err := ctx.Err(); err != nil {
				return err
			}
			page := pdfReader.Page(pageNum)
			if page.V.IsNull() {
				return nil
			}
			text, err := page.GetPlainText(nil)
			if err != nil {
				return fmt.Errorf("failed to get text from page %d: %w", pageNum, err)
			}
			pages[pageNum-1] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

func pagesToBlocks(pages []string) []document.Block {
	var blocks []document.Block
	for _, text := range pages {
		blocks = append(blocks, document.Block{Type: document.BlockPage})
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			blocks = append(blocks, document.Block{Type: document.BlockLine, Text: line})
		}
	}
	return blocks
}
