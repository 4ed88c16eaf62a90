package pdf

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/receipt-processor/internal/agent/document"
	"github.com/feichai0017/receipt-processor/pkg/logger"
)

type stubDetector struct {
	calls int
}

func (s *stubDetector) Name() string { return "stub" }

func (s *stubDetector) DetectText(context.Context, document.Source) ([]document.Block, error) {
	s.calls++
	return []document.Block{{Type: document.BlockLine, Text: "from fallback"}}, nil
}

func sourceOf(key, contentType, body string) document.Source {
	return document.Source{
		Key:         key,
		ContentType: contentType,
		Open: func(context.Context) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
	}
}

func TestImagesGoStraightToFallback(t *testing.T) {
	fb := &stubDetector{}
	d := NewTextLayerDetector(fb, logger.NewNop())

	blocks, err := d.DetectText(context.Background(), sourceOf("receipts/a.jpg", "image/jpeg", "jpeg"))
	require.NoError(t, err)
	assert.Equal(t, 1, fb.calls)
	assert.Equal(t, "from fallback", document.LineText(blocks))
}

func TestBrokenPDFFallsBack(t *testing.T) {
	fb := &stubDetector{}
	d := NewTextLayerDetector(fb, logger.NewNop())

	blocks, err := d.DetectText(context.Background(), sourceOf("receipts/a.pdf", "application/pdf", "%PDF-garbage"))
	require.NoError(t, err)
	assert.Equal(t, 1, fb.calls)
	assert.Equal(t, "from fallback", document.LineText(blocks))
}

func TestPagesToBlocks(t *testing.T) {
	blocks := pagesToBlocks([]string{"MERCADO\n\n  TOTAL 10,00 \n", "", "OBRIGADO"})

	assert.Equal(t, "MERCADO\nTOTAL 10,00\nOBRIGADO", document.LineText(blocks))
	pages := 0
	for _, b := range blocks {
		if b.Type == document.BlockPage {
			pages++
		}
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, "", document.LineText(pagesToBlocks([]string{" \n "})))
}

func TestName(t *testing.T) {
	assert.Equal(t, "pdf+stub", NewTextLayerDetector(&stubDetector{}, logger.NewNop()).Name())
}
