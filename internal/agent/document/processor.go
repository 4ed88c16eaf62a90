package document

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// BlockType classifies a detected text fragment. Only LINE blocks make it
// into the raw text.
type BlockType string

const (
	BlockPage BlockType = "PAGE"
	BlockLine BlockType = "LINE"
	BlockWord BlockType = "WORD"
)

// Block is one fragment returned by an OCR engine, in engine order.
type Block struct {
	Type BlockType
	Text string
}

// Source points a Detector at a stored object. Bucket is set when the
// engine may read the object in place; Open always works.
type Source struct {
	Bucket      string
	Key         string
	ContentType string
	Open        func(ctx context.Context) (io.ReadCloser, error)
}

// ReadAll downloads the object.
func (s Source) ReadAll(ctx context.Context) ([]byte, error) {
	if s.Open == nil {
		return nil, fmt.Errorf("source %s has no reader", s.Key)
	}
	rc, err := s.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.Key, err)
	}
	return data, nil
}

// Detector is the OCR capability.
type Detector interface {
	DetectText(ctx context.Context, src Source) ([]Block, error)
	Name() string
}

// LineText joins LINE blocks with newlines, keeping engine order. No lines
// gives "".
func LineText(blocks []Block) string {
	lines := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == BlockLine {
			lines = append(lines, b.Text)
		}
	}
	return strings.Join(lines, "\n")
}
