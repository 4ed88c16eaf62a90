package testutil

import (
	"context"
	"sync"

	"github.com/feichai0017/receipt-processor/internal/agent/document"
)

// Detector returns canned blocks.
type Detector struct {
	mu      sync.Mutex
	Blocks  []document.Block
	Err     error
	sources []document.Source
}

func (d *Detector) Name() string { return "fake" }

func (d *Detector) DetectText(_ context.Context, src document.Source) ([]document.Block, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sources = append(d.sources, src)
	if d.Err != nil {
		return nil, d.Err
	}
	return append([]document.Block(nil), d.Blocks...), nil
}

// SetBlocks swaps the canned answer between calls.
func (d *Detector) SetBlocks(blocks []document.Block) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Blocks = blocks
}

func (d *Detector) Sources() []document.Source {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]document.Source(nil), d.sources...)
}

// Lines builds a PAGE block followed by one LINE per argument.
func Lines(lines ...string) []document.Block {
	blocks := []document.Block{{Type: document.BlockPage}}
	for _, l := range lines {
		blocks = append(blocks, document.Block{Type: document.BlockLine, Text: l})
	}
	return blocks
}
