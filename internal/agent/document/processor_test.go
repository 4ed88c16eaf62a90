package document

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineTextKeepsOnlyLines(t *testing.T) {
	blocks := []Block{
		{Type: BlockLine, Text: "A"},
		{Type: BlockWord, Text: "x"},
		{Type: BlockLine, Text: "B"},
	}
	assert.Equal(t, "A\nB", LineText(blocks))
}

func TestLineTextEmpty(t *testing.T) {
	assert.Equal(t, "", LineText(nil))
	assert.Equal(t, "", LineText([]Block{{Type: BlockPage}, {Type: BlockWord, Text: "x"}}))
}

func TestSourceReadAll(t *testing.T) {
	src := Source{Key: "k", Open: func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("bytes")), nil
	}}
	data, err := src.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bytes", string(data))

	_, err = Source{Key: "k"}.ReadAll(context.Background())
	assert.Error(t, err)

	boom := errors.New("no such key")
	_, err = Source{Key: "k", Open: func(context.Context) (io.ReadCloser, error) { return nil, boom }}.ReadAll(context.Background())
	assert.ErrorIs(t, err, boom)
}
