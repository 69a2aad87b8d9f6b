package zstdutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte(`{"tp9":812.5,"af7":790.25}`), 200)

	packed, err := Compress(src)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(src))

	out, err := Decompress(packed)
	require.NoError(t, err)
	assert.Equal(t, src, out)
}

func TestDecompressRejectsGarbage(t *testing.T) {
	_, err := Decompress([]byte("not a zstd frame"))
	assert.Error(t, err)
}
