// Package zstdutil wraps shared zstd encoder and decoder instances for
// whole-buffer compression of stored blobs.
package zstdutil

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	once    sync.Once
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	initErr error
)

func setup() {
	once.Do(func() {
		encoder, initErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if initErr != nil {
			return
		}
		decoder, initErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
	})
}

// Compress returns the zstd frame for src.
func Compress(src []byte) ([]byte, error) {
	setup()
	if initErr != nil {
		return nil, fmt.Errorf("zstd init: %w", initErr)
	}
	return encoder.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

// Decompress decodes a frame produced by Compress.
func Decompress(src []byte) ([]byte, error) {
	setup()
	if initErr != nil {
		return nil, fmt.Errorf("zstd init: %w", initErr)
	}
	out, err := decoder.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}
