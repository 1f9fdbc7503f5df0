package tcpb

import (
	"fmt"

	"github.com/klauspost/compress/s2"
	"github.com/pierrec/lz4/v3"

	"github.com/caflang/pgasrt/internal/config"
)

// compress encodes data with the configured codec when it is at least
// threshold bytes, mirroring the teacher's config.TCB.Compression knob
// (xact/xs/tcb.go's dmExtra.Compression). Below threshold the payload
// travels uncompressed and codec is reported as config.CodecNone so the
// receiver doesn't pay a decode round-trip for tiny atomics payloads.
func compress(codec string, threshold int, data []byte) (out []byte, usedCodec string, origLen int) {
	if len(data) < threshold || codec == config.CodecNone {
		return data, config.CodecNone, len(data)
	}
	switch codec {
	case config.CodecS2:
		return s2.Encode(nil, data), config.CodecS2, len(data)
	case config.CodecLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil || n == 0 {
			// incompressible or tiny input: lz4 block compressor
			// returns n==0 for "would not shrink"; fall back to raw.
			return data, config.CodecNone, len(data)
		}
		return dst[:n], config.CodecLZ4, len(data)
	default:
		return data, config.CodecNone, len(data)
	}
}

func decompress(codec string, data []byte, origLen int) ([]byte, error) {
	switch codec {
	case config.CodecNone, "":
		return data, nil
	case config.CodecS2:
		return s2.Decode(nil, data)
	case config.CodecLZ4:
		dst := make([]byte, origLen)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return dst[:n], nil
	default:
		return nil, fmt.Errorf("unknown compression codec %q", codec)
	}
}
