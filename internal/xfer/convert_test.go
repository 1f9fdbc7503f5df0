package xfer

import (
	"encoding/binary"
	"testing"

	"github.com/caflang/pgasrt/internal/tassert"
)

// kind4 packs codepoints into a little-endian UTF-32-like byte slice, the
// wire shape convertCharacter's kind-4 side reads and writes.
func kind4(codepoints ...uint32) []byte {
	out := make([]byte, len(codepoints)*4)
	for i, cp := range codepoints {
		binary.LittleEndian.PutUint32(out[i*4:], cp)
	}
	return out
}

// TestConvertCharacterWidenZeroExtends exercises property P5's kind-1-to-
// kind-4 direction: each source byte lands in its own 4-byte slot with the
// high 3 bytes zeroed, not a raw block copy of the source bytes.
func TestConvertCharacterWidenZeroExtends(t *testing.T) {
	raw := []byte("Hi")
	got := convertCharacter(raw, 1, 4, 16) // dst is 4 kind-4 characters
	want := append(kind4('H', 'i'), spaceUnit(4)...)
	want = append(want, spaceUnit(4)...)
	tassert.Fatal(t, string(got) == string(want), "widen mismatch: got %v, want %v", got, want)
}

// TestConvertCharacterNarrowPassesThroughASCII exercises P5's kind-4-to-
// kind-1 direction for codepoints in [0,127]: they must survive unchanged.
func TestConvertCharacterNarrowPassesThroughASCII(t *testing.T) {
	raw := kind4('H', 'i', 127)
	got := convertCharacter(raw, 4, 1, 3)
	want := []byte{'H', 'i', 127}
	tassert.Fatal(t, string(got) == string(want), "ASCII narrow mismatch: got %v, want %v", got, want)
}

// TestConvertCharacterNarrowMapsHighCodepointsToQuestionMark exercises P5's
// other half: any codepoint above 127 collapses to '?', never a truncated
// or arbitrary byte from the 4-byte unit.
func TestConvertCharacterNarrowMapsHighCodepointsToQuestionMark(t *testing.T) {
	raw := kind4(128, 0x4e2d /* 中 */, 0xff)
	got := convertCharacter(raw, 4, 1, 3)
	want := []byte{'?', '?', '?'}
	tassert.Fatal(t, string(got) == string(want), "high-codepoint narrow mismatch: got %v, want %v", got, want)
}

// TestConvertCharacterRoundTrip exercises the full P5 round-trip: widening
// to kind 4 then narrowing back to kind 1 must preserve every codepoint in
// [0,127] and collapse anything higher to '?', regardless of the
// intermediate kind-4 representation.
func TestConvertCharacterRoundTrip(t *testing.T) {
	src := []byte{'A', 'z', '0', 200, 5, 127}
	widened := convertCharacter(src, 1, 4, len(src)*4)
	narrowed := convertCharacter(widened, 4, 1, len(src))

	want := make([]byte, len(src))
	for i, b := range src {
		if b > 127 {
			want[i] = '?'
		} else {
			want[i] = b
		}
	}
	tassert.Fatal(t, string(narrowed) == string(want), "round-trip mismatch: got %v, want %v", narrowed, want)
}
