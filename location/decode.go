// ABOUTME: Pluggable source-text decoders, selected by a small registry
// ABOUTME: Adapted from a dump-format-detection registry into encoding detection

package location

import (
	"sync"
	"unicode/utf8"

	"golang.org/x/text/transform"
)

// Decoder turns a function's raw source bytes into a Go string. Multiple
// decoders can be registered; Decode tries each in registration order and
// uses the first one that claims the input.
type Decoder interface {
	// CanDecode reports whether this decoder should handle data given the
	// cesu8 flag the host attached to it.
	CanDecode(data []byte, cesu8 bool) bool
	// Decode converts data to a string, measuring the consumed length
	// incrementally rather than over-allocating a fixed expansion buffer.
	Decode(data []byte) (string, error)
}

type decoderRegistry struct {
	mu       sync.Mutex
	decoders []Decoder
}

var registry = &decoderRegistry{}

// RegisterDecoder adds a decoder to the shared registry. Intended to be
// called from init() by decoder implementations.
func RegisterDecoder(d Decoder) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.decoders = append(registry.decoders, d)
}

func init() {
	RegisterDecoder(utf8Decoder{})
	RegisterDecoder(cesu8Decoder{})
}

// Decode converts source bytes to a string using whichever registered
// decoder claims the input, falling back to a raw byte-for-byte conversion
// if none does. With the two built-in decoders that fallback is taken for
// non-CESU-8 input that is not valid UTF-8.
func Decode(data []byte, cesu8 bool) (string, error) {
	registry.mu.Lock()
	decoders := make([]Decoder, len(registry.decoders))
	copy(decoders, registry.decoders)
	registry.mu.Unlock()

	for _, d := range decoders {
		if d.CanDecode(data, cesu8) {
			return d.Decode(data)
		}
	}
	return string(data), nil
}

// utf8Decoder handles the common case: the host's source bytes are
// already valid UTF-8.
type utf8Decoder struct{}

func (utf8Decoder) CanDecode(data []byte, cesu8 bool) bool {
	return !cesu8 && utf8.Valid(data)
}

func (utf8Decoder) Decode(data []byte) (string, error) {
	return string(data), nil
}

// cesu8Decoder handles CESU-8 source text: astral codepoints are encoded
// as a UTF-16 surrogate pair, each half re-encoded as its own three-byte
// UTF-8 sequence, rather than as one four-byte UTF-8 sequence. Decoding
// runs as an incremental transform.Transformer pass rather than against
// a fixed-size scratch buffer, so it has no worst-case length to guess.
type cesu8Decoder struct{}

func (cesu8Decoder) CanDecode(data []byte, cesu8 bool) bool {
	return cesu8
}

func (cesu8Decoder) Decode(data []byte) (string, error) {
	out, _, err := transform.Bytes(cesu8Transformer{}, data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// cesu8Transformer rewrites a CESU-8 surrogate pair (two three-byte
// sequences encoding a UTF-16 high/low surrogate) into the single
// four-byte UTF-8 sequence for the codepoint they represent. Any byte
// sequence that is not part of such a pair passes through unchanged.
type cesu8Transformer struct{ transform.NopResetter }

const (
	surrHighFirst = 0xD800
	surrHighLast  = 0xDBFF
	surrLowFirst  = 0xDC00
	surrLowLast   = 0xDFFF
)

func (cesu8Transformer) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		r, size := decodeCesu8Rune(src[nSrc:])
		if size == 0 {
			if !atEOF {
				return nDst, nSrc, transform.ErrShortSrc
			}
			// At EOF, a byte that starts no decodable sequence is copied
			// through raw.
			if nDst+1 > len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst] = src[nSrc]
			nDst++
			nSrc++
			continue
		}

		need := utf8.RuneLen(r)
		if need < 0 {
			need = 3
		}
		if nDst+need > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		w := utf8.EncodeRune(dst[nDst:], r)
		nDst += w
		nSrc += size
	}
	return nDst, nSrc, nil
}

// decodeCesu8Rune reads either a plain three-byte CESU-8 sequence or a
// surrogate pair (two three-byte sequences) from the front of src,
// returning the decoded rune and the number of source bytes consumed.
// size is 0 if src does not yet hold a complete sequence, or if it starts
// with a sequence this function does not decode (a non-three-byte
// multi-byte sequence, an unpaired surrogate, or invalid UTF-8).
func decodeCesu8Rune(src []byte) (r rune, size int) {
	if len(src) == 0 {
		return 0, 0
	}
	if src[0] < utf8.RuneSelf {
		return rune(src[0]), 1
	}

	hi, n := decodeUTF16SurrogateHalf(src)
	if n == 0 {
		return 0, 0
	}
	if hi < surrHighFirst || hi > surrHighLast {
		// Not a high surrogate: decode it as a plain BMP codepoint in normal
		// three-byte UTF-8. A sequence utf8 rejects (such as a lone low
		// surrogate) reports size 0, so its bytes are copied through as-is.
		r, sz := utf8.DecodeRune(src)
		if r == utf8.RuneError && sz == 1 {
			return 0, 0
		}
		return r, sz
	}

	if len(src) < n+3 {
		return 0, 0
	}
	lo, n2 := decodeUTF16SurrogateHalf(src[n:])
	if n2 == 0 || lo < surrLowFirst || lo > surrLowLast {
		return 0, 0
	}

	combined := (((rune(hi) - surrHighFirst) << 10) | (rune(lo) - surrLowFirst)) + 0x10000
	return combined, n + n2
}

// decodeUTF16SurrogateHalf reads one UTF-16 code unit encoded as either a
// standard UTF-8 sequence (BMP codepoint) or, for the surrogate range
// itself (which is invalid to encode directly in strict UTF-8), a raw
// three-byte sequence following CESU-8's convention of encoding surrogate
// halves as if they were ordinary three-byte codepoints.
func decodeUTF16SurrogateHalf(src []byte) (unit uint16, size int) {
	if len(src) < 3 {
		return 0, 0
	}
	b0, b1, b2 := src[0], src[1], src[2]
	if b0&0xF0 != 0xE0 || b1&0xC0 != 0x80 || b2&0xC0 != 0x80 {
		return 0, 0
	}
	u := uint16(b0&0x0F)<<12 | uint16(b1&0x3F)<<6 | uint16(b2&0x3F)
	return u, 3
}
