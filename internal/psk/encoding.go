package psk

import (
	"unicode/utf16"
)

// Encoding is the character encoding applied to a pass-phrase before key
// derivation (spec.md §6 "PassphraseEncoderFactory"). The default matches
// the spec's stated default (UTF-16LE) "for compatibility"; UTF-8 is the
// configurable alternative.
type Encoding int

const (
	EncodingUTF16LE Encoding = iota
	EncodingUTF8
)

// Encode renders pass in the configured byte encoding.
func (e Encoding) Encode(pass string) []byte {
	switch e {
	case EncodingUTF8:
		return []byte(pass)
	default:
		runes := utf16.Encode([]rune(pass))
		out := make([]byte, 2*len(runes))
		for i, r := range runes {
			out[2*i] = byte(r)
			out[2*i+1] = byte(r >> 8)
		}
		return out
	}
}

func (e Encoding) String() string {
	if e == EncodingUTF8 {
		return "utf-8"
	}
	return "utf-16le"
}
