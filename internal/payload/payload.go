// Package payload disambiguates the two QR payload encodings used by
// identity documents: a legacy plain-text format and a newer "secure" format
// where the payload is the decimal form of a big integer whose big-endian
// bytes are a gzip-compressed text blob.
package payload

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"math/big"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ErrUndecodable indicates the payload matches neither recognized encoding.
var ErrUndecodable = errors.New("payload matches no known encoding")

// Encoding tags which of the two formats a record was decoded from.
type Encoding int

const (
	// EncodingLegacyText is the raw UTF-8 text format of older documents.
	EncodingLegacyText Encoding = iota
	// EncodingSecureNumeric is the compressed big-integer format of newer
	// documents.
	EncodingSecureNumeric
)

func (e Encoding) String() string {
	if e == EncodingSecureNumeric {
		return "secure_numeric"
	}
	return "legacy_text"
}

// Record is a decoded symbol payload.
type Record struct {
	Text     string
	Encoding Encoding
}

// Decode turns raw symbol bytes into a Record. The secure-numeric branch is
// tried first; any failure there falls back to treating the original bytes
// as legacy UTF-8 text. Only when both fail is the payload unusable.
func Decode(data []byte) (Record, error) {
	if text, err := decodeSecureNumeric(data); err == nil {
		return Record{Text: text, Encoding: EncodingSecureNumeric}, nil
	}
	if utf8.Valid(data) {
		return Record{Text: string(data), Encoding: EncodingLegacyText}, nil
	}
	return Record{}, ErrUndecodable
}

// decodeSecureNumeric parses the payload as a non-negative decimal integer,
// takes its minimal big-endian byte form, gunzips it, and decodes the result
// with Latin-1 semantics (every byte maps to the code point of equal value).
func decodeSecureNumeric(data []byte) (string, error) {
	n, ok := new(big.Int).SetString(string(data), 10)
	if !ok || n.Sign() < 0 {
		return "", fmt.Errorf("not a decimal integer payload")
	}

	// big.Int.Bytes is already minimal big-endian; zero encodes as a single
	// zero byte rather than the empty slice.
	raw := n.Bytes()
	if len(raw) == 0 {
		raw = []byte{0}
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("gzip header: %w", err)
	}
	decompressed, err := io.ReadAll(zr)
	if cerr := zr.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("gzip stream: %w", err)
	}

	text, err := charmap.ISO8859_1.NewDecoder().Bytes(decompressed)
	if err != nil {
		return "", fmt.Errorf("latin-1 decode: %w", err)
	}
	return string(text), nil
}
