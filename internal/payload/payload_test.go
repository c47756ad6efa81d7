package payload

import (
	"bytes"
	"compress/gzip"
	"errors"
	"math/big"
	"testing"
)

// secureEncode builds a secure-numeric payload the way issuing systems do:
// gzip the text, read the compressed bytes as a big-endian integer, render
// it in decimal.
func secureEncode(t *testing.T, text string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(text)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return []byte(new(big.Int).SetBytes(buf.Bytes()).String())
}

func TestDecodeSecureNumericRoundTrip(t *testing.T) {
	original := "uid=1234 name=Test Holder dob=15-03-2010 gender=F"

	rec, err := Decode(secureEncode(t, original))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Encoding != EncodingSecureNumeric {
		t.Fatalf("expected secure numeric encoding, got %s", rec.Encoding)
	}
	if rec.Text != original {
		t.Fatalf("round trip mismatch: %q", rec.Text)
	}
}

func TestDecodeSecureNumericHighBytes(t *testing.T) {
	// Latin-1 text with bytes above 0x7F must survive the decode.
	original := "nom=Ren\xe9 dob=01-01-1990"

	rec, err := Decode(secureEncode(t, original))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Text != "nom=René dob=01-01-1990" {
		t.Fatalf("latin-1 mapping broken: %q", rec.Text)
	}
}

func TestDecodeDigitsButNotGzipFallsBackToLegacy(t *testing.T) {
	// A valid decimal integer whose bytes are not a gzip stream must fall
	// back to legacy text, not fail.
	rec, err := Decode([]byte("1234567890"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Encoding != EncodingLegacyText {
		t.Fatalf("expected legacy text fallback, got %s", rec.Encoding)
	}
	if rec.Text != "1234567890" {
		t.Fatalf("unexpected text: %q", rec.Text)
	}
}

func TestDecodeLegacyText(t *testing.T) {
	raw := `<PrintLetterBarcodeData uid="x" dob="15-03-2010"/>`

	rec, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Encoding != EncodingLegacyText {
		t.Fatalf("expected legacy text encoding, got %s", rec.Encoding)
	}
	if rec.Text != raw {
		t.Fatalf("unexpected text: %q", rec.Text)
	}
}

func TestDecodeInvalidUTF8IsUndecodable(t *testing.T) {
	if _, err := Decode([]byte{0xff, 0xfe, 0x01}); !errors.Is(err, ErrUndecodable) {
		t.Fatalf("expected ErrUndecodable, got %v", err)
	}
}

func TestDecodeNegativeIntegerFallsBack(t *testing.T) {
	rec, err := Decode([]byte("-12345"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Encoding != EncodingLegacyText {
		t.Fatalf("expected legacy fallback for negative number, got %s", rec.Encoding)
	}
}
