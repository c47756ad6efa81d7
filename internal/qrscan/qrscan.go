package qrscan

import (
	"errors"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/multi"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"

	"github.com/example/age-verify/internal/preprocess"
)

// ErrSymbolNotFound indicates that no QR symbol could be decoded from any
// preprocessing variant of the image.
var ErrSymbolNotFound = errors.New("no qr symbol found")

var decodeHints = map[gozxing.DecodeHintType]interface{}{
	gozxing.DecodeHintType_TRY_HARDER: true,
}

// Scanner runs the multi-strategy QR scan over an encoded image.
type Scanner struct {
	reader multi.MultipleBarcodeReader
}

// NewScanner constructs a Scanner backed by the zxing QR multi-reader.
func NewScanner() *Scanner {
	return &Scanner{reader: multiqr.NewQRCodeMultiReader()}
}

// Scan decodes the image bytes and walks the preprocessing variants in
// priority order, returning every payload found in the first variant that
// yields any. Undecodable input reports preprocess.ErrMalformedImage; a clean
// image with no symbols reports ErrSymbolNotFound. Both mean "nothing found"
// to the caller, but they are kept distinct for auditing.
func (s *Scanner) Scan(raw []byte) ([][]byte, preprocess.Variant, error) {
	src, err := preprocess.DecodeImage(raw)
	if err != nil {
		return nil, 0, err
	}

	seq := preprocess.NewSequence(src)
	for {
		img, variant, ok := seq.Next()
		if !ok {
			return nil, 0, ErrSymbolNotFound
		}
		if payloads := s.locate(img); len(payloads) > 0 {
			return payloads, variant, nil
		}
	}
}

// locate decodes all QR symbols present in one grayscale image. An image with
// no symbols is a normal empty result, never an error.
func (s *Scanner) locate(img image.Image) [][]byte {
	source := gozxing.NewLuminanceSourceFromImage(img)
	bmp, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(source))
	if err != nil {
		return nil
	}

	results, err := s.reader.DecodeMultiple(bmp, decodeHints)
	if err != nil {
		return nil
	}

	payloads := make([][]byte, 0, len(results))
	for _, r := range results {
		payloads = append(payloads, []byte(r.GetText()))
	}
	return payloads
}
