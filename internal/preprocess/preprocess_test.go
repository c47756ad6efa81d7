package preprocess

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeImageRejectsGarbage(t *testing.T) {
	for _, raw := range [][]byte{nil, []byte("not an image"), {0x89, 0x50, 0x00}} {
		if _, err := DecodeImage(raw); !errors.Is(err, ErrMalformedImage) {
			t.Fatalf("expected ErrMalformedImage, got %v", err)
		}
	}
}

func TestDecodeImageAcceptsPNG(t *testing.T) {
	raw := encodePNG(t, image.NewGray(image.Rect(0, 0, 4, 4)))
	if _, err := DecodeImage(raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSequenceOrderAndExhaustion(t *testing.T) {
	seq := NewSequence(image.NewGray(image.Rect(0, 0, 8, 8)))

	want := []Variant{VariantOriginal, VariantSharpened, VariantHighContrastBinary, VariantRotated90CW}
	for _, expected := range want {
		img, v, ok := seq.Next()
		if !ok {
			t.Fatalf("sequence ended early, expected %s", expected)
		}
		if v != expected {
			t.Fatalf("expected variant %s, got %s", expected, v)
		}
		if img == nil {
			t.Fatalf("variant %s produced nil image", v)
		}
	}
	if _, _, ok := seq.Next(); ok {
		t.Fatal("sequence should be exhausted after four variants")
	}
}

func TestRotatedVariantSwapsDimensions(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 10, 20))
	seq := NewSequence(src)

	var rotated image.Image
	for {
		img, v, ok := seq.Next()
		if !ok {
			break
		}
		if v == VariantRotated90CW {
			rotated = img
		}
	}
	if rotated == nil {
		t.Fatal("rotated variant missing")
	}
	b := rotated.Bounds()
	if b.Dx() != 20 || b.Dy() != 10 {
		t.Fatalf("expected 20x10 after rotation, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestRotate90Clockwise(t *testing.T) {
	// A single white pixel at the top-left must land at the top-right after
	// a clockwise quarter turn.
	src := image.NewGray(image.Rect(0, 0, 3, 3))
	src.SetGray(0, 0, color.Gray{Y: 255})

	seq := NewSequence(src)
	var rotated image.Image
	for {
		img, v, ok := seq.Next()
		if !ok {
			break
		}
		if v == VariantRotated90CW {
			rotated = img
		}
	}

	r, _, _, _ := rotated.At(2, 0).RGBA()
	if r>>8 != 255 {
		t.Fatalf("expected white pixel at (2,0), got %d", r>>8)
	}
}

func TestUnsharpMaskPreservesUniformImages(t *testing.T) {
	// Blurring a constant image returns the same constant, so the unsharp
	// combination 1.5c - 0.5c must give c back.
	src := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range src.Pix {
		src.Pix[i] = 100
	}

	seq := NewSequence(src)
	seq.Next() // original
	sharpened, v, ok := seq.Next()
	if !ok || v != VariantSharpened {
		t.Fatalf("expected sharpened variant, got %s", v)
	}

	r, _, _, _ := sharpened.At(8, 8).RGBA()
	if got := int(r >> 8); got < 99 || got > 101 {
		t.Fatalf("uniform image changed under unsharp mask: %d", got)
	}
}

func TestBinarizeSeparatesBimodalImage(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range src.Pix {
		if i%2 == 0 {
			src.Pix[i] = 50
		} else {
			src.Pix[i] = 200
		}
	}

	out := binarize(src)
	var black, white int
	for _, p := range out.Pix {
		switch p {
		case 0:
			black++
		case 255:
			white++
		default:
			t.Fatalf("binarized image contains gray value %d", p)
		}
	}
	if black != white {
		t.Fatalf("expected equal split, got %d black / %d white", black, white)
	}
}

func TestOtsuThresholdDegenerateHistogram(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range src.Pix {
		src.Pix[i] = 77
	}
	if got := otsuThreshold(src); got != 128 {
		t.Fatalf("expected fallback threshold 128, got %d", got)
	}
}
