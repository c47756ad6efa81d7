package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// ErrMalformedImage indicates the input bytes do not decode as a raster image.
// Callers treat this the same as an image with no QR symbol in it.
var ErrMalformedImage = errors.New("malformed image")

// Variant identifies one preprocessing strategy. The numeric order is the
// scan priority order: cheapest and most likely to succeed first.
type Variant int

const (
	// VariantOriginal is the plain grayscale image. Best when the frontend
	// already cropped to the QR.
	VariantOriginal Variant = iota
	// VariantSharpened applies an unsharp mask. Recovers high-resolution
	// photos where the QR dots blur together.
	VariantSharpened
	// VariantHighContrastBinary applies Otsu binarization. Recovers shadow
	// and glare cases.
	VariantHighContrastBinary
	// VariantRotated90CW rotates the image 90 degrees clockwise. Recovers
	// portrait photos of landscape-printed documents.
	VariantRotated90CW

	variantCount
)

func (v Variant) String() string {
	switch v {
	case VariantOriginal:
		return "original"
	case VariantSharpened:
		return "sharpened"
	case VariantHighContrastBinary:
		return "high_contrast_binary"
	case VariantRotated90CW:
		return "rotated_90_cw"
	}
	return fmt.Sprintf("variant(%d)", int(v))
}

// DecodeImage decodes raw JPEG/PNG/GIF/WebP bytes into a pixel image.
func DecodeImage(raw []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedImage, err)
	}
	return img, nil
}

// Sequence lazily produces the preprocessing variants of one source image in
// priority order. It is finite and non-restartable: each variant is computed
// at most once, and only if the caller asks for it.
type Sequence struct {
	src  image.Image
	next Variant
}

// NewSequence wraps a decoded source image.
func NewSequence(src image.Image) *Sequence {
	return &Sequence{src: src}
}

// Next computes and returns the next variant as a grayscale image. The third
// return value is false once all variants are exhausted.
func (s *Sequence) Next() (image.Image, Variant, bool) {
	if s.src == nil || s.next >= variantCount {
		return nil, s.next, false
	}
	v := s.next
	s.next++

	switch v {
	case VariantOriginal:
		return imaging.Grayscale(s.src), v, true
	case VariantSharpened:
		return imaging.Grayscale(unsharpMask(s.src)), v, true
	case VariantHighContrastBinary:
		return binarize(toGray(imaging.Grayscale(s.src))), v, true
	case VariantRotated90CW:
		// imaging rotates counterclockwise, so 270 CCW == 90 CW.
		return imaging.Grayscale(imaging.Rotate270(s.src)), v, true
	}
	return nil, v, false
}

// unsharpMask blends the source with a negatively weighted Gaussian blur of
// itself: sharpened = 1.5*src - 0.5*blur(src, sigma=3), clipped to [0, 255].
func unsharpMask(src image.Image) *image.NRGBA {
	base := imaging.Clone(src)
	blurred := imaging.Blur(src, 3.0)

	for i := range base.Pix {
		if i%4 == 3 {
			continue // alpha stays as-is
		}
		v := int(base.Pix[i])*3/2 - int(blurred.Pix[i])/2
		if v < 0 {
			v = 0
		} else if v > 255 {
			v = 255
		}
		base.Pix[i] = uint8(v)
	}
	return base
}

// toGray flattens an already-grayscale NRGBA into a single-channel image.
func toGray(src *image.NRGBA) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		srcRow := src.Pix[y*src.Stride : y*src.Stride+b.Dx()*4]
		dstRow := dst.Pix[y*dst.Stride : y*dst.Stride+b.Dx()]
		for x := 0; x < b.Dx(); x++ {
			dstRow[x] = srcRow[x*4]
		}
	}
	return dst
}

// binarize thresholds a grayscale image to pure black and white using Otsu's
// method, falling back to 128 when the histogram is degenerate.
func binarize(src *image.Gray) *image.Gray {
	threshold := otsuThreshold(src)
	dst := image.NewGray(src.Bounds())
	for i, p := range src.Pix {
		if p > threshold {
			dst.Pix[i] = 255
		} else {
			dst.Pix[i] = 0
		}
	}
	return dst
}

// otsuThreshold picks the threshold maximizing between-class variance of the
// intensity histogram.
func otsuThreshold(src *image.Gray) uint8 {
	var hist [256]int
	b := src.Bounds()
	for y := 0; y < b.Dy(); y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+b.Dx()]
		for _, p := range row {
			hist[p]++
		}
	}

	total := b.Dx() * b.Dy()
	if total == 0 {
		return 128
	}

	var sum float64
	for i, c := range hist {
		sum += float64(i) * float64(c)
	}

	var (
		sumBack    float64
		weightBack int
		maxVar     float64
		best       = -1
	)
	for t := 0; t < 256; t++ {
		weightBack += hist[t]
		if weightBack == 0 {
			continue
		}
		weightFore := total - weightBack
		if weightFore == 0 {
			break
		}
		sumBack += float64(t) * float64(hist[t])

		meanBack := sumBack / float64(weightBack)
		meanFore := (sum - sumBack) / float64(weightFore)
		diff := meanBack - meanFore
		between := float64(weightBack) * float64(weightFore) * diff * diff
		if between > maxVar {
			maxVar = between
			best = t
		}
	}
	if best < 0 {
		return 128
	}
	return uint8(best)
}
