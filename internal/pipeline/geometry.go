package pipeline

import (
	"fmt"
	"math"
	"strconv"

	"github.com/dunamismax/resized/internal/scale"
)

type Size struct {
	Width  int
	Height int
}

func (s Size) String() string {
	return strconv.Itoa(s.Width) + "x" + strconv.Itoa(s.Height)
}

func (s Size) valid() bool {
	return s.Width > 0 && s.Height > 0
}

func (r Resize) Target(src Size) (Size, error) {
	if !src.valid() {
		return Size{}, fmt.Errorf("%w: resize input %s", ErrInvalidGeometry, src)
	}

	wRatio := float64(r.Width) / float64(src.Width)
	hRatio := float64(r.Height) / float64(src.Height)

	switch {
	case r.Width > 0 && r.Height > 0:
		switch r.Aspect {
		case AspectIgnore:
			return Size{Width: r.Width, Height: r.Height}, nil
		case AspectFill:
			if wRatio >= hRatio {
				return Size{Width: r.Width, Height: scaled(src.Height, wRatio)}, nil
			}
			return Size{Width: scaled(src.Width, hRatio), Height: r.Height}, nil
		default:
			if wRatio <= hRatio {
				return Size{Width: r.Width, Height: scaled(src.Height, wRatio)}, nil
			}
			return Size{Width: scaled(src.Width, hRatio), Height: r.Height}, nil
		}
	case r.Width > 0:
		return Size{Width: r.Width, Height: scaled(src.Height, wRatio)}, nil
	case r.Height > 0:
		return Size{Width: scaled(src.Width, hRatio), Height: r.Height}, nil
	default:
		return Size{}, fmt.Errorf("%w: resize without width or height", ErrInvalidGeometry)
	}
}

// Target follows pamcut: an explicit size anchors at the given left/top
// edge, or at the far edge when only right/bottom is given.
func (c Crop) Target(src Size) (Size, error) {
	if !src.valid() {
		return Size{}, fmt.Errorf("%w: crop input %s", ErrInvalidGeometry, src)
	}

	width, err := cropSpan(src.Width, c.Left, c.Right, c.Width, c.Pad)
	if err != nil {
		return Size{}, fmt.Errorf("crop columns: %w", err)
	}
	height, err := cropSpan(src.Height, c.Top, c.Bottom, c.Height, c.Pad)
	if err != nil {
		return Size{}, fmt.Errorf("crop rows: %w", err)
	}
	return Size{Width: width, Height: height}, nil
}

func (Flip) Target(src Size) (Size, error) {
	if !src.valid() {
		return Size{}, fmt.Errorf("%w: flip input %s", ErrInvalidGeometry, src)
	}
	return src, nil
}

// cropSpan returns the kept extent along one axis of length n, where near is
// the first kept index, far the number of excluded pixels at the far edge and
// span the requested extent (0 when unset).
func cropSpan(n, near, far, span int, pad bool) (int, error) {
	first := near
	last := n - 1 - far
	switch {
	case span > 0 && (near > 0 || far == 0):
		last = first + span - 1
	case span > 0:
		first = last - span + 1
	}

	if last < first {
		return 0, fmt.Errorf("%w: nothing left of %d pixels", ErrInvalidGeometry, n)
	}
	if !pad && (first < 0 || last > n-1) {
		return 0, fmt.Errorf("%w: region %d..%d exceeds %d pixels", ErrInvalidGeometry, first, last, n)
	}
	return last - first + 1, nil
}

func scaled(n int, ratio float64) int {
	v := int(math.Round(float64(n) * ratio))
	if v < 1 {
		return 1
	}
	return v
}

// DecodeRatio is the downscale a decoder may apply ahead of r without the
// decoded image ending up smaller than r's target in either dimension.
func DecodeRatio(r Resize, src Size) (float64, error) {
	if !src.valid() {
		return 0, fmt.Errorf("%w: source size %s", ErrInvalidGeometry, src)
	}

	var ratio float64
	if r.Width > 0 {
		ratio = float64(r.Width) / float64(src.Width)
	}
	if r.Height > 0 {
		ratio = math.Max(ratio, float64(r.Height)/float64(src.Height))
	}
	if ratio <= 0 {
		return 0, fmt.Errorf("%w: resize without width or height", ErrInvalidGeometry)
	}
	return ratio, nil
}

// decodeScale resolves the decoder's -scale fraction for a chain. The zero
// Fraction means the decoder runs at full size.
func decodeScale(c Chain, src Size) (scale.Fraction, error) {
	r, ok := c.leadingResize()
	if !ok {
		return scale.Fraction{}, nil
	}

	ratio, err := DecodeRatio(r, src)
	if err != nil {
		return scale.Fraction{}, err
	}
	if ratio >= 1 {
		return scale.Fraction{}, nil
	}
	f, err := scale.Approximate(ratio)
	if err != nil {
		return scale.Fraction{}, fmt.Errorf("%w: %w", ErrInvalidGeometry, err)
	}
	if !f.Shrinks() {
		return scale.Fraction{}, nil
	}
	return f, nil
}
