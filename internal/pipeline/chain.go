package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

type Kind string

const (
	KindResize Kind = "resize"
	KindCrop   Kind = "crop"
	KindFlip   Kind = "flip"
)

// AspectMode controls how a two-dimensional resize target treats the
// source's aspect ratio.
type AspectMode int

const (
	// AspectPreserve fits the image inside the target box.
	AspectPreserve AspectMode = iota
	// AspectIgnore stretches the image to exactly the target box.
	AspectIgnore
	// AspectFill scales the image to the smallest size covering the box.
	AspectFill
)

func (m AspectMode) String() string {
	switch m {
	case AspectPreserve:
		return "preserve"
	case AspectIgnore:
		return "ignore"
	case AspectFill:
		return "fill"
	default:
		return "aspect(" + strconv.Itoa(int(m)) + ")"
	}
}

// Filter names a resampling kernel understood by the scale stage.
type Filter string

const (
	FilterPoint     Filter = "point"
	FilterBox       Filter = "box"
	FilterTriangle  Filter = "triangle"
	FilterQuadratic Filter = "quadratic"
	FilterCubic     Filter = "cubic"
	FilterCatrom    Filter = "catrom"
	FilterMitchell  Filter = "mitchell"
	FilterGauss     Filter = "gauss"
	FilterSinc      Filter = "sinc"
	FilterBessel    Filter = "bessel"
	FilterHanning   Filter = "hanning"
	FilterHamming   Filter = "hamming"
	FilterBlackman  Filter = "blackman"
	FilterKaiser    Filter = "kaiser"
	FilterNormal    Filter = "normal"
	FilterHermite   Filter = "hermite"
	FilterLanczos   Filter = "lanczos"
)

var filters = map[Filter]struct{}{
	FilterPoint: {}, FilterBox: {}, FilterTriangle: {}, FilterQuadratic: {},
	FilterCubic: {}, FilterCatrom: {}, FilterMitchell: {}, FilterGauss: {},
	FilterSinc: {}, FilterBessel: {}, FilterHanning: {}, FilterHamming: {},
	FilterBlackman: {}, FilterKaiser: {}, FilterNormal: {}, FilterHermite: {},
	FilterLanczos: {},
}

func (f Filter) Valid() bool {
	_, ok := filters[f]
	return ok
}

type Direction string

const (
	Horizontal Direction = "horizontal"
	Vertical   Direction = "vertical"
)

// Transform is one step of a chain: Resize, Crop or Flip.
type Transform interface {
	Kind() Kind
	// Target predicts the size this step produces from an input of size src.
	Target(src Size) (Size, error)
	isTransform()
}

type Resize struct {
	Width  int
	Height int
	Aspect AspectMode
	Filter Filter
}

func (Resize) Kind() Kind   { return KindResize }
func (Resize) isTransform() {}

// Crop keeps a rectangle of the image. Right and Bottom are distances from
// the far edge, not coordinates. Zero means "not given" for every field.
type Crop struct {
	Width  int
	Height int
	Top    int
	Left   int
	Right  int
	Bottom int
	Pad    bool
}

func (Crop) Kind() Kind   { return KindCrop }
func (Crop) isTransform() {}

type Flip struct {
	Direction Direction
}

func (Flip) Kind() Kind   { return KindFlip }
func (Flip) isTransform() {}

// ResizeOptions is the caller-facing form of a resize request. Width and
// Height that are not positive are treated as unset.
type ResizeOptions struct {
	Width        int
	Height       int
	IgnoreAspect bool
	Fill         bool
	Filter       Filter
}

type CropOptions struct {
	Width  int
	Height int
	Top    int
	Left   int
	Right  int
	Bottom int
	Pad    bool
}

func newResize(opts ResizeOptions) (Resize, error) {
	width := positiveOrUnset(opts.Width)
	height := positiveOrUnset(opts.Height)
	if width == 0 && height == 0 {
		return Resize{}, fmt.Errorf("%w: resize requires a positive width or height", ErrInvalidGeometry)
	}

	filter := Filter(strings.ToLower(strings.TrimSpace(string(opts.Filter))))
	if filter != "" && !filter.Valid() {
		return Resize{}, fmt.Errorf("%w: unknown resize filter %q", ErrInvalidTransform, opts.Filter)
	}

	aspect := AspectPreserve
	if width > 0 && height > 0 {
		switch {
		case opts.Fill:
			aspect = AspectFill
		case opts.IgnoreAspect:
			aspect = AspectIgnore
		}
	}

	return Resize{Width: width, Height: height, Aspect: aspect, Filter: filter}, nil
}

func newCrop(opts CropOptions) (Crop, error) {
	fields := []struct {
		name  string
		value int
	}{
		{"width", opts.Width},
		{"height", opts.Height},
		{"top", opts.Top},
		{"left", opts.Left},
		{"right", opts.Right},
		{"bottom", opts.Bottom},
	}
	for _, f := range fields {
		if f.value < 0 {
			return Crop{}, fmt.Errorf("%w: crop %s must not be negative, got %d", ErrInvalidGeometry, f.name, f.value)
		}
	}
	return Crop(opts), nil
}

func newFlip(direction Direction) (Flip, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(string(direction)))) {
	case Horizontal:
		return Flip{Direction: Horizontal}, nil
	case Vertical:
		return Flip{Direction: Vertical}, nil
	default:
		return Flip{}, fmt.Errorf("%w: unknown flip direction %q", ErrInvalidTransform, direction)
	}
}

// Chain is an ordered list of transforms. The zero value is an empty chain.
type Chain struct {
	transforms []Transform
}

func NewChain(transforms ...Transform) Chain {
	return Chain{transforms: append([]Transform(nil), transforms...)}
}

func (c Chain) Len() int {
	return len(c.transforms)
}

func (c Chain) At(i int) Transform {
	return c.transforms[i]
}

// Transforms returns a copy of the chain's steps.
func (c Chain) Transforms() []Transform {
	return append([]Transform(nil), c.transforms...)
}

func (c *Chain) append(t Transform) {
	c.transforms = append(c.transforms, t)
}

// freeze returns a chain that shares nothing with c.
func (c Chain) freeze() Chain {
	return NewChain(c.transforms...)
}

// HasResize reports whether any step needs source geometry.
func (c Chain) HasResize() bool {
	for _, t := range c.transforms {
		if t.Kind() == KindResize {
			return true
		}
	}
	return false
}

// leadingResize returns the first resize when only flips precede it. Any
// earlier crop is expressed in source pixels, so the decoder must not
// downscale in that case.
func (c Chain) leadingResize() (Resize, bool) {
	for _, t := range c.transforms {
		switch v := t.(type) {
		case Flip:
			continue
		case Resize:
			return v, true
		default:
			return Resize{}, false
		}
	}
	return Resize{}, false
}

// OutputSize predicts the geometry of the final image for a source of size
// src.
func (c Chain) OutputSize(src Size) (Size, error) {
	if src.Width <= 0 || src.Height <= 0 {
		return Size{}, fmt.Errorf("%w: source size %s", ErrInvalidGeometry, src)
	}
	size := src
	for i, t := range c.transforms {
		next, err := t.Target(size)
		if err != nil {
			return Size{}, fmt.Errorf("step %d (%s): %w", i, t.Kind(), err)
		}
		size = next
	}
	return size, nil
}

func positiveOrUnset(v int) int {
	if v <= 0 {
		return 0
	}
	return v
}

// ParseDimension reads a pixel count, returning 0 (unset) when s is not a
// positive integer.
func ParseDimension(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v <= 0 {
		return 0
	}
	return v
}
