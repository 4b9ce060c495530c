package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/dunamismax/resized/internal/scale"
)

// NativeLauncher runs each stage in-process with the same argument
// conventions as the external tools. Stages exchange PNG between them.
type NativeLauncher struct {
	Programs Programs
}

func (l NativeLauncher) Launch(_ context.Context, stage StageDescriptor) (Process, error) {
	programs := l.Programs.withDefaults()

	var body func(args []string, in io.Reader, out io.Writer) error
	switch stage.Program {
	case programs.Decoder:
		body = nativeDecode
	case programs.Scale:
		body = nativeScale
	case programs.Cut:
		body = nativeCut
	case programs.Flip:
		body = nativeFlip
	case programs.Encoder:
		body = nativeEncode
	default:
		return nil, fmt.Errorf("no native stage for %q", stage.Program)
	}

	args := append([]string(nil), stage.Args...)
	return StartFilter(func(in io.Reader, out io.Writer) error {
		return body(args, in, out)
	}), nil
}

func nativeDecode(args []string, in io.Reader, out io.Writer) error {
	var frac scale.Fraction
	flags := newArgReader(args)
	for flags.next() {
		switch flags.name {
		case "-scale":
			v, err := flags.value()
			if err != nil {
				return err
			}
			if frac, err = scale.Parse(v); err != nil {
				return err
			}
		case "-dct":
			if _, err := flags.value(); err != nil {
				return err
			}
		default:
			return flags.unknown()
		}
	}

	img, err := readImage(in)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if !frac.IsZero() && frac.Shrinks() {
		b := img.Bounds()
		img = imaging.Resize(img, frac.Apply(b.Dx()), frac.Apply(b.Dy()), imaging.Box)
	}
	return writeIntermediate(out, img)
}

func nativeScale(args []string, in io.Reader, out io.Writer) error {
	var r Resize
	flags := newArgReader(args)
	for flags.next() {
		var err error
		switch flags.name {
		case "-width":
			r.Width, err = flags.integer()
		case "-height":
			r.Height, err = flags.integer()
		case "-xysize", "-xyfill":
			if flags.name == "-xyfill" {
				r.Aspect = AspectFill
			}
			if r.Width, err = flags.integer(); err == nil {
				r.Height, err = flags.integer()
			}
		case "-filter":
			var v string
			v, err = flags.value()
			r.Filter = Filter(v)
		default:
			return flags.unknown()
		}
		if err != nil {
			return err
		}
	}
	if r.Width > 0 && r.Height > 0 && !flags.seen["-xysize"] && !flags.seen["-xyfill"] {
		r.Aspect = AspectIgnore
	}

	img, err := readImage(in)
	if err != nil {
		return err
	}
	b := img.Bounds()
	target, err := r.Target(Size{Width: b.Dx(), Height: b.Dy()})
	if err != nil {
		return err
	}
	return writeIntermediate(out, imaging.Resize(img, target.Width, target.Height, resampleFilter(r.Filter)))
}

// nativeCut follows pamcut: negative -right/-bottom count back from the far
// edge, -1 being the last column or row.
func nativeCut(args []string, in io.Reader, out io.Writer) error {
	var width, height int
	var left, right, top, bottom *int
	var pad bool

	flags := newArgReader(args)
	for flags.next() {
		var err error
		switch flags.name {
		case "-width":
			width, err = flags.integer()
		case "-height":
			height, err = flags.integer()
		case "-left":
			left, err = flags.intPtr()
		case "-right":
			right, err = flags.intPtr()
		case "-top":
			top, err = flags.intPtr()
		case "-bottom":
			bottom, err = flags.intPtr()
		case "-pad":
			pad = true
		default:
			return flags.unknown()
		}
		if err != nil {
			return err
		}
	}

	img, err := readImage(in)
	if err != nil {
		return err
	}
	b := img.Bounds()
	x0, x1 := cutRange(b.Dx(), left, right, width)
	y0, y1 := cutRange(b.Dy(), top, bottom, height)
	if x1 < x0 || y1 < y0 {
		return fmt.Errorf("cut region is empty")
	}
	if !pad && (x0 < 0 || y0 < 0 || x1 >= b.Dx() || y1 >= b.Dy()) {
		return fmt.Errorf("cut region %d,%d-%d,%d exceeds %dx%d image", x0, y0, x1, y1, b.Dx(), b.Dy())
	}

	canvas := imaging.New(x1-x0+1, y1-y0+1, color.Black)
	canvas = imaging.Paste(canvas, img, image.Pt(-x0, -y0))
	return writeIntermediate(out, canvas)
}

func cutRange(n int, near, far *int, span int) (first, last int) {
	first, last = 0, n-1
	if near != nil {
		first = edgeIndex(n, *near)
	}
	if far != nil {
		last = edgeIndex(n, *far)
	}
	if span > 0 {
		if near == nil && far != nil {
			first = last - span + 1
		} else {
			last = first + span - 1
		}
	}
	return first, last
}

func edgeIndex(n, v int) int {
	if v < 0 {
		return n + v
	}
	return v
}

func nativeFlip(args []string, in io.Reader, out io.Writer) error {
	var flip func(image.Image) *image.NRGBA
	flags := newArgReader(args)
	for flags.next() {
		switch flags.name {
		case "-leftright":
			flip = imaging.FlipH
		case "-topbottom":
			flip = imaging.FlipV
		default:
			return flags.unknown()
		}
	}
	if flip == nil {
		return fmt.Errorf("flip direction is required")
	}

	img, err := readImage(in)
	if err != nil {
		return err
	}
	return writeIntermediate(out, flip(img))
}

func nativeEncode(args []string, in io.Reader, out io.Writer) error {
	quality := DefaultQuality
	flags := newArgReader(args)
	for flags.next() {
		var err error
		switch flags.name {
		case "-quality":
			quality, err = flags.integer()
		case "-sample":
			_, err = flags.value()
		case "-progressive", "-optimize":
		default:
			return flags.unknown()
		}
		if err != nil {
			return err
		}
	}

	img, err := readImage(in)
	if err != nil {
		return err
	}
	return imaging.Encode(out, img, imaging.JPEG, imaging.JPEGQuality(quality))
}

// readImage decodes one image and consumes whatever follows it so the
// upstream stage never sees a closed input.
func readImage(in io.Reader) (image.Image, error) {
	img, err := imaging.Decode(in)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(io.Discard, in); err != nil {
		return nil, err
	}
	return img, nil
}

func writeIntermediate(out io.Writer, img image.Image) error {
	return imaging.Encode(out, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestSpeed))
}

func resampleFilter(f Filter) imaging.ResampleFilter {
	switch f {
	case FilterPoint:
		return imaging.NearestNeighbor
	case FilterBox:
		return imaging.Box
	case FilterTriangle:
		return imaging.Linear
	case FilterQuadratic:
		return imaging.Bartlett
	case FilterCubic:
		return imaging.BSpline
	case FilterCatrom:
		return imaging.CatmullRom
	case FilterMitchell:
		return imaging.MitchellNetravali
	case FilterGauss, FilterNormal:
		return imaging.Gaussian
	case FilterHanning:
		return imaging.Hann
	case FilterHamming:
		return imaging.Hamming
	case FilterBlackman:
		return imaging.Blackman
	case FilterKaiser:
		return imaging.Welch
	case FilterHermite:
		return imaging.Hermite
	case FilterSinc, FilterBessel, FilterLanczos:
		return imaging.Lanczos
	default:
		return imaging.Linear
	}
}

// argReader walks a stage argument vector flag by flag.
type argReader struct {
	args []string
	pos  int
	name string
	seen map[string]bool
}

func newArgReader(args []string) *argReader {
	return &argReader{args: args, seen: make(map[string]bool)}
}

func (a *argReader) next() bool {
	if a.pos >= len(a.args) {
		return false
	}
	a.name = a.args[a.pos]
	a.pos++
	a.seen[a.name] = true
	return true
}

func (a *argReader) value() (string, error) {
	if a.pos >= len(a.args) {
		return "", fmt.Errorf("%s requires a value", a.name)
	}
	v := a.args[a.pos]
	a.pos++
	return v, nil
}

func (a *argReader) integer() (int, error) {
	v, err := a.value()
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", a.name, err)
	}
	return n, nil
}

func (a *argReader) intPtr() (*int, error) {
	n, err := a.integer()
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (a *argReader) unknown() error {
	return fmt.Errorf("unknown option %s", a.name)
}
