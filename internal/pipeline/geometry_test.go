package pipeline

import (
	"errors"
	"testing"
)

func TestResizeTarget(t *testing.T) {
	src := Size{Width: 1280, Height: 800}

	tests := []struct {
		name string
		opts ResizeOptions
		want Size
	}{
		{"width only", ResizeOptions{Width: 400}, Size{400, 250}},
		{"height only", ResizeOptions{Height: 400}, Size{640, 400}},
		{"fit inside box", ResizeOptions{Width: 1000, Height: 400}, Size{640, 400}},
		{"fill box", ResizeOptions{Width: 1000, Height: 400, Fill: true}, Size{1000, 625}},
		{"fill wins over ignore", ResizeOptions{Width: 1000, Height: 400, Fill: true, IgnoreAspect: true}, Size{1000, 625}},
		{"ignore aspect", ResizeOptions{Width: 300, Height: 300, IgnoreAspect: true}, Size{300, 300}},
		{"upscale", ResizeOptions{Width: 2560}, Size{2560, 1600}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := newResize(tt.opts)
			if err != nil {
				t.Fatalf("new resize: %v", err)
			}
			got, err := r.Target(src)
			if err != nil {
				t.Fatalf("target: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestCropTarget(t *testing.T) {
	src := Size{Width: 1280, Height: 800}

	tests := []struct {
		name string
		crop Crop
		want Size
	}{
		{"every edge", Crop{Top: 50, Right: 50, Bottom: 50, Left: 50}, Size{1180, 700}},
		{"explicit box", Crop{Width: 200, Height: 100, Left: 10, Top: 20}, Size{200, 100}},
		{"box anchored to far edge", Crop{Width: 200, Right: 30}, Size{200, 800}},
		{"no arguments", Crop{}, Size{1280, 800}},
		{"padded beyond edge", Crop{Width: 400, Left: 1000, Pad: true}, Size{400, 800}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.crop.Target(src)
			if err != nil {
				t.Fatalf("target: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestCropTargetRejectsOutOfBounds(t *testing.T) {
	src := Size{Width: 100, Height: 100}
	for _, c := range []Crop{
		{Left: 60, Right: 60},
		{Width: 50, Left: 80},
		{Top: 100},
	} {
		if _, err := c.Target(src); !errors.Is(err, ErrInvalidGeometry) {
			t.Fatalf("expected ErrInvalidGeometry for %+v, got %v", c, err)
		}
	}
}

// Compiled crop arguments, read back with pamcut's conventions, must keep
// W - left - right columns.
func TestCropArgumentsRoundTrip(t *testing.T) {
	for _, width := range []int{10, 101, 1280} {
		for _, left := range []int{0, 1, 3} {
			for _, right := range []int{0, 1, 2, 7} {
				if width-left-right <= 0 {
					continue
				}
				c := Crop{Left: left, Right: right}
				args := cropArgs(c)

				var near, far *int
				flags := newArgReader(args)
				for flags.next() {
					v, err := flags.integer()
					if err != nil {
						t.Fatalf("parse %v: %v", args, err)
					}
					switch flags.name {
					case "-left":
						near = &v
					case "-right":
						far = &v
					}
				}
				first, last := cutRange(width, near, far, 0)
				if got, want := last-first+1, width-left-right; got != want {
					t.Fatalf("W=%d left=%d right=%d args=%v: expected %d columns, got %d", width, left, right, args, want, got)
				}

				predicted, err := c.Target(Size{Width: width, Height: 10})
				if err != nil {
					t.Fatalf("target: %v", err)
				}
				if predicted.Width != width-left-right {
					t.Fatalf("expected predicted width %d, got %d", width-left-right, predicted.Width)
				}
			}
		}
	}
}

func TestDecodeScaleNeverUpscales(t *testing.T) {
	sources := []Size{{1280, 800}, {4000, 3000}, {333, 777}, {64, 64}, {1920, 1080}}
	for _, src := range sources {
		for w := 1; w <= src.Width; w += 37 {
			for _, h := range []int{0, 1, src.Height / 3, src.Height} {
				r, err := newResize(ResizeOptions{Width: w, Height: h})
				if err != nil {
					t.Fatalf("new resize: %v", err)
				}
				target, err := r.Target(src)
				if err != nil {
					t.Fatalf("target: %v", err)
				}
				f, err := decodeScale(NewChain(r), src)
				if err != nil {
					t.Fatalf("decode scale: %v", err)
				}
				if f.IsZero() {
					continue
				}
				if f.Apply(src.Width) < target.Width || f.Apply(src.Height) < target.Height {
					t.Fatalf("%s -> %s: decode scale %s produced %dx%d", src, target, f, f.Apply(src.Width), f.Apply(src.Height))
				}
			}
		}
	}
}

func TestDecodeScaleOnlyForLeadingResize(t *testing.T) {
	src := Size{Width: 1280, Height: 800}
	small := Resize{Width: 100}

	f, err := decodeScale(NewChain(Flip{Direction: Horizontal}, small), src)
	if err != nil {
		t.Fatalf("decode scale: %v", err)
	}
	if f.String() != "1/8" {
		t.Fatalf("expected 1/8 after a flip, got %s", f)
	}

	f, err = decodeScale(NewChain(Crop{Left: 10}, small), src)
	if err != nil {
		t.Fatalf("decode scale: %v", err)
	}
	if !f.IsZero() {
		t.Fatalf("expected no decode scale after a crop, got %s", f)
	}

	f, err = decodeScale(NewChain(Resize{Width: 2000}), src)
	if err != nil {
		t.Fatalf("decode scale: %v", err)
	}
	if !f.IsZero() {
		t.Fatalf("expected no decode scale for an upscale, got %s", f)
	}
}

func TestChainOutputSize(t *testing.T) {
	chain := NewChain(
		Resize{Width: 640},
		Crop{Top: 10, Bottom: 10},
		Flip{Direction: Vertical},
	)
	got, err := chain.OutputSize(Size{Width: 1280, Height: 800})
	if err != nil {
		t.Fatalf("output size: %v", err)
	}
	if want := (Size{640, 380}); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	if _, err := chain.OutputSize(Size{}); !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry for empty source, got %v", err)
	}
}

func TestSizeString(t *testing.T) {
	if got := (Size{Width: 12, Height: 34}).String(); got != "12x34" {
		t.Fatalf("expected 12x34, got %s", got)
	}
}

func TestDecodeScaleIgnoresExtremeUpscale(t *testing.T) {
	f, err := decodeScale(NewChain(Resize{Width: 10_000_000}), Size{Width: 10, Height: 10})
	if err != nil {
		t.Fatalf("expected extreme upscale to decode at full size, got %v", err)
	}
	if !f.IsZero() {
		t.Fatalf("expected no decode scale, got %s", f)
	}
}
