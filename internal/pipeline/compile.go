package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dunamismax/resized/internal/scale"
)

const DefaultQuality = 90

// StageDescriptor is one external program invocation.
type StageDescriptor struct {
	Program string
	Args    []string
}

func (d StageDescriptor) String() string {
	if len(d.Args) == 0 {
		return d.Program
	}
	return d.Program + " " + strings.Join(d.Args, " ")
}

// Plan is a compiled, ordered list of stages: decode, filters, encode.
type Plan []StageDescriptor

func (p Plan) String() string {
	parts := make([]string, len(p))
	for i, d := range p {
		parts[i] = d.String()
	}
	return strings.Join(parts, " | ")
}

// Fingerprint identifies the plan's programs and arguments. Equal plans
// applied to the same source produce the same output.
func (p Plan) Fingerprint() string {
	h := xxhash.New()
	for _, d := range p {
		_, _ = h.WriteString(d.Program)
		for _, arg := range d.Args {
			_, _ = h.WriteString("\x00")
			_, _ = h.WriteString(arg)
		}
		_, _ = h.WriteString("\n")
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// Programs names the executables used for each stage.
type Programs struct {
	Decoder string
	Scale   string
	Cut     string
	Flip    string
	Encoder string
}

func DefaultPrograms() Programs {
	return Programs{
		Decoder: "djpeg",
		Scale:   "pamscale",
		Cut:     "pamcut",
		Flip:    "pamflip",
		Encoder: "cjpeg",
	}
}

func (p Programs) withDefaults() Programs {
	d := DefaultPrograms()
	if strings.TrimSpace(p.Decoder) == "" {
		p.Decoder = d.Decoder
	}
	if strings.TrimSpace(p.Scale) == "" {
		p.Scale = d.Scale
	}
	if strings.TrimSpace(p.Cut) == "" {
		p.Cut = d.Cut
	}
	if strings.TrimSpace(p.Flip) == "" {
		p.Flip = d.Flip
	}
	if strings.TrimSpace(p.Encoder) == "" {
		p.Encoder = d.Encoder
	}
	return p
}

type DecoderOptions struct {
	// Scale is the decode-time downscale; the zero value disables it.
	Scale scale.Fraction
	// DCT selects the decoder's DCT method ("int", "fast", "float").
	DCT   string
	Extra []string
}

type EncoderOptions struct {
	// Quality is 1-100; zero selects DefaultQuality.
	Quality int
	// Sample is the chroma subsampling selector, e.g. "1x1" or "2x2".
	Sample      string
	Progressive bool
	Optimize    bool
	Extra       []string
}

type Compiler struct {
	Programs Programs
}

// Compile turns a chain into a plan. It performs no I/O.
func (c Compiler) Compile(chain Chain, dec DecoderOptions, enc EncoderOptions) (Plan, error) {
	programs := c.Programs.withDefaults()

	decoder, err := decodeStage(programs.Decoder, dec)
	if err != nil {
		return nil, err
	}
	encoder, err := encodeStage(programs.Encoder, enc)
	if err != nil {
		return nil, err
	}

	plan := make(Plan, 0, chain.Len()+2)
	plan = append(plan, decoder)
	for i, t := range chain.transforms {
		var stage StageDescriptor
		switch v := t.(type) {
		case Resize:
			stage = StageDescriptor{Program: programs.Scale, Args: resizeArgs(v)}
		case Crop:
			stage = StageDescriptor{Program: programs.Cut, Args: cropArgs(v)}
		case Flip:
			args, err := flipArgs(v)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			stage = StageDescriptor{Program: programs.Flip, Args: args}
		default:
			return nil, fmt.Errorf("%w: step %d has unsupported kind %s", ErrInvalidTransform, i, t.Kind())
		}
		plan = append(plan, stage)
	}
	return append(plan, encoder), nil
}

func decodeStage(program string, opts DecoderOptions) (StageDescriptor, error) {
	var args []string
	if dct := strings.TrimSpace(opts.DCT); dct != "" {
		args = append(args, "-dct", dct)
	}
	if !opts.Scale.IsZero() {
		if opts.Scale.Num <= 0 || opts.Scale.Den <= 0 {
			return StageDescriptor{}, fmt.Errorf("%w: decode scale %s", ErrInvalidGeometry, opts.Scale)
		}
		args = append(args, "-scale", opts.Scale.Reduce().String())
	}
	args = append(args, opts.Extra...)
	return StageDescriptor{Program: program, Args: args}, nil
}

func encodeStage(program string, opts EncoderOptions) (StageDescriptor, error) {
	quality := opts.Quality
	if quality == 0 {
		quality = DefaultQuality
	}
	if quality < 0 || quality > 100 {
		return StageDescriptor{}, fmt.Errorf("%w: quality must be within 1-100, got %d", ErrInvalidTransform, quality)
	}

	args := []string{"-quality", strconv.Itoa(quality)}
	if sample := strings.TrimSpace(opts.Sample); sample != "" {
		args = append(args, "-sample", sample)
	}
	if opts.Progressive {
		args = append(args, "-progressive")
	}
	if opts.Optimize {
		args = append(args, "-optimize")
	}
	args = append(args, opts.Extra...)
	return StageDescriptor{Program: program, Args: args}, nil
}

func resizeArgs(r Resize) []string {
	var args []string
	switch {
	case r.Width > 0 && r.Height > 0 && r.Aspect == AspectFill:
		args = append(args, "-xyfill", strconv.Itoa(r.Width), strconv.Itoa(r.Height))
	case r.Width > 0 && r.Height > 0 && r.Aspect == AspectPreserve:
		args = append(args, "-xysize", strconv.Itoa(r.Width), strconv.Itoa(r.Height))
	default:
		if r.Height > 0 {
			args = append(args, "-height", strconv.Itoa(r.Height))
		}
		if r.Width > 0 {
			args = append(args, "-width", strconv.Itoa(r.Width))
		}
	}
	if r.Filter != "" {
		args = append(args, "-filter", string(r.Filter))
	}
	return args
}

// cropArgs emits pamcut arguments. pamcut reads a negative -right/-bottom as
// a column/row counted from the far edge with -1 being the last one, so
// excluding n pixels is -(n+1).
func cropArgs(c Crop) []string {
	var args []string
	if c.Width > 0 {
		args = append(args, "-width", strconv.Itoa(c.Width))
	}
	if c.Height > 0 {
		args = append(args, "-height", strconv.Itoa(c.Height))
	}
	if c.Top > 0 {
		args = append(args, "-top", strconv.Itoa(c.Top))
	}
	if c.Right > 0 && !(c.Width > 0 && c.Left > 0) {
		args = append(args, "-right", strconv.Itoa(edgeOffset(c.Right)))
	}
	if c.Bottom > 0 && !(c.Height > 0 && c.Top > 0) {
		args = append(args, "-bottom", strconv.Itoa(edgeOffset(c.Bottom)))
	}
	if c.Left > 0 {
		args = append(args, "-left", strconv.Itoa(c.Left))
	}
	if c.Pad {
		args = append(args, "-pad")
	}
	return args
}

func edgeOffset(distance int) int {
	return -(distance + 1)
}

func flipArgs(f Flip) ([]string, error) {
	switch f.Direction {
	case Horizontal:
		return []string{"-leftright"}, nil
	case Vertical:
		return []string{"-topbottom"}, nil
	default:
		return nil, fmt.Errorf("%w: unknown flip direction %q", ErrInvalidTransform, f.Direction)
	}
}
