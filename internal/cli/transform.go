package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/dunamismax/resized/internal/config"
	"github.com/dunamismax/resized/internal/domain"
	"github.com/dunamismax/resized/internal/pipeline"
	"github.com/spf13/cobra"
)

func newTransformCommand(cfg config.Config, flags *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	var (
		steps  []string
		output domain.OutputOptions
	)

	cmd := &cobra.Command{
		Use:   "transform <input.jpg> <output.jpg|->",
		Short: "Apply steps to a JPEG and write the result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := output.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			opts, err := flags.builderOptions(cfg.Stages, stderr)
			if err != nil {
				return err
			}
			opts = append(opts, pipeline.WithEncoderOptions(pipeline.EncoderOptions{
				Quality:     pick(output.Quality, cfg.Stages.Quality),
				Sample:      output.Sample,
				Progressive: output.Progressive,
			}))

			b, err := buildChain(args[0], steps, opts)
			if err != nil {
				return err
			}
			if args[1] == "-" {
				return b.Write(ctx, stdout)
			}
			if !flags.verbose {
				return b.WriteFile(ctx, args[1])
			}
			size, sizeErr := b.OutputSize(ctx)
			if err := b.WriteFile(ctx, args[1]); err != nil {
				return err
			}
			return reportOutput(args[1], size, sizeErr, stderr)
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&steps, "step", "s", nil, "transform step, repeatable and applied in order")
	f.IntVarP(&output.Quality, "quality", "q", 0, "JPEG quality 1-100 (default from RESIZED_QUALITY)")
	f.StringVar(&output.Sample, "sample", "", "chroma sampling factors, e.g. 1x1")
	f.BoolVar(&output.Progressive, "progressive", false, "write a progressive JPEG")
	return cmd
}

// buildChain opens input and appends each parsed step.
func buildChain(input string, steps []string, opts []pipeline.Option) (*pipeline.Builder, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("at least one --step is required")
	}
	b := pipeline.Open(input, opts...)
	for i, raw := range steps {
		step, err := domain.ParseStep(raw)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		if err := pipeline.ApplyStep(b, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return b, nil
}

func reportOutput(path string, size pipeline.Size, sizeErr error, w io.Writer) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat output: %w", err)
	}
	if sizeErr != nil {
		fmt.Fprintf(w, "wrote %s (%d bytes)\n", path, info.Size())
		return nil
	}
	fmt.Fprintf(w, "wrote %s %s (%d bytes)\n", path, size, info.Size())
	return nil
}

func pick(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
