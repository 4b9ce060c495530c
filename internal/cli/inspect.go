package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dunamismax/resized/internal/config"
	"github.com/dunamismax/resized/internal/pipeline"
	"github.com/spf13/cobra"
)

func newDescribeCommand(flags *globalFlags, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <input.jpg>",
		Short: "Print the probed metadata of an image as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prober, err := flags.newProber()
			if err != nil {
				return err
			}
			props, err := pipeline.Open(args[0], pipeline.WithProber(prober)).Describe(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(props)
		},
	}
}

type planReport struct {
	Source      string   `json:"source"`
	Output      string   `json:"output"`
	Fingerprint string   `json:"fingerprint"`
	Stages      []string `json:"stages"`
}

func newPlanCommand(cfg config.Config, flags *globalFlags, stdout io.Writer) *cobra.Command {
	var (
		steps  []string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "plan <input.jpg>",
		Short: "Show the stage commands a transform would run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.builderOptions(cfg.Stages, io.Discard)
			if err != nil {
				return err
			}
			b, err := buildChain(args[0], steps, opts)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			props, err := b.Describe(ctx)
			if err != nil {
				return err
			}
			plan, err := b.Plan(ctx)
			if err != nil {
				return err
			}
			out, err := b.OutputSize(ctx)
			if err != nil {
				return err
			}

			report := planReport{
				Source:      pipeline.Size{Width: props.Width, Height: props.Height}.String(),
				Output:      out.String(),
				Fingerprint: plan.Fingerprint(),
			}
			for _, stage := range plan {
				report.Stages = append(report.Stages, stage.String())
			}

			if asJSON {
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			fmt.Fprintf(stdout, "%s -> %s  %s\n", report.Source, report.Output, report.Fingerprint)
			fmt.Fprintln(stdout, plan.String())
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&steps, "step", "s", nil, "transform step, repeatable and applied in order")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the plan as JSON")
	return cmd
}
