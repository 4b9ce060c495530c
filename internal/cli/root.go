// Package cli implements the resized command line: one-shot transforms,
// probing and plan inspection against local files.
package cli

import (
	"fmt"
	"io"
	"log"
	"runtime"
	"strings"

	"github.com/dunamismax/resized/internal/config"
	"github.com/dunamismax/resized/internal/pipeline"
	"github.com/dunamismax/resized/internal/probe"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

type globalFlags struct {
	verbose  bool
	launcher string
	prober   string
	jhead    string
}

// NewRootCommand returns the resized command tree writing to stdout and
// stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	cfg := config.Load()
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "resized",
		Short: "Stream JPEG images through resize, crop and flip stages",
		Long: `resized runs a chain of resize, crop and flip steps over a JPEG by
streaming it through decoder, transform and encoder stages.

Steps use the compact form action:key=value,...:

  resize:w=400,h=300,fill,filter=lanczos
  crop:top=10,left=10,w=200,h=100,pad
  flip:horizontal`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return probe.Startup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			probe.Shutdown()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate(fmt.Sprintf(
		"resized %s (%s/%s, %s)\n",
		version, runtime.GOOS, runtime.GOARCH, runtime.Version(),
	))

	pf := root.PersistentFlags()
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "log stage activity to stderr")
	pf.StringVar(&flags.launcher, "launcher", cfg.Stages.Launcher, "stage launcher: exec or native")
	pf.StringVar(&flags.prober, "prober", "auto", "metadata prober: auto, jhead or decode")
	pf.StringVar(&flags.jhead, "jhead", cfg.Probe.Program, "jhead executable")

	root.AddCommand(
		newTransformCommand(cfg, flags, stdout, stderr),
		newDescribeCommand(flags, stdout),
		newPlanCommand(cfg, flags, stdout),
	)
	return root
}

func (f *globalFlags) logger(stderr io.Writer) *log.Logger {
	if !f.verbose {
		return nil
	}
	return log.New(stderr, "[resized] ", log.LstdFlags|log.Lmsgprefix)
}

func (f *globalFlags) newProber() (probe.Prober, error) {
	switch strings.ToLower(strings.TrimSpace(f.prober)) {
	case "", "auto":
		return probe.Default(f.jhead), nil
	case "jhead":
		return probe.Jhead{Program: f.jhead}, nil
	case "decode":
		return probe.Config{}, nil
	default:
		return nil, fmt.Errorf("unknown prober %q", f.prober)
	}
}

// builderOptions resolves the stage configuration with flag overrides.
func (f *globalFlags) builderOptions(stages config.StagesConfig, stderr io.Writer) ([]pipeline.Option, error) {
	stages.Launcher = f.launcher
	opts, err := pipeline.StageOptions(stages)
	if err != nil {
		return nil, err
	}
	prober, err := f.newProber()
	if err != nil {
		return nil, err
	}
	opts = append(opts, pipeline.WithProber(prober))
	if logger := f.logger(stderr); logger != nil {
		opts = append(opts, pipeline.WithLogger(logger))
	}
	return opts, nil
}
