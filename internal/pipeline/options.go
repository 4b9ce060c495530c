package pipeline

import (
	"fmt"
	"strings"

	"github.com/dunamismax/resized/internal/config"
)

// StageOptions returns the builder options selected by cfg. The prober is
// chosen by the caller.
func StageOptions(cfg config.StagesConfig) ([]Option, error) {
	programs := Programs{
		Decoder: cfg.Decoder,
		Scale:   cfg.Scaler,
		Cut:     cfg.Cutter,
		Flip:    cfg.Flipper,
		Encoder: cfg.Encoder,
	}

	var launcher Launcher
	switch strings.ToLower(strings.TrimSpace(cfg.Launcher)) {
	case "", "exec":
		launcher = ExecLauncher{}
	case "native":
		launcher = NativeLauncher{Programs: programs}
	default:
		return nil, fmt.Errorf("%w: unknown launcher %q", ErrInvalidTransform, cfg.Launcher)
	}

	if cfg.Quality < 0 || cfg.Quality > 100 {
		return nil, fmt.Errorf("%w: quality must be within 1-100 or 0 for the default, got %d", ErrInvalidTransform, cfg.Quality)
	}

	return []Option{
		WithLauncher(launcher),
		WithPrograms(programs),
		WithBufferSize(cfg.BufferSize),
		WithQuality(cfg.Quality),
	}, nil
}
