//go:build govips && cgo

package probe

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	runtimeMu   sync.Mutex
	running     bool
)

// Startup initializes libvips once per process.
func Startup() error {
	startupOnce.Do(func() {
		vips.LoggingSettings(nil, vips.LogLevelWarning)
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   64 * 1024 * 1024,
			MaxCacheSize:  50,
		})

		runtimeMu.Lock()
		running = true
		runtimeMu.Unlock()
	})
	return nil
}

func Shutdown() {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if !running {
		return
	}
	vips.Shutdown()
	running = false
}

// Vips probes files through libvips, which reads only the header for most
// formats.
type Vips struct{}

func (Vips) Describe(ctx context.Context, path string) (ImageProperties, error) {
	if strings.TrimSpace(path) == "" {
		return ImageProperties{}, ErrNoPath
	}

	select {
	case <-ctx.Done():
		return ImageProperties{}, ctx.Err()
	default:
	}

	if err := Startup(); err != nil {
		return ImageProperties{}, err
	}

	img, err := vips.NewImageFromFile(path)
	if err != nil {
		return ImageProperties{}, fmt.Errorf("load %s: %w", path, err)
	}
	defer img.Close()

	width, height := img.Width(), img.Height()
	if width <= 0 || height <= 0 {
		return ImageProperties{}, fmt.Errorf("%w: %dx%d", ErrBadResolution, width, height)
	}

	return ImageProperties{
		Width:  width,
		Height: height,
		Fields: map[string]string{
			"file name":     path,
			"format":        vips.ImageTypes[img.Format()],
			LabelResolution: formatResolution(width, height),
		},
	}, nil
}

func native() Prober {
	return Vips{}
}
