package probe

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Config probes files in-process by decoding only the image header.
type Config struct{}

func (Config) Describe(ctx context.Context, path string) (ImageProperties, error) {
	if strings.TrimSpace(path) == "" {
		return ImageProperties{}, ErrNoPath
	}

	select {
	case <-ctx.Done():
		return ImageProperties{}, ctx.Err()
	default:
	}

	f, err := os.Open(path)
	if err != nil {
		return ImageProperties{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ImageProperties{}, fmt.Errorf("stat %s: %w", path, err)
	}

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return ImageProperties{}, fmt.Errorf("decode header %s: %w", path, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return ImageProperties{}, fmt.Errorf("%w: %dx%d", ErrBadResolution, cfg.Width, cfg.Height)
	}

	return ImageProperties{
		Width:  cfg.Width,
		Height: cfg.Height,
		Fields: map[string]string{
			"file name":     path,
			"file size":     strconv.FormatInt(info.Size(), 10) + " bytes",
			"format":        format,
			LabelResolution: formatResolution(cfg.Width, cfg.Height),
		},
	}, nil
}
