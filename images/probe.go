// probe.go - Ermitteln von Bildgroesse und Format
package images

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Probe liest nur den Header von r und gibt Breite, Hoehe und Format zurueck
func Probe(r io.Reader) (width, height int, format string, err error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, "", err
	}

	return cfg.Width, cfg.Height, format, nil
}
