package evidence

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/nfnt/resize"
)

// GIFOptions configures replay encoding.
type GIFOptions struct {
	// Delay between frames in hundredths of a second.
	Delay int
	// Width caps the output width; wider frames are scaled down
	// keeping their aspect ratio. 0 = keep size.
	Width uint
}

// EncodeGIF writes frames as a looping GIF sharing one palette.
func EncodeGIF(w io.Writer, frames []image.Image, opts GIFOptions) error {
	if len(frames) == 0 {
		return fmt.Errorf("evidence: no frames")
	}
	if opts.Delay <= 0 {
		opts.Delay = 80
	}

	scaled := make([]image.Image, len(frames))
	for i, f := range frames {
		scaled[i] = fit(f, opts.Width)
	}

	palette := generatePalette(scaled)
	g := &gif.GIF{
		Image:     make([]*image.Paletted, len(scaled)),
		Delay:     make([]int, len(scaled)),
		LoopCount: 0,
	}
	for i, f := range scaled {
		p := image.NewPaletted(f.Bounds(), palette)
		draw.FloydSteinberg.Draw(p, f.Bounds(), f, f.Bounds().Min)
		g.Image[i] = p
		g.Delay[i] = opts.Delay
	}
	// The last frame stays up longer so the outcome is readable.
	g.Delay[len(g.Delay)-1] = opts.Delay * 3

	if err := gif.EncodeAll(w, g); err != nil {
		return fmt.Errorf("evidence: encode gif: %w", err)
	}
	return nil
}

// WriteGIF encodes frames to path, creating its directory, and returns the
// file size.
func WriteGIF(path string, frames []image.Image, opts GIFOptions) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("evidence: create dir: %w", err)
	}
	f, err := os.Create(path) //nolint:gosec // path built from the configured evidence dir
	if err != nil {
		return 0, fmt.Errorf("evidence: create %s: %w", path, err)
	}
	if err := EncodeGIF(f, frames, opts); err != nil {
		_ = f.Close()
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("evidence: close %s: %w", path, err)
	}
	return info.Size(), nil
}

// fit scales img down to width, keeping its aspect ratio.
func fit(img image.Image, width uint) image.Image {
	if width == 0 || img.Bounds().Dx() <= int(width) {
		return img
	}
	return resize.Resize(width, 0, img, resize.Lanczos3)
}

// generatePalette picks the 256 most frequent colours sampled across frames,
// padded with greys. Annotation colours are always included.
func generatePalette(frames []image.Image) color.Palette {
	counts := make(map[color.RGBA]int)
	const step = 4
	for _, img := range frames {
		b := img.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y += step {
			for x := b.Min.X; x < b.Max.X; x += step {
				r, g, bl, _ := img.At(x, y).RGBA()
				counts[color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(bl >> 8), 255}]++
			}
		}
	}

	type colorCount struct {
		c     color.RGBA
		count int
	}
	colors := make([]colorCount, 0, len(counts))
	for c, n := range counts {
		colors = append(colors, colorCount{c, n})
	}
	sort.Slice(colors, func(i, j int) bool {
		if colors[i].count != colors[j].count {
			return colors[i].count > colors[j].count
		}
		a, b := colors[i].c, colors[j].c
		return uint32(a.R)<<16|uint32(a.G)<<8|uint32(a.B) < uint32(b.R)<<16|uint32(b.G)<<8|uint32(b.B)
	})

	palette := color.Palette{BoxColor, AnomalyColor}
	for i := 0; i < len(colors) && len(palette) < 256; i++ {
		if colors[i].c == BoxColor || colors[i].c == AnomalyColor {
			continue
		}
		palette = append(palette, colors[i].c)
	}
	for len(palette) < 256 {
		gray := uint8(len(palette))
		palette = append(palette, color.RGBA{gray, gray, gray, 255})
	}
	return palette
}
