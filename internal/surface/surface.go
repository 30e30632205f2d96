// Package surface is the painting surface behind the display engine. It
// rasterizes draw commands into an RGBA frame and keeps the latest one for
// previews and panel dumps.
package surface

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"calface/internal/convert"
	"calface/internal/face"
	appLog "calface/internal/log"
)

// Surface implements face.Host.
type Surface struct {
	width, height int

	mu     sync.RWMutex
	last   *image.NRGBA
	drawn  time.Time
	frames uint64
}

func New(width, height int) *Surface {
	return &Surface{width: width, height: height}
}

// Draw rasterizes one complete frame.
func (s *Surface) Draw(cmds []face.DrawCommand) {
	img := Rasterize(s.width, s.height, cmds)

	s.mu.Lock()
	s.last = img
	s.drawn = time.Now()
	s.frames++
	s.mu.Unlock()
}

// Frames returns the number of frames drawn and the time of the last one.
func (s *Surface) Frames() (uint64, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames, s.drawn
}

// Last returns the latest frame, or nil before the first Draw. Frames are
// never modified after they are stored.
func (s *Surface) Last() *image.NRGBA {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// PNG encodes the latest frame.
func (s *Surface) PNG() ([]byte, error) {
	img := s.Last()
	if img == nil {
		return nil, fmt.Errorf("surface: no frame drawn yet")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("surface: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Dump writes preview.png, black.bin and red.bin for the latest frame
// into dir.
func (s *Surface) Dump(dir string) error {
	img := s.Last()
	if img == nil {
		return fmt.Errorf("surface: no frame drawn yet")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	pngData, err := s.PNG()
	if err != nil {
		return err
	}
	planes, err := convert.Pack(img)
	if err != nil {
		return err
	}

	files := map[string][]byte{
		"preview.png": pngData,
		"black.bin":   planes.Black,
		"red.bin":     planes.Red,
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("surface: write %s: %w", name, err)
		}
	}
	appLog.Info("surface: dumped frame", "dir", dir, "width", planes.Width, "height", planes.Height, "stride", planes.Stride)
	return nil
}

// Rasterize paints cmds in order onto a fresh width x height image.
// Anti-aliasing hints are ignored; everything is drawn aliased.
func Rasterize(width, height int, cmds []face.DrawCommand) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for _, c := range cmds {
		col := TagColor(c.Color)
		switch c.Kind {
		case face.DrawRect:
			r := image.Rect(round(c.X0), round(c.Y0), round(c.X1), round(c.Y1))
			// Zero-length events still get one visible row.
			if r.Dy() == 0 {
				r.Max.Y++
			}
			draw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(col), image.Point{}, draw.Src)
		case face.DrawLine:
			// Timeline lines are axis-aligned; stroke them as 1px rects.
			r := image.Rect(round(c.X0), round(c.Y0), round(c.X1), round(c.Y1))
			r.Max.X++
			r.Max.Y++
			draw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(col), image.Point{}, draw.Src)
		case face.DrawText:
			d := font.Drawer{
				Dst:  img,
				Src:  image.NewUniform(col),
				Face: basicfont.Face7x13,
				Dot:  fixed.P(round(c.X0), round(c.Y0)),
			}
			d.DrawString(c.Text)
		}
	}
	return img
}

// TagColor converts a 0xAARRGGBB tag. A zero alpha is drawn opaque: small
// decimal tags are palette-style values with no alpha byte.
func TagColor(tag int32) color.NRGBA {
	v := uint32(tag)
	c := color.NRGBA{
		A: uint8(v >> 24),
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
	}
	if c.A == 0 {
		c.A = 0xFF
	}
	return c
}

func round(f float64) int { return int(math.Round(f)) }
