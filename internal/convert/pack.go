// Package convert packs rendered frames into the 1bpp black and red planes
// tri-color e-paper panels take.
package convert

import (
	"errors"
	"image"
	"image/color"
)

// Planes is a packed frame. Each plane is y-major, MSB-first, Stride bytes
// per row; a 0 bit means ink.
type Planes struct {
	Width  int
	Height int
	Stride int
	Black  []byte
	Red    []byte
}

// Stride returns the bytes per packed row for width pixels.
func Stride(width int) int { return (width + 7) / 8 }

// Pack classifies every pixel of img as white, black or red ink.
// Pixels with alpha below 128 count as white.
func Pack(img *image.NRGBA) (Planes, error) {
	if img == nil {
		return Planes{}, errors.New("convert: nil image")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return Planes{}, errors.New("convert: empty image")
	}

	p := Planes{Width: w, Height: h, Stride: Stride(w)}
	p.Black = whitePlane(p.Stride * h)
	p.Red = whitePlane(p.Stride * h)

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+4]
			if px[3] < 128 {
				continue
			}
			idx := y*p.Stride + x>>3
			mask := byte(0x80 >> (x & 7))
			switch Classify(color.NRGBA{R: px[0], G: px[1], B: px[2], A: px[3]}) {
			case InkBlack:
				p.Black[idx] &^= mask
			case InkRed:
				p.Red[idx] &^= mask
			}
		}
	}
	return p, nil
}

func whitePlane(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = 0xFF
	}
	return buf
}

// Ink is the plane a pixel lands on.
type Ink int

const (
	InkWhite Ink = iota
	InkBlack
	InkRed
)

// Classify maps a color to ink: dark (luma < 64) is black, clearly red
// (R > 128 and R - max(G, B) > 32) is red, everything else is white.
func Classify(c color.NRGBA) Ink {
	r, g, b := int(c.R), int(c.G), int(c.B)
	// Integer BT.601 luma, scaled by 1000.
	luma := 299*r + 587*g + 114*b
	if luma < 64*1000 {
		return InkBlack
	}
	if r > 128 && r-max(g, b) > 32 {
		return InkRed
	}
	return InkWhite
}
