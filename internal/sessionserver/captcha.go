package sessionserver

import (
	"bytes"
	"crypto/rand"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math/big"
)

// Segment masks a..g, bit 0 is a.
var segments = map[rune]uint8{
	'0': 0b0111111,
	'1': 0b0000110,
	'2': 0b1011011,
	'3': 0b1001111,
	'4': 0b1100110,
	'5': 0b1101101,
	'6': 0b1111101,
	'7': 0b0000111,
	'8': 0b1111111,
	'9': 0b1101111,
}

const (
	glyphW = 24
	glyphH = 44
	stroke = 4
)

// renderCaptcha draws digits as jittered seven-segment glyphs over noise.
func renderCaptcha(random io.Reader, digits string) ([]byte, error) {
	width := (glyphW+14)*len(digits) + 20
	height := glyphH + 40
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	bg := color.RGBA{uint8(randInt(random, 200, 255)), uint8(randInt(random, 200, 255)), uint8(randInt(random, 200, 255)), 255}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)

	x := 10
	for _, d := range digits {
		mask, ok := segments[d]
		if !ok {
			continue
		}
		fg := color.RGBA{uint8(randInt(random, 0, 90)), uint8(randInt(random, 0, 90)), uint8(randInt(random, 0, 90)), 255}
		drawGlyph(img, mask, x, 20+randInt(random, -12, 12), fg)
		x += glyphW + 14 + randInt(random, -4, 4)
	}

	for i := 0; i < width*height/12; i++ {
		px, py := randInt(random, 0, width-1), randInt(random, 0, height-1)
		v := uint8(randInt(random, 0, 255))
		img.Set(px, py, color.RGBA{v, v, v, 255})
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func drawGlyph(img *image.RGBA, mask uint8, x, y int, c color.Color) {
	half := glyphH / 2
	// Segments a to g.
	rects := [7]image.Rectangle{
		image.Rect(x, y, x+glyphW, y+stroke),
		image.Rect(x+glyphW-stroke, y, x+glyphW, y+half),
		image.Rect(x+glyphW-stroke, y+half, x+glyphW, y+glyphH),
		image.Rect(x, y+glyphH-stroke, x+glyphW, y+glyphH),
		image.Rect(x, y+half, x+stroke, y+glyphH),
		image.Rect(x, y, x+stroke, y+half),
		image.Rect(x, y+half-stroke/2, x+glyphW, y+half+stroke/2),
	}
	for i, r := range rects {
		if mask&(1<<i) != 0 {
			draw.Draw(img, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
		}
	}
}

// randInt returns a uniform integer in [lo, hi]. Entropy failures fall back
// to lo; only the picture's noise depends on it.
func randInt(random io.Reader, lo, hi int) int {
	n, err := rand.Int(random, big.NewInt(int64(hi-lo+1)))
	if err != nil {
		return lo
	}
	return lo + int(n.Int64())
}

// randomDigits returns n uniformly random decimal digits.
func randomDigits(random io.Reader, n int) (string, error) {
	out := make([]byte, n)
	for i := range out {
		d, err := rand.Int(random, big.NewInt(10))
		if err != nil {
			return "", err
		}
		out[i] = '0' + byte(d.Int64())
	}
	return string(out), nil
}
