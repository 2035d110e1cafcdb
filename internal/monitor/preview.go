package monitor

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"golang.org/x/image/draw"
)

const previewQuality = 75

// Preview keeps the latest downscaled camera frame as JPEG.
type Preview struct {
	width int

	mu      sync.RWMutex
	data    []byte
	updated time.Time
}

// NewPreview creates a preview that scales frames to width pixels. A
// non-positive width keeps the source size.
func NewPreview(width int) *Preview {
	return &Preview{width: width}
}

// Update scales and encodes img
func (p *Preview) Update(img image.Image, at time.Time) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaleToWidth(img, p.width), &jpeg.Options{Quality: previewQuality}); err != nil {
		return err
	}

	p.mu.Lock()
	p.data = buf.Bytes()
	p.updated = at
	p.mu.Unlock()
	return nil
}

// JPEG returns the latest encoded frame
func (p *Preview) JPEG() ([]byte, time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data, p.updated, p.data != nil
}

func scaleToWidth(img image.Image, width int) image.Image {
	b := img.Bounds()
	if width <= 0 || b.Dx() <= width || b.Dx() == 0 {
		return img
	}
	height := max(1, b.Dy()*width/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// blankJPEG renders color bars served until the first preview arrives.
func blankJPEG(width int) ([]byte, error) {
	if width <= 0 {
		width = 320
	}
	height := width * 3 / 4
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	// White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
	colors := []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255},
		{R: 255, G: 255, B: 0, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 0, G: 255, B: 0, A: 255},
		{R: 255, G: 0, B: 255, A: 255},
		{R: 255, G: 0, B: 0, A: 255},
		{R: 0, G: 0, B: 255, A: 255},
		{R: 0, G: 0, B: 0, A: 255},
	}

	barWidth := max(1, width/len(colors))
	for i, c := range colors {
		r := image.Rect(i*barWidth, 0, (i+1)*barWidth, height)
		if i == len(colors)-1 {
			r.Max.X = width
		}
		draw.Draw(img, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: previewQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
