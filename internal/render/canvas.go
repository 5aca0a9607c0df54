package render

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"os"
	"sync"

	"git.sr.ht/~sbinet/gg"
)

// Canvas is a raster drawing surface with an immediate mode 2D context.
// Resizing discards the current contents, like an HTML canvas.
type Canvas struct {
	mu        sync.Mutex
	img       *image.RGBA
	dc        *gg.Context
	lineWidth float64
	stroke    color.Color
}

// NewCanvas returns a transparent canvas of the given size.
func NewCanvas(width, height int) *Canvas {
	c := &Canvas{lineWidth: 1, stroke: color.Black}
	c.resize(width, height)
	return c
}

// Size returns the pixel size.
func (c *Canvas) Size() (width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.img.Bounds()
	return b.Dx(), b.Dy()
}

// SetSize reallocates the pixel buffer.
func (c *Canvas) SetSize(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resize(width, height)
}

func (c *Canvas) resize(width, height int) {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	c.img = image.NewRGBA(image.Rect(0, 0, width, height))
	c.dc = nil
	if width > 0 && height > 0 {
		c.dc = gg.NewContextForRGBA(c.img)
	}
}

// SetLineWidth sets the stroke width in pixels.
func (c *Canvas) SetLineWidth(w float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lineWidth = w
}

// ClearRect resets the given rectangle to transparent.
func (c *Canvas) ClearRect(x, y, w, h float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := image.Rect(int(x), int(y), int(x+w), int(y+h)).Intersect(c.img.Bounds())
	if r.Empty() {
		return
	}
	draw.Draw(c.img, r, image.Transparent, image.Point{}, draw.Src)
}

// StrokeCircle outlines a circle centered at (x, y).
func (c *Canvas) StrokeCircle(x, y, r float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dc == nil {
		return
	}
	c.dc.SetLineWidth(c.lineWidth)
	c.dc.SetColor(c.stroke)
	c.dc.DrawCircle(x, y, r)
	c.dc.Stroke()
}

// Snapshot returns a copy of the current pixels.
func (c *Canvas) Snapshot() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := image.NewRGBA(c.img.Bounds())
	copy(out.Pix, c.img.Pix)
	return out
}

// WritePNG encodes the current pixels as PNG.
func (c *Canvas) WritePNG(w io.Writer) error {
	return png.Encode(w, c.Snapshot())
}

// SavePNG writes the current pixels to path.
func (c *Canvas) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := c.WritePNG(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
