// Package render draws landmark overlays onto a drawing surface.
package render

import (
	"context"

	"github.com/andresmejia3/facetrack/internal/types"
)

const (
	markerRadius = 2
	markerWidth  = 2
)

// Surface is a resizable drawing target with clear and stroked circle primitives.
type Surface interface {
	Size() (width, height int)
	SetSize(width, height int)
	ClearRect(x, y, w, h float64)
	SetLineWidth(w float64)
	StrokeCircle(x, y, r float64)
}

// SizeSource reports an intrinsic size once its metadata is available.
type SizeSource interface {
	VideoSize() (width, height int)
	Ready() <-chan struct{}
}

// Renderer draws normalized points scaled to the surface size. A Renderer
// without a surface draws nothing.
type Renderer struct {
	surface Surface
}

// NewRenderer binds a renderer to s, which may be nil.
func NewRenderer(s Surface) *Renderer {
	return &Renderer{surface: s}
}

// Enabled reports whether a surface is configured.
func (r *Renderer) Enabled() bool {
	return r != nil && r.surface != nil
}

// Render clears the surface and marks each point.
func (r *Renderer) Render(points []types.Point3) {
	if !r.Enabled() {
		return
	}
	w, h := r.surface.Size()
	fw, fh := float64(w), float64(h)

	r.surface.ClearRect(0, 0, fw, fh)
	r.surface.SetLineWidth(markerWidth)
	for _, p := range points {
		r.surface.StrokeCircle(p.X*fw, p.Y*fh, markerRadius)
	}
}

// SyncSize sizes s to match src. If src has no metadata yet the resize
// happens once it does, or never if ctx ends first.
func SyncSize(ctx context.Context, src SizeSource, s Surface) {
	if s == nil {
		return
	}
	resize := func() {
		w, h := src.VideoSize()
		s.SetSize(w, h)
	}

	select {
	case <-src.Ready():
		resize()
		return
	default:
	}

	go func() {
		select {
		case <-src.Ready():
			resize()
		case <-ctx.Done():
		}
	}()
}
