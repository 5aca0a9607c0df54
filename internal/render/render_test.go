package render

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"testing"
	"time"

	"github.com/andresmejia3/facetrack/internal/types"
	"github.com/google/go-cmp/cmp"
)

// recordingSurface logs every primitive call.
type recordingSurface struct {
	w, h  int
	calls []string
}

func (r *recordingSurface) Size() (int, int) { return r.w, r.h }

func (r *recordingSurface) SetSize(w, h int) {
	r.w, r.h = w, h
	r.calls = append(r.calls, fmt.Sprintf("size %dx%d", w, h))
}

func (r *recordingSurface) SetLineWidth(w float64) {
	r.calls = append(r.calls, fmt.Sprintf("width %g", w))
}

func (r *recordingSurface) ClearRect(x, y, w, h float64) {
	r.calls = append(r.calls, fmt.Sprintf("clear %g %g %g %g", x, y, w, h))
}
func (r *recordingSurface) StrokeCircle(x, y, rad float64) {
	r.calls = append(r.calls, fmt.Sprintf("circle %g %g %g", x, y, rad))
}

func TestRender(t *testing.T) {
	s := &recordingSurface{w: 200, h: 100}
	r := NewRenderer(s)

	r.Render([]types.Point3{{X: 0.5, Y: 0.5}, {X: 0.25, Y: 0.75, Z: -1}})

	want := []string{
		"clear 0 0 200 100",
		"width 2",
		"circle 100 50 2",
		"circle 50 75 2",
	}
	if diff := cmp.Diff(want, s.calls); diff != "" {
		t.Errorf("Render() calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRender_NoPointsStillClears(t *testing.T) {
	s := &recordingSurface{w: 10, h: 10}
	NewRenderer(s).Render(nil)

	if len(s.calls) == 0 || s.calls[0] != "clear 0 0 10 10" {
		t.Errorf("Expected a full clear, got %v", s.calls)
	}
}

func TestRender_NoSurface(t *testing.T) {
	// Must not panic
	NewRenderer(nil).Render([]types.Point3{{X: 0.5, Y: 0.5}})

	var r *Renderer
	if r.Enabled() {
		t.Error("nil renderer should not be enabled")
	}
	r.Render([]types.Point3{{X: 0.5, Y: 0.5}})
}

func TestCanvasStrokeAndClear(t *testing.T) {
	c := NewCanvas(40, 40)
	c.SetLineWidth(2)
	c.StrokeCircle(20, 20, 5)

	img := c.Snapshot()
	// The ring passes through (25, 20)
	if _, _, _, a := img.At(25, 20).RGBA(); a == 0 {
		t.Error("Expected stroked pixel on the circle outline")
	}
	// The center of a stroked circle stays empty
	if _, _, _, a := img.At(20, 20).RGBA(); a != 0 {
		t.Error("Expected center of stroked circle to be transparent")
	}

	c.ClearRect(0, 0, 40, 40)
	img = c.Snapshot()
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 {
			t.Fatal("Expected fully transparent canvas after ClearRect")
		}
	}
}

func TestCanvasResize(t *testing.T) {
	c := NewCanvas(0, 0)
	// Drawing on an empty canvas is a no-op
	c.StrokeCircle(1, 1, 1)
	c.ClearRect(0, 0, 10, 10)

	c.SetSize(64, 48)
	if w, h := c.Size(); w != 64 || h != 48 {
		t.Fatalf("Expected 64x48, got %dx%d", w, h)
	}

	var buf bytes.Buffer
	if err := c.WritePNG(&buf); err != nil {
		t.Fatalf("WritePNG failed: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("Invalid PNG: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 48 {
		t.Errorf("Unexpected PNG bounds %v", img.Bounds())
	}
}

type fakeSource struct {
	w, h  int
	ready chan struct{}
}

func (f *fakeSource) VideoSize() (int, int)  { return f.w, f.h }
func (f *fakeSource) Ready() <-chan struct{} { return f.ready }

func TestSyncSize_AlreadyReady(t *testing.T) {
	src := &fakeSource{w: 320, h: 240, ready: make(chan struct{})}
	close(src.ready)
	c := NewCanvas(1, 1)

	SyncSize(context.Background(), src, c)

	if w, h := c.Size(); w != 320 || h != 240 {
		t.Errorf("Expected immediate resize to 320x240, got %dx%d", w, h)
	}
}

func TestSyncSize_Deferred(t *testing.T) {
	src := &fakeSource{ready: make(chan struct{})}
	c := NewCanvas(1, 1)

	SyncSize(context.Background(), src, c)
	if w, h := c.Size(); w != 1 || h != 1 {
		t.Fatalf("Canvas resized before metadata: %dx%d", w, h)
	}

	src.w, src.h = 640, 480
	close(src.ready)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w, h := c.Size(); w == 640 && h == 480 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("Canvas was not resized once metadata became available")
}
