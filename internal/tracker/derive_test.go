package tracker

import (
	"math"
	"testing"
	"time"

	"github.com/andresmejia3/facetrack/internal/types"
	"github.com/google/go-cmp/cmp"
)

func TestBoundingBox(t *testing.T) {
	tests := []struct {
		name   string
		points []types.Point3
		want   *types.BoundingBox
	}{
		{
			name: "empty",
			want: nil,
		},
		{
			name:   "single point",
			points: []types.Point3{{X: 0.4, Y: 0.6}},
			want:   &types.BoundingBox{X: 0.4, Y: 0.6},
		},
		{
			name:   "envelope",
			points: []types.Point3{{X: 0.2, Y: 0.3}, {X: 0.5, Y: 0.1}, {X: 0.4, Y: 0.7}},
			want:   &types.BoundingBox{X: 0.2, Y: 0.1, W: 0.3, H: 0.6},
		},
		{
			name:   "outside unit square",
			points: []types.Point3{{X: -0.1, Y: 0.5}, {X: 1.2, Y: 1.5}},
			want:   &types.BoundingBox{X: -0.1, Y: 0.5, W: 1.3, H: 1.0},
		},
	}

	approx := cmp.Comparer(func(a, b float64) bool { return math.Abs(a-b) < 1e-9 })
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BoundingBox(tt.points)
			if diff := cmp.Diff(tt.want, got, approx); diff != "" {
				t.Errorf("BoundingBox mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBoundingBox_ContainsAllPoints(t *testing.T) {
	points := []types.Point3{{X: 0.9, Y: 0.1}, {X: 0.3, Y: 0.8}, {X: 0.5, Y: 0.5}, {X: 0.1, Y: 0.2}}
	box := BoundingBox(points)
	if box.W < 0 || box.H < 0 {
		t.Fatalf("Negative box size: %+v", box)
	}
	for _, p := range points {
		if p.X < box.X || p.X > box.X+box.W+1e-9 || p.Y < box.Y || p.Y > box.Y+box.H+1e-9 {
			t.Errorf("Point %+v outside box %+v", p, box)
		}
	}
}

func TestToLandmarks(t *testing.T) {
	z := -0.25
	face := types.Face{{X: 0.1, Y: 0.2}, {X: 0.3, Y: 0.4, Z: &z}}
	want := []types.Point3{{X: 0.1, Y: 0.2, Z: 0}, {X: 0.3, Y: 0.4, Z: -0.25}}
	if diff := cmp.Diff(want, ToLandmarks(face)); diff != "" {
		t.Errorf("ToLandmarks mismatch (-want +got):\n%s", diff)
	}

	if got := ToLandmarks(nil); got == nil || len(got) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", got)
	}
}

func TestFirstFace(t *testing.T) {
	if FirstFace(nil) != nil {
		t.Error("Expected nil for no faces")
	}
	a := types.Face{{X: 1}}
	b := types.Face{{X: 2}}
	if got := FirstFace([]types.Face{a, b}); got[0].X != 1 {
		t.Errorf("Expected first face, got %+v", got)
	}
}

func TestEstimateFPS(t *testing.T) {
	tests := []struct {
		name            string
		now, last, prev float64
		want            float64
	}{
		{"positive delta", 1016, 1000, 0, 62.5},
		{"one second", 2000, 1000, 7, 1},
		{"zero delta keeps previous", 1000, 1000, 30, 30},
		{"negative delta keeps previous", 900, 1000, 24, 24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateFPS(tt.now, tt.last, tt.prev); got != tt.want {
				t.Errorf("EstimateFPS(%v, %v, %v) = %v, want %v", tt.now, tt.last, tt.prev, got, tt.want)
			}
		})
	}
}

func TestFPSEstimator(t *testing.T) {
	e := NewFPSEstimator(0)
	if got := e.Update(20); got != 50 {
		t.Errorf("Expected 50 fps, got %v", got)
	}
	// Same timestamp keeps the estimate but still advances last
	if got := e.Update(20); got != 50 {
		t.Errorf("Expected 50 fps to be kept, got %v", got)
	}
	if got := e.Update(30); got != 100 {
		t.Errorf("Expected 100 fps, got %v", got)
	}
	if e.FPS() != 100 {
		t.Errorf("FPS() = %v, want 100", e.FPS())
	}
}

func TestMillis(t *testing.T) {
	origin := time.Unix(100, 0)
	if got := millis(origin, origin.Add(1500*time.Microsecond)); got != 1.5 {
		t.Errorf("millis = %v, want 1.5", got)
	}
}
