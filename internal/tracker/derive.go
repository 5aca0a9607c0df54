package tracker

import (
	"time"

	"github.com/andresmejia3/facetrack/internal/types"
)

// FirstFace returns the first detected face or nil. Only one face is ever tracked.
func FirstFace(faces []types.Face) types.Face {
	if len(faces) == 0 {
		return nil
	}
	return faces[0]
}

// ToLandmarks resolves raw landmarks, defaulting a missing z to 0.
// The result is never nil so it encodes as an empty list.
func ToLandmarks(face types.Face) []types.Point3 {
	points := make([]types.Point3, len(face))
	for i, l := range face {
		points[i] = types.Point3{X: l.X, Y: l.Y}
		if l.Z != nil {
			points[i].Z = *l.Z
		}
	}
	return points
}

// BoundingBox returns the axis-aligned envelope of points, nil when empty.
// Points outside [0,1] are included as they are.
func BoundingBox(points []types.Point3) *types.BoundingBox {
	if len(points) == 0 {
		return nil
	}
	xMin, xMax := points[0].X, points[0].X
	yMin, yMax := points[0].Y, points[0].Y
	for _, p := range points[1:] {
		if p.X < xMin {
			xMin = p.X
		}
		if p.X > xMax {
			xMax = p.X
		}
		if p.Y < yMin {
			yMin = p.Y
		}
		if p.Y > yMax {
			yMax = p.Y
		}
	}
	return &types.BoundingBox{X: xMin, Y: yMin, W: xMax - xMin, H: yMax - yMin}
}

// EstimateFPS returns 1000/(now-last) for millisecond timestamps, or prev
// when the delta is not positive.
func EstimateFPS(now, last, prev float64) float64 {
	if dt := now - last; dt > 0 {
		return 1000 / dt
	}
	return prev
}

// FPSEstimator tracks the instantaneous frame rate across frames.
type FPSEstimator struct {
	last float64
	fps  float64
}

// NewFPSEstimator starts measuring from start (milliseconds).
func NewFPSEstimator(start float64) *FPSEstimator {
	return &FPSEstimator{last: start}
}

// Update records a frame at now and returns the current estimate. The last
// timestamp always moves to now, even when the estimate is kept.
func (e *FPSEstimator) Update(now float64) float64 {
	e.fps = EstimateFPS(now, e.last, e.fps)
	e.last = now
	return e.fps
}

// FPS returns the latest estimate without recording a frame.
func (e *FPSEstimator) FPS() float64 {
	return e.fps
}

// millis converts a clock reading into milliseconds since origin.
func millis(origin, t time.Time) float64 {
	return float64(t.Sub(origin)) / float64(time.Millisecond)
}
