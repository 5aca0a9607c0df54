package types

import "time"

// Frame is a single captured video frame handed to the detector.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte // JPEG encoded
}

// Empty reports whether no frame has been captured yet.
func (f Frame) Empty() bool {
	return len(f.Data) == 0
}

// Landmark is a raw point as emitted by the landmark model.
// Z is nil when the model did not report depth.
type Landmark struct {
	X float64  `json:"x"`
	Y float64  `json:"y"`
	Z *float64 `json:"z,omitempty"`
}

// Face is the ordered landmark list of one detected face. Index N always
// refers to the same anatomical point for a given model.
type Face []Landmark

// Point3 is a resolved landmark: x and y normalized to [0,1] of the frame
// width and height, z relative depth (0 when the model omitted it).
type Point3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// BoundingBox is an axis-aligned envelope in normalized units.
type BoundingBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// FrameResult is reported once per processed frame. Box is nil when no face
// was found.
type FrameResult struct {
	Landmarks []Point3     `json:"landmarks"`
	Box       *BoundingBox `json:"box,omitempty"`
	FPS       float64      `json:"fps"`
}

// DetectorOptions is forwarded to the detector provisioner.
type DetectorOptions struct {
	ModelAssetPath   string
	RuntimeAssetBase string
	NumFaces         int
	RunningMode      string
}

// Constraints describes the requested camera stream.
type Constraints struct {
	FacingMode string
	Audio      bool
}
