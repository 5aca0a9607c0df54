package tracker

import "errors"

var (
	// ErrConfiguration means the session could not be configured. Nothing was started.
	ErrConfiguration = errors.New("configuration error")
	// ErrAcquisition means the camera stream could not be acquired or played.
	ErrAcquisition = errors.New("camera acquisition failed")
	// ErrProvisioning means the landmark detector failed to initialize.
	ErrProvisioning = errors.New("detector provisioning failed")
	// ErrDetection wraps a failed per-frame detection.
	ErrDetection = errors.New("detection failed")
	// ErrDetectorClosed is reported when a frame runs after Close.
	ErrDetectorClosed = errors.New("detector closed")
)
