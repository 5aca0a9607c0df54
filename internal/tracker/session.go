// Package tracker runs a face tracking session over a live video.
//
// A Session ties together a video source, a landmark detector and an optional
// drawing surface. Once started it processes one frame per display refresh:
// detect, take the first face, draw its landmarks, estimate the frame rate and
// hand a FrameResult to the OnResults callback. Iterations never overlap and
// the callback sees frames in order, so it must return quickly.
//
// Detection failures are logged and the frame is skipped. After
// MaxConsecutiveFailures failures in a row, or on the first failure IsFatal
// accepts, the loop disarms itself and reports the error through OnError.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/facetrack/internal/camera"
	"github.com/andresmejia3/facetrack/internal/logging"
	"github.com/andresmejia3/facetrack/internal/render"
	"github.com/andresmejia3/facetrack/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultModelAssetPath is the hosted float16 face landmarker model.
	DefaultModelAssetPath = "https://storage.googleapis.com/mediapipe-models/face_landmarker/face_landmarker/float16/1/face_landmarker.task"
	// DefaultRuntimeAssetBase is where the landmark worker runtime lives.
	DefaultRuntimeAssetBase = "python"
	DefaultMaxFaces         = 1
	DefaultRefreshRate      = 60.0
	DefaultMaxFailures      = 5

	runningModeVideo = "VIDEO"
	facingModeUser   = "user"
)

// Detector finds face landmarks in a video frame. Timestamps are milliseconds
// and must not decrease between calls.
type Detector interface {
	DetectForVideo(frame types.Frame, timestampMs float64) ([]types.Face, error)
	Close() error
}

// Provisioner loads a Detector.
type Provisioner interface {
	Provision(ctx context.Context, opts types.DetectorOptions) (Detector, error)
}

// ProvisionFunc adapts a function to Provisioner.
type ProvisionFunc func(ctx context.Context, opts types.DetectorOptions) (Detector, error)

func (f ProvisionFunc) Provision(ctx context.Context, opts types.DetectorOptions) (Detector, error) {
	return f(ctx, opts)
}

// CameraAcquirer opens a live camera stream.
type CameraAcquirer interface {
	Acquire(ctx context.Context, constraints types.Constraints) (camera.Stream, error)
}

// VideoSource is the element frames are read from.
type VideoSource interface {
	HasStream() bool
	Attach(s camera.Stream)
	Play(ctx context.Context) error
	VideoSize() (width, height int)
	Ready() <-chan struct{}
	CurrentFrame() types.Frame
}

// Config holds construction options. Only Video and Provisioner are required.
type Config struct {
	Video VideoSource `validate:"required"`
	// Canvas receives the landmark overlay when set.
	Canvas render.Surface
	// Camera is used when Video has no stream attached.
	Camera      CameraAcquirer
	Provisioner Provisioner `validate:"required"`

	ModelAssetPath   string
	RuntimeAssetBase string
	// MaxFaces is forwarded to the detector; only the first face is used.
	MaxFaces int `validate:"gte=0"`

	OnResults func(types.FrameResult)
	OnError   func(error)

	// Scheduler defaults to a RefreshScheduler at DefaultRefreshRate owned by the session.
	Scheduler Scheduler
	Logger    logrus.FieldLogger
	// MaxConsecutiveFailures stops the loop after that many failed detections in a row.
	MaxConsecutiveFailures int `validate:"gte=0"`
	// IsFatal marks detection errors that stop the loop immediately.
	IsFatal func(error) bool
	Clock   func() time.Time
}

var validate = validator.New()

func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if !c.Video.HasStream() && c.Camera == nil {
		return fmt.Errorf("%w: video has no stream and no camera is configured", ErrConfiguration)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.ModelAssetPath == "" {
		c.ModelAssetPath = DefaultModelAssetPath
	}
	if c.RuntimeAssetBase == "" {
		c.RuntimeAssetBase = DefaultRuntimeAssetBase
	}
	if c.MaxFaces == 0 {
		c.MaxFaces = DefaultMaxFaces
	}
	if c.MaxConsecutiveFailures == 0 {
		c.MaxConsecutiveFailures = DefaultMaxFailures
	}
	if c.OnResults == nil {
		c.OnResults = func(types.FrameResult) {}
	}
	if c.OnError == nil {
		c.OnError = func(error) {}
	}
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// State is the frame loop state.
type State int

const (
	// Idle means no frame is scheduled.
	Idle State = iota
	// Armed means a frame callback is pending.
	Armed
)

func (s State) String() string {
	if s == Armed {
		return "armed"
	}
	return "idle"
}

// Advanced exposes the underlying detector for uncommon use.
type Advanced struct {
	Detector Detector
}

// Stats summarizes a session so far.
type Stats struct {
	Frames  uint64
	Skipped uint64
	FPS     float64
}

// Session is one tracking run.
type Session struct {
	id  string
	cfg Config
	log logrus.FieldLogger

	scheduler      Scheduler
	ownedScheduler *RefreshScheduler
	renderer       *render.Renderer
	origin         time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// iterMu serializes iterations; fps and failures are only touched under it.
	iterMu   sync.Mutex
	fps      *FPSEstimator
	failures int

	mu       sync.Mutex
	detector Detector
	handle   FrameHandle
	gen      uint64
	err      error
	closed   bool
	stats    Stats
}

// New provisions the detector, makes sure the video is playing and returns
// an idle session. Every failure closes what was already set up.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	id := uuid.NewString()
	log := cfg.Logger.WithField("session_id", id)

	detector, err := cfg.Provisioner.Provision(ctx, types.DetectorOptions{
		ModelAssetPath:   cfg.ModelAssetPath,
		RuntimeAssetBase: cfg.RuntimeAssetBase,
		NumFaces:         cfg.MaxFaces,
		RunningMode:      runningModeVideo,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvisioning, err)
	}
	if detector == nil {
		return nil, fmt.Errorf("%w: provisioner returned no detector", ErrProvisioning)
	}
	log.WithField("model", cfg.ModelAssetPath).Debug("detector ready")

	if !cfg.Video.HasStream() {
		stream, err := cfg.Camera.Acquire(ctx, types.Constraints{FacingMode: facingModeUser})
		if err != nil {
			detector.Close()
			return nil, fmt.Errorf("%w: %w", ErrAcquisition, err)
		}
		cfg.Video.Attach(stream)
		log.Debug("camera stream attached")
	}
	if err := cfg.Video.Play(ctx); err != nil {
		detector.Close()
		return nil, fmt.Errorf("%w: %w", ErrAcquisition, err)
	}

	s := &Session{
		id:       id,
		cfg:      cfg,
		log:      log,
		detector: detector,
		renderer: render.NewRenderer(cfg.Canvas),
		origin:   cfg.Clock(),
	}
	s.fps = NewFPSEstimator(0)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.scheduler = cfg.Scheduler
	if s.scheduler == nil {
		s.ownedScheduler = NewRefreshScheduler(DefaultRefreshRate)
		s.scheduler = s.ownedScheduler
	}

	if cfg.Canvas != nil {
		render.SyncSize(s.ctx, cfg.Video, cfg.Canvas)
	}

	w, h := cfg.Video.VideoSize()
	log.WithFields(logrus.Fields{"width": w, "height": h, "max_faces": cfg.MaxFaces}).Info("session ready")
	return s, nil
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// Start arms the frame loop. It has no effect while already armed, after a
// fatal detection error, or after Close.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.handle != 0:
		return
	case s.closed:
		s.log.Warn("start ignored, session is closed")
		return
	case s.err != nil:
		s.log.WithError(s.err).Warn("start ignored, session failed")
		return
	}
	s.gen++
	s.arm(s.gen)
	s.log.Debug("frame loop armed")
}

// Stop cancels the pending frame. An iteration already running completes
// but does not schedule another.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == 0 {
		return
	}
	s.scheduler.CancelFrame(s.handle)
	s.handle = 0
	s.gen++
	s.log.Debug("frame loop stopped")
}

// Close releases the detector. It does not stop the loop, call Stop first.
// Closing twice, or a detector that is already closed, is not an error. It is
// safe to call from the callbacks.
func (s *Session) Close() error {
	s.mu.Lock()
	d := s.detector
	s.detector = nil
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	if s.ownedScheduler != nil {
		s.Stop()
		// Close may run on the scheduler goroutine, so do not wait for it
		s.ownedScheduler.Shutdown()
	}

	if d == nil {
		return nil
	}
	if err := d.Close(); err != nil && !errors.Is(err, ErrDetectorClosed) && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close detector: %w", err)
	}
	s.log.Debug("detector released")
	return nil
}

// State reports whether a frame is pending.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != 0 {
		return Armed
	}
	return Idle
}

// Err returns the error that stopped the loop, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns counters for frames processed so far.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Wait blocks until an iteration in progress has returned. After Stop and
// Wait no further frame is drawn or reported. It must not be called from
// the callbacks.
func (s *Session) Wait() {
	s.iterMu.Lock()
	defer s.iterMu.Unlock()
}

// Advanced returns the underlying detector, nil after Close.
func (s *Session) Advanced() Advanced {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Advanced{Detector: s.detector}
}

// arm schedules the next tick for generation gen. Caller holds s.mu.
func (s *Session) arm(gen uint64) {
	s.handle = s.scheduler.RequestFrame(func(time.Time) { s.tick(gen) })
}

func (s *Session) tick(gen uint64) {
	s.iterMu.Lock()
	s.mu.Lock()
	if gen != s.gen || s.handle == 0 {
		// Stopped after this tick was queued
		s.mu.Unlock()
		s.iterMu.Unlock()
		return
	}
	detector := s.detector
	s.mu.Unlock()

	err := s.iterate(detector)
	s.iterMu.Unlock()

	s.mu.Lock()
	if err != nil {
		if gen != s.gen {
			// Stopped or restarted while this frame ran
			s.mu.Unlock()
			s.log.WithError(err).Warn("detection failed after stop")
			return
		}
		s.err = err
		s.handle = 0
		s.gen++
		s.mu.Unlock()
		s.log.WithError(err).Error("frame loop stopped")
		s.cfg.OnError(err)
		return
	}
	if gen == s.gen {
		s.arm(gen)
	}
	s.mu.Unlock()
}

// iterate processes one frame. A non-nil error is fatal for the loop.
// Caller holds s.iterMu.
func (s *Session) iterate(detector Detector) error {
	now := millis(s.origin, s.cfg.Clock())
	if detector == nil {
		return fmt.Errorf("%w: %w", ErrDetection, ErrDetectorClosed)
	}

	frame := s.cfg.Video.CurrentFrame()
	faces, err := detector.DetectForVideo(frame, now)
	if err != nil {
		return s.fail(err, frame)
	}
	s.failures = 0

	landmarks := ToLandmarks(FirstFace(faces))
	s.renderer.Render(landmarks)

	fps := s.fps.Update(now)
	s.mu.Lock()
	s.stats.Frames++
	s.stats.FPS = fps
	s.mu.Unlock()

	s.cfg.OnResults(types.FrameResult{
		Landmarks: landmarks,
		Box:       BoundingBox(landmarks),
		FPS:       fps,
	})
	return nil
}

// fail applies the per-frame failure policy: skip the frame unless the error
// is fatal or the consecutive failure budget is spent.
func (s *Session) fail(err error, frame types.Frame) error {
	s.failures++
	s.mu.Lock()
	s.stats.Skipped++
	s.mu.Unlock()
	wrapped := fmt.Errorf("%w: %w", ErrDetection, err)

	fatal := errors.Is(err, ErrDetectorClosed) || (s.cfg.IsFatal != nil && s.cfg.IsFatal(err))
	if fatal || s.failures >= s.cfg.MaxConsecutiveFailures {
		return wrapped
	}
	s.log.WithFields(logrus.Fields{
		"frame":    frame.Seq,
		"failures": s.failures,
	}).WithError(err).Warn("detection failed, frame skipped")
	return nil
}
