// Package camera provides live video input: ffmpeg backed capture streams
// and a Video element that plays one of them and exposes the current frame.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"sync"
	"time"

	"github.com/andresmejia3/facetrack/internal/types"
)

// ErrNoSource is returned by Play when no stream has been attached.
var ErrNoSource = errors.New("video has no source stream")

// Video plays a Stream and keeps its most recent frame.
type Video struct {
	mu      sync.RWMutex
	stream  Stream
	frame   types.Frame
	width   int
	height  int
	playing bool
	err     error

	ready     chan struct{}
	readyOnce sync.Once
	ended     chan struct{}

	now func() time.Time
}

// NewVideo returns a Video with no source attached.
func NewVideo() *Video {
	return &Video{
		ready: make(chan struct{}),
		ended: make(chan struct{}),
		now:   time.Now,
	}
}

// HasStream reports whether a source stream is attached.
func (v *Video) HasStream() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.stream != nil
}

// Attach sets the source stream. It must be called before Play.
func (v *Video) Attach(s Stream) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stream = s
}

// Stream returns the attached stream, nil before Attach.
func (v *Video) Stream() Stream {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.stream
}

// Ready is closed once the first decodable frame gave us the intrinsic size.
func (v *Video) Ready() <-chan struct{} {
	return v.ready
}

// VideoSize returns the intrinsic frame size, zero until Ready.
func (v *Video) VideoSize() (width, height int) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.width, v.height
}

// CurrentFrame returns the most recent frame. Frame data is never mutated after capture.
func (v *Video) CurrentFrame() types.Frame {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.frame
}

// Ended is closed once the stream stops delivering frames.
func (v *Video) Ended() <-chan struct{} {
	return v.ended
}

// Err returns why playback ended, if it did.
func (v *Video) Err() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.err
}

// Play starts consuming the attached stream and waits until playback has begun.
func (v *Video) Play(ctx context.Context) error {
	v.mu.Lock()
	s := v.stream
	if s == nil {
		v.mu.Unlock()
		return ErrNoSource
	}
	if !v.playing {
		v.playing = true
		go v.pump(s)
	}
	v.mu.Unlock()

	select {
	case <-v.ready:
		return nil
	case <-v.ended:
		if err := v.Err(); err != nil {
			return fmt.Errorf("stream ended before first frame: %w", err)
		}
		return errors.New("stream ended before first frame")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the attached stream.
func (v *Video) Close() error {
	v.mu.RLock()
	s := v.stream
	v.mu.RUnlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

func (v *Video) pump(s Stream) {
	defer close(v.ended)

	var seq uint64
	for data := range s.Frames() {
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			// A torn or partial JPEG, wait for the next one
			continue
		}
		seq++

		v.mu.Lock()
		v.frame = types.Frame{
			Seq:       seq,
			Timestamp: v.now(),
			Width:     cfg.Width,
			Height:    cfg.Height,
			Data:      data,
		}
		v.width, v.height = cfg.Width, cfg.Height
		v.mu.Unlock()

		v.readyOnce.Do(func() { close(v.ready) })
	}

	v.mu.Lock()
	v.err = s.Err()
	v.mu.Unlock()
}
