package camera

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/facetrack/internal/types"
	"github.com/andresmejia3/facetrack/internal/utils"
)

const megabyte = 1024 * 1024

// ErrAudioUnsupported is returned when a stream with audio is requested.
var ErrAudioUnsupported = errors.New("audio capture is not supported")

// Stream is a live sequence of JPEG frames.
type Stream interface {
	// Frames is closed when the stream ends.
	Frames() <-chan []byte
	// Err explains why Frames was closed, nil after a clean Close.
	Err() error
	Close() error
}

// FFmpegStream reads MJPEG frames from an ffmpeg capture process.
type FFmpegStream struct {
	cmd    *utils.SafeCommand
	cancel context.CancelFunc

	frames  chan []byte
	first   chan struct{}
	done    chan struct{}
	dropped atomic.Uint64

	firstOnce sync.Once
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
	closing   bool
}

// Frames delivers the newest frame; older ones are dropped when the reader lags.
func (s *FFmpegStream) Frames() <-chan []byte { return s.frames }

// Dropped returns how many frames were overwritten before being read.
func (s *FFmpegStream) Dropped() uint64 { return s.dropped.Load() }

// Logs returns ffmpeg stderr output.
func (s *FFmpegStream) Logs() string { return s.cmd.Logs() }

func (s *FFmpegStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the capture process and waits for it to exit.
func (s *FFmpegStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		s.cancel()
	})
	<-s.done
	return nil
}

func (s *FFmpegStream) readLoop(scanner *bufio.Scanner) {
	defer close(s.done)
	defer close(s.frames)

	for scanner.Scan() {
		// The scanner reuses its buffer, every frame needs its own copy
		buf := make([]byte, len(scanner.Bytes()))
		copy(buf, scanner.Bytes())

		select {
		case s.frames <- buf:
		default:
			// Latest wins: discard the unread frame and replace it
			select {
			case <-s.frames:
				s.dropped.Add(1)
			default:
			}
			select {
			case s.frames <- buf:
			default:
				s.dropped.Add(1)
			}
		}
		s.firstOnce.Do(func() { close(s.first) })
	}

	scanErr := scanner.Err()
	waitErr := s.cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return
	}
	switch {
	case scanErr != nil:
		s.err = fmt.Errorf("frame scanner failed: %w", scanErr)
	case waitErr != nil:
		s.err = fmt.Errorf("ffmpeg exited: %w", waitErr)
	default:
		s.err = errors.New("ffmpeg stream ended")
	}
}

// FFmpegCamera acquires frames from a capture device or a video file through ffmpeg.
type FFmpegCamera struct {
	Source utils.CaptureSource
	// StartTimeout bounds the wait for the first frame, which is when device
	// permission and availability problems surface.
	StartTimeout time.Duration
}

// Acquire starts capture and returns once the first frame arrived.
// The stream lives until Close is called or ctx is cancelled.
func (c *FFmpegCamera) Acquire(ctx context.Context, constraints types.Constraints) (Stream, error) {
	if constraints.Audio {
		return nil, ErrAudioUnsupported
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	cmd := utils.NewFFmpegCaptureCmd(streamCtx, c.Source)
	out, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	s := &FFmpegStream{
		cmd:    cmd,
		cancel: cancel,
		frames: make(chan []byte, 1),
		first:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.readLoop(scanner)

	timeout := c.StartTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.first:
		return s, nil
	case <-s.done:
		err := s.Err()
		if logs := cmd.Logs(); logs != "" {
			err = fmt.Errorf("%w: %s", err, logs)
		}
		return nil, fmt.Errorf("capture %q unavailable: %w", c.Source.Input, err)
	case <-timer.C:
		s.Close()
		return nil, fmt.Errorf("capture %q produced no frame within %s", c.Source.Input, timeout)
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
}
