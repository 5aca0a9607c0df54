// Package worker drives the face landmark model in a child process.
//
// The child is started as `python3 -u <RuntimeAssetBase>/landmarker.py` and is
// handed the write end of an extra pipe as FD 3.
// Requests go over stdin, responses come back over FD 3 so model logging on
// stdout/stderr never corrupts the stream.
//
// Framing (all integers big endian):
//
//	request:  [u32 len][f64 timestampMs][jpeg bytes]
//	response: [u32 len][u8 status][body]
//	  status 0: [u32 faces] faces x ([u32 points] points x [f32 x][f32 y][u8 hasZ][f32 z])
//	  status 1: [u32 msgLen][msg]
//
// Right after start the child sends one response: status 0 with zero faces
// once the model is loaded, or status 1 describing why it could not load.
package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/andresmejia3/facetrack/internal/types"
	"github.com/andresmejia3/facetrack/internal/utils"
)

const (
	statusOK    = 0
	statusError = 1

	// maxResponse bounds a single response body (478 points x many faces fits easily).
	maxResponse = 16 * 1024 * 1024
)

var (
	// ErrWorkerExited means the pipe to the model process broke. The detector is unusable afterwards.
	ErrWorkerExited = errors.New("landmark worker exited")
	// ErrClosed is returned by calls made after Close or after the response stream was lost.
	ErrClosed = errors.New("landmark worker closed")
	// ErrTimeout means a response did not arrive in time. A late answer would
	// desync the stream, so the worker is shut down.
	ErrTimeout = errors.New("landmark worker timed out")
)

// Config holds the model worker configuration.
type Config struct {
	ModelAssetPath   string
	RuntimeAssetBase string
	NumFaces         int
	RunningMode      string
	// Python interpreter, defaults to python3.
	Python string
	// ReadTimeout bounds the wait for a single response, 0 disables it.
	ReadTimeout time.Duration
	// StartupTimeout bounds the wait for the ready handshake.
	StartupTimeout time.Duration
}

// ConfigFromOptions maps provisioner options onto a worker config.
func ConfigFromOptions(opts types.DetectorOptions) Config {
	return Config{
		ModelAssetPath:   opts.ModelAssetPath,
		RuntimeAssetBase: opts.RuntimeAssetBase,
		NumFaces:         opts.NumFaces,
		RunningMode:      opts.RunningMode,
	}
}

// WorkerError is an error message reported by the model process itself.
type WorkerError struct {
	Message string
}

func (e *WorkerError) Error() string {
	return "landmark worker error: " + e.Message
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// PythonLandmarker is a running landmark model process.
type PythonLandmarker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// NewPythonLandmarker spawns the model process and waits for it to report ready.
func NewPythonLandmarker(ctx context.Context, id int, cfg Config) (*PythonLandmarker, error) {
	python := cfg.Python
	if python == "" {
		python = "python3"
	}
	if cfg.NumFaces < 1 {
		cfg.NumFaces = 1
	}
	if cfg.RunningMode == "" {
		cfg.RunningMode = "VIDEO"
	}

	script := filepath.Join(cfg.RuntimeAssetBase, "landmarker.py")
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("runtime assets not found: %w", err)
	}

	py := utils.NewSafeCommand(ctx, python, "-u", script,
		"--model", cfg.ModelAssetPath,
		"--num-faces", strconv.Itoa(cfg.NumFaces),
		"--running-mode", cfg.RunningMode,
	)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	lm := &PythonLandmarker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.StartupTimeout,
	}

	// Model download and graph init can take a while, so the handshake uses its own timeout.
	if _, err := lm.readFaces(); err != nil {
		lm.Close()
		if logs := py.Logs(); logs != "" {
			return nil, fmt.Errorf("worker %d failed to load model: %w\n%s", id, err, logs)
		}
		return nil, fmt.Errorf("worker %d failed to load model: %w", id, err)
	}
	lm.ReadTimeout = cfg.ReadTimeout
	return lm, nil
}

// DetectForVideo sends one frame with its timestamp and returns the faces found.
func (w *PythonLandmarker) DetectForVideo(frame types.Frame, timestampMs float64) ([]types.Face, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}

	// Protocol: [Length][Timestamp][Data]
	header := make([]byte, 12)
	binary.BigEndian.PutUint32(header[0:4], uint32(8+len(frame.Data)))
	binary.BigEndian.PutUint64(header[4:12], math.Float64bits(timestampMs))
	if _, err := w.Stdin.Write(header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkerExited, err)
	}
	if _, err := w.Stdin.Write(frame.Data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkerExited, err)
	}

	faces, err := w.readFaces()
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrWorkerExited) {
		w.abandon()
	}
	return faces, err
}

// abandon drops the pipes after the response stream got out of step.
// Caller holds w.mu.
func (w *PythonLandmarker) abandon() {
	w.closed = true
	if w.Stdin != nil {
		w.Stdin.Close()
	}
	if w.DataPipe != nil {
		w.DataPipe.Close()
	}
}

// readFaces reads a single response frame and decodes it.
func (w *PythonLandmarker) readFaces() ([]types.Face, error) {
	if d, ok := w.DataPipe.(deadliner); ok && w.ReadTimeout > 0 {
		d.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		defer d.SetReadDeadline(time.Time{})
	}

	head := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, head); err != nil {
		return nil, w.readError(err)
	}

	respLen := binary.BigEndian.Uint32(head)
	if respLen == 0 || respLen > maxResponse {
		return nil, fmt.Errorf("%w: invalid response length %d", ErrWorkerExited, respLen)
	}
	body := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, body); err != nil {
		return nil, w.readError(err)
	}

	return decodeResponse(body)
}

func (w *PythonLandmarker) readError(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: worker %d after %s", ErrTimeout, w.ID, w.ReadTimeout)
	}
	return fmt.Errorf("%w: %v", ErrWorkerExited, err)
}

func decodeResponse(body []byte) ([]types.Face, error) {
	buf := bytes.NewReader(body)
	status, err := buf.ReadByte()
	if err != nil {
		return nil, err
	}

	if status == statusError {
		var msgLen uint32
		if err := binary.Read(buf, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		if int64(msgLen) > int64(buf.Len()) {
			return nil, fmt.Errorf("malformed error response: message length %d exceeds body", msgLen)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(buf, msg); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		return nil, &WorkerError{Message: string(msg)}
	}
	if status != statusOK {
		return nil, fmt.Errorf("unknown response status %d", status)
	}

	var numFaces uint32
	if err := binary.Read(buf, binary.BigEndian, &numFaces); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if int64(numFaces)*4 > int64(buf.Len()) {
		return nil, fmt.Errorf("malformed response: %d faces exceed body", numFaces)
	}

	faces := make([]types.Face, 0, numFaces)
	for i := uint32(0); i < numFaces; i++ {
		var numPoints uint32
		if err := binary.Read(buf, binary.BigEndian, &numPoints); err != nil {
			return nil, fmt.Errorf("malformed face %d: %w", i, err)
		}
		// 13 bytes per point, reject counts the body cannot hold
		if int64(numPoints)*13 > int64(buf.Len()) {
			return nil, fmt.Errorf("malformed face %d: %d points exceed body", i, numPoints)
		}

		face := make(types.Face, numPoints)
		for j := range face {
			var p struct {
				X, Y float32
				HasZ uint8
				Z    float32
			}
			if err := binary.Read(buf, binary.BigEndian, &p); err != nil {
				return nil, fmt.Errorf("malformed point %d of face %d: %w", j, i, err)
			}
			face[j] = types.Landmark{X: float64(p.X), Y: float64(p.Y)}
			if p.HasZ != 0 {
				z := float64(p.Z)
				face[j].Z = &z
			}
		}
		faces = append(faces, face)
	}
	return faces, nil
}

// Close shuts the process down. Safe to call more than once.
func (w *PythonLandmarker) Close() error {
	w.closeOnce.Do(func() {
		// Closing the pipes first unblocks a detection still waiting on a response
		if w.Stdin != nil {
			w.Stdin.Close()
		}
		if w.DataPipe != nil {
			w.DataPipe.Close()
		}

		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		if w.Cmd != nil {
			// Closing stdin is the exit signal, a non-zero status here just means it was killed
			w.Cmd.Wait()
		}
	})
	return nil
}
