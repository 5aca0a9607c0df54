package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (worker and ffmpeg logs)
// This ensures we don't lose critical crash information if a child process dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *lockedBuffer
}

// lockedBuffer is written by the exec copying goroutine and read by us.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewSafeCommand initializes a command bound to ctx and attaches a buffer to its Stderr pipe
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// Logs returns everything the process wrote to stderr so far.
func (s *SafeCommand) Logs() string {
	if s == nil || s.Stderr == nil {
		return ""
	}
	return s.Stderr.String()
}

// LogSource is anything holding captured child process output.
type LogSource interface {
	Logs() string
}

// ShowError prints a formatted error box to stderr.
func ShowError(context string, err error, src LogSource) {
	WriteError(os.Stderr, context, err, src)
}

// WriteError prints the error box to w and dumps child process logs if src captured any.
func WriteError(w io.Writer, context string, err error, src LogSource) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "🚨 FACETRACK ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(w, "DETAILS: %v\n", err)
	}

	if src != nil {
		if logs := src.Logs(); logs != "" {
			fmt.Fprintf(w, "\nPROCESS LOGS:\n%s\n", logs)
		}
	}
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// --- 2. Video Engine ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// SplitJpeg is the custom splitter for bufio.Scanner
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// CaptureSource selects where ffmpeg reads video from.
type CaptureSource struct {
	// Format is the ffmpeg demuxer for live devices (v4l2, avfoundation, dshow). Empty for files.
	Format string
	// Input is a device name or a file path.
	Input string
	// FrameRate requested from the device, 0 keeps the device default.
	FrameRate int
	// Loop replays a file input forever.
	Loop bool
}

// NewFFmpegCaptureArgs builds the argument list for an MJPEG pipe capture.
// Using -vcodec mjpeg ensures we get JPEGs Go can split
func NewFFmpegCaptureArgs(src CaptureSource) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if src.Format != "" {
		args = append(args, "-f", src.Format)
		if src.FrameRate > 0 {
			args = append(args, "-framerate", fmt.Sprint(src.FrameRate))
		}
	} else {
		// Files are paced at their native rate so they behave like a camera
		args = append(args, "-re")
		if src.Loop {
			args = append(args, "-stream_loop", "-1")
		}
	}
	args = append(args, "-i", src.Input, "-an", "-f", "image2pipe", "-vcodec", "mjpeg", "-")
	return args
}

// NewFFmpegCaptureCmd creates a capture process writing MJPEG frames to Stdout.
func NewFFmpegCaptureCmd(ctx context.Context, src CaptureSource) *SafeCommand {
	return NewSafeCommand(ctx, "ffmpeg", NewFFmpegCaptureArgs(src)...)
}

// FmtElapsed renders a duration as HH:MM:SS.
func FmtElapsed(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
