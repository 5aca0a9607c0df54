package utils

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9

	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	// Scan() should skip the first garbage bytes and find the JPEG
	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}

	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}

	// Scan() again should return false (EOF) because the trailing garbage is not a JPEG
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
}

func TestSplitJpeg_BackToBack(t *testing.T) {
	a := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 0xBB, 0xBB, 0xFF, 0xD9}

	scanner := bufio.NewScanner(bytes.NewReader(append(append([]byte{}, a...), b...)))
	scanner.Split(SplitJpeg)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, append([]byte(nil), scanner.Bytes()...))
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(got))
	}
	if !bytes.Equal(got[0], a) || !bytes.Equal(got[1], b) {
		t.Errorf("Frames split incorrectly: %X", got)
	}
}

func TestNewFFmpegCaptureArgs(t *testing.T) {
	tests := []struct {
		name string
		src  CaptureSource
		want string
	}{
		{
			name: "Live device",
			src:  CaptureSource{Format: "v4l2", Input: "/dev/video0", FrameRate: 30},
			want: "-hide_banner -loglevel error -f v4l2 -framerate 30 -i /dev/video0 -an -f image2pipe -vcodec mjpeg -",
		},
		{
			name: "Device default rate",
			src:  CaptureSource{Format: "avfoundation", Input: "0"},
			want: "-hide_banner -loglevel error -f avfoundation -i 0 -an -f image2pipe -vcodec mjpeg -",
		},
		{
			name: "Looped file",
			src:  CaptureSource{Input: "clip.mp4", Loop: true},
			want: "-hide_banner -loglevel error -re -stream_loop -1 -i clip.mp4 -an -f image2pipe -vcodec mjpeg -",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(NewFFmpegCaptureArgs(tt.src), " ")
			if got != tt.want {
				t.Errorf("NewFFmpegCaptureArgs() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestSafeCommandCapturesStderr(t *testing.T) {
	cmd := NewSafeCommand(context.Background(), "sh", "-c", "echo boom 1>&2")
	if err := cmd.Run(); err != nil {
		t.Skipf("sh not available: %v", err)
	}
	if !strings.Contains(cmd.Logs(), "boom") {
		t.Errorf("Expected stderr to be captured, got %q", cmd.Logs())
	}
}

func TestFmtElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{65 * time.Second, "00:01:05"},
		{3661 * time.Second, "01:01:01"},
	}

	for _, tt := range tests {
		if got := FmtElapsed(tt.d); got != tt.want {
			t.Errorf("FmtElapsed(%v) = %v, want %v", tt.d, got, tt.want)
		}
	}
}

type staticLogs string

func (s staticLogs) Logs() string { return string(s) }

func TestWriteError(t *testing.T) {
	tests := []struct {
		name     string
		src      LogSource
		wantLogs bool
	}{
		{"no source", nil, false},
		{"empty logs", staticLogs(""), false},
		{"nil command", (*SafeCommand)(nil), false},
		{"captured logs", staticLogs("model crashed"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			WriteError(&buf, "Tracking stopped", errors.New("worker gone"), tt.src)
			out := buf.String()
			if !strings.Contains(out, "FACETRACK ERROR: Tracking stopped") || !strings.Contains(out, "worker gone") {
				t.Errorf("Missing error details:\n%s", out)
			}
			if got := strings.Contains(out, "PROCESS LOGS"); got != tt.wantLogs {
				t.Errorf("PROCESS LOGS shown = %v, want %v:\n%s", got, tt.wantLogs, out)
			}
		})
	}
}
