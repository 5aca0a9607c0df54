package tracker

import (
	"testing"
	"time"
)

func TestRefreshScheduler_RunsOnce(t *testing.T) {
	s := NewRefreshScheduler(200)
	defer s.Close()

	ran := make(chan time.Time, 2)
	h := s.RequestFrame(func(ts time.Time) { ran <- ts })
	if h == 0 {
		t.Fatal("Expected non-zero handle")
	}

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("Callback never ran")
	}

	select {
	case <-ran:
		t.Fatal("Callback ran twice")
	case <-time.After(50 * time.Millisecond):
	}
	if s.Pending() != 0 {
		t.Errorf("Expected nothing pending, got %d", s.Pending())
	}
}

func TestRefreshScheduler_Cancel(t *testing.T) {
	s := NewRefreshScheduler(200)
	defer s.Close()

	ran := make(chan struct{}, 1)
	h := s.RequestFrame(func(time.Time) { ran <- struct{}{} })
	s.CancelFrame(h)
	s.CancelFrame(h)
	s.CancelFrame(FrameHandle(9999))

	select {
	case <-ran:
		t.Fatal("Cancelled callback ran")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRefreshScheduler_RequestDuringRefresh(t *testing.T) {
	s := NewRefreshScheduler(100)
	defer s.Close()

	times := make(chan time.Time, 2)
	s.RequestFrame(func(first time.Time) {
		times <- first
		s.RequestFrame(func(second time.Time) { times <- second })
	})

	var got []time.Time
	for len(got) < 2 {
		select {
		case ts := <-times:
			got = append(got, ts)
		case <-time.After(2 * time.Second):
			t.Fatalf("Only %d callbacks ran", len(got))
		}
	}
	if !got[1].After(got[0]) {
		t.Errorf("Nested request ran in the same refresh: %v, %v", got[0], got[1])
	}
}

func TestRefreshScheduler_Close(t *testing.T) {
	s := NewRefreshScheduler(0)
	s.Close()
	s.Close()

	ran := make(chan struct{}, 1)
	s.RequestFrame(func(time.Time) { ran <- struct{}{} })
	select {
	case <-ran:
		t.Fatal("Callback ran after Close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRefreshScheduler_ShutdownFromCallback(t *testing.T) {
	s := NewRefreshScheduler(200)

	returned := make(chan struct{})
	s.RequestFrame(func(time.Time) {
		s.Shutdown()
		close(returned)
	})

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown blocked inside a callback")
	}
	// Close from outside still waits for the goroutine to finish
	s.Close()
}
