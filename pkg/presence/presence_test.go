package presence

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type scriptedSource struct {
	frames []Frame
	calls  int
}

func (s *scriptedSource) Next(context.Context) (Frame, error) {
	if s.calls >= len(s.frames) {
		return Frame{}, io.EOF
	}
	f := s.frames[s.calls]
	s.calls++
	return f, nil
}

func at(sec int) time.Time {
	return time.Date(2024, 5, 1, 8, 0, sec, 0, time.UTC)
}

func person(sec int) Frame {
	return Frame{Classes: []int{ClassPerson}, At: at(sec)}
}

func nobody(sec int) Frame {
	return Frame{Classes: []int{16}, At: at(sec)}
}

func TestSustained(t *testing.T) {
	tests := []struct {
		name      string
		frames    []Frame
		min       time.Duration
		want      bool
		wantCalls int
	}{
		{
			name:      "held for the full duration",
			frames:    []Frame{person(0), person(5), person(10), person(11)},
			min:       10 * time.Second,
			want:      true,
			wantCalls: 3,
		},
		{
			name:      "gap resets the timer",
			frames:    []Frame{person(0), person(6), nobody(7), person(8), person(17), person(18)},
			min:       10 * time.Second,
			want:      true,
			wantCalls: 6,
		},
		{
			name:      "never long enough",
			frames:    []Frame{person(0), person(9), nobody(10)},
			min:       10 * time.Second,
			want:      false,
			wantCalls: 3,
		},
		{
			name:      "zero duration accepts first sighting",
			frames:    []Frame{nobody(0), person(1)},
			min:       0,
			want:      true,
			wantCalls: 2,
		},
		{
			name:      "empty source",
			want:      false,
			wantCalls: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &scriptedSource{frames: tt.frames}
			got, err := NewSustained(src, ClassPerson, tt.min).Detect(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Detect() = %v, want %v", got, tt.want)
			}
			if src.calls != tt.wantCalls {
				t.Errorf("expected %d frames consumed, got %d", tt.wantCalls, src.calls)
			}
		})
	}
}

func TestSustainedCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &scriptedSource{frames: []Frame{person(0)}}
	_, err := NewSustained(src, ClassPerson, 0).Detect(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestStatic(t *testing.T) {
	for _, want := range []bool{true, false} {
		got, err := Static{Present: want}.Detect(context.Background())
		if err != nil || got != want {
			t.Errorf("Static{%v}.Detect() = %v, %v", want, got, err)
		}
	}
}

func TestFramePath(t *testing.T) {
	if got, want := FramePath("/tmp/out", 7), filepath.Join("/tmp/out", "frame_0007.jpg"); got != want {
		t.Errorf("FramePath() = %q, want %q", got, want)
	}
}

func TestExecSource(t *testing.T) {
	dir := t.TempDir()
	script := `echo '{"classes":[16],"ts":1714550400.5}'; echo 'not json'; echo '{"classes":[0],"frame":"{output}/custom.jpg"}'`
	src, err := NewExecSource([]string{"sh", "-c", script}, dir)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if len(f.Classes) != 1 || f.Classes[0] != 16 || f.Path != FramePath(dir, 0) {
		t.Errorf("unexpected first frame %+v", f)
	}
	if want := time.Unix(1714550400, 500_000_000); !f.At.Equal(want) {
		t.Errorf("expected capture time %v, got %v", want, f.At)
	}

	f, err = src.Next(ctx)
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if len(f.Classes) != 1 || f.Classes[0] != ClassPerson {
		t.Errorf("unexpected second frame %+v", f)
	}
	if f.Path != filepath.Join(dir, "custom.jpg") {
		t.Errorf("expected placeholder to expand, got %q", f.Path)
	}
	if time.Since(f.At) > time.Minute {
		t.Errorf("expected a frame without ts to be stamped when read, got %v", f.At)
	}

	if _, err := src.Next(ctx); !errors.Is(err, ErrDetectorExited) {
		t.Errorf("expected ErrDetectorExited after the detector exits, got %v", err)
	}
}

func TestExecSourceExit(t *testing.T) {
	src, err := NewExecSource([]string{"sh", "-c", "echo camera not found >&2; exit 3"}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		_, err := src.Next(ctx)
		if !errors.Is(err, ErrDetectorExited) {
			t.Fatalf("call %d: expected ErrDetectorExited, got %v", i, err)
		}
		if !strings.Contains(err.Error(), "exit status 3") {
			t.Errorf("expected the exit status in %q", err)
		}
	}

	present, err := NewSustained(src, ClassPerson, 0).Detect(ctx)
	if present || !errors.Is(err, ErrDetectorExited) {
		t.Errorf("Detect() = %v, %v; want false, ErrDetectorExited", present, err)
	}
}

func TestExecSourceFlush(t *testing.T) {
	script := `for i in 1 2 3 4; do echo '{"classes":[0]}'; done; exec sleep 30`
	src, err := NewExecSource([]string{"sh", "-c", script}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := src.Next(ctx); err != nil {
		t.Fatalf("first frame: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(src.proc.frames) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("detector output was not buffered, have %d frames", len(src.proc.frames))
		}
		time.Sleep(10 * time.Millisecond)
	}

	src.Flush()

	short, cancelShort := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancelShort()
	if f, err := src.Next(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected no frames after Flush, got %+v, %v", f, err)
	}

	if err := src.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}

// flushingSource drops its stale frames when flushed.
type flushingSource struct {
	scriptedSource
	fresh   []Frame
	flushed bool
}

func (s *flushingSource) Flush() {
	s.flushed = true
	s.frames = s.fresh
	s.calls = 0
}

func TestSustainedFlushes(t *testing.T) {
	src := &flushingSource{
		scriptedSource: scriptedSource{frames: []Frame{person(0), person(5)}},
		fresh:          []Frame{person(20), nobody(21)},
	}
	present, err := NewSustained(src, ClassPerson, 10*time.Second).Detect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !src.flushed {
		t.Errorf("expected Detect to flush the source")
	}
	if present {
		t.Errorf("stale frames must not count towards presence")
	}
}

func TestExecSourceEmptyCommand(t *testing.T) {
	if _, err := NewExecSource(nil, t.TempDir()); err == nil {
		t.Error("expected an error for an empty command")
	}
}
