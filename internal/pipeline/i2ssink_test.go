package pipeline

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

// Never calls Configure: that creates a real oto.Context, which the
// teacher's own output_test.go avoids touching too.
var _ Sink = (*I2SSink)(nil)

func TestNewI2SSink(t *testing.T) {
	s := NewI2SSink(4096, testLogger())
	if s.Drain() == nil {
		t.Fatal("expected a drain buffer")
	}
	if s.Drain().Capacity() != 4096 {
		t.Fatalf("drain capacity = %d, want 4096", s.Drain().Capacity())
	}
	if s.VolumeUnits() != 0 {
		t.Fatalf("initial volume = %d, want 0", s.VolumeUnits())
	}
}

func TestI2SSinkPrepareFormatClamps(t *testing.T) {
	s := NewI2SSink(4096, testLogger())
	cases := []struct {
		name string
		in   Format
		want Format
	}{
		{"below range", Format{SampleRate: 1000, Channels: 0, BitsPerSample: 8},
			Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16}},
		{"above range", Format{SampleRate: 192000, Channels: 9, BitsPerSample: 64},
			Format{SampleRate: 96000, Channels: 2, BitsPerSample: 32}},
		{"in range", Format{SampleRate: 48000, Channels: 2, BitsPerSample: 16},
			Format{SampleRate: 48000, Channels: 2, BitsPerSample: 16}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := s.PrepareFormat(c.in)
			if got != c.want {
				t.Fatalf("PrepareFormat(%+v) = %+v, want %+v", c.in, got, c.want)
			}
		})
	}
}

func TestI2SSinkLineLevelReferenceVolume(t *testing.T) {
	if LineLevelReferenceVolume() != 1<<15 {
		t.Fatalf("LineLevelReferenceVolume() = %d, want %d", LineLevelReferenceVolume(), 1<<15)
	}
}

func TestI2SSinkSetMaxVolumeClamps(t *testing.T) {
	s := NewI2SSink(4096, testLogger())
	s.SetMaxVolume(1 << 20)
	if got := s.maxVolumeUnits; got != 1<<15 {
		t.Fatalf("maxVolumeUnits = %d, want clamped to %d", got, 1<<15)
	}
	s.SetMaxVolume(-5)
	if got := s.maxVolumeUnits; got != 0 {
		t.Fatalf("maxVolumeUnits = %d, want clamped to 0", got)
	}
}

func TestI2SSinkSetMaxVolumePullsDownCurrent(t *testing.T) {
	s := NewI2SSink(4096, testLogger())
	s.SetVolume(1<<15, 0)
	s.SetMaxVolume(1 << 14)
	if got := s.VolumeUnits(); got != 1<<14 {
		t.Fatalf("VolumeUnits() = %d, want pulled down to %d", got, 1<<14)
	}
}

func TestI2SSinkSetVolumeClampsToMax(t *testing.T) {
	s := NewI2SSink(4096, testLogger())
	s.SetMaxVolume(1000)
	left, right := s.SetVolume(5000, 0)
	if left != 1000 || right != 1000 {
		t.Fatalf("SetVolume over max = (%d,%d), want (1000,1000)", left, right)
	}
}

func TestI2SSinkSetVolumeImbalance(t *testing.T) {
	s := NewI2SSink(4096, testLogger())
	s.SetMaxVolume(1 << 15)
	left, right := s.SetVolume(1000, 10)
	if right != 1000 {
		t.Fatalf("right = %d, want 1000 (unbiased channel)", right)
	}
	if left <= right {
		t.Fatalf("left = %d, want > right %d for positive imbalance", left, right)
	}
}

func TestI2SSinkSetModeOffWithoutConfigureIsNoop(t *testing.T) {
	s := NewI2SSink(4096, testLogger())
	if err := s.SetMode(SinkOff); err != nil {
		t.Fatalf("SetMode(SinkOff) with no context = %v, want nil", err)
	}
	if err := s.SetMode(SinkOnPlaying); err != nil {
		t.Fatalf("SetMode(SinkOnPlaying) = %v, want nil", err)
	}
	if err := s.SetMode(SinkOff); err != nil {
		t.Fatalf("SetMode(SinkOff) = %v, want nil", err)
	}
}

// fakePipeWriter satisfies writerCloser without touching real oto/io.Pipe
// machinery, so the pump goroutine's drain behaviour can be exercised
// directly.
type fakePipeWriter struct {
	writes chan []byte
}

func (w *fakePipeWriter) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case w.writes <- buf:
	default:
	}
	return len(p), nil
}

func (w *fakePipeWriter) Close() error { return nil }

func TestI2SSinkPumpDrainsBufferAndStopsOnSignal(t *testing.T) {
	s := NewI2SSink(256, testLogger())
	s.drain.Send([]int16{11, 22, 33, 44})

	w := &fakePipeWriter{writes: make(chan []byte, 4)}
	stop := make(chan struct{})
	go s.pump(w, stop)

	select {
	case <-w.writes:
	case <-time.After(time.Second):
		t.Fatal("pump never wrote to the pipe")
	}
	close(stop)
}
