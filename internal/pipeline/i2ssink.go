package pipeline

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// I2SSink is the headphone/DAC sink, backed by an oto.Context. oto only
// supports one context per process (the teacher's documented limitation
// in pkg/audio/output/oto.go), so once a context exists Configure does not
// reopen it for a new format: it logs a warning and keeps the prior
// format. PrepareFormat only clamps the requested format into range and
// does not consult the open context. Configure creates a persistent oto.Player fed by a pipe, and a
// pump goroutine continuously drains the sink's PcmBuffer into that pipe
// (mirroring the teacher's own Open/Write split in pkg/audio/output/oto.go,
// where a persistent player reads from a pipe that Write feeds) — the
// pipe's synchronous semantics are what give the pump its pacing: a
// Write blocks until oto's player goroutine reads, so there is no busy
// loop and no separate rate limiting to get wrong.
type I2SSink struct {
	mu sync.Mutex

	logger *log.Logger
	drain  *PcmBuffer
	format Format
	mode   SinkMode

	otoCtx   *oto.Context
	otoReady bool
	player   *oto.Player
	pumpStop chan struct{}

	volumeDacUnits int
	maxVolumeUnits int
	imbalanceDb    float64

	pipeW writerCloser
}

// writerCloser is satisfied by *io.PipeWriter; kept as an interface seam
// so tests can substitute a fake without linking oto.
type writerCloser interface {
	Write(p []byte) (int, error)
	Close() error
}

const (
	kLineLevelReferenceVolume = 1 << 15 // DAC full-scale reference, 16-bit units
	kDefaultMaxVolumeUnits    = kLineLevelReferenceVolume
)

// LineLevelReferenceVolume exposes the DAC's 0dB reference point in its
// own unit scale, needed by the Audio FSM's dB<->units volume conversion.
func LineLevelReferenceVolume() int { return kLineLevelReferenceVolume }

// NewI2SSink constructs the headphone sink with its drain buffer sized
// to the caller-provided sample capacity (the AudioState drain buffer,
// ~2s at 48kHz stereo per §4.3).
func NewI2SSink(drainCapacitySamples int, logger *log.Logger) *I2SSink {
	return &I2SSink{
		logger:         logger.With("component", "i2s_sink"),
		drain:          NewPcmBuffer(drainCapacitySamples),
		mode:           SinkOff,
		maxVolumeUnits: kDefaultMaxVolumeUnits,
	}
}

// PrepareFormat clamps the candidate source format into the headphone
// sink's supported range: sr in [8k,96k], ch in [1,2], bps in [16,32].
func (s *I2SSink) PrepareFormat(src Format) Format {
	return Format{
		SampleRate:    clamp(src.SampleRate, 8000, 96000),
		Channels:      clamp(src.Channels, 1, 2),
		BitsPerSample: clamp(src.BitsPerSample, 16, 32),
	}
}

// Configure creates the oto context, player and pump for dst when no
// context is open. When one is already open it mirrors the teacher's
// warn-and-continue behaviour: the old format stays active, a warning is
// logged and nil is returned.
func (s *I2SSink) Configure(dst Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.otoCtx != nil {
		s.logger.Warn("cannot reinitialise oto context mid-process; keeping prior format",
			"requested", dst, "active", s.format)
		return nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   dst.SampleRate,
		ChannelCount: dst.Channels,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("i2s sink: new oto context: %w", err)
	}
	<-ready

	pr, pw := io.Pipe()
	player := ctx.NewPlayer(pr)
	player.Play()

	s.otoCtx = ctx
	s.otoReady = true
	s.format = dst
	s.player = player
	s.pipeW = pw
	s.pumpStop = make(chan struct{})
	go s.pump(pw, s.pumpStop)

	s.logger.Info("configured", "sample_rate", dst.SampleRate, "channels", dst.Channels, "bits", dst.BitsPerSample)
	return nil
}

// i2sPumpChunkSamples is the per-write sample count the pump goroutine
// reads from the drain buffer, sized like one DMA buffer's worth of
// frames rather than the whole ~2s drain capacity.
const i2sPumpChunkSamples = 1024

// pump is the sink's "ISR" in this port: it runs for as long as pw stays
// open, continuously draining the PcmBuffer into the oto player's pipe.
// PcmBuffer.Receive never blocks and zero-fills any shortfall, so pump
// always has bytes to write; pw.Write itself blocks until oto's player
// goroutine reads, which is what paces the loop to real playback speed
// and keeps it from spinning. This is the consumer side of §4.4.1's "an
// ISR or Bluetooth callback drains it to hardware" for the headphone
// sink.
func (s *I2SSink) pump(pw writerCloser, stop <-chan struct{}) {
	buf := make([]int16, i2sPumpChunkSamples)
	raw := make([]byte, len(buf)*2)
	for {
		select {
		case <-stop:
			return
		default:
		}
		s.drain.Receive(buf, false, false)
		for i, v := range buf {
			binary.LittleEndian.PutUint16(raw[i*2:], uint16(v))
		}
		if _, err := pw.Write(raw); err != nil {
			return
		}
	}
}

// CurrentFormat reports the last Configure'd format.
func (s *I2SSink) CurrentFormat() Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// Drain returns the sink's PCM drain buffer.
func (s *I2SSink) Drain() *PcmBuffer { return s.drain }

// SetMode transitions Off/OnPaused/OnPlaying. Off tears down the DMA
// channel (oto context) to reclaim memory. Transitioning from Off does not
// re-create it: output resumes only after the next Configure. The last
// applied volume value is kept across the transition.
func (s *I2SSink) SetMode(m SinkMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m == SinkOff && s.otoCtx != nil {
		if s.pumpStop != nil {
			close(s.pumpStop)
			s.pumpStop = nil
		}
		if s.pipeW != nil {
			s.pipeW.Close()
			s.pipeW = nil
		}
		if s.player != nil {
			s.player.Close()
			s.player = nil
		}
		s.otoCtx.Suspend()
		s.otoCtx = nil
		s.otoReady = false
	}
	if s.mode == SinkOff && m != SinkOff && !s.otoReady {
		// Caller is expected to Configure() again before playback resumes;
		// we only restore the volume value here.
		s.logger.Debug("restoring volume on wake", "units", s.volumeDacUnits)
	}
	s.mode = m
	return nil
}

// SetMaxVolume clamps the absolute volume ceiling in DAC units.
func (s *I2SSink) SetMaxVolume(units int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxVolumeUnits = clamp(units, 0, kLineLevelReferenceVolume)
	if s.volumeDacUnits > s.maxVolumeUnits {
		s.volumeDacUnits = s.maxVolumeUnits
	}
}

// SetVolume applies units (already on the DAC's own scale) as the current
// volume, clamped to the configured max. left = current+imbalance,
// clamped into range.
func (s *I2SSink) SetVolume(units int, imbalanceDb float64) (left, right int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumeDacUnits = clamp(units, 0, s.maxVolumeUnits)
	s.imbalanceDb = imbalanceDb

	bias := int(imbalanceDb * float64(kLineLevelReferenceVolume) / 100.0)
	left = clamp(s.volumeDacUnits+bias, 0, s.maxVolumeUnits)
	right = s.volumeDacUnits
	return left, right
}

// VolumeUnits returns the last applied volume in DAC units.
func (s *I2SSink) VolumeUnits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volumeDacUnits
}
