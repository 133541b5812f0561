package pipeline

import (
	"math"
	"sync"

	"github.com/charmbracelet/log"
)

// BluetoothRadio is the minimal boundary the Bluetooth sink needs from
// the radio driver: attaching/detaching the drain buffer as the A2DP
// source and forwarding AVRCP volume exchange. The concrete
// implementation lives in internal/drivers and wraps BlueZ over D-Bus.
type BluetoothRadio interface {
	AttachSource(drain *PcmBuffer) error
	DetachSource() error
	SetRemoteVolumePercent(pct int)
}

// BluetoothSink outputs at a fixed 48kHz/2ch/16bit format (any other
// input must be resampled upstream by the Sample Converter). Volume is a
// software gain applied before hand-off to the radio, per the formula in
// §4.4.5: gain = 10^((range*(v-100)/100)/20), range = 60dB.
type BluetoothSink struct {
	mu sync.Mutex

	logger *log.Logger
	radio  BluetoothRadio
	drain  *PcmBuffer
	mode   SinkMode
	format Format

	volumePercent int
	gain          float64
}

const bluetoothGainRangeDb = 60.0

// FixedBluetoothFormat is the sink's only supported operating format.
var FixedBluetoothFormat = Format{SampleRate: 48000, Channels: 2, BitsPerSample: 16}

// NewBluetoothSink constructs the Bluetooth sink with its own drain
// buffer and a radio driver to attach it to.
func NewBluetoothSink(drainCapacitySamples int, radio BluetoothRadio, logger *log.Logger) *BluetoothSink {
	return &BluetoothSink{
		logger:        logger.With("component", "bt_sink"),
		radio:         radio,
		drain:         NewPcmBuffer(drainCapacitySamples),
		format:        FixedBluetoothFormat,
		volumePercent: 100,
		gain:          1.0,
	}
}

// PrepareFormat always returns the fixed Bluetooth format regardless of
// src, forcing the Sample Converter to resample/repack to it.
func (s *BluetoothSink) PrepareFormat(src Format) Format {
	return FixedBluetoothFormat
}

// Configure is a no-op beyond bookkeeping since the format never varies.
func (s *BluetoothSink) Configure(dst Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.format = FixedBluetoothFormat
	return nil
}

func (s *BluetoothSink) CurrentFormat() Format {
	return FixedBluetoothFormat
}

// Drain returns the sink's PCM drain buffer.
func (s *BluetoothSink) Drain() *PcmBuffer { return s.drain }

// SetMode attaches/detaches the drain buffer as the radio's audio
// source.
func (s *BluetoothSink) SetMode(m SinkMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case m != SinkOff && s.mode == SinkOff:
		if err := s.radio.AttachSource(s.drain); err != nil {
			return err
		}
	case m == SinkOff && s.mode != SinkOff:
		if err := s.radio.DetachSource(); err != nil {
			return err
		}
	}
	s.mode = m
	return nil
}

// SetVolumePercent computes the software gain factor and exchanges the
// new value with the remote over AVRCP.
func (s *BluetoothSink) SetVolumePercent(pct int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pct = clamp(pct, 0, 100)
	s.volumePercent = pct
	s.gain = math.Pow(10, (bluetoothGainRangeDb*(float64(pct)-100)/100)/20)
	s.radio.SetRemoteVolumePercent(pct)
}

// VolumePercent returns the last applied volume percentage.
func (s *BluetoothSink) VolumePercent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volumePercent
}

// Gain returns the current linear gain factor applied before samples are
// written to the drain buffer.
func (s *BluetoothSink) Gain() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gain
}

// ApplyGain scales samples in place by the current gain, used by the
// Sample Converter immediately before Send.
func (s *BluetoothSink) ApplyGain(samples []int16) {
	g := s.Gain()
	if g == 1.0 {
		return
	}
	for i, v := range samples {
		scaled := float64(v) * g
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		samples[i] = int16(scaled)
	}
}
