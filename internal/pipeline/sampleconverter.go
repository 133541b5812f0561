package pipeline

import (
	"time"

	"github.com/charmbracelet/log"
)

// ConverterCommand is posted by the decoder once per batch of samples it
// has pushed into the stream buffer, per §4.4.3.
type ConverterCommand struct {
	Format          Format
	SamplesAvailable int
	EndOfStream     bool
}

// ConverterEvents is the set of callbacks the Sample Converter raises
// back onto the Audio FSM; kept as plain closures rather than importing
// bus.Event to avoid a pipeline->bus->audiofsm import cycle. audiofsm
// wires these to bus.Dispatch calls.
type ConverterEvents struct {
	OnStreamStarted  func(src, dst Format)
	OnStreamUpdate   func(samplesSunk uint64)
	OnConfigChanged  func(src, dst Format)
}

// SampleConverter holds source/target format, an optional resampler and
// the scratch buffers described by §4.4.3. It is driven by one goroutine
// reading ConverterCommand values off cmdCh and pulling raw samples off
// a stream buffer channel fed by the Decoder.
type SampleConverter struct {
	logger *log.Logger
	sink   Sink

	cmdCh    chan ConverterCommand
	streamCh chan []int32

	events ConverterEvents

	srcFormat Format
	dstFormat Format
	resampler *Resampler

	leftover      []int32
	samplesSunk   uint64
	sunkSinceEmit uint64

	quit chan struct{}
}

// NewSampleConverter wires a converter to sink. The command and
// stream-buffer channels each hold up to 4 entries.
func NewSampleConverter(sink Sink, events ConverterEvents, logger *log.Logger) *SampleConverter {
	return &SampleConverter{
		logger:   logger.With("component", "sample_converter"),
		sink:     sink,
		cmdCh:    make(chan ConverterCommand, 4),
		streamCh: make(chan []int32, 4),
		events:   events,
		quit:     make(chan struct{}),
	}
}

// PostCommand is called by the Decoder once per batch.
func (c *SampleConverter) PostCommand(cmd ConverterCommand) { c.cmdCh <- cmd }

// PostSamples is called by the Decoder to hand off a batch of decoded
// samples corresponding to the most recently posted command.
func (c *SampleConverter) PostSamples(samples []int32) { c.streamCh <- samples }

// Stop terminates the converter's run loop.
func (c *SampleConverter) Stop() { close(c.quit) }

// Run is the converter's main loop (§4.4.3). It must execute on its own
// goroutine; StreamStarted/StreamUpdate/StreamEnded ordering guarantees
// depend on everything being emitted from this single loop.
func (c *SampleConverter) Run() {
	for {
		select {
		case <-c.quit:
			return
		case cmd := <-c.cmdCh:
			c.handleCommand(cmd)
		}
	}
}

func (c *SampleConverter) handleCommand(cmd ConverterCommand) {
	if cmd.Format != c.srcFormat {
		c.resampler = nil
		target := c.sink.PrepareFormat(cmd.Format)
		if target != c.dstFormat {
			for !c.sink.Drain().IsEmpty() {
				// wait for the sink to empty; bounded in practice by the
				// drain buffer's ~2s capacity.
				time.Sleep(time.Millisecond)
			}
			if err := c.sink.Configure(target); err != nil {
				c.logger.Error("sink configure failed", "err", err)
			}
			if c.events.OnStreamUpdate != nil && c.sunkSinceEmit > 0 {
				c.events.OnStreamUpdate(c.sunkSinceEmit)
			}
			c.sunkSinceEmit = 0
			if c.events.OnConfigChanged != nil {
				c.events.OnConfigChanged(cmd.Format, target)
			}
		}
		c.dstFormat = target
		c.srcFormat = cmd.Format
		if c.events.OnStreamStarted != nil {
			c.events.OnStreamStarted(c.srcFormat, c.dstFormat)
		}
	}

	samples := <-c.streamCh
	all := append(append([]int32{}, c.leftover...), samples...)
	c.leftover = nil

	var out []int16
	if c.srcFormat.SampleRate == c.dstFormat.SampleRate {
		out = repack(all, c.srcFormat, c.dstFormat)
	} else {
		if c.resampler == nil {
			c.resampler = NewResampler(c.srcFormat.SampleRate, c.dstFormat.SampleRate, c.srcFormat.Channels)
		}
		scratch := make([]int32, len(all)*c.dstFormat.SampleRate/max(c.srcFormat.SampleRate, 1)+c.srcFormat.Channels)
		consumed, produced := c.resampler.Resample(all, scratch)
		c.leftover = append(c.leftover, all[consumed:]...)
		out = repack(scratch[:produced], Format{SampleRate: c.dstFormat.SampleRate, Channels: c.srcFormat.Channels, BitsPerSample: c.srcFormat.BitsPerSample}, c.dstFormat)
	}

	if g, ok := c.sink.(interface{ ApplyGain([]int16) }); ok {
		g.ApplyGain(out)
	}
	c.sink.Drain().Send(out)

	n := uint64(len(all))
	c.samplesSunk += n
	c.sunkSinceEmit += n

	perSecond := uint64(c.dstFormat.SampleRate * c.dstFormat.Channels)
	if perSecond > 0 && c.sunkSinceEmit >= perSecond {
		if c.events.OnStreamUpdate != nil {
			c.events.OnStreamUpdate(c.sunkSinceEmit)
		}
		c.sunkSinceEmit = 0
	}

	if cmd.EndOfStream {
		if c.events.OnStreamUpdate != nil && c.sunkSinceEmit > 0 {
			c.events.OnStreamUpdate(c.sunkSinceEmit)
			c.sunkSinceEmit = 0
		}
	}
}

// repack straight re-packs PCM when rates are equal but bit depths
// differ; not separately stateful per §4.4.3 step 4. Only the bit depth
// is converted: samples keep their source channel layout.
func repack(samples []int32, src, dst Format) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		switch {
		case src.BitsPerSample == dst.BitsPerSample:
			out[i] = int16(s)
		case src.BitsPerSample > dst.BitsPerSample:
			shift := uint(src.BitsPerSample - dst.BitsPerSample)
			out[i] = int16(s >> shift)
		default:
			shift := uint(dst.BitsPerSample - src.BitsPerSample)
			out[i] = int16(s << shift)
		}
	}
	return out
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
