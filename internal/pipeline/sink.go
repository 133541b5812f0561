package pipeline

// SinkMode mirrors the three-state mode exposed by both sinks in §4.4.4.
type SinkMode int

const (
	SinkOff SinkMode = iota
	SinkOnPaused
	SinkOnPlaying
)

// Sink is the common contract the Sample Converter negotiates against.
// PrepareFormat/Configure form the cooperative format-negotiation
// handshake described in DESIGN NOTES: a blocking call on the converter's
// own goroutine, not an event, and the serialisation point for mid-stream
// format transitions.
type Sink interface {
	// PrepareFormat returns the format this sink would actually use given
	// a candidate source format, clamping to the sink's supported range.
	PrepareFormat(src Format) Format
	// Configure applies dst as the sink's active format. Callers must
	// have drained the sink's buffer first per §4.4.3 step 1.
	Configure(dst Format) error
	// SetMode transitions Off/OnPaused/OnPlaying.
	SetMode(m SinkMode) error
	// Drain returns the PcmBuffer samples are written into.
	Drain() *PcmBuffer
	// CurrentFormat reports the last Configure'd format.
	CurrentFormat() Format
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
