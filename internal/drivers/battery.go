package drivers

import "sync"

// Battery tracks the last charge reading reported by the companion MCU.
// Update is invoked whenever BatteryStateChanged fires, per §4.2's
// "additionally invokes Battery.Update" note.
type Battery struct {
	mu sync.Mutex
	st ChargeStatus
}

// NewBattery constructs an empty battery monitor.
func NewBattery() *Battery { return &Battery{} }

// Update records a new charge status reading.
func (b *Battery) Update(st ChargeStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.st = st
}

// Status returns the last recorded charge status.
func (b *Battery) Status() ChargeStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st
}

// Touchwheel models the capacitive scroll-wheel input boundary. Its
// internal driver protocol is out of scope; only the low-power toggle
// used by the Idle shutdown sequence is exposed here.
type Touchwheel struct {
	mu        sync.Mutex
	lowPower  bool
}

// NewTouchwheel constructs a touchwheel boundary in its default
// (powered) mode.
func NewTouchwheel() *Touchwheel { return &Touchwheel{} }

// SetLowPowerMode toggles the wheel's low-power mode, used during idle
// shutdown (§4.2 scenario 6).
func (t *Touchwheel) SetLowPowerMode(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lowPower = enabled
}

// LowPowerMode reports the wheel's current power mode.
func (t *Touchwheel) LowPowerMode() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lowPower
}

// Haptics is a stub boundary for the haptic-feedback driver; its effect
// library and playback are out of scope for the core pipeline, matching
// SPEC_FULL.md's ServiceLocator expansion ("interface only, stub impl").
type Haptics interface {
	PlayEffect(from, to int, library string) error
}

// NoopHaptics implements Haptics by discarding all input.
type NoopHaptics struct{}

func (NoopHaptics) PlayEffect(int, int, string) error { return nil }

// SDState is a mutex-guarded flag reporting the SD card's current mount state,
// installed on the ServiceLocator as "current SD state" per §3.
type SDState struct {
	mu      sync.Mutex
	mounted bool
}

// NewSDState constructs an SDState reporting unmounted.
func NewSDState() *SDState { return &SDState{} }

// Set updates the mounted flag.
func (s *SDState) Set(mounted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mounted = mounted
}

// Mounted reports the card's current mount state.
func (s *SDState) Mounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mounted
}
