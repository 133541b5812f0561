// Package drivers implements the peripheral boundary interfaces named by
// the ServiceLocator: GPIO expander, companion-MCU client, Bluetooth
// radio, battery monitor, touchwheel and haptics. Driver internals are
// out of scope per the spec's PURPOSE & SCOPE; these types model the
// boundary traits the rest of the system programs against, using real
// periph.io/godbus/serial types the way brianhealey-ampli-pi4 and
// seedhammer-seedhammer do.
package drivers

import (
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// expanderPinNames lists the named lines the System FSM polls and drives,
// matching the board's gpio-expander.hpp pin table: three inputs diffed on
// the 100ms poll (key_lock, has_phones, sd_card_detect) and the enable
// lines driven low during idle shutdown (§4.2 Idle.entry).
var expanderPinNames = []string{
	"key_lock",
	"has_phones",
	"sd_card_detect",
	"amplifier_enable",
	"sd_power_enable",
	"display_enable",
	"sd_mux_switch",
	"sd_mux_disable",
	"key_up",
	"key_down",
}

// OpenGPIOExpander resolves every named expander line through periph.io's
// global pin registry (populated by host.Init, called once in cmd/tangarad
// before Boot). Lines that don't resolve on the running host (e.g. a dev
// rig with no GPIO header) are silently skipped rather than failing boot;
// a nil *GPIOExpander is itself a valid, inert ServiceLocator.GPIO value
// per the nil-checks already threaded through internal/system.
func OpenGPIOExpander() *GPIOExpander {
	pins := make(map[string]gpio.PinIO, len(expanderPinNames))
	for _, name := range expanderPinNames {
		if pin := gpioreg.ByName(name); pin != nil {
			pins[name] = pin
		}
	}
	if len(pins) == 0 {
		return nil
	}
	return NewGPIOExpander(pins)
}

// GPIOExpander polls a fixed set of named periph.io GPIO lines and
// reports a diffed snapshot, matching the System FSM's "read the GPIO
// expander once and diff against the previous snapshot" behaviour
// (running.cpp/booting.cpp).
type GPIOExpander struct {
	mu   sync.Mutex
	pins map[string]gpio.PinIO
	last map[string]gpio.Level
}

// NewGPIOExpander constructs an expander over the given named pins (e.g.
// "key_lock", "has_phones", "sd_card_detect").
func NewGPIOExpander(pins map[string]gpio.PinIO) *GPIOExpander {
	last := make(map[string]gpio.Level, len(pins))
	for name, pin := range pins {
		last[name] = pin.Read()
	}
	return &GPIOExpander{pins: pins, last: last}
}

// Read returns the current level of the named pin.
func (e *GPIOExpander) Read(name string) gpio.Level {
	e.mu.Lock()
	defer e.mu.Unlock()
	pin, ok := e.pins[name]
	if !ok {
		return gpio.Low
	}
	return pin.Read()
}

// Out drives the named pin, if it supports output.
func (e *GPIOExpander) Out(name string, level gpio.Level) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	pin, ok := e.pins[name]
	if !ok {
		return nil
	}
	return pin.Out(level)
}

// Diff reads every pin once and returns the subset whose level changed
// since the last Diff call, keyed by pin name. This is the Go analogue of
// the 100ms polling timer's "read once, diff against previous snapshot"
// behaviour (§4.2).
func (e *GPIOExpander) Diff() map[string]gpio.Level {
	e.mu.Lock()
	defer e.mu.Unlock()
	changed := map[string]gpio.Level{}
	for name, pin := range e.pins {
		level := pin.Read()
		if e.last[name] != level {
			changed[name] = level
			e.last[name] = level
		}
	}
	return changed
}
