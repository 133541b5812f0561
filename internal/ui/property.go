// Package ui implements the UI FSM: Splash → Lua. It owns the screen
// stack, the embedded Lua runtime and the Observable Property registry
// that mirrors core state into scripts, grounded on
// original_source/src/tangara/ui/ui_fsm.cpp and the Property type in
// original_source/src/tangara/lua/property.hpp, rendered in this port via
// a terminal UI (the teacher's `charmbracelet/bubbletea`/`lipgloss`
// stack standing in for the LVGL main-loop contract named at the
// boundary in §1) instead of the original's display-controller-driven
// LVGL screens.
package ui

import "sync"

// Property is a typed cell with change notification, the Go rendering of
// §3's Observable Property: a value, an optional write-filter predicate,
// and a list of subscriber callbacks. All writes are expected to happen
// on the UI task (the goroutine running the bubbletea Program and the
// Lua state) per §5's "all Lua calls MUST occur on the UI task" rule;
// Property itself does not add its own locking beyond what's needed to
// let SetFromCore be called from the FSM's react (which already runs on
// the UI task, since Property lives inside the UI FSM).
type Property struct {
	mu     sync.Mutex
	value  any
	filter func(old, new any) bool

	subscribers []*subscriber
}

// subscriber is one (script-function, dirty-flag) pair. The Go port
// represents "script" as the owning *lua.LState implicitly (a single Lua
// runtime per device) and "ref" as the callback function registered via
// Property.Subscribe.
type subscriber struct {
	fn    func(value any)
	dirty bool
	active bool
}

// NewProperty constructs a Property holding initial, with no write
// filter (any write succeeds).
func NewProperty(initial any) *Property {
	return &Property{value: initial}
}

// NewFilteredProperty constructs a Property whose writes are first
// passed through filter; a filter returning false leaves the old value
// intact and does not notify subscribers, per §3's "a rejected filter
// leaves the old value intact."
func NewFilteredProperty(initial any, filter func(old, new any) bool) *Property {
	return &Property{value: initial, filter: filter}
}

// Get returns the property's current value.
func (p *Property) Get() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// SetFromCore updates the property's value unconditionally (core events
// never go through the write filter — only script-originated writes do,
// per §3) and marks every subscriber dirty.
func (p *Property) SetFromCore(value any) {
	p.mu.Lock()
	p.value = value
	for _, s := range p.subscribers {
		s.dirty = true
	}
	p.mu.Unlock()
}

// WriteFromScript applies filter (if any) to the old/new value pair; on
// acceptance the value is updated and subscribers marked dirty, and true
// is returned so the caller (the Lua binding layer) knows to dispatch
// the corresponding bus event. On rejection the value is left untouched
// and false is returned.
func (p *Property) WriteFromScript(value any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.filter != nil && !p.filter(p.value, value) {
		return false
	}
	p.value = value
	for _, s := range p.subscribers {
		s.dirty = true
	}
	return true
}

// Subscribe registers fn to be invoked whenever the property's value
// changes. Subscribers are invoked in registration order, per §3.
func (p *Property) Subscribe(fn func(value any)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, &subscriber{fn: fn, active: true})
}

// DrainNotifications invokes every dirty, active subscriber (in
// registration order) with the property's current value and clears the
// dirty flag, matching "invoked at the next main-loop turn (re-entrancy
// safe)". Called once per bubbletea Update() turn by the UI FSM.
func (p *Property) DrainNotifications() {
	p.mu.Lock()
	value := p.value
	var toRun []func(any)
	for _, s := range p.subscribers {
		if s.dirty && s.active {
			toRun = append(toRun, s.fn)
			s.dirty = false
		}
	}
	p.mu.Unlock()

	for _, fn := range toRun {
		fn(value)
	}
}
