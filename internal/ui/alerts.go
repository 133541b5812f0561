package ui

import (
	"sync"
	"time"
)

// alertDismissTimeout is §7's "dismissed after 1s by a timer" toast
// lifetime for recoverable conditions.
const alertDismissTimeout = 1 * time.Second

// Alerts implements alerts.{show(),hide()} from §6: a single toast-style
// widget, auto-dismissed after alertDismissTimeout, plus a separate
// full-screen error flag for unrecoverable conditions (§7).
type Alerts struct {
	mu        sync.Mutex
	message   string
	visible   bool
	fatal     bool
	timer     *time.Timer
	onChange  func()
}

// NewAlerts constructs an empty, hidden alert.
func NewAlerts() *Alerts { return &Alerts{} }

// OnChange installs a callback invoked whenever the alert's
// visible/message state changes, used by Model to trigger a re-render.
func (a *Alerts) OnChange(fn func()) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// Show displays message as a toast and schedules its auto-dismissal,
// matching §7's recoverable-condition alert. Calling Show again while a
// toast is visible replaces the message and restarts the timer.
func (a *Alerts) Show(message string) {
	a.mu.Lock()
	a.message = message
	a.visible = true
	a.fatal = false
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(alertDismissTimeout, a.dismiss)
	cb := a.onChange
	a.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// ShowFatal displays message as a full-screen, non-dismissing error, per
// §7's "full-screen error for unrecoverable" conditions.
func (a *Alerts) ShowFatal(message string) {
	a.mu.Lock()
	a.message = message
	a.visible = true
	a.fatal = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	cb := a.onChange
	a.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Hide implements alerts.hide(): dismisses the current alert immediately,
// whether toast or fatal.
func (a *Alerts) Hide() {
	a.mu.Lock()
	a.visible = false
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	cb := a.onChange
	a.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (a *Alerts) dismiss() {
	a.mu.Lock()
	a.visible = false
	a.timer = nil
	cb := a.onChange
	a.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// State reports the alert's current (message, visible, fatal) for
// rendering.
func (a *Alerts) State() (message string, visible bool, fatal bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.message, a.visible, a.fatal
}
