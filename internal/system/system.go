// Package system implements the System FSM: Uninitialised → Booting →
// {Running ↔ Idle} → Error. It owns boot sequencing, the GPIO/companion
// interrupt fan-out, SD mount lifecycle and idle shutdown, grounded on
// original_source/src/tangara/system_fsm/{booting,running,idle}.cpp
// translated from a state-machine-library (tinyfsm) pattern into a plain
// Go switch-on-state-then-type-switch-on-event react method, matching the
// style of the teacher's own select-loop state handling in
// internal/app/player.go.
package system

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"periph.io/x/conn/v3/gpio"

	"github.com/tangara-fw/tangara-go/internal/bus"
	"github.com/tangara-fw/tangara-go/internal/services"
)

// State names the System FSM's current top-level state.
type State int

const (
	StateUninitialised State = iota
	StateBooting
	StateRunning
	StateIdle
	StateError
)

func (s State) String() string {
	switch s {
	case StateBooting:
		return "booting"
	case StateRunning:
		return "running"
	case StateIdle:
		return "idle"
	case StateError:
		return "error"
	default:
		return "uninitialised"
	}
}

const (
	interruptPollPeriod  = 100 * time.Millisecond
	idleShutdownTimeout  = 10 * time.Second
	unmountTimeout       = 10 * time.Second
	sdMuxHandoverGrace   = 250 * time.Millisecond
)

// System is the System FSM.
type System struct {
	logger   *log.Logger
	router   *bus.Router
	dispatch *bus.Dispatcher

	locator *services.Locator

	state State

	idleTimer    *time.Timer
	unmountTimer *time.Timer

	pollCancel context.CancelFunc
}

// New constructs a System FSM bound to router, in StateUninitialised.
func New(router *bus.Router, logger *log.Logger) *System {
	s := &System{router: router, logger: logger, state: StateUninitialised}
	s.dispatch = router.BindSystem(s.react)
	return s
}

// Boot runs the Booting state's entry sequence: constructs every service,
// starts the interrupt poll timer, and broadcasts BootComplete.
func (s *System) Boot(ctx context.Context, cfg services.Config) error {
	s.state = StateBooting
	s.logger.Info("beginning boot")

	locator, err := services.Boot(cfg)
	if err != nil {
		s.state = StateError
		s.logger.Error("boot failed", "err", err)
		return err
	}
	s.locator = locator

	pollCtx, cancel := context.WithCancel(ctx)
	s.pollCancel = cancel
	go s.pollInterrupts(pollCtx)

	s.logger.Info("boot complete")
	s.router.DispatchAll(bus.BootComplete{Services: locator})

	if s.locator.GPIO != nil && s.locator.GPIO.Read("key_lock") == gpio.High {
		s.enterIdle()
	} else {
		s.enterRunning()
	}
	return nil
}

// Run services the System FSM's share of the shared queue until ctx is
// cancelled.
func (s *System) Run(ctx context.Context) {
	s.router.SystemAndAudio.Run(ctx)
}

// Locator exposes the booted ServiceLocator for callers constructed
// after Boot returns, such as the debug console.
func (s *System) Locator() *services.Locator { return s.locator }

func (s *System) enterRunning() {
	s.state = StateRunning
	s.logger.Info("system running")
	if s.locator != nil && s.locator.SD != nil {
		s.locator.SD.Set(true)
		s.dispatch.MustDispatch(bus.SdStateChanged{State: bus.SdMounted})
	}
}

func (s *System) enterIdle() {
	s.state = StateIdle
	s.logger.Info("system became idle")
	if s.locator != nil {
		s.locator.NVS.SetU8(nvsDirtyKey, 1)
	}
	s.router.DispatchAll(bus.OnIdle{})

	s.idleTimer = time.AfterFunc(idleShutdownTimeout, s.onIdleTimeout)
}

func (s *System) exitIdle() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

// onIdleTimeout fires the 10s idle-shutdown check. It is called from a
// timer goroutine, so it only touches FSM state via Dispatch.
func (s *System) onIdleTimeout() {
	s.dispatch.Dispatch(internalIdleTimeout{})
}

// internalIdleTimeout is a System-FSM-private event, not part of the
// shared vocabulary.
type internalIdleTimeout struct{ bus.BaseEvent }

func (s *System) react(event bus.Event) {
	switch s.state {
	case StateBooting:
		// Booting only reacts via Boot() itself; BootComplete is handled
		// synchronously there.
	case StateRunning:
		s.reactRunning(event)
	case StateIdle:
		s.reactIdle(event)
	}
	s.reactAnyState(event)
}

// reactAnyState handles events that fan out into bus broadcasts
// regardless of the current top-level state.
func (s *System) reactAnyState(event bus.Event) {
	switch ev := event.(type) {
	case bus.KeyLockChanged:
		if ev.Locked && s.state == StateRunning {
			s.enterIdle()
		} else if !ev.Locked && s.state == StateIdle {
			s.exitIdle()
			s.enterRunning()
		}
	}
}

func (s *System) reactRunning(event bus.Event) {
	switch ev := event.(type) {
	case bus.SamdUsbMscChanged:
		s.handleUsbMscHandover(ev.Enabled)
	case bus.SdDetectChanged:
		if !ev.Present {
			s.unmountTimer = time.AfterFunc(unmountTimeout, func() {
				s.dispatch.Dispatch(bus.UnmountTimeout{})
			})
		}
	case bus.UnmountTimeout:
		if s.locator != nil && s.locator.SD != nil {
			s.locator.SD.Set(false)
		}
		s.dispatch.MustDispatch(bus.SdStateChanged{State: bus.SdNotPresent})
	}
}

func (s *System) reactIdle(event bus.Event) {
	switch event.(type) {
	case internalIdleTimeout:
		s.maybeShutdown()
	}
}

// maybeShutdown implements idle.cpp's IdleTimeout handler: stay powered
// on while charging/plugged in, otherwise drive every enable pin low and
// loop telling the companion MCU to cut power.
func (s *System) maybeShutdown() {
	if s.locator == nil {
		return
	}
	if s.locator.Companion != nil {
		status, err := s.locator.Companion.QueryCharge()
		if err == nil && !status.Discharging {
			// Plugged in: stay alive to charge, sync, flash updates.
			s.idleTimer = time.AfterFunc(idleShutdownTimeout, s.onIdleTimeout)
			return
		}
	}

	s.logger.Info("system shutting down")
	if s.locator.Touchwheel != nil {
		s.locator.Touchwheel.SetLowPowerMode(true)
	}
	if s.locator.GPIO != nil {
		s.locator.GPIO.Out("amplifier_enable", gpio.Low)
		s.locator.GPIO.Out("sd_power_enable", gpio.Low)
		s.locator.GPIO.Out("display_enable", gpio.Low)
		s.locator.GPIO.Out("sd_mux_switch", gpio.High)
		s.locator.GPIO.Out("sd_mux_disable", gpio.High)
		s.locator.GPIO.Out("sd_card_detect", gpio.Low)
		s.locator.GPIO.Out("key_up", gpio.Low)
		s.locator.GPIO.Out("key_down", gpio.Low)
	}

	if s.locator.Companion != nil {
		s.locator.Companion.PowerDown(context.Background())
	}
}

// handleUsbMscHandover implements the SD-mux handover sequence from
// running.cpp: unmount, hand the bus to the companion MCU (or reclaim it
// on the reverse transition, with a grace period for the companion to
// release cleanly).
func (s *System) handleUsbMscHandover(enabled bool) {
	if s.locator == nil {
		return
	}
	if enabled {
		if s.locator.SD != nil {
			s.locator.SD.Set(false)
		}
		if s.locator.GPIO != nil {
			s.locator.GPIO.Out("sd_mux_switch", gpio.High)
		}
		if s.locator.Companion != nil {
			s.locator.Companion.UsbMassStorage(true)
		}
		return
	}

	if s.locator.Companion != nil {
		s.locator.Companion.UsbMassStorage(false)
	}
	time.Sleep(sdMuxHandoverGrace)
	if s.locator.GPIO != nil {
		s.locator.GPIO.Out("sd_mux_switch", gpio.Low)
	}
	if s.locator.SD != nil {
		s.locator.SD.Set(true)
	}
	s.dispatch.MustDispatch(bus.SdStateChanged{State: bus.SdMounted})
}

// pollInterrupts mirrors the 100ms GPIO/companion polling timer: it reads
// the expander once, diffs against the previous snapshot, and emits the
// corresponding typed events.
func (s *System) pollInterrupts(ctx context.Context) {
	ticker := time.NewTicker(interruptPollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce()
		}
	}
}

func (s *System) pollOnce() {
	if s.locator == nil || s.locator.GPIO == nil {
		return
	}
	changed := s.locator.GPIO.Diff()
	for name, level := range changed {
		switch name {
		case "key_lock":
			s.dispatch.MustDispatch(bus.KeyLockChanged{Locked: level == gpio.High})
		case "has_phones":
			s.dispatch.MustDispatch(bus.HasPhonesChanged{Present: level == gpio.High})
		case "sd_card_detect":
			s.dispatch.MustDispatch(bus.SdDetectChanged{Present: level == gpio.High})
		}
	}

	if s.locator.Companion == nil {
		return
	}
	status, err := s.locator.Companion.QueryCharge()
	if err != nil {
		return
	}
	s.locator.Battery.Update(status)
	s.router.DispatchAll(bus.BatteryStateChanged{
		PercentFull:     status.PercentFull,
		MilliVolts:      status.MilliVolts,
		Charging:        status.Charging,
		Discharging:     status.Discharging,
		FastChargeWired: status.FastCharge,
	})
}

// State reports the FSM's current top-level state, used by tests.
func (s *System) State() State { return s.state }

const nvsDirtyKey = "sys_dirty"
