package ui

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/tangara-fw/tangara-go/internal/bus"
	"github.com/tangara-fw/tangara-go/internal/nvs"
	"github.com/tangara-fw/tangara-go/internal/queue"
	"github.com/tangara-fw/tangara-go/internal/services"
)

// errLuaNotReady is returned by RunLuaFile/RunLuaString before the Lua
// runtime has been constructed (i.e. still in StateSplash).
var errLuaNotReady = errors.New("ui: lua runtime not ready")

// State names the UI FSM's current top-level state: Splash → Lua, per
// §4.6.
type State int

const (
	StateSplash State = iota
	StateLua
)

func (s State) String() string {
	if s == StateLua {
		return "lua"
	}
	return "splash"
}

// UI is the UI FSM. It owns the Property registry, the embedded Lua
// runtime, the screen stack and the toast/fatal alert widget, all of
// which are touched only from this FSM's own goroutine (the "UI task"
// §5 requires for every LVGL/Lua call — here, every bubbletea Program
// and gopher-lua call).
type UI struct {
	logger   *log.Logger
	router   *bus.Router
	dispatch *bus.Dispatcher

	// audioDispatch posts commands (SetVolume, SetTrack, SetOutput, ...)
	// onto the shared System/Audio queue; populated once on boot and
	// reused by both the Lua bindings and Model's key handlers.
	audioDispatch *bus.Dispatcher

	locator *services.Locator

	state State

	registry  *Registry
	backstack *BackStack
	alerts    *Alerts
	lua       *LuaRuntime

	scriptPath string
}

// New constructs a UI FSM bound to router, in StateSplash. scriptPath, if
// non-empty, is loaded once the Lua runtime is instantiated on boot.
func New(router *bus.Router, logger *log.Logger, scriptPath string) *UI {
	u := &UI{router: router, logger: logger, state: StateSplash, scriptPath: scriptPath}
	u.dispatch = router.BindUI(u.react)
	u.backstack = NewBackStack(Screen{Name: "root"})
	u.alerts = NewAlerts()
	return u
}

// State reports the FSM's current top-level state.
func (u *UI) State() State { return u.state }

// Registry exposes the Property registry for tests and console bindings.
func (u *UI) Registry() *Registry { return u.registry }

// BackStack exposes the screen stack for tests.
func (u *UI) BackStack() *BackStack { return u.backstack }

// Alerts exposes the alert widget for tests.
func (u *UI) Alerts() *Alerts { return u.alerts }

// Run services the UI FSM's dedicated queue until ctx is cancelled, for
// callers (tests, headless operation) that don't drive a bubbletea
// Program. RunTUI is the production entry point and pumps the same
// queue itself on every render tick instead.
func (u *UI) Run(ctx context.Context) {
	u.router.UI.Run(ctx)
}

func (u *UI) react(event bus.Event) {
	switch u.state {
	case StateSplash:
		if ev, ok := event.(bus.BootComplete); ok {
			u.reactBootComplete(ev)
		}
		return
	case StateLua:
		u.registry.React(event)
		if ev, ok := event.(bus.OnLuaError); ok {
			u.alerts.Show(ev.Err.Error())
		}
	}
}

// reactBootComplete implements Splash.react(const BootComplete&): apply
// saved brightness, instantiate the Lua runtime bound to the bus'
// System/Audio dispatcher, and transition to Lua, per §4.6.
func (u *UI) reactBootComplete(ev bus.BootComplete) {
	locator, _ := ev.Services.(*services.Locator)
	u.locator = locator

	u.audioDispatch = u.router.AudioDispatcher()
	u.registry = NewRegistry(u.audioDispatch)

	if locator != nil {
		if pct, ok := locator.NVS.GetU8(nvs.KeyBrightness); ok {
			u.registry.Display.Brightness.SetFromCore(int(pct))
		}
		u.registry.SDCard.Mounted.SetFromCore(locator.SD.Mounted())
		if locator.TrackQueue != nil {
			u.registry.Queue.Size.SetFromCore(locator.TrackQueue.Size())
			u.registry.Queue.Position.SetFromCore(locator.TrackQueue.Position())
			u.registry.Queue.Replay.SetFromCore(locator.TrackQueue.Replay())
			u.registry.Queue.RepeatTrack.SetFromCore(locator.TrackQueue.Repeat())
			u.registry.Queue.Random.SetFromCore(locator.TrackQueue.Random())
		}
	}

	var trackQueue *queue.Queue
	if locator != nil {
		trackQueue = locator.TrackQueue
	}
	u.lua = NewLuaRuntime(u.registry, u.backstack, u.alerts, u.audioDispatch, trackQueue, u.logger, u.onLuaError)

	if u.scriptPath != "" {
		if err := u.lua.DoFile(u.scriptPath); err != nil {
			u.logger.Error("failed to load startup script", "path", u.scriptPath, "err", err)
		}
	}

	u.state = StateLua
	u.logger.Info("ui entered lua state")
}

func (u *UI) onLuaError(err error) {
	u.dispatch.Dispatch(bus.OnLuaError{Err: err})
	u.alerts.Show(err.Error())
}

// RunLuaFile executes path on the UI's single Lua runtime, backing the
// console's `lua <script>` command. Returns an error if the Lua runtime
// has not yet been constructed (still in StateSplash).
func (u *UI) RunLuaFile(path string) error {
	if u.lua == nil {
		return errLuaNotReady
	}
	return u.lua.DoFile(path)
}

// RunLuaString executes src on the UI's Lua runtime, backing the
// console's `lua` REPL with no script argument.
func (u *UI) RunLuaString(src string) error {
	if u.lua == nil {
		return errLuaNotReady
	}
	return u.lua.DoString(src)
}

// DumpLuaStack reports the set of bound property modules and the
// backstack's current depth, backing the console's `stacks` command
// (original_source's ui::DumpLuaStack), a standing-in for the original's
// per-coroutine Lua stack trace since this port runs a single Lua state
// rather than one coroutine per screen.
func (u *UI) DumpLuaStack() string {
	if u.lua == nil {
		return "lua runtime not ready"
	}
	names := make([]string, 0, len(u.lua.properties))
	for name := range u.lua.properties {
		names = append(names, name)
	}
	return fmt.Sprintf("backstack depth=%d bound properties=%d (%v)", u.backstack.Depth(), len(names), names)
}

// DrainProperties invokes every dirty Property subscriber, matching
// "invoked at the next main-loop turn." Called once per render tick by
// Model.
func (u *UI) DrainProperties() {
	if u.registry != nil {
		u.registry.DrainAll()
	}
}
