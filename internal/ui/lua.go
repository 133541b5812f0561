package ui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/tangara-fw/tangara-go/internal/bus"
	"github.com/tangara-fw/tangara-go/internal/queue"
)

// LuaRuntime wraps a gopher-lua state with the Property↔script binding
// layer described by §4.6/§6/§9 ("Script↔core bindings"). Every module
// listed in §6 is published as a Lua global table; fields backed by a
// Property are readable (and, where the property carries a write
// filter, assignable) via a shared __index/__newindex metatable, and
// module actions (queue.next(), bluetooth.enable(), backstack.push(),
// ...) are plain Lua functions wrapping Go closures.
type LuaRuntime struct {
	L        *lua.LState
	registry *Registry
	backstack *BackStack
	alerts   *Alerts
	dispatch *bus.Dispatcher
	trackQueue *queue.Queue
	logger   *log.Logger

	properties map[string]*Property // "module.field" -> Property
	onError    func(error)
}

// NewLuaRuntime constructs a Lua state with every property module and
// action bound, ready to load scripts via DoFile/DoString. trackQueue
// may be nil in tests that don't exercise queue.random/repeat_track/
// replay writes.
func NewLuaRuntime(registry *Registry, backstack *BackStack, alerts *Alerts, dispatch *bus.Dispatcher, trackQueue *queue.Queue, logger *log.Logger, onLuaError func(error)) *LuaRuntime {
	rt := &LuaRuntime{
		L:          lua.NewState(),
		registry:   registry,
		backstack:  backstack,
		alerts:     alerts,
		dispatch:   dispatch,
		trackQueue: trackQueue,
		logger:     logger,
		properties: map[string]*Property{},
		onError:    onLuaError,
	}
	rt.indexProperties()
	rt.bindModules()
	return rt
}

// Close releases the underlying Lua state.
func (rt *LuaRuntime) Close() { rt.L.Close() }

// indexProperties builds the "module.field" -> Property lookup table
// used by the shared metatable and by subscribe().
func (rt *LuaRuntime) indexProperties() {
	r := rt.registry
	add := func(module string, fields map[string]*Property) {
		for field, p := range fields {
			rt.properties[module+"."+field] = p
		}
	}
	add("power", map[string]*Property{
		"battery_pct": r.Power.BatteryPct, "battery_millivolts": r.Power.BatteryMillivolts,
		"plugged_in": r.Power.PluggedIn, "charge_state": r.Power.ChargeState, "fast_charge": r.Power.FastCharge,
	})
	add("bluetooth", map[string]*Property{
		"enabled": r.Bluetooth.Enabled, "connected": r.Bluetooth.Connected, "connecting": r.Bluetooth.Connecting,
		"discovering": r.Bluetooth.Discovering, "paired_device": r.Bluetooth.PairedDevice,
		"discovered_devices": r.Bluetooth.DiscoveredDevices, "known_devices": r.Bluetooth.KnownDevices,
	})
	add("playback", map[string]*Property{
		"playing": r.Playback.Playing, "track": r.Playback.Track, "position": r.Playback.Position,
	})
	add("queue", map[string]*Property{
		"position": r.Queue.Position, "size": r.Queue.Size, "replay": r.Queue.Replay,
		"repeat_track": r.Queue.RepeatTrack, "random": r.Queue.Random, "loading": r.Queue.Loading,
	})
	add("volume", map[string]*Property{
		"current_pct": r.Volume.CurrentPct, "current_db": r.Volume.CurrentDb,
		"left_bias": r.Volume.LeftBias, "limit_db": r.Volume.LimitDb,
	})
	add("display", map[string]*Property{"brightness": r.Display.Brightness})
	add("controls", map[string]*Property{
		"scheme": r.Controls.Scheme, "lock_switch": r.Controls.LockSwitch,
		"hooks": r.Controls.Hooks, "scroll_sensitivity": r.Controls.ScrollSensitivity,
	})
	add("database", map[string]*Property{"updating": r.Database.Updating, "auto_update": r.Database.AutoUpdate})
	add("sd_card", map[string]*Property{"mounted": r.SDCard.Mounted})
	add("usb", map[string]*Property{"msc_enabled": r.USB.MscEnabled, "msc_busy": r.USB.MscBusy})
}

// bindModules installs every global table and its metatable/actions.
func (rt *LuaRuntime) bindModules() {
	for _, name := range []string{
		"power", "bluetooth", "playback", "queue", "volume", "display",
		"controls", "backstack", "alerts", "time", "database", "sd_card", "usb",
	} {
		rt.newModuleTable(name)
	}

	rt.bindBluetoothActions()
	rt.bindQueueActions()
	rt.bindPlaybackActions()
	rt.bindBackstackActions()
	rt.bindAlertsActions()
	rt.bindTimeActions()
	rt.bindSubscribe()
}

// newModuleTable creates the global table for name with a shared
// property-backed __index/__newindex metatable.
func (rt *LuaRuntime) newModuleTable(name string) *lua.LTable {
	tbl := rt.L.NewTable()
	mt := rt.L.NewTable()
	moduleName := name
	mt.RawSetString("__index", rt.L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		if p, ok := rt.properties[moduleName+"."+key]; ok {
			L.Push(goToLua(L, p.Get()))
			return 1
		}
		L.Push(lua.LNil)
		return 1
	}))
	mt.RawSetString("__newindex", rt.L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		val := L.Get(3)
		if p, ok := rt.properties[moduleName+"."+key]; ok {
			if p.WriteFromScript(luaToGo(val, p.Get())) {
				rt.dispatchWrite(moduleName, key, p.Get())
			}
		}
		return 0
	}))
	rt.L.SetMetatable(tbl, mt)
	rt.L.SetGlobal(name, tbl)
	return tbl
}

// dispatchWrite translates an accepted script write into the command
// event it implies, per §4.6's "setting volume.current_db dispatches
// SetVolume" example.
func (rt *LuaRuntime) dispatchWrite(module, field string, value any) {
	if rt.dispatch == nil {
		return
	}
	switch module + "." + field {
	case "volume.current_db":
		db := value.(float64)
		rt.dispatch.Dispatch(bus.SetVolume{Db: &db})
	case "volume.current_pct":
		pct := value.(int)
		rt.dispatch.Dispatch(bus.SetVolume{Percent: &pct})
	case "volume.left_bias":
		rt.dispatch.Dispatch(bus.SetVolumeBalance{BalanceDb: value.(float64)})
	case "volume.limit_db":
		rt.dispatch.Dispatch(bus.SetVolumeLimit{LimitDb: value.(float64)})
	case "queue.random":
		if rt.trackQueue != nil {
			rt.trackQueue.SetRandom(value.(bool))
		}
	case "queue.repeat_track":
		if rt.trackQueue != nil {
			rt.trackQueue.SetRepeat(value.(bool))
		}
	case "queue.replay":
		if rt.trackQueue != nil {
			rt.trackQueue.SetReplay(value.(bool))
		}
	}
}

func (rt *LuaRuntime) bindBluetoothActions() {
	tbl := rt.L.GetGlobal("bluetooth").(*lua.LTable)
	rt.L.SetField(tbl, "enable", rt.L.NewFunction(func(L *lua.LState) int {
		rt.registry.Bluetooth.Enabled.SetFromCore(true)
		return 0
	}))
	rt.L.SetField(tbl, "disable", rt.L.NewFunction(func(L *lua.LState) int {
		rt.registry.Bluetooth.Enabled.SetFromCore(false)
		return 0
	}))
}

func (rt *LuaRuntime) bindQueueActions() {
	tbl := rt.L.GetGlobal("queue").(*lua.LTable)
	rt.L.SetField(tbl, "next", rt.L.NewFunction(func(L *lua.LState) int {
		if rt.dispatch != nil {
			rt.dispatch.Dispatch(bus.QueueUpdate{Reason: bus.QueueTrackFinished})
		}
		return 0
	}))
	rt.L.SetField(tbl, "previous", rt.L.NewFunction(func(L *lua.LState) int {
		pos := rt.registry.Queue.Position.Get().(int)
		if pos > 0 {
			rt.registry.Queue.Position.SetFromCore(pos - 1)
		}
		if rt.dispatch != nil {
			rt.dispatch.Dispatch(bus.QueueUpdate{Reason: bus.QueueExplicitUpdate, Position: pos - 1})
		}
		return 0
	}))
}

func (rt *LuaRuntime) bindPlaybackActions() {
	tbl := rt.L.GetGlobal("playback").(*lua.LTable)
	rt.L.SetField(tbl, "is_playable", rt.L.NewFunction(func(L *lua.LState) int {
		uri := L.CheckString(1)
		_, err := os.Stat(uri)
		L.Push(lua.LBool(err == nil))
		return 1
	}))
}

func (rt *LuaRuntime) bindBackstackActions() {
	tbl := rt.L.GetGlobal("backstack").(*lua.LTable)
	rt.L.SetField(tbl, "push", rt.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		rt.backstack.Push(Screen{Name: name})
		return 0
	}))
	rt.L.SetField(tbl, "pop", rt.L.NewFunction(func(L *lua.LState) int {
		rt.backstack.Pop()
		return 0
	}))
	rt.L.SetField(tbl, "reset", rt.L.NewFunction(func(L *lua.LState) int {
		rt.backstack.Reset()
		return 0
	}))
}

func (rt *LuaRuntime) bindAlertsActions() {
	tbl := rt.L.GetGlobal("alerts").(*lua.LTable)
	rt.L.SetField(tbl, "show", rt.L.NewFunction(func(L *lua.LState) int {
		rt.alerts.Show(L.CheckString(1))
		return 0
	}))
	rt.L.SetField(tbl, "hide", rt.L.NewFunction(func(L *lua.LState) int {
		rt.alerts.Hide()
		return 0
	}))
}

func (rt *LuaRuntime) bindTimeActions() {
	tbl := rt.L.GetGlobal("time").(*lua.LTable)
	rt.L.SetField(tbl, "ticks", rt.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(rt.registry.TicksMs()))
		return 1
	}))
}

// bindSubscribe installs the global subscribe(module, field, callback)
// function scripts use to observe a Property's changes, per §3/§4.6.
func (rt *LuaRuntime) bindSubscribe() {
	rt.L.SetGlobal("subscribe", rt.L.NewFunction(func(L *lua.LState) int {
		module := L.CheckString(1)
		field := L.CheckString(2)
		fn := L.CheckFunction(3)
		p, ok := rt.properties[module+"."+field]
		if !ok {
			return 0
		}
		p.Subscribe(func(value any) {
			rt.callProtected(fn, goToLua(rt.L, value))
		})
		return 0
	}))
}

// callProtected invokes a Lua callback via pcall, emitting OnLuaError on
// failure rather than ever taking down the UI task, per §7.
func (rt *LuaRuntime) callProtected(fn *lua.LFunction, args ...lua.LValue) {
	if err := rt.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...); err != nil {
		if rt.onError != nil {
			rt.onError(fmt.Errorf("ui: lua callback: %w", err))
		} else if rt.logger != nil {
			rt.logger.Error("lua callback error", "err", err)
		}
	}
}

// DoString runs a script body under protected-call semantics.
func (rt *LuaRuntime) DoString(src string) error {
	if err := rt.L.DoString(src); err != nil {
		if rt.onError != nil {
			rt.onError(fmt.Errorf("ui: lua script: %w", err))
		}
		return err
	}
	return nil
}

// DoFile loads and runs a script file under the same protected semantics.
func (rt *LuaRuntime) DoFile(path string) error {
	if err := rt.L.DoFile(path); err != nil {
		if rt.onError != nil {
			rt.onError(fmt.Errorf("ui: lua script %s: %w", path, err))
		}
		return err
	}
	return nil
}

// goToLua converts a Go value produced by Property.Get into an LValue.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case int:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case float64:
		return lua.LNumber(t)
	case string:
		return lua.LString(t)
	case []string:
		tbl := L.NewTable()
		for i, s := range t {
			tbl.RawSetInt(i+1, lua.LString(s))
		}
		return tbl
	case map[string]string:
		tbl := L.NewTable()
		for k, s := range t {
			tbl.RawSetString(k, lua.LString(s))
		}
		return tbl
	default:
		return lua.LNil
	}
}

// luaToGo converts an LValue written by a script back into a plain Go
// value for Property.WriteFromScript's filter predicate. hint is the
// property's current value, used to decide whether a Lua number (always
// float64-backed) should become a Go int or float64 — every property's
// Go type is fixed at construction, so its current value is always a
// reliable type witness.
func luaToGo(v lua.LValue, hint any) any {
	switch t := v.(type) {
	case lua.LBool:
		return bool(t)
	case lua.LNumber:
		if _, isInt := hint.(int); isInt {
			return int(t)
		}
		return float64(t)
	case lua.LString:
		return string(t)
	default:
		return nil
	}
}
