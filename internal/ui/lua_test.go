package ui

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tangara-fw/tangara-go/internal/bus"
	"github.com/tangara-fw/tangara-go/internal/queue"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

// newTestLuaRuntime wires a LuaRuntime with a captured Dispatcher so
// tests can inspect the bus events a script write produces.
func newTestLuaRuntime(t *testing.T, trackQueue *queue.Queue) (*LuaRuntime, *bus.Queue) {
	t.Helper()
	q := bus.NewQueue(16)
	dispatcher := bus.NewDispatcher(q, func(bus.Event) {})
	registry := NewRegistry(dispatcher)
	backstack := NewBackStack(Screen{Name: "root"})
	alerts := NewAlerts()
	rt := NewLuaRuntime(registry, backstack, alerts, dispatcher, trackQueue, testLogger(), nil)
	t.Cleanup(rt.Close)
	return rt, q
}

// popEvent rebinds q's react function to capture the next dispatched
// event and services the queue once to retrieve it.
func popEvent(t *testing.T, q *bus.Queue) bus.Event {
	t.Helper()
	var got bus.Event
	bus.NewDispatcher(q, func(ev bus.Event) { got = ev })
	if !q.Service(100 * time.Millisecond) {
		t.Fatalf("no event dispatched within timeout")
	}
	return got
}

func TestLuaReadsPropertyValue(t *testing.T) {
	rt, _ := newTestLuaRuntime(t, nil)
	rt.registry.Power.BatteryPct.SetFromCore(73)
	if err := rt.DoString(`
		if power.battery_pct ~= 73 then error("want 73 got " .. tostring(power.battery_pct)) end
	`); err != nil {
		t.Fatalf("DoString: %v", err)
	}
}

func TestLuaWriteAcceptedByFilterUpdatesProperty(t *testing.T) {
	rt, q := newTestLuaRuntime(t, nil)
	if err := rt.DoString(`volume.current_pct = 60`); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	if got := rt.registry.Volume.CurrentPct.Get(); got != 60 {
		t.Fatalf("Volume.CurrentPct = %v, want 60", got)
	}
	ev := popEvent(t, q)
	sv, ok := ev.(bus.SetVolume)
	if !ok {
		t.Fatalf("dispatched event = %T, want bus.SetVolume", ev)
	}
	if sv.Percent == nil || *sv.Percent != 60 {
		t.Fatalf("SetVolume.Percent = %v, want 60", sv.Percent)
	}
}

func TestLuaWriteRejectedByFilterLeavesOldValueAndDoesNotDispatch(t *testing.T) {
	rt, q := newTestLuaRuntime(t, nil)
	rt.registry.Volume.CurrentPct.SetFromCore(40)
	if err := rt.DoString(`volume.current_pct = 999`); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	if got := rt.registry.Volume.CurrentPct.Get(); got != 40 {
		t.Fatalf("Volume.CurrentPct = %v, want 40 (write rejected)", got)
	}
	if q.Service(0) {
		t.Fatalf("a rejected write must not dispatch a bus event")
	}
}

func TestLuaWriteVolumeCurrentDbDispatchesSetVolume(t *testing.T) {
	rt, q := newTestLuaRuntime(t, nil)
	if err := rt.DoString(`volume.current_db = -6.0`); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	ev := popEvent(t, q)
	sv, ok := ev.(bus.SetVolume)
	if !ok {
		t.Fatalf("dispatched event = %T, want bus.SetVolume", ev)
	}
	if sv.Db == nil || *sv.Db != -6.0 {
		t.Fatalf("SetVolume.Db = %v, want -6.0 (whole-number float must not become an int)", sv.Db)
	}
}

func TestLuaWriteQueueRandomCallsTrackQueue(t *testing.T) {
	tq := queue.New()
	rt, _ := newTestLuaRuntime(t, tq)
	if err := rt.DoString(`queue.random = true`); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	if !tq.Random() {
		t.Fatalf("trackQueue.Random() = false, want true")
	}
}

func TestLuaSubscribeFiresOnCoreWrite(t *testing.T) {
	rt, _ := newTestLuaRuntime(t, nil)
	if err := rt.DoString(`
		seen = nil
		subscribe("playback", "playing", function(v) seen = v end)
	`); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	rt.registry.Playback.Playing.SetFromCore(true)
	rt.registry.Playback.Playing.DrainNotifications()

	if err := rt.DoString(`if seen ~= true then error("subscriber did not fire: seen=" .. tostring(seen)) end`); err != nil {
		t.Fatalf("subscriber callback did not observe the new value: %v", err)
	}
}

func TestLuaBackstackActions(t *testing.T) {
	rt, _ := newTestLuaRuntime(t, nil)
	if err := rt.DoString(`backstack.push("now_playing")`); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	if got := rt.backstack.Top().Name; got != "now_playing" {
		t.Fatalf("backstack.Top() = %v, want now_playing", got)
	}
	if err := rt.DoString(`backstack.pop()`); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	if got := rt.backstack.Top().Name; got != "root" {
		t.Fatalf("backstack.Top() after pop = %v, want root", got)
	}
}

func TestLuaAlertsActions(t *testing.T) {
	rt, _ := newTestLuaRuntime(t, nil)
	if err := rt.DoString(`alerts.show("hello")`); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	msg, visible, _ := rt.alerts.State()
	if !visible || msg != "hello" {
		t.Fatalf("alerts.State() = (%q, %v), want (hello, true)", msg, visible)
	}
	if err := rt.DoString(`alerts.hide()`); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	if _, visible, _ := rt.alerts.State(); visible {
		t.Fatalf("alerts still visible after hide()")
	}
}

func TestLuaScriptErrorRoutesToOnError(t *testing.T) {
	q := bus.NewQueue(4)
	dispatcher := bus.NewDispatcher(q, func(bus.Event) {})
	registry := NewRegistry(dispatcher)
	backstack := NewBackStack(Screen{Name: "root"})
	alerts := NewAlerts()
	var captured error
	rt := NewLuaRuntime(registry, backstack, alerts, dispatcher, nil, testLogger(), func(err error) { captured = err })
	defer rt.Close()

	err := rt.DoString(`error("boom")`)
	if err == nil {
		t.Fatalf("DoString() with a failing script returned nil error")
	}
	if captured == nil || !strings.Contains(captured.Error(), "boom") {
		t.Fatalf("onError callback = %v, want an error mentioning boom", captured)
	}
}

func TestLuaTimeTicksIsMonotonic(t *testing.T) {
	rt, _ := newTestLuaRuntime(t, nil)
	if err := rt.DoString(`
		a = time.ticks()
		b = time.ticks()
		if b < a then error("ticks went backwards") end
	`); err != nil {
		t.Fatalf("DoString: %v", err)
	}
}
