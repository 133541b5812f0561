package ui

import (
	"time"

	"github.com/tangara-fw/tangara-go/internal/bus"
)

// Registry is the full set of Observable Properties published to Lua,
// grouped by module exactly as enumerated in §6's "Lua property modules"
// table. Each core event the UI FSM receives is translated 1:1 into
// writes on the relevant module's properties via React.
type Registry struct {
	Power     PowerModule
	Bluetooth BluetoothModule
	Playback  PlaybackModule
	Queue     QueueModule
	Volume    VolumeModule
	Display   DisplayModule
	Controls  ControlsModule
	Database  DatabaseModule
	SDCard    SDCardModule
	USB       USBModule

	bootTime time.Time
	dispatch *bus.Dispatcher // posts commands back to System/Audio
}

// PowerModule mirrors power.{battery_pct,battery_millivolts,plugged_in,
// charge_state,fast_charge}.
type PowerModule struct {
	BatteryPct        *Property
	BatteryMillivolts *Property
	PluggedIn         *Property
	ChargeState       *Property
	FastCharge        *Property
}

// BluetoothModule mirrors bluetooth.{enabled,connected,connecting,
// discovering,paired_device,discovered_devices,known_devices}. enable()
// and disable() are exposed as Lua functions, not properties (they have
// no persistent value of their own).
type BluetoothModule struct {
	Enabled           *Property
	Connected         *Property
	Connecting        *Property
	Discovering       *Property
	PairedDevice      *Property
	DiscoveredDevices *Property
	KnownDevices      *Property
}

// PlaybackModule mirrors playback.{playing,track,position}.
// is_playable(uri) is a function, not a property.
type PlaybackModule struct {
	Playing  *Property
	Track    *Property
	Position *Property
}

// QueueModule mirrors queue.{position,size,replay,repeat_track,random,
// loading}. next()/previous() are functions.
type QueueModule struct {
	Position    *Property
	Size        *Property
	Replay      *Property
	RepeatTrack *Property
	Random      *Property
	Loading     *Property
}

// VolumeModule mirrors volume.{current_pct,current_db,left_bias,limit_db}.
type VolumeModule struct {
	CurrentPct *Property
	CurrentDb  *Property
	LeftBias   *Property
	LimitDb    *Property
}

// DisplayModule mirrors display.{brightness}.
type DisplayModule struct {
	Brightness *Property
}

// ControlsModule mirrors controls.{scheme,lock_switch,hooks,
// scroll_sensitivity}.
type ControlsModule struct {
	Scheme            *Property
	LockSwitch        *Property
	Hooks             *Property
	ScrollSensitivity *Property
}

// DatabaseModule mirrors database.{updating,auto_update}.
type DatabaseModule struct {
	Updating   *Property
	AutoUpdate *Property
}

// SDCardModule mirrors sd_card.{mounted}.
type SDCardModule struct {
	Mounted *Property
}

// USBModule mirrors usb.{msc_enabled,msc_busy}.
type USBModule struct {
	MscEnabled *Property
	MscBusy    *Property
}

// NewRegistry constructs every module's Properties with their initial
// values and write filters. dispatch is used by write-filter-accepted
// writes (wired up in lua.go) to post the corresponding command event.
func NewRegistry(dispatch *bus.Dispatcher) *Registry {
	r := &Registry{dispatch: dispatch, bootTime: time.Now()}

	r.Power = PowerModule{
		BatteryPct:        NewProperty(0),
		BatteryMillivolts: NewProperty(0),
		PluggedIn:         NewProperty(false),
		ChargeState:       NewProperty("discharging"),
		FastCharge:        NewProperty(false),
	}

	r.Bluetooth = BluetoothModule{
		Enabled:           NewProperty(false),
		Connected:         NewProperty(false),
		Connecting:        NewProperty(false),
		Discovering:       NewProperty(false),
		PairedDevice:      NewProperty(""),
		DiscoveredDevices: NewProperty([]string{}),
		KnownDevices:      NewProperty([]string{}),
	}

	r.Playback = PlaybackModule{
		Playing:  NewProperty(false),
		Track:    NewProperty(""),
		Position: NewProperty(0.0),
	}

	r.Queue = QueueModule{
		Position: NewProperty(0),
		Size:     NewProperty(0),
		Replay:   NewFilteredProperty(false, acceptAny),
		RepeatTrack: NewFilteredProperty(false, acceptAny),
		Random:   NewFilteredProperty(false, acceptAny),
		Loading:  NewProperty(false),
	}

	r.Volume = VolumeModule{
		CurrentPct: NewFilteredProperty(0, volumePercentFilter),
		CurrentDb:  NewFilteredProperty(0.0, acceptAny),
		LeftBias:   NewFilteredProperty(0.0, leftBiasFilter),
		LimitDb:    NewFilteredProperty(0.0, acceptAny),
	}

	r.Display = DisplayModule{
		Brightness: NewFilteredProperty(50, brightnessFilter),
	}

	r.Controls = ControlsModule{
		Scheme:            NewProperty("wheel"),
		LockSwitch:        NewProperty(false),
		Hooks:             NewProperty(map[string]string{}),
		ScrollSensitivity: NewFilteredProperty(1.0, acceptAny),
	}

	r.Database = DatabaseModule{
		Updating:   NewProperty(false),
		AutoUpdate: NewFilteredProperty(true, acceptAny),
	}

	r.SDCard = SDCardModule{Mounted: NewProperty(false)}

	r.USB = USBModule{
		MscEnabled: NewProperty(false),
		MscBusy:    NewProperty(false),
	}

	return r
}

func acceptAny(old, new any) bool { return true }

func volumePercentFilter(old, new any) bool {
	v, ok := new.(int)
	return ok && v >= 0 && v <= 100
}

func leftBiasFilter(old, new any) bool {
	v, ok := new.(float64)
	return ok && v >= -10 && v <= 10
}

func brightnessFilter(old, new any) bool {
	v, ok := new.(int)
	return ok && v >= 0 && v <= 100
}

// React translates one bus event into the matching module's property
// writes, per §4.6: "Each core event... translates 1:1 to property
// writes." Unrecognised events are ignored.
func (r *Registry) React(event bus.Event) {
	switch ev := event.(type) {
	case bus.BatteryStateChanged:
		r.Power.BatteryPct.SetFromCore(ev.PercentFull)
		r.Power.BatteryMillivolts.SetFromCore(ev.MilliVolts)
		r.Power.PluggedIn.SetFromCore(ev.Charging || ev.FastChargeWired)
		r.Power.FastCharge.SetFromCore(ev.FastChargeWired)
		switch {
		case ev.FastChargeWired:
			r.Power.ChargeState.SetFromCore("fast_charging")
		case ev.Charging:
			r.Power.ChargeState.SetFromCore("charging")
		default:
			r.Power.ChargeState.SetFromCore("discharging")
		}

	case bus.BluetoothEvent:
		r.Bluetooth.Connected.SetFromCore(ev.Connected)
		r.Bluetooth.Connecting.SetFromCore(ev.Connecting)
		r.Bluetooth.Discovering.SetFromCore(ev.Discovering)
		if ev.DeviceMAC != "" {
			r.Bluetooth.PairedDevice.SetFromCore(ev.DeviceMAC)
		}

	case bus.PlaybackUpdate:
		r.Playback.Playing.SetFromCore(ev.Playing)
		r.Playback.Track.SetFromCore(ev.TrackURI)
		r.Playback.Position.SetFromCore(ev.SecondsElapsed)

	case bus.VolumeChanged:
		if ev.CurrentDb != 0 {
			r.Volume.CurrentDb.SetFromCore(ev.CurrentDb)
		}
		if ev.CurrentPc != 0 {
			r.Volume.CurrentPct.SetFromCore(ev.CurrentPc)
		}
		r.Volume.LeftBias.SetFromCore(ev.LeftBias)
		if ev.LimitDb != 0 {
			r.Volume.LimitDb.SetFromCore(ev.LimitDb)
		}

	case bus.QueueUpdate:
		r.Queue.Position.SetFromCore(ev.Position)
		r.Queue.Size.SetFromCore(ev.Size)

	case bus.SdStateChanged:
		r.SDCard.Mounted.SetFromCore(ev.State == bus.SdMounted)

	case bus.SamdUsbMscChanged:
		r.USB.MscEnabled.SetFromCore(ev.Enabled)

	case bus.SamdUsbStatusChanged:
		r.USB.MscBusy.SetFromCore(ev.Attached)

	case bus.KeyLockChanged:
		r.Controls.LockSwitch.SetFromCore(ev.Locked)

	case bus.UpdateFinished:
		r.Database.Updating.SetFromCore(false)
	}
}

// DrainAll calls DrainNotifications on every property, invoking dirty
// subscribers. Called once per UI main-loop turn.
func (r *Registry) DrainAll() {
	for _, p := range r.all() {
		p.DrainNotifications()
	}
}

func (r *Registry) all() []*Property {
	return []*Property{
		r.Power.BatteryPct, r.Power.BatteryMillivolts, r.Power.PluggedIn, r.Power.ChargeState, r.Power.FastCharge,
		r.Bluetooth.Enabled, r.Bluetooth.Connected, r.Bluetooth.Connecting, r.Bluetooth.Discovering,
		r.Bluetooth.PairedDevice, r.Bluetooth.DiscoveredDevices, r.Bluetooth.KnownDevices,
		r.Playback.Playing, r.Playback.Track, r.Playback.Position,
		r.Queue.Position, r.Queue.Size, r.Queue.Replay, r.Queue.RepeatTrack, r.Queue.Random, r.Queue.Loading,
		r.Volume.CurrentPct, r.Volume.CurrentDb, r.Volume.LeftBias, r.Volume.LimitDb,
		r.Display.Brightness,
		r.Controls.Scheme, r.Controls.LockSwitch, r.Controls.Hooks, r.Controls.ScrollSensitivity,
		r.Database.Updating, r.Database.AutoUpdate,
		r.SDCard.Mounted,
		r.USB.MscEnabled, r.USB.MscBusy,
	}
}

// TicksMs implements time.ticks(): milliseconds since the UI FSM booted.
func (r *Registry) TicksMs() int64 {
	return time.Since(r.bootTime).Milliseconds()
}
