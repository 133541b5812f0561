package drivers

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/tangara-fw/tangara-go/internal/pipeline"
)

// BluetoothRadio is a BlueZ org.bluez client over D-Bus, grounded on
// brianhealey-ampli-pi4's BluetoothStream, which polls a MediaPlayer1
// object for AVRCP metadata every few seconds. It implements
// pipeline.BluetoothRadio so the Bluetooth sink can attach/detach its
// drain buffer as the active A2DP source.
type BluetoothRadio struct {
	mu     sync.Mutex
	conn   *dbus.Conn
	device dbus.ObjectPath

	connected   bool
	connecting  bool
	discovering bool
	pairedMAC   string

	onEvent func(connected bool, mac, name string)

	stopPolling chan struct{}
	stopSource  chan struct{}

	known []BluetoothDevice
}

// BluetoothDevice is one entry in the known/discovered device list,
// backing the console's `bt_list` command.
type BluetoothDevice struct {
	Address        string
	Name           string
	SignalStrength int // RSSI, dBm
}

// NewBluetoothRadio connects to the system D-Bus bus used by BlueZ.
func NewBluetoothRadio() (*BluetoothRadio, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("drivers: connect system bus: %w", err)
	}
	return &BluetoothRadio{conn: conn}, nil
}

// SetEventHandler installs a callback invoked whenever the connection
// state changes, used by the Audio FSM to react(BluetoothEvent).
func (r *BluetoothRadio) SetEventHandler(fn func(connected bool, mac, name string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvent = fn
}

// bluetoothPumpChunkSamples is the per-write sample count the drain
// goroutine reads from the PcmBuffer, matching a typical A2DP SBC
// encoder's PCM input frame size closely enough to pace writes sensibly
// at the sink's fixed 48kHz/2ch format.
const bluetoothPumpChunkSamples = 1024

// AttachSource implements pipeline.BluetoothRadio: it acquires BlueZ's
// MediaTransport1 file descriptor for the connected device (mirroring
// brianhealey-ampli-pi4's BluetoothStream, which hands A2DP audio off to
// bluealsa over a similar transport boundary) and starts a goroutine that
// continuously drains the PcmBuffer into it. If no transport fd can be
// acquired — no device connected, or the Acquire call fails — the
// goroutine still runs, draining into io.Discard, so the Sample
// Converter's sink.Drain().Send never wedges against a sink whose radio
// isn't actually reachable. The SBC encode step BlueZ's media transport
// expects is out of scope per §1 (codec/driver internals); this is the
// pipeline-side half of §4.4.1's "an ISR or Bluetooth callback drains it
// to hardware" for the Bluetooth sink.
func (r *BluetoothRadio) AttachSource(drain *pipeline.PcmBuffer) error {
	r.mu.Lock()
	r.connecting = true
	device := r.device
	conn := r.conn
	r.mu.Unlock()

	var w io.Writer = io.Discard
	if device != "" && conn != nil {
		obj := conn.Object("org.bluez", device)
		var fd dbus.UnixFD
		var readMTU, writeMTU uint16
		if err := obj.Call("org.bluez.MediaTransport1.Acquire", 0).Store(&fd, &readMTU, &writeMTU); err == nil {
			w = os.NewFile(uintptr(fd), "bluez-media-transport")
		}
	}

	stop := make(chan struct{})
	r.mu.Lock()
	r.stopSource = stop
	r.mu.Unlock()

	go pumpBluetoothDrain(drain, w, stop)
	return nil
}

// DetachSource implements pipeline.BluetoothRadio.
func (r *BluetoothRadio) DetachSource() error {
	r.mu.Lock()
	r.connecting = false
	stop := r.stopSource
	r.stopSource = nil
	r.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	return nil
}

// pumpBluetoothDrain drains drain into w at the Bluetooth sink's fixed
// 48kHz/2ch rate. Unlike the I2S sink's pipe-backed pump, w may be
// io.Discard (no writer ever blocks), so pacing comes from an explicit
// ticker rather than from backpressure on w itself.
func pumpBluetoothDrain(drain *pipeline.PcmBuffer, w io.Writer, stop <-chan struct{}) {
	buf := make([]int16, bluetoothPumpChunkSamples)
	raw := make([]byte, len(buf)*2)
	samplesPerSecond := pipeline.FixedBluetoothFormat.SampleRate * pipeline.FixedBluetoothFormat.Channels
	interval := time.Second * time.Duration(len(buf)) / time.Duration(samplesPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			drain.Receive(buf, false, false)
			for i, v := range buf {
				binary.LittleEndian.PutUint16(raw[i*2:], uint16(v))
			}
			w.Write(raw)
		}
	}
}

// SetRemoteVolumePercent exchanges the AVRCP absolute-volume value with
// the connected remote, via the device's org.bluez.MediaPlayer1
// SetProperty("Volume") call on a 0-127 scale.
func (r *BluetoothRadio) SetRemoteVolumePercent(pct int) {
	r.mu.Lock()
	device := r.device
	conn := r.conn
	r.mu.Unlock()
	if device == "" || conn == nil {
		return
	}
	obj := conn.Object("org.bluez", device)
	obj.Call("org.bluez.MediaPlayer1.SetProperty", 0, "Volume", uint16(pct*127/100))
}

// KnownDevices returns the radio's discovered/paired device list, backing
// the console's `bt_list` command.
func (r *BluetoothRadio) KnownDevices() []BluetoothDevice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]BluetoothDevice, len(r.known))
	copy(out, r.known)
	return out
}

// SetPreferredDevice marks address as the device to auto-connect to,
// backing `bt_list <index>`'s connect action.
func (r *BluetoothRadio) SetPreferredDevice(address string) {
	r.mu.Lock()
	r.pairedMAC = address
	r.mu.Unlock()
}

// pollMetadata mirrors ampli-pi4's pollBluetoothMetadata goroutine: every
// few seconds, read the MediaPlayer1 object's Track property off D-Bus.
func (r *BluetoothRadio) pollMetadata(stop <-chan struct{}) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			device := r.device
			conn := r.conn
			r.mu.Unlock()
			if device == "" {
				continue
			}
			obj := conn.Object("org.bluez", device)
			var variant dbus.Variant
			if err := obj.Call("org.freedesktop.DBus.Properties.Get", 0,
				"org.bluez.MediaPlayer1", "Track").Store(&variant); err != nil {
				continue
			}
		}
	}
}

// Close releases the D-Bus connection and stops the metadata poller and
// any running drain-source goroutine.
func (r *BluetoothRadio) Close() error {
	r.mu.Lock()
	if r.stopPolling != nil {
		close(r.stopPolling)
	}
	if r.stopSource != nil {
		close(r.stopSource)
		r.stopSource = nil
	}
	r.mu.Unlock()
	return r.conn.Close()
}
