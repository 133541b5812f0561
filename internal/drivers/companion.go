package drivers

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Companion wraps the line-oriented command/response protocol exposed by
// the auxiliary microcontroller responsible for power path, charging,
// USB mass storage and hardware-reset logic, over a serial transport —
// grounded on brianhealey-ampli-pi4's use of go.bug.st/serial for its
// companion-device link.
type Companion struct {
	mu   sync.Mutex
	port serial.Port
	r    *bufio.Reader
}

// OpenCompanion opens the serial port at devicePath for companion-MCU
// communication.
func OpenCompanion(devicePath string, baud int) (*Companion, error) {
	mode := &serial.Mode{BaudRate: baud}
	port, err := serial.Open(devicePath, mode)
	if err != nil {
		return nil, fmt.Errorf("drivers: open companion serial port: %w", err)
	}
	return &Companion{port: port, r: bufio.NewReader(port)}, nil
}

func (c *Companion) command(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.port.Write([]byte(cmd + "\n")); err != nil {
		return "", err
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ChargeStatus reports whether the device is charging, discharging, and
// whether a fast-charge-capable cable is attached.
type ChargeStatus struct {
	Charging     bool
	Discharging  bool
	FastCharge   bool
	PercentFull  int
	MilliVolts   int
}

// QueryCharge polls the companion MCU's CHG? command.
func (c *Companion) QueryCharge() (ChargeStatus, error) {
	resp, err := c.command("CHG?")
	if err != nil {
		return ChargeStatus{}, err
	}
	var cs ChargeStatus
	var charging, discharging, fast int
	fmt.Sscanf(resp, "%d %d %d %d %d", &charging, &discharging, &fast, &cs.PercentFull, &cs.MilliVolts)
	cs.Charging = charging != 0
	cs.Discharging = discharging != 0
	cs.FastCharge = fast != 0
	return cs, nil
}

// UsbMassStorage tells the companion MCU to take (enabled=true) or
// release (enabled=false) ownership of the SD card's USB-MSC bus.
func (c *Companion) UsbMassStorage(enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	_, err := c.command(fmt.Sprintf("USB %d", v))
	return err
}

// PowerDown repeatedly tells the companion MCU to cut power, retrying
// every second until it takes effect — this guards against
// companion-firmware glitches, per §4.2's Idle-shutdown description. It
// never returns unless ctx is cancelled, since shutdown is not
// cancellable from within the firmware (§5).
func (c *Companion) PowerDown(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		// A failed command is retried on the next tick like any other.
		c.command("PWR 0")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Version queries the companion MCU's firmware version, backing the
// console's `version` command (original_source's
// AppConsole::sServices->samd().Version()).
func (c *Companion) Version() (string, error) {
	return c.command("VER?")
}

// ResetToFlashSamd reboots the companion MCU into its bootloader for
// firmware flashing, backing the console's `samd flash` subcommand.
func (c *Companion) ResetToFlashSamd() error {
	_, err := c.command("RST FLASH")
	return err
}

// Close releases the serial port.
func (c *Companion) Close() error { return c.port.Close() }
