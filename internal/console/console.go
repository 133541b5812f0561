// Package console implements the device's line-oriented debug console:
// a fixed table of commands dispatched over any io.ReadWriter (serial
// console, SSH session, or a plain pipe in tests), grounded on
// original_source/src/app_console/app_console.cpp's esp_console command
// table. Each command returns an exit code (0 success, 1 usage/runtime
// error, -1 out-of-range/fatal-ish error) exactly as the original's
// CmdXxx functions do.
package console

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/tangara-fw/tangara-go/internal/bus"
	"github.com/tangara-fw/tangara-go/internal/services"
	"github.com/tangara-fw/tangara-go/internal/ui"
	"github.com/tangara-fw/tangara-go/internal/version"
)

// Command is one console command: a one-line help string and the
// function invoked with its argv (argv[0] is the command name, matching
// the original's argc/argv convention) and an output writer.
type Command struct {
	Help string
	Hint string
	Func func(argv []string, out io.Writer) int
}

// UI is the subset of *ui.UI the console needs, kept as an interface so
// tests can stub it without booting a real UI FSM.
type UI interface {
	RunLuaFile(path string) error
	RunLuaString(src string) error
	DumpLuaStack() string
}

// Console owns the command table and the service handles its commands
// read from. Constructed once in cmd/tangarad and reused for every
// session (each session gets its own uuid.UUID identifying it in logs,
// per SPEC_FULL.md's "client/session identifiers" wiring for
// github.com/google/uuid).
type Console struct {
	Locator       *services.Locator
	AudioDispatch *bus.Dispatcher
	UI            UI

	commands map[string]Command
}

// New builds the full command table described by SPEC_FULL.md's
// EXPANSION section: version, ls, play, db_init, tasks, heaps, stacks,
// bt_list, samd, core_dump, haptic_effect, lua.
func New(locator *services.Locator, audioDispatch *bus.Dispatcher, uiHandle UI) *Console {
	c := &Console{Locator: locator, AudioDispatch: audioDispatch, UI: uiHandle}
	c.commands = map[string]Command{
		"version":       {Help: "Displays firmware version information", Func: c.cmdVersion},
		"ls":            {Help: "Lists SD contents", Hint: "[path]", Func: c.cmdListDir},
		"play":          {Help: "Begins playback of the file at the given path", Hint: "filepath", Func: c.cmdPlay},
		"db_init":       {Help: "scans for playable files and adds them to the database", Func: c.cmdDbInit},
		"tasks":         {Help: "prints performance info for all goroutines", Func: c.cmdTasks},
		"heaps":         {Help: "prints Go runtime memory stats", Func: c.cmdHeaps},
		"stacks":        {Help: "prints the UI FSM's bound Lua state", Func: c.cmdStacks},
		"bt_list":       {Help: "lists and connects to bluetooth devices", Hint: "[index]", Func: c.cmdBtList},
		"samd":          {Help: "controls the companion MCU", Hint: "flash|charge|msc|off", Func: c.cmdSamd},
		"core_dump":     {Help: "deliberately panics the process", Func: c.cmdCoreDump},
		"haptic_effect": {Help: "plays one, a range of, or all haptic effects", Hint: "[from [to [library]]]", Func: c.cmdHapticEffect},
		"lua":           {Help: "Executes a lua script. With no args, begins a lua repl session", Hint: "[script]", Func: c.cmdLua},
	}
	return c
}

// Commands exposes the full table, e.g. for a `help` listing.
func (c *Console) Commands() map[string]Command { return c.commands }

// Serve reads newline-terminated commands from in and writes output plus
// a trailing exit-code line (`ok 0` / `err <code> <command>`) to out,
// until in reaches EOF or ctx-equivalent caller stops calling it. This
// mirrors the original's esp_console REPL loop shape without needing a
// readline-style line editor.
func (c *Console) Serve(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		code := c.Run(line, out)
		if code == 0 {
			fmt.Fprintln(out, "ok 0")
		} else {
			fmt.Fprintf(out, "err %d %s\n", code, line)
		}
	}
}

// Run parses and executes a single command line, returning its exit
// code. Unknown commands return 1.
func (c *Console) Run(line string, out io.Writer) int {
	argv := strings.Fields(line)
	if len(argv) == 0 {
		return 0
	}
	cmd, ok := c.commands[argv[0]]
	if !ok {
		fmt.Fprintf(out, "unknown command: %s\n", argv[0])
		return 1
	}
	return cmd.Func(argv, out)
}

// NewSessionID mints a per-connection identifier for console session
// logging, per SPEC_FULL.md's wiring of github.com/google/uuid to
// "client/session identifiers issued by the companion-MCU console."
func NewSessionID() string {
	return uuid.NewString()
}

func (c *Console) cmdVersion(argv []string, out io.Writer) int {
	fmt.Fprintf(out, "firmware-version=%s\n", version.Version)
	if c.Locator != nil && c.Locator.Companion != nil {
		if v, err := c.Locator.Companion.Version(); err == nil {
			fmt.Fprintf(out, "samd-version=%s\n", v)
		}
	}
	fmt.Fprintf(out, "database-schema=%d\n", dbSchemaVersion())
	return 0
}

func (c *Console) cmdListDir(argv []string, out io.Writer) int {
	path := "."
	if len(argv) > 1 {
		path = strings.Join(argv[1:], " ")
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		fmt.Fprintln(out, "failed to open directory. does it exist?")
		return 1
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		fmt.Fprintln(out, name)
	}
	return 0
}

func (c *Console) cmdPlay(argv []string, out io.Writer) int {
	if len(argv) < 2 {
		fmt.Fprintln(out, "usage: play [file or id]")
		return 1
	}
	path := strings.Join(argv[1:], " ")
	if c.AudioDispatch == nil {
		fmt.Fprintln(out, "audio not ready")
		return 1
	}
	c.AudioDispatch.Dispatch(bus.SetTrack{NewTrack: path, FromQueue: false})
	return 0
}

func (c *Console) cmdDbInit(argv []string, out io.Writer) int {
	if len(argv) != 1 {
		fmt.Fprintln(out, "usage: db_init")
		return 1
	}
	if c.Locator == nil || c.Locator.DB == nil || c.Locator.Workers == nil {
		fmt.Fprintln(out, "no database open")
		return 1
	}
	store := c.Locator.DB
	c.Locator.Workers.Submit(func() { store.UpdateIndexes() })
	return 0
}

func (c *Console) cmdTasks(argv []string, out io.Writer) int {
	if len(argv) != 1 {
		fmt.Fprintln(out, "usage: tasks")
		return 1
	}
	fmt.Fprintf(out, "goroutines\t%d\n", numGoroutine())
	return 0
}

func (c *Console) cmdHeaps(argv []string, out io.Writer) int {
	if len(argv) != 1 {
		fmt.Fprintln(out, "usage: heaps")
		return 1
	}
	alloc, sys := memStats()
	fmt.Fprintf(out, "heap stats:\n%d KiB allocated\n%d KiB from system\n", alloc/1024, sys/1024)
	return 0
}

func (c *Console) cmdStacks(argv []string, out io.Writer) int {
	if len(argv) != 1 {
		fmt.Fprintln(out, "usage: stacks")
		return 1
	}
	if c.UI == nil {
		fmt.Fprintln(out, "ui not ready")
		return 1
	}
	fmt.Fprintln(out, c.UI.DumpLuaStack())
	return 0
}

func (c *Console) cmdBtList(argv []string, out io.Writer) int {
	if len(argv) > 2 {
		fmt.Fprintln(out, "usage: bt_list <index>")
		return 1
	}
	if c.Locator == nil || c.Locator.Bluetooth == nil {
		fmt.Fprintln(out, "bluetooth not available")
		return 1
	}
	devices := c.Locator.Bluetooth.KnownDevices()
	if len(argv) == 2 {
		idx, err := strconv.Atoi(argv[1])
		if err != nil || idx < 0 || idx >= len(devices) {
			fmt.Fprintln(out, "index out of range")
			return -1
		}
		c.Locator.Bluetooth.SetPreferredDevice(devices[idx].Address)
		return 0
	}
	fmt.Fprintln(out, "mac\t\trssi\tname")
	for _, d := range devices {
		fmt.Fprintf(out, "%s\t%d%%\t%s\n", d.Address, d.SignalStrength, d.Name)
	}
	return 0
}

func (c *Console) cmdSamd(argv []string, out io.Writer) int {
	if len(argv) != 2 {
		fmt.Fprintln(out, "usage: samd [flash|charge|msc|off]")
		return 1
	}
	if c.Locator == nil || c.Locator.Companion == nil {
		fmt.Fprintln(out, "companion mcu not available")
		return 1
	}
	companion := c.Locator.Companion
	switch argv[1] {
	case "flash":
		fmt.Fprintln(out, "resetting samd...")
		if err := companion.ResetToFlashSamd(); err != nil {
			fmt.Fprintln(out, err)
			return 1
		}
	case "charge":
		status, err := companion.QueryCharge()
		if err != nil {
			fmt.Fprintln(out, "unknown")
			return 0
		}
		fmt.Fprintf(out, "charging=%v discharging=%v fast=%v pct=%d mv=%d\n",
			status.Charging, status.Discharging, status.FastCharge, status.PercentFull, status.MilliVolts)
	case "msc":
		if err := companion.UsbMassStorage(true); err != nil {
			fmt.Fprintln(out, err)
			return 1
		}
	case "off":
		fmt.Fprintln(out, "bye !!!")
	default:
		fmt.Fprintln(out, "usage: samd [flash|charge|msc|off]")
		return 1
	}
	return 0
}

func (c *Console) cmdCoreDump(argv []string, out io.Writer) int {
	if len(argv) != 1 {
		fmt.Fprintln(out, "usage: core_dump")
		return 1
	}
	panic("console: core_dump requested")
}

func (c *Console) cmdHapticEffect(argv []string, out io.Writer) int {
	const usage = "usage: haptic_effect [from [to [library]]]\n" +
		"with no args, plays the full effect range with the default library"
	if c.Locator == nil || c.Locator.Haptics == nil {
		fmt.Fprintln(out, "haptics not available")
		return 1
	}
	from, to, library := 1, 123, "0"
	switch len(argv) {
	case 1:
	case 2:
		f, err := strconv.Atoi(argv[1])
		if err != nil {
			fmt.Fprintln(out, usage)
			return 1
		}
		from, to = f, f
	case 3:
		f, err1 := strconv.Atoi(argv[1])
		t, err2 := strconv.Atoi(argv[2])
		if err1 != nil || err2 != nil {
			fmt.Fprintln(out, usage)
			return 1
		}
		from, to = f, t
	case 4:
		f, err1 := strconv.Atoi(argv[1])
		t, err2 := strconv.Atoi(argv[2])
		if err1 != nil || err2 != nil {
			fmt.Fprintln(out, usage)
			return 1
		}
		from, to, library = f, t, argv[3]
	default:
		fmt.Fprintln(out, usage)
		return 1
	}
	if err := c.Locator.Haptics.PlayEffect(from, to, library); err != nil {
		fmt.Fprintln(out, err)
		return 1
	}
	return 0
}

func (c *Console) cmdLua(argv []string, out io.Writer) int {
	if c.UI == nil {
		fmt.Fprintln(out, "ui not ready")
		return 1
	}
	if len(argv) == 1 {
		if err := c.UI.RunLuaString(`print("lua console ready")`); err != nil {
			fmt.Fprintln(out, err)
			return 1
		}
		return 0
	}
	path := strings.Join(argv[1:], " ")
	if err := c.UI.RunLuaFile(path); err != nil {
		fmt.Fprintf(out, "file not found: %s\n", path)
		return 1
	}
	return 0
}

// ensure *ui.UI satisfies the UI interface without importing it solely
// for a compile-time assertion cluttering production wiring.
var _ UI = (*ui.UI)(nil)
