package console

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tangara-fw/tangara-go/internal/bus"
	"github.com/tangara-fw/tangara-go/internal/services"
)

type stubUI struct {
	lastFile   string
	lastString string
	fileErr    error
	stringErr  error
	stack      string
}

func (s *stubUI) RunLuaFile(path string) error {
	s.lastFile = path
	return s.fileErr
}

func (s *stubUI) RunLuaString(src string) error {
	s.lastString = src
	return s.stringErr
}

func (s *stubUI) DumpLuaStack() string { return s.stack }

func newTestLocator(t *testing.T) *services.Locator {
	t.Helper()
	dir := t.TempDir()
	locator, err := services.Boot(services.Config{
		NVSPath:     filepath.Join(dir, "nvs"),
		DBPath:      filepath.Join(dir, "db"),
		WorkerCount: 1,
	})
	if err != nil {
		t.Fatalf("services.Boot: %v", err)
	}
	t.Cleanup(func() { locator.Close() })
	return locator
}

func newTestConsole(t *testing.T) (*Console, *stubUI) {
	t.Helper()
	locator := newTestLocator(t)
	router := bus.NewRouter()
	stub := &stubUI{}
	return New(locator, router.AudioDispatcher(), stub), stub
}

func TestRunUnknownCommand(t *testing.T) {
	c, _ := newTestConsole(t)
	var out bytes.Buffer
	code := c.Run("frobnicate", &out)
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(out.String(), "unknown command") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRunEmptyLineIsNoop(t *testing.T) {
	c, _ := newTestConsole(t)
	var out bytes.Buffer
	if code := c.Run("   ", &out); code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output, got %q", out.String())
	}
}

func TestCmdVersionReportsFirmwareAndSchema(t *testing.T) {
	c, _ := newTestConsole(t)
	var out bytes.Buffer
	if code := c.Run("version", &out); code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "firmware-version=") {
		t.Fatalf("output = %q", out.String())
	}
	if !strings.Contains(out.String(), "database-schema=1") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestCmdListDirListsTempDir(t *testing.T) {
	c, _ := newTestConsole(t)
	dir := t.TempDir()
	var out bytes.Buffer
	if code := c.Run("ls "+dir, &out); code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
}

func TestCmdListDirMissingPathFails(t *testing.T) {
	c, _ := newTestConsole(t)
	var out bytes.Buffer
	if code := c.Run("ls /no/such/path/at/all", &out); code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
}

func TestCmdPlayDispatchesSetTrack(t *testing.T) {
	locator := newTestLocator(t)
	router := bus.NewRouter()
	var got bus.Event
	bus.NewDispatcher(router.SystemAndAudio, func(ev bus.Event) { got = ev })
	c := New(locator, router.AudioDispatcher(), &stubUI{})

	var out bytes.Buffer
	if code := c.Run("play song.mp3", &out); code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	router.SystemAndAudio.Service(0)
	st, ok := got.(bus.SetTrack)
	if !ok {
		t.Fatalf("got = %#v, want bus.SetTrack", got)
	}
	if st.NewTrack != "song.mp3" {
		t.Fatalf("NewTrack = %q", st.NewTrack)
	}
}

func TestCmdPlayRequiresArgument(t *testing.T) {
	c, _ := newTestConsole(t)
	var out bytes.Buffer
	if code := c.Run("play", &out); code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
}

func TestCmdDbInitRunsOnWorkerPool(t *testing.T) {
	c, _ := newTestConsole(t)
	var out bytes.Buffer
	if code := c.Run("db_init", &out); code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
}

func TestCmdTasksReportsGoroutineCount(t *testing.T) {
	c, _ := newTestConsole(t)
	var out bytes.Buffer
	if code := c.Run("tasks", &out); code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "goroutines") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestCmdHeapsReportsMemoryStats(t *testing.T) {
	c, _ := newTestConsole(t)
	var out bytes.Buffer
	if code := c.Run("heaps", &out); code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "KiB allocated") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestCmdStacksDelegatesToUI(t *testing.T) {
	c, stub := newTestConsole(t)
	stub.stack = "backstack depth=1 bound properties=0 ([])"
	var out bytes.Buffer
	if code := c.Run("stacks", &out); code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "depth=1") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestCmdBtListReportsNoBluetooth(t *testing.T) {
	locator := newTestLocator(t)
	locator.Bluetooth = nil
	router := bus.NewRouter()
	c := New(locator, router.AudioDispatcher(), &stubUI{})
	var out bytes.Buffer
	if code := c.Run("bt_list", &out); code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
}

func TestCmdSamdRequiresSubcommand(t *testing.T) {
	c, _ := newTestConsole(t)
	var out bytes.Buffer
	if code := c.Run("samd", &out); code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
}

func TestCmdSamdUnknownSubcommandFails(t *testing.T) {
	c, _ := newTestConsole(t)
	var out bytes.Buffer
	if code := c.Run("samd bogus", &out); code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
}

func TestCmdSamdRequiresCompanion(t *testing.T) {
	c, _ := newTestConsole(t)
	var out bytes.Buffer
	if code := c.Run("samd off", &out); code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
}

func TestCmdHapticEffectDefaultsToFullRange(t *testing.T) {
	c, _ := newTestConsole(t)
	var out bytes.Buffer
	if code := c.Run("haptic_effect", &out); code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
}

func TestCmdHapticEffectRejectsNonNumericRange(t *testing.T) {
	c, _ := newTestConsole(t)
	var out bytes.Buffer
	if code := c.Run("haptic_effect a b", &out); code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
}

func TestCmdLuaNoArgsRunsReplGreeting(t *testing.T) {
	c, stub := newTestConsole(t)
	var out bytes.Buffer
	if code := c.Run("lua", &out); code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	if !strings.Contains(stub.lastString, "lua console ready") {
		t.Fatalf("lastString = %q", stub.lastString)
	}
}

func TestCmdLuaWithScriptPathRunsFile(t *testing.T) {
	c, stub := newTestConsole(t)
	var out bytes.Buffer
	if code := c.Run("lua boot.lua", &out); code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	if stub.lastFile != "boot.lua" {
		t.Fatalf("lastFile = %q", stub.lastFile)
	}
}

func TestCmdLuaReportsMissingUI(t *testing.T) {
	locator := newTestLocator(t)
	router := bus.NewRouter()
	c := New(locator, router.AudioDispatcher(), nil)
	var out bytes.Buffer
	if code := c.Run("lua", &out); code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
}

func TestServeRunsMultipleLinesAndReportsExitCodes(t *testing.T) {
	c, _ := newTestConsole(t)
	var out bytes.Buffer
	in := strings.NewReader("version\nbogus\n")
	c.Serve(in, &out)
	lines := out.String()
	if !strings.Contains(lines, "ok 0") {
		t.Fatalf("output missing ok line: %q", lines)
	}
	if !strings.Contains(lines, "err 1 bogus") {
		t.Fatalf("output missing err line: %q", lines)
	}
}

func TestNewSessionIDIsUnique(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()
	if a == b {
		t.Fatalf("expected distinct session ids, got %q twice", a)
	}
}
