package system

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/tangara-fw/tangara-go/internal/bus"
	"github.com/tangara-fw/tangara-go/internal/services"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

func newTestSystem(t *testing.T) (*System, *bus.Router) {
	t.Helper()
	router := bus.NewRouter()
	s := New(router, testLogger())
	dir := t.TempDir()
	ctx := context.Background()
	if err := s.Boot(ctx, services.Config{
		NVSPath: filepath.Join(dir, "nvs"),
		DBPath:  filepath.Join(dir, "db"),
	}); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	return s, router
}

func TestBootTransitionsToRunningWithoutKeyLock(t *testing.T) {
	s, _ := newTestSystem(t)
	if s.State() != StateRunning {
		t.Fatalf("state = %v, want running", s.State())
	}
}

func TestKeyLockChangedEntersAndExitsIdle(t *testing.T) {
	s, _ := newTestSystem(t)

	s.react(bus.KeyLockChanged{Locked: true})
	if s.State() != StateIdle {
		t.Fatalf("state = %v, want idle", s.State())
	}

	s.react(bus.KeyLockChanged{Locked: false})
	if s.State() != StateRunning {
		t.Fatalf("state = %v, want running", s.State())
	}
}

func TestUnmountTimeoutMarksSdUnmounted(t *testing.T) {
	s, _ := newTestSystem(t)

	s.react(bus.UnmountTimeout{})

	if s.locator.SD.Mounted() {
		t.Fatal("expected SD to be unmounted after UnmountTimeout")
	}
}
