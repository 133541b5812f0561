// Command tangarad is the device's real entrypoint: it wires the
// ServiceLocator, the three FSMs (System, Audio, UI) and the debug
// console together exactly as original_source/src/tangara/main.cc wires
// its tinyfsm instances and app_console, adapted to harperreed-resonate-go's
// flag-parsing and charmbracelet/log setup style (internal/app's former
// main.go, now superseded).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/log"
	"periph.io/x/host/v3"

	"github.com/tangara-fw/tangara-go/internal/audiofsm"
	"github.com/tangara-fw/tangara-go/internal/bus"
	"github.com/tangara-fw/tangara-go/internal/console"
	"github.com/tangara-fw/tangara-go/internal/drivers"
	"github.com/tangara-fw/tangara-go/internal/services"
	"github.com/tangara-fw/tangara-go/internal/system"
	"github.com/tangara-fw/tangara-go/internal/ui"
)

func main() {
	var (
		libraryRoot   = flag.String("library", ".", "root directory of the music library")
		dataDir       = flag.String("data-dir", ".tangara", "directory for NVS/database state")
		companionPort = flag.String("companion-port", "", "serial device for the companion MCU (disabled if empty)")
		companionBaud = flag.Int("companion-baud", 115200, "companion MCU serial baud rate")
		workerCount   = flag.Int("workers", 2, "background worker pool size")
		scriptPath    = flag.String("script", "", "lua script to run on boot, relative to -library")
		debug         = flag.Bool("debug", false, "enable debug logging")
		headless      = flag.Bool("headless", false, "run without the terminal UI, servicing only the console")
	)
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if *debug {
		logger.SetLevel(log.DebugLevel)
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatal("create data dir", "err", err)
	}

	var gpioExpander *drivers.GPIOExpander
	if _, err := host.Init(); err != nil {
		logger.Warn("periph host init failed, GPIO lines unavailable", "err", err)
	} else {
		gpioExpander = drivers.OpenGPIOExpander()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	resolvedScript := ""
	if *scriptPath != "" {
		resolvedScript = filepath.Join(*libraryRoot, *scriptPath)
	}

	router := bus.NewRouter()
	sys := system.New(router, logger)
	audiofsm.New(router, logger) // binds its react onto the shared queue; driven by sys.Run
	userInterface := ui.New(router, logger, resolvedScript)

	cfg := services.Config{
		NVSPath:       *dataDir + "/nvs",
		DBPath:        *dataDir + "/db",
		CompanionPort: *companionPort,
		CompanionBaud: *companionBaud,
		GPIO:          gpioExpander,
		WorkerCount:   *workerCount,
	}
	if err := sys.Boot(ctx, cfg); err != nil {
		logger.Fatal("boot failed", "err", err)
	}

	go sys.Run(ctx)
	if !*headless {
		go userInterface.Run(ctx)
	}

	cons := console.New(sys.Locator(), router.AudioDispatcher(), userInterface)
	sessionID := console.NewSessionID()
	logger.Info("console session starting", "session", sessionID, "library", *libraryRoot)

	consoleDone := make(chan struct{})
	go func() {
		defer close(consoleDone)
		cons.Serve(os.Stdin, os.Stdout)
	}()

	if *headless {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down")
		return
	}

	if err := ui.RunTUI(ctx, userInterface); err != nil {
		logger.Error("ui exited with error", "err", err)
	}
	cancel()
	<-consoleDone
}
