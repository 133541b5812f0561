// Package services defines the ServiceLocator: an immutable-after-boot
// container of every peripheral and storage handle the FSMs need,
// constructed once during the Booting state and then passed by pointer
// to System, Audio and UI. Grounded on harperreed-resonate-go's
// internal/app wiring, which builds its dependency graph once in main
// and threads it through by struct field rather than a DI framework.
package services

import (
	"fmt"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/tangara-fw/tangara-go/internal/db"
	"github.com/tangara-fw/tangara-go/internal/drivers"
	"github.com/tangara-fw/tangara-go/internal/nvs"
	"github.com/tangara-fw/tangara-go/internal/queue"
	"github.com/tangara-fw/tangara-go/internal/tags"
	"github.com/tangara-fw/tangara-go/internal/worker"
)

// Locator holds every service the FSMs depend on. Fields are populated
// once during Boot and never reassigned afterward; concurrent access to
// the fields themselves is safe because they are read-only references —
// each referenced type handles its own internal locking.
type Locator struct {
	GPIO       *drivers.GPIOExpander
	Companion  *drivers.Companion
	NVS        *nvs.Store
	Bluetooth  *drivers.BluetoothRadio
	Battery    *drivers.Battery
	Touchwheel *drivers.Touchwheel
	DB         *db.Store
	TagParser  *tags.Parser
	Collator   *collate.Collator
	TrackQueue *queue.Queue
	Workers    *worker.Pool
	SD         *drivers.SDState
	TTS        tags.TTSProvider
	Haptics    drivers.Haptics
}

// Config carries the filesystem paths and hardware handles Boot needs to
// construct a Locator. GPIO is supplied pre-constructed since its pin
// set is board-specific (periph.io host initialisation happens in
// cmd/tangarad before Boot is called).
type Config struct {
	NVSPath       string
	DBPath        string
	CompanionPort string
	CompanionBaud int
	GPIO          *drivers.GPIOExpander
	WorkerCount   int
}

// Boot constructs every service in dependency order: storage first (NVS,
// DB), then peripheral drivers, then the higher-level track queue and
// worker pool, matching the order running.cpp's Booting state brings
// drivers up in before broadcasting BootComplete.
func Boot(cfg Config) (*Locator, error) {
	nvsStore, err := nvs.Open(cfg.NVSPath)
	if err != nil {
		return nil, fmt.Errorf("services: open nvs: %w", err)
	}

	dbStore, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("services: open db: %w", err)
	}

	var companion *drivers.Companion
	if cfg.CompanionPort != "" {
		companion, err = drivers.OpenCompanion(cfg.CompanionPort, cfg.CompanionBaud)
		if err != nil {
			return nil, fmt.Errorf("services: open companion: %w", err)
		}
	}

	bt, err := drivers.NewBluetoothRadio()
	if err != nil {
		bt = nil
	}

	l := &Locator{
		GPIO:       cfg.GPIO,
		Companion:  companion,
		NVS:        nvsStore,
		Bluetooth:  bt,
		Battery:    drivers.NewBattery(),
		Touchwheel: drivers.NewTouchwheel(),
		DB:         dbStore,
		TagParser:  tags.NewParser(),
		Collator:   collate.New(language.English),
		TrackQueue: queue.New(),
		Workers:    worker.New(cfg.WorkerCount),
		SD:         drivers.NewSDState(),
		TTS:        tags.NoopTTS{},
		Haptics:    drivers.NoopHaptics{},
	}
	return l, nil
}

// Close releases every resource the Locator owns. Order is the reverse
// of Boot.
func (l *Locator) Close() error {
	l.Workers.Close()
	if l.Bluetooth != nil {
		l.Bluetooth.Close()
	}
	if l.Companion != nil {
		l.Companion.Close()
	}
	if err := l.DB.Close(); err != nil {
		return err
	}
	return l.NVS.Close()
}
