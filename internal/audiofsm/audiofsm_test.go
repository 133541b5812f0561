package audiofsm

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/tangara-fw/tangara-go/internal/bus"
	"github.com/tangara-fw/tangara-go/internal/db"
	"github.com/tangara-fw/tangara-go/internal/nvs"
	"github.com/tangara-fw/tangara-go/internal/pipeline"
	"github.com/tangara-fw/tangara-go/internal/queue"
	"github.com/tangara-fw/tangara-go/internal/services"
	"github.com/tangara-fw/tangara-go/internal/tags"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

// newTestAudio boots a ServiceLocator with no GPIO/Companion/Bluetooth
// hardware attached (the unit-test equivalent of a headless boot) and
// drives the Audio FSM's BootComplete handler directly, mirroring
// internal/system's newTestSystem helper.
func newTestAudio(t *testing.T) (*Audio, *bus.Router) {
	t.Helper()
	router := bus.NewRouter()
	a := New(router, testLogger())

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

	a.reactBootComplete(bus.BootComplete{Services: locator})
	return a, router
}

func TestBootCompleteEntersStandby(t *testing.T) {
	a, _ := newTestAudio(t)
	if a.State() != StateStandby {
		t.Fatalf("state = %v, want standby", a.State())
	}
	if a.i2sSink == nil {
		t.Fatal("expected i2s sink to be constructed")
	}
	if a.activeSink != pipeline.Sink(a.i2sSink) {
		t.Fatal("expected headphones to be the default active sink")
	}
	if a.btSink != nil {
		t.Fatal("expected no bluetooth sink without a radio driver")
	}
}

func TestSetTrackToSilenceEntersStandby(t *testing.T) {
	a, _ := newTestAudio(t)
	a.currentTrack = nil

	a.reactSetTrack(bus.SetTrack{NewTrack: ""})

	if a.currentTrack != nil {
		t.Fatal("expected current track to be cleared")
	}
	if a.State() != StateStandby {
		t.Fatalf("state = %v, want standby", a.State())
	}
}

func TestSetTrackHardCutClearsCurrentTrack(t *testing.T) {
	a, _ := newTestAudio(t)
	offset := 0.0
	a.currentTrack = trackInfo("previous.mp3", offset)
	a.currentSamples = 12345
	a.currentFromQueue = true

	a.reactSetTrack(bus.SetTrack{NewTrack: "next.mp3", Transition: bus.HardCut})

	if a.currentTrack != nil {
		t.Fatal("hard cut should clear the current track immediately")
	}
	if a.currentSamples != 0 {
		t.Fatalf("currentSamples = %d, want 0", a.currentSamples)
	}
	if a.pendingNextURI != "next.mp3" {
		t.Fatalf("pendingNextURI = %q, want next.mp3", a.pendingNextURI)
	}
}

func TestGaplessCueCrossingPromotesNextTrack(t *testing.T) {
	a, _ := newTestAudio(t)
	a.drainFormat = pipeline.Format{SampleRate: 48000, Channels: 2, BitsPerSample: 16}
	a.haveDrainFmt = true
	a.currentSamples = 0

	a.pendingNextURI = "second.mp3"
	a.pendingNextFromQueue = true
	a.reactStreamStarted(bus.StreamStarted{TrackURI: "second.mp3"})

	if a.nextTrack == nil || a.nextTrack.URI != "second.mp3" {
		t.Fatalf("expected next track to be staged, got %+v", a.nextTrack)
	}
	if a.nextTrackCue != drainLatencySamples/2 {
		t.Fatalf("nextTrackCue = %d, want %d", a.nextTrackCue, drainLatencySamples/2)
	}

	a.reactStreamUpdate(bus.StreamUpdate{SamplesSunk: drainLatencySamples})

	if a.currentTrack == nil || a.currentTrack.URI != "second.mp3" {
		t.Fatalf("expected second.mp3 to be promoted, got %+v", a.currentTrack)
	}
	if a.nextTrack != nil {
		t.Fatal("expected next track to be cleared after promotion")
	}
	if a.currentSamples != drainLatencySamples/2 {
		t.Fatalf("currentSamples = %d, want %d", a.currentSamples, drainLatencySamples/2)
	}
}

func TestStreamEndedAdvancesQueueWhenFromQueue(t *testing.T) {
	a, _ := newTestAudio(t)
	q := queue.New()
	q.Append(queue.Item{URI: "a.mp3"}, queue.Item{URI: "b.mp3"})
	a.locator.TrackQueue = q
	a.currentFromQueue = true

	a.reactStreamEnded(bus.StreamEnded{})

	if got, ok := q.Current(); !ok || got.URI != "b.mp3" {
		t.Fatalf("queue did not advance: %+v, ok=%v", got, ok)
	}
}

func TestStreamEndedFallsSilentWhenNotFromQueue(t *testing.T) {
	a, _ := newTestAudio(t)
	offset := 0.0
	a.currentTrack = trackInfo("solo.mp3", offset)
	a.currentFromQueue = false

	a.reactStreamEnded(bus.StreamEnded{})

	if a.currentTrack != nil {
		t.Fatal("expected current track to be cleared once playback with no queue ends")
	}
}

func TestQueueUpdateExplicitIsHardCut(t *testing.T) {
	a, _ := newTestAudio(t)
	q := queue.New()
	q.Append(queue.Item{URI: "one.mp3"})
	a.locator.TrackQueue = q

	a.reactQueueUpdate(bus.QueueUpdate{Reason: bus.QueueExplicitUpdate})

	if a.pendingNextURI != "one.mp3" {
		t.Fatalf("pendingNextURI = %q, want one.mp3", a.pendingNextURI)
	}
	if !a.pendingNextFromQueue {
		t.Fatal("expected from_queue to be set for a queue-originated track")
	}
}

func TestQueueUpdateDeserialisedIsIgnored(t *testing.T) {
	a, _ := newTestAudio(t)
	a.pendingNextURI = "untouched.mp3"

	a.reactQueueUpdate(bus.QueueUpdate{Reason: bus.QueueDeserialised})

	if a.pendingNextURI != "untouched.mp3" {
		t.Fatal("QueueDeserialised should be handled by resume restore, not SetTrack")
	}
}

func TestVolumeDbRoundTrip(t *testing.T) {
	a, _ := newTestAudio(t)
	targetDb := -6.0
	a.reactSetVolume(bus.SetVolume{Db: &targetDb})

	units := a.i2sSink.VolumeUnits()
	got := unitsToDb(units)
	if got < targetDb-0.3 || got > targetDb+0.3 {
		t.Fatalf("unitsToDb(VolumeUnits()) = %v, want close to %v", got, targetDb)
	}
}

func TestVolumePercentRoundTrip(t *testing.T) {
	a, _ := newTestAudio(t)
	pct := 50
	a.reactSetVolume(bus.SetVolume{Percent: &pct})

	// NewI2SSink's default max equals the line-level reference, so percent
	// and units share the same 0-100 scale here.
	got := unitsToPercent(a.i2sSink.VolumeUnits(), pipeline.LineLevelReferenceVolume())
	if got < pct-1 || got > pct+1 {
		t.Fatalf("unitsToPercent(VolumeUnits(), max) = %d, want close to %d", got, pct)
	}
}

func TestVolumeLimitCapsAppliedVolume(t *testing.T) {
	a, _ := newTestAudio(t)
	a.reactSetVolumeLimit(bus.SetVolumeLimit{LimitDb: -20})

	hot := 0.0
	a.reactSetVolume(bus.SetVolume{Db: &hot})

	if a.i2sSink.VolumeUnits() > dbToUnits(-20) {
		t.Fatalf("volume %d exceeded the -20dB ceiling (%d units)", a.i2sSink.VolumeUnits(), dbToUnits(-20))
	}
}

func TestVolumeBalanceAppliesBias(t *testing.T) {
	a, _ := newTestAudio(t)
	targetDb := 0.0
	a.reactSetVolume(bus.SetVolume{Db: &targetDb})

	a.reactSetVolumeBalance(bus.SetVolumeBalance{BalanceDb: 10})
	if a.leftBiasDb != 10 {
		t.Fatalf("leftBiasDb = %v, want 10", a.leftBiasDb)
	}
}

func TestStepVolumeIgnoredOnNonHeadphoneSink(t *testing.T) {
	a, _ := newTestAudio(t)
	before := a.i2sSink.VolumeUnits()
	a.activeSink = nil // simulate a non-i2s active sink
	a.stepVolume(1)
	if a.i2sSink.VolumeUnits() != before {
		t.Fatal("stepVolume should not touch the headphone sink when it is not active")
	}
}

func TestSetOutputWithoutBluetoothStaysOnHeadphones(t *testing.T) {
	a, _ := newTestAudio(t)
	a.reactSetOutput(bus.SetOutput{Mode: bus.OutputBluetooth})

	if a.activeSink != pipeline.Sink(a.i2sSink) {
		t.Fatal("expected output to stay on headphones when no bluetooth sink exists")
	}
	mode, _ := a.locator.NVS.GetU8(nvs.KeyOutput)
	if mode != 0 {
		t.Fatalf("persisted output mode = %d, want 0 (headphones)", mode)
	}
}

func TestTogglePlayPauseEntersPlaybackOnlyWithATrack(t *testing.T) {
	a, _ := newTestAudio(t)

	a.reactTogglePlayPause(bus.TogglePlayPause{Playing: true})
	if a.State() != StateStandby {
		t.Fatalf("state = %v, want standby without a current track", a.State())
	}

	offset := 0.0
	a.currentTrack = trackInfo("playing.mp3", offset)
	a.reactTogglePlayPause(bus.TogglePlayPause{Playing: true})
	if a.State() != StatePlayback {
		t.Fatalf("state = %v, want playback", a.State())
	}

	a.reactTogglePlayPause(bus.TogglePlayPause{Playing: false})
	if a.State() != StateStandby {
		t.Fatalf("state = %v, want standby after pause", a.State())
	}
}

func TestKeyLockPersistsResumeState(t *testing.T) {
	a, _ := newTestAudio(t)
	q := queue.New()
	q.Append(queue.Item{URI: "resume.mp3"})
	a.locator.TrackQueue = q
	offset := 0.0
	a.currentTrack = trackInfo("resume.mp3", offset)

	a.react(bus.KeyLockChanged{Locked: true})
	waitForWorkers(t, a)

	rec, ok := a.locator.DB.GetQueue()
	if !ok {
		t.Fatal("expected queue to be persisted on key lock")
	}
	if len(rec.URIs) != 1 || rec.URIs[0] != "resume.mp3" {
		t.Fatalf("persisted queue = %+v", rec)
	}
}

func TestSdMountedRestoresPersistedTrack(t *testing.T) {
	a, router := newTestAudio(t)
	q := queue.New()
	a.locator.TrackQueue = q

	if err := a.locator.DB.PutCurrent(dbCurrentTrack("restored.mp3", 7)); err != nil {
		t.Fatalf("PutCurrent: %v", err)
	}

	a.react(bus.SdStateChanged{State: bus.SdMounted})
	waitForWorkers(t, a)

	// The worker dispatches SetTrack back onto the shared queue rather than
	// calling react directly (§5's cross-goroutine rule); drain it.
	if !router.SystemAndAudio.Service(0) {
		t.Fatal("expected a SetTrack to have been dispatched by the restore")
	}

	if a.pendingNextURI != "restored.mp3" {
		t.Fatalf("pendingNextURI = %q, want restored.mp3", a.pendingNextURI)
	}
	if _, ok := a.locator.DB.GetCurrent(); ok {
		t.Fatal("expected the resume key to be cleared after restore")
	}
}

// trackInfo builds a tags.TrackInfo the same way reactStreamStarted does,
// kept local to the test file to avoid exporting a constructor solely for
// tests.
func trackInfo(uri string, startOffsetS float64) *tags.TrackInfo {
	return &tags.TrackInfo{URI: uri, StartOffsetS: &startOffsetS}
}

func dbCurrentTrack(uri string, positionS uint64) db.CurrentTrack {
	return db.CurrentTrack{URI: uri, PositionS: positionS}
}

// waitForWorkers blocks until every job submitted to the locator's worker
// pool so far has completed, by submitting a marker job behind them (the
// pool's single worker, per WorkerCount:1 in newTestAudio, processes jobs
// strictly in submission order).
func waitForWorkers(t *testing.T, a *Audio) {
	t.Helper()
	done := make(chan struct{})
	a.locator.Workers.Submit(func() { close(done) })
	<-done
}
