package audiofsm

import (
	"time"

	"github.com/tangara-fw/tangara-go/internal/bus"
	"github.com/tangara-fw/tangara-go/internal/pipeline"
)

// reactQueueUpdate translates a QueueUpdate into an internal SetTrack,
// mirroring AudioState::react(const QueueUpdate&).
func (a *Audio) reactQueueUpdate(ev bus.QueueUpdate) {
	cmd := bus.SetTrack{NewTrack: "", Transition: bus.HardCut}

	var currentURI string
	haveCurrent := false
	if a.locator != nil && a.locator.TrackQueue != nil {
		if item, ok := a.locator.TrackQueue.Current(); ok {
			currentURI = item.URI
			haveCurrent = true
		}
	}
	if haveCurrent {
		cmd.NewTrack = currentURI
		cmd.FromQueue = true
	}

	switch ev.Reason {
	case bus.QueueExplicitUpdate:
		// current_changed isn't separately modelled on QueueUpdate in this
		// port; treat every explicit update as a change, matching the
		// conservative branch of the original when in doubt.
		cmd.Transition = bus.HardCut
	case bus.QueueRepeatingLastTrack:
		cmd.Transition = bus.Gapless
	case bus.QueueTrackFinished:
		cmd.Transition = bus.Gapless
		if !haveCurrent {
			cmd.NewTrack = ""
			cmd.FromQueue = false
		}
	case bus.QueueDeserialised, bus.QueueBulkLoad:
		// The current track is deserialised/restored separately, to retain
		// seek position.
		return
	}

	a.reactSetTrack(cmd)
}

// reactSetTrack implements AudioState::react(const SetTrack&): preserve
// from_queue bookkeeping across same-URI seeks, hard-cut clears the drain
// buffer and current-track state, and resolving the URI to an openable
// path is handed to the background worker since it may require a
// database lookup.
func (a *Audio) reactSetTrack(ev bus.SetTrack) {
	var prevURI string
	prevFromQueue := false
	if a.currentTrack != nil {
		prevURI = a.currentTrack.URI
		prevFromQueue = a.currentFromQueue
	}

	if ev.Transition == bus.HardCut {
		a.currentTrack = nil
		a.currentSamples = 0
		a.currentFromQueue = false
		a.clearDrainBuffer()
	}

	if ev.NewTrack == "" {
		a.logger.Info("playback finished, awaiting drain")
		if a.fileSource != nil {
			a.fileSource.Close()
		}
		a.awaitEmptyDrainBuffer()
		a.currentTrack = nil
		a.haveDrainFmt = false
		a.currentSamples = 0
		a.currentFromQueue = false
		a.enterStandby()
		return
	}

	newURI := ev.NewTrack
	seekTo := ev.SeekToSecond
	fromQueue := ev.FromQueue

	a.pendingNextSeek = seekTo
	if newURI == prevURI {
		fromQueue = prevFromQueue
	}
	a.pendingNextFromQueue = fromQueue
	a.pendingNextURI = newURI

	if a.locator != nil && a.locator.Workers != nil {
		a.locator.Workers.Submit(func() {
			if a.decoder != nil {
				a.decoder.RequestOpen(newURI)
			}
		})
	} else if a.decoder != nil {
		a.decoder.RequestOpen(newURI)
	}
}

// clearDrainBuffer mirrors AudioState::clearDrainBuffer: if currently
// playing, the sink keeps draining on its own so we just keep resetting
// until it succeeds; otherwise we must actively pull samples to unblock
// a converter that may be blocked on a full write.
func (a *Audio) clearDrainBuffer() {
	if a.fileSource != nil {
		a.fileSource.Close()
	}
	if a.activeSink == nil {
		return
	}
	drain := a.activeSink.Drain()
	if a.state == StatePlayback {
		for {
			drain.Clear()
			if drain.IsEmpty() {
				return
			}
		}
	}
	scratch := make([]int16, 2048)
	for !drain.IsEmpty() {
		drain.Receive(scratch, false, false)
		drain.Clear()
	}
}

// awaitEmptyDrainBuffer mirrors AudioState::awaitEmptyDrainBuffer: give
// the sink up to 2.5s (10x250ms) to finish draining naturally while
// playing, then force a clear if it hasn't.
func (a *Audio) awaitEmptyDrainBuffer() {
	if a.activeSink == nil {
		return
	}
	drain := a.activeSink.Drain()
	if a.state == StatePlayback {
		for i := 0; i < 10 && !drain.IsEmpty(); i++ {
			time.Sleep(250 * time.Millisecond)
		}
	}
	if !drain.IsEmpty() {
		a.clearDrainBuffer()
	}
}

func (a *Audio) reactTogglePlayPause(ev bus.TogglePlayPause) {
	a.isPaused = !ev.Playing
	if !a.isPaused && a.state == StateStandby && a.currentTrack != nil {
		a.enterPlayback()
	} else if a.isPaused && a.state == StatePlayback {
		a.enterStandby()
	}
}

func (a *Audio) reactBluetoothEvent(ev bus.BluetoothEvent) {
	if !ev.Connected || a.btSink == nil || a.locator == nil {
		return
	}
	a.connectedBtMAC = ev.DeviceMAC
	blob, ok := a.locator.NVS.GetBlob(btVolumeKey(ev.DeviceMAC))
	if ok && len(blob) > 0 {
		a.btSink.SetVolumePercent(int(blob[0]))
	}
	if a.activeSink == pipeline.Sink(a.btSink) {
		a.router.DispatchAll(bus.VolumeChanged{CurrentPc: a.btSink.VolumePercent()})
	}
}

func btVolumeKey(mac string) string { return "btvol:" + mac }
