package audiofsm

import (
	"github.com/tangara-fw/tangara-go/internal/bus"
	"github.com/tangara-fw/tangara-go/internal/db"
	"github.com/tangara-fw/tangara-go/internal/queue"
)

// reactKeyLockChanged mirrors Standby::react(const KeyLockChanged&): when
// the user locks the keys, serialise the queue and current track position
// for restore on next boot. An empty/finished queue just clears the keys,
// avoiding a resume into silence.
func (a *Audio) reactKeyLockChanged(ev bus.KeyLockChanged) {
	if !ev.Locked || a.locator == nil || a.locator.DB == nil || a.locator.TrackQueue == nil {
		return
	}
	snap := a.locator.TrackQueue.Snapshot()
	positionS, _ := a.CurrentPositionSeconds()
	currentURI := ""
	if a.currentTrack != nil {
		currentURI = a.currentTrack.URI
	}

	store := a.locator.DB
	a.locator.Workers.Submit(func() {
		if snap.Position >= len(snap.URIs) || currentURI == "" {
			store.ClearResumeKeys()
			return
		}
		store.PutQueue(db.QueueRecord{
			URIs:     snap.URIs,
			Position: snap.Position,
			Repeat:   snap.Repeat,
			Replay:   snap.Replay,
			Random:   snap.Random,
		})
		store.PutCurrent(db.CurrentTrack{URI: currentURI, PositionS: uint64(positionS)})
	})
}

// reactSdStateChanged mirrors Standby::react(const SdStateChanged&): once
// the card mounts, restore the previously persisted current track and
// queue. Each key is read then cleared before use so a crash mid-restore
// cannot produce a boot loop.
func (a *Audio) reactSdStateChanged(ev bus.SdStateChanged) {
	if ev.State != bus.SdMounted || a.locator == nil || a.locator.DB == nil {
		return
	}
	store := a.locator.DB
	trackQueue := a.locator.TrackQueue

	a.locator.Workers.Submit(func() {
		current, haveCurrent := store.GetCurrent()
		rec, haveQueue := store.GetQueue()
		if !haveCurrent {
			return
		}
		// Clear both keys before acting on them so a crash mid-restore
		// can't replay the same resume on the next boot.
		store.ClearResumeKeys()

		a.dispatch.MustDispatch(bus.SetTrack{
			NewTrack:     current.URI,
			SeekToSecond: float64(current.PositionS),
			Transition:   bus.HardCut,
			FromQueue:    true,
		})

		if trackQueue == nil || !haveQueue {
			return
		}
		trackQueue.Restore(queue.Snapshot{
			URIs:     rec.URIs,
			Position: rec.Position,
			Repeat:   rec.Repeat,
			Replay:   rec.Replay,
			Random:   rec.Random,
		})
	})
}
