package audiofsm

import (
	"github.com/tangara-fw/tangara-go/internal/bus"
	"github.com/tangara-fw/tangara-go/internal/pipeline"
	"github.com/tangara-fw/tangara-go/internal/tags"
)

// onConverterStreamStarted is invoked on the Sample Converter's own
// goroutine the first time it emits frames for a newly-opened file.
// It posts StreamStarted onto the shared queue so the rest of the
// bookkeeping happens back on the Audio FSM's own goroutine, matching
// §5's "cross-goroutine interaction only via the event bus" rule.
func (a *Audio) onConverterStreamStarted(src, dst pipeline.Format) {
	a.dispatch.MustDispatch(bus.StreamStarted{
		TrackURI:     a.pendingNextURI,
		StartOffsetS: a.pendingNextSeek,
		SrcFormat:    bus.StreamFormat{SampleRate: src.SampleRate, Channels: src.Channels, BitsPerSample: src.BitsPerSample},
		DstFormat:    bus.StreamFormat{SampleRate: dst.SampleRate, Channels: dst.Channels, BitsPerSample: dst.BitsPerSample},
	})
}

func (a *Audio) onConverterStreamUpdate(samplesSunk uint64) {
	a.dispatch.MustDispatch(bus.StreamUpdate{SamplesSunk: samplesSunk})
}

func (a *Audio) onConverterConfigChanged(src, dst pipeline.Format) {
	a.dispatch.MustDispatch(bus.ConverterConfigurationChanged{
		Src: bus.StreamFormat{SampleRate: src.SampleRate, Channels: src.Channels, BitsPerSample: src.BitsPerSample},
		Dst: bus.StreamFormat{SampleRate: dst.SampleRate, Channels: dst.Channels, BitsPerSample: dst.BitsPerSample},
	})
}

func (a *Audio) onDecoderStreamEnded() {
	a.dispatch.MustDispatch(bus.StreamEnded{})
}

// reactStreamStarted records sNextTrack/sNextTrackCueSamples: the drain
// buffer between producer and consumer acts as a scheduled cue, half its
// capacity ahead of the current sample count.
func (a *Audio) reactStreamStarted(ev bus.StreamStarted) {
	a.drainFormat = pipeline.Format{SampleRate: ev.DstFormat.SampleRate, Channels: ev.DstFormat.Channels, BitsPerSample: ev.DstFormat.BitsPerSample}
	a.haveDrainFmt = true

	offset := ev.StartOffsetS
	a.nextTrack = &tags.TrackInfo{URI: ev.TrackURI, StartOffsetS: &offset}
	a.nextTrackCue = a.currentSamples + drainLatencySamples/2
	a.nextTrackFromQueue = a.pendingNextFromQueue

	a.logger.Info("new stream", "uri", ev.TrackURI, "channels", ev.DstFormat.Channels, "rate", ev.DstFormat.SampleRate)
}

// reactStreamUpdate implements the gapless cue-crossing promotion:
// sCurrentSamples accumulates samples_sunk, and once it crosses the cue
// point, sNextTrack is promoted to sCurrentTrack with the cue offset
// subtracted back out and the track's own start offset folded in.
func (a *Audio) reactStreamUpdate(ev bus.StreamUpdate) {
	a.currentSamples += ev.SamplesSunk

	if a.nextTrack != nil && a.currentSamples >= a.nextTrackCue {
		a.logger.Info("next track is now sinking")
		a.currentTrack = a.nextTrack
		a.currentSamples -= a.nextTrackCue
		if a.currentTrack.StartOffsetS != nil && a.haveDrainFmt {
			a.currentSamples += uint64(*a.currentTrack.StartOffsetS * float64(a.drainFormat.Channels*a.drainFormat.SampleRate))
		}
		a.currentFromQueue = a.nextTrackFromQueue

		a.nextTrack = nil
		a.nextTrackCue = 0
		a.nextTrackFromQueue = false
	}

	if a.currentTrack != nil {
		pos, _ := a.CurrentPositionSeconds()
		update := bus.PlaybackUpdate{
			Playing:        a.state == StatePlayback,
			TrackURI:       a.currentTrack.URI,
			SecondsElapsed: pos,
		}
		a.router.DispatchAll(update)
	}

	if a.currentTrack != nil && !a.isPaused && a.state != StatePlayback {
		a.logger.Info("ready to play")
		a.enterPlayback()
	}
}

// reactStreamEnded advances the queue if the finished track came from
// it, otherwise requests silence.
func (a *Audio) reactStreamEnded(bus.StreamEnded) {
	a.logger.Info("stream ended")
	if a.currentFromQueue && a.locator != nil && a.locator.TrackQueue != nil {
		a.locator.TrackQueue.Advance()
		return
	}
	a.reactSetTrack(bus.SetTrack{NewTrack: "", Transition: bus.Gapless})
}

func (a *Audio) enterPlayback() {
	a.state = StatePlayback
	a.activeSink.SetMode(pipeline.SinkOnPlaying)
	pos, _ := a.CurrentPositionSeconds()
	update := bus.PlaybackUpdate{Playing: true, SecondsElapsed: pos}
	if a.currentTrack != nil {
		update.TrackURI = a.currentTrack.URI
	}
	a.router.DispatchAll(update)
}

func (a *Audio) enterStandby() {
	a.state = StateStandby
	a.activeSink.SetMode(pipeline.SinkOnPaused)
	pos, _ := a.CurrentPositionSeconds()
	update := bus.PlaybackUpdate{Playing: false, SecondsElapsed: pos}
	if a.currentTrack != nil {
		update.TrackURI = a.currentTrack.URI
	}
	a.router.DispatchAll(update)
}
