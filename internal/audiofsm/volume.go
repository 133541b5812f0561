package audiofsm

import (
	"github.com/tangara-fw/tangara-go/internal/bus"
	"github.com/tangara-fw/tangara-go/internal/nvs"
	"github.com/tangara-fw/tangara-go/internal/pipeline"
)

// volumeStepUnits is the DAC-unit granularity of one StepUpVolume /
// StepDownVolume nudge.
const volumeStepUnits = 512

// dbToUnits/unitsToDb convert between the headphone sink's DAC-unit scale
// and decibels relative to line level, per wm8523's kLineLevelReferenceVolume
// == 0dB convention used throughout §4.3/§4.4.4.
func dbToUnits(db float64) int {
	return pipeline.LineLevelReferenceVolume() + int(db*4)
}

func unitsToDb(units int) float64 {
	return float64(units-pipeline.LineLevelReferenceVolume()) / 4
}

func unitsToPercent(units, max int) int {
	if max == 0 {
		return 0
	}
	return clampInt(units*100/max, 0, 100)
}

func percentToUnits(pct, max int) int {
	return clampInt(pct*max/100, 0, max)
}

func (a *Audio) stepVolume(direction int) {
	if a.activeSink != pipeline.Sink(a.i2sSink) {
		return
	}
	units := a.i2sSink.VolumeUnits() + direction*volumeStepUnits
	left, _ := a.i2sSink.SetVolume(units, a.leftBiasDb)
	a.commitVolume()
	a.emitVolumeChanged(left)
}

func (a *Audio) reactSetVolume(ev bus.SetVolume) {
	if a.activeSink == pipeline.Sink(a.i2sSink) {
		var units int
		switch {
		case ev.Db != nil:
			units = dbToUnits(*ev.Db)
		case ev.Percent != nil:
			units = percentToUnits(*ev.Percent, pipeline.LineLevelReferenceVolume())
		default:
			return
		}
		left, _ := a.i2sSink.SetVolume(units, a.leftBiasDb)
		a.commitVolume()
		a.emitVolumeChanged(left)
		return
	}
	if a.btSink != nil && a.activeSink == pipeline.Sink(a.btSink) && ev.Percent != nil {
		a.btSink.SetVolumePercent(*ev.Percent)
		a.commitVolume()
		a.router.DispatchAll(bus.VolumeChanged{CurrentPc: *ev.Percent})
	}
}

func (a *Audio) reactSetVolumeLimit(ev bus.SetVolumeLimit) {
	limitUnits := dbToUnits(ev.LimitDb)
	a.i2sSink.SetMaxVolume(limitUnits)
	if a.locator != nil {
		a.locator.NVS.SetU16(nvs.KeyHpVolMax, uint16(limitUnits))
	}
	a.router.DispatchAll(bus.VolumeChanged{LimitDb: ev.LimitDb})
}

func (a *Audio) reactSetVolumeBalance(ev bus.SetVolumeBalance) {
	a.leftBiasDb = ev.BalanceDb
	if a.activeSink == pipeline.Sink(a.i2sSink) {
		left, _ := a.i2sSink.SetVolume(a.i2sSink.VolumeUnits(), a.leftBiasDb)
		a.emitVolumeChanged(left)
	}
	a.router.DispatchAll(bus.VolumeChanged{LeftBias: ev.BalanceDb})
}

func (a *Audio) emitVolumeChanged(units int) {
	pct := unitsToPercent(units, pipeline.LineLevelReferenceVolume())
	a.router.DispatchAll(bus.VolumeChanged{
		CurrentDb: unitsToDb(units),
		CurrentPc: pct,
		LeftBias:  a.leftBiasDb,
	})
}

// commitVolume persists the active sink's current volume: globally for
// headphones, per-MAC for Bluetooth.
func (a *Audio) commitVolume() {
	if a.locator == nil {
		return
	}
	if a.activeSink == pipeline.Sink(a.i2sSink) {
		a.locator.NVS.SetU16(nvs.KeyHpVol, uint16(a.i2sSink.VolumeUnits()))
		return
	}
	if a.btSink == nil || a.connectedBtMAC == "" {
		return
	}
	a.locator.NVS.SetBlob(btVolumeKey(a.connectedBtMAC), []byte{byte(a.btSink.VolumePercent())})
}

// reactSetOutput mutes the current sink, swaps the active pointer,
// rewires the Sample Converter and reapplies the newly-selected device's
// persisted volume, mirroring AudioState::react(const OutputModeChanged&).
func (a *Audio) reactSetOutput(ev bus.SetOutput) {
	if a.activeSink != nil {
		a.activeSink.SetMode(pipeline.SinkOff)
	}

	switch ev.Mode {
	case bus.OutputBluetooth:
		if a.btSink != nil {
			a.activeSink = a.btSink
		}
	default:
		a.activeSink = a.i2sSink
	}
	a.activeSink.SetMode(pipeline.SinkOnPaused)
	a.rewireConverter()

	if a.locator != nil {
		mode := byte(0)
		if a.activeSink != pipeline.Sink(a.i2sSink) {
			mode = 1
		}
		a.locator.NVS.SetU8(nvs.KeyOutput, mode)
	}

	if a.activeSink == pipeline.Sink(a.i2sSink) {
		a.emitVolumeChanged(a.i2sSink.VolumeUnits())
	} else if a.locator != nil && a.connectedBtMAC != "" {
		if blob, ok := a.locator.NVS.GetBlob(btVolumeKey(a.connectedBtMAC)); ok && len(blob) > 0 {
			a.btSink.SetVolumePercent(int(blob[0]))
		}
		a.router.DispatchAll(bus.VolumeChanged{CurrentPc: a.btSink.VolumePercent()})
	}
	a.router.DispatchAll(bus.OutputModeChanged{Mode: ev.Mode})
}

// rewireConverter constructs a new SampleConverter bound to the
// now-active sink. The prior converter/decoder are stopped and a fresh
// decoder picks up where the file source left off.
func (a *Audio) rewireConverter() {
	if a.converter != nil {
		a.converter.Stop()
	}
	a.converter = pipeline.NewSampleConverter(a.activeSink, pipeline.ConverterEvents{
		OnStreamStarted: a.onConverterStreamStarted,
		OnStreamUpdate:  a.onConverterStreamUpdate,
		OnConfigChanged: a.onConverterConfigChanged,
	}, a.logger)
	go a.converter.Run()

	if a.decoder != nil {
		a.decoder.Stop()
	}
	a.decoder = pipeline.NewDecoder(a.fileSource, a.converter, a.onDecoderStreamEnded, a.logger)
	go a.decoder.Run()
}
