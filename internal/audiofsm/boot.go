package audiofsm

import (
	"github.com/tangara-fw/tangara-go/internal/bus"
	"github.com/tangara-fw/tangara-go/internal/nvs"
	"github.com/tangara-fw/tangara-go/internal/pipeline"
	"github.com/tangara-fw/tangara-go/internal/services"
)

// reactBootComplete mirrors states::Uninitialised::react(BootComplete):
// allocate the drain buffers, construct both sinks and the sample
// converter, select the active sink from NVS, apply persisted volume
// knobs, start the decoder, and transition to Standby.
func (a *Audio) reactBootComplete(ev bus.BootComplete) {
	locator, ok := ev.Services.(*services.Locator)
	if !ok || locator == nil {
		a.logger.Error("BootComplete carried no usable ServiceLocator")
		return
	}
	a.locator = locator

	a.i2sSink = pipeline.NewI2SSink(drainLatencySamples, a.logger)
	if locator.Bluetooth != nil {
		a.btSink = pipeline.NewBluetoothSink(drainLatencySamples, locator.Bluetooth, a.logger)
	}

	if maxUnits, ok := locator.NVS.GetU16(nvs.KeyHpVolMax); ok {
		a.i2sSink.SetMaxVolume(int(maxUnits))
	}
	if vol, ok := locator.NVS.GetU16(nvs.KeyHpVol); ok {
		a.i2sSink.SetVolume(int(vol), a.leftBiasDb)
	}

	outputMode, _ := locator.NVS.GetU8(nvs.KeyOutput)
	if outputMode == 1 && a.btSink != nil {
		a.activeSink = a.btSink
	} else {
		a.activeSink = a.i2sSink
	}
	a.activeSink.SetMode(pipeline.SinkOnPaused)

	a.converter = pipeline.NewSampleConverter(a.activeSink, pipeline.ConverterEvents{
		OnStreamStarted: a.onConverterStreamStarted,
		OnStreamUpdate:  a.onConverterStreamUpdate,
		OnConfigChanged: a.onConverterConfigChanged,
	}, a.logger)
	go a.converter.Run()

	fileSource := pipeline.NewFileSource()
	a.decoder = pipeline.NewDecoder(fileSource, a.converter, a.onDecoderStreamEnded, a.logger)
	go a.decoder.Run()
	a.fileSource = fileSource

	if locator.TrackQueue != nil {
		locator.TrackQueue.Dispatch = func(u bus.QueueUpdate) {
			a.dispatch.MustDispatch(u)
		}
	}

	a.state = StateStandby
	a.logger.Info("audio fsm ready")
}
