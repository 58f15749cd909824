package main

import (
	"tapbridge/bridge"
	"tapbridge/indicator"
	"tapbridge/mqtt"
)

// statusMirror fans pipeline status out to the indicator and MQTT.
type statusMirror struct {
	indicator indicator.Indicator
	mqtt      *mqtt.Client
}

// Report implements bridge.Observer.
func (s *statusMirror) Report(readerID string, state bridge.State) {
	switch state {
	case bridge.StateOnline:
		s.indicator.Online()
	case bridge.StateTap:
		s.indicator.Tap()
	case bridge.StateConnectionLost:
		s.indicator.ConnectionLost()
	case bridge.StateReaderFault:
		s.indicator.ReaderFault()
	case bridge.StateShutdown:
		// The indicator is shared; main shuts it down once all pipelines stop.
	}
	s.mqtt.PublishStatus(readerID, string(state))
}
