// Package network receives OSC-over-UDP EEG streams, live or replayed
// from packet captures.
package network

import (
	"math"

	"github.com/banshee-data/synapse/internal/eeg"
	"github.com/banshee-data/synapse/internal/eeg/osc"
	"github.com/banshee-data/synapse/internal/monitoring"
)

// Sink receives decoded traffic. *eeg.Monitor implements it.
type Sink interface {
	Now() float64
	Ingest(s eeg.Sample)
	Touch()
	Drop()
}

// EEG addresses. Everything else only refreshes liveness.
var eegAddresses = map[string]bool{
	"/muse/eeg": true,
	"/eeg":      true,
}

const transportOSC = "osc"

// Handler decodes OSC packets into a Sink.
type Handler struct {
	Sink Sink
}

// HandlePacket decodes one datagram. Malformed packets and EEG messages
// without four finite numeric arguments are dropped and counted; they
// never produce an error.
func (h Handler) HandlePacket(packet []byte) {
	msgs, err := osc.Parse(packet)
	if err != nil {
		monitoring.TransportMessages.WithLabelValues(transportOSC, "malformed").Inc()
		h.Sink.Drop()
		return
	}
	for _, m := range msgs {
		h.handleMessage(m)
	}
}

func (h Handler) handleMessage(m osc.Message) {
	if !eegAddresses[m.Address] {
		monitoring.TransportMessages.WithLabelValues(transportOSC, "other").Inc()
		h.Sink.Touch()
		return
	}
	vals, ok := m.Numbers()
	if !ok || len(vals) < eeg.NumChannels {
		monitoring.TransportMessages.WithLabelValues(transportOSC, "malformed").Inc()
		h.Sink.Drop()
		return
	}
	s := eeg.Sample{Timestamp: h.Sink.Now()}
	for i := 0; i < eeg.NumChannels; i++ {
		if math.IsNaN(vals[i]) || math.IsInf(vals[i], 0) {
			monitoring.TransportMessages.WithLabelValues(transportOSC, "malformed").Inc()
			h.Sink.Drop()
			return
		}
		s.Ch[i] = vals[i]
	}
	monitoring.TransportMessages.WithLabelValues(transportOSC, "eeg").Inc()
	h.Sink.Ingest(s)
}
