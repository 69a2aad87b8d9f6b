package serialmux

import (
	"context"

	"github.com/banshee-data/synapse/internal/eeg"
	"github.com/banshee-data/synapse/internal/monitoring"
)

// Sink receives decoded lines. *eeg.Monitor implements it.
type Sink interface {
	Now() float64
	Ingest(s eeg.Sample)
	Touch()
	Drop()
}

const transportSerial = "serial"

// HandleLine routes one line into sink. Samples are stamped with the
// sink's clock at receipt.
func HandleLine(sink Sink, line string) LineKind {
	vals, kind := ClassifyLine(line)
	monitoring.TransportMessages.WithLabelValues(transportSerial, kind.String()).Inc()
	switch kind {
	case LineSample:
		sink.Ingest(eeg.Sample{Timestamp: sink.Now(), Ch: vals})
	case LineOther:
		sink.Touch()
	default:
		sink.Drop()
	}
	return kind
}

// Feed subscribes to mux and hands every line to sink until ctx is done or
// the mux closes the subscription.
func Feed(ctx context.Context, mux SerialMuxInterface, sink Sink) error {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			HandleLine(sink, line)
		}
	}
}
