// Package eeg holds the in-memory side of EEG ingestion: the bounded sample
// buffer and the connection monitor derived from it.
package eeg

import (
	"encoding/json"
	"math"
)

// NumChannels is the number of electrodes on the headset.
const NumChannels = 4

// ChannelNames are the electrode positions in channel order.
var ChannelNames = [NumChannels]string{"tp9", "af7", "af8", "tp10"}

// Sample is one reading across all channels. Timestamp is in fractional
// Unix seconds.
type Sample struct {
	Timestamp float64
	Ch        [NumChannels]float64
}

// Finite reports whether every channel value is a finite number.
func (s Sample) Finite() bool {
	for _, v := range s.Ch {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

type sampleJSON struct {
	Timestamp float64 `json:"timestamp"`
	TP9       float64 `json:"tp9"`
	AF7       float64 `json:"af7"`
	AF8       float64 `json:"af8"`
	TP10      float64 `json:"tp10"`
}

// MarshalJSON encodes the sample with named electrode keys.
func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal(sampleJSON{
		Timestamp: s.Timestamp,
		TP9:       s.Ch[0],
		AF7:       s.Ch[1],
		AF8:       s.Ch[2],
		TP10:      s.Ch[3],
	})
}

// UnmarshalJSON decodes the named electrode form written by MarshalJSON.
func (s *Sample) UnmarshalJSON(data []byte) error {
	var raw sampleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Sample{Timestamp: raw.Timestamp, Ch: [NumChannels]float64{raw.TP9, raw.AF7, raw.AF8, raw.TP10}}
	return nil
}
