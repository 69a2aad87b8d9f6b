package features

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/banshee-data/synapse/internal/eeg"
)

// Schema selects a fixed, ordered feature layout.
type Schema int

const (
	// RawChannel is the per-channel mean layout used for difficulty
	// inference: 4 channel means, their mean, and two cross-channel ratios.
	RawChannel Schema = iota + 1
	// BandPower is the spectral layout used for confusion inference:
	// five band powers, total power and peak frequency per channel.
	BandPower
)

// Band is a frequency range in Hz. Both edges are inclusive.
type Band struct {
	Name      string
	Low, High float64
}

// Bands are the EEG rhythms integrated by the BandPower schema.
var Bands = []Band{
	{"delta", 0.5, 4},
	{"theta", 4, 8},
	{"alpha", 8, 13},
	{"beta", 13, 30},
	{"gamma", 30, 50},
}

var (
	rawNames  = buildRawNames()
	bandNames = buildBandNames()
)

func buildRawNames() []string {
	names := make([]string, 0, eeg.NumChannels+3)
	names = append(names, eeg.ChannelNames[:]...)
	return append(names, "avg_all", "tp9_af7_ratio", "af8_tp10_ratio")
}

func buildBandNames() []string {
	names := make([]string, 0, eeg.NumChannels*(len(Bands)+2))
	for _, ch := range eeg.ChannelNames {
		for _, b := range Bands {
			names = append(names, ch+"_"+b.Name)
		}
		names = append(names, ch+"_total_power", ch+"_peak_freq")
	}
	return names
}

// Names returns the ordered feature names. The slice must not be modified.
func (s Schema) Names() []string {
	switch s {
	case RawChannel:
		return rawNames
	case BandPower:
		return bandNames
	}
	return nil
}

// Len is the number of features the schema produces.
func (s Schema) Len() int { return len(s.Names()) }

// Valid reports whether s is a known schema.
func (s Schema) Valid() bool { return s == RawChannel || s == BandPower }

func (s Schema) String() string {
	switch s {
	case RawChannel:
		return "raw_channel"
	case BandPower:
		return "band_power"
	}
	return fmt.Sprintf("Schema(%d)", int(s))
}

// ParseSchema accepts the names produced by String.
func ParseSchema(name string) (Schema, error) {
	switch strings.ToLower(name) {
	case "raw_channel", "raw":
		return RawChannel, nil
	case "band_power", "band":
		return BandPower, nil
	}
	return 0, fmt.Errorf("features: unknown schema %q", name)
}

func (s Schema) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("features: invalid schema %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Schema) UnmarshalText(text []byte) error {
	v, err := ParseSchema(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Vector is a feature vector laid out by its schema.
type Vector struct {
	Schema Schema
	Values []float64
}

// Names returns the feature names matching Values.
func (v Vector) Names() []string { return v.Schema.Names() }

// Get returns the named feature.
func (v Vector) Get(name string) (float64, bool) {
	for i, n := range v.Schema.Names() {
		if n == name && i < len(v.Values) {
			return v.Values[i], true
		}
	}
	return 0, false
}

// Validate checks that Values matches the schema length.
func (v Vector) Validate() error {
	if !v.Schema.Valid() {
		return fmt.Errorf("%w: unknown schema %d", ErrExtraction, int(v.Schema))
	}
	if len(v.Values) != v.Schema.Len() {
		return fmt.Errorf("%w: %s vector has %d values, want %d", ErrExtraction, v.Schema, len(v.Values), v.Schema.Len())
	}
	return nil
}

type vectorJSON struct {
	Schema   Schema             `json:"schema"`
	Features map[string]float64 `json:"features"`
}

// MarshalJSON encodes the vector as a name to value object.
func (v Vector) MarshalJSON() ([]byte, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	m := make(map[string]float64, len(v.Values))
	for i, name := range v.Schema.Names() {
		m[name] = v.Values[i]
	}
	return json.Marshal(vectorJSON{Schema: v.Schema, Features: m})
}

// UnmarshalJSON requires every feature of the schema to be present.
func (v *Vector) UnmarshalJSON(data []byte) error {
	var raw vectorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	names := raw.Schema.Names()
	values := make([]float64, len(names))
	for i, name := range names {
		val, ok := raw.Features[name]
		if !ok {
			return fmt.Errorf("%w: missing feature %q", ErrExtraction, name)
		}
		values[i] = val
	}
	*v = Vector{Schema: raw.Schema, Values: values}
	return nil
}
