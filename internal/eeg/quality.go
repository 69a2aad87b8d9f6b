package eeg

import (
	"fmt"
	"strings"
)

// Quality is the coarse health tier of the sample stream.
type Quality int

const (
	QualityDisconnected Quality = iota
	QualityPoor
	QualityFair
	QualityGood
	QualityExcellent
)

var qualityNames = [...]string{"disconnected", "poor", "fair", "good", "excellent"}

func (q Quality) String() string {
	if q < 0 || int(q) >= len(qualityNames) {
		return fmt.Sprintf("Quality(%d)", int(q))
	}
	return qualityNames[q]
}

// MarshalText implements encoding.TextMarshaler.
func (q Quality) MarshalText() ([]byte, error) {
	if q < 0 || int(q) >= len(qualityNames) {
		return nil, fmt.Errorf("eeg: invalid quality %d", int(q))
	}
	return []byte(qualityNames[q]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (q *Quality) UnmarshalText(text []byte) error {
	for i, name := range qualityNames {
		if strings.EqualFold(string(text), name) {
			*q = Quality(i)
			return nil
		}
	}
	return fmt.Errorf("eeg: unknown quality %q", text)
}

// ClassifyQuality maps liveness and the number of samples received in the
// trailing second onto a tier.
func ClassifyQuality(connected bool, perSecond int) Quality {
	switch {
	case !connected:
		return QualityDisconnected
	case perSecond >= 200:
		return QualityExcellent
	case perSecond >= 100:
		return QualityGood
	case perSecond >= 50:
		return QualityFair
	default:
		return QualityPoor
	}
}
