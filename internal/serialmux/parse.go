package serialmux

import (
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/banshee-data/synapse/internal/eeg"
)

// LineKind classifies one line read from a board.
type LineKind int

const (
	// LineSample carries one reading for every channel.
	LineSample LineKind = iota
	// LineOther is well formed but carries no EEG reading: blank lines,
	// board banners starting with '%' or '#', or JSON without an "eeg" key.
	LineOther
	// LineMalformed is anything else.
	LineMalformed
)

func (k LineKind) String() string {
	switch k {
	case LineSample:
		return "eeg"
	case LineOther:
		return "other"
	default:
		return "malformed"
	}
}

// ParseSampleLine decodes a CSV line "ch1,ch2,ch3,ch4" or a JSON object
// {"eeg":[ch1,ch2,ch3,ch4]}. All values must be finite.
func ParseSampleLine(line string) ([eeg.NumChannels]float64, bool) {
	vals, kind := ClassifyLine(line)
	return vals, kind == LineSample
}

// ClassifyLine decodes line and reports what kind of line it was.
func ClassifyLine(line string) ([eeg.NumChannels]float64, LineKind) {
	var vals [eeg.NumChannels]float64
	line = strings.TrimSpace(line)
	switch {
	case line == "", strings.HasPrefix(line, "%"), strings.HasPrefix(line, "#"):
		return vals, LineOther
	case strings.HasPrefix(line, "{"):
		return parseJSONLine(line)
	default:
		return parseCSVLine(line)
	}
}

func parseJSONLine(line string) ([eeg.NumChannels]float64, LineKind) {
	var vals [eeg.NumChannels]float64
	if !gjson.Valid(line) {
		return vals, LineMalformed
	}
	res := gjson.Get(line, "eeg")
	if !res.Exists() {
		return vals, LineOther
	}
	if !res.IsArray() {
		return vals, LineMalformed
	}
	arr := res.Array()
	if len(arr) != eeg.NumChannels {
		return vals, LineMalformed
	}
	for i, v := range arr {
		if v.Type != gjson.Number {
			return vals, LineMalformed
		}
		vals[i] = v.Float()
		if !finite(vals[i]) {
			return vals, LineMalformed
		}
	}
	return vals, LineSample
}

func parseCSVLine(line string) ([eeg.NumChannels]float64, LineKind) {
	var vals [eeg.NumChannels]float64
	fields := strings.Split(line, ",")
	if len(fields) != eeg.NumChannels {
		return vals, LineMalformed
	}
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil || !finite(v) {
			return vals, LineMalformed
		}
		vals[i] = v
	}
	return vals, LineSample
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
