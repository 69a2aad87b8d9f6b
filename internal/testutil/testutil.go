// Package testutil provides shared test utilities and fixtures.
//
// This package centralises synthetic EEG fixtures and small HTTP helpers
// used across package tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/synapse/internal/eeg"
)

// Tone is one sinusoidal component of a synthetic channel.
type Tone struct {
	Hz        float64
	Amplitude float64
}

// RestingLevel is roughly the per-channel DC level of a consumer headset.
var RestingLevel = [eeg.NumChannels]float64{800, 810, 820, 830}

// SineSamples generates n samples at rate fs starting at start seconds.
// Channel c is dc[c] plus the sum of tones[c].
func SineSamples(n int, fs, start float64, dc [eeg.NumChannels]float64, tones [eeg.NumChannels][]Tone) []eeg.Sample {
	out := make([]eeg.Sample, n)
	for i := range out {
		t := float64(i) / fs
		out[i].Timestamp = start + t
		for c := 0; c < eeg.NumChannels; c++ {
			v := dc[c]
			for _, tone := range tones[c] {
				v += tone.Amplitude * math.Sin(2*math.Pi*tone.Hz*t)
			}
			out[i].Ch[c] = v
		}
	}
	return out
}

// AlphaSamples is a zero-mean signal with a 10 Hz tone of the given
// amplitude on every channel and a weaker 20 Hz beta tone.
func AlphaSamples(n int, fs, start, amplitude float64) []eeg.Sample {
	var tones [eeg.NumChannels][]Tone
	for c := range tones {
		tones[c] = []Tone{{Hz: 10, Amplitude: amplitude}, {Hz: 20, Amplitude: amplitude / 4}}
	}
	return SineSamples(n, fs, start, [eeg.NumChannels]float64{}, tones)
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewJSONRequest creates a test HTTP request with body encoded as JSON.
func NewJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// DecodeJSON decodes a recorder's body into v, failing the test on error.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}
