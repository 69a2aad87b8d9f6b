// Package features turns windows of raw EEG samples into fixed-schema
// feature vectors.
package features

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/synapse/internal/eeg"
)

var (
	// ErrInsufficientData is returned when fewer samples than one analysis
	// window are supplied.
	ErrInsufficientData = errors.New("features: insufficient data")
	// ErrExtraction is returned for windows that cannot produce a valid
	// vector, such as non-finite input.
	ErrExtraction = errors.New("features: extraction failed")
)

const (
	// DefaultWindow is the analysis window length in samples.
	DefaultWindow = 256
	// DefaultSampleRate is the headset's nominal rate in Hz.
	DefaultSampleRate = 256.0

	ratioEpsilon = 1e-8
)

// Extractor computes feature vectors. The zero value uses DefaultWindow and
// DefaultSampleRate.
type Extractor struct {
	Window     int
	SampleRate float64
}

func (e Extractor) window() int {
	if e.Window > 0 {
		return e.Window
	}
	return DefaultWindow
}

func (e Extractor) rate() float64 {
	if e.SampleRate > 0 {
		return e.SampleRate
	}
	return DefaultSampleRate
}

// Extract computes a vector with the default extractor.
func Extract(samples []eeg.Sample, schema Schema) (Vector, error) {
	return Extractor{}.Extract(samples, schema)
}

// Extract computes schema's features over all of samples. At least one full
// window is required.
func (e Extractor) Extract(samples []eeg.Sample, schema Schema) (Vector, error) {
	if !schema.Valid() {
		return Vector{}, fmt.Errorf("%w: unknown schema %d", ErrExtraction, int(schema))
	}
	if w := e.window(); len(samples) < w {
		return Vector{}, fmt.Errorf("%w: %d samples, need %d", ErrInsufficientData, len(samples), w)
	}
	for i, s := range samples {
		if !s.Finite() {
			return Vector{}, fmt.Errorf("%w: non-finite value in sample %d", ErrExtraction, i)
		}
	}

	switch schema {
	case RawChannel:
		return Vector{Schema: schema, Values: rawFeatures(samples)}, nil
	default:
		return Vector{Schema: schema, Values: e.bandFeatures(samples)}, nil
	}
}

func rawFeatures(samples []eeg.Sample) []float64 {
	var means [eeg.NumChannels]float64
	for _, s := range samples {
		for c, v := range s.Ch {
			means[c] += v
		}
	}
	for c := range means {
		means[c] /= float64(len(samples))
	}
	out := make([]float64, 0, RawChannel.Len())
	out = append(out, means[:]...)
	return append(out,
		floats.Sum(means[:])/eeg.NumChannels,
		means[0]/(means[1]+ratioEpsilon),
		means[2]/(means[3]+ratioEpsilon),
	)
}

func (e Extractor) bandFeatures(samples []eeg.Sample) []float64 {
	fs := e.rate()
	nperseg := min(e.window(), len(samples))
	out := make([]float64, 0, BandPower.Len())
	series := make([]float64, len(samples))
	for c := 0; c < eeg.NumChannels; c++ {
		for i, s := range samples {
			series[i] = s.Ch[c]
		}
		window.Hann(series)
		freqs, psd := welch(series, fs, nperseg)

		for _, b := range Bands {
			out = append(out, bandMean(freqs, psd, b))
		}
		out = append(out, floats.Sum(psd)/float64(len(psd)), freqs[floats.MaxIdx(psd)])
	}
	return out
}

// bandMean averages psd over the bins inside b. Bands beyond the Nyquist
// frequency contribute zero.
func bandMean(freqs, psd []float64, b Band) float64 {
	var sum float64
	var n int
	for i, f := range freqs {
		if f >= b.Low && f <= b.High {
			sum += psd[i]
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// welch estimates the one-sided power spectral density of x by averaging
// periodograms of half-overlapping, mean-removed, Hann-weighted segments.
// The result is scaled to power per Hz.
func welch(x []float64, fs float64, nperseg int) (freqs, psd []float64) {
	win := periodicHann(nperseg)
	var wss float64
	for _, w := range win {
		wss += w * w
	}
	scale := 1 / (fs * wss)

	nfreq := nperseg/2 + 1
	psd = make([]float64, nfreq)
	fft := fourier.NewFFT(nperseg)
	seg := make([]float64, nperseg)
	coeffs := make([]complex128, nfreq)

	step := nperseg - nperseg/2
	nseg := 0
	for start := 0; start+nperseg <= len(x); start += step {
		chunk := x[start : start+nperseg]
		mean := floats.Sum(chunk) / float64(nperseg)
		for i, v := range chunk {
			seg[i] = (v - mean) * win[i]
		}
		coeffs = fft.Coefficients(coeffs, seg)
		for k, c := range coeffs {
			psd[k] += (real(c)*real(c) + imag(c)*imag(c)) * scale
		}
		nseg++
	}

	freqs = make([]float64, nfreq)
	for k := range psd {
		psd[k] /= float64(nseg)
		if k > 0 && !(nperseg%2 == 0 && k == nfreq-1) {
			psd[k] *= 2
		}
		freqs[k] = float64(k) * fs / float64(nperseg)
	}
	return freqs, psd
}

// periodicHann is the length-n Hann window for spectral analysis, the first
// n points of an n+1 point symmetric window.
func periodicHann(n int) []float64 {
	w := make([]float64, n+1)
	for i := range w {
		w[i] = 1
	}
	return window.Hann(w)[:n]
}
