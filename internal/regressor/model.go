package regressor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/synapse/internal/features"
)

// Mode binds a regressor to a label domain.
type Mode int

const (
	// Discrete predicts a difficulty class in [1, 3].
	Discrete Mode = iota + 1
	// Continuous predicts a confusion score in [1, 10].
	Continuous
)

// Bounds returns the valid label range for the mode.
func (m Mode) Bounds() (lo, hi float64) {
	if m == Discrete {
		return 1, 3
	}
	return 1, 10
}

func (m Mode) String() string {
	switch m {
	case Discrete:
		return "discrete"
	case Continuous:
		return "continuous"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func (m Mode) MarshalText() ([]byte, error) {
	if m != Discrete && m != Continuous {
		return nil, fmt.Errorf("regressor: invalid mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "discrete":
		*m = Discrete
	case "continuous":
		*m = Continuous
	default:
		return fmt.Errorf("regressor: unknown mode %q", text)
	}
	return nil
}

var difficultyNames = []string{"easy", "medium", "hard"}

// ParseDifficulty maps easy/medium/hard onto the discrete labels 1..3.
func ParseDifficulty(name string) (float64, error) {
	for i, n := range difficultyNames {
		if strings.EqualFold(strings.TrimSpace(name), n) {
			return float64(i + 1), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown difficulty %q", ErrInvalidLabel, name)
}

// DifficultyName is the inverse of ParseDifficulty for levels 1..3.
func DifficultyName(level int) string {
	if level < 1 || level > len(difficultyNames) {
		return ""
	}
	return difficultyNames[level-1]
}

// Metric is a training statistic. Values that could not be computed are
// held as NaN and encoded as JSON null.
type Metric float64

// Unavailable is the marker for a metric that could not be computed.
func Unavailable() Metric { return Metric(math.NaN()) }

func metric(v float64) Metric {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Unavailable()
	}
	return Metric(v)
}

// Valid reports whether the metric holds a finite value.
func (m Metric) Valid() bool {
	return !math.IsNaN(float64(m)) && !math.IsInf(float64(m), 0)
}

func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Valid() {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, float64(m), 'g', -1, 64), nil
}

func (m *Metric) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Unavailable()
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("regressor: metric %q: %w", data, err)
	}
	*m = metric(v)
	return nil
}

func (m Metric) String() string {
	if !m.Valid() {
		return "n/a"
	}
	return strconv.FormatFloat(float64(m), 'f', 3, 64)
}

// Metrics summarises a training run.
type Metrics struct {
	Samples int `json:"n_samples"`
	Train   int `json:"n_train"`
	Test    int `json:"n_test"`
	// Degenerate is set when too few examples were available to hold any
	// out, so the test figures are measured on the training set.
	Degenerate bool `json:"degenerate"`
	Stratified bool `json:"stratified"`

	TrainR2  Metric `json:"train_r2"`
	TestR2   Metric `json:"test_r2"`
	TrainMSE Metric `json:"train_mse"`
	TestMSE  Metric `json:"test_mse"`
	TrainMAE Metric `json:"train_mae"`
	TestMAE  Metric `json:"test_mae"`

	CVFolds  int    `json:"cv_folds"`
	CVR2Mean Metric `json:"cv_r2_mean"`
	CVR2Std  Metric `json:"cv_r2_std"`

	// LabelCounts is filled for discrete models, keyed by class name.
	LabelCounts map[string]int `json:"label_distribution,omitempty"`
	// Skipped counts examples dropped by the caller before training.
	Skipped  int    `json:"skipped,omitempty"`
	Duration Metric `json:"training_time_seconds"`
}

// Scaler standardises features with statistics from the training split.
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// Model is a trained linear model. It is never modified after creation.
type Model struct {
	Name         string          `json:"name"`
	Schema       features.Schema `json:"schema"`
	Mode         Mode            `json:"mode"`
	FeatureNames []string        `json:"feature_names"`
	Coefficients []float64       `json:"coefficients"`
	Intercept    float64         `json:"intercept"`
	Scaler       Scaler          `json:"scaler"`
	// Version is zero until the model has been saved.
	Version   int       `json:"version"`
	TrainedAt time.Time `json:"trained_at"`
	Metrics   Metrics   `json:"metrics"`
}

// withVersion returns a copy of m carrying version v. Slices are shared
// since models are immutable.
func (m *Model) withVersion(v int) *Model {
	c := *m
	c.Version = v
	return &c
}

// raw applies the scaler and linear model to x.
func (m *Model) raw(x []float64) float64 {
	y := m.Intercept
	for j, v := range x {
		y += m.Coefficients[j] * (v - m.Scaler.Mean[j]) / m.Scaler.Std[j]
	}
	return y
}

// compatible checks that m can serve vectors of schema s.
func (m *Model) compatible(s features.Schema, mode Mode) error {
	if m.Schema != s {
		return fmt.Errorf("%w: model schema %s, want %s", ErrSchemaMismatch, m.Schema, s)
	}
	if m.Mode != mode {
		return fmt.Errorf("%w: model mode %s, want %s", ErrSchemaMismatch, m.Mode, mode)
	}
	names := s.Names()
	if len(m.FeatureNames) != len(names) {
		return fmt.Errorf("%w: model has %d features, schema %d", ErrSchemaMismatch, len(m.FeatureNames), len(names))
	}
	for i, n := range names {
		if m.FeatureNames[i] != n {
			return fmt.Errorf("%w: feature %d is %q, want %q", ErrSchemaMismatch, i, m.FeatureNames[i], n)
		}
	}
	if len(m.Coefficients) != len(names) || len(m.Scaler.Mean) != len(names) || len(m.Scaler.Std) != len(names) {
		return fmt.Errorf("%w: coefficient or scaler length does not match %d features", ErrSchemaMismatch, len(names))
	}
	for _, s := range m.Scaler.Std {
		if s == 0 || math.IsNaN(s) {
			return fmt.Errorf("%w: scaler has zero or NaN deviation", ErrSchemaMismatch)
		}
	}
	return nil
}

// Prediction is the output of Regressor.Predict.
type Prediction struct {
	// Label is the clamped estimate; for discrete models it is rounded to
	// the nearest class.
	Label      float64 `json:"label"`
	Clamped    float64 `json:"clamped"`
	Raw        float64 `json:"raw"`
	Confidence float64 `json:"confidence"`
	Class      string  `json:"class,omitempty"`
	Version    int     `json:"model_version"`
}
