// Package regressor trains and serves the linear models that map EEG
// feature vectors onto a difficulty class or a confusion score, and keeps
// their versioned artifacts on disk.
package regressor

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/synapse/internal/features"
	"github.com/banshee-data/synapse/internal/fsutil"
	"github.com/banshee-data/synapse/internal/monitoring"
	"github.com/banshee-data/synapse/internal/timeutil"
)

var (
	ErrInsufficientData = errors.New("regressor: insufficient training data")
	ErrModelNotTrained  = errors.New("regressor: model not trained")
	ErrPersistence      = errors.New("regressor: persistence failure")
	ErrSchemaMismatch   = errors.New("regressor: feature schema mismatch")
	ErrInvalidLabel     = errors.New("regressor: label outside domain")
)

const (
	// DefaultValidationSplit is the held-out share used when Train is given 0.
	DefaultValidationSplit = 0.2
	// DefaultSeed fixes the train/validation shuffle.
	DefaultSeed = 42

	// minSplitExamples is the smallest set that is split at all; below it
	// the model is fit and scored on every example.
	minSplitExamples = 5
	// minStratifyExamples is the smallest set that is stratified by label.
	minStratifyExamples = 10
	maxFolds            = 5
)

// Example is one labelled training row.
type Example struct {
	Features features.Vector
	Label    float64
}

// Config describes one regressor instance. Schema and Mode are bound
// together for the life of the instance.
type Config struct {
	// Name identifies the regressor in logs, metrics and artifacts.
	Name   string
	Schema features.Schema
	Mode   Mode
	// Dir holds model_v{N}.json.zst artifacts.
	Dir       string
	FS        fsutil.FileSystem
	Clock     timeutil.Clock
	Seed      uint64
	CacheSize int
}

// ConfusionConfig is the continuous band-power regressor stored under
// dir/confusion.
func ConfusionConfig(dir string) Config {
	return Config{Name: "confusion", Schema: features.BandPower, Mode: Continuous, Dir: filepath.Join(dir, "confusion")}
}

// DifficultyConfig is the discrete raw-channel regressor stored under
// dir/difficulty.
func DifficultyConfig(dir string) Config {
	return Config{Name: "difficulty", Schema: features.RawChannel, Mode: Discrete, Dir: filepath.Join(dir, "difficulty")}
}

// Regressor holds at most one active model. Train, Save and Load are
// serialised; Predict reads an immutable snapshot and may run concurrently
// with everything else.
type Regressor struct {
	cfg   Config
	cache *lru.Cache[int, *Model]

	// opMu serialises Train, Save and Load.
	opMu sync.Mutex

	mu      sync.RWMutex
	model   *Model
	version int // active artifact version, 0 when none
}

// New creates a Regressor. It does not touch the filesystem.
func New(cfg Config) (*Regressor, error) {
	if !cfg.Schema.Valid() {
		return nil, fmt.Errorf("regressor %q: invalid schema %d", cfg.Name, int(cfg.Schema))
	}
	if cfg.Mode != Discrete && cfg.Mode != Continuous {
		return nil, fmt.Errorf("regressor %q: invalid mode %d", cfg.Name, int(cfg.Mode))
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Mode.String()
	}
	if cfg.FS == nil {
		cfg.FS = fsutil.OSFileSystem{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Seed == 0 {
		cfg.Seed = DefaultSeed
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 8
	}
	cache, err := lru.New[int, *Model](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Regressor{cfg: cfg, cache: cache}, nil
}

// Name returns the configured regressor name.
func (r *Regressor) Name() string { return r.cfg.Name }

// Schema returns the feature schema the regressor consumes.
func (r *Regressor) Schema() features.Schema { return r.cfg.Schema }

// Mode returns the label domain.
func (r *Regressor) Mode() Mode { return r.cfg.Mode }

// IsTrained reports whether a model is active.
func (r *Regressor) IsTrained() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.model != nil
}

// Model returns the active model, or nil.
func (r *Regressor) Model() *Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.model
}

func (r *Regressor) swap(m *Model, version int) {
	r.mu.Lock()
	r.model = m
	r.version = version
	r.mu.Unlock()
}

// Train fits a new model on examples and makes it active. split is the
// held-out share; 0 selects DefaultValidationSplit. The new model has no
// version until it is saved, so no stored artifact is reported active.
func (r *Regressor) Train(examples []Example, split float64) (Metrics, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	m, err := r.fit(examples, split)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	monitoring.TrainingRuns.WithLabelValues(r.cfg.Name, outcome).Inc()
	if err != nil {
		return Metrics{}, err
	}

	r.swap(m, 0)

	monitoring.Logf("regressor %s: trained on %d examples (train=%d test=%d) test_r2=%s test_mae=%s",
		r.cfg.Name, m.Metrics.Samples, m.Metrics.Train, m.Metrics.Test, m.Metrics.TestR2, m.Metrics.TestMAE)
	return m.Metrics, nil
}

func (r *Regressor) fit(examples []Example, split float64) (*Model, error) {
	if split == 0 {
		split = DefaultValidationSplit
	}
	if !(split > 0 && split < 1) {
		return nil, fmt.Errorf("regressor %s: validation split %v outside (0, 1)", r.cfg.Name, split)
	}
	n := len(examples)
	if n == 0 {
		return nil, fmt.Errorf("%w: no examples", ErrInsufficientData)
	}

	p := r.cfg.Schema.Len()
	lo, hi := r.cfg.Mode.Bounds()
	x := mat.NewDense(n, p, nil)
	y := make([]float64, n)
	for i, ex := range examples {
		if ex.Features.Schema != r.cfg.Schema {
			return nil, fmt.Errorf("%w: example %d has schema %s, want %s", ErrSchemaMismatch, i, ex.Features.Schema, r.cfg.Schema)
		}
		if err := ex.Features.Validate(); err != nil {
			return nil, fmt.Errorf("%w: example %d: %v", ErrSchemaMismatch, i, err)
		}
		if math.IsNaN(ex.Label) || ex.Label < lo || ex.Label > hi {
			return nil, fmt.Errorf("%w: example %d label %v not in [%v, %v]", ErrInvalidLabel, i, ex.Label, lo, hi)
		}
		x.SetRow(i, ex.Features.Values)
		y[i] = ex.Label
	}

	start := time.Now()
	metrics := Metrics{Samples: n}
	var trainIdx, testIdx []int
	if n < minSplitExamples {
		trainIdx = make([]int, n)
		for i := range trainIdx {
			trainIdx[i] = i
		}
		testIdx = trainIdx
		metrics.Degenerate = true
	} else {
		stratify := r.cfg.Mode == Discrete && n >= minStratifyExamples
		trainIdx, testIdx, metrics.Stratified = splitIndices(y, split, stratify, r.cfg.Seed)
	}
	metrics.Train, metrics.Test = len(trainIdx), len(testIdx)

	xTrain, yTrain := rows(x, trainIdx), pick(y, trainIdx)
	xTest, yTest := rows(x, testIdx), pick(y, testIdx)

	scaler := fitScaler(xTrain)
	xTrainS := scaler.transform(xTrain)
	xTestS := scaler.transform(xTest)

	coef, intercept, ok := fitLinear(xTrainS, yTrain)
	if !ok {
		return nil, fmt.Errorf("regressor %s: least-squares factorisation did not converge", r.cfg.Name)
	}

	trainPred := predictRows(xTrainS, coef, intercept)
	testPred := predictRows(xTestS, coef, intercept)
	metrics.TrainR2 = metric(r2(yTrain, trainPred))
	metrics.TestR2 = metric(r2(yTest, testPred))
	metrics.TrainMSE = metric(mse(yTrain, trainPred))
	metrics.TestMSE = metric(mse(yTest, testPred))
	metrics.TrainMAE = metric(mae(yTrain, trainPred))
	metrics.TestMAE = metric(mae(yTest, testPred))

	metrics.CVR2Mean, metrics.CVR2Std = Unavailable(), Unavailable()
	if n >= minSplitExamples {
		k := min(maxFolds, len(trainIdx))
		if k >= 2 {
			metrics.CVFolds = k
			mean, std := kFoldR2(xTrainS, yTrain, k)
			metrics.CVR2Mean, metrics.CVR2Std = metric(mean), metric(std)
		}
	}

	if r.cfg.Mode == Discrete {
		metrics.LabelCounts = map[string]int{}
		for _, name := range difficultyNames {
			metrics.LabelCounts[name] = 0
		}
		for _, v := range y {
			if name := DifficultyName(int(math.Round(v))); name != "" {
				metrics.LabelCounts[name]++
			}
		}
	}
	metrics.Duration = metric(time.Since(start).Seconds())

	return &Model{
		Name:         r.cfg.Name,
		Schema:       r.cfg.Schema,
		Mode:         r.cfg.Mode,
		FeatureNames: append([]string(nil), r.cfg.Schema.Names()...),
		Coefficients: coef,
		Intercept:    intercept,
		Scaler:       scaler,
		TrainedAt:    r.cfg.Clock.Now().UTC(),
		Metrics:      metrics,
	}, nil
}

// Predict maps v onto the model's label domain.
func (r *Regressor) Predict(v features.Vector) (Prediction, error) {
	m := r.Model()
	if m == nil {
		return Prediction{}, ErrModelNotTrained
	}
	if v.Schema != m.Schema {
		return Prediction{}, fmt.Errorf("%w: vector schema %s, model %s", ErrSchemaMismatch, v.Schema, m.Schema)
	}
	if err := v.Validate(); err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}

	raw := m.raw(v.Values)
	lo, hi := m.Mode.Bounds()
	clamped := math.Max(lo, math.Min(hi, raw))
	p := Prediction{Raw: raw, Clamped: clamped, Label: clamped, Version: m.Version}
	if m.Mode == Discrete {
		level := math.Round(clamped)
		p.Label = level
		p.Confidence = 1 - math.Abs(clamped-level)
		p.Class = DifficultyName(int(level))
	} else {
		p.Confidence = 1 / (1 + math.Abs(raw-clamped))
	}
	monitoring.Predictions.WithLabelValues(r.cfg.Name).Inc()
	return p, nil
}

// Info describes the active model for status endpoints.
type Info struct {
	Name      string          `json:"name"`
	Schema    features.Schema `json:"schema"`
	Mode      Mode            `json:"mode"`
	Trained   bool            `json:"trained"`
	Version   int             `json:"version"`
	TrainedAt *time.Time      `json:"trained_at,omitempty"`
	Metrics   *Metrics        `json:"metrics,omitempty"`
}

// Info returns a description of the active model.
func (r *Regressor) Info() Info {
	r.mu.RLock()
	m, version := r.model, r.version
	r.mu.RUnlock()

	info := Info{Name: r.cfg.Name, Schema: r.cfg.Schema, Mode: r.cfg.Mode, Version: version}
	if m != nil {
		info.Trained = true
		at := m.TrainedAt
		info.TrainedAt = &at
		metrics := m.Metrics
		info.Metrics = &metrics
	}
	return info
}
