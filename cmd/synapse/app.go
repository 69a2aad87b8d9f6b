package main

import (
	"errors"
	"fmt"

	"github.com/banshee-data/synapse/internal/config"
	"github.com/banshee-data/synapse/internal/db"
	"github.com/banshee-data/synapse/internal/eeg"
	"github.com/banshee-data/synapse/internal/features"
	"github.com/banshee-data/synapse/internal/monitoring"
	"github.com/banshee-data/synapse/internal/regressor"
	"github.com/banshee-data/synapse/internal/session"
)

// app holds the collaborators shared by the serve, train and models
// commands.
type app struct {
	cfg *config.Config
	db  *db.DB
	mon *eeg.Monitor
	svc *session.Service
}

func newRegressor(cfg *config.Config, rc regressor.Config) (*regressor.Regressor, error) {
	rc.CacheSize = cfg.GetModelCacheSize()
	r, err := regressor.New(rc)
	if err != nil {
		return nil, err
	}
	// Startup continues untrained when the newest artifact is unreadable.
	if ok, err := r.Load(0); err != nil {
		monitoring.Logf("regressor %s: failed to load latest model: %v", r.Name(), err)
	} else if !ok {
		monitoring.Logf("regressor %s: no stored model", r.Name())
	}
	return r, nil
}

func openApp(cfg *config.Config) (*app, error) {
	store, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	confusion, errC := newRegressor(cfg, regressor.ConfusionConfig(cfg.GetModelsDir()))
	difficulty, errD := newRegressor(cfg, regressor.DifficultyConfig(cfg.GetModelsDir()))
	if err := errors.Join(errC, errD); err != nil {
		store.Close()
		return nil, err
	}

	mon := eeg.NewMonitor(eeg.Config{
		Capacity: cfg.GetBufferCapacity(),
		Timeout:  cfg.GetConnectionTimeout(),
	})
	svc, err := session.New(session.Config{
		Store:           store,
		Buffer:          mon,
		Confusion:       confusion,
		Difficulty:      difficulty,
		Extractor:       features.Extractor{SampleRate: cfg.GetSampleRate()},
		PromptCount:     cfg.GetCalibrationPrompts(),
		ValidationSplit: cfg.GetValidationSplit(),
		DedupeTTL:       cfg.GetReviewDedupeTTL(),
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return &app{cfg: cfg, db: store, mon: mon, svc: svc}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
