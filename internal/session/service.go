// Package session coordinates calibration and learning: it ties the EEG
// buffer, the feature extractor, the two regressors and the scheduler
// together behind one explicit service object.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/banshee-data/synapse/internal/eeg"
	"github.com/banshee-data/synapse/internal/features"
	"github.com/banshee-data/synapse/internal/monitoring"
	"github.com/banshee-data/synapse/internal/regressor"
	"github.com/banshee-data/synapse/internal/scheduler"
	"github.com/banshee-data/synapse/internal/timeutil"
)

// Stage is the coarse state of the service.
type Stage string

const (
	StageReady            Stage = "ready"
	StageCalibration      Stage = "calibration"
	StageReadyForLearning Stage = "ready_for_learning"
	StageLearning         Stage = "learning"
)

// Buffer is the read side of the EEG monitor.
type Buffer interface {
	Now() float64
	SamplesSince(ts float64) []eeg.Sample
	RecentSamples(d time.Duration) []eeg.Sample
	Len() int
	Reset()
}

const (
	DefaultDedupeTTL     = 5 * time.Minute
	DefaultPredictWindow = 2 * time.Second
)

// Config wires a Service. Store, Buffer, Confusion and Difficulty are
// required.
type Config struct {
	Store      Store
	Buffer     Buffer
	Confusion  *regressor.Regressor
	Difficulty *regressor.Regressor
	Extractor  features.Extractor
	Clock      timeutil.Clock

	// Prompts defaults to the embedded bank; PromptCount caps how many of
	// them a calibration run offers.
	Prompts     []Prompt
	PromptCount int

	ValidationSplit float64
	// DedupeTTL is how long a review request id is remembered.
	DedupeTTL time.Duration
	// PredictWindow is the trailing span used when no presentation window
	// is available.
	PredictWindow time.Duration
}

type calibrationState struct {
	session CalibrationSession
	// trial is the prompt currently shown, nil between trials.
	trial      *Prompt
	trialStart float64
	submitted  int
}

type presentation struct {
	cardID string
	at     float64
}

// LearningSession is a run of reviews over one deck. An empty DeckID
// covers every card.
type LearningSession struct {
	ID        string    `json:"session_id"`
	DeckID    string    `json:"deck_id,omitempty"`
	StartedAt time.Time `json:"start_time"`
}

// Service is the single coordinator for one user. All methods are safe for
// concurrent use.
type Service struct {
	cfg   Config
	sched *scheduler.Scheduler

	mu        sync.Mutex
	stage     Stage
	calib     *calibrationState
	learning  *LearningSession
	presented *presentation

	dedupe   *cache.Cache
	inflight singleflight.Group
}

// New validates cfg and returns a Service in the ready stage.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Buffer == nil || cfg.Confusion == nil || cfg.Difficulty == nil {
		return nil, errors.New("session: store, buffer and both regressors are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Prompts == nil {
		cfg.Prompts = DefaultPrompts()
	}
	if cfg.PromptCount <= 0 || cfg.PromptCount > len(cfg.Prompts) {
		cfg.PromptCount = len(cfg.Prompts)
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = DefaultDedupeTTL
	}
	if cfg.PredictWindow <= 0 {
		cfg.PredictWindow = DefaultPredictWindow
	}
	return &Service{
		cfg:    cfg,
		sched:  scheduler.New(cfg.Store, cfg.Clock),
		stage:  StageReady,
		dedupe: cache.New(cfg.DedupeTTL, 2*cfg.DedupeTTL),
	}, nil
}

// Regressor returns the regressor trained by calibration runs of kind.
func (s *Service) Regressor(kind Kind) *regressor.Regressor {
	if kind == KindDifficulty {
		return s.cfg.Difficulty
	}
	return s.cfg.Confusion
}

// Prompts returns the prompts offered during calibration.
func (s *Service) Prompts() []Prompt {
	return s.cfg.Prompts[:s.cfg.PromptCount]
}

// Stage returns the current stage.
func (s *Service) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// StartCalibration opens a calibration run of kind, abandoning any run or
// learning session in progress.
func (s *Service) StartCalibration(ctx context.Context, kind Kind) (CalibrationSession, error) {
	cs := CalibrationSession{
		ID:        uuid.NewString(),
		Kind:      kind,
		StartedAt: s.cfg.Clock.Now().UTC(),
	}
	if err := s.cfg.Store.CreateCalibrationSession(ctx, cs); err != nil {
		return CalibrationSession{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = StageCalibration
	s.calib = &calibrationState{session: cs}
	s.learning = nil
	s.presented = nil
	monitoring.Logf("calibration %s started (%s)", cs.ID, kind)
	return cs, nil
}

// TrialPrompt is returned by BeginTrial.
type TrialPrompt struct {
	Index  int    `json:"trial_id"`
	Prompt Prompt `json:"prompt"`
	Total  int    `json:"total"`
}

// BeginTrial shows prompt index and starts capturing EEG for it.
func (s *Service) BeginTrial(index int) (TrialPrompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.calib == nil {
		return TrialPrompt{}, ErrNoActiveSession
	}
	if index < 0 || index >= s.cfg.PromptCount {
		return TrialPrompt{}, fmt.Errorf("%w: %d", ErrInvalidPrompt, index)
	}
	p := s.cfg.Prompts[index]
	s.calib.trial = &p
	s.calib.trialStart = s.cfg.Buffer.Now()
	return TrialPrompt{Index: index, Prompt: p, Total: s.cfg.PromptCount}, nil
}

// SubmitTrial closes the current trial. Confusion runs are labelled with
// score; difficulty runs use the prompt's difficulty class and ignore it.
// The EEG captured since BeginTrial is stored with the label.
func (s *Service) SubmitTrial(ctx context.Context, score float64) (Trial, error) {
	s.mu.Lock()
	calib := s.calib
	if calib == nil {
		s.mu.Unlock()
		return Trial{}, ErrNoActiveSession
	}
	if calib.trial == nil {
		s.mu.Unlock()
		return Trial{}, fmt.Errorf("%w: no trial in progress", ErrWrongStage)
	}
	p := *calib.trial

	label := score
	if calib.session.Kind == KindDifficulty {
		var err error
		if label, err = regressor.ParseDifficulty(p.Difficulty); err != nil {
			s.mu.Unlock()
			return Trial{}, err
		}
	} else if !scheduler.ValidScore(score) {
		s.mu.Unlock()
		return Trial{}, scheduler.ErrInvalidScore
	}

	t := Trial{
		SessionID: calib.session.ID,
		Kind:      calib.session.Kind,
		PromptID:  p.ID,
		Label:     label,
		Samples:   s.cfg.Buffer.SamplesSince(calib.trialStart),
		CreatedAt: s.cfg.Clock.Now().UTC(),
	}
	// The trial is claimed before the store call so a second submission
	// of it fails instead of saving a duplicate.
	calib.trial = nil
	s.mu.Unlock()

	err := s.cfg.Store.SaveTrial(ctx, &t)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.calib == calib && calib.trial == nil {
			calib.trial = &p
		}
		return Trial{}, err
	}
	calib.submitted++
	return t, nil
}

// CalibrationResult reports a finished calibration run.
type CalibrationResult struct {
	SessionID string            `json:"session_id"`
	Kind      Kind              `json:"kind"`
	Trials    int               `json:"trials"`
	Used      int               `json:"used"`
	Skipped   int               `json:"skipped"`
	Version   int               `json:"model_version"`
	Metrics   regressor.Metrics `json:"metrics"`
}

// FinishCalibration trains the run's regressor on every stored trial of
// the same kind and saves the result as a new model version. Trials whose
// EEG cannot produce a feature vector are skipped.
func (s *Service) FinishCalibration(ctx context.Context) (CalibrationResult, error) {
	s.mu.Lock()
	if s.calib == nil {
		s.mu.Unlock()
		return CalibrationResult{}, ErrNoActiveSession
	}
	cs := s.calib.session
	s.mu.Unlock()

	res, err := s.Retrain(ctx, cs.Kind)
	res.SessionID = cs.ID
	if err != nil {
		return res, err
	}
	reg := s.Regressor(cs.Kind)
	version, metrics := res.Version, res.Metrics
	if err := s.cfg.Store.FinishCalibrationSession(ctx, cs.ID, s.cfg.Clock.Now().UTC(), version); err != nil {
		return res, err
	}

	s.mu.Lock()
	if s.calib != nil && s.calib.session.ID == cs.ID {
		s.calib = nil
		s.stage = StageReady
		if s.cfg.Confusion.IsTrained() {
			s.stage = StageReadyForLearning
		}
	}
	s.mu.Unlock()

	monitoring.Logf("calibration %s trained %s v%d on %d trials (%d skipped), test R2 %s",
		cs.ID, reg.Name(), version, res.Used, res.Skipped, metrics.TestR2)
	return res, nil
}

// Retrain fits the regressor of kind on every stored trial of that kind
// and saves a new model version. Trials whose EEG cannot produce a feature
// vector are skipped. It does not need an active calibration run.
func (s *Service) Retrain(ctx context.Context, kind Kind) (CalibrationResult, error) {
	trials, err := s.cfg.Store.ListTrials(ctx, kind)
	if err != nil {
		return CalibrationResult{Kind: kind}, err
	}
	reg := s.Regressor(kind)
	res := CalibrationResult{Kind: kind, Trials: len(trials)}

	examples := make([]regressor.Example, 0, len(trials))
	for _, t := range trials {
		v, err := s.cfg.Extractor.Extract(t.Samples, reg.Schema())
		if err != nil {
			res.Skipped++
			continue
		}
		examples = append(examples, regressor.Example{Features: v, Label: t.Label})
	}
	res.Used = len(examples)

	metrics, err := reg.Train(examples, s.cfg.ValidationSplit)
	if err != nil {
		return res, err
	}
	metrics.Skipped = res.Skipped
	res.Metrics = metrics

	version, err := reg.Save(regressor.NewVersion)
	if err != nil {
		return res, err
	}
	res.Version = version

	s.mu.Lock()
	if s.stage == StageReady && s.cfg.Confusion.IsTrained() {
		s.stage = StageReadyForLearning
	}
	s.mu.Unlock()
	return res, nil
}

// CreateDeck stores a new empty deck.
func (s *Service) CreateDeck(ctx context.Context, name string) (Deck, error) {
	d := Deck{ID: uuid.NewString(), Name: name, CreatedAt: s.cfg.Clock.Now().UTC()}
	if err := s.cfg.Store.CreateDeck(ctx, d); err != nil {
		return Deck{}, err
	}
	return d, nil
}

// AddCard stores a new card in deckID, due immediately.
func (s *Service) AddCard(ctx context.Context, deckID, front, back string) (scheduler.Flashcard, error) {
	if _, err := s.cfg.Store.GetDeck(ctx, deckID); err != nil {
		return scheduler.Flashcard{}, err
	}
	c := scheduler.NewFlashcard(uuid.NewString(), deckID, front, back, s.cfg.Clock.Now().UTC())
	if err := s.cfg.Store.PutCard(ctx, c); err != nil {
		return scheduler.Flashcard{}, err
	}
	return c, nil
}

// StartLearning opens a learning session over deckID ("" for all cards).
// The confusion regressor must be trained.
func (s *Service) StartLearning(ctx context.Context, deckID string) (LearningSession, error) {
	if !s.cfg.Confusion.IsTrained() {
		return LearningSession{}, regressor.ErrModelNotTrained
	}
	if deckID != "" {
		if _, err := s.cfg.Store.GetDeck(ctx, deckID); err != nil {
			return LearningSession{}, err
		}
	}
	ls := LearningSession{ID: uuid.NewString(), DeckID: deckID, StartedAt: s.cfg.Clock.Now().UTC()}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = StageLearning
	s.learning = &ls
	s.calib = nil
	s.presented = nil
	monitoring.Logf("learning session %s started", ls.ID)
	return ls, nil
}

func (s *Service) activeLearning() (LearningSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.learning == nil {
		return LearningSession{}, ErrNoActiveSession
	}
	return *s.learning, nil
}

// NextCard selects the next card to show and marks the presentation time;
// the EEG captured from here on scores the card's review. ok is false when
// the deck has no cards.
func (s *Service) NextCard(ctx context.Context) (scheduler.Flashcard, bool, error) {
	ls, err := s.activeLearning()
	if err != nil {
		return scheduler.Flashcard{}, false, err
	}
	card, ok, err := s.sched.Next(ctx, ls.DeckID)
	if err != nil || !ok {
		return card, ok, err
	}

	s.mu.Lock()
	if s.learning != nil && s.learning.ID == ls.ID {
		s.presented = &presentation{cardID: card.ID, at: s.cfg.Buffer.Now()}
	}
	s.mu.Unlock()
	return card, true, nil
}

// ReviewRequest is one card review from the learner.
type ReviewRequest struct {
	CardID string `json:"card_id"`
	// Rating is the learner's own 1–10 confusion score, if given.
	Rating *float64 `json:"user_rating,omitempty"`
	// RequestID makes the call idempotent: a repeat within the dedupe TTL
	// returns the first result without updating the card again.
	RequestID string `json:"request_id,omitempty"`
}

// Review scores a card from EEG when the confusion model can predict,
// otherwise from the learner's rating, otherwise as neutral, then
// reschedules the card and records the review.
func (s *Service) Review(ctx context.Context, req ReviewRequest) (Review, error) {
	ls, err := s.activeLearning()
	if err != nil {
		return Review{}, err
	}
	if req.RequestID == "" {
		return s.review(ctx, ls, req)
	}

	// Concurrent submissions of one request id share a single update. The
	// cache is checked again inside the flight because a finished flight
	// is forgotten before late callers arrive.
	key := ls.ID + "/" + req.RequestID
	if v, ok := s.dedupe.Get(key); ok {
		return v.(Review), nil
	}
	v, err, _ := s.inflight.Do(key, func() (interface{}, error) {
		if v, ok := s.dedupe.Get(key); ok {
			return v.(Review), nil
		}
		rev, err := s.review(ctx, ls, req)
		if err != nil {
			return nil, err
		}
		s.dedupe.SetDefault(key, rev)
		return rev, nil
	})
	if err != nil {
		return Review{}, err
	}
	return v.(Review), nil
}

func (s *Service) review(ctx context.Context, ls LearningSession, req ReviewRequest) (Review, error) {
	if req.Rating != nil && !scheduler.ValidScore(*req.Rating) {
		return Review{}, scheduler.ErrInvalidScore
	}

	rev := Review{SessionID: ls.ID, CardID: req.CardID, UserRating: req.Rating}
	if p, ok := s.predictConfusion(req.CardID); ok {
		rev.Predicted = &p
	}
	switch {
	case rev.Predicted != nil:
		rev.Score, rev.Source = *rev.Predicted, SourceEEG
	case req.Rating != nil:
		rev.Score, rev.Source = *req.Rating, SourceUser
	default:
		rev.Score, rev.Source = scheduler.NeutralScore, SourceDefault
	}

	card, err := s.sched.Update(ctx, req.CardID, rev.Score)
	if err != nil {
		return Review{}, err
	}
	rev.IntervalDays = card.IntervalDays
	rev.NextReview = card.NextReview
	rev.ReviewedAt = s.cfg.Clock.Now().UTC()
	if err := s.cfg.Store.RecordReview(ctx, &rev); err != nil {
		return Review{}, err
	}
	monitoring.Reviews.WithLabelValues(rev.Source).Inc()

	s.mu.Lock()
	if s.presented != nil && s.presented.cardID == req.CardID {
		s.presented = nil
	}
	s.mu.Unlock()
	return rev, nil
}

// predictConfusion scores the EEG captured since cardID was presented, or
// the trailing window when it was not.
func (s *Service) predictConfusion(cardID string) (float64, bool) {
	s.mu.Lock()
	pres := s.presented
	s.mu.Unlock()

	var samples []eeg.Sample
	if pres != nil && pres.cardID == cardID {
		samples = s.cfg.Buffer.SamplesSince(pres.at)
	} else {
		samples = s.cfg.Buffer.RecentSamples(s.cfg.PredictWindow)
	}
	v, err := s.cfg.Extractor.Extract(samples, s.cfg.Confusion.Schema())
	if err != nil {
		return 0, false
	}
	p, err := s.cfg.Confusion.Predict(v)
	if err != nil || math.IsNaN(p.Label) {
		return 0, false
	}
	return p.Label, true
}

// PredictDifficulty classifies the trailing EEG window with the difficulty
// regressor.
func (s *Service) PredictDifficulty() (regressor.Prediction, error) {
	if !s.cfg.Difficulty.IsTrained() {
		return regressor.Prediction{}, regressor.ErrModelNotTrained
	}
	samples := s.cfg.Buffer.RecentSamples(s.cfg.PredictWindow)
	v, err := s.cfg.Extractor.Extract(samples, s.cfg.Difficulty.Schema())
	if err != nil {
		return regressor.Prediction{}, err
	}
	return s.cfg.Difficulty.Predict(v)
}

// SessionSummary heads a Results report.
type SessionSummary struct {
	ID            string    `json:"session_id"`
	DeckID        string    `json:"deck_id,omitempty"`
	StartedAt     time.Time `json:"start_time"`
	GeneratedAt   time.Time `json:"end_time"`
	TotalReviewed int       `json:"total_cards_reviewed"`
	Stage         Stage     `json:"stage"`
}

// Results is the end-of-session report.
type Results struct {
	Session    SessionSummary     `json:"session_summary"`
	Model      *regressor.Metrics `json:"model_performance"`
	Cards      FlashcardStats     `json:"flashcard_statistics"`
	Confusion  ConfusionAnalysis  `json:"confusion_analysis"`
	Efficiency LearningEfficiency `json:"learning_efficiency"`
}

// Results reports on the current learning session.
func (s *Service) Results(ctx context.Context) (Results, error) {
	ls, err := s.activeLearning()
	if err != nil {
		return Results{}, err
	}
	cards, err := s.cfg.Store.ListCards(ctx, ls.DeckID)
	if err != nil {
		return Results{}, err
	}
	reviews, err := s.cfg.Store.ListReviews(ctx, ls.ID)
	if err != nil {
		return Results{}, err
	}

	res := Results{
		Session: SessionSummary{
			ID:            ls.ID,
			DeckID:        ls.DeckID,
			StartedAt:     ls.StartedAt,
			GeneratedAt:   s.cfg.Clock.Now().UTC(),
			TotalReviewed: len(reviews),
			Stage:         s.Stage(),
		},
		Cards:      CardStats(cards),
		Confusion:  AnalyzeConfusion(reviews),
		Efficiency: Efficiency(cards),
	}
	if m := s.cfg.Confusion.Model(); m != nil {
		metrics := m.Metrics
		res.Model = &metrics
	}
	return res, nil
}

// Status is the service overview served by the status endpoint.
type Status struct {
	Stage             Stage             `json:"stage"`
	EEGSamples        int               `json:"eeg_samples"`
	Collecting        bool              `json:"is_collecting"`
	ModelTrained      bool              `json:"model_trained"`
	ModelScore        *regressor.Metric `json:"model_score"`
	TotalFlashcards   int               `json:"total_flashcards"`
	CalibrationTrials int               `json:"calibration_trials"`
	SessionID         string            `json:"session_id,omitempty"`
}

// Status reports the current stage, buffer and model state.
func (s *Service) Status(ctx context.Context) (Status, error) {
	cards, err := s.cfg.Store.CountCards(ctx)
	if err != nil {
		return Status{}, err
	}
	trials, err := s.cfg.Store.CountTrials(ctx, KindConfusion)
	if err != nil {
		return Status{}, err
	}

	s.mu.Lock()
	st := Status{
		Stage:             s.stage,
		Collecting:        s.calib != nil || s.learning != nil,
		TotalFlashcards:   cards,
		CalibrationTrials: trials,
	}
	switch {
	case s.calib != nil:
		st.SessionID = s.calib.session.ID
	case s.learning != nil:
		st.SessionID = s.learning.ID
	}
	s.mu.Unlock()

	st.EEGSamples = s.cfg.Buffer.Len()
	if m := s.cfg.Confusion.Model(); m != nil {
		st.ModelTrained = true
		r2 := m.Metrics.TestR2
		st.ModelScore = &r2
	}
	return st, nil
}

// Reset abandons any session, clears the EEG buffer and forgets review
// request ids. Stored data and trained models are kept.
func (s *Service) Reset() {
	s.mu.Lock()
	s.stage = StageReady
	if s.cfg.Confusion.IsTrained() {
		s.stage = StageReadyForLearning
	}
	s.calib = nil
	s.learning = nil
	s.presented = nil
	s.mu.Unlock()

	s.dedupe.Flush()
	s.cfg.Buffer.Reset()
	monitoring.Logf("session state reset")
}
