package session_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/synapse/internal/db"
	"github.com/banshee-data/synapse/internal/eeg"
	"github.com/banshee-data/synapse/internal/fsutil"
	"github.com/banshee-data/synapse/internal/regressor"
	"github.com/banshee-data/synapse/internal/scheduler"
	"github.com/banshee-data/synapse/internal/session"
	"github.com/banshee-data/synapse/internal/testutil"
	"github.com/banshee-data/synapse/internal/timeutil"
)

const rate = 256.0

type harness struct {
	svc   *session.Service
	db    *db.DB
	mon   *eeg.Monitor
	clock *timeutil.MockClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, func(d *db.DB) session.Store { return d })
}

// newHarnessWithStore builds a harness whose service talks to wrap(db).
func newHarnessWithStore(t *testing.T, wrap func(*db.DB) session.Store) *harness {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC))

	store, err := db.NewDB(filepath.Join(t.TempDir(), "synapse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mem := fsutil.NewMemoryFileSystem()
	newReg := func(cfg regressor.Config) *regressor.Regressor {
		cfg.FS = mem
		cfg.Clock = clock
		r, err := regressor.New(cfg)
		require.NoError(t, err)
		return r
	}

	mon := eeg.NewMonitor(eeg.Config{Capacity: 2560, Clock: clock})
	svc, err := session.New(session.Config{
		Store:      wrap(store),
		Buffer:     mon,
		Confusion:  newReg(regressor.ConfusionConfig("/models")),
		Difficulty: newReg(regressor.DifficultyConfig("/models")),
		Clock:      clock,
	})
	require.NoError(t, err)
	return &harness{svc: svc, db: store, mon: mon, clock: clock}
}

// stream ingests seconds of alpha-band EEG starting now and advances the
// clock past it.
func (h *harness) stream(seconds, amplitude float64) {
	n := int(seconds * rate)
	for _, s := range testutil.AlphaSamples(n, rate, h.mon.Now(), amplitude) {
		h.mon.Ingest(s)
	}
	h.clock.Advance(time.Duration(seconds * float64(time.Second)))
}

func (h *harness) calibrate(t *testing.T, scores ...float64) session.CalibrationResult {
	t.Helper()
	ctx := context.Background()
	_, err := h.svc.StartCalibration(ctx, session.KindConfusion)
	require.NoError(t, err)
	for i, score := range scores {
		_, err := h.svc.BeginTrial(i)
		require.NoError(t, err)
		h.stream(1.5, 5*score)
		_, err = h.svc.SubmitTrial(ctx, score)
		require.NoError(t, err)
	}
	res, err := h.svc.FinishCalibration(ctx)
	require.NoError(t, err)
	return res
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := session.New(session.Config{})
	assert.Error(t, err)
}

func TestConfusionCalibration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	assert.Equal(t, session.StageReady, h.svc.Stage())

	res := h.calibrate(t, 2, 3, 5, 6, 8, 9)
	assert.Equal(t, session.KindConfusion, res.Kind)
	assert.Equal(t, 6, res.Trials)
	assert.Equal(t, 6, res.Used)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 1, res.Version)
	assert.Equal(t, 6, res.Metrics.Samples)
	assert.Equal(t, session.StageReadyForLearning, h.svc.Stage())

	st, err := h.svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.ModelTrained)
	assert.NotNil(t, st.ModelScore)
	assert.Equal(t, 6, st.CalibrationTrials)
	assert.False(t, st.Collecting)

	sessions, err := h.db.CalibrationSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].FinishedAt)
	assert.Equal(t, 1, sessions[0].ModelVersion)
}

func TestCalibrationSkipsShortTrials(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.StartCalibration(ctx, session.KindConfusion)
	require.NoError(t, err)
	for i, score := range []float64{1, 4, 7, 10, 3, 6} {
		_, err := h.svc.BeginTrial(i)
		require.NoError(t, err)
		seconds := 1.5
		if i == 0 {
			seconds = 0.25
		}
		h.stream(seconds, 5*score)
		trial, err := h.svc.SubmitTrial(ctx, score)
		require.NoError(t, err)
		assert.Equal(t, int(seconds*rate), len(trial.Samples))
	}
	res, err := h.svc.FinishCalibration(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Trials)
	assert.Equal(t, 5, res.Used)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Metrics.Skipped)
}

// gatedStore holds SaveTrial until release is closed.
type gatedStore struct {
	*db.DB
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) SaveTrial(ctx context.Context, tr *session.Trial) error {
	close(g.entered)
	<-g.release
	return g.DB.SaveTrial(ctx, tr)
}

func TestSubmitTrialDoesNotBlockDuringSave(t *testing.T) {
	gate := &gatedStore{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarnessWithStore(t, func(d *db.DB) session.Store {
		gate.DB = d
		return gate
	})
	ctx := context.Background()

	_, err := h.svc.StartCalibration(ctx, session.KindConfusion)
	require.NoError(t, err)
	_, err = h.svc.BeginTrial(0)
	require.NoError(t, err)
	h.stream(1, 5)

	type result struct {
		trial session.Trial
		err   error
	}
	done := make(chan result, 1)
	go func() {
		tr, err := h.svc.SubmitTrial(ctx, 5)
		done <- result{tr, err}
	}()
	<-gate.entered

	stage := make(chan session.Stage, 1)
	go func() { stage <- h.svc.Stage() }()
	select {
	case st := <-stage:
		assert.Equal(t, session.StageCalibration, st)
	case <-time.After(2 * time.Second):
		t.Fatal("Stage blocked while a trial was being saved")
	}

	_, err = h.svc.SubmitTrial(ctx, 5)
	assert.ErrorIs(t, err, session.ErrWrongStage, "the in-flight trial cannot be submitted twice")

	close(gate.release)
	res := <-done
	require.NoError(t, res.err)
	assert.NotZero(t, res.trial.ID)

	trials, err := h.db.ListTrials(ctx, session.KindConfusion)
	require.NoError(t, err)
	assert.Len(t, trials, 1)
}

func TestCalibrationErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.BeginTrial(0)
	assert.ErrorIs(t, err, session.ErrNoActiveSession)
	_, err = h.svc.SubmitTrial(ctx, 5)
	assert.ErrorIs(t, err, session.ErrNoActiveSession)
	_, err = h.svc.FinishCalibration(ctx)
	assert.ErrorIs(t, err, session.ErrNoActiveSession)

	_, err = h.svc.StartCalibration(ctx, session.KindConfusion)
	require.NoError(t, err)

	_, err = h.svc.SubmitTrial(ctx, 5)
	assert.ErrorIs(t, err, session.ErrWrongStage)

	_, err = h.svc.BeginTrial(len(h.svc.Prompts()))
	assert.ErrorIs(t, err, session.ErrInvalidPrompt)
	_, err = h.svc.BeginTrial(-1)
	assert.ErrorIs(t, err, session.ErrInvalidPrompt)

	_, err = h.svc.BeginTrial(0)
	require.NoError(t, err)
	_, err = h.svc.SubmitTrial(ctx, 11)
	assert.ErrorIs(t, err, scheduler.ErrInvalidScore)

	// Nothing usable was stored.
	_, err = h.svc.FinishCalibration(ctx)
	assert.ErrorIs(t, err, regressor.ErrInsufficientData)
	assert.Equal(t, session.StageCalibration, h.svc.Stage())
}

func TestDifficultyCalibrationAndPrediction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.PredictDifficulty()
	assert.ErrorIs(t, err, regressor.ErrModelNotTrained)

	_, err = h.svc.StartCalibration(ctx, session.KindDifficulty)
	require.NoError(t, err)

	prompts := h.svc.Prompts()
	for _, idx := range []int{0, 1, 2, 6, 7, 8, 12, 13, 14} {
		tp, err := h.svc.BeginTrial(idx)
		require.NoError(t, err)
		level, err := regressor.ParseDifficulty(prompts[idx].Difficulty)
		require.NoError(t, err)
		h.stream(1.5, 10*level)

		// The score is ignored for difficulty runs.
		trial, err := h.svc.SubmitTrial(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, level, trial.Label)
		assert.Equal(t, tp.Prompt.ID, trial.PromptID)
	}
	res, err := h.svc.FinishCalibration(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.KindDifficulty, res.Kind)
	assert.Equal(t, 9, res.Used)
	assert.NotEmpty(t, res.Metrics.LabelCounts)

	// Confusion is still untrained, so learning is not yet available.
	assert.Equal(t, session.StageReady, h.svc.Stage())

	h.stream(2, 20)
	p, err := h.svc.PredictDifficulty()
	require.NoError(t, err)
	assert.Contains(t, []string{"easy", "medium", "hard"}, p.Class)
	assert.GreaterOrEqual(t, p.Label, 1.0)
	assert.LessOrEqual(t, p.Label, 3.0)
}

func TestRetrainFromStoredTrials(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Retrain(ctx, session.KindConfusion)
	assert.ErrorIs(t, err, regressor.ErrInsufficientData)

	h.calibrate(t, 2, 3, 5, 6, 8, 9)
	h.svc.Reset()

	res, err := h.svc.Retrain(ctx, session.KindConfusion)
	require.NoError(t, err)
	assert.Empty(t, res.SessionID)
	assert.Equal(t, 6, res.Used)
	assert.Equal(t, 2, res.Version)
	assert.Equal(t, session.StageReadyForLearning, h.svc.Stage())
}

func TestStartLearningRequiresConfusionModel(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.StartLearning(context.Background(), "")
	assert.ErrorIs(t, err, regressor.ErrModelNotTrained)
}

func TestLearningLoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.calibrate(t, 2, 3, 5, 6, 8, 9)

	deck, err := h.svc.CreateDeck(ctx, "Spanish")
	require.NoError(t, err)
	for _, fb := range [][2]string{{"Hello", "Hola"}, {"Goodbye", "Adiós"}, {"Thank you", "Gracias"}} {
		_, err := h.svc.AddCard(ctx, deck.ID, fb[0], fb[1])
		require.NoError(t, err)
	}
	_, err = h.svc.AddCard(ctx, "missing", "a", "b")
	assert.ErrorIs(t, err, session.ErrDeckNotFound)

	_, err = h.svc.StartLearning(ctx, "missing")
	assert.ErrorIs(t, err, session.ErrDeckNotFound)

	ls, err := h.svc.StartLearning(ctx, deck.ID)
	require.NoError(t, err)
	assert.Equal(t, deck.ID, ls.DeckID)
	assert.Equal(t, session.StageLearning, h.svc.Stage())

	// EEG-scored review.
	card, ok, err := h.svc.NextCard(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	h.stream(1.5, 30)
	rating := 2.0
	rev, err := h.svc.Review(ctx, session.ReviewRequest{CardID: card.ID, Rating: &rating, RequestID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, session.SourceEEG, rev.Source)
	require.NotNil(t, rev.Predicted)
	assert.Equal(t, *rev.Predicted, rev.Score)
	assert.GreaterOrEqual(t, rev.Score, scheduler.MinScore)
	assert.LessOrEqual(t, rev.Score, scheduler.MaxScore)

	// A retried request returns the first result without a second update.
	again, err := h.svc.Review(ctx, session.ReviewRequest{CardID: card.ID, RequestID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, rev.ID, again.ID)
	stored, err := h.db.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RepetitionCount)

	// No EEG since presentation: the learner's rating is used.
	card, ok, err = h.svc.NextCard(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	h.clock.Advance(10 * time.Second)
	rev, err = h.svc.Review(ctx, session.ReviewRequest{CardID: card.ID, Rating: &rating})
	require.NoError(t, err)
	assert.Equal(t, session.SourceUser, rev.Source)
	assert.Nil(t, rev.Predicted)
	assert.Equal(t, 2.0, rev.Score)

	// Neither EEG nor rating: neutral.
	card, ok, err = h.svc.NextCard(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	h.clock.Advance(10 * time.Second)
	rev, err = h.svc.Review(ctx, session.ReviewRequest{CardID: card.ID})
	require.NoError(t, err)
	assert.Equal(t, session.SourceDefault, rev.Source)
	assert.Equal(t, scheduler.NeutralScore, rev.Score)

	bad := 0.0
	_, err = h.svc.Review(ctx, session.ReviewRequest{CardID: card.ID, Rating: &bad})
	assert.ErrorIs(t, err, scheduler.ErrInvalidScore)
	_, err = h.svc.Review(ctx, session.ReviewRequest{CardID: "nope"})
	assert.ErrorIs(t, err, scheduler.ErrCardNotFound)

	res, err := h.svc.Results(ctx)
	require.NoError(t, err)
	assert.Equal(t, ls.ID, res.Session.ID)
	assert.Equal(t, 3, res.Session.TotalReviewed)
	assert.Equal(t, 3, res.Confusion.TotalReviews)
	assert.Equal(t, 1, res.Confusion.EEGPredictions)
	assert.Equal(t, 3, res.Cards.Total)
	assert.Equal(t, 3, res.Efficiency.Studied)
	require.NotNil(t, res.Model)
	assert.Equal(t, 6, res.Model.Samples)

	reviews, err := h.db.ListReviews(ctx, ls.ID)
	require.NoError(t, err)
	assert.Len(t, reviews, 3)
}

func TestConcurrentReviewsShareRequestID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.calibrate(t, 2, 3, 5, 6, 8, 9)

	deck, err := h.svc.CreateDeck(ctx, "Kanji")
	require.NoError(t, err)
	card, err := h.svc.AddCard(ctx, deck.ID, "水", "water")
	require.NoError(t, err)
	_, err = h.svc.StartLearning(ctx, deck.ID)
	require.NoError(t, err)

	const n = 8
	rating := 3.0
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		revs  = make([]session.Review, n)
		errs  = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			revs[i], errs[i] = h.svc.Review(ctx, session.ReviewRequest{CardID: card.ID, Rating: &rating, RequestID: "dup"})
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, revs[0].ID, revs[i].ID)
	}
	stored, err := h.db.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RepetitionCount)

	reviews, err := h.db.ListReviews(ctx, revs[0].SessionID)
	require.NoError(t, err)
	assert.Len(t, reviews, 1)
}

func TestNextCardEmptyDeck(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.calibrate(t, 2, 3, 5, 6, 8, 9)

	deck, err := h.svc.CreateDeck(ctx, "empty")
	require.NoError(t, err)
	_, err = h.svc.StartLearning(ctx, deck.ID)
	require.NoError(t, err)

	_, ok, err := h.svc.NextCard(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.calibrate(t, 2, 3, 5, 6, 8, 9)

	_, err := h.svc.StartLearning(ctx, "")
	require.NoError(t, err)
	h.stream(1, 10)
	require.NotZero(t, h.mon.Len())

	h.svc.Reset()
	assert.Equal(t, session.StageReadyForLearning, h.svc.Stage())
	assert.Zero(t, h.mon.Len())

	_, _, err = h.svc.NextCard(ctx)
	assert.ErrorIs(t, err, session.ErrNoActiveSession)
	_, err = h.svc.Results(ctx)
	assert.ErrorIs(t, err, session.ErrNoActiveSession)

	// Trained models survive a reset.
	_, err = h.svc.StartLearning(ctx, "")
	assert.NoError(t, err)
}
