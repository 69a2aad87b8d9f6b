package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/synapse/internal/db"
	"github.com/banshee-data/synapse/internal/eeg"
	"github.com/banshee-data/synapse/internal/eeg/network"
	"github.com/banshee-data/synapse/internal/features"
	"github.com/banshee-data/synapse/internal/fsutil"
	"github.com/banshee-data/synapse/internal/monitoring"
	"github.com/banshee-data/synapse/internal/regressor"
	"github.com/banshee-data/synapse/internal/scheduler"
	"github.com/banshee-data/synapse/internal/serialmux"
	"github.com/banshee-data/synapse/internal/session"
	"github.com/banshee-data/synapse/internal/testutil"
	"github.com/banshee-data/synapse/internal/timeutil"
)

const rate = 256.0

type fakeTransport struct {
	running  bool
	startErr error
}

func (f *fakeTransport) Start(context.Context) error {
	if f.running {
		return network.ErrRunning
	}
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeTransport) Stop() error   { f.running = false; return nil }
func (f *fakeTransport) Running() bool { return f.running }
func (f *fakeTransport) Addr() string  { return "127.0.0.1:8001" }

type harness struct {
	srv   *Server
	mux   *http.ServeMux
	svc   *session.Service
	db    *db.DB
	mon   *eeg.Monitor
	clock *timeutil.MockClock
	osc   *fakeTransport
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetOutput(&bytes.Buffer{}) })

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
		Store:      store,
		Buffer:     mon,
		Confusion:  newReg(regressor.ConfusionConfig("/models")),
		Difficulty: newReg(regressor.DifficultyConfig("/models")),
		Clock:      clock,
	})
	require.NoError(t, err)

	osc := &fakeTransport{}
	srv := NewServer(Options{
		Service: svc,
		Store:   store,
		Monitor: mon,
		OSC:     osc,
		Serial:  serialmux.NewDisabledSerialMux(),
		DB:      store,
	})
	return &harness{srv: srv, mux: srv.ServeMux(), svc: svc, db: store, mon: mon, clock: clock, osc: osc}
}

func (h *harness) stream(seconds, amplitude float64) {
	n := int(seconds * rate)
	for _, s := range testutil.AlphaSamples(n, rate, h.mon.Now(), amplitude) {
		h.mon.Ingest(s)
	}
	h.clock.Advance(time.Duration(seconds * float64(time.Second)))
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.NewJSONRequest(t, method, path, body)
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

// calibrate runs a confusion calibration through the API.
func (h *harness) calibrate(t *testing.T, scores ...float64) {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/calibration/start", map[string]string{"kind": "confusion"})
	testutil.AssertStatusCode(t, rec.Code, http.StatusCreated)
	for i, score := range scores {
		rec = h.do(t, http.MethodPost, "/api/calibration/trial", map[string]int{"trial_id": i})
		testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
		h.stream(1.5, 5*score)
		rec = h.do(t, http.MethodPost, "/api/calibration/submit", map[string]float64{"confusion_score": score})
		testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	}
	rec = h.do(t, http.MethodPost, "/api/calibration/finish", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestEEGStatusAndData(t *testing.T) {
	h := newHarness(t)
	h.stream(2, 10)

	rec := h.do(t, http.MethodGet, "/api/eeg/status", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var st struct {
		Connected bool `json:"connected"`
		Buffered  int  `json:"buffered"`
		Transport struct {
			OSCRunning bool `json:"osc_running"`
			Serial     bool `json:"serial"`
		} `json:"transport"`
	}
	testutil.DecodeJSON(t, rec, &st)
	assert.True(t, st.Connected)
	assert.Equal(t, 512, st.Buffered)
	assert.False(t, st.Transport.OSCRunning)
	assert.True(t, st.Transport.Serial)

	rec = h.do(t, http.MethodGet, "/api/eeg/data?seconds=1", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var data struct {
		Count   int          `json:"count"`
		Samples []eeg.Sample `json:"samples"`
	}
	testutil.DecodeJSON(t, rec, &data)
	assert.Equal(t, 256, data.Count)
	assert.Len(t, data.Samples, 256)

	rec = h.do(t, http.MethodGet, "/api/eeg/data?seconds=-1", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = h.do(t, http.MethodGet, "/api/eeg/average?k=4", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	rec = h.do(t, http.MethodPost, "/api/eeg/reset", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, 0, h.mon.Len())

	rec = h.do(t, http.MethodGet, "/api/eeg/average", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusUnprocessableEntity)

	rec = h.do(t, http.MethodDelete, "/api/eeg/status", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestEEGStartStop(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/eeg/start", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.True(t, h.osc.running)
	assert.Contains(t, rec.Body.String(), "127.0.0.1:8001")

	rec = h.do(t, http.MethodPost, "/api/eeg/start", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusConflict)

	rec = h.do(t, http.MethodPost, "/api/eeg/stop", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.False(t, h.osc.running)

	bare := NewServer(Options{Service: h.svc, Store: h.db, Monitor: h.mon}).ServeMux()
	rr := httptest.NewRecorder()
	bare.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/eeg/start", nil))
	testutil.AssertStatusCode(t, rr.Code, http.StatusNotImplemented)
}

func TestCalibrationEndpoints(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/calibration/prompts", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var prompts struct {
		Prompts []session.Prompt `json:"prompts"`
	}
	testutil.DecodeJSON(t, rec, &prompts)
	assert.Len(t, prompts.Prompts, 20)

	rec = h.do(t, http.MethodPost, "/api/calibration/trial", map[string]int{"trial_id": 0})
	testutil.AssertStatusCode(t, rec.Code, http.StatusConflict)

	rec = h.do(t, http.MethodPost, "/api/calibration/start", map[string]string{"kind": "telepathy"})
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = h.do(t, http.MethodPost, "/api/calibration/start", map[string]string{"mode": "x"})
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = h.do(t, http.MethodPost, "/api/calibration/start", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusCreated)

	rec = h.do(t, http.MethodPost, "/api/calibration/trial", map[string]int{})
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = h.do(t, http.MethodPost, "/api/calibration/trial", map[string]int{"trial_id": 99})
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = h.do(t, http.MethodPost, "/api/calibration/trial", map[string]int{"trial_id": 0})
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	rec = h.do(t, http.MethodPost, "/api/calibration/submit", map[string]float64{"confusion_score": 12})
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = h.do(t, http.MethodPost, "/api/calibration/finish", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusUnprocessableEntity)
}

func TestModelEndpoints(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/difficulty/predict", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)

	h.calibrate(t, 2, 3, 5, 6, 8, 9)

	rec = h.do(t, http.MethodGet, "/api/models", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var models map[string]struct {
		Active   regressor.Info      `json:"active"`
		Versions []regressor.Summary `json:"versions"`
	}
	testutil.DecodeJSON(t, rec, &models)
	require.Contains(t, models, "confusion")
	require.Contains(t, models, "difficulty")
	assert.True(t, models["confusion"].Active.Trained)
	assert.Equal(t, features.BandPower, models["confusion"].Active.Schema)
	require.Len(t, models["confusion"].Versions, 1)
	assert.True(t, models["confusion"].Versions[0].Active)
	assert.Empty(t, models["difficulty"].Versions)

	rec = h.do(t, http.MethodPost, "/api/models/load", map[string]any{"kind": "confusion", "version": 7})
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	rec = h.do(t, http.MethodPost, "/api/models/load", map[string]any{"kind": "confusion", "version": 1})
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var info regressor.Info
	testutil.DecodeJSON(t, rec, &info)
	assert.Equal(t, 1, info.Version)

	rec = h.do(t, http.MethodPost, "/api/models/load", map[string]any{"kind": "difficulty", "version": 0})
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestDeckAndCardCRUD(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/decks", map[string]string{"name": " "})
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = h.do(t, http.MethodPost, "/api/decks", map[string]string{"name": "Spanish"})
	testutil.AssertStatusCode(t, rec.Code, http.StatusCreated)
	var deck session.Deck
	testutil.DecodeJSON(t, rec, &deck)
	require.NotEmpty(t, deck.ID)

	rec = h.do(t, http.MethodPost, "/api/cards", map[string]string{"deck_id": "missing", "front": "a"})
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	rec = h.do(t, http.MethodPost, "/api/cards", map[string]string{"deck_id": deck.ID, "front": "Hello", "back": "Hola"})
	testutil.AssertStatusCode(t, rec.Code, http.StatusCreated)
	var card scheduler.Flashcard
	testutil.DecodeJSON(t, rec, &card)
	assert.Equal(t, "Hello", card.Front)

	rec = h.do(t, http.MethodPut, "/api/cards/"+card.ID, map[string]string{"back": "¡Hola!"})
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	rec = h.do(t, http.MethodGet, "/api/cards/"+card.ID, nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var got scheduler.Flashcard
	testutil.DecodeJSON(t, rec, &got)
	assert.Equal(t, "Hello", got.Front)
	assert.Equal(t, "¡Hola!", got.Back)

	rec = h.do(t, http.MethodGet, "/api/decks/"+deck.ID, nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var detail struct {
		Deck  session.Deck          `json:"deck"`
		Cards []scheduler.Flashcard `json:"cards"`
	}
	testutil.DecodeJSON(t, rec, &detail)
	assert.Equal(t, 1, detail.Deck.Cards)
	assert.Len(t, detail.Cards, 1)

	rec = h.do(t, http.MethodGet, "/api/decks", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var decks []session.Deck
	testutil.DecodeJSON(t, rec, &decks)
	assert.Len(t, decks, 1)

	rec = h.do(t, http.MethodDelete, "/api/cards/"+card.ID, nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNoContent)
	rec = h.do(t, http.MethodDelete, "/api/cards/"+card.ID, nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	rec = h.do(t, http.MethodDelete, "/api/decks/"+deck.ID, nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNoContent)
	rec = h.do(t, http.MethodGet, "/api/decks/"+deck.ID, nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestLearningFlow(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/learn/start", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)
	rec = h.do(t, http.MethodGet, "/api/learn/next", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusConflict)

	h.calibrate(t, 2, 3, 5, 6, 8, 9)

	deck, err := h.svc.CreateDeck(context.Background(), "Spanish")
	require.NoError(t, err)
	for _, fb := range [][2]string{{"Hello", "Hola"}, {"Goodbye", "Adiós"}} {
		_, err := h.svc.AddCard(context.Background(), deck.ID, fb[0], fb[1])
		require.NoError(t, err)
	}

	rec = h.do(t, http.MethodPost, "/api/learn/start", map[string]string{"deck_id": deck.ID})
	testutil.AssertStatusCode(t, rec.Code, http.StatusCreated)
	var ls session.LearningSession
	testutil.DecodeJSON(t, rec, &ls)

	rec = h.do(t, http.MethodGet, "/report/confusion", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	rec = h.do(t, http.MethodGet, "/api/learn/next", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var next nextCardResponse
	testutil.DecodeJSON(t, rec, &next)
	require.NotNil(t, next.Card)

	h.stream(1.5, 30)
	rec = h.do(t, http.MethodPost, "/api/learn/review", map[string]any{"card_id": next.Card.ID, "user_rating": 3, "request_id": "r1"})
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var rev session.Review
	testutil.DecodeJSON(t, rec, &rev)
	assert.Equal(t, session.SourceEEG, rev.Source)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/api/learn/review", map[string]any{"card_id": next.Card.ID})
	req.Header.Set("Idempotency-Key", "r1")
	again := httptest.NewRecorder()
	h.mux.ServeHTTP(again, req)
	testutil.AssertStatusCode(t, again.Code, http.StatusOK)
	var dup session.Review
	testutil.DecodeJSON(t, again, &dup)
	assert.Equal(t, rev.ID, dup.ID)

	rec = h.do(t, http.MethodPost, "/api/learn/review", map[string]any{"card_id": next.Card.ID, "user_rating": 0})
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	rec = h.do(t, http.MethodPost, "/api/learn/review", map[string]any{"card_id": "nope"})
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
	rec = h.do(t, http.MethodPost, "/api/learn/review", map[string]any{})
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = h.do(t, http.MethodGet, "/api/results", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var res session.Results
	testutil.DecodeJSON(t, rec, &res)
	assert.Equal(t, ls.ID, res.Session.ID)
	assert.Equal(t, 1, res.Confusion.TotalReviews)
	assert.Equal(t, 2, res.Cards.Total)

	rec = h.do(t, http.MethodGet, "/report/confusion", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Confusion over reviews")

	rec = h.do(t, http.MethodGet, "/report/confusion?session_id=unknown", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	rec = h.do(t, http.MethodGet, "/api/status", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var st struct {
		Stage        session.Stage `json:"stage"`
		ModelTrained bool          `json:"model_trained"`
		Flashcards   int           `json:"total_flashcards"`
		SessionID    string        `json:"session_id"`
	}
	testutil.DecodeJSON(t, rec, &st)
	assert.Equal(t, session.StageLearning, st.Stage)
	assert.True(t, st.ModelTrained)
	assert.Equal(t, 2, st.Flashcards)
	assert.Equal(t, ls.ID, st.SessionID)

	rec = h.do(t, http.MethodPost, "/api/reset", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, session.StageReadyForLearning, h.svc.Stage())
}

func TestNextCardEmptyDeck(t *testing.T) {
	h := newHarness(t)
	h.calibrate(t, 2, 3, 5, 6, 8, 9)

	deck, err := h.svc.CreateDeck(context.Background(), "empty")
	require.NoError(t, err)
	rec := h.do(t, http.MethodPost, "/api/learn/start", map[string]string{"deck_id": deck.ID})
	testutil.AssertStatusCode(t, rec.Code, http.StatusCreated)

	rec = h.do(t, http.MethodGet, "/api/learn/next", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.JSONEq(t, `{"card":null}`, rec.Body.String())
}

func TestDebugRoutesMounted(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/debug/serial-command", strings.NewReader("command=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, []string{"b"}, h.srv.serial.(*serialmux.DisabledSerialMux).Commands())

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), "synapse_")
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{scheduler.ErrInvalidScore, http.StatusBadRequest},
		{fmt.Errorf("%w: 30", session.ErrInvalidPrompt), http.StatusBadRequest},
		{regressor.ErrSchemaMismatch, http.StatusBadRequest},
		{fmt.Errorf("%w: x", scheduler.ErrCardNotFound), http.StatusNotFound},
		{session.ErrDeckNotFound, http.StatusNotFound},
		{session.ErrNoActiveSession, http.StatusConflict},
		{session.ErrWrongStage, http.StatusConflict},
		{features.ErrInsufficientData, http.StatusUnprocessableEntity},
		{regressor.ErrInsufficientData, http.StatusUnprocessableEntity},
		{eeg.ErrNoData, http.StatusUnprocessableEntity},
		{regressor.ErrModelNotTrained, http.StatusServiceUnavailable},
		{regressor.ErrPersistence, http.StatusInternalServerError},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Equal(t, tc.want, errorStatus(tc.err))
		})
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	monitoring.SetOutput(&buf)
	t.Cleanup(func() { monitoring.SetOutput(&bytes.Buffer{}) })

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status?x=1", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusTeapot)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, float64(http.StatusTeapot), entry["status"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/api/status?x=1", entry["uri"])
	assert.Equal(t, "warn", entry["level"])
}
