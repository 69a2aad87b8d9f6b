// Package api serves the synapse HTTP interface: EEG status and data,
// calibration, model management, decks and cards, learning sessions and
// reports, plus the socket.io status push and debug routes.
package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/banshee-data/synapse/internal/db"
	"github.com/banshee-data/synapse/internal/eeg"
	"github.com/banshee-data/synapse/internal/monitoring"
	"github.com/banshee-data/synapse/internal/serialmux"
	"github.com/banshee-data/synapse/internal/session"
)

// Transport is a lifecycle-managed sample source, such as the OSC listener.
type Transport interface {
	Start(ctx context.Context) error
	Stop() error
	Running() bool
	Addr() string
}

// Options collects the server's collaborators. Service, Store and Monitor
// are required; the rest may be nil.
type Options struct {
	Service *session.Service
	Store   session.Store
	Monitor *eeg.Monitor

	OSC    Transport
	Serial serialmux.SerialMuxInterface
	DB     *db.DB
	Hub    *StatusHub
}

type Server struct {
	svc    *session.Service
	store  session.Store
	mon    *eeg.Monitor
	osc    Transport
	serial serialmux.SerialMuxInterface
	db     *db.DB
	hub    *StatusHub

	// baseCtx outlives requests; transports started over HTTP run on it.
	baseCtx context.Context
}

func NewServer(opts Options) *Server {
	return &Server{
		svc:     opts.Service,
		store:   opts.Store,
		mon:     opts.Monitor,
		osc:     opts.OSC,
		serial:  opts.Serial,
		db:      opts.DB,
		hub:     opts.Hub,
		baseCtx: context.Background(),
	}
}

// WithContext sets the context transports started through the API run
// under. It returns s.
func (s *Server) WithContext(ctx context.Context) *Server {
	s.baseCtx = ctx
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets socket.io upgrade to websockets through the middleware.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)

		log := monitoring.Logger()
		ev := log.Info()
		if lrw.statusCode >= 500 {
			ev = log.Error()
		} else if lrw.statusCode >= 400 {
			ev = log.Warn()
		}
		ev.Int("status", lrw.statusCode).
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Float64("ms", float64(time.Since(start).Nanoseconds())/1e6).
			Msg("request")
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/eeg/status", s.eegStatus)
	mux.HandleFunc("GET /api/eeg/data", s.eegData)
	mux.HandleFunc("GET /api/eeg/average", s.eegAverage)
	mux.HandleFunc("POST /api/eeg/reset", s.eegReset)
	mux.HandleFunc("POST /api/eeg/start", s.eegStart)
	mux.HandleFunc("POST /api/eeg/stop", s.eegStop)

	mux.HandleFunc("GET /api/calibration/prompts", s.calibrationPrompts)
	mux.HandleFunc("POST /api/calibration/start", s.calibrationStart)
	mux.HandleFunc("POST /api/calibration/trial", s.calibrationTrial)
	mux.HandleFunc("POST /api/calibration/submit", s.calibrationSubmit)
	mux.HandleFunc("POST /api/calibration/finish", s.calibrationFinish)

	mux.HandleFunc("GET /api/models", s.listModels)
	mux.HandleFunc("POST /api/models/load", s.loadModel)
	mux.HandleFunc("POST /api/difficulty/predict", s.predictDifficulty)

	mux.HandleFunc("GET /api/decks", s.listDecks)
	mux.HandleFunc("POST /api/decks", s.createDeck)
	mux.HandleFunc("GET /api/decks/{id}", s.getDeck)
	mux.HandleFunc("DELETE /api/decks/{id}", s.deleteDeck)
	mux.HandleFunc("GET /api/cards", s.listCards)
	mux.HandleFunc("POST /api/cards", s.createCard)
	mux.HandleFunc("GET /api/cards/{id}", s.getCard)
	mux.HandleFunc("PUT /api/cards/{id}", s.updateCard)
	mux.HandleFunc("DELETE /api/cards/{id}", s.deleteCard)

	mux.HandleFunc("POST /api/learn/start", s.learnStart)
	mux.HandleFunc("GET /api/learn/next", s.learnNext)
	mux.HandleFunc("POST /api/learn/review", s.learnReview)
	mux.HandleFunc("GET /api/results", s.results)
	mux.HandleFunc("GET /api/status", s.status)
	mux.HandleFunc("POST /api/reset", s.reset)

	mux.HandleFunc("GET /report/confusion", s.confusionReport)
	mux.Handle("/metrics", monitoring.MetricsHandler())

	if s.hub != nil {
		mux.Handle("/socket.io/", s.hub)
	}
	if s.db != nil {
		if err := s.db.AttachAdminRoutes(mux); err != nil {
			monitoring.Logf("failed to attach db admin routes: %v", err)
		}
	}
	if s.serial != nil {
		s.serial.AttachAdminRoutes(mux)
	}
	return mux
}
