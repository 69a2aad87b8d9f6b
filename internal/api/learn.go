package api

import (
	"net/http"

	"github.com/banshee-data/synapse/internal/httputil"
	"github.com/banshee-data/synapse/internal/scheduler"
	"github.com/banshee-data/synapse/internal/session"
)

type learnStartRequest struct {
	DeckID string `json:"deck_id"`
}

func (s *Server) learnStart(w http.ResponseWriter, r *http.Request) {
	var req learnStartRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	ls, err := s.svc.StartLearning(r.Context(), req.DeckID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, ls)
}

type nextCardResponse struct {
	Card *scheduler.Flashcard `json:"card"`
	// Priority is the card's selection priority when it was chosen.
	Priority float64 `json:"priority,omitempty"`
}

func (s *Server) learnNext(w http.ResponseWriter, r *http.Request) {
	card, ok, err := s.svc.NextCard(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		httputil.WriteJSONOK(w, nextCardResponse{})
		return
	}
	httputil.WriteJSONOK(w, nextCardResponse{
		Card:     &card,
		Priority: scheduler.Priority(card, s.mon.Clock().Now()),
	})
}

func (s *Server) learnReview(w http.ResponseWriter, r *http.Request) {
	var req session.ReviewRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.CardID == "" {
		httputil.BadRequest(w, "missing card_id")
		return
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get("Idempotency-Key")
	}
	rev, err := s.svc.Review(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, rev)
}

func (s *Server) results(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Results(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, res)
}

type statusResponse struct {
	session.Status
	Transport transportStatus `json:"transport"`
	// SocketClients is the number of open socket.io connections.
	SocketClients int `json:"socket_clients"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := statusResponse{Status: st, Transport: s.transportStatus()}
	if s.hub != nil {
		resp.SocketClients = s.hub.Clients()
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	s.svc.Reset()
	httputil.WriteJSONOK(w, map[string]string{"status": "reset", "stage": string(s.svc.Stage())})
}
