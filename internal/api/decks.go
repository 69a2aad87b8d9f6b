package api

import (
	"net/http"
	"strings"

	"github.com/banshee-data/synapse/internal/httputil"
)

type deckRequest struct {
	Name string `json:"name"`
}

func (s *Server) listDecks(w http.ResponseWriter, r *http.Request) {
	decks, err := s.store.ListDecks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, decks)
}

func (s *Server) createDeck(w http.ResponseWriter, r *http.Request) {
	var req deckRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		httputil.BadRequest(w, "missing deck name")
		return
	}
	d, err := s.svc.CreateDeck(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, d)
}

func (s *Server) getDeck(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	d, err := s.store.GetDeck(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	cards, err := s.store.ListCards(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"deck": d, "cards": cards})
}

func (s *Server) deleteDeck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteDeck(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cardRequest struct {
	DeckID string `json:"deck_id"`
	Front  string `json:"front"`
	Back   string `json:"back"`
}

func (s *Server) listCards(w http.ResponseWriter, r *http.Request) {
	cards, err := s.store.ListCards(r.Context(), r.URL.Query().Get("deck_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, cards)
}

func (s *Server) createCard(w http.ResponseWriter, r *http.Request) {
	var req cardRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.DeckID == "" || strings.TrimSpace(req.Front) == "" {
		httputil.BadRequest(w, "deck_id and front are required")
		return
	}
	c, err := s.svc.AddCard(r.Context(), req.DeckID, req.Front, req.Back)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (s *Server) getCard(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetCard(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, c)
}

// updateCard edits a card's text. Scheduling state is kept; a non-empty
// deck_id moves the card.
func (s *Server) updateCard(w http.ResponseWriter, r *http.Request) {
	var req cardRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	c, err := s.store.GetCard(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Front != "" {
		c.Front = req.Front
	}
	if req.Back != "" {
		c.Back = req.Back
	}
	if req.DeckID != "" && req.DeckID != c.DeckID {
		if _, err := s.store.GetDeck(r.Context(), req.DeckID); err != nil {
			writeError(w, err)
			return
		}
		c.DeckID = req.DeckID
	}
	if err := s.store.PutCard(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, c)
}

func (s *Server) deleteCard(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCard(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
