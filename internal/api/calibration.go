package api

import (
	"fmt"
	"net/http"

	"github.com/banshee-data/synapse/internal/httputil"
	"github.com/banshee-data/synapse/internal/regressor"
	"github.com/banshee-data/synapse/internal/session"
)

func (s *Server) calibrationPrompts(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]interface{}{"prompts": s.svc.Prompts()})
}

type calibrationStartRequest struct {
	Kind string `json:"kind"`
}

type calibrationStartResponse struct {
	Session session.CalibrationSession `json:"session"`
	Prompts int                        `json:"total_prompts"`
}

func (s *Server) calibrationStart(w http.ResponseWriter, r *http.Request) {
	var req calibrationStartRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	kind, err := session.ParseKind(req.Kind)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	cs, err := s.svc.StartCalibration(r.Context(), kind)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, calibrationStartResponse{
		Session: cs,
		Prompts: len(s.svc.Prompts()),
	})
}

type calibrationTrialRequest struct {
	Index *int `json:"trial_id"`
}

func (s *Server) calibrationTrial(w http.ResponseWriter, r *http.Request) {
	var req calibrationTrialRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Index == nil {
		httputil.BadRequest(w, "missing trial_id")
		return
	}
	tp, err := s.svc.BeginTrial(*req.Index)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, tp)
}

type calibrationSubmitRequest struct {
	Score *float64 `json:"confusion_score"`
}

func (s *Server) calibrationSubmit(w http.ResponseWriter, r *http.Request) {
	var req calibrationSubmitRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	var score float64
	if req.Score != nil {
		score = *req.Score
	}
	t, err := s.svc.SubmitTrial(r.Context(), score)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"trial":   t,
		"samples": len(t.Samples),
	})
}

func (s *Server) calibrationFinish(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.FinishCalibration(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, res)
}

type modelListing struct {
	Active   regressor.Info      `json:"active"`
	Versions []regressor.Summary `json:"versions"`
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	out := make(map[session.Kind]modelListing, 2)
	for _, kind := range []session.Kind{session.KindConfusion, session.KindDifficulty} {
		reg := s.svc.Regressor(kind)
		versions, err := reg.List()
		if err != nil {
			writeError(w, err)
			return
		}
		out[kind] = modelListing{Active: reg.Info(), Versions: versions}
	}
	httputil.WriteJSONOK(w, out)
}

type loadModelRequest struct {
	Kind    string `json:"kind"`
	Version int    `json:"version"`
}

func (s *Server) loadModel(w http.ResponseWriter, r *http.Request) {
	var req loadModelRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	kind, err := session.ParseKind(req.Kind)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Version < 0 {
		httputil.BadRequest(w, "version must not be negative")
		return
	}
	reg := s.svc.Regressor(kind)
	ok, err := reg.Load(req.Version)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("no %s model version %d", kind, req.Version))
		return
	}
	httputil.WriteJSONOK(w, reg.Info())
}

func (s *Server) predictDifficulty(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.PredictDifficulty()
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, p)
}
