package api

import (
	"errors"
	"net/http"

	"github.com/banshee-data/synapse/internal/eeg"
	"github.com/banshee-data/synapse/internal/eeg/network"
	"github.com/banshee-data/synapse/internal/features"
	"github.com/banshee-data/synapse/internal/httputil"
	"github.com/banshee-data/synapse/internal/monitoring"
	"github.com/banshee-data/synapse/internal/regressor"
	"github.com/banshee-data/synapse/internal/scheduler"
	"github.com/banshee-data/synapse/internal/session"
)

// errorStatus maps domain errors to HTTP status codes. Unknown errors are
// internal.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrInvalidScore),
		errors.Is(err, session.ErrInvalidPrompt),
		errors.Is(err, regressor.ErrInvalidLabel),
		errors.Is(err, regressor.ErrSchemaMismatch):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrCardNotFound),
		errors.Is(err, session.ErrDeckNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNoActiveSession),
		errors.Is(err, session.ErrWrongStage),
		errors.Is(err, network.ErrRunning):
		return http.StatusConflict
	case errors.Is(err, features.ErrInsufficientData),
		errors.Is(err, features.ErrExtraction),
		errors.Is(err, regressor.ErrInsufficientData),
		errors.Is(err, eeg.ErrNoData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, regressor.ErrModelNotTrained):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		monitoring.Logf("internal error: %v", err)
	}
	httputil.WriteJSONError(w, status, err.Error())
}
