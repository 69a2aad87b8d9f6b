package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/synapse/internal/eeg"
	"github.com/banshee-data/synapse/internal/httputil"
)

const (
	defaultDataSeconds = 5.0
	maxDataSeconds     = 60.0
	defaultAverageK    = 10
)

type transportStatus struct {
	OSCRunning bool   `json:"osc_running"`
	OSCAddr    string `json:"osc_addr,omitempty"`
	Serial     bool   `json:"serial"`
}

type eegStatusResponse struct {
	eeg.ConnectionState
	Transport transportStatus `json:"transport"`
}

func (s *Server) transportStatus() transportStatus {
	var ts transportStatus
	if s.osc != nil {
		ts.OSCRunning = s.osc.Running()
		if ts.OSCRunning {
			ts.OSCAddr = s.osc.Addr()
		}
	}
	ts.Serial = s.serial != nil
	return ts
}

func (s *Server) eegStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, eegStatusResponse{
		ConnectionState: s.mon.Status(),
		Transport:       s.transportStatus(),
	})
}

// queryFloat parses a positive float query parameter, returning def when
// absent.
func queryFloat(r *http.Request, name string, def float64) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive number", name, raw)
	}
	return v, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", name, raw)
	}
	return v, nil
}

func (s *Server) eegData(w http.ResponseWriter, r *http.Request) {
	seconds, err := queryFloat(r, "seconds", defaultDataSeconds)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	seconds = min(seconds, maxDataSeconds)
	samples := s.mon.RecentSamples(time.Duration(seconds * float64(time.Second)))
	if samples == nil {
		samples = []eeg.Sample{}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"seconds":  seconds,
		"count":    len(samples),
		"channels": eeg.ChannelNames,
		"samples":  samples,
	})
}

func (s *Server) eegAverage(w http.ResponseWriter, r *http.Request) {
	k, err := queryInt(r, "k", defaultAverageK)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	avg, err := s.mon.LatestAverage(k)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, avg)
}

func (s *Server) eegReset(w http.ResponseWriter, r *http.Request) {
	s.mon.Reset()
	httputil.WriteJSONOK(w, map[string]string{"status": "reset"})
}

func (s *Server) eegStart(w http.ResponseWriter, r *http.Request) {
	if s.osc == nil {
		httputil.WriteJSONError(w, http.StatusNotImplemented, "no network transport configured")
		return
	}
	if err := s.osc.Start(s.baseCtx); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.transportStatus())
}

func (s *Server) eegStop(w http.ResponseWriter, r *http.Request) {
	if s.osc == nil {
		httputil.WriteJSONError(w, http.StatusNotImplemented, "no network transport configured")
		return
	}
	if err := s.osc.Stop(); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.transportStatus())
}
