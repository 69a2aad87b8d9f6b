package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/synapse/internal/httputil"
	"github.com/banshee-data/synapse/internal/session"
)

// echartsAssetsPrefix serves echarts from the public CDN.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// missingPoint leaves a gap in an echarts line series.
const missingPoint = "-"

func optionalPoint(v *float64) opts.LineData {
	if v == nil {
		return opts.LineData{Value: missingPoint}
	}
	return opts.LineData{Value: *v}
}

// confusionChart plots final, predicted and self-reported confusion per
// review in order.
func confusionChart(sessionID string, reviews []session.Review) *charts.Line {
	x := make([]string, len(reviews))
	final := make([]opts.LineData, len(reviews))
	predicted := make([]opts.LineData, len(reviews))
	rated := make([]opts.LineData, len(reviews))
	for i, r := range reviews {
		x[i] = strconv.Itoa(i + 1)
		final[i] = opts.LineData{Name: r.Source, Value: r.Score}
		predicted[i] = optionalPoint(r.Predicted)
		rated[i] = optionalPoint(r.UserRating)
	}

	var scores []float64
	for _, r := range reviews {
		scores = append(scores, r.Score)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Confusion over reviews", Theme: "dark", Width: "1000px", Height: "500px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Confusion over reviews", Subtitle: fmt.Sprintf("session=%s reviews=%d trend=%.3f", sessionID, len(reviews), session.Trend(scores))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Review", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Confusion", Min: 1, Max: 10}),
	)
	line.SetXAxis(x).
		AddSeries("final", final).
		AddSeries("eeg prediction", predicted).
		AddSeries("user rating", rated)
	return line
}

// confusionReport renders the confusion chart for session_id, or for the
// active learning session when the parameter is absent.
func (s *Server) confusionReport(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		st, err := s.svc.Status(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if st.Stage != session.StageLearning || st.SessionID == "" {
			writeError(w, session.ErrNoActiveSession)
			return
		}
		sessionID = st.SessionID
	}

	reviews, err := s.store.ListReviews(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(reviews) == 0 {
		httputil.NotFound(w, "no reviews for session "+sessionID)
		return
	}

	var buf bytes.Buffer
	if err := confusionChart(sessionID, reviews).Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
