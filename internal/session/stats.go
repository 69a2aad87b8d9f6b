package session

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/synapse/internal/scheduler"
)

// Bucket counts cards by average confusion.
type Bucket struct {
	Easy   int `json:"easy"`
	Medium int `json:"medium"`
	Hard   int `json:"hard"`
}

// ConfusedCard is one entry of the most-confused list.
type ConfusedCard struct {
	ID        string  `json:"id"`
	Front     string  `json:"front"`
	Confusion float64 `json:"confusion"`
}

// FlashcardStats summarises a set of cards.
type FlashcardStats struct {
	Total          int            `json:"total_cards"`
	AvgConfusion   float64        `json:"avg_confusion"`
	AvgRepetitions float64        `json:"avg_repetitions"`
	ByDifficulty   Bucket         `json:"cards_by_difficulty"`
	MostConfused   []ConfusedCard `json:"most_confused_cards"`
}

const mostConfusedLimit = 5

// CardStats computes FlashcardStats. Cards are easy below 3, hard at 7 and
// above, medium otherwise.
func CardStats(cards []scheduler.Flashcard) FlashcardStats {
	st := FlashcardStats{Total: len(cards), MostConfused: []ConfusedCard{}}
	if len(cards) == 0 {
		return st
	}
	conf := make([]float64, len(cards))
	reps := make([]float64, len(cards))
	for i, c := range cards {
		conf[i] = c.AvgConfusion
		reps[i] = float64(c.RepetitionCount)
		switch {
		case c.AvgConfusion < 3:
			st.ByDifficulty.Easy++
		case c.AvgConfusion < 7:
			st.ByDifficulty.Medium++
		default:
			st.ByDifficulty.Hard++
		}
	}
	st.AvgConfusion = stat.Mean(conf, nil)
	st.AvgRepetitions = stat.Mean(reps, nil)

	sorted := append([]scheduler.Flashcard(nil), cards...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].AvgConfusion > sorted[j].AvgConfusion })
	if len(sorted) > mostConfusedLimit {
		sorted = sorted[:mostConfusedLimit]
	}
	for _, c := range sorted {
		st.MostConfused = append(st.MostConfused, ConfusedCard{ID: c.ID, Front: c.Front, Confusion: c.AvgConfusion})
	}
	return st
}

// Distribution counts review scores: low below 4, high at 7 and above.
type Distribution struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// ConfusionAnalysis describes the scores of one learning session.
type ConfusionAnalysis struct {
	AvgConfusion   float64      `json:"avg_confusion"`
	Trend          float64      `json:"confusion_trend"`
	TotalReviews   int          `json:"total_reviews"`
	EEGPredictions int          `json:"eeg_predictions_used"`
	Distribution   Distribution `json:"confusion_distribution"`
}

// AnalyzeConfusion summarises reviews in the order given.
func AnalyzeConfusion(reviews []Review) ConfusionAnalysis {
	a := ConfusionAnalysis{TotalReviews: len(reviews)}
	if len(reviews) == 0 {
		return a
	}
	scores := make([]float64, len(reviews))
	for i, r := range reviews {
		scores[i] = r.Score
		if r.Predicted != nil {
			a.EEGPredictions++
		}
		switch {
		case r.Score < 4:
			a.Distribution.Low++
		case r.Score < 7:
			a.Distribution.Medium++
		default:
			a.Distribution.High++
		}
	}
	a.AvgConfusion = stat.Mean(scores, nil)
	a.Trend = Trend(scores)
	return a
}

// Trend is the least-squares slope of values against their index. Fewer
// than two values have no trend.
func Trend(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	x := make([]float64, len(values))
	floats.Span(x, 0, float64(len(values)-1))
	_, slope := stat.LinearRegression(x, values, nil, false)
	return slope
}

// LearningEfficiency measures how many cards got easier with study.
type LearningEfficiency struct {
	Studied         int     `json:"total_cards_studied"`
	Improved        int     `json:"cards_improved"`
	ImprovementRate float64 `json:"improvement_rate"`
	// AvgRepetitionsToImprove is the mean repetition count of improved
	// cards.
	AvgRepetitionsToImprove float64 `json:"avg_sessions_to_improve"`
}

const recentHistory = 3

// Efficiency computes LearningEfficiency. A card improved when the mean of
// its last three scores is below its first score.
func Efficiency(cards []scheduler.Flashcard) LearningEfficiency {
	var e LearningEfficiency
	var eligible int
	var reps []float64
	for _, c := range cards {
		if c.RepetitionCount > 0 {
			e.Studied++
		}
		h := c.ConfusionHistory
		if len(h) < 2 {
			continue
		}
		eligible++
		tail := h[max(0, len(h)-recentHistory):]
		recent := make([]float64, len(tail))
		for i, entry := range tail {
			recent[i] = entry.Score
		}
		if stat.Mean(recent, nil) < h[0].Score {
			e.Improved++
			reps = append(reps, float64(c.RepetitionCount))
		}
	}
	e.ImprovementRate = float64(e.Improved) / float64(max(1, eligible))
	if len(reps) > 0 {
		e.AvgRepetitionsToImprove = stat.Mean(reps, nil)
	}
	return e
}
