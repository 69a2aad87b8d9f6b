// Package scheduler adapts spaced-repetition intervals to measured confusion
// and picks the next card to present.
package scheduler

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidScore is returned for confusion scores outside [MinScore, MaxScore].
	ErrInvalidScore = errors.New("invalid confusion score")
	// ErrCardNotFound is returned when a card id is unknown to the store.
	ErrCardNotFound = errors.New("card not found")
)

const (
	MinScore = 1.0
	MaxScore = 10.0
	// NeutralScore is the starting average and the fallback when neither a
	// prediction nor a user rating is available.
	NeutralScore = 5.0

	DefaultEase     = 2.5
	MinEase         = 1.3
	MaxEase         = 3.0
	DefaultInterval = 1.0
	MinInterval     = 0.1
	MaxInterval     = 30.0

	// HistoryLimit bounds ConfusionHistory.
	HistoryLimit = 10

	highConfusion = 7.0
	lowConfusion  = 4.0
)

// ConfusionEntry is one scored review.
type ConfusionEntry struct {
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// Flashcard carries both the card content and its scheduling state.
type Flashcard struct {
	ID               string           `json:"id"`
	DeckID           string           `json:"deck_id"`
	Front            string           `json:"front"`
	Back             string           `json:"back"`
	EaseFactor       float64          `json:"ease_factor"`
	IntervalDays     float64          `json:"interval_days"`
	RepetitionCount  int              `json:"repetition_count"`
	ConfusionHistory []ConfusionEntry `json:"confusion_history"`
	AvgConfusion     float64          `json:"avg_confusion"`
	LastConfusion    *float64         `json:"last_confusion"`
	NextReview       time.Time        `json:"next_review"`
	CreatedAt        time.Time        `json:"created_at"`
}

// NewFlashcard returns a card with default scheduling state, due immediately.
func NewFlashcard(id, deckID, front, back string, now time.Time) Flashcard {
	return Flashcard{
		ID:               id,
		DeckID:           deckID,
		Front:            front,
		Back:             back,
		EaseFactor:       DefaultEase,
		IntervalDays:     DefaultInterval,
		ConfusionHistory: []ConfusionEntry{},
		AvgConfusion:     NeutralScore,
		NextReview:       now,
		CreatedAt:        now,
	}
}

// ValidScore reports whether score may be applied to a card.
func ValidScore(score float64) bool {
	return !math.IsNaN(score) && score >= MinScore && score <= MaxScore
}

func days(d float64) time.Duration {
	return time.Duration(d * float64(24*time.Hour))
}

// ApplyConfusion returns card updated by one review scored at score.
// High confusion halves the interval and lowers ease, low confusion
// stretches the interval and raises ease; the middle band keeps both.
// The input card is not modified.
func ApplyConfusion(card Flashcard, score float64, now time.Time) (Flashcard, error) {
	if !ValidScore(score) {
		return card, fmt.Errorf("%w: %v", ErrInvalidScore, score)
	}

	hist := make([]ConfusionEntry, 0, HistoryLimit)
	hist = append(hist, card.ConfusionHistory...)
	hist = append(hist, ConfusionEntry{Score: score, Timestamp: now})
	if len(hist) > HistoryLimit {
		hist = hist[len(hist)-HistoryLimit:]
	}
	var sum float64
	for _, e := range hist {
		sum += e.Score
	}

	out := card
	out.ConfusionHistory = hist
	out.AvgConfusion = sum / float64(len(hist))
	s := score
	out.LastConfusion = &s

	switch {
	case score >= highConfusion:
		out.IntervalDays = math.Max(MinInterval, card.IntervalDays*0.5)
		out.EaseFactor = math.Max(MinEase, card.EaseFactor-0.2)
	case score < lowConfusion:
		out.IntervalDays = math.Min(MaxInterval, card.IntervalDays*1.5)
		out.EaseFactor = math.Min(MaxEase, card.EaseFactor+0.1)
	}

	out.NextReview = now.Add(days(out.IntervalDays))
	out.RepetitionCount = card.RepetitionCount + 1
	return out, nil
}
