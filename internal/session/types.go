package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/synapse/internal/eeg"
	"github.com/banshee-data/synapse/internal/scheduler"
)

// Kind selects which regressor a calibration run trains.
type Kind string

const (
	// KindConfusion trials are labelled with the user's 1–10 confusion score.
	KindConfusion Kind = "confusion"
	// KindDifficulty trials are labelled with the prompt's difficulty class.
	KindDifficulty Kind = "difficulty"
)

// ParseKind accepts "confusion" or "difficulty", case-insensitively. An
// empty name means confusion.
func ParseKind(name string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(name))) {
	case "", KindConfusion:
		return KindConfusion, nil
	case KindDifficulty:
		return KindDifficulty, nil
	}
	return "", fmt.Errorf("unknown calibration kind %q", name)
}

// CalibrationSession groups the trials of one calibration run.
type CalibrationSession struct {
	ID           string     `json:"id"`
	Kind         Kind       `json:"kind"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ModelVersion int        `json:"model_version,omitempty"`
}

// Trial is one labelled EEG window captured while a prompt was shown.
type Trial struct {
	ID        int64        `json:"id"`
	SessionID string       `json:"session_id"`
	Kind      Kind         `json:"kind"`
	PromptID  string       `json:"prompt_id"`
	Label     float64      `json:"label"`
	Samples   []eeg.Sample `json:"-"`
	CreatedAt time.Time    `json:"created_at"`
}

// Deck is a named collection of flashcards.
type Deck struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Cards     int       `json:"cards"`
}

// Score sources recorded with each review.
const (
	SourceEEG     = "eeg"
	SourceUser    = "user"
	SourceDefault = "default"
)

// Review records how one presentation of a card was scored.
type Review struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id"`
	CardID       string    `json:"card_id"`
	Predicted    *float64  `json:"predicted_confusion"`
	UserRating   *float64  `json:"user_rating"`
	Score        float64   `json:"final_confusion"`
	Source       string    `json:"source"`
	IntervalDays float64   `json:"interval_days"`
	NextReview   time.Time `json:"next_review"`
	ReviewedAt   time.Time `json:"reviewed_at"`
}

// TrialStore persists calibration sessions and their trials.
type TrialStore interface {
	CreateCalibrationSession(ctx context.Context, s CalibrationSession) error
	FinishCalibrationSession(ctx context.Context, id string, finished time.Time, version int) error
	SaveTrial(ctx context.Context, t *Trial) error
	ListTrials(ctx context.Context, kind Kind) ([]Trial, error)
	CountTrials(ctx context.Context, kind Kind) (int, error)
}

// DeckStore persists decks and card content.
type DeckStore interface {
	CreateDeck(ctx context.Context, d Deck) error
	GetDeck(ctx context.Context, id string) (Deck, error)
	ListDecks(ctx context.Context) ([]Deck, error)
	DeleteDeck(ctx context.Context, id string) error
	DeleteCard(ctx context.Context, id string) error
	CountCards(ctx context.Context) (int, error)
}

// ReviewStore records reviews.
type ReviewStore interface {
	RecordReview(ctx context.Context, r *Review) error
	ListReviews(ctx context.Context, sessionID string) ([]Review, error)
}

// Store is everything the service persists.
type Store interface {
	scheduler.CardStore
	TrialStore
	DeckStore
	ReviewStore
}
