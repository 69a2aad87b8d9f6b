package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banshee-data/synapse/internal/scheduler"
	"github.com/banshee-data/synapse/internal/session"
)

const cardColumns = `id, deck_id, front, back, ease_factor, interval_days, repetition_count,
	confusion_history, avg_confusion, last_confusion, next_review, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCard(row rowScanner) (scheduler.Flashcard, error) {
	var (
		c         scheduler.Flashcard
		history   string
		last      sql.NullFloat64
		next, cat int64
	)
	if err := row.Scan(&c.ID, &c.DeckID, &c.Front, &c.Back, &c.EaseFactor, &c.IntervalDays,
		&c.RepetitionCount, &history, &c.AvgConfusion, &last, &next, &cat); err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(history), &c.ConfusionHistory); err != nil {
		return c, fmt.Errorf("card %s: decode confusion history: %w", c.ID, err)
	}
	if c.ConfusionHistory == nil {
		c.ConfusionHistory = []scheduler.ConfusionEntry{}
	}
	if last.Valid {
		v := last.Float64
		c.LastConfusion = &v
	}
	c.NextReview = fromUnixNano(next)
	c.CreatedAt = fromUnixNano(cat)
	return c, nil
}

// GetCard returns scheduler.ErrCardNotFound for unknown ids.
func (db *DB) GetCard(ctx context.Context, id string) (scheduler.Flashcard, error) {
	row := db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM flashcards WHERE id = ?`, id)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("%w: %s", scheduler.ErrCardNotFound, id)
	}
	return c, err
}

// PutCard inserts or replaces a card. The deck must exist.
func (db *DB) PutCard(ctx context.Context, c scheduler.Flashcard) error {
	history := c.ConfusionHistory
	if history == nil {
		history = []scheduler.ConfusionEntry{}
	}
	hist, err := json.Marshal(history)
	if err != nil {
		return err
	}
	var last interface{}
	if c.LastConfusion != nil {
		last = *c.LastConfusion
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO flashcards (`+cardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			deck_id = excluded.deck_id,
			front = excluded.front,
			back = excluded.back,
			ease_factor = excluded.ease_factor,
			interval_days = excluded.interval_days,
			repetition_count = excluded.repetition_count,
			confusion_history = excluded.confusion_history,
			avg_confusion = excluded.avg_confusion,
			last_confusion = excluded.last_confusion,
			next_review = excluded.next_review`,
		c.ID, c.DeckID, c.Front, c.Back, c.EaseFactor, c.IntervalDays, c.RepetitionCount,
		string(hist), c.AvgConfusion, last, unixNano(c.NextReview), unixNano(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("put card %s: %w", c.ID, err)
	}
	return nil
}

// ListCards returns the cards of deckID in creation order, or every card
// when deckID is empty.
func (db *DB) ListCards(ctx context.Context, deckID string) ([]scheduler.Flashcard, error) {
	q := `SELECT ` + cardColumns + ` FROM flashcards`
	var args []interface{}
	if deckID != "" {
		q += ` WHERE deck_id = ?`
		args = append(args, deckID)
	}
	rows, err := db.QueryContext(ctx, q+` ORDER BY rowid`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cards := []scheduler.Flashcard{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// DeleteCard removes a card and its reviews.
func (db *DB) DeleteCard(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM flashcards WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", scheduler.ErrCardNotFound, id)
	}
	return nil
}

// CountCards returns the number of cards across all decks.
func (db *DB) CountCards(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flashcards`).Scan(&n)
	return n, err
}

func (db *DB) CreateDeck(ctx context.Context, d session.Deck) error {
	_, err := db.ExecContext(ctx, `INSERT INTO decks (id, name, created_at) VALUES (?, ?, ?)`,
		d.ID, d.Name, unixNano(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("create deck %s: %w", d.ID, err)
	}
	return nil
}

const deckQuery = `SELECT d.id, d.name, d.created_at, COUNT(f.id)
	FROM decks d LEFT JOIN flashcards f ON f.deck_id = d.id`

func scanDeck(row rowScanner) (session.Deck, error) {
	var (
		d  session.Deck
		at int64
	)
	if err := row.Scan(&d.ID, &d.Name, &at, &d.Cards); err != nil {
		return d, err
	}
	d.CreatedAt = fromUnixNano(at)
	return d, nil
}

// GetDeck returns session.ErrDeckNotFound for unknown ids.
func (db *DB) GetDeck(ctx context.Context, id string) (session.Deck, error) {
	d, err := scanDeck(db.QueryRowContext(ctx, deckQuery+` WHERE d.id = ? GROUP BY d.id`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return d, fmt.Errorf("%w: %s", session.ErrDeckNotFound, id)
	}
	return d, err
}

// ListDecks returns all decks oldest first.
func (db *DB) ListDecks(ctx context.Context) ([]session.Deck, error) {
	rows, err := db.QueryContext(ctx, deckQuery+` GROUP BY d.id ORDER BY d.created_at, d.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	decks := []session.Deck{}
	for rows.Next() {
		d, err := scanDeck(rows)
		if err != nil {
			return nil, err
		}
		decks = append(decks, d)
	}
	return decks, rows.Err()
}

// DeleteDeck removes a deck together with its cards.
func (db *DB) DeleteDeck(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM decks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", session.ErrDeckNotFound, id)
	}
	return nil
}
