package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/banshee-data/synapse/internal/session"
)

func nullable(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// RecordReview stores r and sets r.ID.
func (db *DB) RecordReview(ctx context.Context, r *session.Review) error {
	res, err := db.ExecContext(ctx, `
		INSERT INTO reviews (session_id, card_id, predicted, user_rating, score, source,
			interval_days, next_review, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.CardID, nullable(r.Predicted), nullable(r.UserRating), r.Score, r.Source,
		r.IntervalDays, unixNano(r.NextReview), unixNano(r.ReviewedAt))
	if err != nil {
		return fmt.Errorf("record review: %w", err)
	}
	r.ID, err = res.LastInsertId()
	return err
}

// ListReviews returns the reviews of sessionID in order, or all reviews
// when sessionID is empty.
func (db *DB) ListReviews(ctx context.Context, sessionID string) ([]session.Review, error) {
	q := `SELECT id, session_id, card_id, predicted, user_rating, score, source,
		interval_days, next_review, reviewed_at FROM reviews`
	var args []interface{}
	if sessionID != "" {
		q += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	rows, err := db.QueryContext(ctx, q+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []session.Review{}
	for rows.Next() {
		var (
			r          session.Review
			pred, rate sql.NullFloat64
			next, at   int64
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.CardID, &pred, &rate, &r.Score, &r.Source,
			&r.IntervalDays, &next, &at); err != nil {
			return nil, err
		}
		r.Predicted = fromNull(pred)
		r.UserRating = fromNull(rate)
		r.NextReview = fromUnixNano(next)
		r.ReviewedAt = fromUnixNano(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ session.Store = (*DB)(nil)
