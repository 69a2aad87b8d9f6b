package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/synapse/internal/eeg"
	"github.com/banshee-data/synapse/internal/session"
	"github.com/banshee-data/synapse/internal/zstdutil"
)

func (db *DB) CreateCalibrationSession(ctx context.Context, s session.CalibrationSession) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO calibration_sessions (id, kind, started_at) VALUES (?, ?, ?)`,
		s.ID, string(s.Kind), unixNano(s.StartedAt))
	if err != nil {
		return fmt.Errorf("create calibration session: %w", err)
	}
	return nil
}

// FinishCalibrationSession records the finish time and the model version
// the session produced.
func (db *DB) FinishCalibrationSession(ctx context.Context, id string, finished time.Time, version int) error {
	_, err := db.ExecContext(ctx,
		`UPDATE calibration_sessions SET finished_at = ?, model_version = ? WHERE id = ?`,
		unixNano(finished), version, id)
	return err
}

// CalibrationSessions lists sessions newest first.
func (db *DB) CalibrationSessions(ctx context.Context) ([]session.CalibrationSession, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, kind, started_at, finished_at, model_version FROM calibration_sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.CalibrationSession
	for rows.Next() {
		var (
			s        session.CalibrationSession
			kind     string
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &kind, &started, &finished, &s.ModelVersion); err != nil {
			return nil, err
		}
		s.Kind = session.Kind(kind)
		s.StartedAt = fromUnixNano(started)
		if finished.Valid {
			t := fromUnixNano(finished.Int64)
			s.FinishedAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func encodeSamples(samples []eeg.Sample) ([]byte, error) {
	raw, err := json.Marshal(samples)
	if err != nil {
		return nil, err
	}
	return zstdutil.Compress(raw)
}

func decodeSamples(blob []byte) ([]eeg.Sample, error) {
	raw, err := zstdutil.Decompress(blob)
	if err != nil {
		return nil, err
	}
	var samples []eeg.Sample
	if err := json.Unmarshal(raw, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

// SaveTrial stores t with its samples compressed and sets t.ID.
func (db *DB) SaveTrial(ctx context.Context, t *session.Trial) error {
	blob, err := encodeSamples(t.Samples)
	if err != nil {
		return fmt.Errorf("encode trial samples: %w", err)
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO calibration_trials (session_id, kind, prompt_id, label, sample_count, samples, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.SessionID, string(t.Kind), t.PromptID, t.Label, len(t.Samples), blob, unixNano(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("save trial: %w", err)
	}
	t.ID, err = res.LastInsertId()
	return err
}

// ListTrials returns every stored trial of kind, oldest first, with samples.
func (db *DB) ListTrials(ctx context.Context, kind session.Kind) ([]session.Trial, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, session_id, kind, prompt_id, label, samples, created_at
		FROM calibration_trials WHERE kind = ? ORDER BY id`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Trial
	for rows.Next() {
		var (
			t    session.Trial
			k    string
			blob []byte
			at   int64
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &k, &t.PromptID, &t.Label, &blob, &at); err != nil {
			return nil, err
		}
		if t.Samples, err = decodeSamples(blob); err != nil {
			return nil, fmt.Errorf("trial %d: decode samples: %w", t.ID, err)
		}
		t.Kind = session.Kind(k)
		t.CreatedAt = fromUnixNano(at)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (db *DB) CountTrials(ctx context.Context, kind session.Kind) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM calibration_trials WHERE kind = ?`, string(kind)).Scan(&n)
	return n, err
}
