package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/imaddar/pair-match/internal/domain"
)

type postgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) CreateSession(ctx context.Context, record SessionRecord) error {
	deck, err := json.Marshal(record.Deck)
	if err != nil {
		return fmt.Errorf("marshal deck: %w", err)
	}
	const q = `
INSERT INTO sessions (
  session_id, source, status, deck, final_state, score, tried_times, matches, mismatch_delay_ms, started_at, ended_at, error
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`
	_, err = r.db.ExecContext(ctx, q,
		record.SessionID,
		record.Source,
		string(record.Status),
		deck,
		string(record.FinalState),
		record.Score,
		record.TriedTimes,
		record.Matches,
		int64(record.MismatchDelayMS),
		record.StartedAt,
		record.EndedAt,
		record.Error,
	)
	if isUniqueViolation(err) {
		return ErrSessionAlreadyExists
	}
	return err
}

func (r *postgresRepository) UpdateSession(ctx context.Context, record SessionRecord) error {
	deck, err := json.Marshal(record.Deck)
	if err != nil {
		return fmt.Errorf("marshal deck: %w", err)
	}
	const q = `
UPDATE sessions
SET source=$2, status=$3, deck=$4, final_state=$5, score=$6, tried_times=$7, matches=$8,
    mismatch_delay_ms=$9, started_at=$10, ended_at=$11, error=$12, updated_at=now()
WHERE session_id = $1
`
	result, err := r.db.ExecContext(ctx, q,
		record.SessionID,
		record.Source,
		string(record.Status),
		deck,
		string(record.FinalState),
		record.Score,
		record.TriedTimes,
		record.Matches,
		int64(record.MismatchDelayMS),
		record.StartedAt,
		record.EndedAt,
		record.Error,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

const postgresSessionColumns = `session_id, source, status, deck, final_state, score, tried_times, matches, mismatch_delay_ms, started_at, ended_at, error`

func (r *postgresRepository) GetSession(ctx context.Context, sessionID string) (SessionRecord, bool, error) {
	q := `SELECT ` + postgresSessionColumns + ` FROM sessions WHERE session_id = $1`
	rec, err := scanPostgresSession(r.db.QueryRowContext(ctx, q, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}
	return rec, true, nil
}

func (r *postgresRepository) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	q := `SELECT ` + postgresSessionColumns + ` FROM sessions ORDER BY started_at DESC, session_id DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, q, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]SessionRecord, 0, 32)
	for rows.Next() {
		rec, err := scanPostgresSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *postgresRepository) AppendReveal(ctx context.Context, record RevealRecord) error {
	const q = `
INSERT INTO reveals (
  session_id, seq, kind, slot, position, from_state, to_state, matched, is_fallback, at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`
	_, err := r.db.ExecContext(ctx, q,
		record.SessionID,
		record.Seq,
		string(record.Kind),
		nullableSlot(record.Slot),
		nullablePosition(record.Position),
		string(record.FromState),
		string(record.ToState),
		record.Matched,
		record.IsFallback,
		record.At,
	)
	if isForeignKeyViolation(err) {
		return ErrSessionNotFound
	}
	if isUniqueViolation(err) {
		return ErrRevealAlreadyExists
	}
	return err
}

func (r *postgresRepository) ListReveals(ctx context.Context, sessionID string) ([]RevealRecord, error) {
	const q = `
SELECT session_id, seq, kind, slot, position, from_state, to_state, matched, is_fallback, at
FROM reveals
WHERE session_id = $1
ORDER BY seq ASC
`
	rows, err := r.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]RevealRecord, 0, 64)
	for rows.Next() {
		var rec RevealRecord
		var kind, fromState, toState string
		var slot, position sql.NullInt16
		if err := rows.Scan(
			&rec.SessionID,
			&rec.Seq,
			&kind,
			&slot,
			&position,
			&fromState,
			&toState,
			&rec.Matched,
			&rec.IsFallback,
			&rec.At,
		); err != nil {
			return nil, err
		}
		rec.Kind = RevealKind(kind)
		rec.FromState = domain.GameState(fromState)
		rec.ToState = domain.GameState(toState)
		if slot.Valid {
			value := int(slot.Int16)
			rec.Slot = &value
		}
		if position.Valid {
			value := domain.Position(position.Int16)
			rec.Position = &value
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPostgresSession(row rowScanner) (SessionRecord, error) {
	var rec SessionRecord
	var status, finalState string
	var deckRaw []byte
	var delay int64
	if err := row.Scan(
		&rec.SessionID,
		&rec.Source,
		&status,
		&deckRaw,
		&finalState,
		&rec.Score,
		&rec.TriedTimes,
		&rec.Matches,
		&delay,
		&rec.StartedAt,
		&rec.EndedAt,
		&rec.Error,
	); err != nil {
		return SessionRecord{}, err
	}
	rec.Status = SessionStatus(status)
	rec.FinalState = domain.GameState(finalState)
	rec.MismatchDelayMS = uint64(delay)
	if len(deckRaw) > 0 {
		if err := json.Unmarshal(deckRaw, &rec.Deck); err != nil {
			return SessionRecord{}, fmt.Errorf("unmarshal deck for session %s: %w", rec.SessionID, err)
		}
	}
	return rec, nil
}

func nullableSlot(slot *int) any {
	if slot == nil {
		return nil
	}
	return int64(*slot)
}

func nullablePosition(position *domain.Position) any {
	if position == nil {
		return nil
	}
	return int64(*position)
}

func isUniqueViolation(err error) bool {
	return hasSQLState(err, "23505")
}

func isForeignKeyViolation(err error) bool {
	return hasSQLState(err, "23503")
}

func hasSQLState(err error, code pq.ErrorCode) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}
