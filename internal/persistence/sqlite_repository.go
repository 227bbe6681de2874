package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/imaddar/pair-match/internal/domain"
)

// Fixed width so that lexical order matches chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

type sqliteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) Repository {
	return &sqliteRepository{db: db}
}

func (r *sqliteRepository) CreateSession(ctx context.Context, record SessionRecord) error {
	deck, err := json.Marshal(record.Deck)
	if err != nil {
		return fmt.Errorf("marshal deck: %w", err)
	}
	const q = `
INSERT INTO sessions (
  session_id, source, status, deck, final_state, score, tried_times, matches, mismatch_delay_ms, started_at, ended_at, error
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
`
	_, err = r.db.ExecContext(ctx, q,
		record.SessionID,
		record.Source,
		string(record.Status),
		string(deck),
		string(record.FinalState),
		record.Score,
		record.TriedTimes,
		record.Matches,
		int64(record.MismatchDelayMS),
		formatSQLiteTime(record.StartedAt),
		formatSQLiteTimePtr(record.EndedAt),
		record.Error,
	)
	if isSQLiteUniqueViolation(err) {
		return ErrSessionAlreadyExists
	}
	return err
}

func (r *sqliteRepository) UpdateSession(ctx context.Context, record SessionRecord) error {
	deck, err := json.Marshal(record.Deck)
	if err != nil {
		return fmt.Errorf("marshal deck: %w", err)
	}
	const q = `
UPDATE sessions
SET source=?, status=?, deck=?, final_state=?, score=?, tried_times=?, matches=?,
    mismatch_delay_ms=?, started_at=?, ended_at=?, error=?
WHERE session_id = ?
`
	result, err := r.db.ExecContext(ctx, q,
		record.Source,
		string(record.Status),
		string(deck),
		string(record.FinalState),
		record.Score,
		record.TriedTimes,
		record.Matches,
		int64(record.MismatchDelayMS),
		formatSQLiteTime(record.StartedAt),
		formatSQLiteTimePtr(record.EndedAt),
		record.Error,
		record.SessionID,
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

const sqliteSessionColumns = `session_id, source, status, deck, final_state, score, tried_times, matches, mismatch_delay_ms, started_at, ended_at, error`

func (r *sqliteRepository) GetSession(ctx context.Context, sessionID string) (SessionRecord, bool, error) {
	q := `SELECT ` + sqliteSessionColumns + ` FROM sessions WHERE session_id = ?`
	rec, err := scanSQLiteSession(r.db.QueryRowContext(ctx, q, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}
	return rec, true, nil
}

func (r *sqliteRepository) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	q := `SELECT ` + sqliteSessionColumns + ` FROM sessions ORDER BY started_at DESC, session_id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]SessionRecord, 0, 32)
	for rows.Next() {
		rec, err := scanSQLiteSession(rows)
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

func (r *sqliteRepository) AppendReveal(ctx context.Context, record RevealRecord) error {
	const q = `
INSERT INTO reveals (
  session_id, seq, kind, slot, position, from_state, to_state, matched, is_fallback, at
) VALUES (?,?,?,?,?,?,?,?,?,?)
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
		formatSQLiteTime(record.At),
	)
	if isSQLiteForeignKeyViolation(err) {
		return ErrSessionNotFound
	}
	if isSQLiteUniqueViolation(err) {
		return ErrRevealAlreadyExists
	}
	return err
}

func (r *sqliteRepository) ListReveals(ctx context.Context, sessionID string) ([]RevealRecord, error) {
	const q = `
SELECT session_id, seq, kind, slot, position, from_state, to_state, matched, is_fallback, at
FROM reveals
WHERE session_id = ?
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
		var kind, fromState, toState, at string
		var slot, position sql.NullInt64
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
			&at,
		); err != nil {
			return nil, err
		}
		rec.Kind = RevealKind(kind)
		rec.FromState = domain.GameState(fromState)
		rec.ToState = domain.GameState(toState)
		if slot.Valid {
			value := int(slot.Int64)
			rec.Slot = &value
		}
		if position.Valid {
			value := domain.Position(position.Int64)
			rec.Position = &value
		}
		parsed, err := parseSQLiteTime(at)
		if err != nil {
			return nil, fmt.Errorf("parse reveal time for session %s: %w", rec.SessionID, err)
		}
		rec.At = parsed
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanSQLiteSession(row rowScanner) (SessionRecord, error) {
	var rec SessionRecord
	var status, finalState, deckRaw, startedAt string
	var endedAt sql.NullString
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
		&startedAt,
		&endedAt,
		&rec.Error,
	); err != nil {
		return SessionRecord{}, err
	}
	rec.Status = SessionStatus(status)
	rec.FinalState = domain.GameState(finalState)
	rec.MismatchDelayMS = uint64(delay)
	if deckRaw != "" {
		if err := json.Unmarshal([]byte(deckRaw), &rec.Deck); err != nil {
			return SessionRecord{}, fmt.Errorf("unmarshal deck for session %s: %w", rec.SessionID, err)
		}
	}
	started, err := parseSQLiteTime(startedAt)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("parse started_at for session %s: %w", rec.SessionID, err)
	}
	rec.StartedAt = started
	if endedAt.Valid {
		ended, err := parseSQLiteTime(endedAt.String)
		if err != nil {
			return SessionRecord{}, fmt.Errorf("parse ended_at for session %s: %w", rec.SessionID, err)
		}
		rec.EndedAt = &ended
	}
	return rec, nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatSQLiteTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatSQLiteTime(*t)
}

func parseSQLiteTime(value string) (time.Time, error) {
	return time.Parse(sqliteTimeLayout, value)
}

func isSQLiteUniqueViolation(err error) bool {
	return hasSQLiteCode(err, "UNIQUE", sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY)
}

func isSQLiteForeignKeyViolation(err error) bool {
	return hasSQLiteCode(err, "FOREIGN KEY", sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY)
}

func hasSQLiteCode(err error, kind string, codes ...int) bool {
	if err == nil {
		return false
	}
	var liteErr *sqlite.Error
	if !errors.As(err, &liteErr) {
		return false
	}
	code := liteErr.Code()
	for _, c := range codes {
		if code == c {
			return true
		}
	}
	// Primary result code only: tell constraint kinds apart by message.
	return code == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), kind)
}
