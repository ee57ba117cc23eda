package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/strangers/internal/chatserver"
	"github.com/cory-johannsen/strangers/internal/lobby"
)

// ErrSessionNotFound is returned when no session row matches the lookup.
var ErrSessionNotFound = errors.New("session not found")

// SessionRecord is one row of the session log.
type SessionRecord struct {
	ID          string
	Kind        string
	RoomKey     string
	Members     int
	OpenedAt    time.Time
	ClosedAt    *time.Time
	CloseReason string
}

// Open reports whether the session has not been closed.
func (r SessionRecord) Open() bool {
	return r.ClosedAt == nil
}

// SessionLog records session lifetimes in the chat_sessions table. It
// never stores message content or user names.
type SessionLog struct {
	db *pgxpool.Pool
}

// NewSessionLog creates a SessionLog backed by the given pool.
//
// Precondition: db must be a valid, open connection pool with migrations applied.
func NewSessionLog(db *pgxpool.Pool) *SessionLog {
	return &SessionLog{db: db}
}

var _ chatserver.SessionRecorder = (*SessionLog)(nil)

// SessionOpened inserts a row for a new session. Replaying the same event
// is a no-op.
//
// Precondition: ev.SessionID must be non-empty.
func (l *SessionLog) SessionOpened(ctx context.Context, ev chatserver.SessionEvent) error {
	if ev.SessionID == "" {
		return errors.New("session id must not be empty")
	}
	_, err := l.db.Exec(ctx, `
		INSERT INTO chat_sessions (id, kind, room_key, members, opened_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		string(ev.SessionID), ev.Kind.String(), ev.RoomKey, ev.Members, openedAt(ev),
	)
	if err != nil {
		return fmt.Errorf("recording session open %s: %w", ev.SessionID, err)
	}
	return nil
}

// SessionClosed marks a session as closed. A close that arrives before its
// open creates the row so neither ordering loses the event.
//
// Precondition: ev.SessionID must be non-empty.
// Postcondition: The row has closed_at and close_reason set.
func (l *SessionLog) SessionClosed(ctx context.Context, ev chatserver.SessionEvent) error {
	if ev.SessionID == "" {
		return errors.New("session id must not be empty")
	}
	closedAt := ev.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now()
	}
	_, err := l.db.Exec(ctx, `
		INSERT INTO chat_sessions (id, kind, room_key, members, opened_at, closed_at, close_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			closed_at    = EXCLUDED.closed_at,
			close_reason = EXCLUDED.close_reason,
			members      = GREATEST(chat_sessions.members, EXCLUDED.members)`,
		string(ev.SessionID), ev.Kind.String(), ev.RoomKey, ev.Members, openedAt(ev), closedAt, ev.Reason,
	)
	if err != nil {
		return fmt.Errorf("recording session close %s: %w", ev.SessionID, err)
	}
	return nil
}

// Get returns the row for id.
//
// Postcondition: Returns ErrSessionNotFound when no row exists.
func (l *SessionLog) Get(ctx context.Context, id lobby.SessionID) (*SessionRecord, error) {
	var (
		rec    SessionRecord
		reason *string
	)
	err := l.db.QueryRow(ctx, `
		SELECT id, kind, room_key, members, opened_at, closed_at, close_reason
		FROM chat_sessions WHERE id = $1`,
		string(id),
	).Scan(&rec.ID, &rec.Kind, &rec.RoomKey, &rec.Members, &rec.OpenedAt, &rec.ClosedAt, &reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("querying session %s: %w", id, err)
	}
	if reason != nil {
		rec.CloseReason = *reason
	}
	return &rec, nil
}

// CountOpen returns how many sessions of the given kind have no close
// recorded.
func (l *SessionLog) CountOpen(ctx context.Context, kind lobby.Kind) (int, error) {
	var n int
	err := l.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM chat_sessions WHERE kind = $1 AND closed_at IS NULL`,
		kind.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting open %s sessions: %w", kind, err)
	}
	return n, nil
}

// CloseAllOpen closes every session still open, used at startup to settle
// sessions orphaned by an unclean shutdown.
//
// Postcondition: Returns the number of rows closed.
func (l *SessionLog) CloseAllOpen(ctx context.Context, reason string) (int64, error) {
	tag, err := l.db.Exec(ctx,
		`UPDATE chat_sessions SET closed_at = NOW(), close_reason = $1 WHERE closed_at IS NULL`,
		reason,
	)
	if err != nil {
		return 0, fmt.Errorf("closing orphaned sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func openedAt(ev chatserver.SessionEvent) time.Time {
	if ev.OpenedAt.IsZero() {
		return time.Now()
	}
	return ev.OpenedAt
}
