package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/ports"
)

const (
	ledgerStateReserved  = "reserved"
	ledgerStateCommitted = "committed"

	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS fingerprints (
    fingerprint TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    token TEXT,
    expires_at INTEGER,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fingerprints_state ON fingerprints(state);
`

// SQLiteLedger is a durable fingerprint ledger in a local SQLite file.
type SQLiteLedger struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

var _ ports.Ledger = (*SQLiteLedger)(nil)

// OpenSQLiteLedger opens or creates the ledger database at path.
func OpenSQLiteLedger(ctx context.Context, path string, ttl time.Duration) (*SQLiteLedger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	// one writer keeps the read-modify-write upserts serialized
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, ledgerSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}

	return &SQLiteLedger{db: db, ttl: ttl, now: time.Now}, nil
}

// Close closes the underlying database.
func (l *SQLiteLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *SQLiteLedger) Seen(ctx context.Context, fp domain.Fingerprint) (bool, error) {
	query, args, err := sq.Select("state", "expires_at").
		From("fingerprints").
		Where(sq.Eq{"fingerprint": fp.String()}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build seen query: %w", err)
	}

	var (
		state   string
		expires sql.NullInt64
	)
	err = retryOnBusy(ctx, func() error {
		return l.db.QueryRowContext(ctx, query, args...).Scan(&state, &expires)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, ledgerErr("seen", err)
	}
	if state == ledgerStateCommitted || !expires.Valid {
		return true, nil
	}
	return l.now().UnixMilli() < expires.Int64, nil
}

// Reserve inserts a reservation or takes over an expired one in a single statement.
func (l *SQLiteLedger) Reserve(ctx context.Context, fp domain.Fingerprint) (ports.Reservation, error) {
	now := l.now().UnixMilli()
	var expires any
	if l.ttl > 0 {
		expires = now + l.ttl.Milliseconds()
	}
	token := uuid.NewString()

	query, args, err := sq.Insert("fingerprints").
		Columns("fingerprint", "state", "token", "expires_at", "updated_at").
		Values(fp.String(), ledgerStateReserved, token, expires, now).
		Suffix(`ON CONFLICT(fingerprint) DO UPDATE SET
            state = excluded.state,
            token = excluded.token,
            expires_at = excluded.expires_at,
            updated_at = excluded.updated_at
        WHERE fingerprints.state = ? AND fingerprints.expires_at IS NOT NULL AND fingerprints.expires_at <= ?`,
			ledgerStateReserved, now).
		ToSql()
	if err != nil {
		return ports.Reservation{}, fmt.Errorf("build reserve query: %w", err)
	}

	var res sql.Result
	if err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = l.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return ports.Reservation{}, ledgerErr("reserve", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ports.Reservation{}, ledgerErr("reserve", err)
	}
	if n == 0 {
		return ports.Reservation{Result: ports.MarkAlreadyMarked}, nil
	}
	return ports.Reservation{Result: ports.MarkOK, Token: token}, nil
}

func (l *SQLiteLedger) Release(ctx context.Context, fp domain.Fingerprint, token string) error {
	query, args, err := sq.Delete("fingerprints").
		Where(sq.Eq{"fingerprint": fp.String(), "state": ledgerStateReserved, "token": token}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build release query: %w", err)
	}
	if err := l.exec(ctx, query, args...); err != nil {
		return ledgerErr("release", err)
	}
	return nil
}

func (l *SQLiteLedger) Commit(ctx context.Context, fp domain.Fingerprint) error {
	now := l.now().UnixMilli()
	query, args, err := sq.Insert("fingerprints").
		Columns("fingerprint", "state", "token", "expires_at", "updated_at").
		Values(fp.String(), ledgerStateCommitted, nil, nil, now).
		Suffix(`ON CONFLICT(fingerprint) DO UPDATE SET
            state = excluded.state,
            token = NULL,
            expires_at = NULL,
            updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build commit query: %w", err)
	}
	if err := l.exec(ctx, query, args...); err != nil {
		return ledgerErr("commit", err)
	}
	return nil
}

func (l *SQLiteLedger) exec(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := l.db.ExecContext(ctx, query, args...)
		return err
	})
}

func ledgerErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrLedgerUnavailable, op, err)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
