package audit

import (
	"context"
	"time"

	"github.com/lakegate/lakegate-core/pkg/clients/postgres"
	lgerr "github.com/lakegate/lakegate-core/pkg/errors"
)

// defaultRecordTimeout bounds a single INSERT so a stalled database
// cannot hold up the caller's best-effort recording path.
const defaultRecordTimeout = 2 * time.Second

const createEventsTable = `
CREATE TABLE IF NOT EXISTS auth_events (
	id         UUID PRIMARY KEY,
	occurred   TIMESTAMPTZ NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	subject    TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL,
	operation  TEXT NOT NULL DEFAULT '',
	bucket     TEXT NOT NULL DEFAULT '',
	role       TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS auth_events_subject_idx ON auth_events (subject, occurred);
CREATE INDEX IF NOT EXISTS auth_events_session_idx ON auth_events (session_id, occurred);`

const insertEvent = `
INSERT INTO auth_events (id, occurred, session_id, subject, kind, operation, bucket, role, reason)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// PostgresRecorder persists events to the auth_events table.
type PostgresRecorder struct {
	client  *postgres.Client
	timeout time.Duration
}

// NewPostgresRecorder creates a recorder over client. A zero or negative
// timeout means the default.
func NewPostgresRecorder(client *postgres.Client, timeout time.Duration) (*PostgresRecorder, error) {
	if client == nil {
		return nil, lgerr.New(lgerr.CodeValidation, "audit: recorder requires a postgres client")
	}
	if timeout <= 0 {
		timeout = defaultRecordTimeout
	}
	return &PostgresRecorder{client: client, timeout: timeout}, nil
}

// EnsureSchema creates the auth_events table and its indexes if they do
// not exist. Call once at startup.
func (r *PostgresRecorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.client.Exec(ctx, createEventsTable); err != nil {
		return lgerr.Wrap(err, lgerr.CodeInternalDatabase,
			"audit: failed to create events schema")
	}
	return nil
}

// Record implements [Recorder].
func (r *PostgresRecorder) Record(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.client.Exec(ctx, insertEvent,
		ev.ID,
		ev.Time,
		ev.SessionID,
		ev.Subject,
		ev.Kind,
		ev.Operation,
		ev.Bucket,
		ev.Role,
		ev.Reason,
	)
	return err
}

var _ Recorder = (*PostgresRecorder)(nil)
