package audit

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakegate/lakegate-core/pkg/clients/postgres"
	lgerr "github.com/lakegate/lakegate-core/pkg/errors"
)

func newMockRecorder(t *testing.T) (*PostgresRecorder, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	rec, err := NewPostgresRecorder(postgres.NewFromPool(mock, nil), 0)
	require.NoError(t, err)
	return rec, mock
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewPostgresRecorder_RequiresClient(t *testing.T) {
	t.Parallel()
	_, err := NewPostgresRecorder(nil, 0)
	require.Error(t, err)
	coded, ok := lgerr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, lgerr.CodeValidation, coded.Code)
}

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

func TestPostgresRecorder_EnsureSchema(t *testing.T) {
	t.Parallel()
	rec, mock := newMockRecorder(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS auth_events").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, rec.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecorder_EnsureSchemaFailure(t *testing.T) {
	t.Parallel()
	rec, mock := newMockRecorder(t)

	mock.ExpectExec("CREATE TABLE").WillReturnError(assert.AnError)

	err := rec.EnsureSchema(context.Background())
	require.Error(t, err)
	coded, ok := lgerr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, lgerr.CodeInternalDatabase, coded.Code)
}

// ---------------------------------------------------------------------------
// Record
// ---------------------------------------------------------------------------

func TestPostgresRecorder_Record(t *testing.T) {
	t.Parallel()
	rec, mock := newMockRecorder(t)

	ev := NewEvent(KindDenied)
	ev.SessionID = "sess-1"
	ev.Subject = "user-1"
	ev.Operation = "write_object"
	ev.Bucket = "sales-eu"
	ev.Reason = `operation "write_object" requires permission "write"`

	mock.ExpectExec("INSERT INTO auth_events").
		WithArgs(ev.ID, ev.Time, "sess-1", "user-1", KindDenied,
			"write_object", "sales-eu", "", ev.Reason).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, rec.Record(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecorder_RecordRoleAssumed(t *testing.T) {
	t.Parallel()
	rec, mock := newMockRecorder(t)

	ev := NewEvent(KindRoleAssumed)
	ev.SessionID = "sess-1"
	ev.Subject = "user-1"
	ev.Role = "analyst"

	mock.ExpectExec("INSERT INTO auth_events").
		WithArgs(ev.ID, ev.Time, "sess-1", "user-1", KindRoleAssumed,
			"", "", "analyst", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, rec.Record(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecorder_RecordFailureSurfaces(t *testing.T) {
	t.Parallel()
	rec, mock := newMockRecorder(t)

	mock.ExpectExec("INSERT INTO auth_events").WillReturnError(assert.AnError)

	err := rec.Record(context.Background(), NewEvent(KindAuthenticated))
	require.Error(t, err, "Record reports the failure; RecordBestEffort is where it is swallowed")
}

func TestPostgresRecorder_RecordHonorsTimeout(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	rec, err := NewPostgresRecorder(postgres.NewFromPool(mock, nil), 50*time.Millisecond)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO auth_events").
		WillReturnResult(pgxmock.NewResult("INSERT", 1)).
		WillDelayFor(200 * time.Millisecond)

	err = rec.Record(context.Background(), NewEvent(KindAuthenticated))
	require.Error(t, err)
}
