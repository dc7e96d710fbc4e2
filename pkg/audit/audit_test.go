package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Event construction
// ---------------------------------------------------------------------------

func TestNewEvent(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC()
	ev := NewEvent(KindAuthenticated)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, KindAuthenticated, ev.Kind)
	assert.False(t, ev.Time.Before(before))
	assert.Equal(t, time.UTC, ev.Time.Location())

	// Each event gets its own id.
	assert.NotEqual(t, ev.ID, NewEvent(KindDenied).ID)
}

// ---------------------------------------------------------------------------
// Recorder plumbing
// ---------------------------------------------------------------------------

func TestRecorderFunc(t *testing.T) {
	t.Parallel()

	var got Event
	rec := RecorderFunc(func(_ context.Context, ev Event) error {
		got = ev
		return nil
	})

	ev := NewEvent(KindAllowed)
	ev.Subject = "user-1"
	require.NoError(t, rec.Record(context.Background(), ev))
	assert.Equal(t, "user-1", got.Subject)
}

func TestNopRecorder(t *testing.T) {
	t.Parallel()
	assert.NoError(t, NopRecorder{}.Record(context.Background(), NewEvent(KindRejected)))
}

// ---------------------------------------------------------------------------
// Best-effort recording
// ---------------------------------------------------------------------------

func TestRecordBestEffort_NilRecorder(t *testing.T) {
	t.Parallel()
	// Must not panic.
	RecordBestEffort(context.Background(), nil, nil, NewEvent(KindAllowed))
}

func TestRecordBestEffort_FailureDoesNotPropagate(t *testing.T) {
	t.Parallel()

	calls := 0
	failing := RecorderFunc(func(context.Context, Event) error {
		calls++
		return assert.AnError
	})

	// The failure is swallowed; the caller's flow is unaffected.
	RecordBestEffort(context.Background(), failing, nil, NewEvent(KindDenied))
	assert.Equal(t, 1, calls)
}
