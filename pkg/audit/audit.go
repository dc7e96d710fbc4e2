// Package audit records authentication and authorization outcomes for
// the LakeGate access trail.
//
// Events are recorded best-effort: a failing recorder is logged and
// never blocks or fails the request that produced the event. The trail
// answers "who did what, and what was refused" after the fact; it is not
// part of the enforcement path.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event kinds. One event is recorded per notable outcome, not per
// request: a request that authenticates, assumes a role, and is allowed
// produces three events.
const (
	// KindAuthenticated records a successful token validation.
	KindAuthenticated = "authenticated"

	// KindRejected records a failed authentication attempt.
	KindRejected = "rejected"

	// KindAllowed records a granted authorization decision.
	KindAllowed = "allowed"

	// KindDenied records a refused authorization decision.
	KindDenied = "denied"

	// KindRoleAssumed records a successful credential exchange.
	KindRoleAssumed = "role_assumed"
)

// Event is one entry in the access trail. Reason is only set for
// rejected and denied events and carries the operator-readable denial
// reason, never token or credential material.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// SessionID is the session the event belongs to, if any.
	SessionID string `json:"session_id,omitempty"`

	// Subject is the principal involved, empty for anonymous rejects.
	Subject string `json:"subject,omitempty"`

	// Kind is one of the Kind* constants.
	Kind string `json:"kind"`

	// Operation is the data-plane operation, for authorization events.
	Operation string `json:"operation,omitempty"`

	// Bucket is the resource the operation targeted, if any.
	Bucket string `json:"bucket,omitempty"`

	// Role is the access role involved, for role_assumed events.
	Role string `json:"role,omitempty"`

	// Reason explains a rejection or denial.
	Reason string `json:"reason,omitempty"`
}

// NewEvent creates an event of the given kind with a fresh ID and
// timestamp.
func NewEvent(kind string) Event {
	return Event{
		ID:   uuid.NewString(),
		Time: time.Now().UTC(),
		Kind: kind,
	}
}

// Recorder persists access trail events.
type Recorder interface {
	// Record persists ev. Implementations must not block on downstream
	// failures longer than their configured timeout.
	Record(ctx context.Context, ev Event) error
}

// RecorderFunc adapts a function to the [Recorder] interface.
type RecorderFunc func(ctx context.Context, ev Event) error

// Record implements [Recorder].
func (f RecorderFunc) Record(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// NopRecorder discards all events. The zero value is ready to use.
type NopRecorder struct{}

// Record implements [Recorder].
func (NopRecorder) Record(context.Context, Event) error {
	return nil
}

var _ Recorder = NopRecorder{}

// RecordBestEffort records ev on rec, logging failures instead of
// returning them. A nil rec is a no-op. This is the form middleware and
// interceptors use so the audit trail can never take down the data
// plane.
func RecordBestEffort(ctx context.Context, rec Recorder, logger *slog.Logger, ev Event) {
	if rec == nil {
		return
	}
	if err := rec.Record(ctx, ev); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("audit event dropped",
			"kind", ev.Kind,
			"subject", ev.Subject,
			"error", err,
		)
	}
}
