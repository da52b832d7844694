// Package audit records security-relevant events: logins, token rotation,
// revocation, provisioning decisions, and SSO configuration changes.
//
// Internal reason codes live here, never in API responses.
package audit

import (
	"context"
	"time"

	"github.com/atriumhq/atrium/pkg/contextkeys"
)

// Logger is the interface for audit sinks
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close flushes and releases the sink
	Close() error
}

// Record fills request-scoped fields from context and forwards the event.
// A nil logger is a no-op so call sites never need nil checks.
func Record(ctx context.Context, logger Logger, event *Event) {
	if logger == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = contextkeys.GetRequestID(ctx)
	}
	if event.UserID == "" {
		event.UserID = contextkeys.GetUserID(ctx)
	}
	// Audit failures must never fail the request being audited.
	_ = logger.Log(ctx, event)
}

// NopLogger discards all events
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, event *Event) error { return nil }
func (NopLogger) Close() error                                { return nil }

// MultiLogger fans events out to several sinks
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger creates a logger that writes to every given sink
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	return &MultiLogger{sinks: sinks}
}

func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Log(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiLogger) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
