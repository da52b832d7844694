package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DBLogger persists audit events to PostgreSQL
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger
func NewDBLogger(db *sql.DB) *DBLogger {
	return &DBLogger{db: db}
}

// Log inserts the event into the audit_events table
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadataJSON []byte
	if len(event.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			timestamp, event_type, status, user_id, workspace_id, family_id,
			ip_address, user_agent, request_id, reason, message, metadata
		)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''),
			NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, $12)
	`, event.Timestamp, event.EventType, event.Status, event.UserID,
		event.WorkspaceID, event.FamilyID, event.IPAddress, event.UserAgent,
		event.RequestID, event.Reason, event.Message, metadataJSON)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller
func (l *DBLogger) Close() error { return nil }

// PurgeOlderThan deletes audit rows past the retention horizon and returns
// the number of rows removed. Called by the cleanup cron job.
func (l *DBLogger) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE timestamp < $1`,
		time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("purge audit events: %w", err)
	}
	return res.RowsAffected()
}
