package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/atriumhq/atrium/pkg/observability"
)

// Migration is one versioned schema change
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the full schema history in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id UUID PRIMARY KEY,
					email TEXT NOT NULL UNIQUE,
					password_hash TEXT,
					full_name TEXT NOT NULL DEFAULT '',
					global_role TEXT NOT NULL DEFAULT 'user',
					email_verified BOOLEAN NOT NULL DEFAULT FALSE,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					last_login_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
			`,
		},
		{
			Version:     2,
			Description: "Create workspaces table",
			SQL: `
				CREATE TABLE IF NOT EXISTS workspaces (
					id UUID PRIMARY KEY,
					name TEXT NOT NULL,
					slug TEXT NOT NULL UNIQUE,
					owner_id UUID NOT NULL REFERENCES users(id),
					plan TEXT NOT NULL DEFAULT 'free',
					sso_enabled BOOLEAN NOT NULL DEFAULT FALSE,
					sso_enforced BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_workspaces_owner_id ON workspaces(owner_id);
			`,
		},
		{
			Version:     3,
			Description: "Create workspace_members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS workspace_members (
					id UUID PRIMARY KEY,
					workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(workspace_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_workspace_members_workspace_id ON workspace_members(workspace_id);
				CREATE INDEX IF NOT EXISTS idx_workspace_members_user_id ON workspace_members(user_id);
			`,
		},
		{
			Version:     4,
			Description: "Create sso_configurations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sso_configurations (
					id UUID PRIMARY KEY,
					workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					name TEXT NOT NULL,
					protocol TEXT NOT NULL,
					enabled BOOLEAN NOT NULL DEFAULT TRUE,
					auto_provision BOOLEAN NOT NULL DEFAULT FALSE,
					default_role TEXT NOT NULL DEFAULT '',
					email_domains TEXT[],
					group_mapping JSONB,
					attribute_mapping JSONB,
					saml_settings JSONB,
					oauth2_settings JSONB,
					oidc_settings JSONB,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT sso_configurations_workspace_name_key UNIQUE(workspace_id, name),
					CONSTRAINT sso_configurations_workspace_protocol_key UNIQUE(workspace_id, protocol)
				);

				CREATE INDEX IF NOT EXISTS idx_sso_configurations_workspace_id ON sso_configurations(workspace_id);
				CREATE INDEX IF NOT EXISTS idx_sso_configurations_email_domains ON sso_configurations USING GIN(email_domains);
			`,
		},
		{
			Version:     5,
			Description: "Create audit_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id BIGSERIAL PRIMARY KEY,
					timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					event_type TEXT NOT NULL,
					status TEXT NOT NULL,
					user_id TEXT,
					workspace_id TEXT,
					family_id TEXT,
					ip_address TEXT,
					user_agent TEXT,
					request_id TEXT,
					reason TEXT,
					message TEXT,
					metadata JSONB
				);

				CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
				CREATE INDEX IF NOT EXISTS idx_audit_events_user_id ON audit_events(user_id);
				CREATE INDEX IF NOT EXISTS idx_audit_events_workspace_id ON audit_events(workspace_id);
				CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
			`,
		},
	}
}

// RunMigrations applies every pending migration in a transaction each
func RunMigrations(ctx context.Context, db *sql.DB) error {
	logger := observability.FromContext(ctx)

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return fmt.Errorf("query applied migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate applied migrations: %w", err)
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}
		logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("applying migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`,
			migration.Version, migration.Description); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", migration.Version, err)
		}
	}
	return nil
}
