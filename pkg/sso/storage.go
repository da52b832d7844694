package sso

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/atriumhq/atrium/pkg/secrets"
)

// Storage persists workspace SSO configurations. Client secrets and SAML
// private keys are sealed with AES-GCM before they reach the database.
type Storage struct {
	db  *sql.DB
	box *secrets.Box
}

// NewStorage creates SSO configuration storage
func NewStorage(db *sql.DB, box *secrets.Box) *Storage {
	return &Storage{db: db, box: box}
}

// stored wrappers carry the sealed secret alongside the JSON-visible
// settings; the plaintext fields are json:"-" on the inner types.

type samlStored struct {
	*SAMLSettings
	SealedPrivateKey string `json:"sealed_private_key,omitempty"`
}

type oauth2Stored struct {
	*OAuth2Settings
	SealedClientSecret string `json:"sealed_client_secret,omitempty"`
}

type oidcStored struct {
	*OIDCSettings
	SealedClientSecret string `json:"sealed_client_secret,omitempty"`
}

func (s *Storage) marshalSettings(cfg *Config) (samlJSON, oauth2JSON, oidcJSON []byte, err error) {
	if cfg.SAML != nil {
		stored := samlStored{SAMLSettings: cfg.SAML}
		if cfg.SAML.PrivateKey != "" {
			stored.SealedPrivateKey, err = s.box.Seal(cfg.SAML.PrivateKey)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("seal private key: %w", err)
			}
		}
		samlJSON, err = json.Marshal(stored)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal saml settings: %w", err)
		}
	}
	if cfg.OAuth2 != nil {
		stored := oauth2Stored{OAuth2Settings: cfg.OAuth2}
		if cfg.OAuth2.ClientSecret != "" {
			stored.SealedClientSecret, err = s.box.Seal(cfg.OAuth2.ClientSecret)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("seal client secret: %w", err)
			}
		}
		oauth2JSON, err = json.Marshal(stored)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal oauth2 settings: %w", err)
		}
	}
	if cfg.OIDC != nil {
		stored := oidcStored{OIDCSettings: cfg.OIDC}
		if cfg.OIDC.ClientSecret != "" {
			stored.SealedClientSecret, err = s.box.Seal(cfg.OIDC.ClientSecret)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("seal client secret: %w", err)
			}
		}
		oidcJSON, err = json.Marshal(stored)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal oidc settings: %w", err)
		}
	}
	return samlJSON, oauth2JSON, oidcJSON, nil
}

func (s *Storage) unmarshalSettings(cfg *Config, samlJSON, oauth2JSON, oidcJSON []byte) error {
	if len(samlJSON) > 0 {
		stored := samlStored{SAMLSettings: &SAMLSettings{}}
		if err := json.Unmarshal(samlJSON, &stored); err != nil {
			return fmt.Errorf("unmarshal saml settings: %w", err)
		}
		if stored.SealedPrivateKey != "" {
			key, err := s.box.Open(stored.SealedPrivateKey)
			if err != nil {
				return fmt.Errorf("unseal private key: %w", err)
			}
			stored.SAMLSettings.PrivateKey = key
		}
		cfg.SAML = stored.SAMLSettings
	}
	if len(oauth2JSON) > 0 {
		stored := oauth2Stored{OAuth2Settings: &OAuth2Settings{}}
		if err := json.Unmarshal(oauth2JSON, &stored); err != nil {
			return fmt.Errorf("unmarshal oauth2 settings: %w", err)
		}
		if stored.SealedClientSecret != "" {
			secret, err := s.box.Open(stored.SealedClientSecret)
			if err != nil {
				return fmt.Errorf("unseal client secret: %w", err)
			}
			stored.OAuth2Settings.ClientSecret = secret
		}
		cfg.OAuth2 = stored.OAuth2Settings
	}
	if len(oidcJSON) > 0 {
		stored := oidcStored{OIDCSettings: &OIDCSettings{}}
		if err := json.Unmarshal(oidcJSON, &stored); err != nil {
			return fmt.Errorf("unmarshal oidc settings: %w", err)
		}
		if stored.SealedClientSecret != "" {
			secret, err := s.box.Open(stored.SealedClientSecret)
			if err != nil {
				return fmt.Errorf("unseal client secret: %w", err)
			}
			stored.OIDCSettings.ClientSecret = secret
		}
		cfg.OIDC = stored.OIDCSettings
	}
	return nil
}

// uniqueViolation maps a postgres duplicate-key error to the sentinel for
// the violated constraint. Each workspace holds at most one configuration
// per protocol and per name.
func uniqueViolation(err error) error {
	pqErr, ok := err.(*pq.Error)
	if !ok || pqErr.Code != "23505" {
		return nil
	}
	if strings.Contains(pqErr.Constraint, "protocol") {
		return ErrProtocolTaken
	}
	return ErrNameTaken
}

// Create inserts a configuration
func (s *Storage) Create(ctx context.Context, cfg *Config) error {
	samlJSON, oauth2JSON, oidcJSON, err := s.marshalSettings(cfg)
	if err != nil {
		return err
	}
	groupJSON, err := json.Marshal(cfg.GroupMapping)
	if err != nil {
		return fmt.Errorf("marshal group mapping: %w", err)
	}
	attrJSON, err := json.Marshal(cfg.AttributeMapping)
	if err != nil {
		return fmt.Errorf("marshal attribute mapping: %w", err)
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO sso_configurations (
			id, workspace_id, name, protocol, enabled, auto_provision, default_role,
			email_domains, group_mapping, attribute_mapping,
			saml_settings, oauth2_settings, oidc_settings,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		RETURNING created_at, updated_at
	`, cfg.ID, cfg.WorkspaceID, cfg.Name, cfg.Protocol, cfg.Enabled,
		cfg.AutoProvision, cfg.DefaultRole, pq.Array(cfg.EmailDomains),
		groupJSON, attrJSON, samlJSON, oauth2JSON, oidcJSON).
		Scan(&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if conflict := uniqueViolation(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("insert sso configuration: %w", err)
	}
	return nil
}

const configColumns = `id, workspace_id, name, protocol, enabled, auto_provision, default_role,
	email_domains, group_mapping, attribute_mapping,
	saml_settings, oauth2_settings, oidc_settings, created_at, updated_at`

func (s *Storage) scanConfig(row interface{ Scan(...interface{}) error }) (*Config, error) {
	cfg := &Config{}
	var (
		domains    pq.StringArray
		groupJSON  []byte
		attrJSON   []byte
		samlJSON   []byte
		oauth2JSON []byte
		oidcJSON   []byte
	)
	err := row.Scan(&cfg.ID, &cfg.WorkspaceID, &cfg.Name, &cfg.Protocol, &cfg.Enabled,
		&cfg.AutoProvision, &cfg.DefaultRole, &domains, &groupJSON, &attrJSON,
		&samlJSON, &oauth2JSON, &oidcJSON, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan sso configuration: %w", err)
	}

	cfg.EmailDomains = domains
	if len(groupJSON) > 0 {
		if err := json.Unmarshal(groupJSON, &cfg.GroupMapping); err != nil {
			return nil, fmt.Errorf("unmarshal group mapping: %w", err)
		}
	}
	if len(attrJSON) > 0 {
		if err := json.Unmarshal(attrJSON, &cfg.AttributeMapping); err != nil {
			return nil, fmt.Errorf("unmarshal attribute mapping: %w", err)
		}
	}
	if err := s.unmarshalSettings(cfg, samlJSON, oauth2JSON, oidcJSON); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get returns a configuration by id
func (s *Storage) Get(ctx context.Context, id string) (*Config, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM sso_configurations WHERE id = $1`, id)
	return s.scanConfig(row)
}

// ListByWorkspace returns every configuration in the workspace
func (s *Storage) ListByWorkspace(ctx context.Context, workspaceID string) ([]*Config, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+configColumns+` FROM sso_configurations WHERE workspace_id = $1 ORDER BY name`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list sso configurations: %w", err)
	}
	defer rows.Close()

	var out []*Config
	for rows.Next() {
		cfg, err := s.scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// Update replaces a configuration's settings
func (s *Storage) Update(ctx context.Context, cfg *Config) error {
	samlJSON, oauth2JSON, oidcJSON, err := s.marshalSettings(cfg)
	if err != nil {
		return err
	}
	groupJSON, err := json.Marshal(cfg.GroupMapping)
	if err != nil {
		return fmt.Errorf("marshal group mapping: %w", err)
	}
	attrJSON, err := json.Marshal(cfg.AttributeMapping)
	if err != nil {
		return fmt.Errorf("marshal attribute mapping: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sso_configurations
		SET protocol = $1, enabled = $2, auto_provision = $3, default_role = $4,
			email_domains = $5, group_mapping = $6, attribute_mapping = $7,
			saml_settings = $8, oauth2_settings = $9, oidc_settings = $10,
			updated_at = NOW()
		WHERE id = $11
	`, cfg.Protocol, cfg.Enabled, cfg.AutoProvision, cfg.DefaultRole,
		pq.Array(cfg.EmailDomains), groupJSON, attrJSON,
		samlJSON, oauth2JSON, oidcJSON, cfg.ID)
	if err != nil {
		if conflict := uniqueViolation(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("update sso configuration: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConfigNotFound
	}
	return nil
}

// Delete removes a configuration
func (s *Storage) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sso_configurations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete sso configuration: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConfigNotFound
	}
	return nil
}

// DomainEnforced reports whether the email domain belongs to an enabled
// configuration in a workspace that enforces SSO. The identity service uses
// it to block password logins.
func (s *Storage) DomainEnforced(ctx context.Context, domain string) (bool, error) {
	if domain == "" {
		return false, nil
	}
	var enforced bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1
			FROM sso_configurations c
			JOIN workspaces w ON w.id = c.workspace_id
			WHERE w.sso_enabled AND w.sso_enforced AND c.enabled AND $1 = ANY(c.email_domains)
		)
	`, domain).Scan(&enforced)
	if err != nil {
		return false, fmt.Errorf("check domain enforcement: %w", err)
	}
	return enforced, nil
}

// WorkspaceSSOEnabled reports whether the workspace accepts federated
// logins at all, independent of any per-configuration flag.
func (s *Storage) WorkspaceSSOEnabled(ctx context.Context, workspaceID string) (bool, error) {
	var enabled bool
	err := s.db.QueryRowContext(ctx,
		`SELECT sso_enabled FROM workspaces WHERE id = $1`, workspaceID).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check workspace sso flag: %w", err)
	}
	return enabled, nil
}
