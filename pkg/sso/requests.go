package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// LoginRequest is the server-side state of an in-flight login, keyed by the
// opaque state value round-tripped through the IdP.
type LoginRequest struct {
	ConfigID    string `json:"config_id"`
	WorkspaceID string `json:"workspace_id"`
	// SAMLRequestID is the AuthnRequest ID, matched against InResponseTo.
	SAMLRequestID string `json:"saml_request_id,omitempty"`
	RedirectURI   string `json:"redirect_uri,omitempty"`
}

// RequestTracker keeps in-flight login requests and consumed assertion ids
// in Redis. Requests are single-use and expire after the configured window;
// assertion ids are held for the same window to block replays.
type RequestTracker struct {
	client *redis.Client
	window time.Duration
}

// NewRequestTracker creates a tracker with the given request window
func NewRequestTracker(client *redis.Client, window time.Duration) *RequestTracker {
	if window == 0 {
		window = 10 * time.Minute
	}
	return &RequestTracker{client: client, window: window}
}

func requestKey(state string) string { return "atrium:sso:req:" + state }
func assertionKey(id string) string { return "atrium:sso:assertion:" + id }

// Window returns the configured request lifetime
func (t *RequestTracker) Window() time.Duration { return t.window }

// Begin stores a login request under its state value
func (t *RequestTracker) Begin(ctx context.Context, state string, req *LoginRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal login request: %w", err)
	}
	if err := t.client.Set(ctx, requestKey(state), payload, t.window).Err(); err != nil {
		return fmt.Errorf("store login request: %w", err)
	}
	return nil
}

// Consume retrieves and deletes the login request for state. Unknown or
// expired states return ErrStateMismatch; a second consume of the same
// state does too.
func (t *RequestTracker) Consume(ctx context.Context, state string) (*LoginRequest, error) {
	payload, err := t.client.GetDel(ctx, requestKey(state)).Bytes()
	if err == redis.Nil {
		return nil, ErrStateMismatch
	}
	if err != nil {
		return nil, fmt.Errorf("consume login request: %w", err)
	}
	req := &LoginRequest{}
	if err := json.Unmarshal(payload, req); err != nil {
		return nil, fmt.Errorf("unmarshal login request: %w", err)
	}
	return req, nil
}

// MarkAssertion records an assertion id as consumed. Returns ErrReplay if
// the id was already seen inside the window.
func (t *RequestTracker) MarkAssertion(ctx context.Context, assertionID string) error {
	ok, err := t.client.SetNX(ctx, assertionKey(assertionID), 1, t.window).Result()
	if err != nil {
		return fmt.Errorf("mark assertion: %w", err)
	}
	if !ok {
		return ErrReplay
	}
	return nil
}
