package sso

import "errors"

var (
	// ErrConfigNotFound indicates no matching SSO configuration.
	ErrConfigNotFound = errors.New("sso: configuration not found")
	// ErrConfigDisabled indicates the configuration exists but is turned off.
	ErrConfigDisabled = errors.New("sso: configuration disabled")
	// ErrConfigInvalid indicates the configuration fails validation.
	ErrConfigInvalid = errors.New("sso: configuration invalid")
	// ErrNameTaken indicates the workspace already has a configuration
	// with that name.
	ErrNameTaken = errors.New("sso: configuration name already in use")
	// ErrProtocolTaken indicates the workspace already has a configuration
	// for that protocol.
	ErrProtocolTaken = errors.New("sso: workspace already has a configuration for this protocol")

	// ErrAssertionInvalid covers signature and structural failures in an
	// IdP response.
	ErrAssertionInvalid = errors.New("sso: assertion invalid")
	// ErrAssertionExpired indicates the assertion is outside its validity
	// window even after clock-skew allowance.
	ErrAssertionExpired = errors.New("sso: assertion outside validity window")
	// ErrAudienceMismatch indicates the assertion was issued for a
	// different service provider.
	ErrAudienceMismatch = errors.New("sso: assertion audience mismatch")
	// ErrReplay indicates an assertion that was already consumed.
	ErrReplay = errors.New("sso: assertion replayed")
	// ErrUnsolicited indicates an IdP-initiated response arriving at a
	// configuration that does not allow them.
	ErrUnsolicited = errors.New("sso: unsolicited response rejected")
	// ErrStateMismatch indicates an unknown or expired login state.
	ErrStateMismatch = errors.New("sso: state mismatch")
	// ErrIdPUnreachable indicates the identity provider could not be
	// reached or returned a server error.
	ErrIdPUnreachable = errors.New("sso: identity provider unreachable")
	// ErrMissingAttribute indicates the IdP response lacks a required
	// attribute after mapping.
	ErrMissingAttribute = errors.New("sso: required attribute missing")

	// ErrProvisioningDenied indicates the user cannot be provisioned into
	// the workspace.
	ErrProvisioningDenied = errors.New("sso: provisioning denied")
	// ErrDomainNotAllowed indicates the account's email domain is outside
	// the configuration's allow list.
	ErrDomainNotAllowed = errors.New("sso: email domain not allowed")
)
