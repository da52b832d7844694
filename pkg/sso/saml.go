package sso

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"encoding/xml"
	"fmt"
	"time"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"
)

// SAMLProvider implements the SAML 2.0 SP side of a login
type SAMLProvider struct {
	cfg     *Config
	sp      *saml2.SAMLServiceProvider
	baseURL string
	skew    time.Duration
}

// NewSAMLProvider builds the service provider for a configuration. skew is
// the tolerance applied when checking assertion validity windows.
func NewSAMLProvider(cfg *Config, baseURL string, skew time.Duration) (*SAMLProvider, error) {
	settings := cfg.SAML
	if settings == nil {
		return nil, fmt.Errorf("%w: saml settings required", ErrConfigInvalid)
	}

	certBlock, _ := pem.Decode([]byte(settings.Certificate))
	if certBlock == nil {
		return nil, fmt.Errorf("%w: certificate is not PEM", ErrConfigInvalid)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: bad certificate: %v", ErrConfigInvalid, err)
	}
	certStore := dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	}

	var keyStore dsig.X509KeyStore
	if settings.PrivateKey != "" {
		keyBlock, _ := pem.Decode([]byte(settings.PrivateKey))
		if keyBlock == nil {
			return nil, fmt.Errorf("%w: private key is not PEM", ErrConfigInvalid)
		}
		privateKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
		if err != nil {
			pkcs8Key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: bad private key: %v", ErrConfigInvalid, err)
			}
			var ok bool
			privateKey, ok = pkcs8Key.(*rsa.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("%w: private key is not RSA", ErrConfigInvalid)
			}
		}
		keyStore = &dsig.TLSCertKeyStore{
			PrivateKey:  privateKey,
			Certificate: [][]byte{[]byte(settings.Certificate)},
		}
	}

	spEntityID := fmt.Sprintf("%s/sso/%s/metadata", baseURL, cfg.ID)
	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      settings.SSOURL,
		IdentityProviderIssuer:      settings.EntityID,
		ServiceProviderIssuer:       spEntityID,
		AssertionConsumerServiceURL: fmt.Sprintf("%s/sso/%s/acs", baseURL, cfg.ID),
		SignAuthnRequests:           settings.SignRequests,
		ForceAuthn:                  settings.ForceAuthn,
		AudienceURI:                 spEntityID,
		IDPCertificateStore:         &certStore,
		SPKeyStore:                  keyStore,
	}
	if settings.NameIDFormat != "" {
		sp.NameIdFormat = settings.NameIDFormat
	}

	return &SAMLProvider{cfg: cfg, sp: sp, baseURL: baseURL, skew: skew}, nil
}

// Protocol returns ProtocolSAML
func (p *SAMLProvider) Protocol() Protocol { return ProtocolSAML }

// BuildLoginURL builds the AuthnRequest and returns the IdP redirect plus
// the request id, which the callback matches against InResponseTo.
func (p *SAMLProvider) BuildLoginURL(state string) (string, string, error) {
	doc, err := p.sp.BuildAuthRequestDocument()
	if err != nil {
		return "", "", fmt.Errorf("build authn request: %w", err)
	}
	requestID := doc.Root().SelectAttrValue("ID", "")

	authURL, err := p.sp.BuildAuthURLFromDocument(state, doc)
	if err != nil {
		return "", "", fmt.Errorf("build auth url: %w", err)
	}
	return authURL, requestID, nil
}

// responseEnvelope is the minimal slice of the response document needed for
// replay and solicitation checks.
type responseEnvelope struct {
	ID           string `xml:"ID,attr"`
	InResponseTo string `xml:"InResponseTo,attr"`
}

// Exchange validates the SAMLResponse and extracts the identity. Signature
// verification is delegated to the service provider; the validity window is
// re-checked here with the configured skew allowance.
func (p *SAMLProvider) Exchange(_ context.Context, input CallbackInput) (*Identity, error) {
	if input.SAMLResponse == "" {
		return nil, fmt.Errorf("%w: missing SAMLResponse", ErrAssertionInvalid)
	}

	raw, err := base64.StdEncoding.DecodeString(input.SAMLResponse)
	if err != nil {
		return nil, fmt.Errorf("%w: response is not base64", ErrAssertionInvalid)
	}
	var envelope responseEnvelope
	if err := xml.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: response is not XML", ErrAssertionInvalid)
	}

	info, err := p.sp.RetrieveAssertionInfo(input.SAMLResponse)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssertionInvalid, err)
	}

	if info.WarningInfo != nil {
		if info.WarningInfo.NotInAudience {
			return nil, ErrAudienceMismatch
		}
		if info.WarningInfo.InvalidTime {
			// the library checks without tolerance; allow the configured skew
			if err := p.checkValidityWindow(info, time.Now().UTC()); err != nil {
				return nil, err
			}
		}
	}

	identity := &Identity{
		ConfigID:     p.cfg.ID,
		WorkspaceID:  p.cfg.WorkspaceID,
		Attributes:   make(map[string]string),
		SessionIndex: info.SessionIndex,
		ResponseID:   envelope.ID,
		InResponseTo: envelope.InResponseTo,
	}

	mapping := p.cfg.AttributeMapping
	for _, attr := range info.Values {
		if len(attr.Values) == 0 {
			continue
		}
		identity.Attributes[attr.Name] = attr.Values[0].Value

		switch attr.Name {
		case mapping.UserID:
			identity.ExternalID = attr.Values[0].Value
		case mapping.Username:
			identity.Username = attr.Values[0].Value
		case mapping.Email:
			identity.Email = attr.Values[0].Value
		case mapping.FullName:
			identity.FullName = attr.Values[0].Value
		case mapping.Groups:
			for _, v := range attr.Values {
				identity.Groups = append(identity.Groups, v.Value)
			}
		}
	}

	if identity.ExternalID == "" {
		identity.ExternalID = info.NameID
	}
	if identity.Username == "" {
		identity.Username = identity.Email
	}

	if identity.ExternalID == "" {
		return nil, fmt.Errorf("%w: user id", ErrMissingAttribute)
	}
	if identity.Email == "" {
		return nil, fmt.Errorf("%w: email", ErrMissingAttribute)
	}

	return identity, nil
}

// checkValidityWindow re-evaluates assertion Conditions with skew tolerance
func (p *SAMLProvider) checkValidityWindow(info *saml2.AssertionInfo, now time.Time) error {
	for _, assertion := range info.Assertions {
		if assertion.Conditions == nil {
			continue
		}
		if nb := assertion.Conditions.NotBefore; nb != "" {
			notBefore, err := time.Parse(time.RFC3339, nb)
			if err != nil {
				return fmt.Errorf("%w: bad NotBefore", ErrAssertionInvalid)
			}
			if now.Add(p.skew).Before(notBefore) {
				return ErrAssertionExpired
			}
		}
		if noa := assertion.Conditions.NotOnOrAfter; noa != "" {
			notOnOrAfter, err := time.Parse(time.RFC3339, noa)
			if err != nil {
				return fmt.Errorf("%w: bad NotOnOrAfter", ErrAssertionInvalid)
			}
			if !now.Add(-p.skew).Before(notOnOrAfter) {
				return ErrAssertionExpired
			}
		}
	}
	return nil
}

// Validate checks the configuration without contacting the IdP
func (p *SAMLProvider) Validate() error {
	settings := p.cfg.SAML
	if settings.EntityID == "" {
		return fmt.Errorf("%w: entity_id is required", ErrConfigInvalid)
	}
	if settings.SSOURL == "" {
		return fmt.Errorf("%w: sso_url is required", ErrConfigInvalid)
	}
	if settings.Certificate == "" {
		return fmt.Errorf("%w: certificate is required", ErrConfigInvalid)
	}
	block, _ := pem.Decode([]byte(settings.Certificate))
	if block == nil {
		return fmt.Errorf("%w: certificate is not PEM", ErrConfigInvalid)
	}
	if _, err := x509.ParseCertificate(block.Bytes); err != nil {
		return fmt.Errorf("%w: bad certificate: %v", ErrConfigInvalid, err)
	}
	if settings.SignRequests && settings.PrivateKey == "" {
		return fmt.Errorf("%w: sign_requests needs a private key", ErrConfigInvalid)
	}
	return nil
}

// Metadata returns SP metadata XML for IdP-side registration
func (p *SAMLProvider) Metadata() ([]byte, error) {
	metadataXML := fmt.Sprintf(`<?xml version="1.0"?>
<md:EntityDescriptor xmlns:md="urn:oasis:names:tc:SAML:2.0:metadata"
                     entityID="%s">
  <md:SPSSODescriptor protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
    <md:AssertionConsumerService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
                                 Location="%s"
                                 index="1"/>
  </md:SPSSODescriptor>
</md:EntityDescriptor>`,
		p.sp.ServiceProviderIssuer,
		p.sp.AssertionConsumerServiceURL)
	return []byte(metadataXML), nil
}
