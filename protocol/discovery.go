package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Metadata is the subset of OpenID Provider metadata the client consumes.
type Metadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint,omitempty"`
	TokenEndpoint                     string   `json:"token_endpoint,omitempty"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint                string   `json:"end_session_endpoint,omitempty"`
	JWKSURI                           string   `json:"jwks_uri,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported,omitempty"`

	AuthorizationResponseIssParameterSupported bool `json:"authorization_response_iss_parameter_supported,omitempty"`
}

// AuthorizationServer is the result of discovery: the metadata plus the
// provider handle used to verify id_tokens and call userinfo.
type AuthorizationServer struct {
	Metadata

	provider *oidc.Provider
}

// NewAuthorizationServer wraps metadata obtained elsewhere. id_token
// verification and userinfo are unavailable on such a server.
func NewAuthorizationServer(md Metadata) *AuthorizationServer {
	return &AuthorizationServer{Metadata: md}
}

// Discover fetches {issuer}/.well-known/openid-configuration and checks that
// the document's issuer equals issuer. Concurrent calls for the same issuer
// share one request.
func (c *Client) Discover(ctx context.Context, issuer string) (*AuthorizationServer, error) {
	const op = "protocol.(Client).Discover"
	if issuer == "" {
		return nil, fmt.Errorf("%s: missing issuer: %w", op, ErrDiscovery)
	}

	v, err, shared := c.discovery.Do(issuer, func() (any, error) {
		provider, err := oidc.NewProvider(oidc.ClientContext(ctx, c.httpClient), issuer)
		if err != nil {
			return nil, err
		}
		as := &AuthorizationServer{provider: provider}
		if err := provider.Claims(&as.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
		return as, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrDiscovery, err)
	}
	as := v.(*AuthorizationServer)
	c.logger.Debug("discovered authorization server",
		"issuer", as.Issuer,
		"shared", shared,
		"end_session", as.EndSessionEndpoint != "",
	)
	return as, nil
}

// SupportsAuthMethod reports whether the server advertises method. Servers
// that omit the list are assumed to support client_secret_basic only, per
// OpenID Connect Discovery 1.0 §3.
func (as *AuthorizationServer) SupportsAuthMethod(method string) bool {
	supported := as.TokenEndpointAuthMethodsSupported
	if len(supported) == 0 {
		supported = []string{AuthMethodClientSecretBasic}
	}
	for _, m := range supported {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func (as *AuthorizationServer) verifier(clientID string) (*oidc.IDTokenVerifier, error) {
	if as.provider == nil {
		return nil, errors.New("authorization server was not discovered")
	}
	return as.provider.Verifier(&oidc.Config{ClientID: clientID}), nil
}
