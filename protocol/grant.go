package protocol

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Token endpoint client authentication methods.
const (
	AuthMethodNone              = "none"
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
)

// ClientInfo describes the registered client.
type ClientInfo struct {
	ID     string
	Secret string

	// TokenEndpointAuthMethod defaults to AuthMethodNone.
	TokenEndpointAuthMethod string
}

// ValidateAuthMethod reports whether method is implemented by this package.
func ValidateAuthMethod(method string) error {
	switch method {
	case "", AuthMethodNone, AuthMethodClientSecretBasic, AuthMethodClientSecretPost:
		return nil
	}
	return fmt.Errorf("%q: %w", method, ErrUnsupportedAuthMethod)
}

func (ci ClientInfo) authMethod() string {
	if ci.TokenEndpointAuthMethod == "" {
		return AuthMethodNone
	}
	return ci.TokenEndpointAuthMethod
}

// AuthorizationCodeGrantRequest exchanges the code in params (as returned by
// ValidateAuthResponse) at the token endpoint. The caller owns the returned
// response and hands it to ParseWWWAuthenticateChallenges and
// ProcessAuthorizationCodeOpenIDResponse.
func (c *Client) AuthorizationCodeGrantRequest(
	ctx context.Context,
	as *AuthorizationServer,
	client ClientInfo,
	params url.Values,
	redirectURI string,
	codeVerifier string,
) (*http.Response, error) {
	const op = "protocol.(Client).AuthorizationCodeGrantRequest"
	code := params.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%s: missing code: %w", op, ErrInvalidAuthResponse)
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("code_verifier", codeVerifier)

	resp, err := c.tokenEndpointRequest(ctx, as, client, form)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp, nil
}

// RefreshTokenGrantRequest performs the refresh_token grant. The response is
// handed to ProcessRefreshTokenResponse.
func (c *Client) RefreshTokenGrantRequest(
	ctx context.Context,
	as *AuthorizationServer,
	client ClientInfo,
	refreshToken string,
) (*http.Response, error) {
	const op = "protocol.(Client).RefreshTokenGrantRequest"
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	resp, err := c.tokenEndpointRequest(ctx, as, client, form)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp, nil
}

func (c *Client) tokenEndpointRequest(ctx context.Context, as *AuthorizationServer, client ClientInfo, form url.Values) (*http.Response, error) {
	if as == nil || as.TokenEndpoint == "" {
		return nil, fmt.Errorf("token_endpoint: %w", ErrMissingEndpoint)
	}

	method := client.authMethod()
	var basicUser, basicPass string
	switch method {
	case AuthMethodNone:
		form.Set("client_id", client.ID)
	case AuthMethodClientSecretPost:
		if client.Secret == "" {
			return nil, fmt.Errorf("%s: %w", method, ErrMissingClientSecret)
		}
		form.Set("client_id", client.ID)
		form.Set("client_secret", client.Secret)
	case AuthMethodClientSecretBasic:
		if client.Secret == "" {
			return nil, fmt.Errorf("%s: %w", method, ErrMissingClientSecret)
		}
		// RFC 6749 §2.3.1: both parts are form-encoded before base64.
		basicUser, basicPass = url.QueryEscape(client.ID), url.QueryEscape(client.Secret)
	default:
		return nil, ValidateAuthMethod(method)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		as.TokenEndpoint,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if method == AuthMethodClientSecretBasic {
		req.SetBasicAuth(basicUser, basicPass)
	}

	c.logger.Debug("token endpoint request",
		"grant_type", form.Get("grant_type"),
		"auth_method", method,
	)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.logger.Trace("token endpoint response", "status", resp.StatusCode)
	return resp, nil
}
