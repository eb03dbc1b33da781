package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const maxResponseSize = 1 << 20

// TokenResponse is a successful token endpoint response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`

	// IDTokenClaims is set when an id_token was present and verified.
	IDTokenClaims *oidc.IDToken `json:"-"`

	// ReceivedAt is when the response was processed; expires_in counts
	// from here.
	ReceivedAt time.Time `json:"-"`
}

// Expiry returns the access token expiry, or the zero time when the server
// did not send expires_in.
func (r *TokenResponse) Expiry() time.Time {
	if r.ExpiresIn <= 0 {
		return time.Time{}
	}
	return r.ReceivedAt.Add(time.Duration(r.ExpiresIn) * time.Second)
}

// OAuth2Token converts the response to an x/oauth2 token.
func (r *TokenResponse) OAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  r.AccessToken,
		TokenType:    r.TokenType,
		RefreshToken: r.RefreshToken,
		Expiry:       r.Expiry(),
		ExpiresIn:    r.ExpiresIn,
	}
	if r.IDToken != "" {
		tok = tok.WithExtra(map[string]any{"id_token": r.IDToken})
	}
	return tok
}

// ProcessAuthorizationCodeOpenIDResponse reads and closes resp, the result of
// AuthorizationCodeGrantRequest. An id_token is required and verified for
// signature, issuer, audience and expiry.
func (c *Client) ProcessAuthorizationCodeOpenIDResponse(
	ctx context.Context,
	as *AuthorizationServer,
	client ClientInfo,
	resp *http.Response,
) (*TokenResponse, error) {
	const op = "protocol.(Client).ProcessAuthorizationCodeOpenIDResponse"
	tr, err := processTokenResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if tr.IDToken == "" {
		return nil, fmt.Errorf("%s: missing id_token: %w", op, ErrInvalidTokenResponse)
	}
	if err := c.verifyIDToken(ctx, as, client, tr); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return tr, nil
}

// ProcessRefreshTokenResponse reads and closes resp, the result of
// RefreshTokenGrantRequest. An id_token, if present, is verified.
func (c *Client) ProcessRefreshTokenResponse(
	ctx context.Context,
	as *AuthorizationServer,
	client ClientInfo,
	resp *http.Response,
) (*TokenResponse, error) {
	const op = "protocol.(Client).ProcessRefreshTokenResponse"
	tr, err := processTokenResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if tr.IDToken != "" {
		if err := c.verifyIDToken(ctx, as, client, tr); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return tr, nil
}

func (c *Client) verifyIDToken(ctx context.Context, as *AuthorizationServer, client ClientInfo, tr *TokenResponse) error {
	if as == nil {
		return fmt.Errorf("missing authorization server: %w", ErrInvalidTokenResponse)
	}
	v, err := as.verifier(client.ID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTokenResponse, err)
	}
	idt, err := v.Verify(oidc.ClientContext(ctx, c.httpClient), tr.IDToken)
	if err != nil {
		return fmt.Errorf("%w: id_token: %w", ErrInvalidTokenResponse, err)
	}
	tr.IDTokenClaims = idt
	c.logger.Trace("verified id_token", "subject", idt.Subject)
	return nil
}

func processTokenResponse(resp *http.Response) (*TokenResponse, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil response: %w", ErrInvalidTokenResponse)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp OAuthError
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Code != "" {
			errResp.StatusCode = resp.StatusCode
			return nil, &errResp
		}
		return nil, fmt.Errorf("unexpected status %d: %w", resp.StatusCode, ErrInvalidTokenResponse)
	}

	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w: %w", ErrInvalidTokenResponse, err)
	}
	tr.ReceivedAt = time.Now()

	switch {
	case tr.AccessToken == "":
		return nil, fmt.Errorf("access_token is empty: %w", ErrInvalidTokenResponse)
	case tr.TokenType == "":
		return nil, fmt.Errorf("token_type is empty: %w", ErrInvalidTokenResponse)
	case !strings.EqualFold(tr.TokenType, "bearer") && !strings.EqualFold(tr.TokenType, "dpop"):
		return nil, fmt.Errorf("unexpected token_type %q: %w", tr.TokenType, ErrInvalidTokenResponse)
	case tr.ExpiresIn < 0:
		return nil, fmt.Errorf("expires_in must not be negative, got: %d: %w", tr.ExpiresIn, ErrInvalidTokenResponse)
	}
	return &tr, nil
}

// UserInfo fetches the userinfo endpoint with accessToken and decodes the
// claims into v.
func (c *Client) UserInfo(ctx context.Context, as *AuthorizationServer, accessToken string, v any) error {
	const op = "protocol.(Client).UserInfo"
	if as == nil || as.provider == nil || as.UserinfoEndpoint == "" {
		return fmt.Errorf("%s: userinfo_endpoint: %w", op, ErrMissingEndpoint)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	info, err := as.provider.UserInfo(oidc.ClientContext(ctx, c.httpClient), ts)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := info.Claims(v); err != nil {
		return fmt.Errorf("%s: failed to decode claims: %w", op, err)
	}
	return nil
}
