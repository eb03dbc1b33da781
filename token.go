package oauthclient

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// Token returns the current credentials, or nil when not authenticated.
func (c *Client) Token() *oauth2.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token()
}

func (c *Client) token() *oauth2.Token {
	at := c.accessToken.Get()
	if at == "" {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  at,
		TokenType:    "Bearer",
		RefreshToken: c.refreshToken.Get(),
		Expiry:       c.expiry,
	}
}

// TokenSource returns an oauth2.TokenSource that refreshes through the
// client once the current access token expires. Use it with oauth2.NewClient
// to call resource servers.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, c: c}
}

type tokenSource struct {
	ctx context.Context
	c   *Client
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	const op = "oauthclient.(tokenSource).Token"
	c := ts.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if tok := c.token(); tok.Valid() {
		return tok, nil
	}
	ok, err := c.refresh(ts.ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	}
	return c.token(), nil
}

// UserInfo fetches the userinfo endpoint with the current access token and
// decodes the claims into v.
func (c *Client) UserInfo(ctx context.Context, v any) error {
	const op = "oauthclient.(Client).UserInfo"
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.as == nil {
		return fmt.Errorf("%s: %w", op, ErrNotInitialized)
	}
	at := c.accessToken.Get()
	if at == "" {
		return fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	}
	if err := c.proto.UserInfo(ctx, c.as, at, v); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
