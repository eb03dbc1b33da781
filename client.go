package oauthclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-authgate/oauth-client/loopback"
	"github.com/go-authgate/oauth-client/protocol"
	"github.com/go-authgate/oauth-client/reactive"
	"github.com/go-authgate/oauth-client/storage"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// Logical keys written to the store.
const (
	RefreshTokenKey = "refresh_token"
	CodeVerifierKey = "code_verifier"
)

const (
	fallbackAuthorizePath  = "/oauth2/authorize"
	fallbackEndSessionPath = "/oauth2/logout"
)

// Client is the authentication state machine of a public OIDC client.
//
// Its state follows from which values are present: no metadata means
// uninitialized, a code verifier means a redirect is pending, an access
// token means authenticated. Public methods are serialized.
type Client struct {
	mu sync.Mutex

	issuer                string
	client                protocol.ClientInfo
	scope                 string
	store                 storage.Store
	redirectURI           string
	postLogoutRedirectURI string
	location              Location
	proto                 *protocol.Client
	logger                hclog.Logger

	as     *protocol.AuthorizationServer
	expiry time.Time

	accessToken  *reactive.Cell[string]
	refreshToken *reactive.Cell[string]
	codeVerifier *reactive.Cell[string]
	loggedIn     *reactive.View[bool]

	unsubscribe []func()
}

// New returns an uninitialized client for issuerURL and clientID. The refresh
// token and code verifier are loaded from the store right away.
func New(issuerURL, clientID string, opt ...Option) (*Client, error) {
	const op = "oauthclient.New"
	opts := getOpts(opt...)
	opts.withIssuer = &issuerURL
	opts.withClientID = &clientID
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c := &Client{
		issuer: issuerURL,
		client: protocol.ClientInfo{
			ID:                      clientID,
			TokenEndpointAuthMethod: protocol.AuthMethodNone,
		},
		logger:       opts.withLogger,
		location:     opts.withLocation,
		proto:        opts.withProtocolClient,
		store:        opts.withStorage,
		accessToken:  reactive.NewCell(""),
		refreshToken: reactive.NewCell(""),
		codeVerifier: reactive.NewCell(""),
	}
	c.loggedIn = reactive.Map[string](c.accessToken, func(v string) bool { return v != "" })

	if c.logger == nil {
		c.logger = hclog.NewNullLogger()
	}
	if opts.withTokenEndpointAuthMethod != nil && *opts.withTokenEndpointAuthMethod != "" {
		c.client.TokenEndpointAuthMethod = *opts.withTokenEndpointAuthMethod
	}
	if opts.withClientSecret != nil {
		c.client.Secret = *opts.withClientSecret
	}
	if opts.withScope != nil {
		c.scope = *opts.withScope
	}
	if c.location == nil {
		c.location = loopback.NewBrowserLocation(loopback.DefaultOrigin, loopback.WithLogger(c.logger.Named("browser")))
	}
	if c.proto == nil {
		p, err := protocol.NewClient(protocol.WithLogger(c.logger.Named("protocol")))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		c.proto = p
	}
	if c.store == nil {
		c.store = storage.NewPersistentStore(DefaultStorageKey, storage.WithLogger(c.logger.Named("storage")))
	}
	c.redirectURI = c.location.Origin()
	if opts.withRedirectURI != nil {
		c.redirectURI = *opts.withRedirectURI
	}
	c.postLogoutRedirectURI = c.location.Origin()
	if opts.withPostLogoutRedirectURI != nil {
		c.postLogoutRedirectURI = *opts.withPostLogoutRedirectURI
	}

	if err := c.hydrate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.unsubscribe = []func(){
		c.refreshToken.Subscribe(c.persist(RefreshTokenKey)),
		c.codeVerifier.Subscribe(c.persist(CodeVerifierKey)),
	}
	return c, nil
}

// persist mirrors a credential cell into whatever store is current when the
// cell changes. An empty value deletes the key.
func (c *Client) persist(key string) reactive.Listener[string] {
	return func(_, v string) error {
		return c.store.Set(key, v)
	}
}

// hydrate loads the persisted credentials from the current store.
func (c *Client) hydrate() error {
	rt, err := c.store.Get(RefreshTokenKey)
	if err != nil {
		return err
	}
	verifier, err := c.store.Get(CodeVerifierKey)
	if err != nil {
		return err
	}
	var retErr *multierror.Error
	if err := c.refreshToken.Set(rt); err != nil {
		retErr = multierror.Append(retErr, err)
	}
	if err := c.codeVerifier.Set(verifier); err != nil {
		retErr = multierror.Append(retErr, err)
	}
	c.logger.Trace("loaded persisted state", "refresh_token", rt != "", "code_verifier", verifier != "")
	return retErr.ErrorOrNil()
}

// Close removes the persistence subscriptions. Credential changes after
// Close are no longer written to the store.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fn := range c.unsubscribe {
		fn()
	}
	c.unsubscribe = nil
}

// Extend replaces any subset of the configuration. All options are validated
// before any is applied. A new issuer discards metadata and all credentials;
// a new store reloads the refresh token and code verifier from it and drops
// the access token.
func (c *Client) Extend(opt ...Option) error {
	const op = "oauthclient.(Client).Extend"
	opts := getOpts(opt...)
	if err := opts.validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var retErr *multierror.Error
	appendErr := func(err error) {
		if err != nil {
			retErr = multierror.Append(retErr, err)
		}
	}

	if opts.withIssuer != nil {
		c.issuer = *opts.withIssuer
		c.as = nil
		appendErr(c.setAccessToken("", time.Time{}))
		appendErr(c.refreshToken.Set(""))
		appendErr(c.codeVerifier.Set(""))
		c.logger.Debug("issuer replaced, credentials cleared", "issuer", c.issuer)
	}
	if opts.withClientID != nil {
		c.client.ID = *opts.withClientID
	}
	if opts.withTokenEndpointAuthMethod != nil {
		c.client.TokenEndpointAuthMethod = *opts.withTokenEndpointAuthMethod
		if c.client.TokenEndpointAuthMethod == "" {
			c.client.TokenEndpointAuthMethod = protocol.AuthMethodNone
		}
	}
	if opts.withClientSecret != nil {
		c.client.Secret = *opts.withClientSecret
	}
	if opts.withScope != nil {
		c.scope = *opts.withScope
	}
	if opts.withStorage != nil {
		c.store = opts.withStorage
		appendErr(c.setAccessToken("", time.Time{}))
		appendErr(c.hydrate())
	}
	if opts.withRedirectURI != nil {
		c.redirectURI = *opts.withRedirectURI
	}
	if opts.withPostLogoutRedirectURI != nil {
		c.postLogoutRedirectURI = *opts.withPostLogoutRedirectURI
	}
	if opts.withLocation != nil {
		c.location = opts.withLocation
	}
	if opts.withProtocolClient != nil {
		c.proto = opts.withProtocolClient
	}
	if opts.withLogger != nil {
		c.logger = opts.withLogger
	}

	if err := retErr.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Initialize discovers the authorization server and then resumes whatever
// was in flight: a refresh when a refresh token is stored, otherwise the
// code exchange when a redirect is pending. It reports whether credentials
// were obtained.
func (c *Client) Initialize(ctx context.Context) (bool, error) {
	const op = "oauthclient.(Client).Initialize"
	c.mu.Lock()
	defer c.mu.Unlock()

	as, err := c.proto.Discover(ctx, c.issuer)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	c.as = as
	if !as.SupportsAuthMethod(c.client.TokenEndpointAuthMethod) {
		c.logger.Warn("token endpoint auth method not advertised by server",
			"method", c.client.TokenEndpointAuthMethod)
	}

	switch {
	case c.refreshToken.Get() != "":
		c.logger.Debug("resuming with refresh token")
		return c.refresh(ctx)
	case c.codeVerifier.Get() != "":
		c.logger.Debug("resuming pending authorization redirect")
		return c.handleCodeResponse(ctx, c.location.Query())
	}
	return false, nil
}

// Authorize stores a fresh PKCE verifier and navigates the location to the
// authorization endpoint. After the server redirects back, call Initialize
// (or HandleCodeResponse) to complete the login.
func (c *Client) Authorize(_ context.Context) error {
	const op = "oauthclient.(Client).Authorize"
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.as == nil {
		return fmt.Errorf("%s: %w", op, ErrNotInitialized)
	}

	pkce := protocol.GeneratePKCE()
	if err := c.codeVerifier.Set(pkce.Verifier); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	u, err := url.Parse(c.endpoint(c.as.AuthorizationEndpoint, fallbackAuthorizePath))
	if err != nil {
		return fmt.Errorf("%s: invalid authorization endpoint: %w", op, err)
	}
	q := u.Query()
	q.Set("client_id", c.client.ID)
	q.Set("code_challenge", pkce.Challenge)
	q.Set("code_challenge_method", pkce.Method)
	q.Set("redirect_uri", c.redirectURI)
	q.Set("response_type", "code")
	q.Set("scope", c.scope)
	u.RawQuery = q.Encode()

	c.logger.Debug("redirecting to authorization endpoint", "endpoint", u.Host+u.Path)
	if err := c.location.Replace(u.String()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// HandleCodeResponse completes a pending authorization with the parameters
// the server redirected back with. It returns false without error when no
// redirect is pending or params have no code parameter. The code verifier is cleared
// whenever a pending redirect is resolved, successfully or not.
func (c *Client) HandleCodeResponse(ctx context.Context, params url.Values) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handleCodeResponse(ctx, params)
}

func (c *Client) handleCodeResponse(ctx context.Context, params url.Values) (bool, error) {
	const op = "oauthclient.(Client).HandleCodeResponse"
	if c.as == nil {
		return false, fmt.Errorf("%s: %w", op, ErrNotInitialized)
	}

	verifier := c.codeVerifier.Get()
	if verifier == "" {
		return false, nil
	}
	if !params.Has("code") {
		c.logger.Debug("no code in redirect, discarding pending authorization")
		if err := c.codeVerifier.Set(""); err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
		return false, nil
	}

	tr, exchangeErr := c.exchangeCode(ctx, params, verifier)
	if err := c.codeVerifier.Set(""); err != nil {
		if exchangeErr != nil {
			err = multierror.Append(exchangeErr, err)
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if exchangeErr != nil {
		return false, fmt.Errorf("%s: %w", op, exchangeErr)
	}

	if err := c.setTokens(tr, tr.RefreshToken); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	c.logger.Debug("authorization code exchanged", "refresh_token", tr.RefreshToken != "")
	return true, nil
}

// exchangeCode validates the redirect and redeems the code. It does not
// touch client state.
func (c *Client) exchangeCode(ctx context.Context, params url.Values, verifier string) (*protocol.TokenResponse, error) {
	validated, err := protocol.ValidateAuthResponse(c.as, c.client, params, protocol.ExpectNoState)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOAuthRedirect, err)
	}

	resp, err := c.proto.AuthorizationCodeGrantRequest(ctx, c.as, c.client, validated, c.redirectURI, verifier)
	if err != nil {
		return nil, err
	}
	if challenges := protocol.ParseWWWAuthenticateChallenges(resp); len(challenges) > 0 {
		drain(resp)
		return nil, &ChallengeError{Challenges: challenges}
	}

	tr, err := c.proto.ProcessAuthorizationCodeOpenIDResponse(ctx, c.as, c.client, resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOAuthResponse, err)
	}
	return tr, nil
}

// RefreshToken redeems the stored refresh token. It returns false without
// error when there is none. A failed refresh leaves the stored refresh token
// in place; a successful one also drops any pending code verifier.
func (c *Client) RefreshToken(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refresh(ctx)
}

func (c *Client) refresh(ctx context.Context) (bool, error) {
	const op = "oauthclient.(Client).RefreshToken"
	if c.as == nil {
		return false, fmt.Errorf("%s: %w", op, ErrNotInitialized)
	}
	rt := c.refreshToken.Get()
	if rt == "" {
		return false, nil
	}

	resp, err := c.proto.RefreshTokenGrantRequest(ctx, c.as, c.client, rt)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	tr, err := c.proto.ProcessRefreshTokenResponse(ctx, c.as, c.client, resp)
	if err != nil {
		return false, fmt.Errorf("%s: %w: %w", op, ErrOAuthResponse, err)
	}

	// Servers that do not rotate refresh tokens omit it from the response.
	next := tr.RefreshToken
	if next == "" {
		next = rt
	}
	if err := c.setTokens(tr, next); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	// A pending authorization is moot once a refresh succeeded.
	if err := c.codeVerifier.Set(""); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	c.logger.Debug("access token refreshed", "rotated", tr.RefreshToken != "")
	return true, nil
}

// setTokens writes the refresh token before the access token so that
// observers of the access token see the persisted state.
func (c *Client) setTokens(tr *protocol.TokenResponse, refreshToken string) error {
	var retErr *multierror.Error
	if err := c.refreshToken.Set(refreshToken); err != nil {
		retErr = multierror.Append(retErr, err)
	}
	if err := c.setAccessToken(tr.AccessToken, tr.Expiry()); err != nil {
		retErr = multierror.Append(retErr, err)
	}
	return retErr.ErrorOrNil()
}

func (c *Client) setAccessToken(token string, expiry time.Time) error {
	c.expiry = expiry
	return c.accessToken.Set(token)
}

// Logout discards the refresh token and code verifier. When an access token
// was present it is discarded too and the location is sent to the end
// session endpoint; otherwise the logout is local only. logoutHint is
// optional.
func (c *Client) Logout(logoutHint string) error {
	const op = "oauthclient.(Client).Logout"
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.as == nil {
		return fmt.Errorf("%s: %w", op, ErrNotInitialized)
	}

	wasAuthenticated := c.accessToken.Get() != ""

	var retErr *multierror.Error
	if err := c.refreshToken.Set(""); err != nil {
		retErr = multierror.Append(retErr, err)
	}
	if err := c.codeVerifier.Set(""); err != nil {
		retErr = multierror.Append(retErr, err)
	}
	if !wasAuthenticated {
		c.logger.Debug("not authenticated, local logout only")
		if err := retErr.ErrorOrNil(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}
	if err := c.setAccessToken("", time.Time{}); err != nil {
		retErr = multierror.Append(retErr, err)
	}

	u, err := url.Parse(c.endpoint(c.as.EndSessionEndpoint, fallbackEndSessionPath))
	if err != nil {
		retErr = multierror.Append(retErr, fmt.Errorf("invalid end session endpoint: %w", err))
		return fmt.Errorf("%s: %w", op, retErr)
	}
	q := u.Query()
	q.Set("post_logout_redirect_uri", c.postLogoutRedirectURI)
	if logoutHint != "" {
		q.Set("logout_hint", logoutHint)
	}
	u.RawQuery = q.Encode()

	c.logger.Debug("redirecting to end session endpoint", "endpoint", u.Host+u.Path)
	if err := c.location.Replace(u.String()); err != nil {
		retErr = multierror.Append(retErr, err)
	}
	if err := retErr.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// endpoint returns advertised, or the issuer-relative fallback path when the
// server does not advertise one.
func (c *Client) endpoint(advertised, fallbackPath string) string {
	if advertised != "" {
		return advertised
	}
	return strings.TrimSuffix(c.issuer, "/") + fallbackPath
}

// LoggedIn is true while an access token is present.
func (c *Client) LoggedIn() *reactive.View[bool] { return c.loggedIn }

// AccessToken is the current access token, "" when absent.
func (c *Client) AccessToken() *reactive.View[string] { return c.accessToken.ReadOnly() }

// Initialized reports whether Initialize has populated the authorization
// server metadata for the current issuer.
func (c *Client) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.as != nil
}

// Issuer returns the configured issuer URL.
func (c *Client) Issuer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.issuer
}

// Scope returns the scope string sent on authorization.
func (c *Client) Scope() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scope
}

// RedirectURI returns the redirect_uri.
func (c *Client) RedirectURI() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.redirectURI
}

// PostLogoutRedirectURI returns the post_logout_redirect_uri.
func (c *Client) PostLogoutRedirectURI() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.postLogoutRedirectURI
}

// Metadata returns the discovered authorization server metadata, or nil
// before Initialize.
func (c *Client) Metadata() *protocol.Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.as == nil {
		return nil
	}
	md := c.as.Metadata
	return &md
}

func drain(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}
