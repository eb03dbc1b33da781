// Package testprovider runs an in-process OpenID Connect provider for tests.
//
// It serves discovery, JWKS, token, userinfo and end-session endpoints, signs
// id_tokens with an ES256 key and enforces PKCE on the authorization code
// grant. The user-agent leg of the flow is simulated with Authorize.
package testprovider

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/oauth2"
)

// Endpoint paths served by the provider.
const (
	AuthorizePath  = "/oauth2/v2.0/authorize"
	TokenPath      = "/oauth2/v2.0/token"
	UserInfoPath   = "/oauth2/v2.0/userinfo"
	EndSessionPath = "/oauth2/v2.0/logout"
	JWKSPath       = "/oauth2/v2.0/keys"
	DiscoveryPath  = "/.well-known/openid-configuration"
)

const (
	keyID          = "test-key-1"
	defaultSubject = "alice"
)

type pendingCode struct {
	clientID      string
	redirectURI   string
	challenge     string
	challengeMeth string
}

type tokenError struct {
	status int
	body   map[string]string
}

// Provider is a test OIDC provider. All setters are safe for concurrent use.
type Provider struct {
	t      testing.TB
	server *httptest.Server
	key    *ecdsa.PrivateKey

	mu sync.Mutex

	clientID     string
	clientSecret string
	authMethod   string

	subject  string
	userInfo map[string]any

	omitAuthorizationEndpoint bool
	omitEndSessionEndpoint    bool
	advertiseIss              bool
	disableDiscovery          bool

	omitIDToken   bool
	omitRefresh   bool
	rotateRefresh bool
	wwwAuth       string
	tokenErr      *tokenError
	expiresIn     int64

	codes         map[string]pendingCode
	refreshTokens map[string]bool
	accessTokens  map[string]bool
	counter       int
	tokenRequests []url.Values
}

// Start returns a running provider that is closed when the test ends.
// clientID is the only client it accepts.
func Start(t testing.TB, clientID string) *Provider {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("testprovider: generate key: %v", err)
	}
	p := &Provider{
		t:             t,
		key:           key,
		clientID:      clientID,
		authMethod:    "none",
		subject:       defaultSubject,
		rotateRefresh: true,
		expiresIn:     3600,
		codes:         map[string]pendingCode{},
		refreshTokens: map[string]bool{},
		accessTokens:  map[string]bool{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(DiscoveryPath, p.handleDiscovery)
	mux.HandleFunc(JWKSPath, p.handleJWKS)
	mux.HandleFunc(TokenPath, p.handleToken)
	mux.HandleFunc(UserInfoPath, p.handleUserInfo)
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

// Issuer returns the issuer URL, which is the server's base URL.
func (p *Provider) Issuer() string { return p.server.URL }

// HTTPClient returns a client for the provider's server.
func (p *Provider) HTTPClient() *http.Client { return p.server.Client() }

// SetClientSecret switches the provider to a confidential client using method
// (client_secret_basic or client_secret_post).
func (p *Provider) SetClientSecret(secret, method string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientSecret = secret
	p.authMethod = method
}

// SetSubject sets the sub claim of issued id_tokens.
func (p *Provider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subject = sub
}

// SetUserInfo sets the claims returned by the userinfo endpoint.
func (p *Provider) SetUserInfo(claims map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userInfo = claims
}

// OmitEndpoints removes authorization_endpoint and/or end_session_endpoint
// from the discovery document.
func (p *Provider) OmitEndpoints(authorization, endSession bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitAuthorizationEndpoint = authorization
	p.omitEndSessionEndpoint = endSession
}

// SetIssParameter makes the provider advertise and send the iss
// authorization response parameter.
func (p *Provider) SetIssParameter(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advertiseIss = enabled
}

// SetDiscoveryDisabled makes the discovery endpoint return 404.
func (p *Provider) SetDiscoveryDisabled(disabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableDiscovery = disabled
}

// SetOmitIDToken drops id_token from token responses.
func (p *Provider) SetOmitIDToken(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = omit
}

// SetOmitRefreshToken drops refresh_token from token responses.
func (p *Provider) SetOmitRefreshToken(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefresh = omit
}

// SetRotateRefreshTokens controls whether the refresh grant returns a new
// refresh token. Defaults to true.
func (p *Provider) SetRotateRefreshTokens(rotate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotateRefresh = rotate
}

// SetTokenError makes the token endpoint reply with an OAuth error. An empty
// code restores normal replies.
func (p *Provider) SetTokenError(status int, code, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if code == "" {
		p.tokenErr = nil
		return
	}
	p.tokenErr = &tokenError{
		status: status,
		body:   map[string]string{"error": code, "error_description": description},
	}
}

// SetWWWAuthenticate makes the token endpoint reply 401 with the given
// WWW-Authenticate header. An empty value restores normal replies.
func (p *Provider) SetWWWAuthenticate(challenge string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wwwAuth = challenge
}

// TokenRequests returns the forms posted to the token endpoint so far.
func (p *Provider) TokenRequests() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]url.Values(nil), p.tokenRequests...)
}

// IssueRefreshToken registers a refresh token as if it had been issued
// earlier, e.g. in a previous process.
func (p *Provider) IssueRefreshToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.newRefreshToken()
}

// Authorize plays the user agent and the provider's login page: it validates
// the authorization request URL and returns the query the provider would
// redirect back with.
func (p *Provider) Authorize(authURL string) (url.Values, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case q.Get("response_type") != "code":
		return nil, fmt.Errorf("unsupported response_type %q", q.Get("response_type"))
	case q.Get("client_id") != p.clientID:
		return nil, fmt.Errorf("unknown client_id %q", q.Get("client_id"))
	case q.Get("code_challenge") == "":
		return nil, fmt.Errorf("missing code_challenge")
	case q.Get("code_challenge_method") != "S256":
		return nil, fmt.Errorf("unsupported code_challenge_method %q", q.Get("code_challenge_method"))
	case q.Get("redirect_uri") == "":
		return nil, fmt.Errorf("missing redirect_uri")
	}

	code := p.nextID("code")
	p.codes[code] = pendingCode{
		clientID:      q.Get("client_id"),
		redirectURI:   q.Get("redirect_uri"),
		challenge:     q.Get("code_challenge"),
		challengeMeth: q.Get("code_challenge_method"),
	}

	resp := url.Values{}
	resp.Set("code", code)
	if p.advertiseIss {
		resp.Set("iss", p.Issuer())
	}
	return resp, nil
}

func (p *Provider) nextID(prefix string) string {
	p.counter++
	return fmt.Sprintf("%s-%04d", prefix, p.counter)
}

func (p *Provider) newRefreshToken() string {
	rt := p.nextID("refresh")
	p.refreshTokens[rt] = true
	return rt
}

func (p *Provider) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disableDiscovery {
		http.NotFound(w, r)
		return
	}
	iss := p.Issuer()
	md := map[string]any{
		"issuer":                                iss,
		"token_endpoint":                        iss + TokenPath,
		"userinfo_endpoint":                     iss + UserInfoPath,
		"jwks_uri":                              iss + JWKSPath,
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{string(jose.ES256)},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"none", "client_secret_basic", "client_secret_post"},
		"scopes_supported":                      []string{"openid", "profile", "offline_access"},
	}
	if !p.omitAuthorizationEndpoint {
		md["authorization_endpoint"] = iss + AuthorizePath
	}
	if !p.omitEndSessionEndpoint {
		md["end_session_endpoint"] = iss + EndSessionPath
	}
	if p.advertiseIss {
		md["authorization_response_iss_parameter_supported"] = true
	}
	writeJSON(w, http.StatusOK, md)
}

func (p *Provider) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &p.key.PublicKey,
		KeyID:     keyID,
		Algorithm: string(jose.ES256),
		Use:       "sig",
	}}})
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenRequests = append(p.tokenRequests, r.PostForm)

	if p.wwwAuth != "" {
		w.Header().Set("WWW-Authenticate", p.wwwAuth)
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}
	if p.tokenErr != nil {
		writeJSON(w, p.tokenErr.status, p.tokenErr.body)
		return
	}
	if !p.authenticateClient(r) {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		p.codeGrant(w, r.PostForm)
	case "refresh_token":
		p.refreshGrant(w, r.PostForm)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "")
	}
}

func (p *Provider) authenticateClient(r *http.Request) bool {
	switch p.authMethod {
	case "client_secret_basic":
		user, pass, ok := r.BasicAuth()
		if !ok {
			return false
		}
		user, _ = url.QueryUnescape(user)
		pass, _ = url.QueryUnescape(pass)
		return user == p.clientID && subtle.ConstantTimeCompare([]byte(pass), []byte(p.clientSecret)) == 1
	case "client_secret_post":
		return r.PostForm.Get("client_id") == p.clientID &&
			subtle.ConstantTimeCompare([]byte(r.PostForm.Get("client_secret")), []byte(p.clientSecret)) == 1
	default:
		return r.PostForm.Get("client_id") == p.clientID && r.PostForm.Get("client_secret") == ""
	}
}

func (p *Provider) codeGrant(w http.ResponseWriter, form url.Values) {
	code := form.Get("code")
	pending, ok := p.codes[code]
	if !ok {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "unknown or used code")
		return
	}
	delete(p.codes, code)

	if form.Get("redirect_uri") != pending.redirectURI {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
		return
	}
	if oauth2.S256ChallengeFromVerifier(form.Get("code_verifier")) != pending.challenge {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
		return
	}
	p.issueTokens(w, true)
}

func (p *Provider) refreshGrant(w http.ResponseWriter, form url.Values) {
	rt := form.Get("refresh_token")
	if !p.refreshTokens[rt] {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "unknown refresh token")
		return
	}
	if p.rotateRefresh {
		delete(p.refreshTokens, rt)
	}
	p.issueTokens(w, p.rotateRefresh)
}

func (p *Provider) issueTokens(w http.ResponseWriter, withRefresh bool) {
	at := p.nextID("access")
	p.accessTokens[at] = true
	resp := map[string]any{
		"access_token": at,
		"token_type":   "Bearer",
		"expires_in":   p.expiresIn,
	}
	if withRefresh && !p.omitRefresh {
		resp["refresh_token"] = p.newRefreshToken()
	}
	if !p.omitIDToken {
		idToken, err := p.signIDToken()
		if err != nil {
			writeOAuthError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		resp["id_token"] = idToken
	}
	writeJSON(w, http.StatusOK, resp)
}

func (p *Provider) signIDToken() (string, error) {
	opts := (&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", keyID)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: p.key}, opts)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := jwt.Claims{
		Issuer:    p.Issuer(),
		Subject:   p.subject,
		Audience:  jwt.Audience{p.clientID},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}
	return jwt.Signed(signer).Claims(claims).Serialize()
}

func (p *Provider) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	p.mu.Lock()
	defer p.mu.Unlock()
	if !ok || !p.accessTokens[token] {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	claims := map[string]any{"sub": p.subject}
	for k, v := range p.userInfo {
		claims[k] = v
	}
	writeJSON(w, http.StatusOK, claims)
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	body := map[string]string{"error": code}
	if description != "" {
		body["error_description"] = description
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
