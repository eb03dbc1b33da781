package protocol

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/go-authgate/oauth-client/internal/testprovider"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testClientID    = "test-client"
	testRedirectURI = "http://localhost:8888/callback"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(WithLogger(hclog.New(&hclog.LoggerOptions{
		Name:  "protocol-test",
		Level: hclog.Trace,
	})))
	require.NoError(t, err)
	return c
}

// authorize runs the front-channel leg against tp and returns the validated
// redirect parameters and the verifier used.
func authorize(t *testing.T, tp *testprovider.Provider, as *AuthorizationServer) (url.Values, string) {
	t.Helper()
	pkce := GeneratePKCE()
	q := url.Values{}
	q.Set("client_id", testClientID)
	q.Set("code_challenge", pkce.Challenge)
	q.Set("code_challenge_method", pkce.Method)
	q.Set("redirect_uri", testRedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", "openid")

	redirect, err := tp.Authorize(as.AuthorizationEndpoint + "?" + q.Encode())
	require.NoError(t, err)
	params, err := ValidateAuthResponse(as, ClientInfo{ID: testClientID}, redirect, ExpectNoState)
	require.NoError(t, err)
	return params, pkce.Verifier
}

func TestClient_Discover(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	tp := testprovider.Start(t, testClientID)
	c := newTestClient(t)

	as, err := c.Discover(context.Background(), tp.Issuer())
	require.NoError(err)
	assert.Equal(tp.Issuer(), as.Issuer)
	assert.Equal(tp.Issuer()+testprovider.AuthorizePath, as.AuthorizationEndpoint)
	assert.Equal(tp.Issuer()+testprovider.TokenPath, as.TokenEndpoint)
	assert.Equal(tp.Issuer()+testprovider.EndSessionPath, as.EndSessionEndpoint)
	assert.Equal([]string{"S256"}, as.CodeChallengeMethodsSupported)
	assert.True(as.SupportsAuthMethod(AuthMethodNone))
	assert.False(as.SupportsAuthMethod("private_key_jwt"))
}

func TestClient_DiscoverConcurrent(t *testing.T) {
	tp := testprovider.Start(t, testClientID)
	c := newTestClient(t)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			as, err := c.Discover(context.Background(), tp.Issuer())
			if assert.NoError(t, err) {
				assert.Equal(t, tp.Issuer(), as.Issuer)
			}
		}()
	}
	wg.Wait()
}

func TestClient_DiscoverErrors(t *testing.T) {
	tp := testprovider.Start(t, testClientID)
	c := newTestClient(t)

	t.Run("issuer-mismatch", func(t *testing.T) {
		_, err := c.Discover(context.Background(), tp.Issuer()+"/tenant")
		assert.ErrorIs(t, err, ErrDiscovery)
	})
	t.Run("not-found", func(t *testing.T) {
		tp.SetDiscoveryDisabled(true)
		t.Cleanup(func() { tp.SetDiscoveryDisabled(false) })
		_, err := c.Discover(context.Background(), tp.Issuer())
		assert.ErrorIs(t, err, ErrDiscovery)
	})
	t.Run("empty-issuer", func(t *testing.T) {
		_, err := c.Discover(context.Background(), "")
		assert.ErrorIs(t, err, ErrDiscovery)
	})
}

func TestClient_AuthorizationCodeAndRefresh(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := testprovider.Start(t, testClientID)
	c := newTestClient(t)
	client := ClientInfo{ID: testClientID}

	as, err := c.Discover(ctx, tp.Issuer())
	require.NoError(err)
	params, verifier := authorize(t, tp, as)

	resp, err := c.AuthorizationCodeGrantRequest(ctx, as, client, params, testRedirectURI, verifier)
	require.NoError(err)
	assert.Empty(ParseWWWAuthenticateChallenges(resp))

	tr, err := c.ProcessAuthorizationCodeOpenIDResponse(ctx, as, client, resp)
	require.NoError(err)
	assert.NotEmpty(tr.AccessToken)
	assert.NotEmpty(tr.RefreshToken)
	require.NotNil(tr.IDTokenClaims)
	assert.Equal("alice", tr.IDTokenClaims.Subject)
	assert.False(tr.Expiry().IsZero())

	form := tp.TokenRequests()[0]
	assert.Equal("authorization_code", form.Get("grant_type"))
	assert.Equal(testClientID, form.Get("client_id"))
	assert.Equal(verifier, form.Get("code_verifier"))

	resp, err = c.RefreshTokenGrantRequest(ctx, as, client, tr.RefreshToken)
	require.NoError(err)
	refreshed, err := c.ProcessRefreshTokenResponse(ctx, as, client, resp)
	require.NoError(err)
	assert.NotEqual(tr.AccessToken, refreshed.AccessToken)
	assert.NotEqual(tr.RefreshToken, refreshed.RefreshToken)

	tok := refreshed.OAuth2Token()
	assert.Equal(refreshed.AccessToken, tok.AccessToken)
	assert.Equal(refreshed.IDToken, tok.Extra("id_token"))
}

func TestClient_WrongVerifier(t *testing.T) {
	ctx := context.Background()
	tp := testprovider.Start(t, testClientID)
	c := newTestClient(t)
	client := ClientInfo{ID: testClientID}

	as, err := c.Discover(ctx, tp.Issuer())
	require.NoError(t, err)
	params, _ := authorize(t, tp, as)

	resp, err := c.AuthorizationCodeGrantRequest(ctx, as, client, params, testRedirectURI, GenerateCodeVerifier())
	require.NoError(t, err)
	_, err = c.ProcessAuthorizationCodeOpenIDResponse(ctx, as, client, resp)

	var oe *OAuthError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "invalid_grant", oe.Code)
	assert.Equal(t, http.StatusBadRequest, oe.StatusCode)
}

func TestClient_MissingIDToken(t *testing.T) {
	ctx := context.Background()
	tp := testprovider.Start(t, testClientID)
	tp.SetOmitIDToken(true)
	c := newTestClient(t)
	client := ClientInfo{ID: testClientID}

	as, err := c.Discover(ctx, tp.Issuer())
	require.NoError(t, err)
	params, verifier := authorize(t, tp, as)

	resp, err := c.AuthorizationCodeGrantRequest(ctx, as, client, params, testRedirectURI, verifier)
	require.NoError(t, err)
	_, err = c.ProcessAuthorizationCodeOpenIDResponse(ctx, as, client, resp)
	assert.ErrorIs(t, err, ErrInvalidTokenResponse)
	assert.False(t, IsOAuthError(err))
}

func TestClient_IDTokenAudience(t *testing.T) {
	ctx := context.Background()
	tp := testprovider.Start(t, testClientID)
	c := newTestClient(t)

	as, err := c.Discover(ctx, tp.Issuer())
	require.NoError(t, err)
	params, verifier := authorize(t, tp, as)

	// The token endpoint accepts the request, but the id_token audience
	// does not match the client the response is processed for.
	resp, err := c.AuthorizationCodeGrantRequest(ctx, as, ClientInfo{ID: testClientID}, params, testRedirectURI, verifier)
	require.NoError(t, err)
	_, err = c.ProcessAuthorizationCodeOpenIDResponse(ctx, as, ClientInfo{ID: "someone-else"}, resp)
	assert.ErrorIs(t, err, ErrInvalidTokenResponse)
}

func TestClient_WWWAuthenticate(t *testing.T) {
	ctx := context.Background()
	tp := testprovider.Start(t, testClientID)
	tp.SetWWWAuthenticate(`Basic realm="token"`)
	c := newTestClient(t)

	as, err := c.Discover(ctx, tp.Issuer())
	require.NoError(t, err)
	params, verifier := authorize(t, tp, as)

	resp, err := c.AuthorizationCodeGrantRequest(ctx, as, ClientInfo{ID: testClientID}, params, testRedirectURI, verifier)
	require.NoError(t, err)
	defer resp.Body.Close()

	challenges := ParseWWWAuthenticateChallenges(resp)
	require.Len(t, challenges, 1)
	assert.Equal(t, "basic", challenges[0].Scheme)
	assert.Equal(t, "token", challenges[0].Params["realm"])
}

func TestClient_ClientAuthMethods(t *testing.T) {
	for _, method := range []string{AuthMethodClientSecretBasic, AuthMethodClientSecretPost} {
		t.Run(method, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			ctx := context.Background()
			tp := testprovider.Start(t, testClientID)
			tp.SetClientSecret("s3cr3t/+=", method)
			c := newTestClient(t)
			client := ClientInfo{ID: testClientID, Secret: "s3cr3t/+=", TokenEndpointAuthMethod: method}

			as, err := c.Discover(ctx, tp.Issuer())
			require.NoError(err)
			params, verifier := authorize(t, tp, as)

			resp, err := c.AuthorizationCodeGrantRequest(ctx, as, client, params, testRedirectURI, verifier)
			require.NoError(err)
			tr, err := c.ProcessAuthorizationCodeOpenIDResponse(ctx, as, client, resp)
			require.NoError(err)
			assert.NotEmpty(tr.AccessToken)

			form := tp.TokenRequests()[0]
			if method == AuthMethodClientSecretBasic {
				assert.Empty(form.Get("client_secret"))
			} else {
				assert.Equal("s3cr3t/+=", form.Get("client_secret"))
			}
		})
	}
}

func TestClient_TokenRequestValidation(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	as := NewAuthorizationServer(Metadata{Issuer: "https://as.example.com", TokenEndpoint: "https://as.example.com/token"})
	params := url.Values{"code": {"abc"}}

	_, err := c.AuthorizationCodeGrantRequest(ctx, as, ClientInfo{ID: "x", TokenEndpointAuthMethod: AuthMethodClientSecretPost}, params, testRedirectURI, "v")
	assert.ErrorIs(t, err, ErrMissingClientSecret)

	_, err = c.AuthorizationCodeGrantRequest(ctx, as, ClientInfo{ID: "x", TokenEndpointAuthMethod: "private_key_jwt"}, params, testRedirectURI, "v")
	assert.ErrorIs(t, err, ErrUnsupportedAuthMethod)

	_, err = c.AuthorizationCodeGrantRequest(ctx, as, ClientInfo{ID: "x"}, url.Values{}, testRedirectURI, "v")
	assert.ErrorIs(t, err, ErrInvalidAuthResponse)

	_, err = c.RefreshTokenGrantRequest(ctx, NewAuthorizationServer(Metadata{}), ClientInfo{ID: "x"}, "rt")
	assert.ErrorIs(t, err, ErrMissingEndpoint)
}

func TestClient_UserInfo(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := testprovider.Start(t, testClientID)
	tp.SetUserInfo(map[string]any{"email": "alice@example.com"})
	c := newTestClient(t)
	client := ClientInfo{ID: testClientID}

	as, err := c.Discover(ctx, tp.Issuer())
	require.NoError(err)
	params, verifier := authorize(t, tp, as)
	resp, err := c.AuthorizationCodeGrantRequest(ctx, as, client, params, testRedirectURI, verifier)
	require.NoError(err)
	tr, err := c.ProcessAuthorizationCodeOpenIDResponse(ctx, as, client, resp)
	require.NoError(err)

	var claims struct {
		Subject string `json:"sub"`
		Email   string `json:"email"`
	}
	require.NoError(c.UserInfo(ctx, as, tr.AccessToken, &claims))
	assert.Equal("alice", claims.Subject)
	assert.Equal("alice@example.com", claims.Email)

	assert.Error(c.UserInfo(ctx, as, "bogus", &claims))
}
