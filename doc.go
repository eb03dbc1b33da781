// Package oauthclient is an OAuth 2.0 / OpenID Connect client for public
// clients that delegate login to a user agent.
//
// A Client discovers the authorization server, sends the user agent to the
// authorization endpoint with a PKCE challenge, exchanges the returned code
// for tokens and refreshes them later. The refresh token and the pending code
// verifier are persisted in a storage.Store so that a login survives the
// round trip through the user agent and process restarts. The access token
// is kept in memory only and exposed as a reactive value.
//
// Typical use:
//
//	c, err := oauthclient.New("https://idp.example.com", "my-client",
//		oauthclient.WithScopes("openid", "offline_access"),
//		oauthclient.WithLocation(loc),
//	)
//	if err != nil {
//		return err
//	}
//	ok, err := c.Initialize(ctx)
//	if err != nil {
//		return err
//	}
//	if !ok && !c.LoggedIn().Get() {
//		return c.Authorize(ctx)
//	}
package oauthclient
