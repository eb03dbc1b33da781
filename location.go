package oauthclient

import "net/url"

// Location is the user agent the client navigates for the authorization and
// logout redirects, and the source of the query the authorization server
// redirects back with.
type Location interface {
	// Replace navigates to rawURL. It does not wait for the navigation to
	// complete.
	Replace(rawURL string) error

	// Origin is scheme://host[:port] of the application; the default for
	// the redirect and post-logout URIs.
	Origin() string

	// Query returns the query parameters of the current location.
	Query() url.Values
}
