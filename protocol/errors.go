package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrDiscovery is returned when the discovery document cannot be
	// fetched or does not belong to the requested issuer.
	ErrDiscovery = errors.New("authorization server discovery failed")

	// ErrInvalidAuthResponse is returned when authorization response
	// parameters fail validation.
	ErrInvalidAuthResponse = errors.New("invalid authorization response")

	// ErrInvalidTokenResponse is returned when a token endpoint response is
	// malformed or its id_token does not verify.
	ErrInvalidTokenResponse = errors.New("invalid token endpoint response")

	// ErrMissingEndpoint is returned when metadata lacks a required endpoint.
	ErrMissingEndpoint = errors.New("endpoint not advertised by authorization server")

	// ErrUnsupportedAuthMethod is returned for token endpoint authentication
	// methods this package does not implement.
	ErrUnsupportedAuthMethod = errors.New("unsupported token endpoint auth method")

	// ErrMissingClientSecret is returned when a secret based auth method is
	// used without a secret.
	ErrMissingClientSecret = errors.New("client secret is required")
)

// OAuthError is an error response from the authorization server, either
// returned on the authorization redirect or by the token endpoint.
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`

	// StatusCode is the HTTP status of a token endpoint error, 0 for
	// redirect errors.
	StatusCode int `json:"-"`
}

func (e *OAuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// IsOAuthError reports whether err carries an *OAuthError.
func IsOAuthError(err error) bool {
	var oe *OAuthError
	return errors.As(err, &oe)
}
