package oauthclient

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-authgate/oauth-client/protocol"
	"github.com/go-authgate/oauth-client/storage"
)

var (
	// ErrNotInitialized is returned by operations that need authorization
	// server metadata before Initialize succeeded.
	ErrNotInitialized = errors.New("client is not initialized")

	// ErrOAuthRedirect is returned when the parameters returned on the
	// redirect_uri fail validation, including an error sent by the server.
	ErrOAuthRedirect = errors.New("authorization redirect failed")

	// ErrWWWAuthenticate is returned when the token endpoint answers with a
	// WWW-Authenticate challenge.
	ErrWWWAuthenticate = errors.New("token endpoint returned an authentication challenge")

	// ErrOAuthResponse is returned when a token endpoint response carries an
	// OAuth error or cannot be processed.
	ErrOAuthResponse = errors.New("token endpoint returned an error")

	// ErrNotAuthenticated is returned by operations that need an access token.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrInvalidParameter is returned for invalid configuration.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrUnsupportedStorage is returned when the configured store's backing
	// area is unavailable.
	ErrUnsupportedStorage = storage.ErrUnsupportedStorage
)

// ChallengeError carries the challenges of a WWW-Authenticate response.
// It matches ErrWWWAuthenticate with errors.Is.
type ChallengeError struct {
	Challenges []protocol.Challenge
}

func (e *ChallengeError) Error() string {
	schemes := make([]string, 0, len(e.Challenges))
	for _, c := range e.Challenges {
		schemes = append(schemes, c.Scheme)
	}
	return fmt.Sprintf("%s (%s)", ErrWWWAuthenticate, strings.Join(schemes, ", "))
}

func (e *ChallengeError) Is(target error) bool {
	return target == ErrWWWAuthenticate
}
