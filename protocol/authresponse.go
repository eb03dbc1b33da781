package protocol

import (
	"fmt"
	"net/url"
)

// ExpectNoState is passed to ValidateAuthResponse by clients that do not send
// a state parameter on the authorization request.
const ExpectNoState = ""

// ValidateAuthResponse checks the query parameters returned on the
// redirect_uri against the authorization server and expected state, and
// returns a copy of them.
//
// An error parameter from the server is returned as an *OAuthError; every
// other failure wraps ErrInvalidAuthResponse.
func ValidateAuthResponse(as *AuthorizationServer, client ClientInfo, params url.Values, expectedState string) (url.Values, error) {
	const op = "protocol.ValidateAuthResponse"
	if as == nil {
		return nil, fmt.Errorf("%s: missing authorization server: %w", op, ErrInvalidAuthResponse)
	}
	if params.Has("response") {
		return nil, fmt.Errorf("%s: JARM responses are not supported: %w", op, ErrInvalidAuthResponse)
	}

	iss := params.Get("iss")
	switch {
	case iss != "" && iss != as.Issuer:
		return nil, fmt.Errorf("%s: unexpected iss %q: %w", op, iss, ErrInvalidAuthResponse)
	case iss == "" && as.AuthorizationResponseIssParameterSupported:
		return nil, fmt.Errorf("%s: missing iss: %w", op, ErrInvalidAuthResponse)
	}

	state := params.Get("state")
	switch {
	case expectedState == ExpectNoState && params.Has("state"):
		return nil, fmt.Errorf("%s: unexpected state: %w", op, ErrInvalidAuthResponse)
	case expectedState != ExpectNoState && state != expectedState:
		return nil, fmt.Errorf("%s: state mismatch: %w", op, ErrInvalidAuthResponse)
	}

	if code := params.Get("error"); code != "" {
		return nil, fmt.Errorf("%s: %w", op, &OAuthError{
			Code:        code,
			Description: params.Get("error_description"),
			URI:         params.Get("error_uri"),
		})
	}

	if params.Has("id_token") || params.Has("token") {
		return nil, fmt.Errorf("%s: implicit and hybrid responses are not supported: %w", op, ErrInvalidAuthResponse)
	}
	if params.Get("code") == "" {
		return nil, fmt.Errorf("%s: missing code: %w", op, ErrInvalidAuthResponse)
	}

	out := make(url.Values, len(params))
	for k, v := range params {
		out[k] = append([]string(nil), v...)
	}
	return out, nil
}
