package protocol

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAuthResponse(t *testing.T) {
	as := NewAuthorizationServer(Metadata{Issuer: "https://as.example.com"})
	issAS := NewAuthorizationServer(Metadata{
		Issuer: "https://as.example.com",
		AuthorizationResponseIssParameterSupported: true,
	})
	client := ClientInfo{ID: "test"}

	tests := []struct {
		name          string
		as            *AuthorizationServer
		params        url.Values
		expectedState string
		wantOAuthErr  string
		wantErr       bool
	}{
		{
			name:   "code-only",
			as:     as,
			params: url.Values{"code": {"abc"}},
		},
		{
			name:   "matching-iss",
			as:     issAS,
			params: url.Values{"code": {"abc"}, "iss": {"https://as.example.com"}},
		},
		{
			name:    "mismatched-iss",
			as:      as,
			params:  url.Values{"code": {"abc"}, "iss": {"https://evil.example.com"}},
			wantErr: true,
		},
		{
			name:    "missing-required-iss",
			as:      issAS,
			params:  url.Values{"code": {"abc"}},
			wantErr: true,
		},
		{
			name:    "unexpected-state",
			as:      as,
			params:  url.Values{"code": {"abc"}, "state": {"xyz"}},
			wantErr: true,
		},
		{
			name:          "expected-state",
			as:            as,
			params:        url.Values{"code": {"abc"}, "state": {"xyz"}},
			expectedState: "xyz",
		},
		{
			name:          "state-mismatch",
			as:            as,
			params:        url.Values{"code": {"abc"}, "state": {"nope"}},
			expectedState: "xyz",
			wantErr:       true,
		},
		{
			name:         "oauth-error",
			as:           as,
			params:       url.Values{"error": {"access_denied"}, "error_description": {"user cancelled"}},
			wantOAuthErr: "access_denied",
			wantErr:      true,
		},
		{
			name:    "missing-code",
			as:      as,
			params:  url.Values{},
			wantErr: true,
		},
		{
			name:    "implicit",
			as:      as,
			params:  url.Values{"code": {"abc"}, "id_token": {"x"}},
			wantErr: true,
		},
		{
			name:    "jarm",
			as:      as,
			params:  url.Values{"response": {"jwt"}},
			wantErr: true,
		},
		{
			name:    "nil-as",
			params:  url.Values{"code": {"abc"}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := ValidateAuthResponse(tt.as, client, tt.params, tt.expectedState)
			if !tt.wantErr {
				require.NoError(err)
				assert.Equal(tt.params.Get("code"), got.Get("code"))
				return
			}
			require.Error(err)
			assert.Nil(got)
			if tt.wantOAuthErr != "" {
				var oe *OAuthError
				require.ErrorAs(err, &oe)
				assert.Equal(tt.wantOAuthErr, oe.Code)
				assert.True(IsOAuthError(err))
				assert.NotErrorIs(err, ErrInvalidAuthResponse)
				return
			}
			assert.ErrorIs(err, ErrInvalidAuthResponse)
			assert.False(IsOAuthError(err))
		})
	}
}

func TestValidateAuthResponse_ReturnsCopy(t *testing.T) {
	params := url.Values{"code": {"abc"}}
	got, err := ValidateAuthResponse(NewAuthorizationServer(Metadata{}), ClientInfo{}, params, ExpectNoState)
	require.NoError(t, err)
	got.Set("code", "changed")
	assert.Equal(t, "abc", params.Get("code"))
}
