package protocol

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestProcessTokenResponse(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantOAuthErr string
		wantErr      error
	}{
		{
			name:   "ok",
			status: http.StatusOK,
			body:   `{"access_token":"at-123456789","token_type":"Bearer","expires_in":60,"refresh_token":"rt"}`,
		},
		{
			name:   "lowercase-bearer",
			status: http.StatusOK,
			body:   `{"access_token":"at","token_type":"bearer"}`,
		},
		{
			name:    "missing-access-token",
			status:  http.StatusOK,
			body:    `{"token_type":"Bearer"}`,
			wantErr: ErrInvalidTokenResponse,
		},
		{
			name:    "missing-token-type",
			status:  http.StatusOK,
			body:    `{"access_token":"at"}`,
			wantErr: ErrInvalidTokenResponse,
		},
		{
			name:    "unknown-token-type",
			status:  http.StatusOK,
			body:    `{"access_token":"at","token_type":"mac"}`,
			wantErr: ErrInvalidTokenResponse,
		},
		{
			name:    "negative-expires-in",
			status:  http.StatusOK,
			body:    `{"access_token":"at","token_type":"Bearer","expires_in":-1}`,
			wantErr: ErrInvalidTokenResponse,
		},
		{
			name:    "not-json",
			status:  http.StatusOK,
			body:    `<html>`,
			wantErr: ErrInvalidTokenResponse,
		},
		{
			name:         "oauth-error",
			status:       http.StatusBadRequest,
			body:         `{"error":"invalid_grant","error_description":"expired"}`,
			wantOAuthErr: "invalid_grant",
		},
		{
			name:    "server-error-without-body",
			status:  http.StatusBadGateway,
			body:    `bad gateway`,
			wantErr: ErrInvalidTokenResponse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			tr, err := processTokenResponse(response(tt.status, tt.body))
			switch {
			case tt.wantOAuthErr != "":
				var oe *OAuthError
				require.ErrorAs(err, &oe)
				assert.Equal(tt.wantOAuthErr, oe.Code)
				assert.Equal(tt.status, oe.StatusCode)
				assert.Contains(oe.Error(), "expired")
			case tt.wantErr != nil:
				assert.ErrorIs(err, tt.wantErr)
				assert.Nil(tr)
			default:
				require.NoError(err)
				assert.NotEmpty(tr.AccessToken)
			}
		})
	}
}

func TestTokenResponse_Expiry(t *testing.T) {
	now := time.Now()
	tr := &TokenResponse{ExpiresIn: 60, ReceivedAt: now}
	assert.Equal(t, now.Add(time.Minute), tr.Expiry())

	tr.ExpiresIn = 0
	assert.True(t, tr.Expiry().IsZero())
}

func TestOAuthError_Error(t *testing.T) {
	assert.Equal(t, "access_denied", (&OAuthError{Code: "access_denied"}).Error())
	assert.Equal(t, "invalid_grant: expired", (&OAuthError{Code: "invalid_grant", Description: "expired"}).Error())
}
