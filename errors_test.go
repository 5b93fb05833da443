package sallyport

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage"
)

func TestOAuthErrorFormatting(t *testing.T) {
	err := NewOAuthError(ErrorCodeInvalidGrant, "code expired", http.StatusBadRequest)
	assert.Equal(t, "invalid_grant: code expired", err.Error())
}

func TestMapServerError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{
			name:       "invalid grant",
			err:        errors.New("invalid_grant: invalid grant"),
			wantCode:   ErrorCodeInvalidGrant,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid client",
			err:        errors.New("invalid_client: unknown client"),
			wantCode:   ErrorCodeInvalidClient,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "invalid scope",
			err:        errors.New("invalid_scope: no requested scopes are available to this client"),
			wantCode:   ErrorCodeInvalidScope,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid redirect uri",
			err:        errors.New("invalid_redirect_uri: redirect URI not registered"),
			wantCode:   ErrorCodeInvalidRedirectURI,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "access denied",
			err:        errors.New("access_denied: resource owner denied the request"),
			wantCode:   ErrorCodeAccessDenied,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "unsupported response type",
			err:        errors.New("unsupported_response_type: only 'code' is supported"),
			wantCode:   ErrorCodeUnsupportedResponseType,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "registration limit",
			err:        fmt.Errorf("checking limit: %w", storage.ErrIPLimitExceeded),
			wantCode:   ErrorCodeInvalidRequest,
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "unprefixed internal error stays generic",
			err:        errors.New("pq: connection refused at 10.0.0.5:5432"),
			wantCode:   ErrorCodeServerError,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "unknown prefix stays generic",
			err:        errors.New("mystery_code: something odd"),
			wantCode:   ErrorCodeServerError,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapServerError(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantStatus, got.Status)
		})
	}
}

func TestMapServerErrorNil(t *testing.T) {
	assert.Nil(t, mapServerError(nil))
}

// Internal detail must never ride along in a generic server_error
func TestMapServerErrorHidesInternals(t *testing.T) {
	got := mapServerError(errors.New("dial tcp 10.1.2.3:6379: connect: connection refused"))
	assert.NotContains(t, got.Description, "10.1.2.3")
	assert.Equal(t, "Internal server error", got.Description)
}

func TestFormatWWWAuthenticate(t *testing.T) {
	assert.Equal(t, "Bearer", formatWWWAuthenticate("", "", ""))
	assert.Equal(t, `Bearer error="unauthorized"`, formatWWWAuthenticate("", "unauthorized", ""))
	assert.Equal(t, `Bearer scope="write", error="insufficient_scope"`,
		formatWWWAuthenticate("write", "insufficient_scope", ""))
	assert.Equal(t, `Bearer error="invalid_client", error_description="bad \"quote\""`,
		formatWWWAuthenticate("", "invalid_client", `bad "quote"`))
}
