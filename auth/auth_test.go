package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	args := m.Called(ctx, idToken)
	token, _ := args.Get(0).(*auth.Token)
	return token, args.Error(1)
}

func TestAuthenticate(t *testing.T) {
	expired := errors.New("ID token has expired")

	tests := []struct {
		name        string
		header      string
		token       *auth.Token
		verifyErr   error
		expected    string
		expectedErr error
	}{
		{
			name:     "email claim",
			header:   "Bearer good",
			token:    &auth.Token{UID: "uid1", Claims: map[string]interface{}{"email": "anna@example.com"}},
			expected: "anna@example.com",
		},
		{
			name:        "no email claim",
			header:      "Bearer good",
			token:       &auth.Token{UID: "uid1", Claims: map[string]interface{}{}},
			expectedErr: ErrMissingEmail,
		},
		{
			name:        "rejected token",
			header:      "Bearer good",
			verifyErr:   expired,
			expectedErr: expired,
		},
		{
			name:        "no header",
			expectedErr: errMissingAuthorizationHeader,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/conversations", nil)
			if tt.header != "" {
				req.Header.Set(authorizationHeader, tt.header)
			}
			verifier := &mockVerifier{}
			verifier.On("VerifyIDToken", mock.Anything, "good").Return(tt.token, tt.verifyErr).Maybe()

			email, err := Authenticate(req, verifier)
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, email)
		})
	}
}
