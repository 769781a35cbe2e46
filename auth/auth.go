package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"firebase.google.com/go/v4/auth"
)

const emailClaim = "email"

var ErrMissingEmail = errors.New("ID token carries no email claim")

// Verifier checks a Firebase ID token. *auth.Client implements it.
type Verifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// Authenticate verifies the request's ID token and returns the caller's email,
// which is also the key of their users document.
func Authenticate(req *http.Request, verifier Verifier) (string, error) {
	jwtToken, err := BearerTokenFromRequest(req)
	if err != nil {
		return "", err
	}
	token, err := verifier.VerifyIDToken(req.Context(), jwtToken)
	if err != nil {
		return "", fmt.Errorf("verify ID token: %w", err)
	}
	email, _ := token.Claims[emailClaim].(string)
	if email == "" {
		return "", ErrMissingEmail
	}
	return email, nil
}
