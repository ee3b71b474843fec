// Package identity checks proof of phone number ownership issued by the
// hosted identity provider after one-time code confirmation.
package identity

import (
	"context"
	"fmt"
	"log"
	"strings"

	"whisper-link/internal/utils"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

const phoneProvider = "phone"

// PhoneVerifier returns the phone number an ID token proves ownership of.
type PhoneVerifier interface {
	VerifyPhone(ctx context.Context, idToken string) (string, error)
}

// idTokenVerifier is the part of the Firebase auth client the verifier needs.
type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// NewFirebaseApp initializes a Firebase app from a service account file.
func NewFirebaseApp(ctx context.Context, credentialsFile string) (*firebase.App, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	return app, nil
}

// FirebaseVerifier accepts Firebase ID tokens minted by a phone sign-in.
type FirebaseVerifier struct {
	client idTokenVerifier
}

func NewFirebaseVerifier(ctx context.Context, app *firebase.App) (*FirebaseVerifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth client: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

func (v *FirebaseVerifier) VerifyPhone(ctx context.Context, idToken string) (string, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return "", utils.NewUnauthorizedError("Phone verification is required")
	}

	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		log.Printf("Identity: ID token rejected: %v", err)
		return "", utils.NewAppError(utils.ErrInvalidToken, "Phone verification failed", err)
	}
	if token.Firebase.SignInProvider != phoneProvider {
		return "", utils.NewAppError(utils.ErrInvalidToken, "Token was not issued by a phone sign-in", nil)
	}
	phone, _ := token.Claims["phone_number"].(string)
	if phone == "" {
		return "", utils.NewAppError(utils.ErrInvalidToken, "Token carries no phone number", nil)
	}
	return phone, nil
}
