package identity

import (
	"context"
	"errors"
	"testing"

	"whisper-link/internal/utils"

	"firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuth struct {
	tokens map[string]*auth.Token
	calls  int
}

func (f *fakeAuth) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	f.calls++
	token, ok := f.tokens[idToken]
	if !ok {
		return nil, errors.New("ID token has invalid signature")
	}
	return token, nil
}

func phoneToken(provider, phone string) *auth.Token {
	return &auth.Token{
		UID:      "uid-" + phone,
		Firebase: auth.FirebaseInfo{SignInProvider: provider},
		Claims:   map[string]interface{}{"phone_number": phone},
	}
}

func TestVerifyPhone(t *testing.T) {
	client := &fakeAuth{tokens: map[string]*auth.Token{
		"good":     phoneToken("phone", "+15550100123"),
		"password": phoneToken("password", "+15550100123"),
		"nophone":  phoneToken("phone", ""),
	}}
	v := &FirebaseVerifier{client: client}
	ctx := context.Background()

	phone, err := v.VerifyPhone(ctx, " good ")
	require.NoError(t, err)
	assert.Equal(t, "+15550100123", phone)

	_, err = v.VerifyPhone(ctx, "forged")
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidToken))

	_, err = v.VerifyPhone(ctx, "password")
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidToken))

	_, err = v.VerifyPhone(ctx, "nophone")
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidToken))
}

func TestVerifyPhoneRequiresToken(t *testing.T) {
	client := &fakeAuth{}
	v := &FirebaseVerifier{client: client}

	_, err := v.VerifyPhone(context.Background(), "  ")
	assert.True(t, utils.IsErrorCode(err, utils.ErrUnauthorized))
	assert.Equal(t, 0, client.calls)
}
