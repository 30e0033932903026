package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v, err := NewVerifier("test-secret")
	require.NoError(t, err)

	token, err := v.Issue("staff-1", "Dr. Grey", time.Hour)
	require.NoError(t, err)

	s, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "staff-1", s.StaffID)
	assert.Equal(t, "Dr. Grey", s.DisplayName)
	assert.Equal(t, token, s.Token)
	assert.True(t, s.Valid())
}

func TestVerifier_RejectsWrongSecret(t *testing.T) {
	issuer, _ := NewVerifier("one")
	verifier, _ := NewVerifier("two")

	token, err := issuer.Issue("staff-1", "", time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.Error(t, err)
}

func TestVerifier_RejectsExpired(t *testing.T) {
	v, _ := NewVerifier("test-secret")
	token, err := v.Issue("staff-1", "", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.Error(t, err)
}

func TestVerifier_RejectsMissingSubject(t *testing.T) {
	v, _ := NewVerifier("test-secret")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"name": "x"}).
		SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.Error(t, err)
}

func TestVerifier_EmptyToken(t *testing.T) {
	v, _ := NewVerifier("test-secret")
	_, err := v.Verify("  ")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	_, err := NewVerifier("")
	assert.Error(t, err)
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithSession(context.Background(), &Session{StaffID: "s"})
	s, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "s", s.StaffID)
}

func TestSession_Valid(t *testing.T) {
	var nilSession *Session
	assert.False(t, nilSession.Valid())
	assert.False(t, (&Session{}).Valid())
	assert.False(t, (&Session{StaffID: "s", ExpiresAt: time.Now().Add(-time.Second)}).Valid())
	assert.True(t, (&Session{StaffID: "s"}).Valid())
}
