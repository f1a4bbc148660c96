package jwt_test

import (
	"net/http/httptest"
	"testing"

	"github.com/attendkey/attendkey/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerifyToken(t *testing.T) {
	secret := jwt.Secret("test-secret")

	token, err := secret.GenerateToken("alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := secret.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserName)
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	token, err := jwt.Secret("secret-a").GenerateToken("alice")
	require.NoError(t, err)

	_, err = jwt.Secret("secret-b").VerifyToken(token)
	assert.Error(t, err)
}

func TestGenerateTokenAndStore(t *testing.T) {
	secret := jwt.Secret("test-secret")
	w := httptest.NewRecorder()

	require.NoError(t, secret.GenerateTokenAndStore(w, "alice"))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, jwt.CookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	claims, err := secret.VerifyToken(cookies[0].Value)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserName)
}
