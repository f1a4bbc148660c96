package webauthn_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"testing"

	webauthnservice "github.com/attendkey/attendkey/auth/webauthn"
	sessionmemory "github.com/attendkey/attendkey/auth/webauthn/session/memory"
	"github.com/attendkey/attendkey/database/user"
	"github.com/attendkey/attendkey/database/user/jsonfile"
	"github.com/attendkey/attendkey/handler"
	"github.com/attendkey/attendkey/jwt"
	presencememory "github.com/attendkey/attendkey/presence/memory"
	"github.com/descope/virtualwebauthn"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	ts     *httptest.Server
	client *http.Client
	users  user.Repository
	rp     virtualwebauthn.RelyingParty
}

func newEnv(t *testing.T, policy webauthnservice.CounterPolicy) *env {
	t.Helper()

	config := webauthnservice.Config{
		RPID:          "localhost",
		RPDisplayName: "AttendKey",
		RPOrigins:     []string{"http://localhost:3000"},
		CounterPolicy: policy,
	}
	webAuthn, err := config.WebAuthn()
	require.NoError(t, err)

	users, err := jsonfile.NewStore(filepath.Join(t.TempDir(), "users.json"))
	require.NoError(t, err)
	tracker := presencememory.NewTracker()

	svc := webauthnservice.New(
		webAuthn,
		users,
		sessionmemory.NewStore(),
		tracker,
		jwt.Secret("test-secret"),
		policy,
	)
	attendance := handler.AttendanceService{Users: users, Presence: tracker}

	r := chi.NewRouter()
	r.Post("/register-request", svc.RegisterRequest())
	r.Post("/register", svc.Register())
	r.Post("/login-request", svc.LoginRequest())
	r.Post("/login", svc.Login())
	r.Post("/logout", attendance.Logout())
	r.Get("/current-users", attendance.CurrentUsers())

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &env{
		ts:     ts,
		client: &http.Client{Jar: jar},
		users:  users,
		rp: virtualwebauthn.RelyingParty{
			Name:   config.RPDisplayName,
			ID:     config.RPID,
			Origin: config.RPOrigins[0],
		},
	}
}

func (e *env) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := e.client.Post(e.ts.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (e *env) getJSON(t *testing.T, path string, v any) {
	t.Helper()
	resp, err := e.client.Get(e.ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// publicKeyOptions unwraps the publicKey member of a challenge response.
func publicKeyOptions(t *testing.T, body []byte) string {
	t.Helper()
	var wrapper struct {
		PublicKey json.RawMessage `json:"publicKey"`
	}
	require.NoError(t, json.Unmarshal(body, &wrapper))
	require.NotEmpty(t, wrapper.PublicKey)
	return string(wrapper.PublicKey)
}

func (e *env) register(
	t *testing.T,
	username string,
	auth *virtualwebauthn.Authenticator,
	cred *virtualwebauthn.Credential,
) {
	t.Helper()

	resp, body := e.postJSON(t, "/register-request", map[string]string{"username": username})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	options, err := virtualwebauthn.ParseAttestationOptions(publicKeyOptions(t, body))
	require.NoError(t, err)

	attestation := virtualwebauthn.CreateAttestationResponse(e.rp, *auth, *cred, *options)
	resp, body = e.postJSON(t, "/register", map[string]any{
		"username":            username,
		"attestationResponse": json.RawMessage(attestation),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	auth.AddCredential(*cred)
}

// loginAssertion runs /login-request and builds the signed assertion body.
func (e *env) loginAssertion(
	t *testing.T,
	username string,
	auth *virtualwebauthn.Authenticator,
	cred *virtualwebauthn.Credential,
) map[string]any {
	t.Helper()

	resp, body := e.postJSON(t, "/login-request", map[string]string{"username": username})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	options, err := virtualwebauthn.ParseAssertionOptions(publicKeyOptions(t, body))
	require.NoError(t, err)

	assertion := virtualwebauthn.CreateAssertionResponse(e.rp, *auth, *cred, *options)
	return map[string]any{
		"username":          username,
		"assertionResponse": json.RawMessage(assertion),
	}
}

func TestRegistrationAndLoginFlow(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, webauthnservice.CounterPolicyStrict)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	e.register(t, "alice", &auth, &cred)

	stored, err := e.users.GetByName(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, stored.Credentials, 1)
	assert.Equal(t, uint32(0), stored.Credentials[0].Authenticator.SignCount)

	cred.Counter++
	payload := e.loginAssertion(t, "alice", &auth, &cred)
	resp, body := e.postJSON(t, "/login", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	// The session token cookie is minted only after a verified assertion.
	tokenCookie := false
	for _, c := range resp.Cookies() {
		if c.Name == jwt.CookieName {
			tokenCookie = true
		}
	}
	assert.True(t, tokenCookie)

	stored, err = e.users.GetByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), stored.Credentials[0].Authenticator.SignCount)

	var present []string
	e.getJSON(t, "/current-users", &present)
	assert.Equal(t, []string{"alice"}, present)

	resp, body = e.postJSON(t, "/logout", map[string]string{"username": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	e.getJSON(t, "/current-users", &present)
	assert.Empty(t, present)
}

func TestRegisterRequestDuplicateUser(t *testing.T) {
	e := newEnv(t, webauthnservice.CounterPolicyStrict)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	e.register(t, "alice", &auth, &cred)

	resp, body := e.postJSON(t, "/register-request", map[string]string{"username": "alice"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "user already exists")
}

func TestRegisterWithoutPendingChallenge(t *testing.T) {
	e := newEnv(t, webauthnservice.CounterPolicyStrict)

	resp, body := e.postJSON(t, "/register", map[string]any{
		"username":            "alice",
		"attestationResponse": json.RawMessage(`{}`),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "no pending challenge")
}

func TestLoginWithoutPendingChallenge(t *testing.T) {
	e := newEnv(t, webauthnservice.CounterPolicyStrict)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	e.register(t, "alice", &auth, &cred)

	// The registration consumed its challenge; nothing is pending anymore.
	resp, body := e.postJSON(t, "/login", map[string]any{
		"username":          "alice",
		"assertionResponse": json.RawMessage(`{}`),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "no pending challenge")
}

func TestLoginRequestUnknownUser(t *testing.T) {
	e := newEnv(t, webauthnservice.CounterPolicyStrict)

	resp, body := e.postJSON(t, "/login-request", map[string]string{"username": "ghost"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "user not found")
}

func TestReplayedAssertionIsRejected(t *testing.T) {
	e := newEnv(t, webauthnservice.CounterPolicyStrict)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	e.register(t, "alice", &auth, &cred)

	cred.Counter++
	payload := e.loginAssertion(t, "alice", &auth, &cred)
	resp, body := e.postJSON(t, "/login", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	// Replay against the same session: the challenge was consumed.
	resp, body = e.postJSON(t, "/login", payload)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "no pending challenge")

	// Replay against a fresh challenge: the signed client data no longer
	// matches the pending challenge.
	resp, body = e.postJSON(t, "/login-request", map[string]string{"username": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	resp, body = e.postJSON(t, "/login", payload)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, string(body))
}

func TestCounterRegressionRejectedWhenStrict(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, webauthnservice.CounterPolicyStrict)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	e.register(t, "alice", &auth, &cred)

	cred.Counter++
	payload := e.loginAssertion(t, "alice", &auth, &cred)
	resp, body := e.postJSON(t, "/login", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	// A second assertion reporting the same nonzero counter signals a
	// cloned authenticator.
	payload = e.loginAssertion(t, "alice", &auth, &cred)
	resp, body = e.postJSON(t, "/login", payload)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), "assertion invalid")

	// The stored counter must not have moved.
	stored, err := e.users.GetByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), stored.Credentials[0].Authenticator.SignCount)
}

func TestCounterRegressionAcceptedWhenLenient(t *testing.T) {
	e := newEnv(t, webauthnservice.CounterPolicyLenient)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	e.register(t, "alice", &auth, &cred)

	cred.Counter++
	payload := e.loginAssertion(t, "alice", &auth, &cred)
	resp, body := e.postJSON(t, "/login", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	payload = e.loginAssertion(t, "alice", &auth, &cred)
	resp, body = e.postJSON(t, "/login", payload)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func TestLoginWithForeignCredential(t *testing.T) {
	e := newEnv(t, webauthnservice.CounterPolicyStrict)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	e.register(t, "alice", &auth, &cred)

	// Answer alice's challenge with a credential she never registered.
	foreignAuth := virtualwebauthn.NewAuthenticator()
	foreignCred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	foreignAuth.AddCredential(foreignCred)
	foreignCred.Counter++

	payload := e.loginAssertion(t, "alice", &foreignAuth, &foreignCred)
	resp, body := e.postJSON(t, "/login", payload)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "credential not found")
}

func TestZeroCounterAuthenticatorIsTolerated(t *testing.T) {
	e := newEnv(t, webauthnservice.CounterPolicyStrict)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	e.register(t, "alice", &auth, &cred)

	// Some authenticators never increment their counter; while both the
	// stored and the reported counter are zero this is not an attack.
	payload := e.loginAssertion(t, "alice", &auth, &cred)
	resp, body := e.postJSON(t, "/login", payload)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	payload = e.loginAssertion(t, "alice", &auth, &cred)
	resp, body = e.postJSON(t, "/login", payload)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}
