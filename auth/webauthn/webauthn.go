// Package webauthn orchestrates the registration and login ceremonies.
//
// The cryptographic work (challenge generation, attestation and assertion
// verification, counter check) is delegated to go-webauthn; this service
// owns the protocol state: which challenge is pending for which browser
// session, and what the credential store looks like afterwards.
package webauthn

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/attendkey/attendkey/auth/webauthn/session"
	"github.com/attendkey/attendkey/database/user"
	"github.com/attendkey/attendkey/jwt"
	"github.com/attendkey/attendkey/metrics"
	"github.com/attendkey/attendkey/presence"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SessionCookieName is the cookie carrying the opaque browser-session ID.
const SessionCookieName = "attendkey_session"

type Service struct {
	webAuthn  *webauthn.WebAuthn
	users     user.Repository
	store     session.Store
	presence  presence.Tracker
	jwtSecret jwt.Secret
	policy    CounterPolicy
}

// New instanciates the ceremony service. jwtSecret may be empty, in which
// case no session token cookie is issued after login.
func New(
	webAuthn *webauthn.WebAuthn,
	users user.Repository,
	store session.Store,
	tracker presence.Tracker,
	jwtSecret jwt.Secret,
	policy CounterPolicy,
) *Service {
	if webAuthn == nil {
		panic("webAuthn is nil")
	}
	if users == nil {
		panic("users is nil")
	}
	if store == nil {
		panic("store is nil")
	}
	if tracker == nil {
		panic("tracker is nil")
	}
	if policy == "" {
		policy = CounterPolicyStrict
	}
	return &Service{
		webAuthn:  webAuthn,
		users:     users,
		store:     store,
		presence:  tracker,
		jwtSecret: jwtSecret,
		policy:    policy,
	}
}

// sessionID returns the browser-session ID, setting the cookie on first use.
func (s *Service) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// consumeSession fetches and deletes the pending ceremony session, so a
// challenge can only ever reach verification once.
func (s *Service) consumeSession(r *http.Request) (*webauthn.SessionData, error) {
	c, err := r.Cookie(SessionCookieName)
	if err != nil || c.Value == "" {
		return nil, session.ErrNotFound
	}
	data, err := s.store.Get(r.Context(), c.Value)
	if err != nil {
		return nil, err
	}
	// Best-effort: a failed delete must not resurrect the ceremony.
	if err := s.store.Delete(r.Context(), c.Value); err != nil {
		log.Err(err).Msg("failed to delete consumed session")
	}
	return data, nil
}

func respondJSON(w http.ResponseWriter, v any) {
	o, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(o)
}

// RegisterRequest issues an attestation challenge for a new username.
func (s *Service) RegisterRequest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
			http.Error(w, "no username passed in body", http.StatusBadRequest)
			return
		}

		if _, err := s.users.GetByName(r.Context(), req.Username); err == nil {
			metrics.Registrations.WithLabelValues("rejected").Inc()
			http.Error(w, "user already exists", http.StatusBadRequest)
			return
		} else if !errors.Is(err, user.ErrUserNotFound) {
			log.Err(err).Str("user", req.Username).Msg("failed to fetch user")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		// The user record is only created once the attestation verifies;
		// until then it exists solely inside the pending session.
		u := &user.User{Name: req.Username, DisplayName: req.Username}
		options, sessionData, err := s.webAuthn.BeginRegistration(u)
		if err != nil {
			log.Err(err).Str("user", req.Username).Msg("user failed to begin registration")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if err := s.store.Save(r.Context(), s.sessionID(w, r), sessionData); err != nil {
			log.Err(err).Str("user", req.Username).Msg("failed to save session in store")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		respondJSON(w, options)
	}
}

// Register verifies the attestation response and creates the user.
func (s *Service) Register() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username            string          `json:"username"`
			AttestationResponse json.RawMessage `json:"attestationResponse"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
			http.Error(w, "no username passed in body", http.StatusBadRequest)
			return
		}

		sessionData, err := s.consumeSession(r)
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, "no pending challenge", http.StatusBadRequest)
			return
		} else if err != nil {
			log.Err(err).Str("user", req.Username).Msg("failed to fetch session from store")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if string(sessionData.UserID) != req.Username {
			http.Error(w, "challenge was issued for another user", http.StatusBadRequest)
			return
		}

		parsed, err := protocol.ParseCredentialCreationResponseBody(
			bytes.NewReader(req.AttestationResponse),
		)
		if err != nil {
			metrics.Registrations.WithLabelValues("rejected").Inc()
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		u := &user.User{Name: req.Username, DisplayName: req.Username}
		credential, err := s.webAuthn.CreateCredential(u, *sessionData, parsed)
		if err != nil {
			metrics.Registrations.WithLabelValues("rejected").Inc()
			log.Err(err).Str("user", req.Username).Msg("user failed to finish registration")
			http.Error(w, fmt.Sprintf("attestation invalid: %s", err), http.StatusBadRequest)
			return
		}

		if _, err := s.users.Create(r.Context(), req.Username, req.Username, credential); err != nil {
			if errors.Is(err, user.ErrUserExists) {
				metrics.Registrations.WithLabelValues("rejected").Inc()
				http.Error(w, "user already exists", http.StatusBadRequest)
				return
			}
			metrics.Registrations.WithLabelValues("error").Inc()
			log.Err(err).Str("user", req.Username).Msg("user failed to add credential during registration")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		metrics.Registrations.WithLabelValues("success").Inc()
		log.Info().Str("user", req.Username).Msg("user created")
		fmt.Fprintln(w, "User registered")
	}
}

// LoginRequest issues an assertion challenge restricted to the user's
// registered credentials.
func (s *Service) LoginRequest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
			http.Error(w, "no username passed in body", http.StatusBadRequest)
			return
		}

		u, err := s.users.GetByName(r.Context(), req.Username)
		if errors.Is(err, user.ErrUserNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		} else if err != nil {
			log.Err(err).Str("user", req.Username).Msg("failed to fetch user")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		options, sessionData, err := s.webAuthn.BeginLogin(u)
		if err != nil {
			log.Err(err).Str("user", req.Username).Msg("user failed to begin login")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if err := s.store.Save(r.Context(), s.sessionID(w, r), sessionData); err != nil {
			log.Err(err).Str("user", req.Username).Msg("failed to save session in store")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		respondJSON(w, options)
	}
}

// Login verifies the assertion response, persists the new signature counter
// and marks the user present.
func (s *Service) Login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username          string          `json:"username"`
			AssertionResponse json.RawMessage `json:"assertionResponse"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
			http.Error(w, "no username passed in body", http.StatusBadRequest)
			return
		}

		sessionData, err := s.consumeSession(r)
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, "no pending challenge", http.StatusBadRequest)
			return
		} else if err != nil {
			log.Err(err).Str("user", req.Username).Msg("failed to fetch session from store")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if string(sessionData.UserID) != req.Username {
			http.Error(w, "challenge was issued for another user", http.StatusBadRequest)
			return
		}

		u, err := s.users.GetByName(r.Context(), req.Username)
		if errors.Is(err, user.ErrUserNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		} else if err != nil {
			log.Err(err).Str("user", req.Username).Msg("failed to fetch user")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		parsed, err := protocol.ParseCredentialRequestResponseBody(
			bytes.NewReader(req.AssertionResponse),
		)
		if err != nil {
			metrics.Logins.WithLabelValues("rejected").Inc()
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if !u.HasCredential(parsed.RawID) {
			metrics.Logins.WithLabelValues("rejected").Inc()
			http.Error(w, "credential not found", http.StatusNotFound)
			return
		}

		credential, err := s.webAuthn.ValidateLogin(u, *sessionData, parsed)
		if err != nil {
			metrics.Logins.WithLabelValues("rejected").Inc()
			log.Err(err).Str("user", req.Username).Msg("user failed to finish login")
			http.Error(w, fmt.Sprintf("assertion invalid: %s", err), http.StatusUnauthorized)
			return
		}

		if credential.Authenticator.CloneWarning {
			log.Warn().
				Str("user", req.Username).
				Uint32("counter", credential.Authenticator.SignCount).
				Msg("signature counter did not advance, possible cloned authenticator")
			if s.policy == CounterPolicyStrict {
				metrics.Logins.WithLabelValues("rejected").Inc()
				http.Error(w, "assertion invalid: signature counter did not advance", http.StatusUnauthorized)
				return
			}
		}

		// The counter must be durable before the login is acknowledged.
		if err := s.users.UpdateCredential(r.Context(), req.Username, credential); err != nil {
			metrics.Logins.WithLabelValues("error").Inc()
			log.Err(err).Str("user", req.Username).Msg("user failed to update credential during finish login")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if err := s.presence.SetPresent(r.Context(), req.Username); err != nil {
			metrics.Logins.WithLabelValues("error").Inc()
			log.Err(err).Str("user", req.Username).Msg("failed to mark user present")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if len(s.jwtSecret) > 0 {
			if err := s.jwtSecret.GenerateTokenAndStore(w, req.Username); err != nil {
				metrics.Logins.WithLabelValues("error").Inc()
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}

		metrics.Logins.WithLabelValues("success").Inc()
		fmt.Fprintln(w, "User logged in")
	}
}
