// Package handler contains the non-ceremony HTTP handlers.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/attendkey/attendkey/database/user"
	"github.com/attendkey/attendkey/presence"
	"github.com/rs/zerolog/log"
)

// AttendanceService exposes the presence-toggling endpoints.
type AttendanceService struct {
	Users    user.Repository
	Presence presence.Tracker
}

// Attendance toggles presence with an explicit checkin/checkout action.
func (s *AttendanceService) Attendance() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Action   string `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
			http.Error(w, "no username passed in body", http.StatusBadRequest)
			return
		}
		if req.Action != "checkin" && req.Action != "checkout" {
			http.Error(w, "action must be checkin or checkout", http.StatusBadRequest)
			return
		}

		if _, err := s.Users.GetByName(r.Context(), req.Username); err != nil {
			if errors.Is(err, user.ErrUserNotFound) {
				http.Error(w, "user not found", http.StatusNotFound)
				return
			}
			log.Err(err).Str("user", req.Username).Msg("failed to fetch user")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		var err error
		if req.Action == "checkin" {
			err = s.Presence.SetPresent(r.Context(), req.Username)
		} else {
			err = s.Presence.SetAbsent(r.Context(), req.Username)
		}
		if err != nil {
			log.Err(err).Str("user", req.Username).Msg("failed to toggle presence")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		fmt.Fprintf(w, "User %s successful\n", req.Action)
	}
}

// Logout marks a user as signed out.
func (s *AttendanceService) Logout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
			http.Error(w, "no username passed in body", http.StatusBadRequest)
			return
		}

		if err := s.Presence.SetAbsent(r.Context(), req.Username); err != nil {
			if errors.Is(err, user.ErrUserNotFound) {
				http.Error(w, "user not found", http.StatusNotFound)
				return
			}
			log.Err(err).Str("user", req.Username).Msg("failed to mark user absent")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		fmt.Fprintln(w, "User logged out")
	}
}

// CurrentUsers lists the usernames currently present.
func (s *AttendanceService) CurrentUsers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := s.Presence.ListPresent(r.Context())
		if err != nil {
			log.Err(err).Msg("failed to list present users")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(names); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
