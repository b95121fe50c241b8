package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"dentibot/auth"
	"dentibot/domain"
	"dentibot/errs"
)

func (s *Server) registerUserRoutes(r *mux.Router) {
	r.HandleFunc("/users", s.handleCreateUser).Methods("POST")
	r.HandleFunc("/users/me", s.requireAuth(s.handleMe)).Methods("GET")
}

// handleCreateUser is the explicit account-creation call. Unlike the
// federation path it does not merge: a taken email is a conflict.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		errs.ReturnError(w, r, errs.Errorf(errs.EINVALID, "Invalid request body."))
		return
	}
	var user domain.User
	if err := json.Unmarshal(data, &user); err != nil {
		errs.ReturnError(w, r, errs.Errorf(errs.EINVALID, "Invalid request body."))
		return
	}

	// Clients pick none of these.
	user.ID = ""
	user.Role = ""
	user.CustomerID = ""

	if err := s.us.Create(r.Context(), &user); err != nil {
		errs.ReturnError(w, r, err)
		return
	}

	if err := s.signIn(w, r, &user); err != nil {
		errs.ReturnError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(&user); err != nil {
		errs.LogError(r, err)
	}
}

// handleMe returns the authenticated caller's user record. This is the one
// place the stateless session is reconciled against the database.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())

	user, err := s.us.ByID(r.Context(), claims.UserID())
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	if err := json.NewEncoder(w).Encode(user); err != nil {
		errs.LogError(r, err)
	}
}
