package web

import (
	"encoding/json"
	"net/http"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// login authenticates against the chat server and opens the presence
// channel for the new session.
func (s *App) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Username == "" || req.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		errResp := fromError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.session.OnAuthChange(r.Context(), &user); err != nil {
		s.log.Printf("start session: %v", err)
		errResp := fromError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

func (s *App) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.session.OnAuthChange(r.Context(), nil); err != nil {
		s.log.Printf("end session: %v", err)
	}

	if err := s.auth.Logout(r.Context()); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}
