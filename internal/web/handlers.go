package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/npezzotti/gochat-sync/internal/types"
)

const maxUploadSize = 10 << 20

type SendMessageRequest struct {
	Message string `json:"message"`
}

type ReactionRequest struct {
	ReactionType string `json:"reaction_type"`
}

type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	MaxMembers  int    `json:"max_members"`
}

func (s *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *App) writeError(w http.ResponseWriter, err error) {
	errResp := fromError(err)
	s.writeJson(w, errResp.StatusCode, errResp)
}

func pathId(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *App) state(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, s.session.Snapshot())
}

func (s *App) openRoom(w http.ResponseWriter, r *http.Request) {
	roomId, ok := pathId(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.session.OpenRoom(r.Context(), roomId); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, s.session.Snapshot())
}

func (s *App) closeRoom(w http.ResponseWriter, r *http.Request) {
	if err := s.session.CloseRoom(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *App) leaveRoom(w http.ResponseWriter, r *http.Request) {
	if err := s.session.LeaveRoom(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *App) refreshRooms(w http.ResponseWriter, r *http.Request) {
	if err := s.session.RefreshRooms(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, s.session.Snapshot())
}

func (s *App) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.session.CreateRoom(r.Context(), types.CreateRoomParams{
		Name:        req.Name,
		Description: req.Description,
		MaxMembers:  req.MaxMembers,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, room)
}

func (s *App) deleteRoom(w http.ResponseWriter, r *http.Request) {
	roomId, ok := pathId(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.session.DeleteRoom(r.Context(), roomId); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *App) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.session.SendText(r.Context(), req.Message); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusAccepted, nil)
}

func (s *App) loadOlder(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.session.LoadOlder(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []types.Message{}
	}

	s.writeJson(w, http.StatusOK, msgs)
}

func (s *App) toggleReaction(w http.ResponseWriter, r *http.Request) {
	messageId, ok := pathId(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req ReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	kind, err := types.ParseReactionKind(req.ReactionType)
	if err != nil {
		errResp := NewBadRequestError()
		errResp.Err = err
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	st, err := s.session.ToggleReaction(r.Context(), messageId, kind)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, st)
}

func (s *App) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	f, hdr, err := r.FormFile("file")
	if err != nil {
		errResp := NewBadRequestError()
		errResp.Err = err
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer f.Close()

	msg, err := s.session.UploadFile(r.Context(), hdr.Filename, f)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, msg)
}
