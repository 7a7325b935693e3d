package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/npezzotti/gochat-sync/internal/api"
	"github.com/npezzotti/gochat-sync/internal/config"
	"github.com/npezzotti/gochat-sync/internal/reaction"
	"github.com/npezzotti/gochat-sync/internal/session"
	"github.com/npezzotti/gochat-sync/internal/testutil"
	"github.com/npezzotti/gochat-sync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testUser = &types.User{Id: 1, Username: "alice"}

func newTestApp(t *testing.T, loggedIn bool) (*App, *MockSession, *MockAuthenticator) {
	sess := &MockSession{}
	auth := &MockAuthenticator{}
	if loggedIn {
		auth.On("User").Return(testUser)
	} else {
		auth.On("User").Return(nil)
	}

	cfg := &config.Config{
		ListenAddr:     "localhost:8080",
		AllowedOrigins: []string{"http://localhost:3000"},
	}
	app := NewApp(http.NewServeMux(), testutil.TestLogger(t), sess, auth, cfg)
	return app, sess, auth
}

func serve(app *App, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	app.mux.Handler.ServeHTTP(rr, req)
	return rr
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	buf := &bytes.Buffer{}
	require.NoError(t, json.NewEncoder(buf).Encode(v))
	return buf
}

func TestNewApp(t *testing.T) {
	app, _, _ := newTestApp(t, true)

	assert.NotNil(t, app.mux, "expected server to be initialized")
	assert.Equal(t, "localhost:8080", app.mux.Addr, "expected server address to match config")
}

func TestCORS(t *testing.T) {
	app, _, _ := newTestApp(t, true)

	req := httptest.NewRequest(http.MethodOptions, "/api/state", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	rr := serve(app, req)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuthMiddleware(t *testing.T) {
	app, sess, _ := newTestApp(t, false)

	rr := serve(app, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	sess.AssertNotCalled(t, "Snapshot")
}

func TestErrorHandler_PanicRecovery(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &App{
		log: testutil.TestLogger(t),
	}
	app.log.SetOutput(buf)

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	app.errorHandler(panicHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.Contains(t, buf.String(), "panic: test panic")
}

func TestLogin(t *testing.T) {
	tcases := []struct {
		name       string
		body       any
		loginErr   error
		statusCode int
	}{
		{
			name:       "successful login",
			body:       LoginRequest{Username: "alice", Password: "pw"},
			statusCode: http.StatusOK,
		},
		{
			name:       "missing password",
			body:       LoginRequest{Username: "alice"},
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "invalid body",
			body:       "not json",
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "rejected credentials",
			body:       LoginRequest{Username: "alice", Password: "bad"},
			loginErr:   &api.ApiError{StatusCode: http.StatusUnauthorized},
			statusCode: http.StatusUnauthorized,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, sess, auth := newTestApp(t, false)
			auth.On("Login", mock.Anything, "alice", mock.Anything).Return(*testUser, tc.loginErr).Maybe()
			sess.On("OnAuthChange", mock.Anything, testUser).Return(nil).Maybe()

			rr := serve(app, httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, tc.body)))
			assert.Equal(t, tc.statusCode, rr.Code)

			if tc.statusCode == http.StatusOK {
				sess.AssertCalled(t, "OnAuthChange", mock.Anything, testUser)
			} else {
				sess.AssertNotCalled(t, "OnAuthChange", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestLogout(t *testing.T) {
	app, sess, auth := newTestApp(t, true)
	sess.On("OnAuthChange", mock.Anything, (*types.User)(nil)).Return(nil)
	auth.On("Logout", mock.Anything).Return(nil)

	rr := serve(app, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	sess.AssertExpectations(t)
	auth.AssertExpectations(t)
}

func TestState(t *testing.T) {
	app, sess, _ := newTestApp(t, true)
	sess.On("Snapshot").Return(session.Snapshot{User: testUser, OnlineUsers: 3})

	rr := serve(app, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var snap session.Snapshot
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&snap))
	assert.Equal(t, 3, snap.OnlineUsers)
	assert.Equal(t, "no-store, no-cache, must-revalidate, private", rr.Header().Get("Cache-Control"))
}

func TestOpenRoom(t *testing.T) {
	tcases := []struct {
		name       string
		path       string
		openErr    error
		statusCode int
	}{
		{"opened", "/api/rooms/5/open", nil, http.StatusOK},
		{"bad id", "/api/rooms/abc/open", nil, http.StatusBadRequest},
		{"room gone", "/api/rooms/5/open", session.ErrRoomNotFound, http.StatusNotFound},
		{"room full", "/api/rooms/5/open", session.ErrRoomFull, http.StatusConflict},
		{"expired", "/api/rooms/5/open", api.ErrUnauthorized, http.StatusUnauthorized},
		{"upstream failure", "/api/rooms/5/open", session.ErrJoinFailed, http.StatusBadGateway},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, sess, _ := newTestApp(t, true)
			sess.On("OpenRoom", mock.Anything, 5).Return(tc.openErr).Maybe()
			sess.On("Snapshot").Return(session.Snapshot{}).Maybe()

			rr := serve(app, httptest.NewRequest(http.MethodPost, tc.path, nil))
			assert.Equal(t, tc.statusCode, rr.Code)

			if tc.openErr != nil {
				var body ApiError
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
				assert.Contains(t, body.Message, tc.openErr.Error())
			}
		})
	}
}

func TestRoomCommands(t *testing.T) {
	app, sess, _ := newTestApp(t, true)
	sess.On("CloseRoom", mock.Anything).Return(nil)
	sess.On("LeaveRoom", mock.Anything).Return(session.ErrNoActiveRoom)
	sess.On("DeleteRoom", mock.Anything, 7).Return(nil)
	sess.On("RefreshRooms", mock.Anything).Return(nil)
	sess.On("Snapshot").Return(session.Snapshot{})

	assert.Equal(t, http.StatusNoContent, serve(app, httptest.NewRequest(http.MethodPost, "/api/rooms/close", nil)).Code)
	assert.Equal(t, http.StatusConflict, serve(app, httptest.NewRequest(http.MethodPost, "/api/rooms/leave", nil)).Code)
	assert.Equal(t, http.StatusNoContent, serve(app, httptest.NewRequest(http.MethodDelete, "/api/rooms/7", nil)).Code)
	assert.Equal(t, http.StatusOK, serve(app, httptest.NewRequest(http.MethodPost, "/api/rooms/refresh", nil)).Code)
}

func TestCreateRoom(t *testing.T) {
	app, sess, _ := newTestApp(t, true)
	params := types.CreateRoomParams{Name: "gophers", Description: "go"}
	sess.On("CreateRoom", mock.Anything, params).Return(types.Room{Id: 3, Name: "gophers"}, nil)
	sess.On("CreateRoom", mock.Anything, types.CreateRoomParams{Name: "x"}).
		Return(types.Room{}, session.ErrInvalidRoomName)

	rr := serve(app, httptest.NewRequest(http.MethodPost, "/api/rooms", jsonBody(t, CreateRoomRequest{Name: "gophers", Description: "go"})))
	assert.Equal(t, http.StatusCreated, rr.Code)

	rr = serve(app, httptest.NewRequest(http.MethodPost, "/api/rooms", jsonBody(t, CreateRoomRequest{Name: "x"})))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSendMessage(t *testing.T) {
	app, sess, _ := newTestApp(t, true)
	sess.On("SendText", mock.Anything, "hi").Return(nil)
	sess.On("SendText", mock.Anything, "").Return(session.ErrEmptyMessage)

	rr := serve(app, httptest.NewRequest(http.MethodPost, "/api/messages", jsonBody(t, SendMessageRequest{Message: "hi"})))
	assert.Equal(t, http.StatusAccepted, rr.Code)

	rr = serve(app, httptest.NewRequest(http.MethodPost, "/api/messages", jsonBody(t, SendMessageRequest{})))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLoadOlder(t *testing.T) {
	app, sess, _ := newTestApp(t, true)
	sess.On("LoadOlder", mock.Anything).Return(nil, nil)

	rr := serve(app, httptest.NewRequest(http.MethodPost, "/api/messages/older", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestToggleReaction(t *testing.T) {
	app, sess, _ := newTestApp(t, true)
	st := reaction.State{Counts: map[types.ReactionKind]int{types.ReactionLike: 1}, Mine: types.ReactionLike}
	sess.On("ToggleReaction", mock.Anything, 9, types.ReactionLike).Return(st, nil)

	rr := serve(app, httptest.NewRequest(http.MethodPost, "/api/messages/9/reaction", jsonBody(t, ReactionRequest{ReactionType: "like"})))
	require.Equal(t, http.StatusOK, rr.Code)

	var got reaction.State
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, st, got)

	rr = serve(app, httptest.NewRequest(http.MethodPost, "/api/messages/9/reaction", jsonBody(t, ReactionRequest{ReactionType: "heart"})))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpload(t *testing.T) {
	app, sess, _ := newTestApp(t, true)
	sess.On("UploadFile", mock.Anything, "a.png", mock.Anything).
		Return(types.Message{Id: 4, Type: types.MessageTypeImage}, nil)

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	fw, err := mw.CreateFormFile("file", "a.png")
	require.NoError(t, err)
	fw.Write([]byte("png"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rr := serve(app, req)
	assert.Equal(t, http.StatusCreated, rr.Code)

	rr = serve(app, httptest.NewRequest(http.MethodPost, "/api/upload", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
