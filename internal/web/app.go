package web

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/gochat-sync/internal/config"
	"github.com/npezzotti/gochat-sync/internal/reaction"
	"github.com/npezzotti/gochat-sync/internal/session"
	"github.com/npezzotti/gochat-sync/internal/types"
)

// Session is the synchronization core the presentation layer drives.
type Session interface {
	Snapshot() session.Snapshot
	OnAuthChange(ctx context.Context, user *types.User) error
	OpenRoom(ctx context.Context, roomId int) error
	CloseRoom(ctx context.Context) error
	LeaveRoom(ctx context.Context) error
	SendText(ctx context.Context, text string) error
	ToggleReaction(ctx context.Context, messageId int, kind types.ReactionKind) (reaction.State, error)
	UploadFile(ctx context.Context, name string, r io.Reader) (types.Message, error)
	LoadOlder(ctx context.Context) ([]types.Message, error)
	RefreshRooms(ctx context.Context) error
	CreateRoom(ctx context.Context, params types.CreateRoomParams) (types.Room, error)
	DeleteRoom(ctx context.Context, roomId int) error
}

type Authenticator interface {
	Login(ctx context.Context, username, password string) (types.User, error)
	Logout(ctx context.Context) error
	User() *types.User
}

// App serves the core's state and commands to a local presentation layer.
type App struct {
	log     *log.Logger
	session Session
	auth    Authenticator
	mux     *http.Server
}

func NewApp(mux *http.ServeMux, logger *log.Logger, sess Session, auth Authenticator, cfg *config.Config) *App {
	s := &App{
		log:     logger,
		session: sess,
		auth:    auth,
	}

	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("POST /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("GET /api/state", s.authMiddleware(s.state))
	mux.HandleFunc("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.HandleFunc("DELETE /api/rooms/{id}", s.authMiddleware(s.deleteRoom))
	mux.HandleFunc("POST /api/rooms/refresh", s.authMiddleware(s.refreshRooms))
	mux.HandleFunc("POST /api/rooms/{id}/open", s.authMiddleware(s.openRoom))
	mux.HandleFunc("POST /api/rooms/close", s.authMiddleware(s.closeRoom))
	mux.HandleFunc("POST /api/rooms/leave", s.authMiddleware(s.leaveRoom))
	mux.HandleFunc("POST /api/messages", s.authMiddleware(s.sendMessage))
	mux.HandleFunc("POST /api/messages/older", s.authMiddleware(s.loadOlder))
	mux.HandleFunc("POST /api/messages/{id}/reaction", s.authMiddleware(s.toggleReaction))
	mux.HandleFunc("POST /api/upload", s.authMiddleware(s.upload))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.mux = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h,
	}
	return s
}

func (s *App) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *App) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
