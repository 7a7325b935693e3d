package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/gochat-sync/internal/api"
	"github.com/npezzotti/gochat-sync/internal/database"
	"github.com/npezzotti/gochat-sync/internal/types"
)

// expirySkew treats tokens about to expire as already expired.
const expirySkew = 30 * time.Second

// Manager owns the credential pair and the last-known profile, persisting
// both so a restarted client can resume.
type Manager struct {
	log  *log.Logger
	api  api.AuthAPI
	repo database.SessionRepository
	now  func() time.Time

	mu    sync.RWMutex
	user  *types.User
	creds types.Credentials
}

func NewManager(l *log.Logger, a api.AuthAPI, repo database.SessionRepository) *Manager {
	return &Manager{
		log:  l,
		api:  a,
		repo: repo,
		now:  time.Now,
	}
}

func (m *Manager) User() *types.User {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

func (m *Manager) Login(ctx context.Context, username, password string) (types.User, error) {
	creds, user, err := m.api.Login(ctx, username, password)
	if err != nil {
		return types.User{}, fmt.Errorf("login: %w", err)
	}

	m.set(creds, user)
	m.save()
	m.log.Printf("logged in as %s", user.Username)
	return user, nil
}

// Restore resumes a stored session. It returns nil when there is nothing to
// resume or the server rejected the stored credentials.
func (m *Manager) Restore(ctx context.Context) (*types.User, error) {
	stored, err := m.repo.LoadSession()
	if errors.Is(err, database.ErrNoSession) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}

	creds := stored.Credentials
	if TokenExpired(creds.AccessToken, m.now().Add(expirySkew)) {
		access, err := m.api.RefreshToken(ctx, creds.RefreshToken)
		switch {
		case errors.Is(err, api.ErrUnauthorized):
			m.log.Println("stored session expired")
			m.Expire(ctx)
			return nil, nil
		case err != nil:
			m.log.Printf("refresh token: %v, resuming with stored profile", err)
		default:
			creds.AccessToken = access
		}
	}
	m.api.SetCredentials(creds)

	user := stored.User
	profile, err := m.api.Profile(ctx)
	switch {
	case errors.Is(err, api.ErrUnauthorized):
		m.log.Println("stored credentials rejected")
		m.Expire(ctx)
		return nil, nil
	case err != nil:
		m.log.Printf("fetch profile: %v, resuming with stored profile", err)
	default:
		user = profile
	}

	m.set(creds, user)
	m.save()
	return m.User(), nil
}

// Logout ends the session on the server, best effort, and forgets it locally.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.api.Logout(ctx); err != nil {
		m.log.Printf("logout: %v", err)
	}
	return m.clear()
}

// Expire forgets a session the server no longer accepts.
func (m *Manager) Expire(ctx context.Context) {
	if err := m.clear(); err != nil {
		m.log.Println(err)
	}
}

func (m *Manager) set(creds types.Credentials, user types.User) {
	m.mu.Lock()
	m.creds = creds
	m.user = &user
	m.mu.Unlock()
	m.api.SetCredentials(creds)
}

func (m *Manager) save() {
	m.mu.RLock()
	s := types.StoredSession{Credentials: m.creds, UpdatedAt: m.now()}
	if m.user != nil {
		s.User = *m.user
	}
	m.mu.RUnlock()

	if err := m.repo.SaveSession(s); err != nil {
		m.log.Printf("persist session: %v", err)
	}
}

func (m *Manager) clear() error {
	m.mu.Lock()
	m.creds = types.Credentials{}
	m.user = nil
	m.mu.Unlock()
	m.api.SetCredentials(types.Credentials{})

	if err := m.repo.ClearSession(); err != nil {
		return fmt.Errorf("clear stored session: %w", err)
	}
	return nil
}

// TokenExpired reports whether a JWT's exp claim is before now. Tokens that
// cannot be parsed are left for the server to judge.
func TokenExpired(token string, now time.Time) bool {
	if token == "" {
		return true
	}

	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return false
	}

	return !claims.VerifyExpiresAt(now.Unix(), false)
}
