package database

import (
	"errors"

	"github.com/npezzotti/gochat-sync/internal/types"
)

var ErrNoSession = errors.New("no stored session")

// SessionRepository stores the credential pair and last-known profile so a
// session can resume without logging in again.
type SessionRepository interface {
	Ping() error
	SaveSession(s types.StoredSession) error
	LoadSession() (types.StoredSession, error)
	ClearSession() error
}
