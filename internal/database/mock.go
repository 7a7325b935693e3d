package database

import (
	"github.com/npezzotti/gochat-sync/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockSessionRepository) SaveSession(s types.StoredSession) error {
	args := m.Called(s)
	return args.Error(0)
}
func (m *MockSessionRepository) LoadSession() (types.StoredSession, error) {
	args := m.Called()
	return args.Get(0).(types.StoredSession), args.Error(1)
}
func (m *MockSessionRepository) ClearSession() error {
	args := m.Called()
	return args.Error(0)
}
