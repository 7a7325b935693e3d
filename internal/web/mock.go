package web

import (
	"context"
	"io"

	"github.com/npezzotti/gochat-sync/internal/reaction"
	"github.com/npezzotti/gochat-sync/internal/session"
	"github.com/npezzotti/gochat-sync/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockSession struct {
	mock.Mock
}

func (m *MockSession) Snapshot() session.Snapshot {
	args := m.Called()
	return args.Get(0).(session.Snapshot)
}
func (m *MockSession) OnAuthChange(ctx context.Context, user *types.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}
func (m *MockSession) OpenRoom(ctx context.Context, roomId int) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}
func (m *MockSession) CloseRoom(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockSession) LeaveRoom(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockSession) SendText(ctx context.Context, text string) error {
	args := m.Called(ctx, text)
	return args.Error(0)
}
func (m *MockSession) ToggleReaction(ctx context.Context, messageId int, kind types.ReactionKind) (reaction.State, error) {
	args := m.Called(ctx, messageId, kind)
	return args.Get(0).(reaction.State), args.Error(1)
}
func (m *MockSession) UploadFile(ctx context.Context, name string, r io.Reader) (types.Message, error) {
	args := m.Called(ctx, name, r)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockSession) LoadOlder(ctx context.Context) ([]types.Message, error) {
	args := m.Called(ctx)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockSession) RefreshRooms(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockSession) CreateRoom(ctx context.Context, params types.CreateRoomParams) (types.Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Room), args.Error(1)
}
func (m *MockSession) DeleteRoom(ctx context.Context, roomId int) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}

type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Login(ctx context.Context, username, password string) (types.User, error) {
	args := m.Called(ctx, username, password)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockAuthenticator) Logout(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockAuthenticator) User() *types.User {
	args := m.Called()
	if u, ok := args.Get(0).(*types.User); ok {
		return u
	}
	return nil
}
