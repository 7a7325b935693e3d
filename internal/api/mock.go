package api

import (
	"context"
	"io"

	"github.com/npezzotti/gochat-sync/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockChatAPI struct {
	mock.Mock
}

func (m *MockChatAPI) ListRooms(ctx context.Context, page, limit int) (types.RoomPage, error) {
	args := m.Called(ctx, page, limit)
	return args.Get(0).(types.RoomPage), args.Error(1)
}
func (m *MockChatAPI) MyRooms(ctx context.Context) ([]types.Room, error) {
	args := m.Called(ctx)
	if rooms, ok := args.Get(0).([]types.Room); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatAPI) RoomInfo(ctx context.Context, roomId int) (types.Room, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(types.Room), args.Error(1)
}
func (m *MockChatAPI) CreateRoom(ctx context.Context, params types.CreateRoomParams) (types.Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Room), args.Error(1)
}
func (m *MockChatAPI) DeleteRoom(ctx context.Context, roomId int) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}
func (m *MockChatAPI) JoinRoom(ctx context.Context, roomId int) (types.JoinResult, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(types.JoinResult), args.Error(1)
}
func (m *MockChatAPI) LeaveRoom(ctx context.Context, roomId int) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}
func (m *MockChatAPI) DisconnectRoom(ctx context.Context, roomId int) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}
func (m *MockChatAPI) ListMessages(ctx context.Context, roomId int, pageURL string) (types.MessagePage, error) {
	args := m.Called(ctx, roomId, pageURL)
	return args.Get(0).(types.MessagePage), args.Error(1)
}
func (m *MockChatAPI) UploadFile(ctx context.Context, roomId int, name string, r io.Reader) (types.Message, error) {
	args := m.Called(ctx, roomId, name, r)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockChatAPI) ToggleReaction(ctx context.Context, messageId int, kind types.ReactionKind) (types.ReactionResult, error) {
	args := m.Called(ctx, messageId, kind)
	return args.Get(0).(types.ReactionResult), args.Error(1)
}
func (m *MockChatAPI) MarkRead(ctx context.Context, roomId int) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}

type MockAuthAPI struct {
	mock.Mock
}

func (m *MockAuthAPI) Login(ctx context.Context, username, password string) (types.Credentials, types.User, error) {
	args := m.Called(ctx, username, password)
	return args.Get(0).(types.Credentials), args.Get(1).(types.User), args.Error(2)
}
func (m *MockAuthAPI) Logout(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockAuthAPI) Profile(ctx context.Context) (types.User, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockAuthAPI) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	args := m.Called(ctx, refreshToken)
	return args.String(0), args.Error(1)
}
func (m *MockAuthAPI) SetCredentials(c types.Credentials) {
	m.Called(c)
}
