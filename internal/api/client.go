package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/npezzotti/gochat-sync/internal/types"
)

// ChatAPI is the REST surface the synchronization core consumes.
type ChatAPI interface {
	ListRooms(ctx context.Context, page, limit int) (types.RoomPage, error)
	MyRooms(ctx context.Context) ([]types.Room, error)
	RoomInfo(ctx context.Context, roomId int) (types.Room, error)
	CreateRoom(ctx context.Context, params types.CreateRoomParams) (types.Room, error)
	DeleteRoom(ctx context.Context, roomId int) error
	JoinRoom(ctx context.Context, roomId int) (types.JoinResult, error)
	LeaveRoom(ctx context.Context, roomId int) error
	DisconnectRoom(ctx context.Context, roomId int) error
	ListMessages(ctx context.Context, roomId int, pageURL string) (types.MessagePage, error)
	UploadFile(ctx context.Context, roomId int, name string, r io.Reader) (types.Message, error)
	ToggleReaction(ctx context.Context, messageId int, kind types.ReactionKind) (types.ReactionResult, error)
	MarkRead(ctx context.Context, roomId int) error
}

// AuthAPI is the token and profile surface.
type AuthAPI interface {
	Login(ctx context.Context, username, password string) (types.Credentials, types.User, error)
	Logout(ctx context.Context) error
	Profile(ctx context.Context) (types.User, error)
	RefreshToken(ctx context.Context, refreshToken string) (string, error)
	SetCredentials(c types.Credentials)
}

type Client struct {
	log     *log.Logger
	baseURL *url.URL
	http    *http.Client

	credsLock sync.RWMutex
	creds     types.Credentials
}

func NewClient(l *log.Logger, baseURL string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if hc == nil {
		hc = http.DefaultClient
	}

	return &Client{
		log:     l,
		baseURL: u,
		http:    hc,
	}, nil
}

func (c *Client) SetCredentials(creds types.Credentials) {
	c.credsLock.Lock()
	defer c.credsLock.Unlock()
	c.creds = creds
}

// AccessToken returns the bearer token used for REST and channel dials.
func (c *Client) AccessToken() string {
	c.credsLock.RLock()
	defer c.credsLock.RUnlock()
	return c.creds.AccessToken
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func (c *Client) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", ref, err)
	}
	return c.baseURL.ResolveReference(u).String(), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	target, err := c.resolve(path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if tok := c.AccessToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		_ = json.Unmarshal(raw, &eb)

		msg := eb.Error
		if msg == "" {
			msg = eb.Detail
		}
		if msg == "" {
			msg = eb.Message
		}
		return newApiError(resp.StatusCode, msg)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success      bool       `json:"success"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	User         types.User `json:"user"`
	Error        string     `json:"error"`
}

func (c *Client) Login(ctx context.Context, username, password string) (types.Credentials, types.User, error) {
	var res loginResponse
	if err := c.doJSON(ctx, http.MethodPost, "api/auth/login/", loginRequest{username, password}, &res); err != nil {
		return types.Credentials{}, types.User{}, err
	}
	if !res.Success || res.AccessToken == "" {
		return types.Credentials{}, types.User{}, newApiError(http.StatusUnauthorized, res.Error)
	}

	creds := types.Credentials{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken}
	c.SetCredentials(creds)
	return creds, res.User, nil
}

func (c *Client) Logout(ctx context.Context) error {
	c.credsLock.RLock()
	refresh := c.creds.RefreshToken
	c.credsLock.RUnlock()

	err := c.doJSON(ctx, http.MethodPost, "api/auth/logout/", map[string]string{"refresh_token": refresh}, nil)
	c.SetCredentials(types.Credentials{})
	return err
}

func (c *Client) Profile(ctx context.Context) (types.User, error) {
	var res envelope[types.User]
	if err := c.doJSON(ctx, http.MethodGet, "api/auth/profile/", nil, &res); err != nil {
		return types.User{}, err
	}
	return res.Data, nil
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	var res struct {
		Access string `json:"access"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "api/auth/token/refresh/", map[string]string{"refresh": refreshToken}, &res); err != nil {
		return "", err
	}
	if res.Access == "" {
		return "", newApiError(http.StatusUnauthorized, "empty access token")
	}
	return res.Access, nil
}

func (c *Client) ListRooms(ctx context.Context, page, limit int) (types.RoomPage, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	path := "api/rooms/"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var res envelope[types.RoomPage]
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &res); err != nil {
		return types.RoomPage{}, err
	}
	return res.Data, nil
}

func (c *Client) MyRooms(ctx context.Context) ([]types.Room, error) {
	var res envelope[struct {
		Rooms []types.Room `json:"rooms"`
	}]
	if err := c.doJSON(ctx, http.MethodGet, "api/my-rooms/", nil, &res); err != nil {
		return nil, err
	}
	return res.Data.Rooms, nil
}

func (c *Client) RoomInfo(ctx context.Context, roomId int) (types.Room, error) {
	var res envelope[types.Room]
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("api/rooms/%d/info/", roomId), nil, &res); err != nil {
		return types.Room{}, err
	}
	return res.Data, nil
}

func (c *Client) CreateRoom(ctx context.Context, params types.CreateRoomParams) (types.Room, error) {
	var res envelope[types.Room]
	if err := c.doJSON(ctx, http.MethodPost, "api/rooms/create/", params, &res); err != nil {
		return types.Room{}, err
	}
	return res.Data, nil
}

func (c *Client) DeleteRoom(ctx context.Context, roomId int) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("api/rooms/delete/%d/", roomId), nil, nil)
}

func (c *Client) JoinRoom(ctx context.Context, roomId int) (types.JoinResult, error) {
	var res envelope[types.JoinResult]
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("api/rooms/%d/join/", roomId), nil, &res); err != nil {
		return types.JoinResult{}, err
	}
	return res.Data, nil
}

func (c *Client) LeaveRoom(ctx context.Context, roomId int) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("api/rooms/%d/leave/", roomId), nil, nil)
}

func (c *Client) DisconnectRoom(ctx context.Context, roomId int) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("api/rooms/%d/disconnect/", roomId), nil, nil)
}

func (c *Client) MarkRead(ctx context.Context, roomId int) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("api/rooms/%d/mark-read/", roomId), nil, nil)
}

// ListMessages fetches a newest-first history page. pageURL is a cursor link
// from a previous page; empty requests the newest page.
func (c *Client) ListMessages(ctx context.Context, roomId int, pageURL string) (types.MessagePage, error) {
	path := pageURL
	if path == "" {
		path = fmt.Sprintf("api/rooms/%d/messages/", roomId)
	}

	var page types.MessagePage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return types.MessagePage{}, err
	}
	if page.PageSize == 0 {
		page.PageSize = len(page.Results)
	}
	return page, nil
}

func (c *Client) UploadFile(ctx context.Context, roomId int, name string, r io.Reader) (types.Message, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return types.Message{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return types.Message{}, fmt.Errorf("copy file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return types.Message{}, fmt.Errorf("close multipart: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("api/rooms/%d/upload/", roomId), buf)
	if err != nil {
		return types.Message{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var res envelope[types.Message]
	if err := c.do(req, &res); err != nil {
		return types.Message{}, err
	}
	return res.Data, nil
}

func (c *Client) ToggleReaction(ctx context.Context, messageId int, kind types.ReactionKind) (types.ReactionResult, error) {
	var res envelope[types.ReactionResult]
	body := map[string]string{"reaction_type": string(kind)}
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("api/messages/%d/reaction/", messageId), body, &res); err != nil {
		return types.ReactionResult{}, err
	}
	if res.Data.MessageId == 0 {
		res.Data.MessageId = messageId
	}
	return res.Data, nil
}
