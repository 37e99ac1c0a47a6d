package twitch

import (
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/nicklaw5/helix/v2"

	"github.com/pscheid92/streamnotify/internal/platform/retry"
)

// fakeHelix is an in-memory helixAPI.
type fakeHelix struct {
	mu            sync.Mutex
	token         string
	tokenRequests int
	streams       map[string]helix.Stream
	users         map[string]helix.User
	streamCalls   [][]string
	userCalls     int
	statuses      []int // consumed by GetStreams before answering normally
	header        http.Header
}

func newFakeHelix() *fakeHelix {
	return &fakeHelix{
		streams: make(map[string]helix.Stream),
		users:   make(map[string]helix.User),
		header:  http.Header{},
	}
}

func (f *fakeHelix) GetStreams(params *helix.StreamsParams) (*helix.StreamsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamCalls = append(f.streamCalls, slices.Clone(params.UserIDs))

	if len(f.statuses) > 0 {
		code := f.statuses[0]
		f.statuses = f.statuses[1:]
		if code != http.StatusOK {
			return &helix.StreamsResponse{ResponseCommon: helix.ResponseCommon{StatusCode: code, Header: f.header, ErrorMessage: http.StatusText(code)}}, nil
		}
	}

	resp := &helix.StreamsResponse{ResponseCommon: helix.ResponseCommon{StatusCode: http.StatusOK}}
	for _, id := range params.UserIDs {
		if s, ok := f.streams[id]; ok {
			resp.Data.Streams = append(resp.Data.Streams, s)
		}
	}
	return resp, nil
}

func (f *fakeHelix) GetUsers(params *helix.UsersParams) (*helix.UsersResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls++

	resp := &helix.UsersResponse{ResponseCommon: helix.ResponseCommon{StatusCode: http.StatusOK}}
	for _, u := range f.users {
		if slices.Contains(params.IDs, u.ID) || slices.Contains(params.Logins, u.Login) {
			resp.Data.Users = append(resp.Data.Users, u)
		}
	}
	return resp, nil
}

func (f *fakeHelix) RequestAppAccessToken([]string) (*helix.AppAccessTokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenRequests++
	resp := &helix.AppAccessTokenResponse{ResponseCommon: helix.ResponseCommon{StatusCode: http.StatusOK}}
	resp.Data.AccessToken = "app-token"
	return resp, nil
}

func (f *fakeHelix) SetAppAccessToken(token string) {
	f.token = token
}

func (f *fakeHelix) GetAppAccessToken() string {
	return f.token
}

func (f *fakeHelix) calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.streamCalls)
}

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:      3,
		InitialBackoff:   time.Millisecond,
		RateLimitBackoff: time.Millisecond,
		MaxBackoff:       time.Millisecond,
	}
}

func newTestClient(api *fakeHelix) *Client {
	return newClient(api, "client-id", testPolicy())
}
