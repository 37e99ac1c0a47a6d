package twitch

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/nicklaw5/helix/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/streamnotify/internal/domain"
)

type fakeHooks struct {
	ensured      []string
	unregistered []string
	ensureErr    error
}

func (h *fakeHooks) Ensure(_ context.Context, _, id string) error {
	h.ensured = append(h.ensured, id)
	return h.ensureErr
}

func (h *fakeHooks) Unregister(_ context.Context, _, id string) error {
	h.unregistered = append(h.unregistered, id)
	return nil
}

func newPushFixture(t *testing.T) (*WebhookProvider, *fakeHooks, *fakeHelix, chan domain.StreamStatus) {
	t.Helper()
	api := newFakeHelix()
	hooks := &fakeHooks{}
	sink := make(chan domain.StreamStatus, 4)
	w := NewWebhookProvider(newTestClient(api), hooks, WebhookConfig{Clock: clockwork.NewFakeClock(), Sink: sink})
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return w, hooks, api, sink
}

func TestWebhookProvider_AddLeasesHook(t *testing.T) {
	w, hooks, _, _ := newPushFixture(t)

	require.NoError(t, w.AddSubscription(context.Background(), domain.StreamerRef{Platform: WebhookName, ExternalID: "42"}))
	require.NoError(t, w.RemoveSubscription(context.Background(), "42"))
	assert.ErrorIs(t, w.RemoveSubscription(context.Background(), "42"), domain.ErrNotTracked)

	assert.Equal(t, []string{"42"}, hooks.ensured)
	assert.Equal(t, []string{"42"}, hooks.unregistered)
}

func TestWebhookProvider_FailedLeaseUntracks(t *testing.T) {
	w, hooks, _, _ := newPushFixture(t)
	hooks.ensureErr = errors.New("hub down")

	err := w.AddSubscription(context.Background(), domain.StreamerRef{Platform: WebhookName, ExternalID: "42"})

	require.Error(t, err)
	assert.False(t, w.IsSubscribed("42"))
}

func TestWebhookProvider_HandlePush(t *testing.T) {
	w, _, api, sink := newPushFixture(t)
	api.users["42"] = helix.User{ID: "42", Login: "streamer", DisplayName: "Streamer"}
	require.NoError(t, w.AddSubscription(context.Background(), domain.StreamerRef{Platform: WebhookName, ExternalID: "42"}))

	live := `{"data":[{"id":"s1","user_id":"42","user_login":"streamer","user_name":"Streamer","game_id":"33214","title":"Live!","started_at":"2026-03-01T18:00:00Z"}]}`
	require.NoError(t, w.HandlePush(context.Background(), "42", []byte(live)))

	online := nextEvent(t, sink)
	assert.Equal(t, domain.StateOnline, online.State)
	assert.Equal(t, WebhookName, online.Platform)
	assert.Equal(t, "s1", online.StreamID)
	assert.Equal(t, "Live!", w.RenderStatus(online, "en-US").Title)

	require.NoError(t, w.HandlePush(context.Background(), "42", []byte(`{"data":[]}`)))
	offline := nextEvent(t, sink)
	assert.Equal(t, domain.StateOffline, offline.State)
}

func TestWebhookProvider_HandlePushRejectsMalformed(t *testing.T) {
	w, _, _, _ := newPushFixture(t)

	assert.ErrorIs(t, w.HandlePush(context.Background(), "42", []byte("{not json")), domain.ErrInvalidInput)
	assert.ErrorIs(t, w.HandlePush(context.Background(), "42", []byte(`{"data":[{"id":"s","user_id":"7"}]}`)), domain.ErrInvalidInput)
}

func TestWebhookProvider_HubAddressing(t *testing.T) {
	w, _, _, _ := newPushFixture(t)

	assert.Equal(t, "https://api.twitch.tv/helix/webhooks/hub", w.Hub())
	assert.Equal(t, "https://api.twitch.tv/helix/streams?user_id=42", w.Topic("42"))

	req := httptest.NewRequest("POST", w.Hub(), nil)
	require.NoError(t, w.Authorize(context.Background(), req))
	assert.Equal(t, "Bearer app-token", req.Header.Get("Authorization"))
	assert.Equal(t, "client-id", req.Header.Get("Client-Id"))
}
