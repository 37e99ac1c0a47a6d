package webhook

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/streamnotify/internal/domain"
)

const (
	testPlatform  = "twitch-webhook"
	testPublicURL = "https://notify.example.com"
)

// memHooks is an in-memory domain.HookRepository.
type memHooks struct {
	mu    sync.Mutex
	hooks map[string]domain.Hook
}

func newMemHooks() *memHooks {
	return &memHooks{hooks: make(map[string]domain.Hook)}
}

func (r *memHooks) Create(_ context.Context, h domain.Hook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[h.ID] = h
	return nil
}

func (r *memHooks) Get(_ context.Context, id string) (*domain.Hook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hooks[id]
	if !ok {
		return nil, domain.ErrHookNotFound
	}
	return &h, nil
}

func (r *memHooks) ListByStreamer(_ context.Context, platform, streamerID string) ([]domain.Hook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Hook
	for _, h := range r.hooks {
		if h.Platform == platform && h.StreamerID == streamerID {
			out = append(out, h)
		}
	}
	slices.SortFunc(out, func(a, b domain.Hook) int { return cmp.Compare(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano()) })
	return out, nil
}

func (r *memHooks) List(ctx context.Context) ([]domain.Hook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Hook, 0, len(r.hooks))
	for _, h := range r.hooks {
		out = append(out, h)
	}
	return out, nil
}

func (r *memHooks) Activate(_ context.Context, id string, at time.Time, lease int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hooks[id]
	if !ok {
		return domain.ErrHookNotFound
	}
	h.RegisteredAt = &at
	h.LeaseSeconds = lease
	r.hooks[id] = h
	return nil
}

func (r *memHooks) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hooks[id]; !ok {
		return domain.ErrHookNotFound
	}
	delete(r.hooks, id)
	return nil
}

func (r *memHooks) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks)
}

type fakeSource struct {
	hub        string
	subscribed sync.Map
	pushes     atomic.Int32
	pushErr    error
}

func (s *fakeSource) Name() string { return testPlatform }
func (s *fakeSource) Hub() string  { return s.hub }
func (s *fakeSource) Topic(id string) string {
	return "https://api.example.com/streams?user_id=" + id
}
func (s *fakeSource) IsSubscribed(id string) bool {
	_, ok := s.subscribed.Load(id)
	return ok
}
func (s *fakeSource) Authorize(_ context.Context, r *http.Request) error {
	r.Header.Set("Client-ID", "client")
	return nil
}
func (s *fakeSource) HandlePush(context.Context, string, []byte) error {
	s.pushes.Add(1)
	return s.pushErr
}

type fixture struct {
	m       *Manager
	repo    *memHooks
	src     *fakeSource
	clock   *clockwork.FakeClock
	hubReqs chan url.Values
	hubCode atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:    newMemHooks(),
		clock:   clockwork.NewFakeClock(),
		hubReqs: make(chan url.Values, 16),
	}
	f.hubCode.Store(http.StatusAccepted)

	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "client", r.Header.Get("Client-ID"))
		_ = r.ParseForm()
		f.hubReqs <- r.PostForm
		w.WriteHeader(int(f.hubCode.Load()))
	}))
	t.Cleanup(hub.Close)

	f.src = &fakeSource{hub: hub.URL}
	f.src.subscribed.Store("42", true)

	m, err := NewManager(f.repo, Config{
		PublicURL: testPublicURL,
		Path:      "/webhooks",
		Lease:     24 * time.Hour,
		Clock:     f.clock,
	})
	require.NoError(t, err)
	m.AddSource(f.src)
	t.Cleanup(m.Close)
	f.m = m
	return f
}

func (f *fixture) nextHubRequest(t *testing.T) url.Values {
	t.Helper()
	select {
	case v := <-f.hubReqs:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no hub request")
		return nil
	}
}

func (f *fixture) noHubRequest(t *testing.T) {
	t.Helper()
	select {
	case v := <-f.hubReqs:
		t.Fatalf("unexpected hub request %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func (f *fixture) verify(t *testing.T, host, hookID string, q url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "https://"+host+"/webhooks/"+hookID+"?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.SetParamNames("hookId")
	c.SetParamValues(hookID)
	require.NoError(t, f.m.HandleVerify(c))
	return rec
}

func (f *fixture) deliver(t *testing.T, host, hookID, signature, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "https://"+host+"/webhooks/"+hookID, strings.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.SetParamNames("hookId")
	c.SetParamValues(hookID)
	require.NoError(t, f.m.HandleDelivery(c))
	return rec
}

func (f *fixture) activeHook(t *testing.T, leaseSeconds int) *domain.Hook {
	t.Helper()
	hook, err := f.m.Register(context.Background(), testPlatform, "42")
	require.NoError(t, err)
	f.nextHubRequest(t)

	rec := f.verify(t, "notify.example.com", hook.ID, url.Values{
		"hub.mode":          {"subscribe"},
		"hub.challenge":     {"c"},
		"hub.lease_seconds": {fmt.Sprint(leaseSeconds)},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	h, err := f.repo.Get(context.Background(), hook.ID)
	require.NoError(t, err)
	return h
}

func blockUntil(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, n))
}

func TestRegister_SubscribesAtHub(t *testing.T) {
	f := newFixture(t)

	hook, err := f.m.Register(context.Background(), testPlatform, "42")
	require.NoError(t, err)

	form := f.nextHubRequest(t)
	assert.Equal(t, "subscribe", form.Get("hub.mode"))
	assert.Equal(t, testPublicURL+"/webhooks/"+hook.ID, form.Get("hub.callback"))
	assert.Equal(t, "https://api.example.com/streams?user_id=42", form.Get("hub.topic"))
	assert.Equal(t, "86400", form.Get("hub.lease_seconds"))
	assert.Equal(t, hook.Secret, form.Get("hub.secret"))
	assert.Len(t, hook.Secret, 64)

	stored, err := f.repo.Get(context.Background(), hook.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HookPending, stored.State())
}

func TestRegister_FreshIDAndSecretEachTime(t *testing.T) {
	f := newFixture(t)

	a, err := f.m.Register(context.Background(), testPlatform, "42")
	require.NoError(t, err)
	b, err := f.m.Register(context.Background(), testPlatform, "42")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.Secret, b.Secret)
}

func TestRegister_HubFailureDropsHook(t *testing.T) {
	f := newFixture(t)
	f.hubCode.Store(http.StatusInternalServerError)

	_, err := f.m.Register(context.Background(), testPlatform, "42")

	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, 0, f.repo.len())
}

func TestRegister_UnknownPlatform(t *testing.T) {
	f := newFixture(t)

	_, err := f.m.Register(context.Background(), "kick", "42")
	assert.ErrorIs(t, err, domain.ErrUnknownPlatform)
}

func TestVerify_SubscribeActivatesAndEchoes(t *testing.T) {
	f := newFixture(t)
	hook, err := f.m.Register(context.Background(), testPlatform, "42")
	require.NoError(t, err)

	rec := f.verify(t, "notify.example.com", hook.ID, url.Values{
		"hub.mode":          {"subscribe"},
		"hub.challenge":     {"abc123"},
		"hub.topic":         {f.src.Topic("42")},
		"hub.lease_seconds": {"3600"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc123", rec.Body.String())

	stored, err := f.repo.Get(context.Background(), hook.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HookActive, stored.State())
	assert.Equal(t, 3600, stored.LeaseSeconds)
}

func TestVerify_Rejects(t *testing.T) {
	f := newFixture(t)
	hook, err := f.m.Register(context.Background(), testPlatform, "42")
	require.NoError(t, err)

	tests := []struct {
		name   string
		host   string
		hookID string
		query  url.Values
	}{
		{"foreign host", "evil.example.org", hook.ID, url.Values{"hub.mode": {"subscribe"}}},
		{"unknown hook", "notify.example.com", "nope", url.Values{"hub.mode": {"subscribe"}}},
		{"unknown mode", "notify.example.com", hook.ID, url.Values{"hub.mode": {"renew"}}},
		{"topic mismatch", "notify.example.com", hook.ID, url.Values{"hub.mode": {"subscribe"}, "hub.topic": {"https://other"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.verify(t, tt.host, tt.hookID, tt.query)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestVerify_UnsubscribeUnknownHookIsAcknowledged(t *testing.T) {
	f := newFixture(t)

	rec := f.verify(t, "notify.example.com", "gone", url.Values{"hub.mode": {"unsubscribe"}, "hub.challenge": {"bye"}})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bye", rec.Body.String())
}

func TestVerify_DeniedDeletesHook(t *testing.T) {
	f := newFixture(t)
	hook, err := f.m.Register(context.Background(), testPlatform, "42")
	require.NoError(t, err)

	rec := f.verify(t, "notify.example.com", hook.ID, url.Values{"hub.mode": {"denied"}, "hub.reason": {"unauthorized"}})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, f.repo.len())
}

func TestVerify_LocalHostAllowed(t *testing.T) {
	f := newFixture(t)
	hook, err := f.m.Register(context.Background(), testPlatform, "42")
	require.NoError(t, err)

	rec := f.verify(t, "127.0.0.1:8080", hook.ID, url.Values{"hub.mode": {"subscribe"}, "hub.challenge": {"x"}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerify_HostMatchIgnoresCase(t *testing.T) {
	for _, host := range []string{"Notify.Example.COM", "notify.example.com.:443", "LOCALHOST:8080"} {
		t.Run(host, func(t *testing.T) {
			f := newFixture(t)
			hook, err := f.m.Register(context.Background(), testPlatform, "42")
			require.NoError(t, err)

			rec := f.verify(t, host, hook.ID, url.Values{"hub.mode": {"subscribe"}, "hub.challenge": {"x"}})
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "x", rec.Body.String())
		})
	}
}

func TestDelivery_Signature(t *testing.T) {
	f := newFixture(t)
	hook := f.activeHook(t, 3600)
	body := `{"data":[{"id":"s1"}]}`

	wrong, err := Sign("sha256", "not-the-secret", []byte(body))
	require.NoError(t, err)
	rec := f.deliver(t, "notify.example.com", hook.ID, wrong, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, int32(0), f.src.pushes.Load())

	right, err := Sign("sha256", hook.Secret, []byte(body))
	require.NoError(t, err)
	rec = f.deliver(t, "notify.example.com", hook.ID, right, body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, int32(1), f.src.pushes.Load())
}

func TestDelivery_Rejects(t *testing.T) {
	f := newFixture(t)
	active := f.activeHook(t, 3600)
	pending, err := f.m.Register(context.Background(), testPlatform, "42")
	require.NoError(t, err)
	body := "{}"

	signedActive, _ := Sign("sha1", active.Secret, []byte(body))
	signedPending, _ := Sign("sha1", pending.Secret, []byte(body))

	tests := []struct {
		name      string
		host      string
		hookID    string
		signature string
	}{
		{"foreign host", "evil.example.org", active.ID, signedActive},
		{"unknown hook", "notify.example.com", "missing", signedActive},
		{"pending hook", "notify.example.com", pending.ID, signedPending},
		{"missing signature", "notify.example.com", active.ID, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.deliver(t, tt.host, tt.hookID, tt.signature, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Equal(t, int32(0), f.src.pushes.Load())
}

func TestDelivery_MalformedVerifiedPayload(t *testing.T) {
	f := newFixture(t)
	hook := f.activeHook(t, 3600)
	f.src.pushErr = fmt.Errorf("%w: not json", domain.ErrInvalidInput)

	sig, _ := Sign("sha256", hook.Secret, []byte("garbage"))
	rec := f.deliver(t, "notify.example.com", hook.ID, sig, "garbage")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, int32(1), f.src.pushes.Load())
}

func TestRenewal_At90PercentOfLease(t *testing.T) {
	f := newFixture(t)
	first := f.activeHook(t, 1000)

	blockUntil(t, f.clock, 1)
	f.clock.Advance(899 * time.Second)
	f.noHubRequest(t)

	f.clock.Advance(time.Second)
	form := f.nextHubRequest(t)
	assert.Equal(t, "subscribe", form.Get("hub.mode"))
	assert.NotEqual(t, f.m.CallbackURL(first.ID), form.Get("hub.callback"))

	// once the new hook is confirmed the old one is superseded
	newID := strings.TrimPrefix(form.Get("hub.callback"), testPublicURL+"/webhooks/")
	rec := f.verify(t, "notify.example.com", newID, url.Values{"hub.mode": {"subscribe"}, "hub.challenge": {"c"}})
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := f.repo.Get(context.Background(), first.ID)
	assert.ErrorIs(t, err, domain.ErrHookNotFound)
	assert.Equal(t, 1, f.repo.len())
}

func TestUnregister_CancelsRenewal(t *testing.T) {
	f := newFixture(t)
	f.activeHook(t, 1000)
	blockUntil(t, f.clock, 1)

	require.NoError(t, f.m.Unregister(context.Background(), testPlatform, "42"))

	form := f.nextHubRequest(t)
	assert.Equal(t, "unsubscribe", form.Get("hub.mode"))
	assert.Equal(t, 0, f.repo.len())

	f.clock.Advance(time.Hour)
	f.noHubRequest(t)
}

func TestEnsure_ReusesLiveLease(t *testing.T) {
	f := newFixture(t)
	f.activeHook(t, 1000)

	require.NoError(t, f.m.Ensure(context.Background(), testPlatform, "42"))
	f.noHubRequest(t)

	f.clock.Advance(950 * time.Second)
	f.nextHubRequest(t) // renewal timer

	require.NoError(t, f.m.Ensure(context.Background(), testPlatform, "7"))
	assert.Equal(t, "subscribe", f.nextHubRequest(t).Get("hub.mode"))
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()
	registered := now.Add(-time.Hour)

	require.NoError(t, f.repo.Create(ctx, domain.Hook{ID: "live", Platform: testPlatform, StreamerID: "42", LeaseSeconds: 86400, RegisteredAt: &registered, CreatedAt: registered}))
	require.NoError(t, f.repo.Create(ctx, domain.Hook{ID: "stale-pending", Platform: testPlatform, StreamerID: "42", CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, f.repo.Create(ctx, domain.Hook{ID: "fresh-pending", Platform: testPlatform, StreamerID: "42", CreatedAt: now.Add(-time.Minute)}))
	require.NoError(t, f.repo.Create(ctx, domain.Hook{ID: "unfollowed", Platform: testPlatform, StreamerID: "99", LeaseSeconds: 86400, RegisteredAt: &registered, CreatedAt: registered}))
	require.NoError(t, f.repo.Create(ctx, domain.Hook{ID: "expired", Platform: testPlatform, StreamerID: "42", LeaseSeconds: 60, RegisteredAt: &registered, CreatedAt: registered}))
	require.NoError(t, f.repo.Create(ctx, domain.Hook{ID: "orphan", Platform: "mixer", StreamerID: "1", CreatedAt: now}))

	require.NoError(t, f.m.Restore(ctx))

	hooks, err := f.repo.List(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(hooks))
	for _, h := range hooks {
		ids = append(ids, h.ID)
	}
	assert.ElementsMatch(t, []string{"live", "fresh-pending"}, ids)

	blockUntil(t, f.clock, 1)
}
