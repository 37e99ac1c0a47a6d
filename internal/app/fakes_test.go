package app

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pscheid92/streamnotify/internal/domain"
)

type testPayload struct {
	id    string
	title string
	name  string
}

func (p testPayload) SessionID() string { return p.id }

func (p testPayload) Snapshot() domain.Snapshot {
	return domain.Snapshot{SessionID: p.id, Title: p.title, DisplayName: p.name}
}

func status(state domain.StreamState, streamID, title string) domain.StreamStatus {
	st := domain.StreamStatus{Platform: "twitch", ExternalID: "42", State: state, StreamID: streamID}
	if state != domain.StateOffline {
		st.Payload = testPayload{id: streamID, title: title, name: "Streamer"}
	}
	return st
}

// memSubs is an in-memory SubscriptionRepository.
type memSubs struct {
	mu      sync.Mutex
	rows    []domain.Subscription
	renames []string
}

func subKey(s domain.Subscription) string {
	return fmt.Sprintf("%s|%s|%s|%s", s.Platform, s.ExternalID, s.Scope, s.SubscriberID)
}

func (m *memSubs) Create(_ context.Context, sub domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if subKey(r) == subKey(sub) {
			return domain.ErrAlreadySubscribed
		}
	}
	m.rows = append(m.rows, sub)
	return nil
}

func (m *memSubs) Delete(_ context.Context, platform, externalID string, scope domain.SubscriberScope, subscriberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := subKey(domain.Subscription{Platform: platform, ExternalID: externalID, Scope: scope, SubscriberID: subscriberID})
	for i, r := range m.rows {
		if subKey(r) == key {
			m.rows = slices.Delete(m.rows, i, i+1)
			return nil
		}
	}
	return domain.ErrSubscriptionNotFound
}

func (m *memSubs) ListByStreamer(_ context.Context, platform, externalID string) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Subscription
	for _, r := range m.rows {
		if r.Platform == platform && r.ExternalID == externalID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memSubs) ListBySubscriber(_ context.Context, scope domain.SubscriberScope, subscriberID string) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Subscription
	for _, r := range m.rows {
		if r.Scope == scope && r.SubscriberID == subscriberID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memSubs) ListStreamers(_ context.Context, platform string) ([]domain.StreamerRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []domain.StreamerRef
	for _, r := range m.rows {
		if r.Platform == platform && !seen[r.ExternalID] {
			seen[r.ExternalID] = true
			out = append(out, r.Streamer())
		}
	}
	return out, nil
}

func (m *memSubs) CountByStreamer(ctx context.Context, platform, externalID string) (int, error) {
	rows, _ := m.ListByStreamer(ctx, platform, externalID)
	return len(rows), nil
}

func (m *memSubs) UpdateDisplayName(_ context.Context, platform, externalID, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].Platform == platform && m.rows[i].ExternalID == externalID {
			m.rows[i].DisplayName = displayName
		}
	}
	m.renames = append(m.renames, displayName)
	return nil
}

// memRecords is an in-memory NotificationRepository. It counts upserts
// that would have replaced a different live message, which is what a
// second record for the same key would look like in a keyed store.
type memRecords struct {
	mu         sync.Mutex
	rows       map[string]domain.NotificationRecord
	overwrites int
	deleteErr  error
}

func newMemRecords() *memRecords {
	return &memRecords{rows: map[string]domain.NotificationRecord{}}
}

func recKey(subscriberID, platform, externalID string) string {
	return subscriberID + "|" + platform + "|" + externalID
}

func (m *memRecords) Get(_ context.Context, subscriberID, platform, externalID string) (*domain.NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[recKey(subscriberID, platform, externalID)]
	if !ok {
		return nil, domain.ErrNotificationNotFound
	}
	return &rec, nil
}

func (m *memRecords) Upsert(_ context.Context, rec domain.NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recKey(rec.SubscriberID, rec.Platform, rec.ExternalID)
	if old, ok := m.rows[key]; ok && old.MessageID != rec.MessageID {
		m.overwrites++
	}
	m.rows[key] = rec
	return nil
}

func (m *memRecords) Delete(_ context.Context, subscriberID, platform, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	key := recKey(subscriberID, platform, externalID)
	if _, ok := m.rows[key]; !ok {
		return domain.ErrNotificationNotFound
	}
	delete(m.rows, key)
	return nil
}

func (m *memRecords) DeleteSentBefore(_ context.Context, subscriberID, platform, externalID string, cutoff time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return false, m.deleteErr
	}
	key := recKey(subscriberID, platform, externalID)
	rec, ok := m.rows[key]
	if !ok || !rec.SentAt.Before(cutoff) {
		return false, nil
	}
	delete(m.rows, key)
	return true, nil
}

func (m *memRecords) List(_ context.Context) ([]domain.NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.NotificationRecord, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

func (m *memRecords) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// memSettings is an in-memory SettingsRepository that counts reads.
type memSettings struct {
	mu    sync.Mutex
	rows  map[string]domain.SubscriberSettings
	reads int
}

func newMemSettings(rows ...domain.SubscriberSettings) *memSettings {
	m := &memSettings{rows: map[string]domain.SubscriberSettings{}}
	for _, r := range rows {
		m.rows[settingsKey(r.Scope, r.SubscriberID)] = r
	}
	return m
}

func (m *memSettings) Get(_ context.Context, scope domain.SubscriberScope, subscriberID string) (*domain.SubscriberSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	s, ok := m.rows[settingsKey(scope, subscriberID)]
	if !ok {
		return nil, domain.ErrSettingsNotFound
	}
	return &s, nil
}

func (m *memSettings) Upsert(_ context.Context, s domain.SubscriberSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[settingsKey(s.Scope, s.SubscriberID)] = s
	return nil
}

type sentMessage struct {
	channelID string
	msg       domain.Message
}

type editedMessage struct {
	channelID string
	messageID string
	msg       domain.Message
}

// fakeMessenger records every call. Messages listed in gone answer edits
// with ErrMessageNotFound.
type fakeMessenger struct {
	mu      sync.Mutex
	next    int
	sends   []sentMessage
	edits   []editedMessage
	gone    map[string]bool
	editErr error
	sendErr map[string]error
	guilds  map[string]bool
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{gone: map[string]bool{}, sendErr: map[string]error{}, guilds: map[string]bool{}}
}

func (f *fakeMessenger) Send(_ context.Context, channelID string, msg domain.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[channelID]; err != nil {
		return "", err
	}
	f.next++
	f.sends = append(f.sends, sentMessage{channelID: channelID, msg: msg})
	return fmt.Sprintf("m%d", f.next), nil
}

func (f *fakeMessenger) Edit(_ context.Context, channelID, messageID string, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editedMessage{channelID: channelID, messageID: messageID, msg: msg})
	if f.gone[messageID] {
		return domain.ErrMessageNotFound
	}
	return f.editErr
}

func (f *fakeMessenger) Delete(context.Context, string, string) error { return nil }

func (f *fakeMessenger) DirectChannel(_ context.Context, userID string) (string, error) {
	return "dm-" + userID, nil
}

func (f *fakeMessenger) HasGuild(guildID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.guilds[guildID]
}

// lastID is the id of the most recent send. Callers hold mu.
func (f *fakeMessenger) lastID() string {
	return fmt.Sprintf("m%d", f.next)
}

func (f *fakeMessenger) counts() (sends, edits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends), len(f.edits)
}

type titleRenderer struct{}

func (titleRenderer) Render(st domain.StreamStatus, locale string) (domain.RenderableFields, error) {
	f := domain.RenderableFields{URL: "https://example.com/" + st.ExternalID, Category: locale}
	if st.Payload != nil {
		f.Title = st.Payload.Snapshot().Title
	}
	return f, nil
}

type fakeForwarder struct {
	mu         sync.Mutex
	deliveries []domain.Delivery
}

func (f *fakeForwarder) Forward(_ context.Context, d domain.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, d)
	return nil
}

// stubProvider tracks streamers in a map and resolves every query to a
// fixed ref.
type stubProvider struct {
	mu      sync.Mutex
	name    string
	ref     domain.StreamerRef
	lookups int
	tracked map[string]domain.StreamerRef
	err     error
}

func newStubProvider(name string) *stubProvider {
	return &stubProvider{
		name:    name,
		ref:     domain.StreamerRef{Platform: name, ExternalID: "42", DisplayName: "Streamer"},
		tracked: map[string]domain.StreamerRef{},
	}
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) GetStreamer(context.Context, string) (domain.StreamerRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lookups++
	if p.err != nil {
		return domain.StreamerRef{}, p.err
	}
	return p.ref, nil
}

func (p *stubProvider) AddSubscription(_ context.Context, ref domain.StreamerRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tracked[ref.ExternalID]; ok {
		return domain.ErrAlreadyTracked
	}
	p.tracked[ref.ExternalID] = ref
	return nil
}

func (p *stubProvider) RemoveSubscription(_ context.Context, externalID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tracked[externalID]; !ok {
		return domain.ErrNotTracked
	}
	delete(p.tracked, externalID)
	return nil
}

func (p *stubProvider) IsSubscribed(externalID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tracked[externalID]
	return ok
}

func (p *stubProvider) Tracked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.tracked))
	for id := range p.tracked {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (p *stubProvider) Start(context.Context) error { return nil }
func (p *stubProvider) Stop() error                 { return nil }

func (p *stubProvider) RenderStatus(domain.StreamStatus, string) domain.RenderableFields {
	return domain.RenderableFields{}
}

type stubProviders map[string]domain.Provider

func (s stubProviders) Get(name string) (domain.Provider, error) {
	p, ok := s[name]
	if !ok {
		return nil, domain.ErrUnknownPlatform
	}
	return p, nil
}

func (s stubProviders) All() []domain.Provider {
	out := make([]domain.Provider, 0, len(s))
	for _, p := range s {
		out = append(out, p)
	}
	return out
}
