package app

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/streamnotify/internal/domain"
)

type dispatchFixture struct {
	subs      *memSubs
	records   *memRecords
	settings  *memSettings
	messenger *fakeMessenger
	clock     *clockwork.FakeClock
	d         *Dispatcher
}

func newDispatchFixture(t *testing.T, subs ...domain.Subscription) *dispatchFixture {
	t.Helper()
	f := &dispatchFixture{
		subs:    &memSubs{rows: subs},
		records: newMemRecords(),
		settings: newMemSettings(domain.SubscriberSettings{
			Scope: domain.ScopeGuild, SubscriberID: "100", ChannelID: "c100", Locale: "de-DE",
		}),
		messenger: newFakeMessenger(),
		clock:     clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)),
	}
	f.messenger.guilds["100"] = true
	f.d = NewDispatcher(DispatcherConfig{
		Subscriptions: f.subs,
		Notifications: f.records,
		Settings:      NewSettingsCache(f.settings),
		Messenger:     f.messenger,
		Renderer:      titleRenderer{},
		Clock:         f.clock,
	})
	return f
}

func guildSub(id string) domain.Subscription {
	return domain.Subscription{Platform: "twitch", ExternalID: "42", Scope: domain.ScopeGuild, SubscriberID: id, DisplayName: "Streamer"}
}

func userSub(id string) domain.Subscription {
	return domain.Subscription{Platform: "twitch", ExternalID: "42", Scope: domain.ScopeUser, SubscriberID: id, DisplayName: "Streamer"}
}

func TestDispatch_TwoSubscribersLifecycle(t *testing.T) {
	f := newDispatchFixture(t, guildSub("100"), userSub("u7"))
	ctx := context.Background()

	require.NoError(t, f.d.Dispatch(ctx, status(domain.StateOnline, "s1", "Hello")))

	sends, edits := f.messenger.counts()
	assert.Equal(t, 2, sends)
	assert.Equal(t, 0, edits)
	assert.Equal(t, 2, f.records.len())
	assert.Equal(t, "c100", f.messenger.sends[0].channelID)
	assert.Equal(t, "dm-u7", f.messenger.sends[1].channelID)
	assert.Equal(t, "de-DE", f.messenger.sends[0].msg.Fields.Category)

	require.NoError(t, f.d.Dispatch(ctx, status(domain.StateUpdated, "s1", "New title")))

	sends, edits = f.messenger.counts()
	assert.Equal(t, 2, sends)
	assert.Equal(t, 2, edits)
	assert.Equal(t, 2, f.records.len())
	assert.Equal(t, "New title", f.messenger.edits[0].msg.Fields.Title)

	require.NoError(t, f.d.Dispatch(ctx, status(domain.StateOffline, "s1", "")))

	sends, edits = f.messenger.counts()
	assert.Equal(t, 2, sends)
	assert.Equal(t, 4, edits)
	assert.Equal(t, 0, f.records.len())
	assert.Equal(t, domain.StateOffline, f.messenger.edits[3].msg.State)
	assert.Zero(t, f.records.overwrites)
}

func TestDispatch_OnlineWritesRecord(t *testing.T) {
	f := newDispatchFixture(t, guildSub("100"))

	require.NoError(t, f.d.Dispatch(context.Background(), status(domain.StateOnline, "s1", "Hello")))

	rec, err := f.records.Get(context.Background(), "100", "twitch", "42")
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationRecord{
		Scope: domain.ScopeGuild, SubscriberID: "100", Platform: "twitch", ExternalID: "42",
		StreamID: "s1", ChannelID: "c100", MessageID: "m1", SentAt: f.clock.Now(),
	}, *rec)
}

func TestDispatch_UpdatedWithoutRecordSendsFresh(t *testing.T) {
	f := newDispatchFixture(t, guildSub("100"))

	require.NoError(t, f.d.Dispatch(context.Background(), status(domain.StateUpdated, "s2", "Hello")))

	sends, edits := f.messenger.counts()
	assert.Equal(t, 1, sends)
	assert.Equal(t, 0, edits)
	assert.Equal(t, 1, f.records.len())
}

func TestDispatch_UpdatedRefreshesRecord(t *testing.T) {
	f := newDispatchFixture(t, guildSub("100"))
	ctx := context.Background()
	require.NoError(t, f.d.Dispatch(ctx, status(domain.StateOnline, "s1", "Hello")))

	f.clock.Advance(10 * time.Minute)
	require.NoError(t, f.d.Dispatch(ctx, status(domain.StateUpdated, "s2", "Hello")))

	rec, err := f.records.Get(ctx, "100", "twitch", "42")
	require.NoError(t, err)
	assert.Equal(t, "s2", rec.StreamID)
	assert.Equal(t, "m1", rec.MessageID)
	assert.Equal(t, f.clock.Now(), rec.SentAt)
}

func TestDispatch_MissingMessageHealsRecord(t *testing.T) {
	f := newDispatchFixture(t, guildSub("100"))
	ctx := context.Background()
	require.NoError(t, f.d.Dispatch(ctx, status(domain.StateOnline, "s1", "Hello")))
	f.messenger.gone["m1"] = true

	require.NoError(t, f.d.Dispatch(ctx, status(domain.StateUpdated, "s1", "Changed")))

	sends, edits := f.messenger.counts()
	assert.Equal(t, 2, sends)
	assert.Equal(t, 1, edits)
	rec, err := f.records.Get(ctx, "100", "twitch", "42")
	require.NoError(t, err)
	assert.Equal(t, "m2", rec.MessageID)
	assert.Zero(t, f.records.overwrites)
}

func TestDispatch_EditFailureKeepsRecord(t *testing.T) {
	f := newDispatchFixture(t, guildSub("100"))
	ctx := context.Background()
	require.NoError(t, f.d.Dispatch(ctx, status(domain.StateOnline, "s1", "Hello")))
	f.messenger.editErr = errors.New("discord 500")

	err := f.d.Dispatch(ctx, status(domain.StateUpdated, "s1", "Changed"))

	assert.ErrorIs(t, err, domain.ErrDeliveryFailed)
	sends, _ := f.messenger.counts()
	assert.Equal(t, 1, sends)
	assert.Equal(t, 1, f.records.len())
}

func TestDispatch_OneFailureDoesNotStopOthers(t *testing.T) {
	f := newDispatchFixture(t, guildSub("200"), userSub("u7"))
	f.messenger.guilds["200"] = true

	err := f.d.Dispatch(context.Background(), status(domain.StateOnline, "s1", "Hello"))

	assert.ErrorIs(t, err, domain.ErrNoChannel)
	sends, _ := f.messenger.counts()
	assert.Equal(t, 1, sends)
	assert.Equal(t, "dm-u7", f.messenger.sends[0].channelID)
	assert.Equal(t, 1, f.records.len())
}

func TestDispatch_SendFailureSkipsPersistence(t *testing.T) {
	f := newDispatchFixture(t, guildSub("100"), userSub("u7"))
	f.messenger.sendErr["c100"] = errors.New("missing permissions")

	err := f.d.Dispatch(context.Background(), status(domain.StateOnline, "s1", "Hello"))

	assert.ErrorIs(t, err, domain.ErrDeliveryFailed)
	_, getErr := f.records.Get(context.Background(), "100", "twitch", "42")
	assert.ErrorIs(t, getErr, domain.ErrNotificationNotFound)
	_, getErr = f.records.Get(context.Background(), "u7", "twitch", "42")
	assert.NoError(t, getErr)
}

func TestDispatch_OfflineWithoutRecordIsNoop(t *testing.T) {
	f := newDispatchFixture(t, guildSub("100"))

	require.NoError(t, f.d.Dispatch(context.Background(), status(domain.StateOffline, "s1", "")))

	sends, edits := f.messenger.counts()
	assert.Zero(t, sends)
	assert.Zero(t, edits)
}

func TestDispatch_OfflineDeletesRecordEvenWhenEditFails(t *testing.T) {
	f := newDispatchFixture(t, guildSub("100"))
	ctx := context.Background()
	require.NoError(t, f.d.Dispatch(ctx, status(domain.StateOnline, "s1", "Hello")))
	f.messenger.editErr = errors.New("discord 500")

	require.NoError(t, f.d.Dispatch(ctx, status(domain.StateOffline, "s1", "")))

	assert.Zero(t, f.records.len())
}

func TestDispatch_MentionOnlyOnOnlineWhenEnabled(t *testing.T) {
	f := newDispatchFixture(t, guildSub("100"), userSub("u7"))
	ctx := context.Background()
	s, _ := f.settings.Get(ctx, domain.ScopeGuild, "100")
	require.NoError(t, f.settings.Upsert(ctx, s.WithMention("twitch", "42", true)))

	require.NoError(t, f.d.Dispatch(ctx, status(domain.StateOnline, "s1", "Hello")))
	require.NoError(t, f.d.Dispatch(ctx, status(domain.StateUpdated, "s1", "Changed")))

	assert.True(t, f.messenger.sends[0].msg.MentionEveryone)
	assert.False(t, f.messenger.sends[1].msg.MentionEveryone, "users are never mentioned")
	for _, e := range f.messenger.edits {
		assert.False(t, e.msg.MentionEveryone)
	}
}

func TestDispatch_ForwardsRemoteGuilds(t *testing.T) {
	f := newDispatchFixture(t, guildSub("100"), guildSub("300"), userSub("u7"))
	fwd := &fakeForwarder{}
	f.d.forwarder = fwd

	require.NoError(t, f.d.Dispatch(context.Background(), status(domain.StateOnline, "s1", "Hello")))

	require.Len(t, fwd.deliveries, 1)
	got := fwd.deliveries[0]
	assert.Equal(t, "300", got.TargetGuildID)
	assert.Equal(t, "Hello", got.Fields.Title)
	assert.Equal(t, domain.StateOnline, got.Status.State)

	sends, _ := f.messenger.counts()
	assert.Equal(t, 1, sends, "local guild only; the user is delivered locally too")
	assert.Equal(t, 2, f.records.len())
}

func TestDispatch_PersistsRename(t *testing.T) {
	f := newDispatchFixture(t, guildSub("100"))
	st := status(domain.StateOnline, "s1", "Hello")
	st.Payload = testPayload{id: "s1", title: "Hello", name: "Renamed"}

	require.NoError(t, f.d.Dispatch(context.Background(), st))

	assert.Equal(t, []string{"Renamed"}, f.subs.renames)
	subs, _ := f.subs.ListByStreamer(context.Background(), "twitch", "42")
	assert.Equal(t, "Renamed", subs[0].DisplayName)
}

func TestDispatcher_RunHandlesEventsAndDeliveries(t *testing.T) {
	f := newDispatchFixture(t, guildSub("100"))
	events := make(chan domain.StreamStatus)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.d.Run(ctx, events)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	events <- status(domain.StateOnline, "s1", "Hello")

	err := f.d.Deliver(ctx, domain.Delivery{
		TargetGuildID: "100",
		Subscription:  guildSub("100"),
		Status:        domain.StreamStatus{Platform: "twitch", ExternalID: "42", State: domain.StateUpdated, StreamID: "s1"},
		Fields:        domain.RenderableFields{Title: "Pre-rendered"},
	})
	require.NoError(t, err)

	sends, edits := f.messenger.counts()
	assert.Equal(t, 1, sends)
	assert.Equal(t, 1, edits)
	assert.Equal(t, "Pre-rendered", f.messenger.edits[0].msg.Fields.Title)
}

func TestDispatcher_DeliverFailsOnCancelledContext(t *testing.T) {
	f := newDispatchFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.d.Deliver(ctx, domain.Delivery{Subscription: guildSub("100")})

	assert.ErrorIs(t, err, context.Canceled)
}

// Any event sequence leaves at most one record per key, and no live
// message is ever replaced by a second one.
func TestDispatch_AtMostOneRecordPerKey(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 42))
	states := []domain.StreamState{domain.StateOnline, domain.StateUpdated, domain.StateOffline}

	for run := range 20 {
		f := newDispatchFixture(t, guildSub("100"), userSub("u7"))
		ctx := context.Background()

		for step := range 30 {
			state := states[rng.IntN(len(states))]
			if rng.IntN(5) == 0 {
				f.messenger.mu.Lock()
				f.messenger.gone[f.messenger.lastID()] = true
				f.messenger.mu.Unlock()
			}
			_ = f.d.Dispatch(ctx, status(state, "s"+string(rune('a'+rng.IntN(3))), "t"))

			require.LessOrEqual(t, f.records.len(), 2, "run %d step %d", run, step)
			require.Zero(t, f.records.overwrites, "run %d step %d", run, step)
		}
	}
}
