package shard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/streamnotify/internal/domain"
)

func samplePush() Push {
	return Push{
		TargetGuildID: "100",
		Subscription: domain.Subscription{
			Platform: "twitch", ExternalID: "42", Scope: domain.ScopeGuild, SubscriberID: "100", DisplayName: "Streamer",
		},
		Status: domain.StreamStatus{
			Platform: "twitch", ExternalID: "42", State: domain.StateUpdated, StreamID: "s2", PreviousStreamID: "s1",
		},
		Fields: domain.RenderableFields{
			Title: "Speedrun", DisplayName: "Streamer", URL: "https://twitch.tv/streamer",
			StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}
}

func TestEncodeDecode_Push(t *testing.T) {
	data, err := Encode(samplePush(), "c0ffee00")
	require.NoError(t, err)

	msg, cid, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "c0ffee00", cid)

	push, ok := msg.(Push)
	require.True(t, ok)
	assert.Equal(t, samplePush(), push)
	assert.Equal(t, "100", push.Delivery().TargetGuildID)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"not json", `{`, ErrInvalidMessage},
		{"unknown type", `{"type":"streams:evict","payload":{}}`, ErrUnknownType},
		{"missing payload", `{"type":"streams:free"}`, ErrInvalidMessage},
		{"free without id", `{"type":"streams:free","payload":{"platform":"twitch"}}`, ErrInvalidMessage},
		{"track without platform", `{"type":"streams:track","payload":{"externalId":"1"}}`, ErrInvalidMessage},
		{"push bad state", `{"type":"streams:push","payload":{"targetGuildId":"1","subscription":{"subscriberScope":"guild","subscriberId":"1"},"status":{"platform":"twitch","externalId":"2","state":"paused"}}}`, ErrInvalidMessage},
		{"push user scope", `{"type":"streams:push","payload":{"targetGuildId":"1","subscription":{"subscriberScope":"user","subscriberId":"1"},"status":{"platform":"twitch","externalId":"2","state":"online"}}}`, ErrInvalidMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode([]byte(tt.data))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEncode_ValidatesBeforeSending(t *testing.T) {
	_, err := Encode(Free{Platform: "twitch"}, "")
	assert.ErrorIs(t, err, ErrInvalidMessage)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEncodeDecode_FreeAndTrack(t *testing.T) {
	for _, m := range []Message{
		Free{Platform: "mixer", ExternalID: "9"},
		Track{Platform: "youtube", ExternalID: "UC123", DisplayName: "Chan"},
	} {
		data, err := Encode(m, "")
		require.NoError(t, err)

		got, _, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}
