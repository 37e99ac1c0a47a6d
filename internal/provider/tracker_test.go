package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/streamnotify/internal/domain"
)

func TestTracker_AddTwice(t *testing.T) {
	tr := NewTracker()
	ref := domain.StreamerRef{Platform: "twitch", ExternalID: "42", DisplayName: "Streamer"}

	require.NoError(t, tr.Add(ref))
	err := tr.Add(ref)

	assert.ErrorIs(t, err, domain.ErrAlreadyTracked)
	assert.Equal(t, 1, tr.Len())
}

func TestTracker_RemoveTwice(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.Add(domain.StreamerRef{Platform: "twitch", ExternalID: "42"}))

	assert.NoError(t, tr.Remove("42"))
	assert.ErrorIs(t, tr.Remove("42"), domain.ErrNotTracked)
	assert.False(t, tr.Has("42"))
}

func TestTracker_IDsSorted(t *testing.T) {
	tr := NewTracker()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, tr.Add(domain.StreamerRef{Platform: "mixer", ExternalID: id}))
	}

	assert.Equal(t, []string{"a", "b", "c"}, tr.IDs())
}

func TestTracker_Rename(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.Add(domain.StreamerRef{Platform: "twitch", ExternalID: "42", DisplayName: "old"}))

	tr.Rename("42", "new")
	tr.Rename("missing", "ignored")

	ref, ok := tr.Get("42")
	require.True(t, ok)
	assert.Equal(t, "new", ref.DisplayName)
	assert.False(t, tr.Has("missing"))
}
