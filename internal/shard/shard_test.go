package shard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForGuild(t *testing.T) {
	tests := []struct {
		guild string
		count int
		want  int
	}{
		{"41771983423143937", 1, 0},
		{"41771983423143937", 2, 0}, // 41771983423143937 >> 22 == 9959216934
		{"41771983423143937", 4, 2},
		{"0", 8, 0},
	}

	for _, tt := range tests {
		got, err := ForGuild(tt.guild, tt.count)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "guild %s over %d shards", tt.guild, tt.count)
	}
}

func TestForGuild_Invalid(t *testing.T) {
	_, err := ForGuild("not-a-snowflake", 2)
	assert.Error(t, err)
}

func TestStreamFor(t *testing.T) {
	assert.Equal(t, "streams:shard:3", StreamFor(3))
}
