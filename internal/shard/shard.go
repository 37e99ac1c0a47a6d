package shard

import (
	"fmt"
	"strconv"
)

const (
	LeadShard = 0

	LeadStream   = "streams:lead"
	shardStreamF = "streams:shard:%d"
)

// ForGuild returns the shard that holds the gateway connection for a guild,
// following Discord's (guild_id >> 22) % shard_count rule.
func ForGuild(guildID string, shardCount int) (int, error) {
	if shardCount <= 1 {
		return 0, nil
	}
	id, err := strconv.ParseUint(guildID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid guild id %q: %w", guildID, err)
	}
	return int((id >> 22) % uint64(shardCount)), nil
}

// StreamFor is the inbound stream of a shard.
func StreamFor(shardID int) string {
	return fmt.Sprintf(shardStreamF, shardID)
}
