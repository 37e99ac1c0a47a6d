package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const (
	shardsKey = "shards"

	// A shard without a heartbeat for this long is considered gone.
	shardLiveness = 60 * time.Second
)

type ShardInfo struct {
	ShardID    int    `json:"shardId"`
	InstanceID string `json:"instanceId"`
	Version    string `json:"version"`
	Timestamp  int64  `json:"timestamp"`
}

// ShardRegistry heartbeats this shard into a shared hash so others can tell
// whether a forward target is up.
type ShardRegistry struct {
	rdb        *goredis.Client
	shardID    int
	instanceID string
	version    string
	heartbeat  time.Duration
	clock      clockwork.Clock
}

func NewShardRegistry(rdb *goredis.Client, shardID int, instanceID, version string, heartbeat time.Duration, clock clockwork.Clock) *ShardRegistry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ShardRegistry{
		rdb:        rdb,
		shardID:    shardID,
		instanceID: instanceID,
		version:    version,
		heartbeat:  heartbeat,
		clock:      clock,
	}
}

// Start registers immediately, heartbeats until ctx is cancelled and then
// unregisters.
func (r *ShardRegistry) Start(ctx context.Context) {
	r.register(ctx)

	ticker := r.clock.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			r.register(ctx)
		case <-ctx.Done():
			r.unregister()
			return
		}
	}
}

func (r *ShardRegistry) register(ctx context.Context) {
	data, err := json.Marshal(ShardInfo{
		ShardID:    r.shardID,
		InstanceID: r.instanceID,
		Version:    r.version,
		Timestamp:  r.clock.Now().Unix(),
	})
	if err != nil {
		return
	}
	if err := r.rdb.HSet(ctx, shardsKey, strconv.Itoa(r.shardID), data).Err(); err != nil {
		slog.Warn("Failed to send shard heartbeat", "shard_id", r.shardID, "error", err)
	}
}

func (r *ShardRegistry) unregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.rdb.HDel(ctx, shardsKey, strconv.Itoa(r.shardID))
}

// Active returns the shards with a recent heartbeat, ordered by shard id.
func (r *ShardRegistry) Active(ctx context.Context) ([]ShardInfo, error) {
	all, err := r.rdb.HGetAll(ctx, shardsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read shard registry: %w", err)
	}

	now := r.clock.Now().Unix()
	infos := []ShardInfo{}
	for _, data := range all {
		var info ShardInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			continue
		}
		if now-info.Timestamp < int64(shardLiveness.Seconds()) {
			infos = append(infos, info)
		}
	}
	slices.SortFunc(infos, func(a, b ShardInfo) int { return a.ShardID - b.ShardID })
	return infos, nil
}

func (r *ShardRegistry) IsLive(ctx context.Context, shardID int) (bool, error) {
	data, err := r.rdb.HGet(ctx, shardsKey, strconv.Itoa(shardID)).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read shard registry: %w", err)
	}

	var info ShardInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return false, nil
	}
	return r.clock.Now().Unix()-info.Timestamp < int64(shardLiveness.Seconds()), nil
}
