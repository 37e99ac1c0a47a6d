// Package redis carries cross-process coordination: the shard bridge over
// Redis Streams, settings cache invalidation over pub/sub, the sweeper
// leader lock and the shard registry. Every command passes through a
// circuit breaker and a metrics hook.
package redis
