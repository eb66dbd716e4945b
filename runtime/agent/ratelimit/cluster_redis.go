package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCommander is the subset of *redis.Client redisClusterMap depends on,
// declared as an interface so tests can substitute a fake without a live
// Redis server.
type redisCommander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// redisClusterMap is the Redis-backed clusterMap: a provider's capacity
// seed lives at a plain string key with no expiration, and a peer that
// changes it publishes to a companion pub/sub channel so every other
// process's ClusterSync.Join goroutine re-reads the key. This is the
// deployment path for clusters that standardize shared runtime state on
// Redis rather than running a Pulse rendezvous; the two clusterMap backings
// are interchangeable from ClusterSync's point of view.
type redisClusterMap struct {
	rdb     redisCommander
	channel string
}

// NewRedisClusterMap adapts a *redis.Client to clusterMap, publishing
// change notifications on the given pub/sub channel (callers typically pass
// one channel per deployment, since a notification only tells subscribers
// to re-Get the key that changed rather than carrying the new value itself).
func NewRedisClusterMap(rdb *redis.Client, channel string) clusterMap {
	return &redisClusterMap{rdb: rdb, channel: channel}
}

func (r *redisClusterMap) Get(key string) (string, bool) {
	v, err := r.rdb.Get(context.Background(), key).Result()
	if errors.Is(err, redis.Nil) || err != nil {
		return "", false
	}
	return v, true
}

func (r *redisClusterMap) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return false, err
	}
	if ok {
		r.rdb.Publish(ctx, r.channel, key)
	}
	return ok, nil
}

func (r *redisClusterMap) Subscribe() <-chan struct{} {
	out := make(chan struct{})
	sub := r.rdb.Subscribe(context.Background(), r.channel)
	go func() {
		defer close(out)
		for range sub.Channel() {
			out <- struct{}{}
		}
	}()
	return out
}
