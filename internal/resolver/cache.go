package resolver

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tourneyaudit-server-go/internal/audit"
)

// redisClient is the subset of go-redis used by the cache.
type redisClient interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

const userKeyPrefix = "audit:user:"

// CachedUsers is a read-through Redis cache in front of a UserLookup.
// Cache failures fall back to the lookup.
type CachedUsers struct {
	client redisClient
	next   UserLookup
	ttl    time.Duration
	log    *zap.SugaredLogger
}

func NewCachedUsers(client redisClient, next UserLookup, ttl time.Duration, log *zap.SugaredLogger) *CachedUsers {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &CachedUsers{client: client, next: next, ttl: ttl, log: log}
}

func userKey(id int64) string {
	return userKeyPrefix + strconv.FormatInt(id, 10)
}

func (c *CachedUsers) UsersByID(ctx context.Context, ids []int64) (map[int64]audit.UserRef, error) {
	if len(ids) == 0 {
		return map[int64]audit.UserRef{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = userKey(id)
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.Warnw("user cache read failed", "error", err)
		return c.next.UsersByID(ctx, ids)
	}

	out := make(map[int64]audit.UserRef, len(ids))
	var missing []int64
	for i, id := range ids {
		var s string
		if i < len(vals) {
			s, _ = vals[i].(string)
		}
		var u audit.UserRef
		if s == "" || json.Unmarshal([]byte(s), &u) != nil {
			missing = append(missing, id)
			continue
		}
		out[id] = u
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.next.UsersByID(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, u := range fetched {
		out[id] = u
		b, err := json.Marshal(u)
		if err != nil {
			continue
		}
		if err := c.client.Set(ctx, userKey(id), b, c.ttl).Err(); err != nil {
			c.log.Debugw("user cache write failed", "user_id", id, "error", err)
		}
	}
	return out, nil
}
