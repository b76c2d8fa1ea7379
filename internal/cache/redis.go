package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ramsingla/acts-as-wiki/internal/revisions"
	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "wikirev"

var errMissingClient = errors.New("redis client is required")

func revisionKey(key revisions.Key, version int64) string {
	return keyPrefix + ":revision:" + key.String() + ":" + strconv.FormatInt(version, 10)
}

func ownerIndexKey(ownerType string, ownerID int64) string {
	return fmt.Sprintf("%s:owner:%s:%d", keyPrefix, ownerType, ownerID)
}

var _ revisions.Cache = (*RedisRevisionCache)(nil)

// RedisRevisionCache stores revisions as JSON under one key per version and
// indexes those keys in a set per owner so an owner can be purged at once.
type RedisRevisionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient connects to addr using protocol 2.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       0,
		Protocol: 2,
	})
}

// NewRedisRevisionCache wraps client. A non-positive ttl keeps entries until purged.
func NewRedisRevisionCache(client *redis.Client, ttl time.Duration) (*RedisRevisionCache, error) {
	if client == nil {
		return nil, errMissingClient
	}
	return &RedisRevisionCache{client: client, ttl: ttl}, nil
}

// Ping checks the connection.
func (r *RedisRevisionCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Get returns nil on a miss.
func (r *RedisRevisionCache) Get(ctx context.Context, key revisions.Key, version int64) (*revisions.Revision, error) {
	payload, err := r.client.Get(ctx, revisionKey(key, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	revision := &revisions.Revision{}
	if err := json.Unmarshal(payload, revision); err != nil {
		return nil, err
	}
	return revision, nil
}

// Put stores revision and records its key in the owner index.
func (r *RedisRevisionCache) Put(ctx context.Context, revision revisions.Revision) error {
	key := revision.Key()
	if key.OwnerID == nil {
		return nil
	}
	payload, err := json.Marshal(revision)
	if err != nil {
		return err
	}
	entryKey := revisionKey(key, revision.Version)
	indexKey := ownerIndexKey(key.OwnerType, *key.OwnerID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, entryKey, payload, r.ttl)
		pipe.SAdd(ctx, indexKey, entryKey)
		if r.ttl > 0 {
			pipe.Expire(ctx, indexKey, r.ttl)
		}
		return nil
	})
	return err
}

// PurgeOwner drops every cached revision of the owner.
func (r *RedisRevisionCache) PurgeOwner(ctx context.Context, ownerType string, ownerID int64) error {
	indexKey := ownerIndexKey(ownerType, ownerID)
	members, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(members) > 0 {
			pipe.Del(ctx, members...)
		}
		pipe.Del(ctx, indexKey)
		return nil
	})
	return err
}
