package tcp

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisSessionStore publishes the coordinator's live session table to Redis so
// that other tools can see which peers are connected. Keys are namespaced by
// a per-process instance id, so several coordinators can share one Redis:
//
//	commlink:<instance>:sessions        set of client ids
//	commlink:<instance>:session:<id>    hash {id, address, connected_at}
type RedisSessionStore struct {
	client     *redis.Client
	instanceID string
	ttl        time.Duration
}

// constructor for RedisSessionStore
func NewRedisSessionStore(redisURL, password string, ttl time.Duration) (*RedisSessionStore, error) {
	opts, err := redisOptions(redisURL)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts.Password = password
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisSessionStoreFromClient(rdb, uuid.NewString(), ttl), nil
}

// NewRedisSessionStoreFromClient wraps an existing client.
func NewRedisSessionStoreFromClient(rdb *redis.Client, instanceID string, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{
		client:     rdb,
		instanceID: instanceID,
		ttl:        ttl,
	}
}

// redisOptions accepts either a redis:// URL or a bare host:port.
func redisOptions(redisURL string) (*redis.Options, error) {
	if strings.Contains(redisURL, "://") {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid Redis URL: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: redisURL}, nil
}

func (r *RedisSessionStore) InstanceID() string {
	if r == nil {
		return ""
	}
	return r.instanceID
}

func (r *RedisSessionStore) indexKey() string {
	return fmt.Sprintf("commlink:%s:sessions", r.instanceID)
}

func (r *RedisSessionStore) sessionKey(id int64) string {
	return fmt.Sprintf("commlink:%s:session:%d", r.instanceID, id)
}

// Register records a newly accepted session.
func (r *RedisSessionStore) Register(ctx context.Context, info SessionInfo) error {
	if r == nil || r.client == nil {
		// No-op when Redis is not configured
		return nil
	}
	key := r.sessionKey(info.ID)
	fields := map[string]any{
		"id":           info.ID,
		"address":      info.Address,
		"connected_at": info.ConnectedAt.Format(time.RFC3339Nano),
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, r.indexKey(), info.ID)
	if r.ttl > 0 {
		// a coordinator that dies without cleaning up leaves nothing behind for long
		pipe.Expire(ctx, key, r.ttl)
		pipe.Expire(ctx, r.indexKey(), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register session %d: %w", info.ID, err)
	}
	return nil
}

// Unregister forgets a session. Unknown ids are not an error.
func (r *RedisSessionStore) Unregister(ctx context.Context, id int64) error {
	if r == nil || r.client == nil {
		return nil
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.sessionKey(id))
	pipe.SRem(ctx, r.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to unregister session %d: %w", id, err)
	}
	return nil
}

// Refresh pushes the expiry of the given live sessions, and of the index,
// another TTL into the future. The coordinator calls it periodically so a
// long-lived peer does not vanish from the directory while still connected.
func (r *RedisSessionStore) Refresh(ctx context.Context, ids []int64) error {
	if r == nil || r.client == nil || r.ttl <= 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	for _, id := range ids {
		pipe.Expire(ctx, r.sessionKey(id), r.ttl)
	}
	pipe.Expire(ctx, r.indexKey(), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to refresh %d sessions: %w", len(ids), err)
	}
	return nil
}

// List reads back every session recorded for this instance, ordered by id.
// The coordinator itself never reads the directory; this is for operators
// and tools that inspect a running instance from outside.
func (r *RedisSessionStore) List(ctx context.Context) ([]SessionInfo, error) {
	if r == nil || r.client == nil {
		return nil, nil
	}
	members, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	infos := make([]SessionInfo, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		fields, err := r.client.HGetAll(ctx, r.sessionKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read session %d: %w", id, err)
		}
		if len(fields) == 0 {
			continue // expired between SMEMBERS and HGETALL
		}
		connectedAt, _ := time.Parse(time.RFC3339Nano, fields["connected_at"])
		infos = append(infos, SessionInfo{
			ID:          id,
			Address:     fields["address"],
			ConnectedAt: connectedAt,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

// Clear removes everything this instance wrote. Called on shutdown.
func (r *RedisSessionStore) Clear(ctx context.Context) error {
	if r == nil || r.client == nil {
		return nil
	}
	members, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to clear sessions: %w", err)
	}
	keys := make([]string, 0, len(members)+1)
	for _, member := range members {
		keys = append(keys, fmt.Sprintf("commlink:%s:session:%s", r.instanceID, member))
	}
	keys = append(keys, r.indexKey())
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisSessionStore) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
