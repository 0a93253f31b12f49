package bus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petal-labs/signalflow/runtime"
)

// DefaultRedisKeyPrefix namespaces the keys written by RedisEventStore.
const DefaultRedisKeyPrefix = "signalflow:"

// RedisStoreConfig configures the Redis event store.
type RedisStoreConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string

	Password string
	DB       int

	// KeyPrefix namespaces all keys (default DefaultRedisKeyPrefix).
	KeyPrefix string

	// TTL expires a run's events this long after its last append
	// (0 = keep forever).
	TTL time.Duration
}

// RedisEventStore keeps each run's events in a sorted set scored by Seq and
// indexes run ids in a second sorted set scored by last update time. Several
// processes can share one store.
type RedisEventStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	owned  bool
}

// NewRedisEventStore connects to Redis and verifies the connection.
func NewRedisEventStore(ctx context.Context, cfg RedisStoreConfig) (*RedisEventStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstore: connect %s: %w", cfg.Addr, err)
	}
	s := NewRedisEventStoreFromClient(client, cfg)
	s.owned = true
	return s, nil
}

// NewRedisEventStoreFromClient wraps an existing client. Close leaves the
// client open.
func NewRedisEventStoreFromClient(client *redis.Client, cfg RedisStoreConfig) *RedisEventStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisEventStore{client: client, prefix: prefix, ttl: cfg.TTL}
}

func (s *RedisEventStore) eventsKey(runID string) string {
	return s.prefix + "events:" + runID
}

func (s *RedisEventStore) runsKey() string {
	return s.prefix + "runs"
}

// Append stores an event.
func (s *RedisEventStore) Append(ctx context.Context, event runtime.Event) error {
	data, err := MarshalEvent(event)
	if err != nil {
		return err
	}
	key := s.eventsKey(event.RunID)

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(event.Seq), Member: data})
	pipe.ZAdd(ctx, s.runsKey(), redis.Z{Score: float64(event.Time.UnixNano()), Member: event.RunID})
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: append: %w", err)
	}
	return nil
}

// List returns the events of a run ordered by Seq.
func (s *RedisEventStore) List(ctx context.Context, runID string, opts ListOptions) ([]runtime.Event, error) {
	rng := &redis.ZRangeBy{
		Min: "(" + strconv.FormatUint(opts.AfterSeq, 10),
		Max: "+inf",
	}
	if opts.Limit > 0 && len(opts.Kinds) == 0 {
		rng.Count = int64(opts.Limit)
	}
	members, err := s.client.ZRangeByScore(ctx, s.eventsKey(runID), rng).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list: %w", err)
	}
	events, err := decodeMembers(members)
	if err != nil {
		return nil, err
	}
	return filterEvents(events, ListOptions{Limit: opts.Limit, Kinds: opts.Kinds}), nil
}

// LatestSeq returns the highest Seq for a run (0 if no events).
func (s *RedisEventStore) LatestSeq(ctx context.Context, runID string) (uint64, error) {
	top, err := s.client.ZRevRangeWithScores(ctx, s.eventsKey(runID), 0, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("redisstore: latest seq: %w", err)
	}
	if len(top) == 0 {
		return 0, nil
	}
	return uint64(top[0].Score), nil
}

// Runs summarizes every stored run. Index entries whose events have expired
// are removed.
func (s *RedisEventStore) Runs(ctx context.Context) ([]RunSummary, error) {
	ids, err := s.client.ZRevRange(ctx, s.runsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: runs: %w", err)
	}
	runs := make([]RunSummary, 0, len(ids))
	for _, id := range ids {
		members, err := s.client.ZRange(ctx, s.eventsKey(id), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("redisstore: runs %s: %w", id, err)
		}
		if len(members) == 0 {
			s.client.ZRem(ctx, s.runsKey(), id)
			continue
		}
		events, err := decodeMembers(members)
		if err != nil {
			return nil, err
		}
		runs = append(runs, summarize(id, events))
	}
	sortRuns(runs)
	return runs, nil
}

// Delete removes all events of a run.
func (s *RedisEventStore) Delete(ctx context.Context, runID string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.eventsKey(runID))
	pipe.ZRem(ctx, s.runsKey(), runID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: delete: %w", err)
	}
	if del.Val() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Ping checks the connection.
func (s *RedisEventStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client if the store created it.
func (s *RedisEventStore) Close() error {
	if !s.owned {
		return nil
	}
	if err := s.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

func decodeMembers(members []string) ([]runtime.Event, error) {
	events := make([]runtime.Event, 0, len(members))
	for _, m := range members {
		e, err := UnmarshalEvent([]byte(m))
		if err != nil {
			return nil, fmt.Errorf("redisstore: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}

var _ EventStore = (*RedisEventStore)(nil)
