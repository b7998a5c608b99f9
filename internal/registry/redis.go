package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection parameters for the Redis registry.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Redis is an ActiveBotRegistry shared by every engine instance pointing at
// the same Redis. Entries live in the hash Key, last-check times in Key+":lastcheck".
type Redis struct {
	rdb *redis.Client
	key string
}

var _ ActiveBotRegistry = (*Redis)(nil)

// NewRedis connects to Redis and verifies the connection with a ping.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Redis{rdb: rdb, key: cfg.Key}, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) lastCheckKey() string {
	return r.key + ":lastcheck"
}

func (r *Redis) Register(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis: encode entry %s: %w", entry.BotID, err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, r.key, entry.BotID, payload)
	if entry.LastCheck.IsZero() {
		pipe.HDel(ctx, r.lastCheckKey(), entry.BotID)
	} else {
		pipe.HSet(ctx, r.lastCheckKey(), entry.BotID, strconv.FormatInt(entry.LastCheck.UnixNano(), 10))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: register %s: %w", entry.BotID, err)
	}
	return nil
}

func (r *Redis) Deregister(ctx context.Context, botID string) error {
	pipe := r.rdb.TxPipeline()
	pipe.HDel(ctx, r.key, botID)
	pipe.HDel(ctx, r.lastCheckKey(), botID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: deregister %s: %w", botID, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, botID string) (Entry, bool, error) {
	raw, err := r.rdb.HGet(ctx, r.key, botID).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis: get %s: %w", botID, err)
	}

	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Entry{}, false, fmt.Errorf("redis: decode entry %s: %w", botID, err)
	}

	ts, err := r.rdb.HGet(ctx, r.lastCheckKey(), botID).Result()
	if err == nil {
		if nanos, perr := strconv.ParseInt(ts, 10, 64); perr == nil {
			e.LastCheck = time.Unix(0, nanos)
		}
	} else if !errors.Is(err, redis.Nil) {
		return Entry{}, false, fmt.Errorf("redis: get last check %s: %w", botID, err)
	}
	return e, true, nil
}

// touchScript sets the last-check time only while the entry exists, so a
// concurrent Deregister never leaves an orphaned last-check field.
var touchScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 1 then
	redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
	return 1
end
return 0
`)

// Touch records the time of the last evaluation. Unknown bots are ignored.
func (r *Redis) Touch(ctx context.Context, botID string, at time.Time) error {
	keys := []string{r.key, r.lastCheckKey()}
	if err := touchScript.Run(ctx, r.rdb, keys, botID, strconv.FormatInt(at.UnixNano(), 10)).Err(); err != nil {
		return fmt.Errorf("redis: touch %s: %w", botID, err)
	}
	return nil
}

// List returns all entries ordered by bot id.
func (r *Redis) List(ctx context.Context) ([]Entry, error) {
	all, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list: %w", err)
	}
	checks, err := r.rdb.HGetAll(ctx, r.lastCheckKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list last checks: %w", err)
	}

	out := make([]Entry, 0, len(all))
	for id, raw := range all {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("redis: decode entry %s: %w", id, err)
		}
		if nanos, perr := strconv.ParseInt(checks[id], 10, 64); perr == nil {
			e.LastCheck = time.Unix(0, nanos)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BotID < out[j].BotID })
	return out, nil
}
