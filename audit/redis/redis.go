package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sweetpotato0/regulatory-rag/audit"
	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
)

// Config holds Redis configuration
type Config struct {
	Addr     string        // Redis server address (e.g., "localhost:6379")
	Password string        // Redis password (if any)
	DB       int           // Redis database number
	Prefix   string        // Key prefix for namespacing
	TTL      time.Duration // Time-to-live for records (0 means no expiration)
}

// Recorder stores each record as a JSON string and indexes run IDs in a
// sorted set scored by creation time.
type Recorder struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// New creates a Redis-backed recorder.
func New(cfg Config) *Recorder {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "regrag:audit:"
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Recorder{client: client, prefix: cfg.Prefix, ttl: cfg.TTL}
}

func (r *Recorder) recordKey(runID string) string { return r.prefix + "run:" + runID }
func (r *Recorder) indexKey() string             { return r.prefix + "index" }

// Record stores rec and adds it to the index.
func (r *Recorder) Record(ctx context.Context, rec *audit.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	stored := rec.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.recordKey(stored.RunID), data, r.ttl)
	pipe.ZAdd(ctx, r.indexKey(), goredis.Z{
		Score:  float64(stored.CreatedAt.UnixNano()),
		Member: stored.RunID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store audit record in Redis: %w", err)
	}
	return nil
}

// Get retrieves the record for runID.
func (r *Recorder) Get(ctx context.Context, runID string) (*audit.Record, error) {
	data, err := r.client.Get(ctx, r.recordKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("audit record %s: %w", runID, errorskg.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get audit record: %w", err)
	}
	var rec audit.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audit record: %w", err)
	}
	return &rec, nil
}

// List returns records newest first. Index entries whose record expired are
// pruned.
func (r *Recorder) List(ctx context.Context, limit int) ([]*audit.Record, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}

	out := make([]*audit.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, errorskg.ErrNotFound) {
				r.client.ZRem(ctx, r.indexKey(), id)
				continue
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Count returns the number of indexed records.
func (r *Recorder) Count(ctx context.Context) (int, error) {
	n, err := r.client.ZCard(ctx, r.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return int(n), nil
}

// Clear removes every record and the index.
func (r *Recorder) Clear(ctx context.Context) error {
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to get audit index: %w", err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, r.recordKey(id))
	}
	keys = append(keys, r.indexKey())
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete audit records: %w", err)
	}
	return nil
}

// Ping checks if Redis connection is alive
func (r *Recorder) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *Recorder) Close() error {
	return r.client.Close()
}
