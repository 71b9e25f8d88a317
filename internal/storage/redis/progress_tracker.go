// Package redis provides a Redis-backed ProgressTracker so several API
// instances can share import progress.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/gestionale/internal/store"
)

const (
	defaultPrefix = "gestionale:import:"
	maxTxRetries  = 10
)

// ProgressTracker stores each session as a JSON document under prefix+sessionID.
// Read-modify-write operations run inside WATCH/MULTI transactions.
type ProgressTracker struct {
	client    backend.UniversalClient
	prefix    string
	retention time.Duration
	logger    *zap.Logger
}

// Option customizes a ProgressTracker.
type Option func(*ProgressTracker)

// WithPrefix sets the key prefix for sessions.
func WithPrefix(prefix string) Option {
	return func(t *ProgressTracker) {
		if prefix != "" {
			t.prefix = prefix
		}
	}
}

// WithRetention sets the TTL applied to a session when it completes.
// Zero keeps completed sessions until they are deleted.
func WithRetention(d time.Duration) Option {
	return func(t *ProgressTracker) {
		t.retention = d
	}
}

// WithLogger attaches a logger used for overwrite warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(t *ProgressTracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Config describes how to reach the Redis server.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config, opts ...Option) (*ProgressTracker, error) {
	client := backend.NewClient(&backend.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewFromClient(client, opts...), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client backend.UniversalClient, opts ...Option) *ProgressTracker {
	t := &ProgressTracker{
		client: client,
		prefix: defaultPrefix,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *ProgressTracker) key(sessionID string) string {
	return t.prefix + sessionID
}

// Create stores the session, overwriting any previous document.
func (t *ProgressTracker) Create(ctx context.Context, sessionID string, status store.ImportStatus) error {
	if err := status.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal import status: %w", err)
	}
	ttl := time.Duration(0)
	if status.Completed {
		ttl = t.retention
	}
	key := t.key(sessionID)
	var existed *backend.IntCmd
	_, err = t.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		existed = pipe.Exists(ctx, key)
		pipe.Set(ctx, key, data, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save import status: %w", err)
	}
	if existed.Val() > 0 {
		t.logger.Warn("overwriting existing import session", zap.String("session_id", sessionID))
	}
	return nil
}

// Update merges progress and step into a running session.
func (t *ProgressTracker) Update(ctx context.Context, sessionID string, update store.StatusUpdate) error {
	return t.mutate(ctx, sessionID, func(status *store.ImportStatus) (time.Duration, error) {
		if status.Completed {
			return 0, store.ErrSessionCompleted
		}
		update.Apply(status)
		return 0, nil
	})
}

// Complete finalizes the session and starts its retention TTL.
func (t *ProgressTracker) Complete(ctx context.Context, sessionID string, result store.ImportResult) error {
	return t.mutate(ctx, sessionID, func(status *store.ImportStatus) (time.Duration, error) {
		res := result.Clone()
		status.Completed = true
		status.Result = &res
		return t.retention, nil
	})
}

// Get loads the session.
func (t *ProgressTracker) Get(ctx context.Context, sessionID string) (store.ImportStatus, error) {
	raw, err := t.client.Get(ctx, t.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return store.ImportStatus{}, store.ErrNotFound
		}
		return store.ImportStatus{}, fmt.Errorf("get import status: %w", err)
	}
	return decode(raw)
}

// Delete removes the session.
func (t *ProgressTracker) Delete(ctx context.Context, sessionID string) error {
	n, err := t.client.Del(ctx, t.key(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("delete import status: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Close releases the underlying client.
func (t *ProgressTracker) Close() error {
	if err := t.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

// mutate applies fn to the stored status inside an optimistic transaction.
// fn returns the TTL to store the document with.
func (t *ProgressTracker) mutate(
	ctx context.Context,
	sessionID string,
	fn func(*store.ImportStatus) (time.Duration, error),
) error {
	key := t.key(sessionID)
	txf := func(tx *backend.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, backend.Nil) {
				return store.ErrNotFound
			}
			return fmt.Errorf("get import status: %w", err)
		}
		status, err := decode(raw)
		if err != nil {
			return err
		}
		ttl, err := fn(&status)
		if err != nil {
			return err
		}
		data, err := json.Marshal(status)
		if err != nil {
			return fmt.Errorf("marshal import status: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}

	for range maxTxRetries {
		err := t.client.Watch(ctx, txf, key)
		if errors.Is(err, backend.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update import status %s: too many concurrent writers", sessionID)
}

func decode(raw []byte) (store.ImportStatus, error) {
	var status store.ImportStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return store.ImportStatus{}, fmt.Errorf("unmarshal import status: %w", err)
	}
	return status, nil
}
