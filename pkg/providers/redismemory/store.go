// Package redismemory keeps cross-call summaries in Redis.
package redismemory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harunnryd/parley/pkg/adapters/memory"
)

type Config struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// New connects with cfg. The caller owns closing the returned store.
func New(cfg Config) *Store {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	return NewWithClient(client, cfg.KeyPrefix, cfg.TTL)
}

func NewWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "parley:summary:"
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (s *Store) key(customerID string) string { return s.prefix + customerID }

func (s *Store) Load(ctx context.Context, customerID string) (memory.Summary, bool, error) {
	raw, err := s.client.Get(ctx, s.key(customerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return memory.Summary{}, false, nil
	}
	if err != nil {
		return memory.Summary{}, false, fmt.Errorf("redismemory: load %s: %w", customerID, err)
	}
	var sum memory.Summary
	if err := json.Unmarshal(raw, &sum); err != nil {
		return memory.Summary{}, false, fmt.Errorf("redismemory: decode %s: %w", customerID, err)
	}
	return sum, true, nil
}

// Save overwrites the customer's summary and refreshes its expiry.
func (s *Store) Save(ctx context.Context, sum memory.Summary) error {
	if sum.CustomerID == "" {
		return errors.New("redismemory: summary has no customer id")
	}
	if sum.UpdatedAt.IsZero() {
		sum.UpdatedAt = time.Now()
	}
	raw, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(sum.CustomerID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redismemory: save %s: %w", sum.CustomerID, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *Store) Close() error { return s.client.Close() }

var _ memory.Store = (*Store)(nil)
