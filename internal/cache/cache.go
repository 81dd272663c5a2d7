/*
Copyright (C) 2026 Sound Commons

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based read-side cache for the active
// broadcast program. The engine resolves schedules once per second across
// every connected client surface, so the hot path should not hit Postgres.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/soundcommons/etherwave/internal/models"
)

const (
	keyActiveProgram = "etherwave:cache:active_program"
	keyNoActive      = "etherwave:cache:no_active_program"

	activeProgramTTL = 30 * time.Second
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// DisableOnError trips a circuit breaker on Redis failures so a broken
	// Redis degrades to plain database reads instead of per-request timeouts.
	DisableOnError bool
}

// Cache provides Redis-backed caching with graceful fallback. A nil *Cache is
// valid and behaves as a permanent miss.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool
}

// New creates a cache instance and verifies connectivity.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close releases the Redis connection pool.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

// GetActiveProgram returns the cached active program with entries, a cached
// "no active program" marker (nil program, ok=true), or a miss.
func (c *Cache) GetActiveProgram(ctx context.Context) (*models.BroadcastProgram, bool) {
	if c == nil || c.isDisabled() {
		return nil, false
	}

	if marker, err := c.client.Get(ctx, keyNoActive).Result(); err == nil && marker == "1" {
		return nil, true
	}

	raw, err := c.client.Get(ctx, keyActiveProgram).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.fail(err)
		return nil, false
	}

	var program models.BroadcastProgram
	if err := json.Unmarshal(raw, &program); err != nil {
		c.logger.Debug().Err(err).Msg("corrupt cached program, dropping")
		_ = c.client.Del(ctx, keyActiveProgram).Err()
		return nil, false
	}
	return &program, true
}

// SetActiveProgram caches the active program, or the absence of one when
// program is nil.
func (c *Cache) SetActiveProgram(ctx context.Context, program *models.BroadcastProgram) error {
	if c == nil || c.isDisabled() {
		return nil
	}

	if program == nil {
		if err := c.client.Set(ctx, keyNoActive, "1", activeProgramTTL).Err(); err != nil {
			c.fail(err)
			return err
		}
		return c.client.Del(ctx, keyActiveProgram).Err()
	}

	raw, err := json.Marshal(program)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, keyActiveProgram, raw, activeProgramTTL).Err(); err != nil {
		c.fail(err)
		return err
	}
	return c.client.Del(ctx, keyNoActive).Err()
}

// InvalidateActiveProgram drops the cached program after any mutation that
// can affect the schedule.
func (c *Cache) InvalidateActiveProgram(ctx context.Context) {
	if c == nil || c.isDisabled() {
		return
	}
	if err := c.client.Del(ctx, keyActiveProgram, keyNoActive).Err(); err != nil {
		c.fail(err)
	}
}

func (c *Cache) isDisabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disabled
}

func (c *Cache) fail(err error) {
	c.logger.Debug().Err(err).Msg("redis operation failed")
	if !c.config.DisableOnError {
		return
	}
	c.mu.Lock()
	if !c.disabled {
		c.disabled = true
		c.logger.Warn().Msg("cache disabled after redis error, falling back to database reads")
	}
	c.mu.Unlock()
}
