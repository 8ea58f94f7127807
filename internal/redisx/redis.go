// Package redisx holds the optional Redis wiring that lets several
// turno-service replicas share one queue: a mutation relay and a day lock.
package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const namespace = "turno:v1"

type Config struct {
	Addr     string
	Password string
	DB       int
}

func New(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func ChannelQueueMutations() string {
	return namespace + ":queue:mutations"
}

func KeyDayLock(dayKey string) string {
	return fmt.Sprintf("%s:locks:day:%s", namespace, dayKey)
}
