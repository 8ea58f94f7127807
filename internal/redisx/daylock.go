package redisx

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockRetryInterval = 25 * time.Millisecond

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var ErrLockLost = errors.New("day lock expired before release")

// DayLock serialises ticket creation for a day across replicas. The TTL
// bounds how long a crashed holder blocks the day.
type DayLock struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDayLock(rdb *redis.Client, ttl time.Duration) *DayLock {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &DayLock{rdb: rdb, ttl: ttl}
}

// Lock blocks until the day is acquired or ctx is done.
func (l *DayLock) Lock(ctx context.Context, dayKey string) (func(), error) {
	key := KeyDayLock(dayKey)
	token := uuid.NewString()

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := l.release(ctx, key, token); err != nil {
				log.Printf("day lock release error key=%s: %v", key, err)
			}
		})
	}, nil
}

func (l *DayLock) release(ctx context.Context, key, token string) error {
	deleted, err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Int64()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrLockLost
	}
	return nil
}
