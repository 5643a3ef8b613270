package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a crashed holder can block others.
const DefaultTTL = 30 * time.Second

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
	redis.call("PUBLISH", KEYS[2], ARGV[1])
	return 1
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker implements Locker with SET NX PX plus a renewal watchdog.
// Waiters block on a release notification instead of polling.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisLocker constructs a RedisLocker. A non-positive ttl uses DefaultTTL.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: client, ttl: ttl, logger: logger}
}

func releasedChannel(name string) string {
	return name + ":released"
}

// Acquire blocks until name is held by this caller or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, name string) (Handle, error) {
	token := uuid.NewString()
	var sub *redis.PubSub
	defer func() {
		if sub != nil {
			_ = sub.Close()
		}
	}()

	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("acquire %s: %w", name, err)
		}
		if ok {
			return l.newHandle(name, token), nil
		}

		if sub == nil {
			sub = l.client.Subscribe(ctx, releasedChannel(name))
			if _, err := sub.Receive(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, fmt.Errorf("subscribe %s: %w", name, err)
			}
			// A release may have landed before the subscription; retry first.
			continue
		}

		wait := l.ttl
		if pttl, err := l.client.PTTL(ctx, name).Result(); err == nil && pttl > 0 && pttl < wait {
			wait = pttl
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-sub.Channel():
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (l *RedisLocker) newHandle(name, token string) *redisHandle {
	h := &redisHandle{
		locker: l,
		name:   name,
		token:  token,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.watchdog()
	return h
}

type redisHandle struct {
	locker *RedisLocker
	name   string
	token  string
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (h *redisHandle) watchdog() {
	defer close(h.done)
	ticker := time.NewTicker(h.locker.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), h.locker.ttl/3)
			held, err := extendScript.Run(ctx, h.locker.client, []string{h.name}, h.token, h.locker.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				h.locker.logger.Warn("lock renewal failed", "lock", h.name, "error", err)
				continue
			}
			if held == 0 {
				h.locker.logger.Error("lock lost before release", "lock", h.name)
				return
			}
		}
	}
}

// Release deletes the key only while this handle still owns it, then wakes
// waiters. Cancellation of ctx does not abort the release.
func (h *redisHandle) Release(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		close(h.stop)
		<-h.done
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		err = releaseScript.Run(ctx, h.locker.client, []string{h.name, releasedChannel(h.name)}, h.token).Err()
		if errors.Is(err, redis.Nil) {
			err = nil
		}
		if err != nil {
			err = fmt.Errorf("release %s: %w", h.name, err)
		}
	})
	return err
}
