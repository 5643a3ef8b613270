package lock

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	redisClient *redis.Client
	redisSkip   string
)

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		redisSkip = "short mode"
		os.Exit(m.Run())
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Ready to accept connections"),
			wait.ForListeningPort("6379/tcp"),
		).WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		redisSkip = fmt.Sprintf("redis container unavailable: %v", err)
		os.Exit(m.Run())
	}

	host, err := container.Host(ctx)
	if err != nil {
		redisSkip = fmt.Sprintf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		redisSkip = fmt.Sprintf("container port: %v", err)
	}
	if redisSkip == "" {
		redisClient = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	}

	code := m.Run()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func requireRedis(t *testing.T) *RedisLocker {
	t.Helper()
	if redisSkip != "" {
		t.Skip(redisSkip)
	}
	if err := redisClient.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return NewRedisLocker(redisClient, 3*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRedisLockerSerializesHolders(t *testing.T) {
	locker := requireRedis(t)
	var (
		inside  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			h, err := locker.Acquire(ctx, "test:join:lock")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			if err := h.Release(context.Background()); err != nil {
				t.Errorf("release: %v", err)
			}
		}()
	}
	wg.Wait()
	if overlap.Load() {
		t.Fatal("two holders overlapped")
	}
}

func TestRedisLockerWatchdogOutlivesTTL(t *testing.T) {
	locker := requireRedis(t)
	h, err := locker.Acquire(context.Background(), "test:renew:lock")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer h.Release(context.Background())

	time.Sleep(4 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(ctx, "test:renew:lock"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected lock to still be held, got %v", err)
	}
}

func TestRedisLockerReleaseIgnoresForeignToken(t *testing.T) {
	locker := requireRedis(t)
	h, err := locker.Acquire(context.Background(), "test:owner:lock")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// Simulate expiry and takeover by another process.
	if err := redisClient.Set(context.Background(), "test:owner:lock", "someone-else", time.Minute).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := h.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	val, err := redisClient.Get(context.Background(), "test:owner:lock").Result()
	if err != nil || val != "someone-else" {
		t.Fatalf("expected foreign holder to keep the key, got %q %v", val, err)
	}
}

func TestRedisLockerWaiterWakesOnRelease(t *testing.T) {
	locker := requireRedis(t)
	h, err := locker.Acquire(context.Background(), "test:wake:lock")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	acquired := make(chan time.Duration, 1)
	go func() {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h2, err := locker.Acquire(ctx, "test:wake:lock")
		if err != nil {
			t.Errorf("second acquire: %v", err)
			acquired <- 0
			return
		}
		_ = h2.Release(context.Background())
		acquired <- time.Since(start)
	}()
	time.Sleep(100 * time.Millisecond)
	_ = h.Release(context.Background())

	waited := <-acquired
	if waited <= 0 || waited > 2*time.Second {
		t.Fatalf("expected prompt wake-up on release, waited %s", waited)
	}
}
