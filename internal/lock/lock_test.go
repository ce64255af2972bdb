package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

func TestMemorySerializesSameKey(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, UserKey("a"))
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("expected 50 serialized increments, got %d", counter)
	}
	if l.Held() != 0 {
		t.Fatalf("expected no held keys, got %d", l.Held())
	}
}

func TestMemoryIndependentKeys(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, UserKey("a"))
	if err != nil {
		t.Fatalf("Lock a: %v", err)
	}
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := l.Lock(ctx, MessageKey("m1"))
		if err == nil {
			unlockB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another key should not block")
	}
}

func TestMemoryContextCancel(t *testing.T) {
	l := NewMemory()
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	unlock()
	unlock() // idempotent
	if l.Held() != 0 {
		t.Fatalf("expected cleanup after cancel, got %d held", l.Held())
	}
}

func TestRedisLock(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping redis lock test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	l := NewRedis(client, time.Second)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, UserKey("redis-test"))
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(short, UserKey("redis-test")); err == nil {
		t.Fatal("second Lock should block while held")
	}

	unlock()
	unlock2, err := l.Lock(ctx, UserKey("redis-test"))
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	unlock2()
}

func TestLockerUnlockTwiceIsSafe(t *testing.T) {
	var l Locker = NewMemory()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, MessageKey("m1"))
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	unlock()
	unlock()

	again, err := l.Lock(ctx, MessageKey("m1"))
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()
}
