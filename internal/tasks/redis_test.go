package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testTTL = time.Hour

func newRedisBackend(t *testing.T) backend {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return backend{
		repo:   NewRedisRepository(client, testTTL),
		expire: func() { mr.FastForward(testTTL + time.Second) },
	}
}

func TestRedisRepository(t *testing.T) {
	runRepositoryTests(t, newRedisBackend)
}

func TestRedisRepository_CreateSetsTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	repo := NewRedisRepository(client, testTTL)
	mustCreate(t, repo, "t1")

	if ttl := mr.TTL("tasks:t1"); ttl != testTTL {
		t.Errorf("TTL = %v, want %v", ttl, testTTL)
	}

	mr.FastForward(30 * time.Minute)
	if err := repo.Update(context.Background(), "t1", ProgressUpdate(10)); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if ttl := mr.TTL("tasks:t1"); ttl != 30*time.Minute {
		t.Errorf("TTL after update = %v, want 30m (updates do not refresh)", ttl)
	}
}

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := ConnectRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("ConnectRedis() error = %v", err)
	}
	client.Close()

	if _, err := ConnectRedis(context.Background(), "not a url"); err == nil {
		t.Error("ConnectRedis() should reject a malformed url")
	}
}
