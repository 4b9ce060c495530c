package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNewRedisTokenBucketValidates(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	if _, err := NewRedisTokenBucket(nil, 1, time.Second, ""); err == nil {
		t.Fatal("expected error without client")
	}
	if _, err := NewRedisTokenBucket(client, 0, time.Second, ""); err == nil {
		t.Fatal("expected error for zero capacity")
	}
	if _, err := NewRedisTokenBucket(client, 1, 0, ""); err == nil {
		t.Fatal("expected error for zero window")
	}

	bucket, err := NewRedisTokenBucket(client, 10, time.Second, "")
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}
	if bucket.keyPrefix != "resized:ratelimit" {
		t.Fatalf("expected default prefix, got %q", bucket.keyPrefix)
	}
	if bucket.refillPerMS != 0.01 {
		t.Fatalf("expected 0.01 tokens per ms, got %v", bucket.refillPerMS)
	}
}

func TestAllowRejectsCostAboveCapacity(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	bucket, err := NewRedisTokenBucket(client, 3, time.Second, "test")
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}
	if _, err := bucket.Allow(context.Background(), "client", 4); !errors.Is(err, ErrCostTooHigh) {
		t.Fatalf("expected ErrCostTooHigh, got %v", err)
	}
}

func TestToInt64(t *testing.T) {
	for _, in := range []any{int64(7), 7, float64(7), "7"} {
		got, err := toInt64(in)
		if err != nil || got != 7 {
			t.Fatalf("expected 7 from %T, got %d (%v)", in, got, err)
		}
	}
	if _, err := toInt64([]byte("7")); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}
