package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"mediafetch/internal/model"
)

func TestJobKey(t *testing.T) {
	if got := jobKey("abc"); got != "job:abc" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestRedisPublisher_SaveAndDelete(t *testing.T) {
	addr := os.Getenv("MEDIAFETCH_TEST_REDIS")
	if addr == "" {
		t.Skip("MEDIAFETCH_TEST_REDIS not set")
	}
	ctx := context.Background()
	channel := "mediafetch-test-" + time.Now().Format("150405.000000")
	pub, err := NewRedisPublisher(ctx, addr, channel)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pub.Close()

	sub := redis.NewClient(&redis.Options{Addr: addr})
	defer sub.Close()
	ps := sub.Subscribe(ctx, channel)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	job := model.Job{ID: "redis-job", URL: "https://example.com", Status: model.StatusQueued}
	if err := pub.SaveJob(job); err != nil {
		t.Fatalf("save: %v", err)
	}
	msg, err := ps.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	var got model.Job
	if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil || got.ID != job.ID {
		t.Fatalf("unexpected payload %q (%v)", msg.Payload, err)
	}
	if v, err := sub.Get(ctx, jobKey(job.ID)).Result(); err != nil || v == "" {
		t.Fatalf("snapshot missing: %v", err)
	}

	if err := pub.DeleteJob(job.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	msg, err = ps.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive removal: %v", err)
	}
	var removed removedPayload
	if err := json.Unmarshal([]byte(msg.Payload), &removed); err != nil || !removed.Removed {
		t.Fatalf("unexpected removal payload %q", msg.Payload)
	}
	if n, _ := sub.Exists(ctx, jobKey(job.ID)).Result(); n != 0 {
		t.Fatalf("snapshot should be deleted")
	}
}
