package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mediafetch/internal/model"
)

const redisTimeout = 2 * time.Second

// Publisher mirrors job snapshots into Redis and announces every change on a
// pub/sub channel so other processes can follow the queue.
type Publisher struct {
	client  *redis.Client
	channel string
}

type removedPayload struct {
	ID      string `json:"id"`
	Removed bool   `json:"removed"`
}

// NewRedisPublisher connects to addr and verifies the connection with PING.
func NewRedisPublisher(ctx context.Context, addr, channel string) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &Publisher{client: client, channel: channel}, nil
}

func jobKey(id string) string {
	return "job:" + id
}

func (p *Publisher) SaveJob(job model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	pipe := p.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, 0)
	pipe.Publish(ctx, p.channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish job %s: %w", job.ID, err)
	}
	return nil
}

func (p *Publisher) DeleteJob(id string) error {
	data, err := json.Marshal(removedPayload{ID: id, Removed: true})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	pipe := p.client.TxPipeline()
	pipe.Del(ctx, jobKey(id))
	pipe.Publish(ctx, p.channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish removal of %s: %w", id, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
