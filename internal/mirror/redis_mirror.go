package mirror

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"catatkas/backend/internal/domain"
)

type RedisMirror struct {
	client *redis.Client
}

func NewRedisMirror(addr string, password string, db int) *RedisMirror {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisMirror{client: client}
}

func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}

func key(owner string, set string) string {
	return fmt.Sprintf("catatkas:%s:%s", owner, set)
}

func channel(owner string) string {
	return fmt.Sprintf("catatkas:%s:events", owner)
}

func (m *RedisMirror) SaveSnapshot(ctx context.Context, owner string, snap *domain.BookSnapshot, metrics domain.MetricsSnapshot) error {
	if snap == nil {
		return nil
	}

	sets := []struct {
		name  string
		value any
	}{
		{domain.SetSales, snap.Sales},
		{domain.SetServices, snap.Services},
		{domain.SetExpenses, snap.Expenses},
		{domain.SetCollections, snap.Collections},
		{domain.SetWithdrawals, snap.Withdrawals},
		{domain.SetOffsets, snap.Offsets},
		{domain.SetMetrics, metrics},
	}

	pipe := m.client.Pipeline()
	for _, set := range sets {
		payload, err := json.Marshal(set.value)
		if err != nil {
			return err
		}
		pipe.Set(ctx, key(owner, set.name), payload, 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Subscribe blocks consuming replacement events until ctx is cancelled.
// Malformed messages are skipped; the subscription survives them.
func (m *RedisMirror) Subscribe(ctx context.Context, owner string, handler func(Event)) error {
	sub := m.client.Subscribe(ctx, channel(owner))
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			if event.Set == "" {
				continue
			}
			handler(event)
		}
	}
}

// PublishEvent pushes a replacement event to other subscribers of the same
// book. Used by tooling and tests; the backend itself only consumes.
func (m *RedisMirror) PublishEvent(ctx context.Context, owner string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return m.client.Publish(ctx, channel(owner), payload).Err()
}
