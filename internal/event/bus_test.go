package event

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	if testing.Short() {
		t.Skip("bus tests need the redis container (run without -short)")
	}
	ctx := context.Background()
	url, cleanup, err := startRedis(ctx)
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(cleanup)

	bus, err := NewBus(url, zap.NewNop())
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	return bus
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := bus.Subscribe(ctx)
	// Give the XRead loop a moment to register before publishing; the
	// subscription only sees events newer than its start position.
	time.Sleep(200 * time.Millisecond)

	ev := &Event{
		OwnerID: "owner-1",
		Kind:    KindSkillPublished,
		Payload: json.RawMessage(`{"skill_id":"sk-1"}`),
	}
	if err := bus.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ev.ID == "" {
		t.Error("publish did not assign an event id")
	}
	if ev.Timestamp.IsZero() {
		t.Error("publish did not assign a timestamp")
	}

	select {
	case got := <-ch:
		if got.ID != ev.ID || got.Kind != KindSkillPublished || got.OwnerID != "owner-1" {
			t.Errorf("received %+v, want published event", got)
		}
		if string(got.Payload) != `{"skill_id":"sk-1"}` {
			t.Errorf("payload = %s", got.Payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event never arrived")
	}
}

func TestPublishOrdering(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := bus.Subscribe(ctx)
	time.Sleep(200 * time.Millisecond)

	const n = 5
	for i := 0; i < n; i++ {
		ev := &Event{
			OwnerID: "owner-1",
			Kind:    KindSkillUpdated,
			Payload: json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)),
		}
		if err := bus.Publish(ctx, ev); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		select {
		case got := <-ch:
			want := fmt.Sprintf(`{"seq":%d}`, i)
			if string(got.Payload) != want {
				t.Fatalf("event %d payload = %s, want %s", i, got.Payload, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("event %d never arrived", i)
		}
	}
}

func TestSubscribeStopsOnCancel(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch := bus.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("received event after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
