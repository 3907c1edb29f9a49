package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/vaultic/skillbridge/internal/delivery"
	"go.uber.org/zap"
)

type captureAdapter struct {
	platform string
	mu       sync.Mutex
	notices  []*Notice
	failWith error
}

func (c *captureAdapter) Platform() string { return c.platform }

func (c *captureAdapter) Connect(ctx context.Context) error { return c.failWith }

func (c *captureAdapter) Close() error { return nil }

func (c *captureAdapter) Notify(ctx context.Context, n *Notice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return c.failWith
	}
	c.notices = append(c.notices, n)
	return nil
}

func (c *captureAdapter) all() []*Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Notice(nil), c.notices...)
}

func TestNotifyFanOut(t *testing.T) {
	n := New(zap.NewNop())
	a := &captureAdapter{platform: "slack"}
	b := &captureAdapter{platform: "discord"}
	n.Register(a)
	n.Register(b)

	n.Notify(context.Background(), &Notice{Kind: "test", Title: "t", Body: "b"})

	if len(a.all()) != 1 || len(b.all()) != 1 {
		t.Fatalf("fan-out miss: slack=%d discord=%d, want 1 each", len(a.all()), len(b.all()))
	}
}

func TestNotifyBestEffort(t *testing.T) {
	n := New(zap.NewNop())
	broken := &captureAdapter{platform: "slack", failWith: errors.New("rate limited")}
	ok := &captureAdapter{platform: "discord"}
	n.Register(broken)
	n.Register(ok)

	n.Notify(context.Background(), &Notice{Kind: "test"})

	if len(ok.all()) != 1 {
		t.Fatal("healthy adapter skipped because another adapter failed")
	}
}

func TestSubscriptionSuspendedNotice(t *testing.T) {
	n := New(zap.NewNop())
	a := &captureAdapter{platform: "slack"}
	n.Register(a)

	n.SubscriptionSuspended(context.Background(), &delivery.Subscription{
		ID:       "sub-1",
		Endpoint: "https://hooks.example.com/x",
	}, 5)

	notices := a.all()
	if len(notices) != 1 {
		t.Fatalf("got %d notices, want 1", len(notices))
	}
	if notices[0].Kind != "subscription.suspended" {
		t.Errorf("kind = %q", notices[0].Kind)
	}
	for _, want := range []string{"sub-1", "https://hooks.example.com/x", "5 consecutive"} {
		if !strings.Contains(notices[0].Body, want) {
			t.Errorf("notice body missing %q: %s", want, notices[0].Body)
		}
	}
}

func TestConnectAllPropagatesFailure(t *testing.T) {
	n := New(zap.NewNop())
	n.Register(&captureAdapter{platform: "slack", failWith: errors.New("bad token")})

	if err := n.ConnectAll(context.Background()); err == nil {
		t.Fatal("expected connect error to propagate")
	}
}
