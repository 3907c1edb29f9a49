package notifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/vaultic/skillbridge/internal/delivery"
	"go.uber.org/zap"
)

// Notice is an operator-facing notification about bridge activity.
type Notice struct {
	Kind  string `json:"kind"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Adapter posts notices to one operator channel (Slack, Discord, ...).
type Adapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Notify(ctx context.Context, n *Notice) error
	Close() error
}

// Notifier fans operator notices out to all registered adapters. Delivery
// to operators is best-effort; a failing adapter never affects the bridge.
type Notifier struct {
	adapters map[string]Adapter
	mu       sync.RWMutex
	logger   *zap.Logger
}

// New creates an empty notifier.
func New(logger *zap.Logger) *Notifier {
	return &Notifier{
		adapters: make(map[string]Adapter),
		logger:   logger,
	}
}

// Register adds an adapter.
func (n *Notifier) Register(a Adapter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.adapters[a.Platform()] = a
	n.logger.Info("registered notifier adapter", zap.String("platform", a.Platform()))
}

// ConnectAll starts all registered adapters.
func (n *Notifier) ConnectAll(ctx context.Context) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for platform, a := range n.adapters {
		if err := a.Connect(ctx); err != nil {
			n.logger.Error("notifier adapter connect failed",
				zap.String("platform", platform), zap.Error(err))
			return fmt.Errorf("connect %s: %w", platform, err)
		}
		n.logger.Info("notifier adapter connected", zap.String("platform", platform))
	}
	return nil
}

// Notify sends a notice to every adapter. Failures are logged, not
// propagated.
func (n *Notifier) Notify(ctx context.Context, notice *Notice) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for platform, a := range n.adapters {
		if err := a.Notify(ctx, notice); err != nil {
			n.logger.Warn("operator notification failed",
				zap.String("platform", platform),
				zap.String("kind", notice.Kind),
				zap.Error(err))
		}
	}
}

// SubscriptionSuspended implements delivery.SuspensionNotifier.
func (n *Notifier) SubscriptionSuspended(ctx context.Context, sub *delivery.Subscription, failures int) {
	n.Notify(ctx, &Notice{
		Kind:  "subscription.suspended",
		Title: "Subscription suspended",
		Body: fmt.Sprintf("Subscription %s (%s) was suspended after %d consecutive delivery failures. The owner must reactivate it.",
			sub.ID, sub.Endpoint, failures),
	})
}

// SkillLifecycle reports a skill lifecycle event to operators.
func (n *Notifier) SkillLifecycle(ctx context.Context, kind, skillName string) {
	n.Notify(ctx, &Notice{
		Kind:  kind,
		Title: "Skill lifecycle change",
		Body:  fmt.Sprintf("Skill %q: %s", skillName, kind),
	})
}

// Close shuts down all adapters.
func (n *Notifier) Close() error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for platform, a := range n.adapters {
		if err := a.Close(); err != nil {
			n.logger.Error("notifier adapter close failed",
				zap.String("platform", platform), zap.Error(err))
		}
	}
	return nil
}
