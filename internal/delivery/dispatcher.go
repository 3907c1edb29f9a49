package delivery

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/vaultic/skillbridge/internal/event"
	"go.uber.org/zap"
)

// Subscription is one subscriber endpoint for lifecycle events. The
// delivery subsystem owns only the failure counter, active flag, and
// last-success timestamp; everything else is owner-managed.
type Subscription struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"owner_id"`
	Endpoint      string     `json:"endpoint"`
	Kinds         []string   `json:"kinds"`
	Secret        string     `json:"-"`
	Active        bool       `json:"active"`
	FailureCount  int        `json:"failure_count"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// WantsKind reports whether the subscription covers an event kind.
func (s *Subscription) WantsKind(kind string) bool {
	for _, k := range s.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// SubscriptionStore is the persistence surface the dispatcher needs.
// MarkFailure must increment the counter and flip active to false
// atomically once the threshold is reached (row-level conditional update,
// no read-modify-write).
type SubscriptionStore interface {
	ActiveSubscriptions(ctx context.Context, ownerID, kind string) ([]*Subscription, error)
	MarkSuccess(ctx context.Context, id string) error
	MarkFailure(ctx context.Context, id string, threshold int) (suspended bool, err error)
}

// SuspensionNotifier is told when a subscription trips the circuit breaker.
type SuspensionNotifier interface {
	SubscriptionSuspended(ctx context.Context, sub *Subscription, failures int)
}

// Dispatcher consumes lifecycle events and pushes each one to every
// matching active subscription: one signed POST per subscription per
// event, no in-call retry. The consecutive-failure counter and the
// threshold suspension are the only cross-event backoff mechanism.
type Dispatcher struct {
	subs      SubscriptionStore
	notifier  SuspensionNotifier
	httpc     *http.Client
	timeout   time.Duration
	threshold int
	pool      chan struct{} // semaphore-based pool
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher. Zero values fall back to a 5 second
// delivery timeout, a threshold of 5 consecutive failures, and 10 workers.
func NewDispatcher(subs SubscriptionStore, notifier SuspensionNotifier, timeout time.Duration, threshold, poolSize int, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if threshold <= 0 {
		threshold = 5
	}
	if poolSize <= 0 {
		poolSize = 10
	}
	return &Dispatcher{
		subs:      subs,
		notifier:  notifier,
		httpc:     &http.Client{Timeout: timeout},
		timeout:   timeout,
		threshold: threshold,
		pool:      make(chan struct{}, poolSize),
		logger:    logger,
	}
}

// Run consumes events from the channel until the context is cancelled or
// the channel closes.
func (d *Dispatcher) Run(ctx context.Context, events <-chan *event.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.Deliver(ctx, ev)
		}
	}
}

// Deliver fans one event out to every matching active subscription and
// waits for all attempts to finish. Suspended subscriptions are already
// filtered out by the store query.
func (d *Dispatcher) Deliver(ctx context.Context, ev *event.Event) {
	subs, err := d.subs.ActiveSubscriptions(ctx, ev.OwnerID, ev.Kind)
	if err != nil {
		d.logger.Error("list subscriptions failed",
			zap.String("event", ev.ID),
			zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			d.pool <- struct{}{}        // acquire slot
			defer func() { <-d.pool }() // release slot

			d.deliverOne(ctx, ev, sub)
		}(sub)
	}
	wg.Wait()
}

// deliverOne makes exactly one delivery attempt to one subscription.
func (d *Dispatcher) deliverOne(ctx context.Context, ev *event.Event, sub *Subscription) {
	env := &Envelope{
		EventID:        ev.ID,
		SubscriptionID: sub.ID,
		Kind:           ev.Kind,
		Timestamp:      ev.Timestamp,
		Payload:        ev.Payload,
	}
	body, err := env.Encode()
	if err != nil {
		d.logger.Error("encode envelope failed",
			zap.String("event", ev.ID),
			zap.Error(err))
		return
	}

	err = d.post(ctx, sub, body)
	if err == nil {
		if mErr := d.subs.MarkSuccess(ctx, sub.ID); mErr != nil {
			d.logger.Error("mark delivery success failed",
				zap.String("subscription", sub.ID), zap.Error(mErr))
		}
		d.logger.Debug("event delivered",
			zap.String("event", ev.ID),
			zap.String("subscription", sub.ID))
		return
	}

	d.logger.Warn("delivery failed",
		zap.String("event", ev.ID),
		zap.String("subscription", sub.ID),
		zap.Error(err))

	suspended, mErr := d.subs.MarkFailure(ctx, sub.ID, d.threshold)
	if mErr != nil {
		d.logger.Error("mark delivery failure failed",
			zap.String("subscription", sub.ID), zap.Error(mErr))
		return
	}
	if suspended {
		d.logger.Warn("subscription suspended after consecutive failures",
			zap.String("subscription", sub.ID),
			zap.Int("threshold", d.threshold))
		if d.notifier != nil {
			d.notifier.SubscriptionSuspended(ctx, sub, d.threshold)
		}
	}
}

func (d *Dispatcher) post(ctx context.Context, sub *Subscription, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(sub.Secret, body))

	resp, err := d.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("post to %s: %w", sub.Endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("subscriber status %d", resp.StatusCode)
	}
	return nil
}
