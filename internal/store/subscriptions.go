package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/vaultic/skillbridge/internal/delivery"
)

// ErrSubscriptionNotFound is returned when no subscription exists for an id.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// SaveSubscription inserts a new subscription. The secret is stored raw so
// deliveries can be signed; the API reveals it exactly once at creation.
func (s *Store) SaveSubscription(ctx context.Context, sub *delivery.Subscription) error {
	now := time.Now()
	_, err := s.db.Exec(ctx, `
		INSERT INTO subscriptions (id, owner_id, endpoint, kinds, secret, active, failure_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)`,
		sub.ID, sub.OwnerID, sub.Endpoint, sub.Kinds, sub.Secret, sub.Active, now,
	)
	if err != nil {
		return fmt.Errorf("save subscription %s: %w", sub.ID, err)
	}
	return nil
}

// ActiveSubscriptions returns the active subscriptions of an owner that
// cover the given event kind.
func (s *Store) ActiveSubscriptions(ctx context.Context, ownerID, kind string) ([]*delivery.Subscription, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, owner_id, endpoint, kinds, secret, active, failure_count, last_success_at, created_at
		FROM subscriptions
		WHERE owner_id = $1 AND active AND $2 = ANY(kinds)
		ORDER BY created_at`, ownerID, kind)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListSubscriptions returns all subscriptions of an owner, active or not.
func (s *Store) ListSubscriptions(ctx context.Context, ownerID string) ([]*delivery.Subscription, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, owner_id, endpoint, kinds, secret, active, failure_count, last_success_at, created_at
		FROM subscriptions
		WHERE owner_id = $1
		ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func scanSubscriptions(rows pgx.Rows) ([]*delivery.Subscription, error) {
	var subs []*delivery.Subscription
	for rows.Next() {
		var sub delivery.Subscription
		if err := rows.Scan(&sub.ID, &sub.OwnerID, &sub.Endpoint, &sub.Kinds, &sub.Secret,
			&sub.Active, &sub.FailureCount, &sub.LastSuccessAt, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, &sub)
	}
	return subs, nil
}

// MarkSuccess resets the consecutive-failure counter and records the
// last-success timestamp.
func (s *Store) MarkSuccess(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE subscriptions
		SET failure_count = 0, last_success_at = NOW(), updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark subscription success %s: %w", id, err)
	}
	return nil
}

// MarkFailure increments the consecutive-failure counter and flips the
// active flag once the threshold is reached, in one row-level update.
// Returns true when this call suspended the subscription.
func (s *Store) MarkFailure(ctx context.Context, id string, threshold int) (bool, error) {
	var active bool
	var failures int
	err := s.db.QueryRow(ctx, `
		UPDATE subscriptions
		SET failure_count = failure_count + 1,
		    active = (failure_count + 1 < $2),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING active, failure_count`, id, threshold,
	).Scan(&active, &failures)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("subscription %s: %w", id, ErrSubscriptionNotFound)
		}
		return false, fmt.Errorf("mark subscription failure %s: %w", id, err)
	}
	return !active && failures == threshold, nil
}

// ActivateSubscription re-enables a suspended subscription and clears its
// failure counter. Owner-initiated; the delivery subsystem never calls it.
func (s *Store) ActivateSubscription(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE subscriptions
		SET active = TRUE, failure_count = 0, updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("activate subscription %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %s: %w", id, ErrSubscriptionNotFound)
	}
	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %s: %w", id, ErrSubscriptionNotFound)
	}
	return nil
}
