package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nthiel/jobwatch/pkg/database"
)

// NotificationRepo persists SentNotification ledger rows.
type NotificationRepo struct {
	db *database.Client
}

// TryRecord inserts a ledger row iff no row already exists for
// (subscriptionID, jobMatchID), implementing the at-most-once invariant at
// the database layer via the unique index. Returns true iff this call
// actually inserted the row (i.e. the caller is the one who "sent" it).
func (r *NotificationRepo) TryRecord(ctx context.Context, subscriptionID, jobMatchID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sent_notifications (id, subscription_id, job_match_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (subscription_id, job_match_id) DO NOTHING`,
		uuid.NewString(), subscriptionID, jobMatchID)
	if err != nil {
		return false, fmt.Errorf("record sent notification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record sent notification: %w", err)
	}
	return n == 1, nil
}

// AlreadySentForSubscription returns the set of job_match_ids already sent
// for a single subscription.
func (r *NotificationRepo) AlreadySentForSubscription(ctx context.Context, subscriptionID string) (map[string]bool, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids,
		`SELECT job_match_id FROM sent_notifications WHERE subscription_id = $1`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("list sent notifications: %w", err)
	}
	return toSet(ids), nil
}

// AlreadySentForUser returns the set of job_match_ids already sent to any
// subscription owned by the given user, for cross-subscription dedup
// (skip_cross_sub_duplicates).
func (r *NotificationRepo) AlreadySentForUser(ctx context.Context, userID string) (map[string]bool, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT sn.job_match_id
		FROM sent_notifications sn
		JOIN subscriptions s ON s.id = sn.subscription_id
		WHERE s.user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sent notifications for user: %w", err)
	}
	return toSet(ids), nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
