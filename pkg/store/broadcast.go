package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nthiel/jobwatch/pkg/database"
)

// BroadcastRepo persists administrator broadcast messages.
type BroadcastRepo struct {
	db *database.Client
}

// Create records a broadcast after it has been fanned out to every user's
// chat, storing how many sends succeeded.
func (r *BroadcastRepo) Create(ctx context.Context, message string, sentCount int) (*Broadcast, error) {
	b := &Broadcast{ID: uuid.NewString(), Message: message, SentCount: sentCount}
	err := r.db.GetContext(ctx, &b.CreatedAt, `
		INSERT INTO broadcasts (id, message, sent_count) VALUES ($1, $2, $3)
		RETURNING created_at`,
		b.ID, b.Message, b.SentCount)
	if err != nil {
		return nil, fmt.Errorf("create broadcast: %w", err)
	}
	return b, nil
}

// List returns broadcasts newest-first, paginated.
func (r *BroadcastRepo) List(ctx context.Context, page, limit int) ([]*Broadcast, Pagination, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT count(*) FROM broadcasts`); err != nil {
		return nil, Pagination{}, fmt.Errorf("count broadcasts: %w", err)
	}
	pg := NewPagination(page, limit, total)

	var broadcasts []*Broadcast
	err := r.db.SelectContext(ctx, &broadcasts, `
		SELECT id, message, sent_count, created_at FROM broadcasts
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, pg.Limit, pg.Offset())
	if err != nil {
		return nil, Pagination{}, fmt.Errorf("list broadcasts: %w", err)
	}
	return broadcasts, pg, nil
}
