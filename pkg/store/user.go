package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nthiel/jobwatch/pkg/database"
)

// UserRepo persists User rows.
type UserRepo struct {
	db *database.Client
}

// GetByExternalChatID looks up a user by their chat-platform identity.
func (r *UserRepo) GetByExternalChatID(ctx context.Context, externalChatID string) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u,
		`SELECT id, external_chat_id, display_handle, skip_cross_sub_duplicates, created_at
		 FROM users WHERE external_chat_id = $1`, externalChatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by chat id: %w", err)
	}
	return &u, nil
}

// GetByID looks up a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u,
		`SELECT id, external_chat_id, display_handle, skip_cross_sub_duplicates, created_at
		 FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetOrCreate finds a user by external chat id, creating one on first
// interaction: "created on first interaction; never
// destroyed" lifecycle.
func (r *UserRepo) GetOrCreate(ctx context.Context, externalChatID, displayHandle string) (*User, error) {
	u, err := r.GetByExternalChatID(ctx, externalChatID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	u = &User{
		ID:             uuid.NewString(),
		ExternalChatID: externalChatID,
		DisplayHandle:  displayHandle,
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (id, external_chat_id, display_handle) VALUES ($1, $2, $3)
		 ON CONFLICT (external_chat_id) DO NOTHING`,
		u.ID, u.ExternalChatID, u.DisplayHandle)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return r.GetByExternalChatID(ctx, externalChatID)
}

// SetSkipCrossSubDuplicates updates the user's cross-subscription dedup preference.
func (r *UserRepo) SetSkipCrossSubDuplicates(ctx context.Context, userID string, skip bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET skip_cross_sub_duplicates = $2 WHERE id = $1`, userID, skip)
	if err != nil {
		return fmt.Errorf("update user preference: %w", err)
	}
	return nil
}

// ListPaginated returns users with their subscription counts, newest first,
// for the admin /api/users listing.
func (r *UserRepo) ListPaginated(ctx context.Context, page, limit int) ([]*UserSummary, Pagination, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT count(*) FROM users`); err != nil {
		return nil, Pagination{}, fmt.Errorf("count users: %w", err)
	}
	pg := NewPagination(page, limit, total)

	var users []*UserSummary
	err := r.db.SelectContext(ctx, &users, `
		SELECT u.id, u.external_chat_id, u.display_handle, u.skip_cross_sub_duplicates, u.created_at,
			count(s.id) FILTER (WHERE s.is_active AND NOT s.is_paused) AS active_subscriptions,
			count(s.id) AS total_subscriptions
		FROM users u
		LEFT JOIN subscriptions s ON s.user_id = u.id
		GROUP BY u.id
		ORDER BY u.created_at DESC
		LIMIT $1 OFFSET $2`, pg.Limit, pg.Offset())
	if err != nil {
		return nil, Pagination{}, fmt.Errorf("list users: %w", err)
	}
	return users, pg, nil
}

// Count returns the total number of users.
func (r *UserRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT count(*) FROM users`); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
