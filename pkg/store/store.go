// Package store implements the relational-store repositories backing the
// data model: users, subscriptions, runs, jobs, job matches, the sent-
// notification ledger, and the query caches.
package store

import (
	"errors"

	"github.com/nthiel/jobwatch/pkg/database"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("store: not found")

// Store groups every repository over a single database client, mirroring
// a single client surface built on sqlx repositories.
type Store struct {
	Users         *UserRepo
	Subscriptions *SubscriptionRepo
	Runs          *RunRepo
	Jobs          *JobRepo
	JobMatches    *JobMatchRepo
	Notifications *NotificationRepo
	QueryCache    *QueryCacheRepo
	Broadcasts    *BroadcastRepo
}

// New builds a Store over the given database client.
func New(db *database.Client) *Store {
	return &Store{
		Users:         &UserRepo{db: db},
		Subscriptions: &SubscriptionRepo{db: db},
		Runs:          &RunRepo{db: db},
		Jobs:          &JobRepo{db: db},
		JobMatches:    &JobMatchRepo{db: db},
		Notifications: &NotificationRepo{db: db},
		QueryCache:    &QueryCacheRepo{db: db},
		Broadcasts:    &BroadcastRepo{db: db},
	}
}
