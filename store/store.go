// Package store defines the persistence contract for job records.
package store

import (
	"context"

	"github.com/sebdeveloper6952/gobuffet/domain"
)

// Store persists jobs keyed by payment hash.
type Store interface {
	// Create persists a new job. It returns domain.ErrAlreadyExists when the
	// payment hash is taken.
	Create(ctx context.Context, job *domain.Job) error

	// Get returns domain.ErrNotFound when the payment hash is unknown.
	Get(ctx context.Context, paymentHash string) (*domain.Job, error)

	// Update applies m atomically and returns the resulting record along with
	// whether m changed it.
	Update(ctx context.Context, paymentHash string, m domain.Mutation) (*domain.Job, bool, error)

	Ping(ctx context.Context) error
	Close() error
}
