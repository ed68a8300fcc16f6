package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sebdeveloper6952/gobuffet/domain"
	"github.com/sebdeveloper6952/gobuffet/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps jobs in a map. Safe for concurrent use; intended for tests and
// single-process development setups.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

func New() *Store {
	return &Store{
		jobs: make(map[string]*domain.Job),
		now:  time.Now,
	}
}

func (s *Store) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.PaymentHash]; exists {
		return domain.ErrAlreadyExists
	}
	s.jobs[job.PaymentHash] = job.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, paymentHash string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[paymentHash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j.Clone(), nil
}

func (s *Store) Update(_ context.Context, paymentHash string, m domain.Mutation) (*domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[paymentHash]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	changed := m.Apply(j, s.now().UTC())
	return j.Clone(), changed, nil
}

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }
