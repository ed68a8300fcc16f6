package gobuffet

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sebdeveloper6952/gobuffet/domain"
)

// Registry maps service names to their implementations.
type Registry struct {
	mu       sync.RWMutex
	services map[string]domain.Service
}

func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]domain.Service),
	}
}

func (r *Registry) Register(svc domain.Service) error {
	name := svc.Name()
	if name == "" {
		return fmt.Errorf("register service: empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[name]; ok {
		return fmt.Errorf("register service %s: already registered", name)
	}
	r.services[name] = svc
	return nil
}

func (r *Registry) Get(name string) (domain.Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}

// Services returns the registered services ordered by name.
func (r *Registry) Services() []domain.Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Service, 0, len(r.services))
	for _, svc := range r.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name() < out[j].Name()
	})
	return out
}
