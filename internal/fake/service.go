package fake

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sebdeveloper6952/gobuffet/domain"
)

var (
	_ domain.Service       = (*Service)(nil)
	_ domain.RetryBudgeter = (*Service)(nil)
)

// Service replays a script of outcomes, one per step, repeating the last
// one. It records how many steps ran and whether any two overlapped.
type Service struct {
	ServiceName string
	PriceMsat   int64
	Budget      int
	// Delay is slept inside every step.
	Delay time.Duration

	mu      sync.Mutex
	script  []domain.Outcome
	calls   int
	inputs  []domain.StepInput
	running atomic.Int32
	overlap atomic.Bool
}

func NewService(name string, priceMsat int64, budget int, script ...domain.Outcome) *Service {
	return &Service{
		ServiceName: name,
		PriceMsat:   priceMsat,
		Budget:      budget,
		script:      script,
	}
}

func (s *Service) Name() string { return s.ServiceName }

func (s *Service) Price(context.Context, json.RawMessage) (int64, error) {
	return s.PriceMsat, nil
}

func (s *Service) Tries(context.Context, json.RawMessage) (int, error) {
	return s.Budget, nil
}

func (s *Service) Validate(_ context.Context, request json.RawMessage) error {
	var body map[string]any
	if err := json.Unmarshal(request, &body); err != nil {
		return err
	}
	if _, ok := body["reject"]; ok {
		return errors.New("request rejected")
	}
	return nil
}

func (s *Service) Step(ctx context.Context, input domain.StepInput) domain.Outcome {
	if s.running.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.running.Add(-1)

	s.mu.Lock()
	s.calls++
	s.inputs = append(s.inputs, input)
	var out domain.Outcome = domain.Failed{Message: "no script"}
	if len(s.script) > 0 {
		out = s.script[0]
		if len(s.script) > 1 {
			s.script = s.script[1:]
		}
	}
	s.mu.Unlock()

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return domain.Failed{Message: ctx.Err().Error()}
		}
	}
	return out
}

func (s *Service) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Service) Inputs() []domain.StepInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.StepInput(nil), s.inputs...)
}

// Overlapped reports whether two steps ever ran at the same time.
func (s *Service) Overlapped() bool {
	return s.overlap.Load()
}
