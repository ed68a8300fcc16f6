package gobuffet

import (
	"context"
	"time"

	"github.com/sebdeveloper6952/gobuffet/domain"
)

// Hook observes job state changes. from is empty when the job was just
// created. Hooks run synchronously after the change is stored and must not
// block.
type Hook interface {
	OnTransition(ctx context.Context, job *domain.Job, from domain.State)
}

// StepObserver is implemented by hooks that also want executor timings.
type StepObserver interface {
	OnStep(service string, kind ResultKind, elapsed time.Duration)
}

type HookFunc func(ctx context.Context, job *domain.Job, from domain.State)

func (f HookFunc) OnTransition(ctx context.Context, job *domain.Job, from domain.State) {
	f(ctx, job, from)
}
