package gobuffet

import (
	"encoding/json"
	"fmt"

	"github.com/sebdeveloper6952/gobuffet/domain"
)

type ResultKind string

const (
	ResultPaymentPending ResultKind = "payment-pending"
	ResultProcessing     ResultKind = "processing"
	ResultCompleted      ResultKind = "completed"
	ResultFailed         ResultKind = "failed"
	ResultExhausted      ResultKind = "exhausted"
)

// Result is what a client poll observes.
type Result struct {
	Kind ResultKind
	// Payload is the final response when completed and the last partial
	// response, if any, while processing.
	Payload json.RawMessage
	// Message explains a pending, failed or exhausted result.
	Message string
	Job     *domain.Job
}

// Err returns the domain error for failed and exhausted results, nil
// otherwise.
func (r *Result) Err() error {
	switch r.Kind {
	case ResultFailed:
		return fmt.Errorf("%w: %s", domain.ErrExecutionFailed, r.Message)
	case ResultExhausted:
		return fmt.Errorf("%w: %s", domain.ErrBudgetExhausted, r.Message)
	}
	return nil
}

const (
	msgPaymentPending = "Payment not received"
	msgProcessing     = "processing, retry later"
)

// describe reports the stored state of a paid job without doing any work.
func describe(job *domain.Job) *Result {
	switch {
	case job.State == domain.StateCompleted:
		return &Result{Kind: ResultCompleted, Payload: job.Response, Job: job}
	case job.Exhausted():
		return &Result{Kind: ResultExhausted, Message: job.LastError, Job: job}
	case job.State == domain.StateError:
		return &Result{Kind: ResultFailed, Message: job.LastError, Job: job}
	case !job.Paid:
		return &Result{Kind: ResultPaymentPending, Message: msgPaymentPending, Job: job}
	}
	return processing(job)
}

func processing(job *domain.Job) *Result {
	r := &Result{Kind: ResultProcessing, Payload: job.Response, Job: job}
	if len(r.Payload) == 0 {
		r.Message = msgProcessing
	}
	return r
}
