// Package gobuffet runs paid service invocations: it records a job when an
// invoice is issued, reconciles payment, then drives the service to a result
// across client polls under a bounded retry budget.
package gobuffet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sebdeveloper6952/gobuffet/domain"
	"github.com/sebdeveloper6952/gobuffet/guard"
	"github.com/sebdeveloper6952/gobuffet/lightning"
	"github.com/sebdeveloper6952/gobuffet/store"
)

const (
	DefaultGatewayTimeout = 15 * time.Second
	DefaultStepTimeout    = 60 * time.Second
	DefaultLeaseWait      = 2 * time.Second

	// bounds the mutation written after a step, independent of the step
	writeTimeout = 15 * time.Second

	successMessage = "Paying for service"
)

type Engine struct {
	services *Registry
	store    store.Store
	lnSvc    lightning.Gateway
	locker   guard.Locker
	hooks    []Hook
	log      logrus.FieldLogger
	now      func() time.Time

	publicURL      string
	defaultTries   int
	gatewayTimeout time.Duration
	stepTimeout    time.Duration
	leaseWait      time.Duration
}

type Option func(*Engine)

func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = log }
}

// WithLocker replaces the in-process lease, e.g. with a shared one when
// several instances use the same store.
func WithLocker(l guard.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

func WithHooks(hooks ...Hook) Option {
	return func(e *Engine) { e.hooks = append(e.hooks, hooks...) }
}

// WithPublicURL sets the base of the result URL handed to payers.
func WithPublicURL(u string) Option {
	return func(e *Engine) { e.publicURL = strings.TrimRight(u, "/") }
}

func WithDefaultTries(n int) Option {
	return func(e *Engine) { e.defaultTries = n }
}

func WithTimeouts(gateway, step time.Duration) Option {
	return func(e *Engine) {
		if gateway > 0 {
			e.gatewayTimeout = gateway
		}
		if step > 0 {
			e.stepTimeout = step
		}
	}
}

// WithLeaseWait bounds how long a poll waits for a step another poll is
// running on the same job.
func WithLeaseWait(d time.Duration) Option {
	return func(e *Engine) { e.leaseWait = d }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(
	st store.Store,
	ln lightning.Gateway,
	services *Registry,
	opts ...Option,
) (*Engine, error) {
	if st == nil {
		return nil, errors.New("engine: store is required")
	}
	if ln == nil {
		return nil, errors.New("engine: lightning gateway is required")
	}
	if services == nil {
		services = NewRegistry()
	}

	e := &Engine{
		services:       services,
		store:          st,
		lnSvc:          ln,
		locker:         guard.NewLocal(),
		log:            logrus.StandardLogger(),
		now:            func() time.Time { return time.Now().UTC() },
		defaultTries:   domain.DefaultTries,
		gatewayTimeout: DefaultGatewayTimeout,
		stepTimeout:    DefaultStepTimeout,
		leaseWait:      DefaultLeaseWait,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.defaultTries < 1 {
		return nil, fmt.Errorf("engine: default tries must be at least 1, got %d", e.defaultTries)
	}

	return e, nil
}

func (e *Engine) RegisterService(svc domain.Service) error {
	return e.services.Register(svc)
}

func (e *Engine) Services() *Registry {
	return e.services
}

type InvoiceRequest struct {
	Service string
	Request json.RawMessage
	Asset   *domain.Asset
}

// RequestInvoice quotes the service, issues an invoice for it and records an
// unpaid job keyed by the invoice payment hash.
func (e *Engine) RequestInvoice(ctx context.Context, in InvoiceRequest) (*lightning.Invoice, error) {
	svc, ok := e.services.Get(in.Service)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidService, in.Service)
	}
	if len(in.Request) == 0 {
		in.Request = json.RawMessage("{}")
	}
	if err := svc.Validate(ctx, in.Request); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidationFailed, err)
	}

	price, err := svc.Price(ctx, in.Request)
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w", in.Service, err)
	}
	if price <= 0 {
		return nil, fmt.Errorf("quote %s: non-positive price %d", in.Service, price)
	}

	tries := e.defaultTries
	if b, ok := svc.(domain.RetryBudgeter); ok {
		if tries, err = b.Tries(ctx, in.Request); err != nil {
			return nil, fmt.Errorf("retry budget %s: %w", in.Service, err)
		}
	}
	// a job must be able to record at least one failure
	if tries < 1 {
		tries = 1
	}

	gwCtx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
	defer cancel()
	invoice, err := e.lnSvc.CreateInvoice(gwCtx, price)
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	invoice = invoice.WithSuccessAction(e.resultURL(in.Service, invoice.PaymentHash), successMessage)

	raw, err := invoice.Marshal()
	if err != nil {
		return nil, err
	}

	job := domain.NewJob(
		invoice.PaymentHash,
		in.Service,
		price,
		tries,
		invoice.Payer(),
		raw,
		in.Request,
		in.Asset,
		e.now(),
	)
	if err := e.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	e.jobLog(job).Infof("[engine] invoice issued for %d msat", price)
	e.notify(ctx, job, "")

	return invoice, nil
}

func (e *Engine) resultURL(service string, paymentHash string) string {
	return fmt.Sprintf("%s/%s/%s/get_result", e.publicURL, service, paymentHash)
}

// Job returns the stored record without doing any work.
func (e *Engine) Job(ctx context.Context, paymentHash string) (*domain.Job, error) {
	return e.store.Get(ctx, paymentHash)
}

// CheckPayment reports whether the job's invoice is paid, recording the
// payment when it has just settled. It never runs the service.
func (e *Engine) CheckPayment(ctx context.Context, paymentHash string) (bool, error) {
	job, err := e.store.Get(ctx, paymentHash)
	if err != nil {
		return false, err
	}
	if job.Paid {
		return true, nil
	}

	paid, _, err := e.settle(ctx, job)
	return paid, err
}

// PollResult answers a client poll. Terminal jobs are answered from the
// store. Unpaid jobs are checked for settlement first. Paid jobs run at most
// one service step under the job's lease.
func (e *Engine) PollResult(ctx context.Context, paymentHash string) (*Result, error) {
	job, err := e.store.Get(ctx, paymentHash)
	if err != nil {
		return nil, err
	}
	if job.State == domain.StateCompleted || job.Exhausted() {
		return describe(job), nil
	}

	if !job.Paid {
		paid, updated, err := e.settle(ctx, job)
		if err != nil {
			return nil, err
		}
		if !paid {
			return describe(job), nil
		}
		job = updated
	}

	return e.advance(ctx, job)
}

func (e *Engine) settle(ctx context.Context, job *domain.Job) (bool, *domain.Job, error) {
	invoice, err := lightning.UnmarshalInvoice(job.Invoice)
	if err != nil {
		return false, nil, fmt.Errorf("job %s: %w", job.PaymentHash, err)
	}

	gwCtx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
	defer cancel()
	settled, err := e.lnSvc.CheckSettled(gwCtx, invoice)
	if err != nil {
		e.jobLog(job).Warnf("[engine] check settlement %+v", err)
		return false, nil, fmt.Errorf("check payment: %w", err)
	}
	if !settled {
		return false, job, nil
	}

	from := job.State
	updated, changed, err := e.store.Update(ctx, job.PaymentHash, domain.MarkPaid())
	if err != nil {
		return false, nil, fmt.Errorf("mark paid: %w", err)
	}
	if changed {
		e.jobLog(updated).Info("[engine] payment received")
		e.notify(ctx, updated, from)
	}
	return true, updated, nil
}

func (e *Engine) advance(ctx context.Context, job *domain.Job) (*Result, error) {
	release, ok, err := e.locker.TryAcquire(ctx, job.PaymentHash)
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return e.awaitInFlight(ctx, job)
	}
	stepping := false
	defer func() {
		if !stepping {
			release()
		}
	}()

	// another poll may have moved the job while we were getting the lease
	job, err = e.store.Get(ctx, job.PaymentHash)
	if err != nil {
		return nil, err
	}
	if job.State == domain.StateCompleted || job.Exhausted() || !job.Paid {
		return describe(job), nil
	}

	svc, ok := e.services.Get(job.Service)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidService, job.Service)
	}

	stepping = true
	return e.step(ctx, svc, job, release)
}

// awaitInFlight waits for the poll holding the lease to finish its step and
// reports what it stored, instead of running another step.
func (e *Engine) awaitInFlight(ctx context.Context, job *domain.Job) (*Result, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.leaseWait)
	defer cancel()

	release, err := e.locker.Acquire(waitCtx, job.PaymentHash)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.jobLog(job).Debug("[engine] step still in flight")
		return processing(job), nil
	}
	release()

	latest, err := e.store.Get(ctx, job.PaymentHash)
	if err != nil {
		return nil, err
	}
	return describe(latest), nil
}

// step runs one service step and records its outcome. It owns release: the
// lease is given back once the outcome is stored and the service's Step has
// returned, even when the step timed out earlier.
func (e *Engine) step(ctx context.Context, svc domain.Service, job *domain.Job, release guard.Release) (*Result, error) {
	// the step and its mutation outlive a client that hangs up
	detached := context.WithoutCancel(ctx)
	stepCtx, cancel := context.WithTimeout(detached, e.stepTimeout)
	defer cancel()

	input := domain.StepInput{
		PaymentHash: job.PaymentHash,
		Request:     job.Request,
		Previous:    job.Response,
		Asset:       job.Asset,
	}

	start := e.now()
	outcome, exited := runStep(stepCtx, svc, input)
	elapsed := e.now().Sub(start)
	defer func() {
		select {
		case <-exited:
			release()
		default:
			e.jobLog(job).Warn("[engine] step outlived its timeout, lease held until it returns")
			go func() {
				<-exited
				release()
			}()
		}
	}()

	var m domain.Mutation
	switch o := outcome.(type) {
	case domain.Done:
		m = domain.MarkComplete(o.Payload)
	case domain.StillWorking:
		m = domain.RecordIntermediate(o.Payload)
	case domain.Failed:
		e.jobLog(job).Warnf("[engine] step failed: %s", o.Message)
		m = domain.MarkError(o.Message)
	default:
		panic(fmt.Sprintf("unknown outcome %T", outcome))
	}

	writeCtx, cancelWrite := context.WithTimeout(detached, writeTimeout)
	defer cancelWrite()

	from := job.State
	updated, changed, err := e.store.Update(writeCtx, job.PaymentHash, m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.Name, err)
	}
	if changed {
		e.notify(ctx, updated, from)
	}

	res := describe(updated)
	e.jobLog(updated).Debugf("[engine] step %s in %s", res.Kind, elapsed)
	e.observeStep(updated.Service, res.Kind, elapsed)
	return res, nil
}

type stepResult struct {
	outcome domain.Outcome
}

// runStep calls the service and turns errors the service could not report
// itself (timeouts, panics, nil outcomes) into failures. exited is closed
// once the service's Step has returned.
func runStep(ctx context.Context, svc domain.Service, input domain.StepInput) (domain.Outcome, <-chan struct{}) {
	done := make(chan stepResult, 1)
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		defer func() {
			if r := recover(); r != nil {
				done <- stepResult{domain.Failed{Message: fmt.Sprintf("service panic: %v", r)}}
			}
		}()
		done <- stepResult{svc.Step(ctx, input)}
	}()

	select {
	case r := <-done:
		<-exited
		if r.outcome == nil {
			return domain.Failed{Message: "service returned no outcome"}, exited
		}
		return r.outcome, exited
	case <-ctx.Done():
		return domain.Failed{Message: fmt.Sprintf("step: %v", ctx.Err())}, exited
	}
}

func (e *Engine) notify(ctx context.Context, job *domain.Job, from domain.State) {
	for _, h := range e.hooks {
		h.OnTransition(ctx, job.Clone(), from)
	}
}

func (e *Engine) observeStep(service string, kind ResultKind, elapsed time.Duration) {
	for _, h := range e.hooks {
		if o, ok := h.(StepObserver); ok {
			o.OnStep(service, kind, elapsed)
		}
	}
}

func (e *Engine) jobLog(job *domain.Job) logrus.FieldLogger {
	return e.log.WithFields(logrus.Fields{
		"payment_hash": job.PaymentHash,
		"service":      job.Service,
	})
}
