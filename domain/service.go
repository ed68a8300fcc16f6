package domain

import (
	"context"
	"encoding/json"
)

// Service is a pluggable paid capability, looked up by name when a client
// asks for an invoice.
type Service interface {
	Name() string
	// Price quotes the cost in millisatoshis for the given request.
	Price(ctx context.Context, request json.RawMessage) (int64, error)
	// Validate rejects requests the service cannot run.
	Validate(ctx context.Context, request json.RawMessage) error
	// Step performs one unit of work. It is called again on every poll until
	// it returns Done or the retry budget is spent.
	Step(ctx context.Context, input StepInput) Outcome
}

// RetryBudgeter is implemented by services that want a retry budget other
// than DefaultTries.
type RetryBudgeter interface {
	Tries(ctx context.Context, request json.RawMessage) (int, error)
}

// Offerer is implemented by services that describe themselves for the
// announcement process.
type Offerer interface {
	Offering(endpoint string) Offering
}

type StepInput struct {
	PaymentHash string
	Request     json.RawMessage
	// Previous is the last intermediate response, nil on the first step.
	Previous json.RawMessage
	Asset    *Asset
}

// Outcome is the result of a single Step: Done, StillWorking or Failed.
type Outcome interface {
	outcome()
}

type Done struct {
	Payload json.RawMessage
}

type StillWorking struct {
	Payload json.RawMessage
}

type Failed struct {
	Message string
}

func (Done) outcome()         {}
func (StillWorking) outcome() {}
func (Failed) outcome()       {}

type OfferingStatus string

const (
	OfferingUp     OfferingStatus = "UP"
	OfferingDown   OfferingStatus = "DOWN"
	OfferingClosed OfferingStatus = "CLOSED"
)

// Offering is the public description of a service endpoint and its cost.
type Offering struct {
	Endpoint     string          `json:"endpoint"`
	Status       OfferingStatus  `json:"status"`
	FixedCost    int64           `json:"fixedCost"`
	VariableCost int64           `json:"variableCost"`
	CostUnits    string          `json:"costUnits"`
	Schema       json.RawMessage `json:"schema,omitempty"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
	Description  string          `json:"description,omitempty"`
}
