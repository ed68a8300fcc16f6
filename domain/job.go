package domain

import (
	"encoding/json"
	"time"
)

// DefaultTries is the retry budget used when a service does not quote one.
const DefaultTries = 3

type State string

const (
	StateUnpaid    State = "unpaid"
	StateFetching  State = "fetching"
	StateCompleted State = "completed"
	StateError     State = "error"
)

func (s State) Valid() bool {
	switch s {
	case StateUnpaid, StateFetching, StateCompleted, StateError:
		return true
	}
	return false
}

// Asset describes a file uploaded together with the service request.
type Asset struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	Encoding    string `json:"encoding,omitempty"`
	ContentType string `json:"mimetype"`
	MD5         string `json:"md5"`
	Path        string `json:"tempFilePath"`
	Truncated   bool   `json:"truncated"`
}

// Job is the persisted record of one purchased service invocation. It is
// keyed by the payment hash of the invoice issued for it.
type Job struct {
	PaymentHash    string
	Service        string
	PriceMsat      int64
	Owner          string
	Invoice        json.RawMessage
	Request        json.RawMessage
	Response       json.RawMessage
	Asset          *Asset
	Paid           bool
	State          State
	LastError      string
	RemainingTries int
	CreatedAt      time.Time
	PaidAt         time.Time
	UpdatedAt      time.Time
}

// Exhausted reports whether the job failed and has no retries left.
func (j *Job) Exhausted() bool {
	return j.State == StateError && j.RemainingTries <= 0
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Invoice = cloneRaw(j.Invoice)
	cp.Request = cloneRaw(j.Request)
	cp.Response = cloneRaw(j.Response)
	if j.Asset != nil {
		a := *j.Asset
		cp.Asset = &a
	}
	return &cp
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	out := make(json.RawMessage, len(r))
	copy(out, r)
	return out
}

// NewJob builds an unpaid job record ready to be persisted.
func NewJob(
	paymentHash string,
	service string,
	priceMsat int64,
	tries int,
	owner string,
	invoice json.RawMessage,
	request json.RawMessage,
	asset *Asset,
	now time.Time,
) *Job {
	if tries < 0 {
		tries = 0
	}
	return &Job{
		PaymentHash:    paymentHash,
		Service:        service,
		PriceMsat:      priceMsat,
		Owner:          owner,
		Invoice:        invoice,
		Request:        request,
		Asset:          asset,
		State:          StateUnpaid,
		RemainingTries: tries,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
