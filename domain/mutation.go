package domain

import (
	"encoding/json"
	"time"
)

// Mutation is one of the four state changes the lifecycle controller may
// apply to a job. It re-checks its own precondition and reports whether it
// modified the record, so applying it twice is harmless.
type Mutation struct {
	Name  string
	apply func(j *Job, now time.Time) bool
}

// Apply runs the mutation against j. It returns false when the precondition
// does not hold and j was left untouched.
func (m Mutation) Apply(j *Job, now time.Time) bool {
	if m.apply == nil || j == nil {
		return false
	}
	return m.apply(j, now)
}

func MarkPaid() Mutation {
	return Mutation{
		Name: "mark-paid",
		apply: func(j *Job, now time.Time) bool {
			if j.Paid {
				return false
			}
			j.Paid = true
			j.State = StateFetching
			j.PaidAt = now
			j.UpdatedAt = now
			return true
		},
	}
}

// RecordIntermediate stores a partial response while the service is still
// working.
func RecordIntermediate(payload json.RawMessage) Mutation {
	return Mutation{
		Name: "record-intermediate",
		apply: func(j *Job, now time.Time) bool {
			if j.State == StateCompleted {
				return false
			}
			j.Response = cloneRaw(payload)
			j.State = StateFetching
			j.UpdatedAt = now
			return true
		},
	}
}

func MarkComplete(payload json.RawMessage) Mutation {
	return Mutation{
		Name: "mark-complete",
		apply: func(j *Job, now time.Time) bool {
			if j.State == StateCompleted {
				return false
			}
			j.Response = cloneRaw(payload)
			j.State = StateCompleted
			j.UpdatedAt = now
			return true
		},
	}
}

// MarkError consumes one retry. Once the budget is spent the last recorded
// message is frozen and further failures are ignored.
func MarkError(message string) Mutation {
	return Mutation{
		Name: "mark-error",
		apply: func(j *Job, now time.Time) bool {
			if j.RemainingTries <= 0 {
				return false
			}
			j.LastError = message
			j.State = StateError
			j.RemainingTries--
			j.UpdatedAt = now
			return true
		},
	}
}
