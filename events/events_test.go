package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebdeveloper6952/gobuffet/domain"
)

type message struct {
	subject string
	data    []byte
}

type recorder struct {
	msgs []message
	err  error
}

func (r *recorder) Publish(subject string, data []byte) error {
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, message{subject, data})
	return nil
}

func TestPublishTransition(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	rec := &recorder{}
	p := NewPublisher(rec, "buffet.jobs.", logger)

	job := &domain.Job{
		PaymentHash:    "abcd",
		Service:        "SD",
		State:          domain.StateError,
		Paid:           true,
		RemainingTries: 1,
		LastError:      "upstream 503",
		UpdatedAt:      time.Unix(1700000000, 0).UTC(),
	}
	p.OnTransition(context.Background(), job, domain.StateFetching)

	require.Len(t, rec.msgs, 1)
	assert.Equal(t, "buffet.jobs.SD.error", rec.msgs[0].subject)

	ev := JobEvent{}
	require.NoError(t, json.Unmarshal(rec.msgs[0].data, &ev))
	assert.Equal(t, "abcd", ev.PaymentHash)
	assert.Equal(t, domain.StateFetching, ev.From)
	assert.Equal(t, domain.StateError, ev.State)
	assert.Equal(t, 1, ev.RemainingTries)
	assert.Equal(t, "upstream 503", ev.Message)
}

func TestSubjectEscapesService(t *testing.T) {
	p := NewPublisher(&recorder{}, "", nil)
	assert.Equal(t, "gobuffet.jobs.a_b_c.unpaid", p.Subject("a.b*c", domain.StateUnpaid))
}

func TestPublishFailureIsLogged(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	p := NewPublisher(&recorder{err: errors.New("nats: connection closed")}, "", logger)

	p.OnTransition(context.Background(), &domain.Job{Service: "SD", State: domain.StateUnpaid}, "")

	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "connection closed")
}
