// Package events publishes job state changes to NATS so other processes can
// follow jobs without polling the store.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/sebdeveloper6952/gobuffet"
	"github.com/sebdeveloper6952/gobuffet/domain"
)

const DefaultPrefix = "gobuffet.jobs"

var _ gobuffet.Hook = (*Publisher)(nil)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// JobEvent is the JSON body of every published message.
type JobEvent struct {
	PaymentHash    string       `json:"paymentHash"`
	Service        string       `json:"service"`
	From           domain.State `json:"from,omitempty"`
	State          domain.State `json:"state"`
	Paid           bool         `json:"paid"`
	RemainingTries int          `json:"remainingTries"`
	Message        string       `json:"message,omitempty"`
	At             time.Time    `json:"at"`
}

type Publisher struct {
	conn   Conn
	prefix string
	log    logrus.FieldLogger
}

// Connect dials url with reconnects enabled.
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("gobuffet"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
}

func NewPublisher(conn Conn, prefix string, log logrus.FieldLogger) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Publisher{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		log:    log,
	}
}

// Subject returns {prefix}.{service}.{state}.
func (p *Publisher) Subject(service string, state domain.State) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, token(service), state)
}

// OnTransition publishes fire and forget; failures are only logged.
func (p *Publisher) OnTransition(_ context.Context, job *domain.Job, from domain.State) {
	ev := JobEvent{
		PaymentHash:    job.PaymentHash,
		Service:        job.Service,
		From:           from,
		State:          job.State,
		Paid:           job.Paid,
		RemainingTries: job.RemainingTries,
		Message:        job.LastError,
		At:             job.UpdatedAt,
	}

	b, err := json.Marshal(ev)
	if err != nil {
		p.log.Errorf("[events] marshal %+v", err)
		return
	}
	if err := p.conn.Publish(p.Subject(job.Service, job.State), b); err != nil {
		p.log.WithField("payment_hash", job.PaymentHash).Warnf("[events] publish %+v", err)
	}
}

// token keeps service names from adding subject levels or wildcards.
func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}
