// Package nostr advertises the registered services on Nostr relays as
// service offering events.
package nostr

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	goNostr "github.com/nbd-wtf/go-nostr"
	"github.com/sirupsen/logrus"

	"github.com/sebdeveloper6952/gobuffet/domain"
)

const DefaultInterval = 10 * time.Minute

// Services lists what there is to announce.
type Services interface {
	Services() []domain.Service
}

type Config struct {
	SecretKey string
	// Endpoint is the public base URL services are reached at.
	Endpoint string
	Profile  *ProfileMetadata
	Debug    bool
	Interval time.Duration
}

type Announcer struct {
	sk        string
	pk        string
	cfg       Config
	services  Services
	publisher Publisher
	log       logrus.FieldLogger
}

func NewAnnouncer(
	cfg Config,
	services Services,
	publisher Publisher,
	log logrus.FieldLogger,
) (*Announcer, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("announcer: endpoint is required")
	}
	sk, pk, err := ParseSecretKey(cfg.SecretKey)
	if err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	return &Announcer{
		sk:        sk,
		pk:        pk,
		cfg:       cfg,
		services:  services,
		publisher: publisher,
		log:       log,
	}, nil
}

func (a *Announcer) PublicKey() string {
	return a.pk
}

// Events returns the signed profile and offering events.
func (a *Announcer) Events(ctx context.Context) ([]*goNostr.Event, error) {
	events := make([]*goNostr.Event, 0, 4)
	if a.cfg.Profile != nil {
		events = append(events, NewProfileMetadataEvent(a.pk, a.cfg.Profile))
	}

	for _, svc := range a.services.Services() {
		e, err := NewServiceOfferingEvent(a.pk, svc.Name(), a.offering(ctx, svc), a.cfg.Debug)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	for _, e := range events {
		if err := e.Sign(a.sk); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func (a *Announcer) offering(ctx context.Context, svc domain.Service) domain.Offering {
	if o, ok := svc.(domain.Offerer); ok {
		return o.Offering(a.cfg.Endpoint)
	}

	price, err := svc.Price(ctx, json.RawMessage("{}"))
	status := domain.OfferingUp
	if err != nil {
		a.log.Warnf("[nostr] price %s %+v", svc.Name(), err)
		status = domain.OfferingDown
	}
	return domain.Offering{
		Endpoint:  a.cfg.Endpoint + "/" + svc.Name(),
		Status:    status,
		FixedCost: price,
		CostUnits: "mSATS",
	}
}

// Announce publishes every event once.
func (a *Announcer) Announce(ctx context.Context) error {
	events, err := a.Events(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, e := range events {
		if err := a.publisher.PublishEvent(ctx, *e); err != nil {
			errs = append(errs, err)
			continue
		}
		a.log.Debugf("[nostr] published kind %d %s", e.Kind, e.ID)
	}
	return errors.Join(errs...)
}

// Run announces right away and then on every interval until ctx is done.
func (a *Announcer) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := a.Announce(ctx); err != nil {
			a.log.Errorf("[nostr] announce %+v", err)
		} else {
			a.log.Infof("[nostr] announced %d services", len(a.services.Services()))
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
