package nostr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	goNostr "github.com/nbd-wtf/go-nostr"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Publisher sends signed events to relays.
type Publisher interface {
	PublishEvent(ctx context.Context, e goNostr.Event) error
	Close()
}

type relayPool struct {
	urls []string
	log  logrus.FieldLogger

	mu     sync.Mutex
	relays map[string]*goNostr.Relay
}

// NewRelayPool returns a Publisher that connects to urls lazily and keeps
// the connections for later publishes.
func NewRelayPool(urls []string, log logrus.FieldLogger) (Publisher, error) {
	if len(urls) == 0 {
		return nil, errors.New("must provide at least one relay")
	}
	return &relayPool{
		urls:   urls,
		log:    log,
		relays: make(map[string]*goNostr.Relay),
	}, nil
}

// PublishEvent publishes to every relay at once. It fails only when no relay
// accepted the event.
func (p *relayPool) PublishEvent(ctx context.Context, e goNostr.Event) error {
	if tl, ok := p.log.(logrus.Ext1FieldLogger); ok {
		tl.Tracef("[nostr] publish event %+v", e)
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
		ok int
	)
	for _, url := range p.urls {
		url := url
		g.Go(func() error {
			relay, err := p.relay(ctx, url)
			if err == nil {
				err = relay.Publish(ctx, e)
			}
			if err != nil {
				p.log.Errorf("[nostr] publish to relay %s %+v", url, err)
				p.drop(url)
				return nil
			}
			mu.Lock()
			ok++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if ok == 0 {
		return fmt.Errorf("event %s: no relay accepted it", e.ID)
	}
	return nil
}

func (p *relayPool) relay(ctx context.Context, url string) (*goNostr.Relay, error) {
	p.mu.Lock()
	relay, ok := p.relays[url]
	p.mu.Unlock()
	if ok {
		return relay, nil
	}

	relay, err := goNostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.relays[url]; ok {
		relay.Close()
		return existing, nil
	}
	p.relays[url] = relay
	return relay, nil
}

func (p *relayPool) drop(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if relay, ok := p.relays[url]; ok {
		relay.Close()
		delete(p.relays, url)
	}
}

func (p *relayPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, relay := range p.relays {
		relay.Close()
		delete(p.relays, url)
	}
}
