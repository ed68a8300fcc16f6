package nostr

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	goNostr "github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebdeveloper6952/gobuffet/domain"
	"github.com/sebdeveloper6952/gobuffet/internal/fake"
)

const testSK = "a19ad601202f0ef2ebc344a041676314ad812fbac1ff8410ede3163662847527"

type serviceList []domain.Service

func (s serviceList) Services() []domain.Service { return s }

type offeringService struct {
	*fake.Service
}

func (offeringService) Offering(endpoint string) domain.Offering {
	return domain.Offering{
		Endpoint:    endpoint + "/GPT",
		Status:      domain.OfferingUp,
		FixedCost:   5000,
		CostUnits:   "mSATS",
		Schema:      json.RawMessage(`{"type":"object"}`),
		Description: "chat",
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []goNostr.Event
	err    error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, e goNostr.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() {}

func newAnnouncer(t *testing.T, pub Publisher, debug bool) *Announcer {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	nsec, err := nip19.EncodePrivateKey(testSK)
	require.NoError(t, err)

	a, err := NewAnnouncer(Config{
		SecretKey: nsec,
		Endpoint:  "https://buffet.example/",
		Profile:   &ProfileMetadata{Name: "buffet", About: "pay per call"},
		Debug:     debug,
	}, serviceList{
		fake.NewService("SD", 10000, 3),
		offeringService{fake.NewService("GPT", 5000, 3)},
	}, pub, logger)
	require.NoError(t, err)
	return a
}

func TestParseSecretKey(t *testing.T) {
	wantPK, err := goNostr.GetPublicKey(testSK)
	require.NoError(t, err)

	sk, pk, err := ParseSecretKey(testSK)
	require.NoError(t, err)
	assert.Equal(t, testSK, sk)
	assert.Equal(t, wantPK, pk)

	nsec, err := nip19.EncodePrivateKey(testSK)
	require.NoError(t, err)
	sk, pk, err = ParseSecretKey(nsec)
	require.NoError(t, err)
	assert.Equal(t, testSK, sk)
	assert.Equal(t, wantPK, pk)

	_, _, err = ParseSecretKey("nsec1garbage")
	assert.Error(t, err)
}

func TestEventsAreSignedOfferings(t *testing.T) {
	a := newAnnouncer(t, &recordingPublisher{}, true)

	events, err := a.Events(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 3)

	for _, e := range events {
		ok, err := e.CheckSignature()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, a.PublicKey(), e.PubKey)
	}

	assert.Equal(t, KindProfileMetadata, events[0].Kind)
	assert.JSONEq(t, `{"name":"buffet","about":"pay per call"}`, events[0].Content)

	sd := events[1]
	assert.Equal(t, KindServiceOffering, sd.Kind)
	assert.Equal(t, "SD", sd.Tags.GetFirst([]string{"s"}).Value())
	assert.Equal(t, "https://buffet.example/SD", sd.Tags.GetFirst([]string{"d"}).Value())
	assert.Equal(t, "DEBUG", sd.Tags.GetFirst([]string{"t"}).Value())
	assert.JSONEq(t,
		`{"endpoint":"https://buffet.example/SD","status":"UP","fixedCost":10000,"variableCost":0,"costUnits":"mSATS"}`,
		sd.Content,
	)

	gpt := events[2]
	offering := domain.Offering{}
	require.NoError(t, json.Unmarshal([]byte(gpt.Content), &offering))
	assert.Equal(t, "https://buffet.example/GPT", offering.Endpoint)
	assert.Equal(t, "chat", offering.Description)
	assert.JSONEq(t, `{"type":"object"}`, string(offering.Schema))
}

func TestNoDebugTag(t *testing.T) {
	a := newAnnouncer(t, &recordingPublisher{}, false)
	events, err := a.Events(context.Background())
	require.NoError(t, err)
	assert.Nil(t, events[1].Tags.GetFirst([]string{"t"}))
}

func TestAnnounce(t *testing.T) {
	pub := &recordingPublisher{}
	a := newAnnouncer(t, pub, false)

	require.NoError(t, a.Announce(context.Background()))
	assert.Len(t, pub.events, 3)

	pub.err = errors.New("relay down")
	assert.ErrorContains(t, a.Announce(context.Background()), "relay down")
}

func TestRunStopsWithContext(t *testing.T) {
	pub := &recordingPublisher{}
	a := newAnnouncer(t, pub, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.events) == 3
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestNewRelayPoolRequiresRelays(t *testing.T) {
	_, err := NewRelayPool(nil, nil)
	assert.Error(t, err)
}
