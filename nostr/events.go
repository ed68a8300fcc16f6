package nostr

import (
	"encoding/json"
	"fmt"
	"strings"

	goNostr "github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/sebdeveloper6952/gobuffet/domain"
)

const (
	KindProfileMetadata = 0
	KindServiceOffering = 31402
)

type ProfileMetadata struct {
	Name    string `json:"name"`
	About   string `json:"about"`
	Picture string `json:"picture,omitempty"`
}

func NewProfileMetadataEvent(
	pk string,
	profile *ProfileMetadata,
) *goNostr.Event {
	e := &goNostr.Event{
		PubKey:    pk,
		CreatedAt: goNostr.Now(),
		Kind:      KindProfileMetadata,
		Tags:      goNostr.Tags{},
	}

	profileBytes, _ := json.Marshal(profile)
	e.Content = string(profileBytes)

	return e
}

// NewServiceOfferingEvent builds the replaceable offering for one service.
// The d tag is the endpoint so each endpoint keeps a single live offering.
func NewServiceOfferingEvent(
	pk string,
	service string,
	offering domain.Offering,
	debug bool,
) (*goNostr.Event, error) {
	content, err := json.Marshal(offering)
	if err != nil {
		return nil, err
	}

	e := &goNostr.Event{
		PubKey:    pk,
		CreatedAt: goNostr.Now(),
		Kind:      KindServiceOffering,
		Content:   string(content),
		Tags: goNostr.Tags{
			{"s", service},
			{"d", offering.Endpoint},
		},
	}
	if debug {
		e.Tags = append(e.Tags, goNostr.Tag{"t", "DEBUG"})
	}

	return e, nil
}

// ParseSecretKey accepts an nsec or a hex secret key and returns the hex
// secret and public keys.
func ParseSecretKey(key string) (string, string, error) {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "nsec") {
		prefix, value, err := nip19.Decode(key)
		if err != nil {
			return "", "", fmt.Errorf("decode nsec: %w", err)
		}
		sk, ok := value.(string)
		if prefix != "nsec" || !ok {
			return "", "", fmt.Errorf("decode nsec: unexpected %s", prefix)
		}
		key = sk
	}

	pk, err := goNostr.GetPublicKey(key)
	if err != nil {
		return "", "", fmt.Errorf("public key: %w", err)
	}
	return key, pk, nil
}
