package lightning

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lightningnetwork/lnd/lntypes"
)

// Invoice is the artifact handed to the payer. Its JSON form is what the
// HTTP surface returns and what the job store keeps.
type Invoice struct {
	PaymentHash    string         `json:"paymentHash"`
	PaymentRequest PaymentRequest `json:"paymentRequest"`
	PrePayRequest  *PrePayRequest `json:"prePayRequest"`
	AmountMsat     int64          `json:"amountMsat"`
}

// PaymentRequest mirrors the LUD-06 callback response.
type PaymentRequest struct {
	Status        string         `json:"status"`
	Reason        string         `json:"reason,omitempty"`
	PR            string         `json:"pr"`
	Verify        string         `json:"verify,omitempty"`
	Routes        []string       `json:"routes"`
	SuccessAction *SuccessAction `json:"successAction,omitempty"`
}

type SuccessAction struct {
	Tag     string `json:"tag"`
	Message string `json:"message,omitempty"`
	URL     string `json:"url,omitempty"`
}

// PrePayRequest mirrors the LUD-06 pay request served by a lightning
// address.
type PrePayRequest struct {
	Status         string `json:"status,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Tag            string `json:"tag"`
	Callback       string `json:"callback"`
	Metadata       string `json:"metadata"`
	MinSendable    int64  `json:"minSendable"`
	MaxSendable    int64  `json:"maxSendable"`
	CommentAllowed int    `json:"commentAllowed,omitempty"`
	NostrPubkey    string `json:"nostrPubkey,omitempty"`
	AllowsNostr    bool   `json:"allowsNostr,omitempty"`
}

// Gateway mints invoices and reports whether they were paid.
type Gateway interface {
	CreateInvoice(ctx context.Context, amountMsat int64) (*Invoice, error)
	CheckSettled(ctx context.Context, invoice *Invoice) (bool, error)
}

// Hash parses the invoice payment hash.
func (i *Invoice) Hash() (lntypes.Hash, error) {
	h, err := lntypes.MakeHashFromStr(i.PaymentHash)
	if err != nil {
		return lntypes.Hash{}, fmt.Errorf("invoice payment hash %q: %w", i.PaymentHash, err)
	}
	return h, nil
}

// Payer returns the identity advertised by the invoice issuer, if any.
func (i *Invoice) Payer() string {
	if i.PrePayRequest == nil {
		return ""
	}
	return i.PrePayRequest.NostrPubkey
}

// WithSuccessAction points the payer's wallet at url once the invoice is
// paid.
func (i *Invoice) WithSuccessAction(url string, message string) *Invoice {
	cp := *i
	cp.PaymentRequest.SuccessAction = &SuccessAction{
		Tag:     "url",
		Message: message,
		URL:     url,
	}
	return &cp
}

func (i *Invoice) Marshal() (json.RawMessage, error) {
	return json.Marshal(i)
}

func UnmarshalInvoice(raw json.RawMessage) (*Invoice, error) {
	inv := &Invoice{}
	if err := json.Unmarshal(raw, inv); err != nil {
		return nil, fmt.Errorf("decode invoice: %w", err)
	}
	return inv, nil
}

// SatsFloor converts millisatoshis to whole satoshis for backends that only
// accept sats, never returning less than one.
func SatsFloor(amountMsat int64) int64 {
	sats := amountMsat / 1000
	if sats < 1 {
		return 1
	}
	return sats
}
