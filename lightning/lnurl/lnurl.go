// Package lnurl mints invoices through a lightning address (LUD-16) and
// checks them through the LUD-21 verify URL the address returns.
package lnurl

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/zpay32"

	"github.com/sebdeveloper6952/gobuffet/lightning"
)

// Decoded is the part of a bolt11 invoice the gateway checks.
type Decoded struct {
	PaymentHash string
	AmountMsat  int64
}

// Decoder parses a bolt11 payment request.
type Decoder func(pr string) (*Decoded, error)

type Option func(*lnurl)

// WithDecoder replaces the bolt11 decoder.
func WithDecoder(d Decoder) Option {
	return func(l *lnurl) { l.decode = d }
}

func WithHTTPClient(c *http.Client) Option {
	return func(l *lnurl) {
		if c != nil {
			l.client = c
		}
	}
}

// WithExpiry sets the invoice expiry requested from the callback.
func WithExpiry(d time.Duration) Option {
	return func(l *lnurl) { l.expiry = d }
}

type lnurl struct {
	wellKnown string
	client    *http.Client
	decode    Decoder
	expiry    time.Duration
}

type verifyResponse struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Settled  bool   `json:"settled"`
	Preimage string `json:"preimage"`
	PR       string `json:"pr"`
}

// New returns a gateway for address (user@domain). net selects the bolt11
// network prefix accepted from the callback.
func New(address string, net *chaincfg.Params, opts ...Option) (lightning.Gateway, error) {
	wellKnown, err := WellKnownURL(address)
	if err != nil {
		return nil, err
	}
	if net == nil {
		net = &chaincfg.MainNetParams
	}

	l := &lnurl{
		wellKnown: wellKnown,
		client:    http.DefaultClient,
		decode:    Bolt11Decoder(net),
		expiry:    time.Hour,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// WellKnownURL maps user@domain to its LUD-16 pay request endpoint. Onion
// and localhost domains are reached over plain http.
func WellKnownURL(address string) (string, error) {
	user, domain, ok := strings.Cut(strings.TrimSpace(address), "@")
	if !ok || user == "" || domain == "" {
		return "", fmt.Errorf("lnurl: bad lightning address %q", address)
	}
	scheme := "https"
	host := domain
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	if strings.HasSuffix(host, ".onion") || host == "localhost" || host == "127.0.0.1" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/.well-known/lnurlp/%s", scheme, domain, url.PathEscape(user)), nil
}

// Bolt11Decoder decodes payment requests with zpay32 for the given network.
func Bolt11Decoder(net *chaincfg.Params) Decoder {
	return func(pr string) (*Decoded, error) {
		inv, err := zpay32.Decode(pr, net)
		if err != nil {
			return nil, err
		}
		if inv.PaymentHash == nil {
			return nil, fmt.Errorf("invoice has no payment hash")
		}
		d := &Decoded{PaymentHash: hex.EncodeToString(inv.PaymentHash[:])}
		if inv.MilliSat != nil {
			d.AmountMsat = int64(*inv.MilliSat)
		}
		return d, nil
	}
}

func (l *lnurl) CreateInvoice(ctx context.Context, amountMsat int64) (*lightning.Invoice, error) {
	pre := &lightning.PrePayRequest{}
	if err := l.getJSON(ctx, l.wellKnown, pre); err != nil {
		return nil, fmt.Errorf("lnurl: pay request: %w", err)
	}
	if strings.EqualFold(pre.Status, "ERROR") {
		return nil, fmt.Errorf("lnurl: pay request: %s", pre.Reason)
	}
	if pre.Callback == "" {
		return nil, fmt.Errorf("lnurl: pay request has no callback")
	}
	if amountMsat < pre.MinSendable || (pre.MaxSendable > 0 && amountMsat > pre.MaxSendable) {
		return nil, fmt.Errorf(
			"lnurl: amount %d msat outside [%d, %d]",
			amountMsat,
			pre.MinSendable,
			pre.MaxSendable,
		)
	}

	callback, err := url.Parse(pre.Callback)
	if err != nil {
		return nil, fmt.Errorf("lnurl: callback: %w", err)
	}
	q := callback.Query()
	q.Set("amount", strconv.FormatInt(amountMsat, 10))
	q.Set("expiry", strconv.FormatInt(int64(l.expiry/time.Second), 10))
	callback.RawQuery = q.Encode()

	pr := &lightning.PaymentRequest{}
	if err := l.getJSON(ctx, callback.String(), pr); err != nil {
		return nil, fmt.Errorf("lnurl: callback: %w", err)
	}
	if strings.EqualFold(pr.Status, "ERROR") {
		return nil, fmt.Errorf("lnurl: callback: %s", pr.Reason)
	}
	if pr.Verify == "" {
		return nil, fmt.Errorf("lnurl: address does not support verify")
	}

	decoded, err := l.decode(pr.PR)
	if err != nil {
		return nil, fmt.Errorf("lnurl: decode invoice: %w", err)
	}
	if decoded.AmountMsat != 0 && decoded.AmountMsat != amountMsat {
		return nil, fmt.Errorf(
			"lnurl: invoice amount %d msat, asked for %d",
			decoded.AmountMsat,
			amountMsat,
		)
	}
	if pr.Routes == nil {
		pr.Routes = []string{}
	}

	return &lightning.Invoice{
		PaymentHash:    decoded.PaymentHash,
		PaymentRequest: *pr,
		PrePayRequest:  pre,
		AmountMsat:     amountMsat,
	}, nil
}

func (l *lnurl) CheckSettled(ctx context.Context, invoice *lightning.Invoice) (bool, error) {
	if invoice.PaymentRequest.Verify == "" {
		return false, fmt.Errorf("lnurl: invoice %s has no verify url", invoice.PaymentHash)
	}

	res := &verifyResponse{}
	if err := l.getJSON(ctx, invoice.PaymentRequest.Verify, res); err != nil {
		return false, fmt.Errorf("lnurl: verify: %w", err)
	}
	if strings.EqualFold(res.Status, "ERROR") {
		return false, fmt.Errorf("lnurl: verify: %s", res.Reason)
	}
	return res.Settled, nil
}

func (l *lnurl) getJSON(ctx context.Context, u string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	res, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(res.Body).Decode(target)
}
