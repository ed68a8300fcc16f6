package lnbits

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sebdeveloper6952/gobuffet/lightning"
)

type lnbits struct {
	url    string
	key    string
	memo   string
	client *http.Client
}

type payment struct {
	Out    bool   `json:"out"`
	Amount int64  `json:"amount"`
	Memo   string `json:"memo,omitempty"`
}

type paymentResponse struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
	Paid           bool   `json:"paid"`
}

// New returns a gateway for an LNbits wallet. key is the wallet's invoice
// (read) key.
func New(
	url string,
	key string,
	memo string,
	client *http.Client,
) (lightning.Gateway, error) {
	if url == "" || key == "" {
		return nil, fmt.Errorf("lnbits: url and key are required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &lnbits{
		url:    strings.TrimRight(url, "/"),
		key:    key,
		memo:   memo,
		client: client,
	}, nil
}

func (l *lnbits) CreateInvoice(ctx context.Context, amountMsat int64) (*lightning.Invoice, error) {
	body := &payment{
		Out:    false,
		Amount: lightning.SatsFloor(amountMsat),
		Memo:   l.memo,
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		l.url+"/api/v1/payments",
		bytes.NewBuffer(bodyBytes),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	target := &paymentResponse{}
	if err := l.do(req, target); err != nil {
		return nil, fmt.Errorf("lnbits: create invoice: %w", err)
	}

	inv := &lightning.Invoice{
		PaymentHash: target.PaymentHash,
		PaymentRequest: lightning.PaymentRequest{
			Status: "OK",
			PR:     target.PaymentRequest,
			Verify: "lnbits",
			Routes: []string{},
		},
		AmountMsat: amountMsat,
	}
	if _, err := inv.Hash(); err != nil {
		return nil, fmt.Errorf("lnbits: %w", err)
	}
	return inv, nil
}

func (l *lnbits) CheckSettled(ctx context.Context, invoice *lightning.Invoice) (bool, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		l.url+"/api/v1/payments/"+invoice.PaymentHash,
		http.NoBody,
	)
	if err != nil {
		return false, err
	}

	target := &paymentResponse{}
	if err := l.do(req, target); err != nil {
		return false, fmt.Errorf("lnbits: check payment: %w", err)
	}
	return target.Paid, nil
}

func (l *lnbits) do(req *http.Request, target any) error {
	req.Header.Set("X-Api-Key", l.key)

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
