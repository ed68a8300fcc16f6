package lnd

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/invoices"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"

	"github.com/sebdeveloper6952/gobuffet/lightning"
)

// invoiceClient is the part of lndclient.LightningClient the gateway uses.
type invoiceClient interface {
	AddInvoice(ctx context.Context, in *invoicesrpc.AddInvoiceData) (lntypes.Hash, string, error)
	LookupInvoice(ctx context.Context, hash lntypes.Hash) (*lndclient.Invoice, error)
}

type Config struct {
	Address     string
	GrpcPort    string
	MacaroonHex string
	TLSData     string
	Network     lndclient.Network
	Memo        string
	Expiry      time.Duration
}

var _ lightning.Gateway = (*Client)(nil)

// Client is a lightning.Gateway backed by an lnd node over gRPC.
type Client struct {
	client invoiceClient
	svc    *lndclient.GrpcLndServices
	memo   string
	expiry time.Duration
}

func New(cfg Config) (*Client, error) {
	svc, err := lndclient.NewLndServices(&lndclient.LndServicesConfig{
		LndAddress:        fmt.Sprintf("%s:%s", cfg.Address, cfg.GrpcPort),
		Network:           cfg.Network,
		CustomMacaroonHex: cfg.MacaroonHex,
		TLSData:           cfg.TLSData,
	})
	if err != nil {
		return nil, fmt.Errorf("lnd: connect: %w", err)
	}

	l := newWithClient(svc.Client, cfg)
	l.svc = svc
	return l, nil
}

func newWithClient(client invoiceClient, cfg Config) *Client {
	return &Client{
		client: client,
		memo:   cfg.Memo,
		expiry: cfg.Expiry,
	}
}

func (l *Client) CreateInvoice(
	ctx context.Context,
	amountMsat int64,
) (*lightning.Invoice, error) {
	preimage := &lntypes.Preimage{}
	if _, err := rand.Read(preimage[:]); err != nil {
		return nil, err
	}

	hash, req, err := l.client.AddInvoice(
		ctx,
		&invoicesrpc.AddInvoiceData{
			Memo:     l.memo,
			Value:    lnwire.MilliSatoshi(amountMsat),
			Preimage: preimage,
			Expiry:   int64(l.expiry / time.Second),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("lnd: add invoice: %w", err)
	}

	return &lightning.Invoice{
		PaymentHash: hash.String(),
		PaymentRequest: lightning.PaymentRequest{
			Status: "OK",
			PR:     req,
			Verify: "lnd",
			Routes: []string{},
		},
		AmountMsat: amountMsat,
	}, nil
}

func (l *Client) CheckSettled(
	ctx context.Context,
	invoice *lightning.Invoice,
) (bool, error) {
	hash, err := invoice.Hash()
	if err != nil {
		return false, err
	}

	inv, err := l.client.LookupInvoice(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("lnd: lookup invoice: %w", err)
	}

	return inv.State == invoices.ContractSettled, nil
}

// Close releases the gRPC connection.
func (l *Client) Close() {
	if l.svc != nil {
		l.svc.Close()
	}
}
