// Package fake holds in-memory collaborators for tests.
package fake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/sebdeveloper6952/gobuffet/lightning"
)

var _ lightning.Gateway = (*Gateway)(nil)

// Gateway issues invoices with deterministic hashes and settles them on
// demand.
type Gateway struct {
	mu       sync.Mutex
	n        int
	settled  map[string]bool
	checks   map[string]int
	checkErr error
}

func NewGateway() *Gateway {
	return &Gateway{
		settled: make(map[string]bool),
		checks:  make(map[string]int),
	}
}

func (g *Gateway) CreateInvoice(_ context.Context, amountMsat int64) (*lightning.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	sum := sha256.Sum256([]byte(fmt.Sprintf("invoice-%d", g.n)))
	return &lightning.Invoice{
		PaymentHash: hex.EncodeToString(sum[:]),
		PaymentRequest: lightning.PaymentRequest{
			Status: "OK",
			PR:     fmt.Sprintf("lnbcrt%dn1fake", amountMsat),
			Verify: "fake",
			Routes: []string{},
		},
		AmountMsat: amountMsat,
	}, nil
}

func (g *Gateway) CheckSettled(_ context.Context, invoice *lightning.Invoice) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checks[invoice.PaymentHash]++
	if g.checkErr != nil {
		return false, g.checkErr
	}
	return g.settled[invoice.PaymentHash], nil
}

func (g *Gateway) Settle(paymentHash string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settled[paymentHash] = true
}

// FailChecks makes every settlement check return err until called with nil.
func (g *Gateway) FailChecks(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkErr = err
}

func (g *Gateway) Checks(paymentHash string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checks[paymentHash]
}
