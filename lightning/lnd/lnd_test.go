package lnd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/invoices"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	added  *invoicesrpc.AddInvoiceData
	state  invoices.ContractState
	err    error
	lookup lntypes.Hash
}

func (f *fakeClient) AddInvoice(_ context.Context, in *invoicesrpc.AddInvoiceData) (lntypes.Hash, string, error) {
	f.added = in
	if f.err != nil {
		return lntypes.Hash{}, "", f.err
	}
	return in.Preimage.Hash(), "lnbcrt10n1fake", nil
}

func (f *fakeClient) LookupInvoice(_ context.Context, hash lntypes.Hash) (*lndclient.Invoice, error) {
	f.lookup = hash
	if f.err != nil {
		return nil, f.err
	}
	return &lndclient.Invoice{Hash: hash, State: f.state}, nil
}

func TestCreateInvoice(t *testing.T) {
	fc := &fakeClient{}
	l := newWithClient(fc, Config{Memo: "gobuffet", Expiry: time.Hour})

	inv, err := l.CreateInvoice(context.Background(), 21000)
	require.NoError(t, err)

	require.NotNil(t, fc.added)
	assert.Equal(t, lnwire.MilliSatoshi(21000), fc.added.Value)
	assert.Equal(t, int64(3600), fc.added.Expiry)
	assert.Equal(t, "gobuffet", fc.added.Memo)
	assert.Equal(t, fc.added.Preimage.Hash().String(), inv.PaymentHash)
	assert.Equal(t, "lnbcrt10n1fake", inv.PaymentRequest.PR)
	assert.Equal(t, int64(21000), inv.AmountMsat)
}

func TestCheckSettled(t *testing.T) {
	fc := &fakeClient{state: invoices.ContractOpen}
	l := newWithClient(fc, Config{})

	inv, err := l.CreateInvoice(context.Background(), 1000)
	require.NoError(t, err)

	settled, err := l.CheckSettled(context.Background(), inv)
	require.NoError(t, err)
	assert.False(t, settled)
	assert.Equal(t, inv.PaymentHash, fc.lookup.String())

	fc.state = invoices.ContractSettled
	settled, err = l.CheckSettled(context.Background(), inv)
	require.NoError(t, err)
	assert.True(t, settled)
}

func TestCheckSettledError(t *testing.T) {
	fc := &fakeClient{}
	l := newWithClient(fc, Config{})
	inv, err := l.CreateInvoice(context.Background(), 1000)
	require.NoError(t, err)

	fc.err = errors.New("unavailable")
	_, err = l.CheckSettled(context.Background(), inv)
	assert.Error(t, err)
}
