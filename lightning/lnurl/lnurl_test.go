package lnurl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebdeveloper6952/gobuffet/lightning"
)

var testHash = strings.Repeat("ab", 32)

type fakeAddress struct {
	srv      *httptest.Server
	settled  bool
	amount   string
	expiry   string
	noVerify bool
}

func newFakeAddress(t *testing.T) *fakeAddress {
	t.Helper()
	f := &fakeAddress{}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/lnurlp/alice", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(lightning.PrePayRequest{
			Tag:         "payRequest",
			Callback:    f.srv.URL + "/lnurlp/alice/callback",
			Metadata:    `[["text/plain","alice"]]`,
			MinSendable: 1000,
			MaxSendable: 1000000,
			NostrPubkey: "npubalice",
		})
	})
	mux.HandleFunc("/lnurlp/alice/callback", func(w http.ResponseWriter, r *http.Request) {
		f.amount = r.URL.Query().Get("amount")
		f.expiry = r.URL.Query().Get("expiry")
		pr := lightning.PaymentRequest{Status: "OK", PR: "lnbc" + f.amount}
		if !f.noVerify {
			pr.Verify = f.srv.URL + "/lnurlp/alice/verify/" + testHash
		}
		_ = json.NewEncoder(w).Encode(pr)
	})
	mux.HandleFunc("/lnurlp/alice/verify/"+testHash, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(verifyResponse{Status: "OK", Settled: f.settled})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAddress) address() string {
	return "alice@" + strings.TrimPrefix(f.srv.URL, "http://")
}

// fakeDecoder reads the amount back out of the "lnbc<msat>" requests the
// fake address hands out.
func fakeDecoder(pr string) (*Decoded, error) {
	var msat int64
	if _, err := fmt.Sscanf(pr, "lnbc%d", &msat); err != nil {
		return nil, err
	}
	return &Decoded{PaymentHash: testHash, AmountMsat: msat}, nil
}

func TestWellKnownURL(t *testing.T) {
	u, err := WellKnownURL("bob@getalby.com")
	require.NoError(t, err)
	assert.Equal(t, "https://getalby.com/.well-known/lnurlp/bob", u)

	u, err = WellKnownURL("bob@abcdef.onion")
	require.NoError(t, err)
	assert.Equal(t, "http://abcdef.onion/.well-known/lnurlp/bob", u)

	_, err = WellKnownURL("not-an-address")
	assert.Error(t, err)
}

func TestCreateInvoiceAndVerify(t *testing.T) {
	f := newFakeAddress(t)
	gw, err := New(f.address(), nil, WithDecoder(fakeDecoder), WithHTTPClient(f.srv.Client()))
	require.NoError(t, err)

	inv, err := gw.CreateInvoice(context.Background(), 21000)
	require.NoError(t, err)
	assert.Equal(t, "21000", f.amount)
	assert.Equal(t, "3600", f.expiry)
	assert.Equal(t, testHash, inv.PaymentHash)
	assert.Equal(t, "npubalice", inv.Payer())
	assert.NotNil(t, inv.PaymentRequest.Routes)

	settled, err := gw.CheckSettled(context.Background(), inv)
	require.NoError(t, err)
	assert.False(t, settled)

	f.settled = true
	settled, err = gw.CheckSettled(context.Background(), inv)
	require.NoError(t, err)
	assert.True(t, settled)
}

func TestCreateInvoiceOutOfRange(t *testing.T) {
	f := newFakeAddress(t)
	gw, err := New(f.address(), nil, WithDecoder(fakeDecoder))
	require.NoError(t, err)

	_, err = gw.CreateInvoice(context.Background(), 500)
	assert.ErrorContains(t, err, "outside")
}

func TestCreateInvoiceAmountMismatch(t *testing.T) {
	f := newFakeAddress(t)
	gw, err := New(f.address(), nil, WithDecoder(func(pr string) (*Decoded, error) {
		return &Decoded{PaymentHash: testHash, AmountMsat: 1}, nil
	}))
	require.NoError(t, err)

	_, err = gw.CreateInvoice(context.Background(), 21000)
	assert.ErrorContains(t, err, "asked for")
}

func TestCreateInvoiceRequiresVerify(t *testing.T) {
	f := newFakeAddress(t)
	f.noVerify = true
	gw, err := New(f.address(), nil, WithDecoder(fakeDecoder))
	require.NoError(t, err)

	_, err = gw.CreateInvoice(context.Background(), 21000)
	assert.ErrorContains(t, err, "verify")
}
