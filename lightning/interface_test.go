package lightning

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceRoundTrip(t *testing.T) {
	inv := &Invoice{
		PaymentHash: strings.Repeat("ab", 32),
		PaymentRequest: PaymentRequest{
			Status: "OK",
			PR:     "lnbcrt10n1...",
			Verify: "https://example.com/verify/1",
		},
		PrePayRequest: &PrePayRequest{NostrPubkey: "npub1x"},
		AmountMsat:    10000,
	}
	decorated := inv.WithSuccessAction("https://buffet.example/SD/"+inv.PaymentHash+"/get_result", "Paying for service")
	assert.Nil(t, inv.PaymentRequest.SuccessAction, "original is not modified")

	raw, err := decorated.Marshal()
	require.NoError(t, err)

	back, err := UnmarshalInvoice(raw)
	require.NoError(t, err)
	require.NotNil(t, back.PaymentRequest.SuccessAction)
	assert.Equal(t, "url", back.PaymentRequest.SuccessAction.Tag)
	assert.Equal(t, "npub1x", back.Payer())

	h, err := back.Hash()
	require.NoError(t, err)
	assert.Equal(t, inv.PaymentHash, h.String())
}

func TestInvoiceHashRejectsGarbage(t *testing.T) {
	_, err := (&Invoice{PaymentHash: "nothex"}).Hash()
	assert.Error(t, err)
}

func TestSatsFloor(t *testing.T) {
	assert.Equal(t, int64(1), SatsFloor(1))
	assert.Equal(t, int64(1), SatsFloor(1999))
	assert.Equal(t, int64(10), SatsFloor(10000))
}
