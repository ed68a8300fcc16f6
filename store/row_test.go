package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebdeveloper6952/gobuffet/domain"
)

func TestRowKeepsUnpaidTimestampsZero(t *testing.T) {
	created := time.UnixMilli(1700000000123).UTC()
	j := domain.NewJob("ff00", "GPT", 21000, 3, "", json.RawMessage(`{}`), json.RawMessage(`{"q":1}`), nil, created)

	r, err := ToRow(j)
	require.NoError(t, err)
	assert.Equal(t, int64(0), r.Paid)
	assert.Equal(t, int64(0), r.PaidAt)
	assert.Equal(t, "", r.ResponseJSON)
	assert.Equal(t, "", r.TempFileJSON)
	assert.Equal(t, int64(1700000000123), r.Created)

	back, err := FromRow(r)
	require.NoError(t, err)
	assert.True(t, back.PaidAt.IsZero())
	assert.Nil(t, back.Response)
	assert.Nil(t, back.Asset)
	assert.Equal(t, created, back.CreatedAt)
}

func TestFromRowRejectsUnknownState(t *testing.T) {
	_, err := FromRow(&Row{PaymentHash: "ff01", State: "paused"})
	assert.Error(t, err)
}

func TestValidTableName(t *testing.T) {
	assert.NoError(t, ValidTableName("jobs"))
	assert.NoError(t, ValidTableName("nip105_jobs"))
	assert.Error(t, ValidTableName("jobs; DROP TABLE jobs"))
	assert.Error(t, ValidTableName(""))
	assert.Error(t, ValidTableName("1jobs"))
}

func TestColumnsMatchRowFields(t *testing.T) {
	r := &Row{}
	assert.Len(t, r.Dest(), len(Columns))
	assert.Len(t, r.Values(), len(Columns))
}
