// Package storetest holds the behaviour every store.Store implementation
// must share. Store packages call Run from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebdeveloper6952/gobuffet/domain"
	"github.com/sebdeveloper6952/gobuffet/store"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) store.Store

func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateDuplicate", testCreateDuplicate},
		{"GetMissing", testGetMissing},
		{"UpdateMissing", testUpdateMissing},
		{"Lifecycle", testLifecycle},
		{"ErrorBudgetFreezes", testErrorBudgetFreezes},
		{"ConcurrentMarkPaid", testConcurrentMarkPaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

// NewJob returns an unpaid job with a deterministic payload.
func NewJob(hash string, tries int) *domain.Job {
	return domain.NewJob(
		hash,
		"SD",
		10000,
		tries,
		"npub1owner",
		json.RawMessage(`{"paymentHash":"`+hash+`","paymentRequest":{"pr":"lnbcrt1"}}`),
		json.RawMessage(`{"prompt":"a lighthouse"}`),
		&domain.Asset{
			Name:        "photo.png",
			Size:        2048,
			ContentType: "image/png",
			MD5:         "d41d8cd98f00b204e9800998ecf8427e",
			Path:        "/tmp/photo.png",
		},
		time.Now().UTC().Truncate(time.Millisecond),
	)
}

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := NewJob("aa01", 3)
	require.NoError(t, s.Create(ctx, job))

	got, err := s.Get(ctx, "aa01")
	require.NoError(t, err)
	assert.Equal(t, job.Service, got.Service)
	assert.Equal(t, job.PriceMsat, got.PriceMsat)
	assert.Equal(t, job.Owner, got.Owner)
	assert.JSONEq(t, string(job.Invoice), string(got.Invoice))
	assert.JSONEq(t, string(job.Request), string(got.Request))
	assert.Nil(t, got.Response)
	require.NotNil(t, got.Asset)
	assert.Equal(t, *job.Asset, *got.Asset)
	assert.False(t, got.Paid)
	assert.Equal(t, domain.StateUnpaid, got.State)
	assert.Equal(t, 3, got.RemainingTries)
	assert.WithinDuration(t, job.CreatedAt, got.CreatedAt, time.Millisecond)
	assert.True(t, got.PaidAt.IsZero())
}

func testCreateDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewJob("aa02", 3)))
	err := s.Create(ctx, NewJob("aa02", 1))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	got, err := s.Get(ctx, "aa02")
	require.NoError(t, err)
	assert.Equal(t, 3, got.RemainingTries)
}

func testGetMissing(t *testing.T, s store.Store) {
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testUpdateMissing(t *testing.T, s store.Store) {
	_, _, err := s.Update(context.Background(), "missing", domain.MarkPaid())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewJob("aa03", 2)))

	job, changed, err := s.Update(ctx, "aa03", domain.MarkPaid())
	require.NoError(t, err)
	require.True(t, changed)
	assert.True(t, job.Paid)
	assert.Equal(t, domain.StateFetching, job.State)
	assert.False(t, job.PaidAt.IsZero())

	_, changed, err = s.Update(ctx, "aa03", domain.MarkPaid())
	require.NoError(t, err)
	assert.False(t, changed)

	job, changed, err = s.Update(ctx, "aa03", domain.RecordIntermediate(json.RawMessage(`{"status":"processing"}`)))
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, domain.StateFetching, job.State)
	assert.JSONEq(t, `{"status":"processing"}`, string(job.Response))

	job, changed, err = s.Update(ctx, "aa03", domain.MarkComplete(json.RawMessage(`{"status":"success"}`)))
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, domain.StateCompleted, job.State)

	_, changed, err = s.Update(ctx, "aa03", domain.MarkComplete(json.RawMessage(`{"status":"other"}`)))
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := s.Get(ctx, "aa03")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success"}`, string(got.Response))
	assert.Equal(t, 2, got.RemainingTries)
}

func testErrorBudgetFreezes(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewJob("aa04", 1)))
	_, _, err := s.Update(ctx, "aa04", domain.MarkPaid())
	require.NoError(t, err)

	job, changed, err := s.Update(ctx, "aa04", domain.MarkError("upstream 503"))
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, domain.StateError, job.State)
	assert.Equal(t, 0, job.RemainingTries)
	frozenAt := job.UpdatedAt

	job, changed, err = s.Update(ctx, "aa04", domain.MarkError("later failure"))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "upstream 503", job.LastError)
	assert.Equal(t, 0, job.RemainingTries)
	assert.True(t, frozenAt.Equal(job.UpdatedAt))
}

func testConcurrentMarkPaid(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewJob("aa05", 3)))

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, changed, err := s.Update(ctx, "aa05", domain.MarkPaid())
			assert.NoError(t, err)
			if changed {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
}
