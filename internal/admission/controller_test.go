// SPDX-License-Identifier: MIT

package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memIndex struct {
	mu   sync.Mutex
	recs map[string]string
}

func newMemIndex() *memIndex { return &memIndex{recs: map[string]string{}} }

func (m *memIndex) Find(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.recs[key]
	return id, ok, nil
}

func (m *memIndex) Record(_ context.Context, key, resourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[key] = resourceID
	return nil
}

// scriptedStore loses every claim except the winOn-th PutIfAbsent and never
// returns a record, simulating a winner that finishes between the claim race
// and the follow-up read.
type scriptedStore struct {
	mu    sync.Mutex
	puts  int
	winOn int
}

func (s *scriptedStore) PutIfAbsent(context.Context, string, Record, time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	return s.puts == s.winOn, nil
}

func (s *scriptedStore) Get(context.Context, string) (Record, bool, error) {
	return Record{}, false, nil
}

func (s *scriptedStore) Delete(context.Context, string) error { return nil }

func newTestController(t *testing.T) (*Controller, *MemoryStore, *memIndex) {
	t.Helper()
	store := NewMemoryStore()
	index := newMemIndex()
	logger := zerolog.Nop()
	c := NewController(Config{Store: store, Index: index, Origin: "origin-test", Logger: &logger})
	return c, store, index
}

func noopFactory(context.Context, string) error { return nil }

func testIdentity() Identity {
	return Identity{Kind: "import_recipe", Target: "https://example.com/stew"}
}

func TestTryAdmitAdmitsFresh(t *testing.T) {
	c, store, _ := newTestController(t)
	ctx := context.Background()
	id := testIdentity()

	var gotJobID string
	dec, err := c.TryAdmit(ctx, id, func(_ context.Context, jobID string) error {
		gotJobID = jobID
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmitted, dec.Outcome)
	require.NotEmpty(t, dec.JobID)
	assert.Equal(t, dec.JobID, gotJobID, "factory must receive the decision's job id")

	rec, found, err := store.Get(ctx, id.Key())
	require.NoError(t, err)
	require.True(t, found, "admission must leave a live claim")
	assert.Equal(t, dec.JobID, rec.JobID)
	assert.Equal(t, "origin-test", rec.OriginID)
}

func TestTryAdmitShortCircuitsOnExistingResource(t *testing.T) {
	c, _, index := newTestController(t)
	ctx := context.Background()
	id := testIdentity()

	require.NoError(t, index.Record(ctx, id.Key(), "recipe-42"))

	dec, err := c.TryAdmit(ctx, id, func(context.Context, string) error {
		t.Fatal("factory must not run for a recorded resource")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyExists, dec.Outcome)
	assert.Equal(t, "recipe-42", dec.ResourceID)
	assert.Empty(t, dec.JobID)
}

func TestTryAdmitReportsInFlight(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()
	id := testIdentity()

	first, err := c.TryAdmit(ctx, id, noopFactory)
	require.NoError(t, err)
	require.Equal(t, OutcomeAdmitted, first.Outcome)

	second, err := c.TryAdmit(ctx, id, func(context.Context, string) error {
		t.Fatal("factory must not run while a claim is live")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyInFlight, second.Outcome)
	assert.Equal(t, first.JobID, second.JobID, "duplicate must name the running job")
}

func TestTryAdmitEnqueueFailureReleasesClaim(t *testing.T) {
	c, store, _ := newTestController(t)
	ctx := context.Background()
	id := testIdentity()

	queueFull := errors.New("queue full")
	_, err := c.TryAdmit(ctx, id, func(context.Context, string) error { return queueFull })
	require.ErrorIs(t, err, queueFull)

	_, found, err := store.Get(ctx, id.Key())
	require.NoError(t, err)
	assert.False(t, found, "failed enqueue must not leave a claim behind")

	dec, err := c.TryAdmit(ctx, id, noopFactory)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmitted, dec.Outcome, "identity must be admissible after a failed enqueue")
}

func TestCompleteRecordsResourceAndClearsClaim(t *testing.T) {
	c, store, _ := newTestController(t)
	ctx := context.Background()
	id := testIdentity()

	_, err := c.TryAdmit(ctx, id, noopFactory)
	require.NoError(t, err)

	require.NoError(t, c.Complete(ctx, id, "recipe-9"))

	_, found, err := store.Get(ctx, id.Key())
	require.NoError(t, err)
	assert.False(t, found, "completion must clear the claim")

	dec, err := c.TryAdmit(ctx, id, func(context.Context, string) error {
		t.Fatal("factory must not run after completion")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyExists, dec.Outcome)
	assert.Equal(t, "recipe-9", dec.ResourceID)
}

func TestCompleteWithoutResourceSkipsIndex(t *testing.T) {
	c, _, index := newTestController(t)
	ctx := context.Background()
	id := Identity{Kind: "sync_caldav", Target: "house-1", Fingerprint: "2026-08-21T14:00"}

	_, err := c.TryAdmit(ctx, id, noopFactory)
	require.NoError(t, err)
	require.NoError(t, c.Complete(ctx, id, ""))

	_, found, err := index.Find(ctx, id.Key())
	require.NoError(t, err)
	assert.False(t, found, "empty resource id must not be indexed")

	dec, err := c.TryAdmit(ctx, id, noopFactory)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmitted, dec.Outcome, "repeatable work must admit again after completion")
}

func TestReleaseClearsClaim(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()
	id := testIdentity()

	first, err := c.TryAdmit(ctx, id, noopFactory)
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, id))

	second, err := c.TryAdmit(ctx, id, noopFactory)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmitted, second.Outcome)
	assert.NotEqual(t, first.JobID, second.JobID)
}

func TestTryAdmitRecoversWhenWinnerFinishesInWindow(t *testing.T) {
	store := &scriptedStore{winOn: 2}
	logger := zerolog.Nop()
	c := NewController(Config{Store: store, Index: newMemIndex(), Logger: &logger})

	dec, err := c.TryAdmit(context.Background(), testIdentity(), noopFactory)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmitted, dec.Outcome)
	assert.Equal(t, 2, store.puts, "decision must re-run exactly once after the claim vanished")
}

func TestTryAdmitGivesUpAfterSecondVanish(t *testing.T) {
	store := &scriptedStore{winOn: 0}
	logger := zerolog.Nop()
	c := NewController(Config{Store: store, Index: newMemIndex(), Logger: &logger})

	_, err := c.TryAdmit(context.Background(), testIdentity(), noopFactory)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vanished")
	assert.Equal(t, 2, store.puts)
}

func TestTryAdmitConcurrentSingleWinner(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()
	id := testIdentity()

	const callers = 16
	var mu sync.Mutex
	var enqueued, admitted, inFlight int
	var errs []error

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, err := c.TryAdmit(ctx, id, func(context.Context, string) error {
				mu.Lock()
				enqueued++
				mu.Unlock()
				return nil
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			switch dec.Outcome {
			case OutcomeAdmitted:
				admitted++
			case OutcomeAlreadyInFlight:
				inFlight++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, admitted, "exactly one caller must win")
	assert.Equal(t, callers-1, inFlight)
	assert.Equal(t, 1, enqueued, "factory must run exactly once")
}

func TestTryAdmitConcurrentSingleWinnerOverRedis(t *testing.T) {
	mr, store := setupMiniRedis(t)
	defer mr.Close()

	// two controllers sharing one redis stand in for two processes
	logger := zerolog.Nop()
	index := newMemIndex()
	procs := []*Controller{
		NewController(Config{Store: store, Index: index, Origin: "origin-a", Logger: &logger}),
		NewController(Config{Store: store, Index: index, Origin: "origin-b", Logger: &logger}),
	}
	ctx := context.Background()
	id := testIdentity()

	const callers = 16
	var mu sync.Mutex
	var admitted, inFlight int
	var errs []error

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		c := procs[i%len(procs)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, err := c.TryAdmit(ctx, id, noopFactory)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			switch dec.Outcome {
			case OutcomeAdmitted:
				admitted++
			case OutcomeAlreadyInFlight:
				inFlight++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, admitted, "the conditional write must pick one winner across processes")
	assert.Equal(t, callers-1, inFlight)
}

func TestTryAdmitTTLFailSafe(t *testing.T) {
	c, store, _ := newTestController(t)
	ctx := context.Background()
	id := testIdentity()

	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	first, err := c.TryAdmit(ctx, id, noopFactory)
	require.NoError(t, err)
	require.Equal(t, OutcomeAdmitted, first.Outcome)

	stuck, err := c.TryAdmit(ctx, id, noopFactory)
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyInFlight, stuck.Outcome)

	// crashed worker never completes or releases; the TTL unblocks the key
	now = now.Add(16 * time.Minute)

	recovered, err := c.TryAdmit(ctx, id, noopFactory)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmitted, recovered.Outcome)
	assert.NotEqual(t, first.JobID, recovered.JobID)
}

func TestTryAdmitValidatesIdentity(t *testing.T) {
	c, _, _ := newTestController(t)

	_, err := c.TryAdmit(context.Background(), Identity{Kind: "", Target: "x"}, func(context.Context, string) error {
		t.Fatal("factory must not run for an invalid identity")
		return nil
	})
	require.Error(t, err)
}

func TestNewControllerDefaults(t *testing.T) {
	store := NewMemoryStore()
	index := newMemIndex()

	c := NewController(Config{Store: store, Index: index})
	assert.Equal(t, 15*time.Minute, c.TTL())

	c = NewController(Config{Store: store, Index: index, TTL: 10 * time.Second})
	assert.Equal(t, time.Minute, c.TTL(), "TTL below the floor must be raised")

	assert.Panics(t, func() { NewController(Config{Index: index}) })
	assert.Panics(t, func() { NewController(Config{Store: store}) })
}
