// Package storetest holds behaviour tests shared by every model.TokenStore backend.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/refreshguard/internal/model"
	"github.com/dtroode/refreshguard/internal/testutil"
)

// Start is the fake clock origin used by the suite.
var Start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Factory builds an empty store driven by clock.
type Factory func(t *testing.T, clock *testutil.FakeClock) model.TokenStore

// Record builds refresh-token metadata for tests.
func Record(familyID, parentID string, seq int, issuedAt time.Time, ttl time.Duration) model.TokenMetadata {
	return model.TokenMetadata{
		TokenID:          uuid.NewString(),
		UserID:           uuid.New(),
		Kind:             model.TokenKindRefresh,
		IssuedAt:         issuedAt,
		ExpiresAt:        issuedAt.Add(ttl),
		FamilyID:         familyID,
		RotationSequence: seq,
		ParentTokenID:    parentID,
	}
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("put and get", func(t *testing.T) {
		clock := testutil.NewFakeClock(Start)
		store := newStore(t, clock)
		ctx := context.Background()

		rec := Record(uuid.NewString(), "", 0, Start, time.Hour)
		require.NoError(t, store.Put(ctx, rec))

		got, err := store.Get(ctx, rec.TokenID)
		require.NoError(t, err)
		assertSame(t, rec, got)
		assert.False(t, got.Used())
		assert.False(t, got.Revoked)
	})

	t.Run("get unknown token", func(t *testing.T) {
		store := newStore(t, testutil.NewFakeClock(Start))

		_, err := store.Get(context.Background(), uuid.NewString())
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("put overwrites", func(t *testing.T) {
		store := newStore(t, testutil.NewFakeClock(Start))
		ctx := context.Background()

		rec := Record(uuid.NewString(), "", 0, Start, time.Hour)
		require.NoError(t, store.Put(ctx, rec))
		rec.Revoked = true
		require.NoError(t, store.Put(ctx, rec))

		got, err := store.Get(ctx, rec.TokenID)
		require.NoError(t, err)
		assert.True(t, got.Revoked)
	})

	t.Run("mark used is write once", func(t *testing.T) {
		store := newStore(t, testutil.NewFakeClock(Start))
		ctx := context.Background()

		rec := Record(uuid.NewString(), "", 0, Start, time.Hour)
		require.NoError(t, store.Put(ctx, rec))

		first := Start.Add(time.Second)
		at, marked, err := store.MarkUsed(ctx, rec.TokenID, first)
		require.NoError(t, err)
		assert.True(t, marked)
		assert.True(t, at.Equal(first))

		at, marked, err = store.MarkUsed(ctx, rec.TokenID, first.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, marked)
		assert.True(t, at.Equal(first), "second call must report the original time")

		got, err := store.Get(ctx, rec.TokenID)
		require.NoError(t, err)
		require.NotNil(t, got.FirstUsedAt)
		assert.True(t, got.FirstUsedAt.Equal(first))
	})

	t.Run("mark used unknown token", func(t *testing.T) {
		store := newStore(t, testutil.NewFakeClock(Start))

		_, _, err := store.MarkUsed(context.Background(), uuid.NewString(), Start)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("concurrent mark used has one winner", func(t *testing.T) {
		store := newStore(t, testutil.NewFakeClock(Start))
		ctx := context.Background()

		rec := Record(uuid.NewString(), "", 0, Start, time.Hour)
		require.NoError(t, store.Put(ctx, rec))

		const workers = 16
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
			seen    []time.Time
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				at, marked, err := store.MarkUsed(ctx, rec.TokenID, Start.Add(time.Duration(i+1)*time.Millisecond))
				assert.NoError(t, err)
				mu.Lock()
				defer mu.Unlock()
				if marked {
					winners++
				}
				seen = append(seen, at)
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, winners)
		require.Len(t, seen, workers)
		for _, at := range seen {
			assert.True(t, at.Equal(seen[0]), "all callers must observe the winner's time")
		}
	})

	t.Run("revoke single token", func(t *testing.T) {
		store := newStore(t, testutil.NewFakeClock(Start))
		ctx := context.Background()

		fid := uuid.NewString()
		a := Record(fid, "", 0, Start, time.Hour)
		b := Record(fid, a.TokenID, 1, Start, time.Hour)
		require.NoError(t, store.Put(ctx, a))
		require.NoError(t, store.Put(ctx, b))

		require.NoError(t, store.Revoke(ctx, a.TokenID))

		got, err := store.Get(ctx, a.TokenID)
		require.NoError(t, err)
		assert.True(t, got.Revoked)
		got, err = store.Get(ctx, b.TokenID)
		require.NoError(t, err)
		assert.False(t, got.Revoked)

		assert.ErrorIs(t, store.Revoke(ctx, uuid.NewString()), model.ErrNotFound)
	})

	t.Run("revoke family", func(t *testing.T) {
		store := newStore(t, testutil.NewFakeClock(Start))
		ctx := context.Background()

		fid := uuid.NewString()
		root := Record(fid, "", 0, Start, time.Hour)
		child := Record(fid, root.TokenID, 1, Start, time.Hour)
		grandchild := Record(fid, child.TokenID, 2, Start, time.Hour)
		other := Record(uuid.NewString(), "", 0, Start, time.Hour)
		for _, rec := range []model.TokenMetadata{root, child, grandchild, other} {
			require.NoError(t, store.Put(ctx, rec))
		}

		require.NoError(t, store.RevokeFamily(ctx, fid))

		for _, rec := range []model.TokenMetadata{root, child, grandchild} {
			got, err := store.Get(ctx, rec.TokenID)
			require.NoError(t, err)
			assert.True(t, got.Revoked, "member %d should be revoked", rec.RotationSequence)
		}
		got, err := store.Get(ctx, other.TokenID)
		require.NoError(t, err)
		assert.False(t, got.Revoked, "other families are untouched")
	})

	t.Run("put after family revocation is stored revoked", func(t *testing.T) {
		store := newStore(t, testutil.NewFakeClock(Start))
		ctx := context.Background()

		fid := uuid.NewString()
		root := Record(fid, "", 0, Start, time.Hour)
		require.NoError(t, store.Put(ctx, root))
		require.NoError(t, store.RevokeFamily(ctx, fid))

		late := Record(fid, root.TokenID, 1, Start, time.Hour)
		require.NoError(t, store.Put(ctx, late))

		got, err := store.Get(ctx, late.TokenID)
		require.NoError(t, err)
		assert.True(t, got.Revoked)
	})

	t.Run("concurrent put and revoke family never leaves a live member", func(t *testing.T) {
		store := newStore(t, testutil.NewFakeClock(Start))
		ctx := context.Background()

		fid := uuid.NewString()
		root := Record(fid, "", 0, Start, time.Hour)
		require.NoError(t, store.Put(ctx, root))

		const children = 20
		recs := make([]model.TokenMetadata, children)
		for i := range recs {
			recs[i] = Record(fid, root.TokenID, 1, Start, time.Hour)
		}

		var wg sync.WaitGroup
		for i := range recs {
			wg.Add(1)
			go func(rec model.TokenMetadata) {
				defer wg.Done()
				assert.NoError(t, store.Put(ctx, rec))
			}(recs[i])
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.RevokeFamily(ctx, fid))
		}()
		wg.Wait()

		for _, rec := range append(recs, root) {
			got, err := store.Get(ctx, rec.TokenID)
			require.NoError(t, err)
			assert.True(t, got.Revoked)
		}
	})

	t.Run("latest in family", func(t *testing.T) {
		store := newStore(t, testutil.NewFakeClock(Start))
		ctx := context.Background()

		fid := uuid.NewString()
		root := Record(fid, "", 0, Start, time.Hour)
		child := Record(fid, root.TokenID, 1, Start, time.Hour)
		grandchild := Record(fid, child.TokenID, 2, Start, time.Hour)
		// Inserted out of order on purpose.
		require.NoError(t, store.Put(ctx, grandchild))
		require.NoError(t, store.Put(ctx, root))
		require.NoError(t, store.Put(ctx, child))

		got, err := store.LatestInFamily(ctx, fid)
		require.NoError(t, err)
		assert.Equal(t, grandchild.TokenID, got.TokenID)
		assert.Equal(t, 2, got.RotationSequence)
	})

	t.Run("latest in family prefers most recent sibling", func(t *testing.T) {
		store := newStore(t, testutil.NewFakeClock(Start))
		ctx := context.Background()

		fid := uuid.NewString()
		root := Record(fid, "", 0, Start, time.Hour)
		first := Record(fid, root.TokenID, 1, Start, time.Hour)
		second := Record(fid, root.TokenID, 1, Start, time.Hour)
		require.NoError(t, store.Put(ctx, root))
		require.NoError(t, store.Put(ctx, first))
		require.NoError(t, store.Put(ctx, second))

		got, err := store.LatestInFamily(ctx, fid)
		require.NoError(t, err)
		assert.Equal(t, second.TokenID, got.TokenID)
	})

	t.Run("latest in unknown family", func(t *testing.T) {
		store := newStore(t, testutil.NewFakeClock(Start))

		_, err := store.LatestInFamily(context.Background(), uuid.NewString())
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("cleanup removes only expired records", func(t *testing.T) {
		clock := testutil.NewFakeClock(Start)
		store := newStore(t, clock)
		ctx := context.Background()

		fid := uuid.NewString()
		old := Record(fid, "", 0, Start, time.Hour)
		fresh := Record(fid, old.TokenID, 1, Start.Add(30*time.Minute), time.Hour)
		edge := Record(uuid.NewString(), "", 0, Start, 2*time.Hour)
		for _, rec := range []model.TokenMetadata{old, fresh, edge} {
			require.NoError(t, store.Put(ctx, rec))
		}

		clock.Advance(time.Hour + time.Second)
		n, err := store.CleanupExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = store.Get(ctx, old.TokenID)
		assert.ErrorIs(t, err, model.ErrNotFound)
		_, err = store.Get(ctx, fresh.TokenID)
		assert.NoError(t, err)
		_, err = store.Get(ctx, edge.TokenID)
		assert.NoError(t, err)

		latest, err := store.LatestInFamily(ctx, fid)
		require.NoError(t, err)
		assert.Equal(t, fresh.TokenID, latest.TokenID)

		clock.Advance(24 * time.Hour)
		n, err = store.CleanupExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = store.LatestInFamily(ctx, fid)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("cleanup elects a new head", func(t *testing.T) {
		clock := testutil.NewFakeClock(Start)
		store := newStore(t, clock)
		ctx := context.Background()

		fid := uuid.NewString()
		root := Record(fid, "", 0, Start, 10*time.Hour)
		child := Record(fid, root.TokenID, 1, Start, time.Hour)
		require.NoError(t, store.Put(ctx, root))
		require.NoError(t, store.Put(ctx, child))

		clock.Advance(2 * time.Hour)
		n, err := store.CleanupExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		latest, err := store.LatestInFamily(ctx, fid)
		require.NoError(t, err)
		assert.Equal(t, root.TokenID, latest.TokenID)
	})
}

func assertSame(t *testing.T, want, got model.TokenMetadata) {
	t.Helper()
	assert.Equal(t, want.TokenID, got.TokenID)
	assert.Equal(t, want.UserID, got.UserID)
	assert.Equal(t, want.Kind, got.Kind)
	assert.True(t, want.IssuedAt.Equal(got.IssuedAt), "issued at: want %s, got %s", want.IssuedAt, got.IssuedAt)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt), "expires at: want %s, got %s", want.ExpiresAt, got.ExpiresAt)
	assert.Equal(t, want.FamilyID, got.FamilyID)
	assert.Equal(t, want.RotationSequence, got.RotationSequence)
	assert.Equal(t, want.ParentTokenID, got.ParentTokenID)
}
