package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/and161185/sessionkeeper/internal/errs"
	"github.com/and161185/sessionkeeper/internal/model"
	"github.com/and161185/sessionkeeper/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

var (
	_ repository.SessionStore     = (*SessionStore)(nil)
	_ repository.AccountDirectory = (*Accounts)(nil)
)

func newSession(acc uuid.UUID, id string, now time.Time) *model.Session {
	return &model.Session{
		TokenID:   id,
		AccountID: acc,
		TokenHash: "h-" + id,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func liveCount(st *SessionStore, acc uuid.UUID, now time.Time) int {
	n := 0
	for _, s := range st.Snapshot() {
		if s.AccountID == acc && s.ActiveAt(now) {
			n++
		}
	}
	return n
}

func TestSessionStore_IssueSupersedes(t *testing.T) {
	t.Parallel()
	now := time.Now()
	st := NewSessionStore(func() time.Time { return now })
	ctx := context.Background()
	acc := uuid.Must(uuid.NewV4())

	require.NoError(t, st.Issue(ctx, newSession(acc, "a", now)))
	require.NoError(t, st.Issue(ctx, newSession(acc, "b", now)))

	old, err := st.Lookup(ctx, "h-a")
	require.NoError(t, err)
	require.True(t, old.Revoked)
	require.Equal(t, model.ReasonSuperseded, old.RevokedReason)

	_, err = st.FindActive(ctx, "h-a")
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = st.FindActive(ctx, "h-b")
	require.NoError(t, err)
	require.Equal(t, 1, liveCount(st, acc, now))
}

func TestSessionStore_IssueDuplicateKeepsLiveSession(t *testing.T) {
	t.Parallel()
	now := time.Now()
	st := NewSessionStore(func() time.Time { return now })
	ctx := context.Background()
	acc := uuid.Must(uuid.NewV4())

	require.NoError(t, st.Issue(ctx, newSession(acc, "a", now)))

	dupID := newSession(acc, "a", now)
	dupID.TokenHash = "h-other"
	require.ErrorIs(t, st.Issue(ctx, dupID), errs.ErrConflict)

	dupHash := newSession(acc, "b", now)
	dupHash.TokenHash = "h-a"
	require.ErrorIs(t, st.Issue(ctx, dupHash), errs.ErrConflict)

	live, err := st.FindActive(ctx, "h-a")
	require.NoError(t, err)
	require.False(t, live.Revoked)
	require.Equal(t, 1, liveCount(st, acc, now))
}

func TestSessionStore_CreateRejectsSecondLive(t *testing.T) {
	t.Parallel()
	now := time.Now()
	st := NewSessionStore(func() time.Time { return now })
	ctx := context.Background()
	acc := uuid.Must(uuid.NewV4())

	require.NoError(t, st.Create(ctx, newSession(acc, "a", now)))
	require.ErrorIs(t, st.Create(ctx, newSession(acc, "b", now)), errs.ErrConflict)
	require.ErrorIs(t, st.Create(ctx, newSession(uuid.Must(uuid.NewV4()), "a", now)), errs.ErrConflict)
}

func TestSessionStore_FindActive_Expiry(t *testing.T) {
	t.Parallel()
	now := time.Now()
	st := NewSessionStore(func() time.Time { return now })
	ctx := context.Background()
	acc := uuid.Must(uuid.NewV4())
	require.NoError(t, st.Create(ctx, newSession(acc, "a", now)))

	now = now.Add(time.Hour)
	_, err := st.FindActive(ctx, "h-a")
	require.ErrorIs(t, err, errs.ErrNotFound)

	s, err := st.Lookup(ctx, "h-a")
	require.NoError(t, err)
	require.False(t, s.Revoked)
}

func TestSessionStore_RevokeIsIdempotentAndMonotonic(t *testing.T) {
	t.Parallel()
	now := time.Now()
	st := NewSessionStore(func() time.Time { return now })
	ctx := context.Background()
	acc := uuid.Must(uuid.NewV4())
	require.NoError(t, st.Create(ctx, newSession(acc, "a", now)))

	require.NoError(t, st.Revoke(ctx, "a", model.ReasonLogout))
	require.NoError(t, st.Revoke(ctx, "a", model.ReasonAdmin))
	require.NoError(t, st.Revoke(ctx, "missing", model.ReasonLogout))

	s, err := st.Lookup(ctx, "h-a")
	require.NoError(t, err)
	require.True(t, s.Revoked)
	require.Equal(t, model.ReasonLogout, s.RevokedReason, "first reason wins")
}

func TestSessionStore_Rotate(t *testing.T) {
	t.Parallel()
	now := time.Now()
	st := NewSessionStore(func() time.Time { return now })
	ctx := context.Background()
	acc := uuid.Must(uuid.NewV4())
	require.NoError(t, st.Issue(ctx, newSession(acc, "a", now)))

	require.NoError(t, st.Rotate(ctx, "a", newSession(acc, "b", now)))
	old, _ := st.Lookup(ctx, "h-a")
	require.Equal(t, model.ReasonRotation, old.RevokedReason)
	require.Equal(t, "b", old.ReplacedBy)

	// fencing: the old id is no longer active
	require.ErrorIs(t, st.Rotate(ctx, "a", newSession(acc, "c", now)), errs.ErrConflict)
	_, err := st.Lookup(ctx, "h-c")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Equal(t, 1, liveCount(st, acc, now))
}

func TestSessionStore_RotateExpiredIsNotConflict(t *testing.T) {
	t.Parallel()
	now := time.Now()
	clock := now
	st := NewSessionStore(func() time.Time { return clock })
	ctx := context.Background()
	acc := uuid.Must(uuid.NewV4())
	require.NoError(t, st.Issue(ctx, newSession(acc, "a", now)))

	clock = now.Add(time.Hour)
	err := st.Rotate(ctx, "a", newSession(acc, "b", clock))
	require.ErrorIs(t, err, errs.ErrExpired)
	require.NotErrorIs(t, err, errs.ErrConflict)

	old, err := st.Lookup(ctx, "h-a")
	require.NoError(t, err)
	require.False(t, old.Revoked)
	_, err = st.Lookup(ctx, "h-b")
	require.ErrorIs(t, err, errs.ErrNotFound)

	// a revoked record stays a conflict even once expired
	require.NoError(t, st.Revoke(ctx, "a", model.ReasonLogout))
	require.ErrorIs(t, st.Rotate(ctx, "a", newSession(acc, "c", clock)), errs.ErrConflict)
}

func TestSessionStore_Sweep(t *testing.T) {
	t.Parallel()
	now := time.Now()
	st := NewSessionStore(func() time.Time { return now })
	ctx := context.Background()
	a1, a2, a3 := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	require.NoError(t, st.Create(ctx, newSession(a1, "live", now)))
	require.NoError(t, st.Create(ctx, newSession(a2, "revoked", now)))
	require.NoError(t, st.Revoke(ctx, "revoked", model.ReasonLogout))
	expired := newSession(a3, "expired", now.Add(-2*time.Hour))
	require.NoError(t, st.Create(ctx, expired))

	n, err := st.Sweep(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.Len(t, st.Snapshot(), 1)
	_, err = st.Lookup(ctx, "h-revoked")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSessionStore_ConcurrentIssueKeepsSingleLive(t *testing.T) {
	t.Parallel()
	now := time.Now()
	st := NewSessionStore(func() time.Time { return now })
	ctx := context.Background()
	acc := uuid.Must(uuid.NewV4())

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = st.Issue(ctx, newSession(acc, fmt.Sprintf("s%d", i), now))
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, liveCount(st, acc, now))
	require.Len(t, st.Snapshot(), 32)
}

func TestAccounts(t *testing.T) {
	t.Parallel()
	id := uuid.Must(uuid.NewV4())
	a := NewAccounts(id)

	got, err := a.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, id, got.ID)

	a.Remove(id)
	_, err = a.FindByID(context.Background(), id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}
