package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auctoritas/auctoritas/store"
	"github.com/auctoritas/auctoritas/store/memory"
)

func seedPrincipal(t *testing.T, s *memory.Store) store.Principal {
	t.Helper()
	p := store.Principal{
		ID:       "p-1",
		TenantID: "t-1",
		Kind:     store.KindEndUser,
		Email:    "ada@example.com",
	}
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertPrincipal(ctx, &p)
	})
	require.NoError(t, err)
	return p
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s := memory.New()
	seedPrincipal(t, s)

	boom := errors.New("boom")
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		p, err := tx.FindPrincipalByIDForUpdate(ctx, "t-1", "p-1")
		require.NoError(t, err)
		p.EmailVerified = true
		require.NoError(t, tx.UpdatePrincipal(ctx, p))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_ = s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		p, err := tx.FindPrincipalByID(ctx, "t-1", "p-1")
		require.NoError(t, err)
		assert.False(t, p.EmailVerified)
		return nil
	})
}

func TestInsertPrincipalRejectsDuplicateEmailPerTenant(t *testing.T) {
	s := memory.New()
	seedPrincipal(t, s)

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertPrincipal(ctx, &store.Principal{ID: "p-2", TenantID: "t-1", Kind: store.KindEndUser, Email: "ADA@example.com"})
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	err = s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertPrincipal(ctx, &store.Principal{ID: "p-3", TenantID: "t-2", Kind: store.KindEndUser, Email: "ada@example.com"})
	})
	assert.NoError(t, err)
}

func TestRevokeRefreshTokenIsConditional(t *testing.T) {
	s := memory.New()
	now := time.Now()
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertRefreshToken(ctx, &store.RefreshToken{ID: "rt-1", TokenHash: "h1", PrincipalID: "p-1", ExpiresAt: now.Add(time.Hour)})
	})
	require.NoError(t, err)

	var first, second bool
	err = s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		first, err = tx.RevokeRefreshToken(ctx, "rt-1", "rt-2", now)
		if err != nil {
			return err
		}
		second, err = tx.RevokeRefreshToken(ctx, "rt-1", "rt-3", now)
		return err
	})
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)

	_ = s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		rt, err := tx.FindRefreshTokenByHashForUpdate(ctx, "h1")
		require.NoError(t, err)
		assert.Equal(t, "rt-2", rt.ReplacedBy)
		return nil
	})
}

func TestConsumeRecoveryCodeConcurrently(t *testing.T) {
	s := memory.New()
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.ReplaceRecoveryCodes(ctx, "p-1", []store.RecoveryCode{
			{ID: "c-1", PrincipalID: "p-1", CodeHash: "code"},
			{ID: "c-2", PrincipalID: "p-1", CodeHash: "other"},
		})
	})
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
				ok, err := tx.ConsumeRecoveryCode(ctx, "p-1", "code", time.Now())
				if ok {
					wins.Add(1)
				}
				return err
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	_ = s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		n, err := tx.CountUnusedRecoveryCodes(ctx, "p-1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return nil
	})
}

func TestLockWaitTimeout(t *testing.T) {
	s := memory.New(memory.WithLockWait(20 * time.Millisecond))

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error { return nil })
	close(done)
	assert.ErrorIs(t, err, store.ErrLockTimeout)
}

func TestDeleteExpired(t *testing.T) {
	s := memory.New()
	now := time.Now()
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.InsertSession(ctx, &store.Session{ID: "s-old", PrincipalID: "p-1", ExpiresAt: now.Add(-time.Minute)}))
		require.NoError(t, tx.InsertSession(ctx, &store.Session{ID: "s-new", PrincipalID: "p-1", ExpiresAt: now.Add(time.Minute)}))
		require.NoError(t, tx.InsertMFAChallenge(ctx, &store.MFAChallenge{ID: "c-1", TokenHash: "x", ExpiresAt: now.Add(-time.Second)}))
		return tx.InsertExchangeCode(ctx, &store.OAuthExchangeCode{ID: "e-1", CodeHash: "y", ExpiresAt: now.Add(-time.Second)})
	})
	require.NoError(t, err)

	res, err := s.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Sessions)
	assert.Equal(t, int64(1), res.MFAChallenges)
	assert.Equal(t, int64(1), res.ExchangeCodes)
	assert.Equal(t, int64(3), res.Total())
}

func TestRecentPasswordHashesNewestFirst(t *testing.T) {
	s := memory.New()
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, h := range []string{"h1", "h2", "h3"} {
			if err := tx.AppendPasswordHistory(ctx, store.PasswordHistoryEntry{PrincipalID: "p-1", PasswordHash: h}); err != nil {
				return err
			}
		}
		got, err := tx.RecentPasswordHashes(ctx, "p-1", 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"h3", "h2"}, got)
		return nil
	})
	require.NoError(t, err)
}
