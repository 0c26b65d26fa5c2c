// Package memory is an in-process implementation of store.Store.
//
// Transactions are serialized: WithinTx holds a single store-wide lock for the
// duration of the callback and works on a copy of the state that replaces the
// committed state only when the callback succeeds. This trivially satisfies
// the row-lock contract of the store package and gives real rollback, which
// makes the package suitable for tests and single-process deployments.
package memory

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/auctoritas/auctoritas/store"
)

// Option configures a Store.
type Option func(*Store)

// WithLockWait bounds how long WithinTx waits for the store lock before
// failing with store.ErrLockTimeout. Zero waits until the context ends.
func WithLockWait(d time.Duration) Option {
	return func(s *Store) {
		s.lockWait = d
	}
}

// Store keeps every record in memory.
type Store struct {
	sem      chan struct{}
	lockWait time.Duration
	state    *state
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		sem:   make(chan struct{}, 1),
		state: newState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithinTx runs fn against a private copy of the state and publishes the copy
// only if fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if fn == nil {
		return errors.New("memory: nil transaction func")
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	work := s.state.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// DeleteExpired removes every record whose expiry is before now.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (store.SweepResult, error) {
	var res store.SweepResult
	if err := s.acquire(ctx); err != nil {
		return res, err
	}
	defer s.release()

	st := s.state
	res.Sessions = deleteWhere(st.sessions, func(v store.Session) bool { return v.ExpiresAt.Before(now) })
	res.RefreshTokens = deleteWhere(st.refreshTokens, func(v store.RefreshToken) bool { return v.ExpiresAt.Before(now) })
	res.MFAChallenges = deleteWhere(st.challenges, func(v store.MFAChallenge) bool { return v.ExpiresAt.Before(now) })
	res.AuthorizationRequests = deleteWhere(st.authRequests, func(v store.OAuthAuthorizationRequest) bool { return v.ExpiresAt.Before(now) })
	res.ExchangeCodes = deleteWhere(st.exchangeCodes, func(v store.OAuthExchangeCode) bool { return v.ExpiresAt.Before(now) })
	res.OneTimeTokens = deleteWhere(st.oneTimeTokens, func(v store.OneTimeToken) bool { return v.ExpiresAt.Before(now) })
	return res, nil
}

func (s *Store) acquire(ctx context.Context) error {
	var timeout <-chan time.Time
	if s.lockWait > 0 {
		timer := time.NewTimer(s.lockWait)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-timeout:
		return store.ErrLockTimeout
	case <-ctx.Done():
		return store.ErrLockTimeout
	}
}

func (s *Store) release() {
	<-s.sem
}

type state struct {
	principals    map[string]store.Principal
	sessions      map[string]store.Session
	refreshTokens map[string]store.RefreshToken
	mfaSecrets    map[string]store.MFASecret
	recoveryCodes map[string][]store.RecoveryCode
	challenges    map[string]store.MFAChallenge
	authRequests  map[string]store.OAuthAuthorizationRequest
	connections   map[string]store.OAuthConnection
	exchangeCodes map[string]store.OAuthExchangeCode
	oneTimeTokens map[string]store.OneTimeToken
	history       map[string][]store.PasswordHistoryEntry
}

func newState() *state {
	return &state{
		principals:    map[string]store.Principal{},
		sessions:      map[string]store.Session{},
		refreshTokens: map[string]store.RefreshToken{},
		mfaSecrets:    map[string]store.MFASecret{},
		recoveryCodes: map[string][]store.RecoveryCode{},
		challenges:    map[string]store.MFAChallenge{},
		authRequests:  map[string]store.OAuthAuthorizationRequest{},
		connections:   map[string]store.OAuthConnection{},
		exchangeCodes: map[string]store.OAuthExchangeCode{},
		oneTimeTokens: map[string]store.OneTimeToken{},
		history:       map[string][]store.PasswordHistoryEntry{},
	}
}

func (s *state) clone() *state {
	out := &state{
		principals:    maps.Clone(s.principals),
		sessions:      maps.Clone(s.sessions),
		refreshTokens: maps.Clone(s.refreshTokens),
		mfaSecrets:    maps.Clone(s.mfaSecrets),
		recoveryCodes: make(map[string][]store.RecoveryCode, len(s.recoveryCodes)),
		challenges:    maps.Clone(s.challenges),
		authRequests:  maps.Clone(s.authRequests),
		connections:   maps.Clone(s.connections),
		exchangeCodes: maps.Clone(s.exchangeCodes),
		oneTimeTokens: maps.Clone(s.oneTimeTokens),
		history:       make(map[string][]store.PasswordHistoryEntry, len(s.history)),
	}
	for k, v := range s.recoveryCodes {
		out.recoveryCodes[k] = slices.Clone(v)
	}
	for k, v := range s.history {
		out.history[k] = slices.Clone(v)
	}
	return out
}

func deleteWhere[V any](m map[string]V, expired func(V) bool) int64 {
	var n int64
	for k, v := range m {
		if expired(v) {
			delete(m, k)
			n++
		}
	}
	return n
}
