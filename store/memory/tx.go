package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/auctoritas/auctoritas/store"
)

type tx struct {
	st *state
}

var _ store.Tx = (*tx)(nil)

/*
====================================
PRINCIPALS
====================================
*/

func (t *tx) FindPrincipalByID(_ context.Context, tenantID, id string) (*store.Principal, error) {
	p, ok := t.st.principals[id]
	if !ok || p.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (t *tx) FindPrincipalByIDForUpdate(ctx context.Context, tenantID, id string) (*store.Principal, error) {
	return t.FindPrincipalByID(ctx, tenantID, id)
}

func (t *tx) FindPrincipalByEmailForUpdate(_ context.Context, tenantID string, kind store.PrincipalKind, email string) (*store.Principal, error) {
	for _, p := range t.st.principals {
		if p.TenantID == tenantID && p.Kind == kind && strings.EqualFold(p.Email, email) {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) ExistsPrincipalByEmail(ctx context.Context, tenantID string, kind store.PrincipalKind, email string) (bool, error) {
	_, err := t.FindPrincipalByEmailForUpdate(ctx, tenantID, kind, email)
	if err == store.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (t *tx) InsertPrincipal(ctx context.Context, p *store.Principal) error {
	if _, ok := t.st.principals[p.ID]; ok {
		return store.ErrConflict
	}
	exists, err := t.ExistsPrincipalByEmail(ctx, p.TenantID, p.Kind, p.Email)
	if err != nil {
		return err
	}
	if exists {
		return store.ErrConflict
	}
	t.st.principals[p.ID] = *p
	return nil
}

func (t *tx) UpdatePrincipal(_ context.Context, p *store.Principal) error {
	cur, ok := t.st.principals[p.ID]
	if !ok || cur.TenantID != p.TenantID {
		return store.ErrNotFound
	}
	if !strings.EqualFold(cur.Email, p.Email) {
		for id, other := range t.st.principals {
			if id != p.ID && other.TenantID == p.TenantID && other.Kind == p.Kind && strings.EqualFold(other.Email, p.Email) {
				return store.ErrConflict
			}
		}
	}
	t.st.principals[p.ID] = *p
	return nil
}

/*
====================================
SESSIONS & REFRESH TOKENS
====================================
*/

func (t *tx) InsertSession(_ context.Context, s *store.Session) error {
	if _, ok := t.st.sessions[s.ID]; ok {
		return store.ErrConflict
	}
	t.st.sessions[s.ID] = *s
	return nil
}

func (t *tx) TouchSession(_ context.Context, id, ipAddress, deviceInfo string, expiresAt time.Time) (bool, error) {
	s, ok := t.st.sessions[id]
	if !ok {
		return false, nil
	}
	s.IPAddress = ipAddress
	s.DeviceInfo = deviceInfo
	s.ExpiresAt = expiresAt
	t.st.sessions[id] = s
	return true, nil
}

func (t *tx) ListSessions(_ context.Context, principalID string) ([]store.Session, error) {
	var out []store.Session
	for _, s := range t.st.sessions {
		if s.PrincipalID == principalID {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b store.Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (t *tx) DeleteSession(_ context.Context, id string) (bool, error) {
	if _, ok := t.st.sessions[id]; !ok {
		return false, nil
	}
	delete(t.st.sessions, id)
	return true, nil
}

func (t *tx) DeleteSessionsByPrincipal(_ context.Context, principalID string) (int64, error) {
	return deleteWhere(t.st.sessions, func(s store.Session) bool { return s.PrincipalID == principalID }), nil
}

func (t *tx) InsertRefreshToken(_ context.Context, rt *store.RefreshToken) error {
	if _, ok := t.st.refreshTokens[rt.ID]; ok {
		return store.ErrConflict
	}
	for _, other := range t.st.refreshTokens {
		if other.TokenHash == rt.TokenHash {
			return store.ErrConflict
		}
	}
	t.st.refreshTokens[rt.ID] = *rt
	return nil
}

func (t *tx) FindRefreshTokenByHashForUpdate(_ context.Context, tokenHash string) (*store.RefreshToken, error) {
	for _, rt := range t.st.refreshTokens {
		if rt.TokenHash == tokenHash {
			return &rt, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) RevokeRefreshToken(_ context.Context, id, replacedBy string, at time.Time) (bool, error) {
	rt, ok := t.st.refreshTokens[id]
	if !ok || rt.Revoked {
		return false, nil
	}
	rt.Revoked = true
	rt.RevokedAt = at
	rt.ReplacedBy = replacedBy
	t.st.refreshTokens[id] = rt
	return true, nil
}

func (t *tx) RevokeRefreshTokensBySession(_ context.Context, sessionID string, at time.Time) (int64, error) {
	return t.revokeWhere(at, func(rt store.RefreshToken) bool { return rt.SessionID == sessionID }), nil
}

func (t *tx) RevokeRefreshTokensByPrincipal(_ context.Context, principalID string, at time.Time) (int64, error) {
	return t.revokeWhere(at, func(rt store.RefreshToken) bool { return rt.PrincipalID == principalID }), nil
}

func (t *tx) revokeWhere(at time.Time, match func(store.RefreshToken) bool) int64 {
	var n int64
	for id, rt := range t.st.refreshTokens {
		if rt.Revoked || !match(rt) {
			continue
		}
		rt.Revoked = true
		rt.RevokedAt = at
		t.st.refreshTokens[id] = rt
		n++
	}
	return n
}

/*
====================================
MFA
====================================
*/

func (t *tx) FindMFASecretForUpdate(_ context.Context, principalID string) (*store.MFASecret, error) {
	s, ok := t.st.mfaSecrets[principalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (t *tx) SaveMFASecret(_ context.Context, s *store.MFASecret) error {
	t.st.mfaSecrets[s.PrincipalID] = *s
	return nil
}

func (t *tx) ReplaceRecoveryCodes(_ context.Context, principalID string, codes []store.RecoveryCode) error {
	t.st.recoveryCodes[principalID] = slices.Clone(codes)
	return nil
}

func (t *tx) CountUnusedRecoveryCodes(_ context.Context, principalID string) (int, error) {
	n := 0
	for _, c := range t.st.recoveryCodes[principalID] {
		if c.UsedAt.IsZero() {
			n++
		}
	}
	return n, nil
}

func (t *tx) ConsumeRecoveryCode(_ context.Context, principalID, codeHash string, at time.Time) (bool, error) {
	codes := t.st.recoveryCodes[principalID]
	for i := range codes {
		if codes[i].CodeHash == codeHash && codes[i].UsedAt.IsZero() {
			codes[i].UsedAt = at
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) DeleteRecoveryCodes(_ context.Context, principalID string) (int64, error) {
	n := int64(len(t.st.recoveryCodes[principalID]))
	delete(t.st.recoveryCodes, principalID)
	return n, nil
}

func (t *tx) InsertMFAChallenge(_ context.Context, c *store.MFAChallenge) error {
	for _, other := range t.st.challenges {
		if other.TokenHash == c.TokenHash {
			return store.ErrConflict
		}
	}
	t.st.challenges[c.ID] = *c
	return nil
}

func (t *tx) FindMFAChallengeByHashForUpdate(_ context.Context, tokenHash string) (*store.MFAChallenge, error) {
	for _, c := range t.st.challenges {
		if c.TokenHash == tokenHash {
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) MarkMFAChallengeUsed(_ context.Context, id string, at time.Time) (bool, error) {
	c, ok := t.st.challenges[id]
	if !ok || !c.UsedAt.IsZero() {
		return false, nil
	}
	c.UsedAt = at
	t.st.challenges[id] = c
	return true, nil
}

/*
====================================
OAUTH
====================================
*/

func (t *tx) InsertAuthorizationRequest(_ context.Context, r *store.OAuthAuthorizationRequest) error {
	for _, other := range t.st.authRequests {
		if other.StateHash == r.StateHash {
			return store.ErrConflict
		}
	}
	t.st.authRequests[r.ID] = *r
	return nil
}

func (t *tx) FindAuthorizationRequestByStateForUpdate(_ context.Context, stateHash string) (*store.OAuthAuthorizationRequest, error) {
	for _, r := range t.st.authRequests {
		if r.StateHash == stateHash {
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) DeleteAuthorizationRequest(_ context.Context, id string) (bool, error) {
	if _, ok := t.st.authRequests[id]; !ok {
		return false, nil
	}
	delete(t.st.authRequests, id)
	return true, nil
}

func (t *tx) FindOAuthConnectionForUpdate(_ context.Context, tenantID, provider, providerUserID string) (*store.OAuthConnection, error) {
	for _, c := range t.st.connections {
		if c.TenantID == tenantID && c.Provider == provider && c.ProviderUserID == providerUserID {
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) InsertOAuthConnection(ctx context.Context, c *store.OAuthConnection) error {
	if _, err := t.FindOAuthConnectionForUpdate(ctx, c.TenantID, c.Provider, c.ProviderUserID); err == nil {
		return store.ErrConflict
	}
	t.st.connections[c.ID] = *c
	return nil
}

func (t *tx) UpdateOAuthConnectionEmail(_ context.Context, id, email string, at time.Time) error {
	c, ok := t.st.connections[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Email = email
	c.UpdatedAt = at
	t.st.connections[id] = c
	return nil
}

func (t *tx) InsertExchangeCode(_ context.Context, c *store.OAuthExchangeCode) error {
	for _, other := range t.st.exchangeCodes {
		if other.CodeHash == c.CodeHash {
			return store.ErrConflict
		}
	}
	t.st.exchangeCodes[c.ID] = *c
	return nil
}

func (t *tx) FindExchangeCodeByHashForUpdate(_ context.Context, codeHash string) (*store.OAuthExchangeCode, error) {
	for _, c := range t.st.exchangeCodes {
		if c.CodeHash == codeHash {
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) MarkExchangeCodeUsed(_ context.Context, id string, at time.Time) (bool, error) {
	c, ok := t.st.exchangeCodes[id]
	if !ok || !c.UsedAt.IsZero() {
		return false, nil
	}
	c.UsedAt = at
	t.st.exchangeCodes[id] = c
	return true, nil
}

/*
====================================
ONE-TIME TOKENS & HISTORY
====================================
*/

func (t *tx) InsertOneTimeToken(_ context.Context, ot *store.OneTimeToken) error {
	for _, other := range t.st.oneTimeTokens {
		if other.Purpose == ot.Purpose && other.TokenHash == ot.TokenHash {
			return store.ErrConflict
		}
	}
	t.st.oneTimeTokens[ot.ID] = *ot
	return nil
}

func (t *tx) FindOneTimeTokenByHashForUpdate(_ context.Context, purpose store.TokenPurpose, tokenHash string) (*store.OneTimeToken, error) {
	for _, ot := range t.st.oneTimeTokens {
		if ot.Purpose == purpose && ot.TokenHash == tokenHash {
			return &ot, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) FindLatestOneTimeTokenForUpdate(_ context.Context, purpose store.TokenPurpose, principalID string) (*store.OneTimeToken, error) {
	var found *store.OneTimeToken
	for _, ot := range t.st.oneTimeTokens {
		if ot.Purpose != purpose || ot.PrincipalID != principalID {
			continue
		}
		if found == nil || ot.CreatedAt.After(found.CreatedAt) {
			found = &ot
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (t *tx) RecordOneTimeTokenMiss(_ context.Context, id string, maxAttempts int, at time.Time) (int, error) {
	ot, ok := t.st.oneTimeTokens[id]
	if !ok || !ot.UsedAt.IsZero() {
		return 0, nil
	}
	ot.Attempts++
	if ot.Attempts >= maxAttempts {
		ot.UsedAt = at
	}
	t.st.oneTimeTokens[id] = ot
	return ot.Attempts, nil
}

func (t *tx) MarkOneTimeTokenUsed(_ context.Context, id string, at time.Time) (bool, error) {
	ot, ok := t.st.oneTimeTokens[id]
	if !ok || !ot.UsedAt.IsZero() {
		return false, nil
	}
	ot.UsedAt = at
	t.st.oneTimeTokens[id] = ot
	return true, nil
}

func (t *tx) InvalidateOneTimeTokens(_ context.Context, purpose store.TokenPurpose, principalID string, at time.Time) (int64, error) {
	var n int64
	for id, ot := range t.st.oneTimeTokens {
		if ot.Purpose == purpose && ot.PrincipalID == principalID && ot.UsedAt.IsZero() {
			ot.UsedAt = at
			t.st.oneTimeTokens[id] = ot
			n++
		}
	}
	return n, nil
}

func (t *tx) CountOneTimeTokensSince(_ context.Context, purpose store.TokenPurpose, principalID string, since time.Time) (int, error) {
	n := 0
	for _, ot := range t.st.oneTimeTokens {
		if ot.Purpose == purpose && ot.PrincipalID == principalID && !ot.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (t *tx) AppendPasswordHistory(_ context.Context, e store.PasswordHistoryEntry) error {
	t.st.history[e.PrincipalID] = append(t.st.history[e.PrincipalID], e)
	return nil
}

func (t *tx) RecentPasswordHashes(_ context.Context, principalID string, limit int) ([]string, error) {
	entries := t.st.history[principalID]
	out := make([]string, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i].PasswordHash)
	}
	return out, nil
}
