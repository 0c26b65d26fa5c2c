package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/auctoritas/auctoritas/store"
)

type tx struct {
	q pgx.Tx
}

var _ store.Tx = (*tx)(nil)

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func (t *tx) exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := t.q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}

/*
====================================
PRINCIPALS
====================================
*/

const principalColumns = `id, tenant_id, kind, role, email, name, password_hash, email_verified,
	failed_attempts, failed_window_start, lockout_until, created_at, updated_at`

func scanPrincipal(row pgx.Row) (*store.Principal, error) {
	var (
		p           store.Principal
		kind        string
		windowStart *time.Time
		lockout     *time.Time
	)
	err := row.Scan(&p.ID, &p.TenantID, &kind, &p.Role, &p.Email, &p.Name, &p.PasswordHash, &p.EmailVerified,
		&p.FailedAttempts, &windowStart, &lockout, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	p.Kind = store.PrincipalKind(kind)
	p.FailedWindowStart = derefTime(windowStart)
	p.LockoutUntil = derefTime(lockout)
	return &p, nil
}

func (t *tx) FindPrincipalByID(ctx context.Context, tenantID, id string) (*store.Principal, error) {
	return scanPrincipal(t.q.QueryRow(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

func (t *tx) FindPrincipalByIDForUpdate(ctx context.Context, tenantID, id string) (*store.Principal, error) {
	return scanPrincipal(t.q.QueryRow(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, id))
}

func (t *tx) FindPrincipalByEmailForUpdate(ctx context.Context, tenantID string, kind store.PrincipalKind, email string) (*store.Principal, error) {
	return scanPrincipal(t.q.QueryRow(ctx,
		`SELECT `+principalColumns+` FROM principals
		WHERE tenant_id = $1 AND kind = $2 AND lower(email) = lower($3) FOR UPDATE`,
		tenantID, string(kind), email))
}

func (t *tx) ExistsPrincipalByEmail(ctx context.Context, tenantID string, kind store.PrincipalKind, email string) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM principals WHERE tenant_id = $1 AND kind = $2 AND lower(email) = lower($3))`,
		tenantID, string(kind), email).Scan(&exists)
	return exists, mapErr(err)
}

func (t *tx) InsertPrincipal(ctx context.Context, p *store.Principal) error {
	_, err := t.exec(ctx, `INSERT INTO principals (`+principalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.TenantID, string(p.Kind), p.Role, p.Email, p.Name, p.PasswordHash, p.EmailVerified,
		p.FailedAttempts, nullTime(p.FailedWindowStart), nullTime(p.LockoutUntil), p.CreatedAt, p.UpdatedAt)
	return err
}

func (t *tx) UpdatePrincipal(ctx context.Context, p *store.Principal) error {
	n, err := t.exec(ctx, `UPDATE principals SET
		role = $3, email = $4, name = $5, password_hash = $6, email_verified = $7,
		failed_attempts = $8, failed_window_start = $9, lockout_until = $10, updated_at = $11
		WHERE tenant_id = $1 AND id = $2`,
		p.TenantID, p.ID, p.Role, p.Email, p.Name, p.PasswordHash, p.EmailVerified,
		p.FailedAttempts, nullTime(p.FailedWindowStart), nullTime(p.LockoutUntil), p.UpdatedAt)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

/*
====================================
SESSIONS & REFRESH TOKENS
====================================
*/

func (t *tx) InsertSession(ctx context.Context, s *store.Session) error {
	_, err := t.exec(ctx, `INSERT INTO sessions (id, principal_id, tenant_id, device_info, ip_address, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.PrincipalID, s.TenantID, s.DeviceInfo, s.IPAddress, s.ExpiresAt, s.CreatedAt)
	return err
}

func (t *tx) TouchSession(ctx context.Context, id, ipAddress, deviceInfo string, expiresAt time.Time) (bool, error) {
	n, err := t.exec(ctx, `UPDATE sessions SET ip_address = $2, device_info = $3, expires_at = $4 WHERE id = $1`,
		id, ipAddress, deviceInfo, expiresAt)
	return n > 0, err
}

func (t *tx) ListSessions(ctx context.Context, principalID string) ([]store.Session, error) {
	rows, err := t.q.Query(ctx, `SELECT id, principal_id, tenant_id, device_info, ip_address, expires_at, created_at
		FROM sessions WHERE principal_id = $1 ORDER BY created_at, id`, principalID)
	if err != nil {
		return nil, mapErr(err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Session, error) {
		var s store.Session
		err := row.Scan(&s.ID, &s.PrincipalID, &s.TenantID, &s.DeviceInfo, &s.IPAddress, &s.ExpiresAt, &s.CreatedAt)
		return s, err
	})
	return out, mapErr(err)
}

func (t *tx) DeleteSession(ctx context.Context, id string) (bool, error) {
	n, err := t.exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return n > 0, err
}

func (t *tx) DeleteSessionsByPrincipal(ctx context.Context, principalID string) (int64, error) {
	return t.exec(ctx, `DELETE FROM sessions WHERE principal_id = $1`, principalID)
}

func (t *tx) InsertRefreshToken(ctx context.Context, rt *store.RefreshToken) error {
	_, err := t.exec(ctx, `INSERT INTO refresh_tokens
		(id, token_hash, principal_id, tenant_id, session_id, expires_at, revoked, revoked_at, replaced_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rt.ID, rt.TokenHash, rt.PrincipalID, rt.TenantID, rt.SessionID, rt.ExpiresAt,
		rt.Revoked, nullTime(rt.RevokedAt), rt.ReplacedBy, rt.CreatedAt)
	return err
}

func (t *tx) FindRefreshTokenByHashForUpdate(ctx context.Context, tokenHash string) (*store.RefreshToken, error) {
	var (
		rt        store.RefreshToken
		revokedAt *time.Time
	)
	err := t.q.QueryRow(ctx, `SELECT id, token_hash, principal_id, tenant_id, session_id, expires_at,
		revoked, revoked_at, replaced_by, created_at
		FROM refresh_tokens WHERE token_hash = $1 FOR UPDATE`, tokenHash).
		Scan(&rt.ID, &rt.TokenHash, &rt.PrincipalID, &rt.TenantID, &rt.SessionID, &rt.ExpiresAt,
			&rt.Revoked, &revokedAt, &rt.ReplacedBy, &rt.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	rt.RevokedAt = derefTime(revokedAt)
	return &rt, nil
}

func (t *tx) RevokeRefreshToken(ctx context.Context, id, replacedBy string, at time.Time) (bool, error) {
	n, err := t.exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, replaced_by = $3
		WHERE id = $1 AND revoked = FALSE`, id, at, replacedBy)
	return n == 1, err
}

func (t *tx) RevokeRefreshTokensBySession(ctx context.Context, sessionID string, at time.Time) (int64, error) {
	return t.exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2
		WHERE session_id = $1 AND revoked = FALSE`, sessionID, at)
}

func (t *tx) RevokeRefreshTokensByPrincipal(ctx context.Context, principalID string, at time.Time) (int64, error) {
	return t.exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2
		WHERE principal_id = $1 AND revoked = FALSE`, principalID, at)
}

/*
====================================
MFA
====================================
*/

func (t *tx) FindMFASecretForUpdate(ctx context.Context, principalID string) (*store.MFASecret, error) {
	var (
		s         store.MFASecret
		state     string
		enabledAt *time.Time
	)
	err := t.q.QueryRow(ctx, `SELECT principal_id, tenant_id, encrypted_secret, state, last_used_counter, created_at, enabled_at
		FROM mfa_secrets WHERE principal_id = $1 FOR UPDATE`, principalID).
		Scan(&s.PrincipalID, &s.TenantID, &s.EncryptedSecret, &state, &s.LastUsedCounter, &s.CreatedAt, &enabledAt)
	if err != nil {
		return nil, mapErr(err)
	}
	s.State = store.MFAState(state)
	s.EnabledAt = derefTime(enabledAt)
	return &s, nil
}

func (t *tx) SaveMFASecret(ctx context.Context, s *store.MFASecret) error {
	_, err := t.exec(ctx, `INSERT INTO mfa_secrets (principal_id, tenant_id, encrypted_secret, state, last_used_counter, created_at, enabled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (principal_id) DO UPDATE SET
			encrypted_secret = EXCLUDED.encrypted_secret,
			state = EXCLUDED.state,
			last_used_counter = EXCLUDED.last_used_counter,
			created_at = EXCLUDED.created_at,
			enabled_at = EXCLUDED.enabled_at`,
		s.PrincipalID, s.TenantID, s.EncryptedSecret, string(s.State), s.LastUsedCounter, s.CreatedAt, nullTime(s.EnabledAt))
	return err
}

func (t *tx) ReplaceRecoveryCodes(ctx context.Context, principalID string, codes []store.RecoveryCode) error {
	if _, err := t.DeleteRecoveryCodes(ctx, principalID); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, c := range codes {
		batch.Queue(`INSERT INTO recovery_codes (id, principal_id, code_hash, used_at, created_at) VALUES ($1, $2, $3, $4, $5)`,
			c.ID, principalID, c.CodeHash, nullTime(c.UsedAt), c.CreatedAt)
	}
	if batch.Len() == 0 {
		return nil
	}
	return mapErr(t.q.SendBatch(ctx, batch).Close())
}

func (t *tx) CountUnusedRecoveryCodes(ctx context.Context, principalID string) (int, error) {
	var n int
	err := t.q.QueryRow(ctx, `SELECT count(*) FROM recovery_codes WHERE principal_id = $1 AND used_at IS NULL`,
		principalID).Scan(&n)
	return n, mapErr(err)
}

func (t *tx) ConsumeRecoveryCode(ctx context.Context, principalID, codeHash string, at time.Time) (bool, error) {
	n, err := t.exec(ctx, `UPDATE recovery_codes SET used_at = $3
		WHERE id = (
			SELECT id FROM recovery_codes
			WHERE principal_id = $1 AND code_hash = $2 AND used_at IS NULL
			LIMIT 1 FOR UPDATE
		) AND used_at IS NULL`, principalID, codeHash, at)
	return n == 1, err
}

func (t *tx) DeleteRecoveryCodes(ctx context.Context, principalID string) (int64, error) {
	return t.exec(ctx, `DELETE FROM recovery_codes WHERE principal_id = $1`, principalID)
}

func (t *tx) InsertMFAChallenge(ctx context.Context, c *store.MFAChallenge) error {
	_, err := t.exec(ctx, `INSERT INTO mfa_challenges (id, token_hash, principal_id, tenant_id, expires_at, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.TokenHash, c.PrincipalID, c.TenantID, c.ExpiresAt, nullTime(c.UsedAt), c.CreatedAt)
	return err
}

func (t *tx) FindMFAChallengeByHashForUpdate(ctx context.Context, tokenHash string) (*store.MFAChallenge, error) {
	var (
		c      store.MFAChallenge
		usedAt *time.Time
	)
	err := t.q.QueryRow(ctx, `SELECT id, token_hash, principal_id, tenant_id, expires_at, used_at, created_at
		FROM mfa_challenges WHERE token_hash = $1 FOR UPDATE`, tokenHash).
		Scan(&c.ID, &c.TokenHash, &c.PrincipalID, &c.TenantID, &c.ExpiresAt, &usedAt, &c.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	c.UsedAt = derefTime(usedAt)
	return &c, nil
}

func (t *tx) MarkMFAChallengeUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	n, err := t.exec(ctx, `UPDATE mfa_challenges SET used_at = $2 WHERE id = $1 AND used_at IS NULL`, id, at)
	return n == 1, err
}

/*
====================================
OAUTH
====================================
*/

func (t *tx) InsertAuthorizationRequest(ctx context.Context, r *store.OAuthAuthorizationRequest) error {
	_, err := t.exec(ctx, `INSERT INTO oauth_authorization_requests
		(id, tenant_id, provider, state_hash, code_verifier, app_redirect_uri, callback_uri, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.TenantID, r.Provider, r.StateHash, r.CodeVerifier, r.AppRedirectURI, r.CallbackURI, r.ExpiresAt, r.CreatedAt)
	return err
}

func (t *tx) FindAuthorizationRequestByStateForUpdate(ctx context.Context, stateHash string) (*store.OAuthAuthorizationRequest, error) {
	var r store.OAuthAuthorizationRequest
	err := t.q.QueryRow(ctx, `SELECT id, tenant_id, provider, state_hash, code_verifier, app_redirect_uri, callback_uri,
		expires_at, created_at
		FROM oauth_authorization_requests WHERE state_hash = $1 FOR UPDATE`, stateHash).
		Scan(&r.ID, &r.TenantID, &r.Provider, &r.StateHash, &r.CodeVerifier, &r.AppRedirectURI, &r.CallbackURI,
			&r.ExpiresAt, &r.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func (t *tx) DeleteAuthorizationRequest(ctx context.Context, id string) (bool, error) {
	n, err := t.exec(ctx, `DELETE FROM oauth_authorization_requests WHERE id = $1`, id)
	return n == 1, err
}

func (t *tx) FindOAuthConnectionForUpdate(ctx context.Context, tenantID, provider, providerUserID string) (*store.OAuthConnection, error) {
	var c store.OAuthConnection
	err := t.q.QueryRow(ctx, `SELECT id, tenant_id, provider, provider_user_id, principal_id, email, created_at, updated_at
		FROM oauth_connections WHERE tenant_id = $1 AND provider = $2 AND provider_user_id = $3 FOR UPDATE`,
		tenantID, provider, providerUserID).
		Scan(&c.ID, &c.TenantID, &c.Provider, &c.ProviderUserID, &c.PrincipalID, &c.Email, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (t *tx) InsertOAuthConnection(ctx context.Context, c *store.OAuthConnection) error {
	_, err := t.exec(ctx, `INSERT INTO oauth_connections
		(id, tenant_id, provider, provider_user_id, principal_id, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.TenantID, c.Provider, c.ProviderUserID, c.PrincipalID, c.Email, c.CreatedAt, c.UpdatedAt)
	return err
}

func (t *tx) UpdateOAuthConnectionEmail(ctx context.Context, id, email string, at time.Time) error {
	n, err := t.exec(ctx, `UPDATE oauth_connections SET email = $2, updated_at = $3 WHERE id = $1`, id, email, at)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) InsertExchangeCode(ctx context.Context, c *store.OAuthExchangeCode) error {
	_, err := t.exec(ctx, `INSERT INTO oauth_exchange_codes
		(id, code_hash, tenant_id, principal_id, provider, expires_at, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.CodeHash, c.TenantID, c.PrincipalID, c.Provider, c.ExpiresAt, nullTime(c.UsedAt), c.CreatedAt)
	return err
}

func (t *tx) FindExchangeCodeByHashForUpdate(ctx context.Context, codeHash string) (*store.OAuthExchangeCode, error) {
	var (
		c      store.OAuthExchangeCode
		usedAt *time.Time
	)
	err := t.q.QueryRow(ctx, `SELECT id, code_hash, tenant_id, principal_id, provider, expires_at, used_at, created_at
		FROM oauth_exchange_codes WHERE code_hash = $1 FOR UPDATE`, codeHash).
		Scan(&c.ID, &c.CodeHash, &c.TenantID, &c.PrincipalID, &c.Provider, &c.ExpiresAt, &usedAt, &c.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	c.UsedAt = derefTime(usedAt)
	return &c, nil
}

func (t *tx) MarkExchangeCodeUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	n, err := t.exec(ctx, `UPDATE oauth_exchange_codes SET used_at = $2 WHERE id = $1 AND used_at IS NULL`, id, at)
	return n == 1, err
}

/*
====================================
ONE-TIME TOKENS & HISTORY
====================================
*/

const oneTimeColumns = `id, purpose, principal_id, tenant_id, token_hash, code_hash, attempts, expires_at, used_at, created_at`

func scanOneTimeToken(row pgx.Row) (*store.OneTimeToken, error) {
	var (
		ot      store.OneTimeToken
		purpose string
		usedAt  *time.Time
	)
	err := row.Scan(&ot.ID, &purpose, &ot.PrincipalID, &ot.TenantID, &ot.TokenHash, &ot.CodeHash,
		&ot.Attempts, &ot.ExpiresAt, &usedAt, &ot.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	ot.Purpose = store.TokenPurpose(purpose)
	ot.UsedAt = derefTime(usedAt)
	return &ot, nil
}

func (t *tx) InsertOneTimeToken(ctx context.Context, ot *store.OneTimeToken) error {
	_, err := t.exec(ctx, `INSERT INTO one_time_tokens (`+oneTimeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ot.ID, string(ot.Purpose), ot.PrincipalID, ot.TenantID, ot.TokenHash, ot.CodeHash,
		ot.Attempts, ot.ExpiresAt, nullTime(ot.UsedAt), ot.CreatedAt)
	return err
}

func (t *tx) FindOneTimeTokenByHashForUpdate(ctx context.Context, purpose store.TokenPurpose, tokenHash string) (*store.OneTimeToken, error) {
	return scanOneTimeToken(t.q.QueryRow(ctx, `SELECT `+oneTimeColumns+` FROM one_time_tokens
		WHERE purpose = $1 AND token_hash = $2 FOR UPDATE`, string(purpose), tokenHash))
}

func (t *tx) FindLatestOneTimeTokenForUpdate(ctx context.Context, purpose store.TokenPurpose, principalID string) (*store.OneTimeToken, error) {
	return scanOneTimeToken(t.q.QueryRow(ctx, `SELECT `+oneTimeColumns+` FROM one_time_tokens
		WHERE purpose = $1 AND principal_id = $2
		ORDER BY created_at DESC LIMIT 1 FOR UPDATE`, string(purpose), principalID))
}

func (t *tx) RecordOneTimeTokenMiss(ctx context.Context, id string, maxAttempts int, at time.Time) (int, error) {
	var attempts int
	err := t.q.QueryRow(ctx, `UPDATE one_time_tokens
		SET attempts = attempts + 1,
		    used_at = CASE WHEN attempts + 1 >= $2 THEN $3 ELSE used_at END
		WHERE id = $1 AND used_at IS NULL
		RETURNING attempts`, id, maxAttempts, at).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return attempts, mapErr(err)
}

func (t *tx) MarkOneTimeTokenUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	n, err := t.exec(ctx, `UPDATE one_time_tokens SET used_at = $2 WHERE id = $1 AND used_at IS NULL`, id, at)
	return n == 1, err
}

func (t *tx) InvalidateOneTimeTokens(ctx context.Context, purpose store.TokenPurpose, principalID string, at time.Time) (int64, error) {
	return t.exec(ctx, `UPDATE one_time_tokens SET used_at = $3
		WHERE purpose = $1 AND principal_id = $2 AND used_at IS NULL`, string(purpose), principalID, at)
}

func (t *tx) CountOneTimeTokensSince(ctx context.Context, purpose store.TokenPurpose, principalID string, since time.Time) (int, error) {
	var n int
	err := t.q.QueryRow(ctx, `SELECT count(*) FROM one_time_tokens
		WHERE purpose = $1 AND principal_id = $2 AND created_at >= $3`, string(purpose), principalID, since).Scan(&n)
	return n, mapErr(err)
}

func (t *tx) AppendPasswordHistory(ctx context.Context, e store.PasswordHistoryEntry) error {
	_, err := t.exec(ctx, `INSERT INTO password_history (principal_id, password_hash, created_at) VALUES ($1, $2, $3)`,
		e.PrincipalID, e.PasswordHash, e.CreatedAt)
	return err
}

func (t *tx) RecentPasswordHashes(ctx context.Context, principalID string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := t.q.Query(ctx, `SELECT password_hash FROM password_history
		WHERE principal_id = $1 ORDER BY created_at DESC LIMIT $2`, principalID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return out, mapErr(err)
}
