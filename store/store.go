package store

import (
	"context"
	"time"
)

// Store is the transactional persistence port.
type Store interface {
	// WithinTx runs fn in a single transaction. The transaction commits when fn
	// returns nil and rolls back otherwise. Implementations must not retry fn.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// DeleteExpired removes every expired session and single-use record.
	DeleteExpired(ctx context.Context, now time.Time) (SweepResult, error)
}

// Tx is the set of operations available inside one transaction.
type Tx interface {
	Principals
	Ledger
	MFA
	OAuth
	OneTimeTokens
	PasswordHistory
}

// Principals reads and writes principal rows.
type Principals interface {
	FindPrincipalByID(ctx context.Context, tenantID, id string) (*Principal, error)
	FindPrincipalByIDForUpdate(ctx context.Context, tenantID, id string) (*Principal, error)
	FindPrincipalByEmailForUpdate(ctx context.Context, tenantID string, kind PrincipalKind, email string) (*Principal, error)
	ExistsPrincipalByEmail(ctx context.Context, tenantID string, kind PrincipalKind, email string) (bool, error)
	InsertPrincipal(ctx context.Context, p *Principal) error
	UpdatePrincipal(ctx context.Context, p *Principal) error
}

// Ledger holds sessions and the refresh-token rotation chains.
type Ledger interface {
	InsertSession(ctx context.Context, s *Session) error
	// TouchSession refreshes the client details and expiry of a live session.
	// It reports false when the session no longer exists.
	TouchSession(ctx context.Context, id, ipAddress, deviceInfo string, expiresAt time.Time) (bool, error)
	// ListSessions returns the principal's sessions, oldest first.
	ListSessions(ctx context.Context, principalID string) ([]Session, error)
	DeleteSession(ctx context.Context, id string) (bool, error)
	DeleteSessionsByPrincipal(ctx context.Context, principalID string) (int64, error)

	InsertRefreshToken(ctx context.Context, t *RefreshToken) error
	FindRefreshTokenByHashForUpdate(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// RevokeRefreshToken marks a token revoked only if it is not revoked yet.
	RevokeRefreshToken(ctx context.Context, id, replacedBy string, at time.Time) (bool, error)
	RevokeRefreshTokensBySession(ctx context.Context, sessionID string, at time.Time) (int64, error)
	RevokeRefreshTokensByPrincipal(ctx context.Context, principalID string, at time.Time) (int64, error)
}

// MFA holds TOTP enrollment, recovery codes and login challenges.
type MFA interface {
	FindMFASecretForUpdate(ctx context.Context, principalID string) (*MFASecret, error)
	SaveMFASecret(ctx context.Context, s *MFASecret) error

	ReplaceRecoveryCodes(ctx context.Context, principalID string, codes []RecoveryCode) error
	CountUnusedRecoveryCodes(ctx context.Context, principalID string) (int, error)
	// ConsumeRecoveryCode marks exactly one matching unused code as used and
	// reports whether one was found.
	ConsumeRecoveryCode(ctx context.Context, principalID, codeHash string, at time.Time) (bool, error)
	DeleteRecoveryCodes(ctx context.Context, principalID string) (int64, error)

	InsertMFAChallenge(ctx context.Context, c *MFAChallenge) error
	FindMFAChallengeByHashForUpdate(ctx context.Context, tokenHash string) (*MFAChallenge, error)
	MarkMFAChallengeUsed(ctx context.Context, id string, at time.Time) (bool, error)
}

// OAuth holds authorization requests, provider connections and exchange codes.
type OAuth interface {
	InsertAuthorizationRequest(ctx context.Context, r *OAuthAuthorizationRequest) error
	FindAuthorizationRequestByStateForUpdate(ctx context.Context, stateHash string) (*OAuthAuthorizationRequest, error)
	DeleteAuthorizationRequest(ctx context.Context, id string) (bool, error)

	FindOAuthConnectionForUpdate(ctx context.Context, tenantID, provider, providerUserID string) (*OAuthConnection, error)
	InsertOAuthConnection(ctx context.Context, c *OAuthConnection) error
	UpdateOAuthConnectionEmail(ctx context.Context, id, email string, at time.Time) error

	InsertExchangeCode(ctx context.Context, c *OAuthExchangeCode) error
	FindExchangeCodeByHashForUpdate(ctx context.Context, codeHash string) (*OAuthExchangeCode, error)
	MarkExchangeCodeUsed(ctx context.Context, id string, at time.Time) (bool, error)
}

// OneTimeTokens holds password reset and email verification tokens.
type OneTimeTokens interface {
	InsertOneTimeToken(ctx context.Context, t *OneTimeToken) error
	FindOneTimeTokenByHashForUpdate(ctx context.Context, purpose TokenPurpose, tokenHash string) (*OneTimeToken, error)
	// FindLatestOneTimeTokenForUpdate returns the principal's newest token of
	// the purpose, used or not.
	FindLatestOneTimeTokenForUpdate(ctx context.Context, purpose TokenPurpose, principalID string) (*OneTimeToken, error)
	// RecordOneTimeTokenMiss counts one wrong code against an unused token and
	// marks it used once maxAttempts is reached. It returns the new count, or
	// zero when the token was already used.
	RecordOneTimeTokenMiss(ctx context.Context, id string, maxAttempts int, at time.Time) (int, error)
	MarkOneTimeTokenUsed(ctx context.Context, id string, at time.Time) (bool, error)
	// InvalidateOneTimeTokens marks every unused token of the principal as used.
	InvalidateOneTimeTokens(ctx context.Context, purpose TokenPurpose, principalID string, at time.Time) (int64, error)
	CountOneTimeTokensSince(ctx context.Context, purpose TokenPurpose, principalID string, since time.Time) (int, error)
}

// PasswordHistory is the append-only log of previous password hashes.
type PasswordHistory interface {
	AppendPasswordHistory(ctx context.Context, e PasswordHistoryEntry) error
	// RecentPasswordHashes returns up to limit hashes, newest first.
	RecentPasswordHashes(ctx context.Context, principalID string, limit int) ([]string, error)
}
