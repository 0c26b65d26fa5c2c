package flows

import (
	"context"
	"strconv"

	"github.com/auctoritas/auctoritas/events"
	"github.com/auctoritas/auctoritas/store"
	"github.com/auctoritas/auctoritas/tenant"
)

// Issue methods recorded on principal.logged_in events.
const (
	MethodPassword     = "password"
	MethodTOTP         = "totp"
	MethodRecoveryCode = "recovery_code"
	MethodOAuth        = "oauth"
	MethodRegister     = "register"
)

// IssueRequest asks the ledger for a new session.
type IssueRequest struct {
	Principal *store.Principal
	Tenant    *tenant.Settings
	Client    Client
	Method    string
}

// IssueResult is the issued pair plus the events of the issuance.
type IssueResult struct {
	Tokens Tokens
	Events []events.Event
}

// RunIssue creates one session and the first refresh token of its chain.
// When the tenant caps sessions per principal, the oldest sessions beyond
// the cap are ended first.
func RunIssue(ctx context.Context, tx store.Tx, req IssueRequest, deps Deps) (IssueResult, error) {
	p := req.Principal
	now := deps.Now()

	var out IssueResult
	if max := deps.maxSessionsFor(req.Tenant); max > 0 {
		existing, err := tx.ListSessions(ctx, p.ID)
		if err != nil {
			return out, err
		}
		for i := 0; len(existing)-i >= max; i++ {
			evicted := existing[i]
			if _, err := tx.RevokeRefreshTokensBySession(ctx, evicted.ID, now); err != nil {
				return out, err
			}
			if _, err := tx.DeleteSession(ctx, evicted.ID); err != nil {
				return out, err
			}
			out.Events = append(out.Events, deps.event(events.TypeSessionsRevoked, p.TenantID, p.ID, evicted.ID,
				map[string]string{"reason": "max_sessions"}))
		}
	}

	raw, err := deps.NewToken()
	if err != nil {
		return out, err
	}
	sess := &store.Session{
		ID:          deps.NewID(),
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
		DeviceInfo:  req.Client.UserAgent,
		IPAddress:   req.Client.IPAddress,
		ExpiresAt:   now.Add(deps.RefreshTTL),
		CreatedAt:   now,
	}
	if err := tx.InsertSession(ctx, sess); err != nil {
		return out, err
	}
	rt := &store.RefreshToken{
		ID:          deps.NewID(),
		TokenHash:   deps.HashToken(raw),
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
		SessionID:   sess.ID,
		ExpiresAt:   sess.ExpiresAt,
		CreatedAt:   now,
	}
	if err := tx.InsertRefreshToken(ctx, rt); err != nil {
		return out, err
	}

	access, accessExp, err := deps.MintAccess(p, sess.ID)
	if err != nil {
		return out, err
	}

	out.Tokens = Tokens{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     raw,
		RefreshExpiresAt: rt.ExpiresAt,
		SessionID:        sess.ID,
	}
	out.Events = append(out.Events, deps.event(events.TypePrincipalLoggedIn, p.TenantID, p.ID, sess.ID,
		map[string]string{"method": req.Method}))
	return out, nil
}

// RunRevokeAll revokes every live refresh token of the principal and deletes
// all of its sessions.
func RunRevokeAll(ctx context.Context, tx store.Tx, tenantID, principalID, reason string, deps Deps) (events.Event, error) {
	now := deps.Now()
	tokens, err := tx.RevokeRefreshTokensByPrincipal(ctx, principalID, now)
	if err != nil {
		return events.Event{}, err
	}
	sessions, err := tx.DeleteSessionsByPrincipal(ctx, principalID)
	if err != nil {
		return events.Event{}, err
	}
	return deps.event(events.TypeSessionsRevoked, tenantID, principalID, "", map[string]string{
		"reason":         reason,
		"refresh_tokens": strconv.FormatInt(tokens, 10),
		"sessions":       strconv.FormatInt(sessions, 10),
	}), nil
}

// LogoutRequest ends the session a refresh token belongs to.
type LogoutRequest struct {
	TenantID     string
	RefreshToken string
}

// RunLogout revokes the presented token and ends its session. A token that
// was already rotated or revoked is rejected.
func RunLogout(ctx context.Context, tx store.Tx, req LogoutRequest, deps Deps) ([]events.Event, error) {
	rt, err := tx.FindRefreshTokenByHashForUpdate(ctx, deps.HashToken(req.RefreshToken))
	if err != nil {
		return nil, mapLookup(err, deps.Errors.InvalidRefreshToken)
	}
	if req.TenantID != "" && rt.TenantID != req.TenantID {
		return nil, deps.Errors.InvalidRefreshToken
	}
	if rt.Revoked {
		return nil, deps.Errors.RefreshTokenRevoked
	}

	now := deps.Now()
	if _, err := tx.RevokeRefreshTokensBySession(ctx, rt.SessionID, now); err != nil {
		return nil, err
	}
	if _, err := tx.DeleteSession(ctx, rt.SessionID); err != nil {
		return nil, err
	}
	return []events.Event{
		deps.event(events.TypePrincipalLoggedOut, rt.TenantID, rt.PrincipalID, rt.SessionID, nil),
	}, nil
}

// RunLogoutAll ends every session of an existing principal.
func RunLogoutAll(ctx context.Context, tx store.Tx, tenantID, principalID string, deps Deps) ([]events.Event, error) {
	if _, err := tx.FindPrincipalByIDForUpdate(ctx, tenantID, principalID); err != nil {
		return nil, mapLookup(err, deps.Errors.PrincipalNotFound)
	}
	ev, err := RunRevokeAll(ctx, tx, tenantID, principalID, "logout_all", deps)
	if err != nil {
		return nil, err
	}
	return []events.Event{ev}, nil
}
