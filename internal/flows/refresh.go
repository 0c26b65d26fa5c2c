package flows

import (
	"context"

	"github.com/auctoritas/auctoritas/events"
	"github.com/auctoritas/auctoritas/store"
)

// RefreshRequest rotates one refresh token.
type RefreshRequest struct {
	TenantID     string
	RefreshToken string
	Client       Client
}

// RefreshResult carries the rotated pair.
type RefreshResult struct {
	Tokens      Tokens
	PrincipalID string
	TenantID    string
	Events      []events.Event
}

// RunRefresh locks the presented token, revokes it in favour of a new link of
// the same chain and extends the session. Of two concurrent calls with the
// same token exactly one observes an unrevoked row.
func RunRefresh(ctx context.Context, tx store.Tx, req RefreshRequest, deps Deps) (RefreshResult, error) {
	var out RefreshResult
	if req.RefreshToken == "" {
		return out, deps.Errors.InvalidRefreshToken
	}

	rt, err := tx.FindRefreshTokenByHashForUpdate(ctx, deps.HashToken(req.RefreshToken))
	if err != nil {
		return out, mapLookup(err, deps.Errors.InvalidRefreshToken)
	}
	now := deps.Now()
	switch {
	case req.TenantID != "" && rt.TenantID != req.TenantID:
		return out, deps.Errors.InvalidRefreshToken
	case rt.Revoked:
		deps.logger().Info("revoked refresh token presented")
		return out, deps.Errors.RefreshTokenRevoked
	case !now.Before(rt.ExpiresAt):
		return out, deps.Errors.RefreshTokenExpired
	}

	p, err := tx.FindPrincipalByID(ctx, rt.TenantID, rt.PrincipalID)
	if err != nil {
		return out, mapLookup(err, deps.Errors.InvalidRefreshToken)
	}

	raw, err := deps.NewToken()
	if err != nil {
		return out, err
	}
	next := &store.RefreshToken{
		ID:          deps.NewID(),
		TokenHash:   deps.HashToken(raw),
		PrincipalID: rt.PrincipalID,
		TenantID:    rt.TenantID,
		SessionID:   rt.SessionID,
		ExpiresAt:   now.Add(deps.RefreshTTL),
		CreatedAt:   now,
	}
	if err := tx.InsertRefreshToken(ctx, next); err != nil {
		return out, err
	}
	revoked, err := tx.RevokeRefreshToken(ctx, rt.ID, next.ID, now)
	if err != nil {
		return out, err
	}
	if !revoked {
		return out, Abort(deps.Errors.RefreshTokenRevoked)
	}

	alive, err := tx.TouchSession(ctx, rt.SessionID, req.Client.IPAddress, req.Client.UserAgent, next.ExpiresAt)
	if err != nil {
		return out, err
	}
	if !alive {
		// The sweep may have removed an idle session whose chain is still valid.
		if err := tx.InsertSession(ctx, &store.Session{
			ID:          rt.SessionID,
			PrincipalID: rt.PrincipalID,
			TenantID:    rt.TenantID,
			DeviceInfo:  req.Client.UserAgent,
			IPAddress:   req.Client.IPAddress,
			ExpiresAt:   next.ExpiresAt,
			CreatedAt:   now,
		}); err != nil {
			return out, err
		}
	}

	access, accessExp, err := deps.MintAccess(p, rt.SessionID)
	if err != nil {
		return out, err
	}

	out.Tokens = Tokens{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     raw,
		RefreshExpiresAt: next.ExpiresAt,
		SessionID:        rt.SessionID,
	}
	out.PrincipalID = rt.PrincipalID
	out.TenantID = rt.TenantID
	out.Events = []events.Event{
		deps.event(events.TypeRefreshTokenRotated, rt.TenantID, rt.PrincipalID, rt.SessionID,
			map[string]string{"replaced": rt.ID, "replaced_by": next.ID}),
	}
	return out, nil
}
