package auctoritas

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/auctoritas/auctoritas/events"
	"github.com/auctoritas/auctoritas/internal/flows"
	"github.com/auctoritas/auctoritas/internal/limiters"
	"github.com/auctoritas/auctoritas/jwt"
	"github.com/auctoritas/auctoritas/store"
	"github.com/auctoritas/auctoritas/tenant"
)

// Engine runs the credential and session flows. It is safe for concurrent
// use once returned by [Builder.Build].
//
// Every operation runs in exactly one store transaction, except
// HandleCallback which uses two with the provider call between them. A
// domain failure that changed state (a failed login counting toward lockout,
// an expired OAuth state being deleted) still commits; an infrastructure
// failure rolls back. Events are published only after commit.
type Engine struct {
	config     Config
	store      store.Store
	tenants    tenant.Directory
	throttle   *limiters.Throttle
	dispatcher *events.Dispatcher
	metrics    *Metrics
	logger     *zap.Logger
	jwtManager *jwt.Manager
	totp       *totpManager
	now        func() time.Time
	deps       flows.Deps
}

// Close drains the event dispatcher. The store and Redis client belong to
// the caller.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.dispatcher.Close()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// EventsDropped returns how many events were discarded because the dispatch
// buffer was full or the publisher failed.
func (e *Engine) EventsDropped() uint64 {
	if e == nil {
		return 0
	}
	_, failed, dropped := e.dispatcher.Stats()
	return failed + dropped
}

// Sweep deletes every expired session and single-use record.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	if e == nil {
		return SweepResult{}, ErrEngineNotReady
	}
	res, err := e.store.DeleteExpired(ctx, e.now())
	if err != nil {
		return res, err
	}
	e.logger.Info("expired records swept", zap.Int64("deleted", res.Total()))
	return res, nil
}

type txFunc func(ctx context.Context, tx store.Tx) ([]events.Event, error)

// withinTx runs fn in one transaction. A domain error from fn commits the
// writes fn made before failing, unless the flow aborted. Events returned by
// fn are dispatched only after a successful commit.
func (e *Engine) withinTx(ctx context.Context, op string, fn txFunc) error {
	var (
		evs       []events.Event
		domainErr error
	)
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		evs, domainErr = nil, nil
		out, err := fn(ctx, tx)
		if err == nil {
			evs = out
			return nil
		}
		if isDomainError(err) && !flows.Aborted(err) {
			evs, domainErr = out, err
			return nil
		}
		return err
	})
	if err != nil {
		var ab *flows.AbortError
		if errors.As(err, &ab) {
			return ab.Err
		}
		e.logger.Error("transaction failed", zap.String("op", op), zap.Error(err))
		return err
	}
	e.dispatch(ctx, evs)
	return domainErr
}

func (e *Engine) dispatch(ctx context.Context, evs []events.Event) {
	if len(evs) == 0 {
		return
	}
	for _, ev := range evs {
		e.logger.Debug("event", zap.String("event", ev.Type), zap.String("tenant_id", ev.TenantID), zap.String("principal_id", ev.PrincipalID))
	}
	e.dispatcher.Dispatch(context.WithoutCancel(ctx), evs...)
}

// tenant resolves the tenant attached with WithTenantID.
func (e *Engine) tenant(ctx context.Context) (*tenant.Settings, error) {
	id, ok := tenantIDFromContext(ctx)
	if !ok {
		return nil, ErrTenantNotFound
	}
	return e.tenantByID(ctx, id)
}

func (e *Engine) tenantByID(ctx context.Context, id string) (*tenant.Settings, error) {
	t, err := e.tenants.ByID(ctx, id)
	if errors.Is(err, tenant.ErrNotFound) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (e *Engine) client(ctx context.Context) flows.Client {
	return flows.Client{
		IPAddress: clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
	}
}

// throttled maps a throttle result. An exhausted budget is rate_limited; an
// unreachable Redis lets the request through and is logged.
func (e *Engine) throttled(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrThrottled):
		e.metrics.Inc(MetricRateLimited)
		return ErrRateLimited
	default:
		e.logger.Warn("request throttle unavailable", zap.String("op", op), zap.Error(err))
		return nil
	}
}

// record consumes throttle budget after the fact; failures are only logged.
func (e *Engine) record(op string, err error) {
	if err != nil && !errors.Is(err, limiters.ErrThrottled) {
		e.logger.Warn("request throttle update failed", zap.String("op", op), zap.Error(err))
	}
}

func (e *Engine) mintAccess(p *store.Principal, _ string) (string, time.Time, error) {
	now := e.now()
	claims := jwt.AccessClaims{
		TenantID:      p.TenantID,
		PrincipalID:   p.ID,
		PrincipalKind: string(p.Kind),
		Email:         p.Email,
		EmailVerified: p.EmailVerified,
	}
	if p.Kind == store.KindOrgMember {
		claims.Role = p.Role
	}
	token, err := e.jwtManager.Mint(claims, e.config.JWT.AccessTTL, now)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, now.Add(e.config.JWT.AccessTTL), nil
}

// kindOrDefault defaults an empty kind to end user.
func kindOrDefault(kind PrincipalKind) (PrincipalKind, bool) {
	if kind == "" {
		kind = PrincipalEndUser
	}
	return kind, kind.Valid()
}
