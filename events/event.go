package events

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event type names.
const (
	TypePrincipalRegistered      = "principal.registered"
	TypePrincipalLoggedIn        = "principal.logged_in"
	TypePrincipalLoggedOut       = "principal.logged_out"
	TypePrincipalLocked          = "principal.locked"
	TypeRefreshTokenRotated      = "refresh_token.rotated"
	TypeSessionsRevoked          = "sessions.revoked"
	TypeMFASetupStarted          = "mfa.setup_started"
	TypeMFAEnabled               = "mfa.enabled"
	TypeMFADisabled              = "mfa.disabled"
	TypeMFAChallengeIssued       = "mfa.challenge_issued"
	TypeRecoveryCodeUsed         = "recovery_code.used"
	TypeRecoveryCodesRegenerated = "recovery_codes.regenerated"
	TypeOAuthAccountLinked       = "oauth.account_linked"
	TypeOAuthPrincipalCreated    = "oauth.principal_created"
	TypePasswordResetRequested   = "password.reset_requested"
	TypePasswordChanged          = "password.changed"
	TypeVerificationRequested    = "email.verification_requested"
	TypeEmailVerified            = "email.verified"
)

// Event is one domain fact. Data holds non-secret attributes only.
type Event struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	OccurredAt  time.Time         `json:"occurred_at"`
	TenantID    string            `json:"tenant_id"`
	PrincipalID string            `json:"principal_id,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
}

// Publisher delivers events. Implementations must be safe for use by the
// dispatcher goroutine.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NoopPublisher drops events.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// ChannelPublisher writes events into a buffered channel.
type ChannelPublisher struct {
	events chan Event
}

func NewChannelPublisher(buffer int) *ChannelPublisher {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelPublisher{events: make(chan Event, buffer)}
}

func (p *ChannelPublisher) Publish(ctx context.Context, event Event) error {
	select {
	case p.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *ChannelPublisher) Events() <-chan Event {
	return p.events
}

// JSONWriterPublisher writes one JSON object per line.
type JSONWriterPublisher struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterPublisher(w io.Writer) *JSONWriterPublisher {
	return &JSONWriterPublisher{writer: w}
}

func (p *JSONWriterPublisher) Publish(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = p.writer.Write(data)
	return err
}

// LogPublisher records events through zap at info level.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	fields := []zap.Field{
		zap.String("event", event.Type),
		zap.String("event_id", event.ID),
		zap.String("tenant_id", event.TenantID),
		zap.Time("occurred_at", event.OccurredAt),
	}
	if event.PrincipalID != "" {
		fields = append(fields, zap.String("principal_id", event.PrincipalID))
	}
	if event.SessionID != "" {
		fields = append(fields, zap.String("session_id", event.SessionID))
	}
	if len(event.Data) > 0 {
		fields = append(fields, zap.Any("data", event.Data))
	}
	p.logger.Info("domain event", fields...)
	return nil
}

// Multi fans an event out to every publisher and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
