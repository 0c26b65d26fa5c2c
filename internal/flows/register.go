package flows

import (
	"context"
	"net/mail"
	"strings"

	"github.com/auctoritas/auctoritas/events"
	"github.com/auctoritas/auctoritas/store"
	"github.com/auctoritas/auctoritas/tenant"
)

// DefaultMemberRole is assigned to organization members registered without one.
const DefaultMemberRole = "member"

// RegisterRequest creates a password principal.
type RegisterRequest struct {
	Tenant   *tenant.Settings
	Kind     store.PrincipalKind
	Role     string
	Email    string
	Password string
	Name     string
	Client   Client
}

// RegisterResult holds the new principal's verification credential and, when
// the tenant allows unverified logins, its first session.
type RegisterResult struct {
	PrincipalID  string
	Verification OneTimeIssue
	Tokens       *Tokens
	Events       []events.Event
}

// RunRegister validates the address and password, creates the principal,
// issues its verification credential and, unless the tenant requires a
// verified address for login, a session.
func RunRegister(ctx context.Context, tx store.Tx, req RegisterRequest, deps Deps) (RegisterResult, error) {
	var out RegisterResult
	email := NormalizeEmail(req.Email)
	if !ValidEmail(email) {
		return out, deps.Errors.InvalidEmail
	}
	kind := req.Kind
	if kind == "" {
		kind = store.KindEndUser
	}
	role := strings.TrimSpace(req.Role)
	if kind == store.KindOrgMember && role == "" {
		role = DefaultMemberRole
	}
	if kind == store.KindEndUser {
		role = ""
	}

	now := deps.Now()
	p := &store.Principal{
		ID:        deps.NewID(),
		TenantID:  req.Tenant.ID,
		Kind:      kind,
		Role:      role,
		Email:     email,
		Name:      strings.TrimSpace(req.Name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := checkNewPassword(ctx, tx, req.Tenant, p, req.Password, deps); err != nil {
		return out, err
	}
	exists, err := tx.ExistsPrincipalByEmail(ctx, req.Tenant.ID, kind, email)
	if err != nil {
		return out, err
	}
	if exists {
		return out, deps.Errors.EmailAlreadyRegistered
	}

	hash, err := deps.Hasher.Hash(req.Password)
	if err != nil {
		return out, err
	}
	p.PasswordHash = hash
	if err := tx.InsertPrincipal(ctx, p); err != nil {
		return out, conflictAbort(err, deps.Errors.EmailAlreadyRegistered)
	}
	out.PrincipalID = p.ID
	out.Events = append(out.Events, deps.event(events.TypePrincipalRegistered, p.TenantID, p.ID, "",
		map[string]string{"kind": string(kind)}))

	verification, err := issueVerification(ctx, tx, p, deps)
	if err != nil {
		return out, err
	}
	out.Verification = verification.OneTimeIssue
	out.Events = append(out.Events, verification.Events...)

	if req.Tenant.RequireVerifiedEmailForLogin {
		return out, nil
	}
	issued, err := RunIssue(ctx, tx, IssueRequest{
		Principal: p,
		Tenant:    req.Tenant,
		Client:    req.Client,
		Method:    MethodRegister,
	}, deps)
	if err != nil {
		return out, err
	}
	out.Tokens = &issued.Tokens
	out.Events = append(out.Events, issued.Events...)
	return out, nil
}

// ValidEmail reports whether email is a bare address.
func ValidEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
