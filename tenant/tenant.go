// Package tenant resolves per-tenant settings: API keys, OAuth allow-lists and
// provider credentials, and overrides of the engine's credential policies.
//
// # Architecture boundaries
//
// Tenant administration is external. This package only reads settings through
// the Directory interface; StaticDirectory is the file-backed implementation.
//
// # What this package must NOT do
//
//   - Keep raw API keys in memory after loading.
//   - Mutate settings after they are returned.
package tenant

import (
	"context"
	"errors"
	"time"

	"github.com/auctoritas/auctoritas/password"
)

var (
	// ErrNotFound is returned for unknown tenant ids and API keys.
	ErrNotFound = errors.New("tenant: not found")
)

// Directory resolves tenant settings.
type Directory interface {
	ByID(ctx context.Context, tenantID string) (*Settings, error)
	ByAPIKey(ctx context.Context, rawKey string) (*Settings, error)
}

// Settings is one tenant's configuration. Zero-valued overrides fall back to
// the engine defaults.
type Settings struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// APIKeys holds raw keys as written in the file; LoadFile replaces them
	// with APIKeyHashes.
	APIKeys      []string `yaml:"api_keys"`
	APIKeyHashes []string `yaml:"api_key_hashes"`

	RequireVerifiedEmailForLogin bool `yaml:"require_verified_email_for_login"`
	RequireVerifiedEmailForOAuth bool `yaml:"require_verified_email_for_oauth"`
	MFARequired                  bool `yaml:"mfa_required"`
	MaxSessions                  int  `yaml:"max_sessions"`

	Password *password.Policy `yaml:"password,omitempty"`
	Lockout  *Lockout         `yaml:"lockout,omitempty"`
	OAuth    OAuth            `yaml:"oauth"`
}

// Lockout overrides the failed-login lockout policy.
type Lockout struct {
	MaxAttempts   int `yaml:"max_attempts"`
	WindowSeconds int `yaml:"window_seconds"`
}

// Window returns WindowSeconds as a duration.
func (l Lockout) Window() time.Duration {
	return time.Duration(l.WindowSeconds) * time.Second
}

// OAuth holds the allow-listed app redirect URIs and provider credentials.
type OAuth struct {
	RedirectURIs []string            `yaml:"redirect_uris"`
	Providers    map[string]Provider `yaml:"providers"`
}

// Provider holds one identity provider's client registration. ClientSecretEnc
// is a secret.Cipher envelope and wins over ClientSecret when both are set.
type Provider struct {
	Enabled         bool   `yaml:"enabled"`
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
	ClientSecretEnc string `yaml:"client_secret_enc"`
	// DirectoryTenant is the Microsoft Entra tenant segment ("common" when empty).
	DirectoryTenant string `yaml:"directory_tenant"`
}

// Configured reports whether the provider can be used for an authorization.
func (p Provider) Configured() bool {
	return p.Enabled && p.ClientID != "" && (p.ClientSecret != "" || p.ClientSecretEnc != "")
}

// AllowsRedirect reports whether uri exactly matches an allow-listed entry.
func (s *Settings) AllowsRedirect(uri string) bool {
	for _, allowed := range s.OAuth.RedirectURIs {
		if allowed == uri {
			return true
		}
	}
	return false
}

// ProviderSettings returns the registration for name.
func (s *Settings) ProviderSettings(name string) (Provider, bool) {
	p, ok := s.OAuth.Providers[name]
	return p, ok
}
