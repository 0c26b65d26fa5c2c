package tenant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/auctoritas/auctoritas/internal"
)

type fileLayout struct {
	Tenants []Settings `yaml:"tenants"`
}

// StaticDirectory is an immutable in-memory Directory.
type StaticDirectory struct {
	byID   map[string]*Settings
	byHash map[string]*Settings
}

var _ Directory = (*StaticDirectory)(nil)

// NewStatic indexes tenants by id and API key hash. Raw APIKeys are hashed
// and dropped.
func NewStatic(tenants ...Settings) (*StaticDirectory, error) {
	d := &StaticDirectory{
		byID:   make(map[string]*Settings, len(tenants)),
		byHash: make(map[string]*Settings),
	}
	for i := range tenants {
		t := tenants[i]
		t.ID = strings.TrimSpace(t.ID)
		if t.ID == "" {
			return nil, errors.New("tenant: empty id")
		}
		if _, dup := d.byID[t.ID]; dup {
			return nil, fmt.Errorf("tenant: duplicate id %q", t.ID)
		}
		for _, raw := range t.APIKeys {
			if raw == "" {
				continue
			}
			t.APIKeyHashes = append(t.APIKeyHashes, internal.HashToken(raw))
		}
		t.APIKeys = nil
		if t.MaxSessions < 0 {
			return nil, fmt.Errorf("tenant %q: max_sessions must be >= 0", t.ID)
		}
		if t.Password != nil {
			if err := t.Password.Normalized().Check(); err != nil {
				return nil, fmt.Errorf("tenant %q: %w", t.ID, err)
			}
		}

		ptr := &t
		d.byID[t.ID] = ptr
		for _, h := range t.APIKeyHashes {
			if owner, dup := d.byHash[h]; dup {
				return nil, fmt.Errorf("tenant: api key shared by %q and %q", owner.ID, t.ID)
			}
			d.byHash[h] = ptr
		}
	}
	return d, nil
}

// LoadFile reads a YAML document of the form `tenants: [...]`.
func LoadFile(path string) (*StaticDirectory, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tenant: read %s: %w", path, err)
	}
	return Parse(body)
}

// Parse decodes a YAML tenants document.
func Parse(body []byte) (*StaticDirectory, error) {
	var layout fileLayout
	if err := yaml.UnmarshalStrict(body, &layout); err != nil {
		return nil, fmt.Errorf("tenant: decode: %w", err)
	}
	return NewStatic(layout.Tenants...)
}

// ByID returns the tenant with the given id.
func (d *StaticDirectory) ByID(_ context.Context, tenantID string) (*Settings, error) {
	t, ok := d.byID[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// ByAPIKey returns the tenant owning rawKey.
func (d *StaticDirectory) ByAPIKey(_ context.Context, rawKey string) (*Settings, error) {
	if rawKey == "" {
		return nil, ErrNotFound
	}
	t, ok := d.byHash[internal.HashToken(rawKey)]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// Len returns the number of tenants.
func (d *StaticDirectory) Len() int {
	return len(d.byID)
}
