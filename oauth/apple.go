package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
)

const jwksTTL = time.Hour

type jwksCache struct {
	mu      sync.Mutex
	sets    map[string]jose.JSONWebKeySet
	fetched map[string]time.Time
}

func newJWKSCache() *jwksCache {
	return &jwksCache{
		sets:    map[string]jose.JSONWebKeySet{},
		fetched: map[string]time.Time{},
	}
}

// keys returns the cached set for url, fetching it when stale or when kid is
// absent from the cached copy.
func (c *client) keys(ctx context.Context, url, kid string) ([]jose.JSONWebKey, error) {
	c.jwks.mu.Lock()
	set, ok := c.jwks.sets[url]
	fresh := ok && c.now().Sub(c.jwks.fetched[url]) < jwksTTL
	c.jwks.mu.Unlock()

	if fresh {
		if found := set.Key(kid); len(found) > 0 {
			return found, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("jwks status=%d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var fetched jose.JSONWebKeySet
	if err := json.Unmarshal(body, &fetched); err != nil {
		return nil, err
	}

	c.jwks.mu.Lock()
	c.jwks.sets[url] = fetched
	c.jwks.fetched[url] = c.now()
	c.jwks.mu.Unlock()

	return fetched.Key(kid), nil
}

type appleClaims struct {
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
}

func (c *client) verifyAppleIDToken(ctx context.Context, raw string, ep Endpoints, clientID string) (*UserInfo, error) {
	tok, err := josejwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIDTokenInvalid, err)
	}
	if len(tok.Headers) == 0 {
		return nil, ErrIDTokenInvalid
	}
	candidates, err := c.keys(ctx, ep.JWKSURL, tok.Headers[0].KeyID)
	if err != nil {
		return nil, fmt.Errorf("%w: jwks: %v", ErrIDTokenInvalid, err)
	}

	var (
		std    josejwt.Claims
		custom appleClaims
		ok     bool
	)
	for _, key := range candidates {
		if err := tok.Claims(key.Key, &std, &custom); err == nil {
			ok = true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: signature", ErrIDTokenInvalid)
	}

	expected := josejwt.Expected{
		Issuer:      ep.Issuer,
		AnyAudience: josejwt.Audience{clientID},
		Time:        c.now(),
	}
	if err := std.ValidateWithLeeway(expected, time.Minute); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIDTokenInvalid, err)
	}

	return &UserInfo{
		ProviderUserID: std.Subject,
		Email:          custom.Email,
		EmailVerified:  bool(custom.EmailVerified),
	}, nil
}
