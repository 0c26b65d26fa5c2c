package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Provider names.
const (
	Google    = "google"
	GitHub    = "github"
	Microsoft = "microsoft"
	Facebook  = "facebook"
	Apple     = "apple"
)

var (
	ErrUnknownProvider  = errors.New("oauth: unknown provider")
	ErrExchangeFailed   = errors.New("oauth: code exchange failed")
	ErrUserInfoFailed   = errors.New("oauth: user info request failed")
	ErrIDTokenInvalid   = errors.New("oauth: id_token invalid")
	ErrMissingSubject   = errors.New("oauth: provider returned no user id")
	ErrCredentialsEmpty = errors.New("oauth: client credentials missing")
)

// Credentials is one tenant's client registration with a provider.
type Credentials struct {
	ClientID     string
	ClientSecret string
	// DirectoryTenant selects the Microsoft Entra tenant; "common" when empty.
	DirectoryTenant string
}

// UserInfo is the normalized provider profile.
type UserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
}

// Provider is one external identity provider.
type Provider interface {
	Name() string
	AuthCodeURL(creds Credentials, callbackURI, state, verifier string) (string, error)
	Exchange(ctx context.Context, creds Credentials, callbackURI, code, verifier string) (*UserInfo, error)
}

// Endpoints are the provider URLs. Fields may contain "{tenant}", replaced
// with Credentials.DirectoryTenant.
type Endpoints struct {
	AuthURL     string
	TokenURL    string
	UserInfoURL string
	EmailsURL   string
	JWKSURL     string
	Issuer      string
}

type profileFunc func(ctx context.Context, p *provider, creds Credentials, ep Endpoints, tok *oauth2.Token) (*UserInfo, error)

type provider struct {
	name      string
	scopes    []string
	endpoints Endpoints
	extra     []oauth2.AuthCodeOption
	profile   profileFunc
	client    *client
}

type client struct {
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
	jwks    *jwksCache
}

func (p *provider) Name() string { return p.name }

func (p *provider) resolve(creds Credentials) Endpoints {
	tenant := creds.DirectoryTenant
	if tenant == "" {
		tenant = "common"
	}
	ep := p.endpoints
	for _, f := range []*string{&ep.AuthURL, &ep.TokenURL, &ep.UserInfoURL, &ep.Issuer} {
		*f = strings.ReplaceAll(*f, "{tenant}", tenant)
	}
	return ep
}

func (p *provider) config(creds Credentials, callbackURI string, ep Endpoints) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  callbackURI,
		Scopes:       p.scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   ep.AuthURL,
			TokenURL:  ep.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthCodeURL returns the provider authorization URL with an S256 challenge
// derived from verifier.
func (p *provider) AuthCodeURL(creds Credentials, callbackURI, state, verifier string) (string, error) {
	if creds.ClientID == "" {
		return "", ErrCredentialsEmpty
	}
	cfg := p.config(creds, callbackURI, p.resolve(creds))
	opts := append([]oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}, p.extra...)
	return cfg.AuthCodeURL(state, opts...), nil
}

// Exchange redeems code with the PKCE verifier and loads the profile.
func (p *provider) Exchange(ctx context.Context, creds Credentials, callbackURI, code, verifier string) (*UserInfo, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, ErrCredentialsEmpty
	}
	if err := p.client.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	ep := p.resolve(creds)
	cfg := p.config(creds, callbackURI, ep)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client.http)

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		p.client.logger.Debug("oauth code exchange failed", zap.String("provider", p.name), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	info, err := p.profile(ctx, p, creds, ep, tok)
	if err != nil {
		return nil, err
	}
	if info.ProviderUserID == "" {
		return nil, ErrMissingSubject
	}
	info.Email = strings.ToLower(strings.TrimSpace(info.Email))
	return info, nil
}

// getJSON fetches url with the bearer token and decodes the body into dst.
func (p *provider) getJSON(ctx context.Context, url string, tok *oauth2.Token, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	tok.SetAuthHeader(req)

	resp, err := p.client.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status=%d", ErrUserInfoFailed, resp.StatusCode)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrUserInfoFailed, err)
	}
	return nil
}

// flexBool decodes true, "true", false and "false".
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "true":
		*b = true
	case "false", "null", "":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}
