package oauth

import (
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Option configures a Registry.
type Option func(*options)

type options struct {
	httpClient *http.Client
	limit      rate.Limit
	burst      int
	logger     *zap.Logger
	now        func() time.Time
	endpoints  map[string]Endpoints
}

// WithHTTPClient sets the client used for every provider call.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithRateLimit paces outbound code exchanges across all providers.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(o *options) { o.limit, o.burst = limit, burst }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the clock used for id_token expiry and JWKS caching.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithEndpoints replaces the URLs of one provider.
func WithEndpoints(name string, ep Endpoints) Option {
	return func(o *options) { o.endpoints[name] = ep }
}

// Registry holds the supported providers by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds every supported provider.
func NewRegistry(opts ...Option) *Registry {
	o := &options{
		limit:     rate.Limit(50),
		burst:     20,
		endpoints: DefaultEndpoints(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}

	c := &client{
		http:    o.httpClient,
		limiter: rate.NewLimiter(o.limit, o.burst),
		logger:  o.logger,
		now:     o.now,
		jwks:    newJWKSCache(),
	}

	r := &Registry{providers: map[string]Provider{}}
	r.Register(newGoogle(c, o.endpoints[Google]))
	r.Register(newGitHub(c, o.endpoints[GitHub]))
	r.Register(newMicrosoft(c, o.endpoints[Microsoft]))
	r.Register(newFacebook(c, o.endpoints[Facebook]))
	r.Register(newApple(c, o.endpoints[Apple]))
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
