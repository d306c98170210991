// Package auth owns a tenant's identity and credentials, resolves the
// REST API host and produces authorization headers for every call.
//
// Service tokens live in a cache.Cache, which is the source of truth:
// Auth reads it before every authorized request and refreshes on a miss.
// There is no background refresh and no retry. Concurrent misses in one
// Auth share a single fetch; misses across processes race and the last
// write wins, which is harmless because every issued token is valid.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alexjbarnes/easemob-go/cache"
	apierrors "github.com/alexjbarnes/easemob-go/internal/errors"
	"github.com/alexjbarnes/easemob-go/transport"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultDirectoryURL serves the per-app list of REST hosts.
	DefaultDirectoryURL = "https://rs.easemob.com"

	// DefaultBridgeURL exchanges Agora tokens for Easemob tokens.
	DefaultBridgeURL = "http://a41.easemob.com"

	// DefaultTokenTTL is the lifetime requested for service tokens.
	DefaultTokenTTL = 30 * 24 * time.Hour
)

// Re-exported so callers need only this package.
var (
	ErrInvalidAppKey    = apierrors.ErrInvalidAppKey
	ErrValidation       = apierrors.ErrValidation
	ErrNoAPIHost        = apierrors.ErrNoAPIHost
	ErrAPIResponse      = apierrors.ErrAPIResponse
	ErrCacheUnwritable  = apierrors.ErrCacheUnwritable
	ErrCacheUnavailable = apierrors.ErrCacheUnavailable
)

// RemoteError is the {code, error, error_description} envelope.
type RemoteError = apierrors.RemoteError

// Auth is bound to one tenant and one credential. It is safe for
// concurrent use.
type Auth struct {
	tenant Tenant
	cred   Credential

	cache     cache.Cache
	transport *transport.Client
	logger    *slog.Logger

	tokenTTL     time.Duration
	directoryURL string
	bridgeURL    string

	mu         sync.Mutex
	apiURI     string
	discovered bool

	group singleflight.Group
}

// Option customises an Auth.
type Option func(*Auth)

// WithCache sets the token cache. The default is a cache.File in
// cache.DefaultDir().
func WithCache(c cache.Cache) Option {
	return func(a *Auth) {
		if c != nil {
			a.cache = c
		}
	}
}

// WithTransport sets the HTTP transport.
func WithTransport(t *transport.Client) Option {
	return func(a *Auth) {
		if t != nil {
			a.transport = t
		}
	}
}

// WithAPIURI skips host discovery and uses uri, e.g. "https://a1.easemob.com".
func WithAPIURI(uri string) Option {
	return func(a *Auth) {
		a.apiURI = strings.TrimRight(uri, "/")
	}
}

// WithTokenTTL sets the lifetime requested for service tokens. Values
// that are not positive keep the default.
func WithTokenTTL(ttl time.Duration) Option {
	return func(a *Auth) {
		if ttl > 0 {
			a.tokenTTL = ttl
		}
	}
}

// WithDirectoryURL overrides the host discovery service.
func WithDirectoryURL(u string) Option {
	return func(a *Auth) {
		a.directoryURL = strings.TrimRight(u, "/")
	}
}

// WithBridgeURL overrides the Agora token exchange service.
func WithBridgeURL(u string) Option {
	return func(a *Auth) {
		a.bridgeURL = strings.TrimRight(u, "/")
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Auth) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an Auth for appKey ("org#app"). It performs no I/O; an
// invalid app key or an incomplete credential fails here.
func New(appKey string, cred Credential, opts ...Option) (*Auth, error) {
	tenant, err := ParseAppKey(appKey)
	if err != nil {
		return nil, err
	}

	if cred == nil {
		return nil, apierrors.Invalid("credential", "is required")
	}

	if err := cred.validate(); err != nil {
		return nil, err
	}

	a := &Auth{
		tenant:       tenant,
		cred:         cred,
		logger:       slog.New(slog.DiscardHandler),
		tokenTTL:     DefaultTokenTTL,
		directoryURL: DefaultDirectoryURL,
		bridgeURL:    DefaultBridgeURL,
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.cache == nil {
		a.cache = cache.NewFile(cache.DefaultDir())
	}

	if a.transport == nil {
		a.transport = transport.New(transport.Config{}, transport.WithLogger(a.logger))
	}

	return a, nil
}

// NewNative creates an Auth using an Easemob client id and secret.
func NewNative(appKey, clientID, clientSecret string, opts ...Option) (*Auth, error) {
	return New(appKey, NativeCredential{ClientID: clientID, ClientSecret: clientSecret}, opts...)
}

// NewBridged creates an Auth using an Agora app id and certificate.
// uuid may be empty for an app-wide Agora token.
func NewBridged(appKey, appID, appCertificate, uuid string, opts ...Option) (*Auth, error) {
	return New(appKey, BridgedCredential{AppID: appID, AppCertificate: appCertificate, UUID: uuid}, opts...)
}

// Tenant returns the tenant identity.
func (a *Auth) Tenant() Tenant {
	return a.tenant
}

// Transport returns the HTTP transport, for callers issuing their own
// requests with Headers.
func (a *Auth) Transport() *transport.Client {
	return a.transport
}

// CacheKey returns this tenant's cache key for a token kind.
func (a *Auth) CacheKey(kind TokenKind) string {
	return a.tenant.CacheKey(kind)
}

// APIURI returns the REST host, such as "https://a1.easemob.com". Unless
// set with WithAPIURI, it is discovered once and kept for the lifetime of
// the Auth. When discovery lists no https host the result is "" with no
// error, and that answer is kept too. A failed discovery returns the
// *RemoteError and is retried on the next call.
func (a *Auth) APIURI(ctx context.Context) (string, error) {
	a.mu.Lock()
	uri, discovered := a.apiURI, a.discovered
	a.mu.Unlock()

	if uri != "" || discovered {
		return uri, nil
	}

	uri, err := a.discover(ctx)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.apiURI = uri
	a.discovered = true
	a.mu.Unlock()

	return uri, nil
}

func (a *Auth) discover(ctx context.Context) (string, error) {
	endpoint := a.directoryURL + "/easemob/server.json?app_key=" + url.QueryEscape(a.tenant.AppKey())

	resp, err := a.transport.Get(ctx, endpoint, nil)
	if err != nil {
		return "", err
	}

	if err := resp.Err(); err != nil {
		a.logger.Warn("host discovery failed",
			slog.String("app_key", a.tenant.AppKey()),
			slog.String("error", err.Error()),
		)

		return "", err
	}

	for _, host := range resp.Get("rest.hosts").Array() {
		if host.Get("protocol").String() != "https" {
			continue
		}

		domain := host.Get("domain").String()
		if domain == "" {
			continue
		}

		uri := "https://" + domain
		a.logger.Debug("discovered REST host",
			slog.String("app_key", a.tenant.AppKey()),
			slog.String("uri", uri),
		)

		return uri, nil
	}

	return "", nil
}

// BaseURI returns the tenant's REST root, APIURI + "/org/app".
func (a *Auth) BaseURI(ctx context.Context) (string, error) {
	api, err := a.APIURI(ctx)
	if err != nil {
		return "", err
	}

	if api == "" {
		return "", fmt.Errorf("%w for %s", apierrors.ErrNoAPIHost, a.tenant.AppKey())
	}

	return api + "/" + a.tenant.OrgName + "/" + a.tenant.AppName, nil
}

// Headers returns {"Authorization": "Bearer <token>"}. When no token can
// be obtained the error says why; there is no partially usable result.
func (a *Auth) Headers(ctx context.Context) (map[string]string, error) {
	token, err := a.Token(ctx)
	if err != nil {
		return nil, err
	}

	return map[string]string{"Authorization": "Bearer " + token}, nil
}

// Token returns the tenant's service token, from cache when valid,
// otherwise freshly acquired with the active credential.
func (a *Auth) Token(ctx context.Context) (string, error) {
	switch a.cred.(type) {
	case BridgedCredential:
		return a.cachedOrFetch(ctx, KindBridged, a.fetchBridgedToken)
	default:
		return a.cachedOrFetch(ctx, KindEasemob, a.fetchNativeToken)
	}
}

// cachedOrFetch returns the cached token for kind, or runs fetch once for
// all concurrent callers of this Auth that missed the cache.
func (a *Auth) cachedOrFetch(ctx context.Context, kind TokenKind, fetch func(context.Context) (string, error)) (string, error) {
	key := a.CacheKey(kind)

	token, ok, err := a.cache.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("reading token cache: %w", err)
	}

	if ok && token != "" {
		a.logger.Debug("token cache hit", slog.String("key", key))
		return token, nil
	}

	a.logger.Debug("token cache miss", slog.String("key", key))

	// The shared fetch outlives any one caller; each caller still stops
	// waiting when its own context ends.
	ch := a.group.DoChan(key, func() (any, error) {
		return fetch(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for token: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}

		return res.Val.(string), nil
	}
}

// halfLife is the cache TTL for a token valid for expiresIn seconds, so
// it is refreshed well before the server stops accepting it.
func halfLife(expiresIn int64, fallback time.Duration) time.Duration {
	if expiresIn > 0 {
		return time.Duration(expiresIn) * time.Second / 2
	}

	return fallback / 2
}

// seconds converts a duration to whole seconds for the wire.
func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
