package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/maypok86/otter/v2"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/conductorone/baton-presence/pkg/types/presence"
	"github.com/conductorone/baton-presence/pkg/uhttp"
)

const (
	DefaultPresenceURL = "https://presence.roblox.com"
	DefaultUsersURL    = "https://users.roblox.com"
	DefaultUserAgent   = "baton-presence"

	// AuthCookieName is the session cookie the presence API authenticates with.
	AuthCookieName = ".ROBLOSECURITY"

	defaultTimeout           = 30 * time.Second
	defaultProfileCacheTTL   = 10 * time.Minute
	defaultProfileCacheSize  = 10_000
	defaultEnrichConcurrency = 8
)

var tracer = otel.Tracer("baton-presence/client")

// Config holds everything needed to build a Client. Zero values use defaults.
type Config struct {
	PresenceURL string
	UsersURL    string
	Cookie      string
	UserAgent   string

	// RequestsPerSecond caps outgoing requests. Zero disables the limit.
	RequestsPerSecond int
	Timeout           time.Duration
	DebugPrintBody    bool

	ProfileCacheTTL   time.Duration
	ProfileCacheSize  int
	EnrichConcurrency int

	// HTTPClient is copied; its Jar is replaced when Cookie is set.
	HTTPClient *http.Client
}

// Client talks to the presence and users APIs. It is safe for concurrent use
// and owns its transport until Close is called.
type Client struct {
	presenceURL       *url.URL
	usersURL          *url.URL
	wrapper           *uhttp.BaseHttpClient
	profiles          *otter.Cache[presence.UserID, *presence.Profile]
	enrichConcurrency int
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	l := ctxzap.Extract(ctx)

	presenceURL, err := parseBaseURL(cfg.PresenceURL, DefaultPresenceURL)
	if err != nil {
		return nil, fmt.Errorf("presence client: invalid presence url: %w", err)
	}
	usersURL, err := parseBaseURL(cfg.UsersURL, DefaultUsersURL)
	if err != nil {
		return nil, fmt.Errorf("presence client: invalid users url: %w", err)
	}

	hc := &http.Client{Timeout: defaultTimeout}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		hc = &copied
	}
	if cfg.Timeout > 0 {
		hc.Timeout = cfg.Timeout
	}

	if cfg.Cookie != "" {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, err
		}
		for _, u := range []*url.URL{presenceURL, usersURL} {
			jar.SetCookies(u, []*http.Cookie{{
				Name:     AuthCookieName,
				Value:    cfg.Cookie,
				Path:     "/",
				HttpOnly: true,
			}})
		}
		hc.Jar = jar
	} else {
		l.Warn("presence client: no auth cookie configured, requests will be anonymous")
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	ttl := cfg.ProfileCacheTTL
	if ttl <= 0 {
		ttl = defaultProfileCacheTTL
	}
	size := cfg.ProfileCacheSize
	if size <= 0 {
		size = defaultProfileCacheSize
	}
	profiles, err := otter.New(&otter.Options[presence.UserID, *presence.Profile]{
		MaximumSize:      size,
		ExpiryCalculator: otter.ExpiryWriting[presence.UserID, *presence.Profile](ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("presence client: failed to create profile cache: %w", err)
	}

	concurrency := cfg.EnrichConcurrency
	if concurrency <= 0 {
		concurrency = defaultEnrichConcurrency
	}

	c := &Client{
		presenceURL: presenceURL,
		usersURL:    usersURL,
		wrapper: uhttp.NewBaseHttpClient(hc,
			uhttp.WithUserAgent(userAgent),
			uhttp.WithRateLimit(cfg.RequestsPerSecond),
			uhttp.WithPrintBody(cfg.DebugPrintBody),
		),
		profiles:          profiles,
		enrichConcurrency: concurrency,
	}

	l.Debug("presence client created",
		zap.String("presence_url", presenceURL.String()),
		zap.String("users_url", usersURL.String()),
		zap.Int("requests_per_second", cfg.RequestsPerSecond),
	)

	return c, nil
}

// Close releases the transport. In-flight and later calls fail with a
// transport FetchError.
func (c *Client) Close() error {
	c.profiles.InvalidateAll()
	return c.wrapper.Close()
}

func (c *Client) endpoint(base *url.URL, path string) *url.URL {
	return base.JoinPath(path)
}

func parseBaseURL(raw string, fallback string) (*url.URL, error) {
	if raw == "" {
		raw = fallback
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("url must be absolute")
	}
	return u, nil
}
