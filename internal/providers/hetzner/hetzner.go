// Package hetzner implements the fleet strategies on Hetzner Cloud servers.
package hetzner

import (
	"errors"
	"strconv"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/rs/zerolog"

	prov "github.com/3cpo-dev/flotilla/internal/providers"
)

// Name is the registry key of this backend.
const Name = "hetzner"

// LabelTag is the server label carrying the fleet tag.
const LabelTag = "flotilla/tag"

const defaultPollInterval = 2 * time.Second

// Backend talks to the Hetzner Cloud API.
type Backend struct {
	client *hcloud.Client
	log    zerolog.Logger
	naming prov.Naming
	retry  prov.RetryConfig
	user   string
	labels map[string]string
	poll   time.Duration
}

// Option configures a Backend.
type Option func(*Backend)

// WithHCloudClient sets a custom hcloud client (useful for testing).
func WithHCloudClient(c *hcloud.Client) Option {
	return func(b *Backend) { b.client = c }
}

// WithLogger sets the logger used for polling and retries.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Backend) { b.log = l }
}

// WithRetry overrides the retry policy for API calls.
func WithRetry(rc prov.RetryConfig) Option {
	return func(b *Backend) { b.retry = rc }
}

// WithPollInterval sets how often a booting server is polled.
func WithPollInterval(d time.Duration) Option {
	return func(b *Backend) { b.poll = d }
}

// New creates a Backend from the hetzner section of cfg.
func New(cfg prov.Config, opts ...Option) (*Backend, error) {
	hc := cfg.Providers.Hetzner
	b := &Backend{
		log:    zerolog.Nop(),
		naming: prov.NewNaming(cfg.Defaults.NamingPrefix),
		retry:  cfg.RetryConfig(),
		user:   cfg.Defaults.User,
		labels: hc.Labels,
		poll:   defaultPollInterval,
	}
	if hc.PollIntervalSeconds > 0 {
		b.poll = time.Duration(hc.PollIntervalSeconds) * time.Second
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.client == nil {
		if hc.Token == "" {
			return nil, errors.New("hetzner token missing; set providers.hetzner.token or HCLOUD_TOKEN")
		}
		clientOpts := []hcloud.ClientOption{
			hcloud.WithToken(hc.Token),
			hcloud.WithApplication("flotilla", "dev"),
			hcloud.WithPollOpts(hcloud.PollOpts{BackoffFunc: hcloud.ConstantBackoff(b.poll)}),
		}
		if hc.Endpoint != "" {
			clientOpts = append(clientOpts, hcloud.WithEndpoint(hc.Endpoint))
		}
		b.client = hcloud.NewClient(clientOpts...)
	}
	if b.user == "" {
		b.user = "fl"
	}
	return b, nil
}

// Provider exposes the backend as a strategy set plus catalog.
func (b *Backend) Provider() *prov.Provider {
	return &prov.Provider{
		Name: Name,
		Strategies: prov.StrategySet{
			List:    b,
			Get:     b,
			Run:     prov.NewRunNodesStrategy(b, b, b.naming),
			Reboot:  b,
			Destroy: b,
		},
		Catalog: b,
	}
}

// Factory registers the backend with a providers.Registry.
func Factory(cfg prov.Config, log zerolog.Logger) (*prov.Provider, error) {
	b, err := New(cfg, WithLogger(log.With().Str("provider", Name).Logger()))
	if err != nil {
		return nil, err
	}
	return b.Provider(), nil
}

func serverID(node prov.ComputeMetadata) (int64, error) {
	id := node.Identity().ID
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, prov.Invalid("node.id", id, "not a hetzner server id")
	}
	return n, nil
}

// isFatal reports API errors that retrying cannot fix.
func isFatal(err error) bool {
	var apiErr hcloud.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case hcloud.ErrorCodeInvalidInput,
		hcloud.ErrorCodeUnauthorized,
		hcloud.ErrorCodeForbidden,
		hcloud.ErrorCodeInvalidServerType,
		hcloud.ErrorCodeResourceLimitExceeded,
		hcloud.ErrorCodeUniquenessError:
		return true
	}
	return false
}

// retryable wraps fn so that fatal API errors stop the retry loop.
func retryable(fn func() error) func() error {
	return func() error {
		err := fn()
		if err != nil && isFatal(err) {
			return prov.Permanent(err)
		}
		return err
	}
}
