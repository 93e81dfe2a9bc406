// Package firestore owns the lazily dialled Firestore client shared by the kv backend.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	defaultDialTimeout = 10 * time.Second
	envEmulatorHost    = "FIRESTORE_EMULATOR_HOST"
	envGoogleProjectID = "GOOGLE_CLOUD_PROJECT"
)

var (
	// ErrProviderClosed is returned by Client after Close.
	ErrProviderClosed = errors.New("firestore: provider is closed")
	// ErrProjectIDRequired is returned when neither the config nor the environment names a project.
	ErrProjectIDRequired = errors.New("firestore: project id is required")
)

// Config identifies the Firestore project, optionally through the emulator.
type Config struct {
	ProjectID    string
	EmulatorHost string
}

// resolved fills blanks from the environment.
func (c Config) resolved() Config {
	out := Config{ProjectID: strings.TrimSpace(c.ProjectID), EmulatorHost: strings.TrimSpace(c.EmulatorHost)}
	if out.ProjectID == "" {
		out.ProjectID = strings.TrimSpace(os.Getenv(envGoogleProjectID))
	}
	if out.EmulatorHost == "" {
		out.EmulatorHost = strings.TrimSpace(os.Getenv(envEmulatorHost))
	}
	return out
}

// Provider hands out one Firestore client per process. The first successful Client call
// dials; a failed dial is retried by the next caller.
type Provider struct {
	cfg     Config
	timeout time.Duration
	extra   []option.ClientOption

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// ProviderOption customises a Provider.
type ProviderOption func(*Provider)

// WithDialTimeout bounds client creation.
func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithClientOptions passes extra options to firestore.NewClient.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) {
		p.extra = append(p.extra, opts...)
	}
}

// NewProvider constructs a Provider; nothing is dialled until Client is called.
func NewProvider(cfg Config, opts ...ProviderOption) *Provider {
	p := &Provider{cfg: cfg, timeout: defaultDialTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Client returns the shared client, dialling it on first use.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return nil, ErrProviderClosed
	case p.client != nil:
		return p.client, nil
	}

	cfg := p.cfg.resolved()
	if cfg.ProjectID == "" {
		return nil, ErrProjectIDRequired
	}
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client, err := firestore.NewClient(dialCtx, cfg.ProjectID, p.clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client for %s: %w", cfg.ProjectID, err)
	}
	p.client = client
	return client, nil
}

func (p *Provider) clientOptions(cfg Config) []option.ClientOption {
	opts := append([]option.ClientOption(nil), p.extra...)
	if cfg.EmulatorHost == "" {
		return opts
	}
	return append(opts,
		option.WithoutAuthentication(),
		option.WithEndpoint(cfg.EmulatorHost),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
}

// Close releases the client. The Provider cannot be reused afterwards.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	client := p.client
	p.client = nil
	if client == nil {
		return nil
	}
	return client.Close()
}
