package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/velvetwardrobe/storefront/internal/platform/changefeed"
	"github.com/velvetwardrobe/storefront/internal/platform/config"
	pfirestore "github.com/velvetwardrobe/storefront/internal/platform/firestore"
	"github.com/velvetwardrobe/storefront/internal/platform/kv"
	"github.com/velvetwardrobe/storefront/internal/platform/kv/firestorekv"
	"github.com/velvetwardrobe/storefront/internal/platform/kv/sqlkv"
	"github.com/velvetwardrobe/storefront/internal/platform/observability"
	"github.com/velvetwardrobe/storefront/internal/platform/session"
	"github.com/velvetwardrobe/storefront/internal/registration"
	"github.com/velvetwardrobe/storefront/internal/repositories"
	"github.com/velvetwardrobe/storefront/internal/repositories/kvstore"
	"github.com/velvetwardrobe/storefront/internal/services"
)

const (
	storageProbeTimeout      = 2 * time.Second
	registrationProbeTimeout = time.Second
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Cart    services.CartService
	Watcher services.CartWatcher
	Forms   services.FormSubmissionService
	Search  services.SearchService
}

// Container wires storage, change propagation and services for the storefront process.
type Container struct {
	Config       config.Config
	InstanceID   string
	Store        kv.Store
	Feed         *changefeed.Broadcaster
	Relay        *changefeed.Relay
	Metrics      *observability.Metrics
	Sessions     *session.Manager
	Registration *registration.Client
	Health       repositories.HealthRepository
	Services     Services

	pubsub *pubsub.Client
}

// NewContainer constructs the runtime dependencies. A nil store is opened from cfg.Storage.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, store kv.Store) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Container{
		Config:     cfg,
		InstanceID: ulid.Make().String(),
		Feed:       changefeed.NewBroadcaster(),
		Metrics:    observability.NewMetrics(),
	}

	if store == nil {
		opened, err := OpenStore(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		store = opened
	}
	c.Store = store

	var publisher services.ChangePublisher = c.Feed
	if strings.TrimSpace(cfg.ChangeFeed.ProjectID) != "" {
		remote, err := c.connectChangeFeed(ctx, cfg.ChangeFeed)
		if err != nil {
			_ = c.Close(ctx)
			return nil, err
		}
		if remote != nil {
			publisher = changefeed.Fanout{c.Feed, remote}
		}
	}

	sessions, err := session.NewManager(session.Config{
		SigningKey: cfg.Session.SigningKey,
		CookieName: cfg.Session.CookieName,
		Secure:     cfg.Session.Secure,
		TTL:        cfg.Session.TTL,
	}, logger.Named("session"))
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("build session manager: %w", err)
	}
	c.Sessions = sessions

	client, err := registration.NewClient(registration.Config{
		BaseURL: cfg.Registration.BaseURL,
		Timeout: cfg.Registration.Timeout,
	})
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("build registration client: %w", err)
	}
	c.Registration = client

	svc, err := buildServices(cfg, logger, store, publisher, c.Feed, c.Metrics, client)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Services = svc

	health, err := buildHealth(store, client)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Health = health
	return c, nil
}

// OpenStore opens the kv backend selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (kv.Store, error) {
	switch cfg.Driver {
	case "", config.DriverMemory:
		return kv.NewMemoryStore(), nil
	case config.DriverSQLite:
		store, err := sqlkv.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.DriverPostgres:
		store, err := sqlkv.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	case config.DriverFirestore:
		provider := pfirestore.NewProvider(pfirestore.Config{
			ProjectID:    cfg.FirestoreProjectID,
			EmulatorHost: cfg.FirestoreEmulatorHost,
		})
		store := firestorekv.New(provider, cfg.FirestoreCollection)
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("open firestore store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func (c *Container) connectChangeFeed(ctx context.Context, cfg config.ChangeFeedConfig) (services.ChangePublisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("build pubsub client: %w", err)
	}
	c.pubsub = client

	var remote services.ChangePublisher
	if topic := strings.TrimSpace(cfg.Topic); topic != "" {
		publisher, err := changefeed.NewPubSubPublisher(client.Topic(topic), c.InstanceID)
		if err != nil {
			return nil, err
		}
		remote = publisher
	}
	if sub := strings.TrimSpace(cfg.Subscription); sub != "" {
		relay, err := changefeed.NewRelay(client.Subscription(sub), c.Feed, c.InstanceID)
		if err != nil {
			return nil, err
		}
		c.Relay = relay
	}
	return remote, nil
}

func buildServices(
	cfg config.Config,
	logger *zap.Logger,
	store kv.Store,
	publisher services.ChangePublisher,
	feed *changefeed.Broadcaster,
	metrics *observability.Metrics,
	client *registration.Client,
) (Services, error) {
	cartLogger := observability.EventLogger(logger.Named("cart"))
	carts, err := kvstore.NewCartRepository(store, kvstore.WithCartLogger(cartLogger))
	if err != nil {
		return Services{}, fmt.Errorf("build cart repository: %w", err)
	}

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Repository:       carts,
		Publisher:        publisher,
		Metrics:          metrics,
		Consistency:      services.CartConsistency(cfg.Cart.Consistency),
		MaxWriteAttempts: cfg.Cart.MaxWriteAttempts,
		Clock:            time.Now,
		Logger:           cartLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}

	watcher, err := services.NewCartWatcher(services.CartWatcherDeps{
		Repository:   carts,
		Subscriber:   feed,
		PollInterval: cfg.Cart.WatchPollInterval,
		MaxTimeout:   cfg.Cart.WatchTimeout,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart watcher: %w", err)
	}

	board, err := services.NewFeedbackBoard(cfg.Feedback.BoardSize)
	if err != nil {
		return Services{}, fmt.Errorf("build feedback board: %w", err)
	}
	forms, err := services.NewSubmissionCoordinator(services.SubmissionCoordinatorDeps{
		Board:        board,
		Registration: client,
		Metrics:      metrics,
		Timeout:      cfg.Registration.Timeout,
		Logger:       observability.EventLogger(logger.Named("forms")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build submission coordinator: %w", err)
	}

	return Services{
		Cart:    cartSvc,
		Watcher: watcher,
		Forms:   forms,
		Search:  services.NewSearchService(),
	}, nil
}

// buildHealth probes storage (required) and the registration host (optional: an unreachable
// registrar degrades readiness without failing it).
func buildHealth(store kv.Store, client *registration.Client) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{
		{
			Name:    "storage",
			Timeout: storageProbeTimeout,
			Check:   store.Ping,
		},
		{
			Name:     "registration",
			Timeout:  registrationProbeTimeout,
			Optional: true,
			Check:    client.Ping,
		},
	}
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}
	return health, nil
}

// Close releases the store and the Pub/Sub client.
func (c *Container) Close(_ context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.pubsub != nil {
		if err := c.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub: %w", err))
		}
		c.pubsub = nil
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until detached registration attempts have settled.
func (c *Container) Wait() {
	if c != nil && c.Services.Forms != nil {
		c.Services.Forms.Wait()
	}
}
