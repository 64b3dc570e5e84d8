package internal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/starford/mailroom/internal/api"
	"github.com/starford/mailroom/internal/cache"
	"github.com/starford/mailroom/internal/localstore"
	"github.com/starford/mailroom/internal/logging"
	"github.com/starford/mailroom/internal/mcpserver"
	"github.com/starford/mailroom/internal/mutation"
	"github.com/starford/mailroom/internal/reconcile"
	"github.com/starford/mailroom/internal/recipients"
	"github.com/starford/mailroom/internal/remote"
	"github.com/starford/mailroom/internal/session"
	"github.com/starford/mailroom/internal/sse"
	"github.com/starford/mailroom/internal/storage"
	"github.com/starford/mailroom/internal/templatedrop"
)

const sseKeepAlive = 15 * time.Second

// BuildContainer creates a dependency injection container for cfg. Nothing
// is constructed until a component is invoked.
func BuildContainer(cfg *Config, opts ...ContainerOption) (*dig.Container, error) {
	o := containerOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	container := dig.New()

	// Register configuration
	if err := container.Provide(func() *Config { return cfg }); err != nil {
		return nil, err
	}

	// Register logger
	if o.logger != nil {
		if err := container.Provide(func() *zap.Logger { return o.logger }); err != nil {
			return nil, err
		}
	} else if err := container.Provide(newLogger); err != nil {
		return nil, err
	}

	// Register local store
	if err := container.Provide(newLocalStore); err != nil {
		return nil, err
	}

	// Register remote client and session
	if err := container.Provide(newIdentity); err != nil {
		return nil, err
	}

	// Register cache
	if err := container.Provide(func(cfg *Config, sess *session.Session, log *zap.Logger) *cache.Cache {
		c := cache.New(cache.WithStaleTime(cfg.Cache.StaleTime), cache.WithLogger(log))
		sess.OnChange(c.Reset)
		return c
	}); err != nil {
		return nil, err
	}

	// Register services
	if err := container.Provide(func(client *remote.Client, c *cache.Cache, log *zap.Logger) *mutation.Service {
		return mutation.NewService(client, c, log)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(svc *mutation.Service, log *zap.Logger) *reconcile.Reconciler {
		return reconcile.New(svc, log)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(client *remote.Client, svc *mutation.Service, log *zap.Logger) *recipients.Composer {
		return recipients.NewComposer(client, svc, log)
	}); err != nil {
		return nil, err
	}

	// Register SSE broker
	if err := container.Provide(func(c *cache.Cache) *sse.Broker {
		broker := sse.NewBroker(sseKeepAlive)
		c.OnInvalidate(broker.PublishInvalidation)
		return broker
	}); err != nil {
		return nil, err
	}

	// Register template drop folder
	if err := container.Provide(newTemplateSyncer); err != nil {
		return nil, err
	}

	// Register transports
	if err := container.Provide(func(
		svc *mutation.Service,
		rec *reconcile.Reconciler,
		composer *recipients.Composer,
		sess *session.Session,
		client *remote.Client,
		log *zap.Logger,
	) *api.Handler {
		return api.NewHandler(svc, rec, composer, sess, client, log)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(
		svc *mutation.Service,
		rec *reconcile.Reconciler,
		composer *recipients.Composer,
		sess *session.Session,
		log *zap.Logger,
	) *mcpserver.Server {
		return mcpserver.New(svc, rec, composer, sess, log)
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// ContainerOption adjusts BuildContainer.
type ContainerOption func(*containerOptions)

type containerOptions struct {
	logger *zap.Logger
}

// WithContainerLogger uses log instead of building one from the config.
func WithContainerLogger(log *zap.Logger) ContainerOption {
	return func(o *containerOptions) { o.logger = log }
}

func newLogger(cfg *Config) (*zap.Logger, error) {
	return logging.New(cfg.App.LogLevel, cfg.App.LogFormat)
}

func newLocalStore(cfg *Config) (*localstore.DB, error) {
	if dir := filepath.Dir(cfg.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := localstore.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("init local store: %w", err)
	}
	return db, nil
}

// identity is the remote client and the session it authenticates with. They
// are built together: the session syncs through the client and the client
// reads its bearer token from the session.
type identity struct {
	dig.Out

	Client  *remote.Client
	Session *session.Session
}

type tokenRelay struct {
	src remote.TokenSource
}

func (r *tokenRelay) AccessToken() string {
	if r.src == nil {
		return ""
	}
	return r.src.AccessToken()
}

func newIdentity(cfg *Config, store *localstore.DB, log *zap.Logger) (identity, error) {
	relay := &tokenRelay{}
	client, err := remote.New(remote.Options{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout,
		Tokens:  relay,
		Logger:  log,
	})
	if err != nil {
		return identity{}, err
	}
	sess, err := session.New(store, client, log)
	if err != nil {
		return identity{}, fmt.Errorf("load session: %w", err)
	}
	relay.src = sess
	return identity{Client: client, Session: sess}, nil
}

func newTemplateSyncer(cfg *Config, store *localstore.DB, svc *mutation.Service, broker *sse.Broker, log *zap.Logger) (*templatedrop.Syncer, error) {
	fs, err := storage.NewFS(cfg.Templates.DropDir)
	if err != nil {
		return nil, fmt.Errorf("init drop folder: %w", err)
	}
	notify := func(ev templatedrop.Event) {
		data := map[string]string{"path": ev.Path, "outcome": string(ev.Outcome)}
		typ := sse.TypeTemplateUploaded
		if ev.Outcome == templatedrop.Failed {
			typ = sse.TypeTemplateFailed
			data["error"] = ev.Err.Error()
		} else {
			data["templateId"] = string(ev.TemplateID)
		}
		broker.Publish(sse.Event{Type: typ, Data: data})
	}
	return templatedrop.New(fs, store, svc, notify, log), nil
}

// attachBus connects the cache to the Redis invalidation bus when one is
// configured. The returned func releases the connection.
func attachBus(ctx context.Context, cfg *Config, c *cache.Cache, log *zap.Logger) (func(), error) {
	if !cfg.Cache.Redis.Enabled() {
		return func() {}, nil
	}
	bus, err := cache.NewBus(ctx, cfg.Cache.Redis.Addr, cfg.Cache.Redis.Channel, log)
	if err != nil {
		return nil, err
	}
	if err := bus.Attach(ctx, c); err != nil {
		_ = bus.Close()
		return nil, err
	}
	log.Info("cache invalidation bus attached", zap.String("addr", cfg.Cache.Redis.Addr))
	return func() { _ = bus.Close() }, nil
}
