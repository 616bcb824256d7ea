package querysync

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.trai.ch/zerr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/huykn/querysync/api"
	"github.com/huykn/querysync/cache"
	"github.com/huykn/querysync/metrics"
	"github.com/huykn/querysync/mutation"
	"github.com/huykn/querysync/session"
	"github.com/huykn/querysync/storage"
	qsync "github.com/huykn/querysync/sync"
)

const setupTimeout = 5 * time.Second

// Client wires the session, cache, mutation executor and REST transport
// together. All fields are ready to use after New.
type Client struct {
	// API is the typed entry point for every backend operation.
	API *api.Service

	Session   *session.Manager
	Cache     *cache.Coordinator
	Mutations *mutation.Executor
	Transport *api.Transport

	// Metrics is nil unless Config.EnableMetrics is set.
	Metrics *metrics.Metrics

	store    storage.Store
	redis    *redis.Client
	ownRedis bool // redis was opened for sync only
	zap      *zap.Logger
	logger   Logger
	cfg      Config
}

// New creates a Client. The persisted session is rehydrated before New
// returns, so Session reports the logged-in state immediately.
func New(cfg Config) (*Client, error) {
	if cfg.LocalCacheConfig.MaxSize == 0 {
		cfg.LocalCacheConfig = DefaultLocalCacheConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	var err error
	c.logger, c.zap, err = newLogger(cfg)
	if err != nil {
		return nil, err
	}

	if err := c.openStore(); err != nil {
		return nil, err
	}

	serializer, err := storage.GetSerializer(cfg.Store.Format)
	if err != nil {
		return nil, err
	}
	c.Session, err = session.NewManager(session.Options{
		Store:      c.store,
		Serializer: serializer,
		Logger:     c.logger,
		DebugMode:  cfg.DebugMode,
	})
	if err != nil {
		return nil, err
	}
	if cfg.DebugMode {
		c.Session.OnChange(func(s session.Session) {
			c.logger.Debug("Session: changed", "loggedIn", s.LoggedIn())
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()
	current, err := c.Session.Load(ctx)
	if err != nil {
		return nil, err
	}

	c.Transport, err = api.NewTransport(api.TransportOptions{
		BaseURL:        cfg.BaseURL,
		Tokens:         c.Session,
		Timeout:        cfg.Timeout,
		RateLimit:      rate.Limit(cfg.RateLimit),
		Burst:          cfg.Burst,
		OnUnauthorized: c.onUnauthorized,
		UserAgent:      cfg.UserAgent,
		Logger:         c.logger,
		DebugMode:      cfg.DebugMode,
	})
	if err != nil {
		return nil, err
	}

	opts := cfg.coordinatorOptions()
	opts.Fetcher = c.Transport
	opts.Logger = c.logger
	opts.ResetOnError = tokenRejected
	if cfg.Sync.Enabled {
		opts.Synchronizer = c.newSynchronizer(current)
	}
	c.Cache, err = cache.New(opts)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to create cache coordinator")
	}

	if cfg.EnableMetrics {
		c.Metrics = metrics.New(c.Cache)
	}

	c.Mutations, err = mutation.New(mutation.Options{
		Sender:      c.Transport,
		Invalidator: c.Cache,
		Definitions: api.MutationDefinitions(),
		OnSettled:   c.onSettled,
		Logger:      c.logger,
		DebugMode:   cfg.DebugMode,
		OnError:     cfg.OnError,
	})
	if err != nil {
		return nil, err
	}

	c.API = api.NewService(c.Cache, c.Mutations, c.Session)

	if cfg.DebugMode {
		c.logger.Debug("Client: ready", "baseURL", cfg.BaseURL, "store", cfg.Store.Type, "loggedIn", current.LoggedIn())
	}
	ok = true
	return c, nil
}

func (c *Client) openStore() error {
	switch c.cfg.Store.Type {
	case StoreSQLite:
		s, err := storage.NewSQLiteStore(c.cfg.Store.Path)
		if err != nil {
			return err
		}
		c.store = s
	case StoreRedis:
		client := c.newRedisClient()
		ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return zerr.With(zerr.Wrap(err, "failed to connect to redis"), "addr", c.cfg.Redis.Addr)
		}
		// The store owns the client; sync reuses it.
		c.store = storage.NewRedisStoreFromClient(client, c.cfg.Redis.Prefix)
		c.redis = client
	case StoreMemory:
		c.store = storage.NewMemoryStore()
	default:
		return zerr.With(ErrUnknownStore, "store", c.cfg.Store.Type)
	}
	return nil
}

func (c *Client) newRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     c.cfg.Redis.Addr,
		Password: c.cfg.Redis.Password,
		DB:       c.cfg.Redis.DB,
	})
}

// newSynchronizer returns the account's invalidation channel, or nil when no
// account is logged in yet. The channel is chosen once per process.
func (c *Client) newSynchronizer(current session.Session) cache.Synchronizer {
	if !current.LoggedIn() || current.User == nil {
		c.logger.Info("Sync: no logged-in account, cross-process invalidation disabled")
		return nil
	}
	if c.redis == nil {
		c.redis = c.newRedisClient()
		c.ownRedis = true
	}
	channel := qsync.ChannelForUser(c.cfg.Sync.ChannelPrefix, current.User.ID)
	return qsync.NewPubSubSynchronizer(c.redis, channel, c.cfg.DeviceID, c.logger)
}

// onUnauthorized drops the token as soon as the server rejects it. The cache
// is reset when the rejected fetch settles (tokenRejected), or by the API
// service once a failed mutation has returned.
func (c *Client) onUnauthorized(ctx context.Context) {
	if err := c.Session.Clear(ctx); err != nil {
		c.logger.Warn("Session: failed to clear rejected session", "error", err)
		if c.cfg.OnError != nil {
			c.cfg.OnError(err)
		}
	}
	if c.Metrics != nil {
		c.Metrics.ObserveForcedLogout()
	}
}

// tokenRejected matches a 401 from any fetch, including subscriptions and
// background refetches that never pass through the API service.
func tokenRejected(err error) bool {
	apiErr, ok := api.AsError(err)
	return ok && apiErr.Unauthorized()
}

func (c *Client) onSettled(rec mutation.Record) {
	if c.Metrics != nil {
		c.Metrics.ObserveMutation(rec)
	}
	if rec.Status == mutation.StatusFailed && c.cfg.DebugMode {
		c.logger.Debug("Mutation: failed", "endpoint", rec.Endpoint, "idempotencyKey", rec.IdempotencyKey, "error", rec.Err)
	}
}

// Config returns the configuration the client was built with.
func (c *Client) Config() Config {
	return c.cfg
}

// Stats returns coordinator statistics.
func (c *Client) Stats() Stats {
	return c.Cache.Stats()
}

// Close releases the cache, the store and the logger. It is safe to call
// more than once.
func (c *Client) Close() error {
	var errs []error
	if c.Cache != nil {
		errs = append(errs, c.Cache.Close())
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
		c.store = nil
	}
	if c.ownRedis && c.redis != nil {
		errs = append(errs, c.redis.Close())
	}
	c.redis = nil
	if c.zap != nil {
		_ = c.zap.Sync()
		c.zap = nil
	}
	return errors.Join(errs...)
}
