package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/otherjamesbrown/penf-chat/config"
	"github.com/otherjamesbrown/penf-chat/pkg/buildinfo"
	"github.com/otherjamesbrown/penf-chat/pkg/db"
	"github.com/otherjamesbrown/penf-chat/pkg/events"
	"github.com/otherjamesbrown/penf-chat/pkg/httpapi"
	"github.com/otherjamesbrown/penf-chat/pkg/logging"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions/dispatch"
	"github.com/otherjamesbrown/penf-chat/pkg/observability"
)

// Serve command flags.
var (
	serveMigrate  bool
	serveNoEvents bool
	serveAddr     string
)

// NewServeCommand creates the 'serve' command.
func NewServeCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mention service",
		Long: `Run the mention service.

The service accepts chat messages over HTTP, records the clones they mention
and answers each pending mention through the configured responder. One
worker per clone processes its mentions oldest first. Replicas sharing a
database take a per-clone advisory lock for each drain, so a clone is only
ever drained by one process; a replica that finds the lock held leaves the
clone to its holder. Mention events are published on Redis so other replicas
wake a worker; a periodic sweep picks up anything an event or a skipped
drain missed.

Set redis.host to an empty string, or pass --no-events, to run a single
replica without Redis.`,
		Example: `  penf-chat serve
  penf-chat serve --migrate --addr :9090
  penf-chat serve --no-events`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), deps)
		},
	}

	cmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Apply pending migrations before serving")
	cmd.Flags().BoolVar(&serveNoEvents, "no-events", false, "Disable Redis event publishing and subscription")
	cmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides http.addr)")

	return cmd
}

func runServe(ctx context.Context, deps *Deps) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if serveAddr != "" {
		cfg.HTTP.Addr = serveAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.Component(deps.NewLogger(cfg), "serve")
	logger.Info("Starting penf-chat", logging.F("version", buildinfo.String()))

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if serveMigrate {
		result, err := db.Migrate(ctx, pool, db.Migrations())
		if err != nil {
			return fmt.Errorf("applying migrations: %w", err)
		}
		logger.Info("Migrations applied", logging.F("applied", len(result.Applied)))
	}

	if _, err := db.RegisterPoolStats(prometheus.DefaultRegisterer, pool, buildinfo.ServiceName); err != nil {
		logger.Warn("Pool metrics unavailable", logging.Err(err))
	}
	metrics := observability.DefaultMetrics()

	var (
		notifier mentions.Notifier
		bus      *eventBus
	)
	if !serveNoEvents && cfg.Redis.Host != "" {
		bus, err = connectEvents(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer bus.close()
		notifier = bus.publisher
	}

	svc, err := newServices(cfg, pool, logger, metrics, notifier)
	if err != nil {
		return err
	}

	dispatcher := dispatch.New(cfg.Dispatch, svc.processor, logger, dispatch.WithMetrics(metrics))
	defer func() {
		if !dispatcher.Stop() {
			logger.Warn("Some workers were still running at exit")
		}
	}()

	invalidator := cloneInvalidator{local: svc.directory, logger: logger}
	if bus != nil {
		invalidator.broadcast = bus.publisher
	}

	server := httpapi.New(httpapi.Deps{
		Dispatcher: dispatcher,
		Writer:     svc.writer,
		Mentions:   svc.store,
		Clones:     invalidator,
		Ready:      db.Readiness(pool),
		Gatherer:   prometheus.DefaultGatherer,
		Logger:     logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx, cfg.HTTP.Addr)
	})
	g.Go(func() error {
		dispatcher.RunSweeper(gctx, svc.store)
		return nil
	})
	if bus != nil {
		g.Go(func() error {
			sub := events.NewSubscriber(bus.client, dispatcher, logger, events.WithCloneCache(svc.directory))
			if err := sub.Run(gctx); err != nil {
				logger.Warn("Event subscription ended; relying on sweep", logging.Err(err))
			}
			return nil
		})
	}

	err = g.Wait()
	logger.Info("Shutting down", logging.F("dispatcher", dispatcher.Stats()))
	return err
}

// clonesBroadcaster tells other replicas that clones changed.
type clonesBroadcaster interface {
	ClonesInvalidated(ctx context.Context) error
}

// cloneInvalidator purges this replica's clone cache and, when Redis is
// configured, asks every other replica to purge theirs.
type cloneInvalidator struct {
	local     events.CloneCache
	broadcast clonesBroadcaster
	logger    logging.Logger
}

func (c cloneInvalidator) Invalidate() {
	c.local.Invalidate()
	if c.broadcast == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.broadcast.ClonesInvalidated(ctx); err != nil {
		c.logger.Warn("Clone cache purge not broadcast; other replicas expire on TTL", logging.Err(err))
	}
}

// eventBus bundles the Redis client with its publisher.
type eventBus struct {
	client    *redis.Client
	publisher *events.Publisher
}

func connectEvents(ctx context.Context, cfg *config.ServiceConfig, logger logging.Logger) (*eventBus, error) {
	client, err := events.Connect(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &eventBus{
		client:    client,
		publisher: events.NewPublisher(client, logger),
	}, nil
}

func (b *eventBus) close() {
	_ = b.client.Close()
}
