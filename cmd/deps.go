// Package cmd provides CLI commands for the penf-chat tool.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otherjamesbrown/penf-chat/config"
	"github.com/otherjamesbrown/penf-chat/pkg/chat"
	"github.com/otherjamesbrown/penf-chat/pkg/db"
	"github.com/otherjamesbrown/penf-chat/pkg/directory"
	"github.com/otherjamesbrown/penf-chat/pkg/logging"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions/processor"
	"github.com/otherjamesbrown/penf-chat/pkg/observability"
	"github.com/otherjamesbrown/penf-chat/pkg/responder"
)

// Deps holds what every command needs from its environment.
type Deps struct {
	LoadConfig  func() (*config.ServiceConfig, error)
	ConnectToDB func(context.Context, *config.ServiceConfig) (*pgxpool.Pool, error)
	NewLogger   func(*config.ServiceConfig) logging.Logger

	// Out receives command output. Defaults to os.Stdout.
	Out io.Writer
}

// DefaultDeps returns production dependencies loading config from path.
func DefaultDeps(path string) *Deps {
	return &Deps{
		LoadConfig:  func() (*config.ServiceConfig, error) { return config.Load(path) },
		ConnectToDB: connectToDatabase,
		NewLogger: func(cfg *config.ServiceConfig) logging.Logger {
			lc := cfg.Logging
			lc.Output = os.Stderr
			return logging.NewLogger(&lc)
		},
		Out: os.Stdout,
	}
}

func (d *Deps) out() io.Writer {
	if d.Out == nil {
		return os.Stdout
	}
	return d.Out
}

// connectToDatabase tolerates Postgres still starting alongside the service.
func connectToDatabase(ctx context.Context, cfg *config.ServiceConfig) (*pgxpool.Pool, error) {
	return db.ConnectWithRetry(ctx, &cfg.Database, 3, 2*time.Second)
}

// drainLockNamespace scopes the per-clone advisory locks every replica and
// CLI invocation takes before draining.
const drainLockNamespace = "penf-chat.mention-drain"

// services is the mention pipeline wired over Postgres.
type services struct {
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	store     *mentions.PostgresRepository
	messages  *chat.PostgresMessageStore
	directory *directory.Cached
	ingestor  *mentions.Ingestor
	writer    *chat.Writer
	processor *processor.Processor
}

// newServices wires the pipeline. notifier may be nil.
func newServices(cfg *config.ServiceConfig, pool *pgxpool.Pool, logger logging.Logger, metrics *observability.Metrics, notifier mentions.Notifier) (*services, error) {
	tracer := observability.NewTracer()

	dir, err := directory.NewCached(directory.NewPostgresDirectory(pool), cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("creating directory cache: %w", err)
	}

	client, err := responder.NewClient(cfg.Responder, logger)
	if err != nil {
		return nil, fmt.Errorf("creating responder client: %w", err)
	}

	resolver := mentions.NewResolver(dir, logger,
		mentions.WithResolverMetrics(metrics),
		mentions.WithResolverTracer(tracer),
	)

	ingestOpts := []mentions.IngestorOption{
		mentions.WithIngestMetrics(metrics),
		mentions.WithIngestTracer(tracer),
	}
	if notifier != nil {
		ingestOpts = append(ingestOpts, mentions.WithNotifier(notifier))
	}
	ingestor := mentions.NewIngestor(resolver, logger, ingestOpts...)

	store := mentions.NewPostgresRepository(pool)
	messages := chat.NewPostgresMessageStore(pool)

	return &services{
		metrics:   metrics,
		tracer:    tracer,
		store:     store,
		messages:  messages,
		directory: dir,
		ingestor:  ingestor,
		writer:    chat.NewWriter(chat.NewPostgresUnitOfWork(pool), ingestor, logger),
		processor: processor.New(cfg.Processor, store, dir, messages, client, logger,
			processor.WithMetrics(metrics),
			processor.WithTracer(tracer),
			processor.WithLocker(db.NewAdvisoryLocker(pool, drainLockNamespace)),
		),
	}, nil
}
