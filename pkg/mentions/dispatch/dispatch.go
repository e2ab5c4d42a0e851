// Package dispatch runs mention processing with exactly one worker per clone.
//
// Each clone gets a goroutine fed by a one-slot wake channel. Triggers that
// arrive while a drain is running collapse into a single follow-up drain, so
// mentions for one clone are always processed sequentially while different
// clones proceed in parallel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/otherjamesbrown/penf-chat/pkg/logging"
	"github.com/otherjamesbrown/penf-chat/pkg/observability"
)

// ErrStopped is returned by operations on a stopped Dispatcher.
var ErrStopped = errors.New("dispatcher stopped")

// Drainer processes every pending mention of one clone.
type Drainer interface {
	Drain(ctx context.Context, entityID string) error
}

// DrainFunc adapts a function to Drainer.
type DrainFunc func(ctx context.Context, entityID string) error

// Drain implements Drainer.
func (f DrainFunc) Drain(ctx context.Context, entityID string) error {
	return f(ctx, entityID)
}

// PendingLister lists clones that have pending mentions.
type PendingLister interface {
	ListPendingEntities(ctx context.Context) ([]string, error)
}

// Config configures a Dispatcher.
type Config struct {
	// IdleTimeout is how long a worker waits for a trigger before exiting.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds how long Stop waits for running drains.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxConcurrent caps how many clones are drained at once.
	MaxConcurrent int `yaml:"max_concurrent"`

	// SweepInterval is the period of RunSweeper.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		MaxConcurrent:   8,
		SweepInterval:   time.Minute,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	return nil
}

// WorkerStatus is a worker's current state.
type WorkerStatus string

const (
	WorkerStatusIdle     WorkerStatus = "idle"
	WorkerStatusDraining WorkerStatus = "draining"
)

type worker struct {
	id       string
	entityID string
	wake     chan struct{}
	waiters  []chan error
	status   atomic.Value
}

// Dispatcher owns the per-clone workers.
type Dispatcher struct {
	config  Config
	drainer Drainer
	logger  logging.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	workers map[string]*worker
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	slots  chan struct{}

	drains atomic.Int64
	failed atomic.Int64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics reports worker counts and drains on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates a Dispatcher. An invalid config is logged and replaced with
// DefaultConfig.
func New(config Config, drainer Drainer, logger logging.Logger, opts ...Option) *Dispatcher {
	logger = logging.Component(logger, "mention_dispatcher")
	if err := config.Validate(); err != nil {
		logger.Warn("Invalid dispatcher config, using defaults", logging.Err(err))
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		config:  config,
		drainer: drainer,
		logger:  logger,
		workers: make(map[string]*worker),
		ctx:     ctx,
		cancel:  cancel,
		slots:   make(chan struct{}, config.MaxConcurrent),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Trigger asks for entityID's pending mentions to be drained. It never
// blocks. It returns false once the dispatcher is stopped.
func (d *Dispatcher) Trigger(entityID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	w := d.workerLocked(entityID)
	if w == nil {
		return false
	}
	w.signal()
	return true
}

// Flush triggers entityID and waits for a drain that started after the call.
func (d *Dispatcher) Flush(ctx context.Context, entityID string) error {
	done := make(chan error, 1)

	d.mu.Lock()
	w := d.workerLocked(entityID)
	if w == nil {
		d.mu.Unlock()
		return ErrStopped
	}
	w.waiters = append(w.waiters, done)
	w.signal()
	d.mu.Unlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return ErrStopped
	}
}

// DrainAll flushes every entity with at most MaxConcurrent in flight. A
// failing entity does not stop the others; all failures are joined.
func (d *Dispatcher) DrainAll(ctx context.Context, entityIDs []string) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(d.config.MaxConcurrent)

	for _, id := range entityIDs {
		g.Go(func() error {
			if err := d.Flush(ctx, id); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("drain %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Sweep triggers every entity that has pending mentions.
func (d *Dispatcher) Sweep(ctx context.Context, lister PendingLister) (int, error) {
	ids, err := lister.ListPendingEntities(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing pending entities: %w", err)
	}
	n := 0
	for _, id := range ids {
		if d.Trigger(id) {
			n++
		}
	}
	return n, nil
}

// RunSweeper sweeps immediately and then every SweepInterval until ctx ends
// or the dispatcher stops.
func (d *Dispatcher) RunSweeper(ctx context.Context, lister PendingLister) {
	ticker := time.NewTicker(d.config.SweepInterval)
	defer ticker.Stop()

	for {
		if n, err := d.Sweep(ctx, lister); err != nil {
			d.logger.Warn("Pending sweep failed", logging.Err(err))
		} else if n > 0 {
			d.logger.Debug("Pending sweep triggered workers", logging.F("entities", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-d.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels running drains and waits up to ShutdownTimeout for workers
// to exit. It reports whether every worker exited in time.
func (d *Dispatcher) Stop() bool {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(d.config.ShutdownTimeout):
		d.logger.Warn("Dispatcher shutdown timed out", logging.F("timeout", d.config.ShutdownTimeout.String()))
		return false
	}
}

// Stats is a snapshot of dispatcher activity.
type Stats struct {
	Workers  int               `json:"workers"`
	Draining int               `json:"draining"`
	Drains   int64             `json:"drains"`
	Failed   int64             `json:"failed"`
	ByEntity map[string]string `json:"by_entity,omitempty"`
}

// Stats returns current worker counts.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Stats{
		Workers:  len(d.workers),
		Drains:   d.drains.Load(),
		Failed:   d.failed.Load(),
		ByEntity: make(map[string]string, len(d.workers)),
	}
	for id, w := range d.workers {
		status := w.currentStatus()
		if status == WorkerStatusDraining {
			s.Draining++
		}
		s.ByEntity[id] = string(status)
	}
	return s
}

// workerLocked returns entityID's worker, starting one if needed. d.mu must be held.
func (d *Dispatcher) workerLocked(entityID string) *worker {
	if d.stopped {
		return nil
	}
	if w, ok := d.workers[entityID]; ok {
		return w
	}

	w := &worker{
		id:       uuid.NewString(),
		entityID: entityID,
		wake:     make(chan struct{}, 1),
	}
	w.status.Store(WorkerStatusIdle)
	d.workers[entityID] = w
	d.metrics.WorkerStarted()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.metrics.WorkerStopped()
		d.run(w)
	}()
	return w
}

func (d *Dispatcher) run(w *worker) {
	logger := d.logger.With(
		logging.F("entity_id", w.entityID),
		logging.F("worker_id", w.id),
	)
	logger.Debug("Worker started")

	idle := time.NewTimer(d.config.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-d.ctx.Done():
			logger.Debug("Worker stopped")
			return

		case <-w.wake:
			d.drain(w, logger)
			idle.Reset(d.config.IdleTimeout)

		case <-idle.C:
			d.mu.Lock()
			if len(w.wake) > 0 {
				// Triggered while the timer fired.
				d.mu.Unlock()
				idle.Reset(d.config.IdleTimeout)
				continue
			}
			delete(d.workers, w.entityID)
			d.mu.Unlock()
			logger.Debug("Worker idle, exiting")
			return
		}
	}
}

func (d *Dispatcher) drain(w *worker, logger logging.Logger) {
	select {
	case d.slots <- struct{}{}:
		defer func() { <-d.slots }()
	case <-d.ctx.Done():
		d.mu.Lock()
		waiters := w.waiters
		w.waiters = nil
		d.mu.Unlock()
		for _, ch := range waiters {
			ch <- ErrStopped
		}
		return
	}

	d.mu.Lock()
	waiters := w.waiters
	w.waiters = nil
	d.mu.Unlock()

	w.status.Store(WorkerStatusDraining)
	defer w.status.Store(WorkerStatusIdle)

	ctx := logging.ContextWithEntity(d.ctx, w.entityID)
	err := d.drainer.Drain(ctx, w.entityID)
	d.drains.Add(1)

	switch {
	case err == nil:
		d.metrics.RecordDrain("ok")
	case errors.Is(err, context.Canceled) && d.ctx.Err() != nil:
		d.metrics.RecordDrain("cancelled")
	default:
		d.failed.Add(1)
		d.metrics.RecordDrain("error")
		logger.Error("Drain failed", logging.Err(err))
	}

	for _, ch := range waiters {
		ch <- err
	}
}

func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) currentStatus() WorkerStatus {
	return w.status.Load().(WorkerStatus)
}
