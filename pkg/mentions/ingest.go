package mentions

import (
	"context"
	"fmt"

	"github.com/otherjamesbrown/penf-chat/pkg/logging"
	"github.com/otherjamesbrown/penf-chat/pkg/observability"
)

// Notifier announces newly created mentions so processing can be triggered.
type Notifier interface {
	MentionCreated(ctx context.Context, m Mention) error
}

// Prepared is a message body after extraction, resolution and canonicalization.
type Prepared struct {
	// Content is the canonical text to persist as the message body.
	Content    string
	Candidates []Candidate
	Resolved   []ResolvedMention
	Failures   []ResolutionFailure
}

// Entities returns the distinct mentions that should get a record.
func (p *Prepared) Entities() []ResolvedMention {
	return Distinct(p.Resolved)
}

// Ingestor runs the synchronous half of the pipeline for message writes.
//
// The Store is passed per call so that the caller can bind it to the same
// transaction that writes the message body.
type Ingestor struct {
	resolver *Resolver
	notifier Notifier
	logger   logging.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithNotifier announces created mentions through n.
func WithNotifier(n Notifier) IngestorOption {
	return func(i *Ingestor) { i.notifier = n }
}

// WithIngestMetrics counts created mentions on m.
func WithIngestMetrics(m *observability.Metrics) IngestorOption {
	return func(i *Ingestor) { i.metrics = m }
}

// WithIngestTracer traces Prepare.
func WithIngestTracer(t *observability.Tracer) IngestorOption {
	return func(i *Ingestor) { i.tracer = t }
}

// NewIngestor creates an Ingestor.
func NewIngestor(resolver *Resolver, logger logging.Logger, opts ...IngestorOption) *Ingestor {
	i := &Ingestor{
		resolver: resolver,
		logger:   logging.Component(logger, "mention_ingestor"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Prepare extracts, resolves and canonicalizes text written in workspaceID.
// Resolution failures are reported in the result and never fail the call.
func (i *Ingestor) Prepare(ctx context.Context, workspaceID, text string) (*Prepared, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := i.tracer.StartIngestSpan(ctx, workspaceID)
	defer span.End()

	p := &Prepared{
		Content:    text,
		Candidates: Extract(text),
	}
	if len(p.Candidates) == 0 {
		return p, nil
	}

	p.Resolved, p.Failures = i.resolver.ResolveAll(ctx, p.Candidates, workspaceID)
	p.Content = Canonicalize(text, p.Resolved)
	return p, nil
}

// Commit creates one pending record per distinct clone in p. Any failure is
// returned so the caller can abort the enclosing message write.
func (i *Ingestor) Commit(ctx context.Context, store Store, messageID string, p *Prepared) ([]Mention, error) {
	entities := p.Entities()
	if len(entities) == 0 {
		return nil, nil
	}

	created := make([]Mention, 0, len(entities))
	for _, r := range entities {
		m, err := store.Create(ctx, messageID, r.EntityID, r.Scope)
		if err != nil {
			return nil, fmt.Errorf("recording mention of %s: %w", r.EntityID, err)
		}
		created = append(created, *m)
	}

	for _, m := range created {
		i.metrics.RecordMentionCreated(string(m.Scope))
	}
	i.logger.WithContext(ctx).Debug("Mentions recorded",
		logging.F("message_id", messageID),
		logging.F("count", len(created)),
	)
	return created, nil
}

// Announce notifies about created mentions. It runs after the enclosing
// transaction commits; failures are logged only, since the periodic sweep
// picks up any pending mention that was not announced.
func (i *Ingestor) Announce(ctx context.Context, created []Mention) {
	if i.notifier == nil {
		return
	}
	logger := i.logger.WithContext(ctx)
	for _, m := range created {
		if err := i.notifier.MentionCreated(ctx, m); err != nil {
			logger.Warn("Failed to announce mention",
				logging.F("mention_id", m.ID),
				logging.F("entity_id", m.EntityID),
				logging.Err(err),
			)
		}
	}
}

// Resync replaces messageID's mention set after an edit. Old records are
// removed whatever their state and a fresh set is created from newText.
func (i *Ingestor) Resync(ctx context.Context, store Store, workspaceID, messageID, newText string) (*Prepared, []Mention, error) {
	p, err := i.Prepare(ctx, workspaceID, newText)
	if err != nil {
		return nil, nil, err
	}

	if _, err := i.Retire(ctx, store, messageID); err != nil {
		return nil, nil, err
	}

	created, err := i.Commit(ctx, store, messageID, p)
	if err != nil {
		return nil, nil, err
	}
	return p, created, nil
}

// Retire removes every mention of messageID and returns how many were removed.
func (i *Ingestor) Retire(ctx context.Context, store Store, messageID string) (int, error) {
	n, err := store.DeleteForMessage(ctx, messageID)
	if err != nil {
		return 0, fmt.Errorf("retiring mentions for %s: %w", messageID, err)
	}
	if n > 0 {
		i.logger.WithContext(ctx).Debug("Mentions retired",
			logging.F("message_id", messageID),
			logging.F("count", n),
		)
	}
	return n, nil
}
