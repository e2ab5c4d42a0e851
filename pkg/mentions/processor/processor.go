package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/otherjamesbrown/penf-chat/pkg/chat"
	pferrors "github.com/otherjamesbrown/penf-chat/pkg/errors"
	"github.com/otherjamesbrown/penf-chat/pkg/logging"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions"
	"github.com/otherjamesbrown/penf-chat/pkg/observability"
)

// Failure causes recorded on errored mentions.
const (
	CauseMessageNotFound = "original message not found"
	CauseEntityNotFound  = "entity not found"
	CauseEmptyResponse   = "no response from service"
	CauseTimeout         = "responder timed out"
)

// Processor turns pending mentions into clone replies.
type Processor struct {
	config    Config
	store     mentions.Store
	directory mentions.Directory
	messages  chat.MessageStore
	responder Responder
	logger    logging.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	locker    EntityLocker
}

// Option configures a Processor.
type Option func(*Processor)

// WithMetrics records outcomes and responder latency on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithTracer traces each mention and responder call.
func WithTracer(t *observability.Tracer) Option {
	return func(p *Processor) { p.tracer = t }
}

// WithLocker holds l's lock on the clone for the whole of ProcessAllPending,
// so replicas sharing one database never drain the same clone at once.
func WithLocker(l EntityLocker) Option {
	return func(p *Processor) { p.locker = l }
}

// New creates a Processor. An invalid config is logged and replaced with
// DefaultConfig.
func New(
	config Config,
	store mentions.Store,
	directory mentions.Directory,
	messages chat.MessageStore,
	responder Responder,
	logger logging.Logger,
	opts ...Option,
) *Processor {
	logger = logging.Component(logger, "mention_processor")
	if err := config.Validate(); err != nil {
		logger.Warn("Invalid processor config, using defaults", logging.Err(err))
		config = DefaultConfig()
	}

	p := &Processor{
		config:    config,
		store:     store,
		directory: directory,
		messages:  messages,
		responder: responder,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessAllPending processes entityID's pending mentions one at a time,
// oldest first. A mention's failure never stops the loop. The loop stops
// between mentions once ctx is done and returns ctx.Err(); mentions already
// processed stay processed. With a locker configured, a clone already being
// drained elsewhere is left alone and the Summary is marked Busy.
func (p *Processor) ProcessAllPending(ctx context.Context, entityID string) (Summary, error) {
	start := time.Now()
	summary := Summary{EntityID: entityID}

	ctx, span := p.tracer.StartDrainSpan(ctx, entityID)
	defer span.End()

	if p.locker != nil {
		unlock, acquired, err := p.locker.TryLock(ctx, entityID)
		if err != nil {
			observability.SetError(span, err, string(pferrors.CodeOf(err)))
			return summary, fmt.Errorf("locking %s for drain: %w", entityID, err)
		}
		if !acquired {
			summary.Busy = true
			summary.Duration = time.Since(start)
			p.logger.WithContext(ctx).Debug("Clone is being drained elsewhere, skipping",
				logging.F("entity_id", entityID))
			observability.SetSuccess(span)
			return summary, nil
		}
		defer unlock()
	}

	pending, err := p.store.ListPending(ctx, entityID)
	if err != nil {
		observability.SetError(span, err, string(pferrors.CodeOf(err)))
		return summary, fmt.Errorf("listing pending mentions for %s: %w", entityID, err)
	}
	summary.Pending = len(pending)

	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			summary.Skipped += summary.Pending - summary.Responded - summary.Errored - summary.Skipped
			summary.Duration = time.Since(start)
			return summary, err
		}

		switch p.ProcessOne(ctx, m) {
		case OutcomeResponded:
			summary.Responded++
		case OutcomeErrored:
			summary.Errored++
		default:
			summary.Skipped++
		}
	}

	summary.Duration = time.Since(start)
	if summary.Pending > 0 {
		p.logger.WithContext(ctx).Info("Drained pending mentions",
			logging.F("entity_id", entityID),
			logging.F("pending", summary.Pending),
			logging.F("responded", summary.Responded),
			logging.F("errored", summary.Errored),
			logging.F("skipped", summary.Skipped),
			logging.F("duration_ms", summary.Duration.Milliseconds()),
		)
	}
	observability.SetSuccess(span)
	return summary, nil
}

// Drain adapts ProcessAllPending for the dispatcher.
func (p *Processor) Drain(ctx context.Context, entityID string) error {
	_, err := p.ProcessAllPending(ctx, entityID)
	return err
}

// ProcessOne processes a single pending mention. It never returns an error:
// every failure is recorded on the mention with MarkError.
func (p *Processor) ProcessOne(ctx context.Context, m mentions.Mention) Outcome {
	ctx, span := p.tracer.StartProcessSpan(ctx, m.ID, m.EntityID)
	defer span.End()

	logger := p.logger.WithContext(logging.ContextWithEntity(ctx, m.EntityID)).With(
		logging.F("mention_id", m.ID),
		logging.F("message_id", m.MessageID),
	)

	reply, failure := p.respond(ctx, m)
	if failure != nil && failure.Code == pferrors.ErrContextCancelled {
		logger.Info("Mention left pending, context ended")
		return OutcomeSkipped
	}

	// The reply or failure is already final; record it even if ctx has ended.
	write := context.WithoutCancel(ctx)

	if failure == nil {
		if _, err := p.store.MarkResponded(write, m.ID, reply.ID); err != nil {
			failure = stageFailure(err, pferrors.StageMarkResponded, "failed to record response")
		} else {
			p.metrics.RecordProcessed(string(OutcomeResponded), "")
			observability.SetSuccess(span)
			logger.Debug("Mention responded", logging.F("reply_id", reply.ID))
			return OutcomeResponded
		}
	}

	observability.SetError(span, failure, string(failure.Code))
	if _, err := p.store.MarkError(write, m.ID, failure.Message); err != nil {
		logger.Error("Failed to record mention error",
			logging.F("cause", failure.Message),
			logging.Err(err),
		)
		return OutcomeSkipped
	}

	p.metrics.RecordProcessed(string(OutcomeErrored), string(failure.Code))
	logger.Warn("Mention processing failed",
		logging.F("stage", failure.Stage),
		logging.F("code", string(failure.Code)),
		logging.F("cause", failure.Message),
	)
	return OutcomeErrored
}

// respond runs steps up to and including the reply write. A non-nil failure
// carries the human-readable cause in Message.
func (p *Processor) respond(ctx context.Context, m mentions.Mention) (*chat.Message, *pferrors.PipelineError) {
	origin, err := p.messages.GetByID(ctx, m.MessageID)
	if err != nil {
		return nil, stageFailure(err, pferrors.StageFetchMessage, "failed to load original message")
	}
	if origin == nil {
		return nil, pferrors.NewPipelineError(pferrors.ErrMessageNotFound, pferrors.StageFetchMessage, CauseMessageNotFound, nil)
	}

	entity, err := p.directory.GetByID(ctx, m.EntityID)
	if err != nil {
		return nil, stageFailure(err, pferrors.StageFetchEntity, "failed to load entity")
	}
	if entity == nil {
		return nil, pferrors.NewPipelineError(pferrors.ErrEntityNotFound, pferrors.StageFetchEntity, CauseEntityNotFound, nil)
	}

	turns, err := p.buildContext(ctx, origin)
	if err != nil {
		return nil, stageFailure(err, pferrors.StageFetchMessage, "failed to load parent message")
	}

	text, failure := p.invoke(ctx, Request{
		Context:    turns,
		EntityID:   entity.ID,
		BasePrompt: entity.BasePrompt,
		Query:      origin.Content,
	})
	if failure != nil {
		return nil, failure
	}

	parentID := origin.ID
	reply, err := p.messages.Create(ctx, chat.NewMessage{
		WorkspaceID: origin.WorkspaceID,
		ChannelID:   origin.ChannelID,
		AuthorID:    entity.ID,
		AuthorKind:  chat.AuthorClone,
		Content:     text,
		ParentID:    &parentID,
	})
	if err != nil {
		return nil, stageFailure(err, pferrors.StageCreateReply, "failed to create reply")
	}
	return reply, nil
}

// buildContext returns the parent (when origin is a reply) followed by the
// origin as user turns. A parent that no longer exists is skipped.
func (p *Processor) buildContext(ctx context.Context, origin *chat.Message) ([]Turn, error) {
	turns := make([]Turn, 0, 2)
	if origin.IsReply() {
		parent, err := p.messages.GetByID(ctx, *origin.ParentID)
		if err != nil {
			return nil, err
		}
		if parent != nil {
			turns = append(turns, Turn{Role: RoleUser, Content: parent.Content})
		}
	}
	return append(turns, Turn{Role: RoleUser, Content: origin.Content}), nil
}

// invoke calls the responder under ResponderTimeout.
func (p *Processor) invoke(ctx context.Context, req Request) (string, *pferrors.PipelineError) {
	ctx, span := p.tracer.StartRespondSpan(ctx, req.EntityID)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, p.config.ResponderTimeout)
	defer cancel()

	start := time.Now()
	resp, err := p.responder.Invoke(callCtx, req)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			p.metrics.RecordResponderLatency("cancelled", elapsed)
			return "", pferrors.NewPipelineError(pferrors.ErrContextCancelled, pferrors.StageInvokeResponder, "operation cancelled", ctx.Err())
		}

		var failure *pferrors.PipelineError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			failure = pferrors.NewPipelineError(pferrors.ErrTimeout, pferrors.StageInvokeResponder, CauseTimeout, err)
			failure.Duration = elapsed
			failure.Timeout = p.config.ResponderTimeout
			p.metrics.RecordResponderLatency("timeout", elapsed)
		} else {
			failure = stageFailure(err, pferrors.StageInvokeResponder, "responder failed")
			if failure.Code == pferrors.ErrContextCancelled {
				// Cancelled inside the responder, not by our caller.
				failure.Code = pferrors.ErrProcessingError
				failure.Message = "responder failed: " + err.Error()
			}
			p.metrics.RecordResponderLatency("error", elapsed)
		}
		observability.SetError(span, failure, string(failure.Code))
		return "", failure
	}

	p.metrics.RecordResponderLatency("ok", elapsed)
	if resp == nil || strings.TrimSpace(resp.Response) == "" {
		failure := pferrors.NewPipelineError(pferrors.ErrEmptyResponse, pferrors.StageInvokeResponder, CauseEmptyResponse, nil)
		observability.SetError(span, failure, string(failure.Code))
		return "", failure
	}

	observability.SetSuccess(span)
	return resp.Response, nil
}

// stageFailure classifies err and prefixes its text with what was being done.
func stageFailure(err error, stage, what string) *pferrors.PipelineError {
	failure := *pferrors.ClassifyError(err, stage)
	failure.Stage = stage
	if failure.Code != pferrors.ErrContextCancelled {
		failure.Message = what + ": " + err.Error()
	}
	return &failure
}
