package mentions

import (
	"context"
	"fmt"

	"github.com/otherjamesbrown/penf-chat/pkg/logging"
	"github.com/otherjamesbrown/penf-chat/pkg/observability"
)

// Directory looks up clones. Lookups return (nil, nil) when nothing matches.
type Directory interface {
	// GetByID returns the clone with the given id.
	GetByID(ctx context.Context, id string) (*Entity, error)

	// FindByName returns the clone named name that is owned by workspaceID.
	FindByName(ctx context.Context, name, workspaceID string) (*Entity, error)

	// FindGlobalByName returns the clone named name that has no owning workspace.
	FindGlobalByName(ctx context.Context, name string) (*Entity, error)
}

// FailureReason classifies why a candidate did not resolve.
type FailureReason string

const (
	// FailureNotFound means no clone matched the candidate. Most "@word"
	// tokens that are not real mentions end here.
	FailureNotFound FailureReason = "not_found"

	// FailureNotVisible means the explicit id names a clone the workspace
	// may not mention.
	FailureNotVisible FailureReason = "not_visible"

	// FailureLookup means the directory itself failed.
	FailureLookup FailureReason = "lookup_error"
)

// ResolutionFailure describes a candidate that was dropped.
type ResolutionFailure struct {
	Candidate Candidate
	Reason    FailureReason
	EntityID  string
	Err       error
}

func (f *ResolutionFailure) Error() string {
	switch {
	case f.Err != nil:
		return fmt.Sprintf("resolve %s: %s: %v", f.Candidate.RawSpan, f.Reason, f.Err)
	case f.EntityID != "":
		return fmt.Sprintf("resolve %s: %s (entity %s)", f.Candidate.RawSpan, f.Reason, f.EntityID)
	default:
		return fmt.Sprintf("resolve %s: %s", f.Candidate.RawSpan, f.Reason)
	}
}

func (f *ResolutionFailure) Unwrap() error {
	return f.Err
}

// Resolution is the outcome of resolving one candidate. Exactly one of
// Mention and Failure is set.
type Resolution struct {
	Mention *ResolvedMention
	Failure *ResolutionFailure
}

// OK reports whether the candidate resolved.
func (r Resolution) OK() bool {
	return r.Mention != nil
}

// Resolver pins mention candidates to clones using workspace-then-global
// precedence.
type Resolver struct {
	directory Directory
	logger    logging.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverMetrics records resolution failures on m.
func WithResolverMetrics(m *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// WithResolverTracer wraps ResolveAll in a span.
func WithResolverTracer(t *observability.Tracer) ResolverOption {
	return func(r *Resolver) { r.tracer = t }
}

// NewResolver creates a Resolver over directory.
func NewResolver(directory Directory, logger logging.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		directory: directory,
		logger:    logging.Component(logger, "mention_resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve resolves a single candidate for a message in workspaceID.
//
// An explicit id wins when it names a visible clone. An explicit id naming a
// clone the workspace cannot see fails with FailureNotVisible and is not
// retried by name. An explicit id that no longer exists falls back to the
// name, then a workspace clone is preferred over a global one.
func (r *Resolver) Resolve(ctx context.Context, c Candidate, workspaceID string) Resolution {
	if c.HasExplicitID {
		e, err := r.directory.GetByID(ctx, c.ExplicitID)
		if err != nil {
			return failed(c, FailureLookup, c.ExplicitID, fmt.Errorf("get clone by id: %w", err))
		}
		if e != nil {
			if !e.VisibleTo(workspaceID) {
				return failed(c, FailureNotVisible, e.ID, nil)
			}
			return resolved(c, e, e.ScopeFor(workspaceID))
		}
	}

	e, err := r.directory.FindByName(ctx, c.Name, workspaceID)
	if err != nil {
		return failed(c, FailureLookup, "", fmt.Errorf("find clone in workspace: %w", err))
	}
	if e != nil {
		return resolved(c, e, ScopeWorkspace)
	}

	e, err = r.directory.FindGlobalByName(ctx, c.Name)
	if err != nil {
		return failed(c, FailureLookup, "", fmt.Errorf("find global clone: %w", err))
	}
	if e != nil {
		return resolved(c, e, ScopeGlobal)
	}

	return failed(c, FailureNotFound, "", nil)
}

// ResolveAll resolves each candidate independently. Failures are logged,
// counted and returned separately; they never stop sibling candidates.
//
// The returned mentions keep source order and contain one entry per matched
// span, so the same clone can appear more than once. Use Distinct to collapse
// them to one per clone.
func (r *Resolver) ResolveAll(ctx context.Context, candidates []Candidate, workspaceID string) ([]ResolvedMention, []ResolutionFailure) {
	if len(candidates) == 0 {
		return nil, nil
	}

	ctx, span := r.tracer.StartResolveSpan(ctx, workspaceID, len(candidates))
	defer span.End()

	logger := r.logger.WithContext(ctx)
	var (
		out      []ResolvedMention
		failures []ResolutionFailure
	)
	for _, c := range candidates {
		res := r.Resolve(ctx, c, workspaceID)
		if res.OK() {
			out = append(out, *res.Mention)
			continue
		}

		f := *res.Failure
		failures = append(failures, f)
		r.metrics.RecordResolutionFailure(string(f.Reason))

		fields := []logging.Field{
			logging.F("workspace_id", workspaceID),
			logging.F("span", c.RawSpan),
			logging.F("reason", string(f.Reason)),
		}
		switch f.Reason {
		case FailureNotFound:
			logger.Debug("Mention candidate did not resolve", fields...)
		case FailureNotVisible:
			logger.Warn("Mention references clone outside workspace", append(fields, logging.F("entity_id", f.EntityID))...)
		default:
			logger.Error("Mention lookup failed", append(fields, logging.Err(f.Err))...)
		}
	}
	return out, failures
}

// Distinct returns the first resolved mention for each clone, in order.
func Distinct(resolved []ResolvedMention) []ResolvedMention {
	if len(resolved) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(resolved))
	out := make([]ResolvedMention, 0, len(resolved))
	for _, r := range resolved {
		if _, ok := seen[r.EntityID]; ok {
			continue
		}
		seen[r.EntityID] = struct{}{}
		out = append(out, r)
	}
	return out
}

func resolved(c Candidate, e *Entity, scope Scope) Resolution {
	return Resolution{Mention: &ResolvedMention{
		Name:     c.Name,
		EntityID: e.ID,
		Scope:    scope,
		RawSpan:  c.RawSpan,
	}}
}

func failed(c Candidate, reason FailureReason, entityID string, err error) Resolution {
	return Resolution{Failure: &ResolutionFailure{
		Candidate: c,
		Reason:    reason,
		EntityID:  entityID,
		Err:       err,
	}}
}
