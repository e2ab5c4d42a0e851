package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/penf-chat/pkg/chat"
	"github.com/otherjamesbrown/penf-chat/pkg/logging"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions/dispatch"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions/processor"
	"github.com/otherjamesbrown/penf-chat/pkg/observability"
)

// Mention command flags.
var (
	mentionOutput    string
	mentionAll       bool
	mentionEntityID  string
	mentionMessageID string
	mentionStatus    string
	mentionLimit     int
	mentionOffset    int
)

// NewMentionsCommand creates the 'mentions' command group.
func NewMentionsCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mentions",
		Short: "Inspect and process clone mentions",
		Long: `Inspect and process clone mentions.

A mention records that a chat message addressed a clone with @Name or
the canonical @Name[id:<clone-id>]. Each mention is pending until the clone answers (responded) or
processing fails (errored). Both outcomes are final.`,
		Aliases: []string{"mention"},
	}

	cmd.AddCommand(newMentionsExtractCommand(deps))
	cmd.AddCommand(newMentionsListCommand(deps))
	cmd.AddCommand(newMentionsProcessCommand(deps))
	cmd.AddCommand(newMentionsResyncCommand(deps))

	return cmd
}

// newMentionsExtractCommand creates the 'mentions extract' subcommand.
func newMentionsExtractCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <text>",
		Short: "Show the mention candidates in a piece of text",
		Long: `Show the mention candidates found in text without touching the database.

Useful for checking how a message will be parsed before posting it.`,
		Example: `  penf-chat mentions extract "@Helper can you ask @OpsBot[id:c-42]?"
  penf-chat mentions extract "@alice hi" --output json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMentionsExtract(deps, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&mentionOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// newMentionsListCommand creates the 'mentions list' subcommand.
func newMentionsListCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mentions",
		Long:  `List recorded mentions, newest first.`,
		Example: `  penf-chat mentions list --status pending
  penf-chat mentions list --entity c-42 --limit 20 -o json
  penf-chat mentions list --message 7f9c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMentionsList(cmd.Context(), deps)
		},
	}

	cmd.Flags().StringVar(&mentionEntityID, "entity", "", "Filter by clone id")
	cmd.Flags().StringVar(&mentionMessageID, "message", "", "Filter by message id")
	cmd.Flags().StringVar(&mentionStatus, "status", "", "Filter by status: pending, responded, errored")
	cmd.Flags().IntVar(&mentionLimit, "limit", 50, "Maximum mentions to return")
	cmd.Flags().IntVar(&mentionOffset, "offset", 0, "Mentions to skip")
	cmd.Flags().StringVarP(&mentionOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// newMentionsProcessCommand creates the 'mentions process' subcommand.
func newMentionsProcessCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process [entity-id]",
		Short: "Answer pending mentions now",
		Long: `Answer pending mentions without running the service.

With an entity id, that clone's pending mentions are processed oldest first.
With --all, every clone with pending mentions is drained concurrently, one
worker per clone. Do not run this against a database a live service is
draining, or both may answer the same mention.`,
		Example: `  penf-chat mentions process c-42
  penf-chat mentions process --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case mentionAll && len(args) > 0:
				return fmt.Errorf("pass an entity id or --all, not both")
			case mentionAll:
				return runMentionsProcessAll(cmd.Context(), deps)
			case len(args) == 1:
				return runMentionsProcess(cmd.Context(), deps, args[0])
			default:
				return fmt.Errorf("an entity id or --all is required")
			}
		},
	}

	cmd.Flags().BoolVar(&mentionAll, "all", false, "Process every clone with pending mentions")
	cmd.Flags().StringVarP(&mentionOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// newMentionsResyncCommand creates the 'mentions resync' subcommand.
func newMentionsResyncCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resync <message-id>",
		Short: "Re-resolve a message's mentions",
		Long: `Re-resolve the mentions in a message's current content.

Existing mentions of the message are replaced, so errored mentions come back
as pending. Use it after fixing a clone or the responder.`,
		Example: `  penf-chat mentions resync 7f9c2d1e-...`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMentionsResync(cmd.Context(), deps, args[0])
		},
	}

	cmd.Flags().StringVarP(&mentionOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

func runMentionsExtract(deps *Deps, text string) error {
	candidates := mentions.Extract(text)
	if candidates == nil {
		candidates = []mentions.Candidate{}
	}

	out := deps.out()
	if done, err := writeStructured(out, resolveFormat(mentionOutput, nil), candidates); done || err != nil {
		return err
	}

	if len(candidates) == 0 {
		fmt.Fprintln(out, "No mentions found.")
		return nil
	}
	fmt.Fprintf(out, "%-24s %-20s %-20s %s\n", "SPAN", "NAME", "EXPLICIT ID", "OFFSETS")
	for _, c := range candidates {
		explicit := "-"
		if c.HasExplicitID {
			explicit = c.ExplicitID
		}
		fmt.Fprintf(out, "%-24s %-20s %-20s %d-%d\n",
			truncate(c.RawSpan, 24), truncate(c.Name, 20), truncate(explicit, 20), c.Start, c.End)
	}
	return nil
}

func runMentionsList(ctx context.Context, deps *Deps) error {
	filter := mentions.MentionFilter{Limit: mentionLimit, Offset: mentionOffset}
	if mentionEntityID != "" {
		filter.EntityID = &mentionEntityID
	}
	if mentionMessageID != "" {
		filter.MessageID = &mentionMessageID
	}
	if mentionStatus != "" {
		status, err := parseMentionStatus(mentionStatus)
		if err != nil {
			return err
		}
		filter.Status = &status
	}

	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	list, err := mentions.NewPostgresRepository(pool).List(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing mentions: %w", err)
	}
	if list == nil {
		list = []mentions.Mention{}
	}

	out := deps.out()
	if done, err := writeStructured(out, resolveFormat(mentionOutput, cfg), list); done || err != nil {
		return err
	}
	return outputMentionsText(out, list)
}

func runMentionsProcess(ctx context.Context, deps *Deps, entityID string) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	svc, err := newServices(cfg, pool, deps.NewLogger(cfg), observability.NewMetrics(prometheus.NewRegistry()), nil)
	if err != nil {
		return err
	}

	summary, err := svc.processor.ProcessAllPending(ctx, entityID)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	out := deps.out()
	if done, werr := writeStructured(out, resolveFormat(mentionOutput, cfg), summary); done || werr != nil {
		return errors.Join(werr, err)
	}
	outputSummaryText(out, summary)
	return err
}

func runMentionsProcessAll(ctx context.Context, deps *Deps) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	logger := deps.NewLogger(cfg)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	svc, err := newServices(cfg, pool, logger, metrics, nil)
	if err != nil {
		return err
	}

	entityIDs, err := svc.store.ListPendingEntities(ctx)
	if err != nil {
		return fmt.Errorf("listing pending entities: %w", err)
	}

	out := deps.out()
	if len(entityIDs) == 0 {
		fmt.Fprintln(out, "No pending mentions.")
		return nil
	}

	var (
		mu        sync.Mutex
		summaries = make(map[string]processor.Summary, len(entityIDs))
	)
	drainer := dispatch.DrainFunc(func(ctx context.Context, entityID string) error {
		summary, err := svc.processor.ProcessAllPending(ctx, entityID)
		mu.Lock()
		summaries[entityID] = summary
		mu.Unlock()
		return err
	})

	dispatcher := dispatch.New(cfg.Dispatch, drainer, logger, dispatch.WithMetrics(metrics))
	drainErr := dispatcher.DrainAll(ctx, entityIDs)
	dispatcher.Stop()

	results := make([]processor.Summary, 0, len(entityIDs))
	mu.Lock()
	for _, id := range entityIDs {
		if s, ok := summaries[id]; ok {
			results = append(results, s)
		}
	}
	mu.Unlock()

	if done, err := writeStructured(out, resolveFormat(mentionOutput, cfg), results); done || err != nil {
		return errors.Join(err, drainErr)
	}
	for _, s := range results {
		outputSummaryText(out, s)
	}
	if drainErr != nil {
		logger.Warn("Some clones did not drain", logging.Err(drainErr))
	}
	return drainErr
}

func runMentionsResync(ctx context.Context, deps *Deps, messageID string) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	svc, err := newServices(cfg, pool, deps.NewLogger(cfg), observability.NewMetrics(prometheus.NewRegistry()), nil)
	if err != nil {
		return err
	}

	posted, err := svc.writer.Resync(ctx, messageID)
	if err != nil {
		return fmt.Errorf("resyncing message: %w", err)
	}

	out := deps.out()
	if done, err := writeStructured(out, resolveFormat(mentionOutput, cfg), resyncView(posted)); done || err != nil {
		return err
	}

	fmt.Fprintf(out, "Message %s: %d mention(s), %d unresolved\n", messageID, len(posted.Mentions), len(posted.Failures))
	if len(posted.Mentions) > 0 {
		fmt.Fprintln(out)
		if err := outputMentionsText(out, posted.Mentions); err != nil {
			return err
		}
	}
	for _, f := range posted.Failures {
		fmt.Fprintf(out, "  \033[33m!\033[0m %s\n", f.Error())
	}
	return nil
}

type resyncFailure struct {
	RawSpan  string                 `json:"raw_span" yaml:"raw_span"`
	Reason   mentions.FailureReason `json:"reason" yaml:"reason"`
	EntityID string                 `json:"entity_id,omitempty" yaml:"entity_id,omitempty"`
}

type resyncResult struct {
	Message  *chat.Message      `json:"message" yaml:"message"`
	Mentions []mentions.Mention `json:"mentions" yaml:"mentions"`
	Failures []resyncFailure    `json:"failures,omitempty" yaml:"failures,omitempty"`
}

func resyncView(p *chat.Posted) resyncResult {
	r := resyncResult{Message: p.Message, Mentions: p.Mentions}
	if r.Mentions == nil {
		r.Mentions = []mentions.Mention{}
	}
	for _, f := range p.Failures {
		r.Failures = append(r.Failures, resyncFailure{RawSpan: f.Candidate.RawSpan, Reason: f.Reason, EntityID: f.EntityID})
	}
	return r
}

func parseMentionStatus(s string) (mentions.MentionStatus, error) {
	switch status := mentions.MentionStatus(strings.ToLower(s)); status {
	case mentions.MentionStatusPending, mentions.MentionStatusResponded, mentions.MentionStatusErrored:
		return status, nil
	default:
		return "", fmt.Errorf("invalid status %q: must be pending, responded or errored", s)
	}
}

// outputMentionsText renders mentions as a table.
func outputMentionsText(out io.Writer, list []mentions.Mention) error {
	if len(list) == 0 {
		fmt.Fprintln(out, "No mentions found.")
		return nil
	}

	fmt.Fprintf(out, "%-36s  %-20s  %-9s  %-10s  %-19s  %s\n", "ID", "ENTITY", "SCOPE", "STATUS", "CREATED", "DETAIL")
	for _, m := range list {
		detail := ""
		switch {
		case m.Error != nil:
			detail = truncate(*m.Error, 40)
		case m.ResponseMessageID != nil:
			detail = "reply " + *m.ResponseMessageID
		}
		fmt.Fprintf(out, "%-36s  %-20s  %-9s  %s  %-19s  %s\n",
			m.ID,
			truncate(m.EntityID, 20),
			m.Scope,
			statusColumn(m.Status()),
			m.CreatedAt.Format("2006-01-02 15:04:05"),
			detail,
		)
	}
	return nil
}

func statusColumn(s mentions.MentionStatus) string {
	color := "\033[33m"
	switch s {
	case mentions.MentionStatusResponded:
		color = "\033[32m"
	case mentions.MentionStatusErrored:
		color = "\033[31m"
	}
	return fmt.Sprintf("%s%-10s\033[0m", color, s)
}

func outputSummaryText(out io.Writer, s processor.Summary) {
	if s.Busy {
		fmt.Fprintf(out, "%s: \033[33mbusy\033[0m, another process is draining this clone\n", s.EntityID)
		return
	}
	fmt.Fprintf(out, "%s: %d pending, \033[32m%d responded\033[0m, \033[31m%d errored\033[0m, %d skipped (%s)\n",
		s.EntityID, s.Pending, s.Responded, s.Errored, s.Skipped, s.Duration.Round(time.Millisecond))
}
