// Package httpapi exposes the chat write path, mention listing and the
// dispatcher's trigger surface over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otherjamesbrown/penf-chat/pkg/buildinfo"
	"github.com/otherjamesbrown/penf-chat/pkg/chat"
	pferrors "github.com/otherjamesbrown/penf-chat/pkg/errors"
	"github.com/otherjamesbrown/penf-chat/pkg/logging"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions/dispatch"
)

// Dispatcher is the subset of *dispatch.Dispatcher the API drives.
type Dispatcher interface {
	Trigger(entityID string) bool
	Flush(ctx context.Context, entityID string) error
	Stats() dispatch.Stats
}

// Invalidator drops cached clone lookups. *directory.Cached satisfies it.
type Invalidator interface {
	Invalidate()
}

// Deps wires the server. Writer, Mentions and Clones are optional; their
// routes are not mounted when nil.
type Deps struct {
	Dispatcher Dispatcher
	Writer     *chat.Writer
	Mentions   mentions.Store
	Clones     Invalidator
	Ready      func(ctx context.Context) error
	Gatherer   prometheus.Gatherer
	Logger     logging.Logger

	// FlushTimeout bounds a synchronous drain request.
	FlushTimeout time.Duration
}

// Server is the HTTP surface.
type Server struct {
	deps   Deps
	logger logging.Logger
	router chi.Router
}

// New builds the router.
func New(deps Deps) *Server {
	if deps.FlushTimeout <= 0 {
		deps.FlushTimeout = 5 * time.Minute
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		deps:   deps,
		logger: logging.Component(deps.Logger, "http_api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/version", buildinfo.Handler(buildinfo.ServiceName))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(api chi.Router) {
		api.Get("/dispatcher", s.dispatcherStats)
		api.Post("/entities/{entityID}/trigger", s.triggerEntity)
		api.Post("/entities/{entityID}/drain", s.drainEntity)

		if deps.Writer != nil {
			api.Post("/messages", s.postMessage)
			api.Patch("/messages/{messageID}", s.editMessage)
			api.Delete("/messages/{messageID}", s.deleteMessage)
			api.Post("/messages/{messageID}/resync", s.resyncMessage)
		}
		if deps.Mentions != nil {
			api.Get("/mentions", s.listMentions)
		}
		if deps.Clones != nil {
			api.Post("/clones/invalidate", s.invalidateClones)
		}
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP listening", logging.F("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("HTTP request",
			logging.F("method", r.Method),
			logging.F("path", r.URL.Path),
			logging.F("status", ww.Status()),
			logging.F("request_id", middleware.GetReqID(r.Context())),
			logging.F("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) dispatcherStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Dispatcher.Stats())
}

func (s *Server) triggerEntity(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")
	if !s.deps.Dispatcher.Trigger(entityID) {
		writeError(w, http.StatusServiceUnavailable, dispatch.ErrStopped.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"entity_id": entityID, "status": "triggered"})
}

// drainEntity blocks until every mention pending for the entity at request
// time has reached a terminal state.
func (s *Server) invalidateClones(w http.ResponseWriter, _ *http.Request) {
	s.deps.Clones.Invalidate()
	s.logger.Info("Clone cache invalidated")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) drainEntity(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")

	ctx, cancel := context.WithTimeout(r.Context(), s.deps.FlushTimeout)
	defer cancel()

	err := s.deps.Dispatcher.Flush(ctx, entityID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"entity_id": entityID, "status": "drained"})
	case errors.Is(err, dispatch.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "drain did not finish in time")
	default:
		s.logger.Error("Drain failed", logging.Err(err), logging.F("entity_id", entityID))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type postMessageRequest struct {
	WorkspaceID string  `json:"workspace_id"`
	ChannelID   string  `json:"channel_id"`
	AuthorID    string  `json:"author_id"`
	Content     string  `json:"content"`
	ParentID    *string `json:"parent_id,omitempty"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

type failureResponse struct {
	RawSpan  string                 `json:"raw_span"`
	Reason   mentions.FailureReason `json:"reason"`
	EntityID string                 `json:"entity_id,omitempty"`
}

type postedResponse struct {
	Message  *chat.Message      `json:"message"`
	Mentions []mentions.Mention `json:"mentions"`
	Failures []failureResponse  `json:"failures,omitempty"`
}

func toPostedResponse(p *chat.Posted) postedResponse {
	out := postedResponse{Message: p.Message, Mentions: p.Mentions}
	if out.Mentions == nil {
		out.Mentions = []mentions.Mention{}
	}
	for _, f := range p.Failures {
		out.Failures = append(out.Failures, failureResponse{
			RawSpan:  f.Candidate.RawSpan,
			Reason:   f.Reason,
			EntityID: f.EntityID,
		})
	}
	return out
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	posted, err := s.deps.Writer.Post(r.Context(), chat.NewMessage{
		WorkspaceID: req.WorkspaceID,
		ChannelID:   req.ChannelID,
		AuthorID:    req.AuthorID,
		AuthorKind:  chat.AuthorUser,
		Content:     req.Content,
		ParentID:    req.ParentID,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPostedResponse(posted))
}

func (s *Server) editMessage(w http.ResponseWriter, r *http.Request) {
	var req editMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	posted, err := s.deps.Writer.Edit(r.Context(), chi.URLParam(r, "messageID"), req.Content)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostedResponse(posted))
}

func (s *Server) resyncMessage(w http.ResponseWriter, r *http.Request) {
	posted, err := s.deps.Writer.Resync(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostedResponse(posted))
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Writer.Delete(r.Context(), chi.URLParam(r, "messageID")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listMentions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := mentions.MentionFilter{Limit: 100}

	if v := q.Get("entity_id"); v != "" {
		filter.EntityID = &v
	}
	if v := q.Get("message_id"); v != "" {
		filter.MessageID = &v
	}
	if v := q.Get("status"); v != "" {
		status := mentions.MentionStatus(v)
		switch status {
		case mentions.MentionStatusPending, mentions.MentionStatusResponded, mentions.MentionStatusErrored:
		default:
			writeError(w, http.StatusBadRequest, "status must be pending, responded or errored")
			return
		}
		filter.Status = &status
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		filter.Limit = n
	}

	list, err := s.deps.Mentions.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if list == nil {
		list = []mentions.Mention{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"mentions": list})
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case pferrors.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case pferrors.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case pferrors.IsInvalidState(err):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("Request failed", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
