// Package mentions resolves "@name" references to clones in chat messages.
// It extracts mention candidates from message text, resolves each candidate
// to a clone under workspace-then-global visibility, rewrites the text into
// canonical form and persists one mention record per resolved clone with a
// pending -> responded | errored lifecycle.
package mentions

import (
	"time"
)

// Scope records whether a clone was resolved inside the message's workspace
// or from the global pool.
type Scope string

const (
	ScopeWorkspace Scope = "workspace"
	ScopeGlobal    Scope = "global"
)

// Visibility of a clone to workspaces other than its owner.
type Visibility string

const (
	VisibilityGlobal  Visibility = "global"
	VisibilityPrivate Visibility = "private"
)

// MentionStatus is the derived lifecycle state of a Mention.
type MentionStatus string

const (
	MentionStatusPending   MentionStatus = "pending"
	MentionStatusResponded MentionStatus = "responded"
	MentionStatusErrored   MentionStatus = "errored"
)

// Candidate is a single "@name" or "@name[id:...]" occurrence found in text.
type Candidate struct {
	// RawSpan is the exact matched text, including the leading "@".
	RawSpan string `json:"raw_span"`
	Name    string `json:"name"`

	// ExplicitID is the entity id pinned by a canonical "[id:...]" suffix.
	// Empty when HasExplicitID is false.
	ExplicitID    string `json:"explicit_id,omitempty"`
	HasExplicitID bool   `json:"has_explicit_id"`

	// Byte offsets of RawSpan in the source text.
	Start int `json:"start"`
	End   int `json:"end"`
}

// ResolvedMention is a candidate pinned to a concrete clone.
type ResolvedMention struct {
	Name     string `json:"name"`
	EntityID string `json:"entity_id"`
	Scope    Scope  `json:"scope"`
	RawSpan  string `json:"raw_span"`
}

// Canonical returns the idempotent "@name[id:<entity>]" form of the mention.
func (r ResolvedMention) Canonical() string {
	return FormatCanonical(r.Name, r.EntityID)
}

// Mention is the persisted link between a message and a resolved clone.
type Mention struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	EntityID  string `json:"entity_id"`
	Scope     Scope  `json:"scope"`

	Responded         bool       `json:"responded"`
	RespondedAt       *time.Time `json:"responded_at,omitempty"`
	ResponseMessageID *string    `json:"response_message_id,omitempty"`
	Error             *string    `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Status derives the lifecycle state. An error always wins so a row that was
// somehow written with both fields set never reads as pending.
func (m *Mention) Status() MentionStatus {
	switch {
	case m.Error != nil:
		return MentionStatusErrored
	case m.Responded:
		return MentionStatusResponded
	default:
		return MentionStatusPending
	}
}

// IsPending reports whether the mention still awaits processing.
func (m *Mention) IsPending() bool {
	return m.Status() == MentionStatusPending
}

// Entity is a clone as seen by the resolver and the processor.
type Entity struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	WorkspaceID *string    `json:"workspace_id,omitempty"`
	Visibility  Visibility `json:"visibility"`
	BasePrompt  string     `json:"base_prompt"`
}

// IsGlobal reports whether the clone has no owning workspace.
func (e *Entity) IsGlobal() bool {
	return e.WorkspaceID == nil || *e.WorkspaceID == ""
}

// OwnedBy reports whether the clone belongs to workspaceID.
func (e *Entity) OwnedBy(workspaceID string) bool {
	return !e.IsGlobal() && *e.WorkspaceID == workspaceID
}

// VisibleTo reports whether a message in workspaceID may mention the clone.
// Clones without an owner and clones owned by the workspace are always
// visible; a clone owned elsewhere must be marked globally visible.
func (e *Entity) VisibleTo(workspaceID string) bool {
	if e.IsGlobal() || e.OwnedBy(workspaceID) {
		return true
	}
	return e.Visibility == VisibilityGlobal
}

// ScopeFor returns the resolution scope of the clone relative to workspaceID.
func (e *Entity) ScopeFor(workspaceID string) Scope {
	if e.OwnedBy(workspaceID) {
		return ScopeWorkspace
	}
	return ScopeGlobal
}

// MentionFilter specifies criteria for listing mentions.
type MentionFilter struct {
	MessageID *string        `json:"message_id,omitempty"`
	EntityID  *string        `json:"entity_id,omitempty"`
	Status    *MentionStatus `json:"status,omitempty"`
	Limit     int            `json:"limit,omitempty"`
	Offset    int            `json:"offset,omitempty"`
}
