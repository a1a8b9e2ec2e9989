package models

import (
	"encoding/json"
	"time"
)

// ID Strategy:
// - Every entity uses a prefixed string ID ("evt_", "chk_", "dec_", ...)
//   generated server-side (see store/id.go). IDs are globally unique within
//   (tenant, kind).
// - The audit log uses an auto-increment rowid plus a uuid trace id; it is
//   never referenced by other rows.
//
// All timestamps are server-assigned microsecond-precision times; within a
// tenant+session, event and chunk order follows commit order.

// Actor identifies who performed an operation or emitted an event.
type Actor struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id"`
}

// Event is one append-only row in the interaction log. Events are never
// mutated; derived chunks are rebuilt from them if derivation logic changes.
type Event struct {
	ID          string          `json:"event_id"`
	TenantID    string          `json:"tenant_id"`
	SessionID   string          `json:"session_id"`
	Ts          time.Time       `json:"ts"`
	Channel     Channel         `json:"channel"`
	Actor       Actor           `json:"actor"`
	Kind        EventKind       `json:"kind"`
	Sensitivity Sensitivity     `json:"sensitivity"`
	Tags        []string        `json:"tags,omitempty"`
	Content     json.RawMessage `json:"content"`
	Refs        []string        `json:"refs,omitempty"`
	Scope       ScopeKind       `json:"scope,omitempty"`
	SubjectType string          `json:"subject_type,omitempty"`
	SubjectID   string          `json:"subject_id,omitempty"`
	ProjectID   string          `json:"project_id,omitempty"`
}

// EventContent is the set of known fields inside event.content. The core
// never introspects content beyond these; everything else is opaque.
type EventContent struct {
	Text        string          `json:"text,omitempty"`
	ExcerptText string          `json:"excerpt_text,omitempty"`
	Tool        string          `json:"tool,omitempty"`
	Args        json.RawMessage `json:"args,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Title       string          `json:"title,omitempty"`
	Decision    string          `json:"decision,omitempty"`
	Rationale   []string        `json:"rationale,omitempty"`
	Status      string          `json:"status,omitempty"`
}

// Chunk is a searchable unit derived from an event. Chunks inherit
// scope/subject/project from their parent event and are never edited
// directly; memory edits are applied at read time.
type Chunk struct {
	ID          string      `json:"chunk_id"`
	TenantID    string      `json:"tenant_id"`
	EventID     string      `json:"event_id"`
	SessionID   string      `json:"session_id"`
	Ts          time.Time   `json:"ts"`
	Kind        EventKind   `json:"kind"`
	Channel     Channel     `json:"channel"`
	Sensitivity Sensitivity `json:"sensitivity"`
	Tags        []string    `json:"tags,omitempty"`
	Text        string      `json:"text"`
	TokenEst    int         `json:"token_est"`
	Importance  float64     `json:"importance"`
	Scope       ScopeKind   `json:"scope,omitempty"`
	SubjectType string      `json:"subject_type,omitempty"`
	SubjectID   string      `json:"subject_id,omitempty"`
	ProjectID   string      `json:"project_id,omitempty"`
}

// EffectiveChunk is the read-time projection of a chunk with approved
// memory edits applied. Retracted chunks never leave the store layer.
type EffectiveChunk struct {
	Chunk
	IsQuarantined   bool      `json:"is_quarantined,omitempty"`
	BlockedChannels []Channel `json:"blocked_channels,omitempty"`
	EditsApplied    int       `json:"edits_applied,omitempty"`
}

// VisibleOn reports whether the chunk may be surfaced to a reader on the
// given channel: the reader's channel must not be blocked and the chunk's
// sensitivity must not exceed what the channel may carry.
func (c *EffectiveChunk) VisibleOn(ch Channel) bool {
	for _, blocked := range c.BlockedChannels {
		if blocked == ch {
			return false
		}
	}
	return c.Sensitivity.Rank() <= ch.MaxSensitivity().Rank()
}

// Decision is one entry in the decision ledger. Supersession is represented
// by the successor listing the predecessor in Refs and the predecessor's
// status flipping to superseded in the same transaction.
type Decision struct {
	ID           string         `json:"decision_id"`
	TenantID     string         `json:"tenant_id"`
	Ts           time.Time      `json:"ts"`
	Status       DecisionStatus `json:"status"`
	Scope        ScopeKind      `json:"scope"`
	Decision     string         `json:"decision"`
	Rationale    []string       `json:"rationale,omitempty"`
	Constraints  []string       `json:"constraints,omitempty"`
	Alternatives []string       `json:"alternatives,omitempty"`
	Consequences []string       `json:"consequences,omitempty"`
	Refs         []string       `json:"refs,omitempty"`
	SubjectType  string         `json:"subject_type,omitempty"`
	SubjectID    string         `json:"subject_id,omitempty"`
	ProjectID    string         `json:"project_id,omitempty"`
	Version      int            `json:"version"`
}

// Task is a unit of tracked work. BlockedBy holds the task ids this task
// waits on; Blocking is the reverse adjacency, derived from other tasks'
// BlockedBy at read time.
type Task struct {
	ID              string     `json:"task_id"`
	TenantID        string     `json:"tenant_id"`
	Ts              time.Time  `json:"ts"`
	Title           string     `json:"title"`
	Details         string     `json:"details,omitempty"`
	Status          TaskStatus `json:"status"`
	Priority        int        `json:"priority"`
	ProgressPercent int        `json:"progress_percent"`
	AssigneeID      string     `json:"assignee_id,omitempty"`
	Refs            []string   `json:"refs,omitempty"`
	BlockedBy       []string   `json:"blocked_by,omitempty"`
	Blocking        []string   `json:"blocking,omitempty"`
	ProjectRefs     []string   `json:"project_refs,omitempty"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	DueDate         *time.Time `json:"due_date,omitempty"`
	Version         int        `json:"version"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Artifact is a content-addressed blob reference scoped to a tenant.
type Artifact struct {
	ID          string    `json:"artifact_id"`
	TenantID    string    `json:"tenant_id"`
	Ts          time.Time `json:"ts"`
	ContentHash string    `json:"content_hash"`
	ContentType string    `json:"content_type,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
}

// EditPatch is the op-dependent payload of a memory edit.
// amend:     Text and/or Importance replace the base values.
// attenuate: Importance (absolute) or ImportanceDelta (relative), clamped.
// block:     Channel is added to the target's blocked channel set.
// retract / quarantine carry no patch fields.
type EditPatch struct {
	Text            *string  `json:"text,omitempty"`
	Importance      *float64 `json:"importance,omitempty"`
	ImportanceDelta *float64 `json:"importance_delta,omitempty"`
	Channel         Channel  `json:"channel,omitempty"`
}

// MemoryEdit is an append-only directive that changes how a chunk, decision,
// or capsule is surfaced at read time. Rows are never deleted; the base row
// is never mutated.
type MemoryEdit struct {
	ID         string         `json:"edit_id"`
	TenantID   string         `json:"tenant_id"`
	Ts         time.Time      `json:"ts"`
	TargetType EditTargetType `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Op         EditOp         `json:"op"`
	Reason     string         `json:"reason"`
	ProposedBy string         `json:"proposed_by"`
	ApprovedBy string         `json:"approved_by,omitempty"`
	Status     EditStatus     `json:"status"`
	Patch      EditPatch      `json:"patch"`
	AppliedAt  *time.Time     `json:"applied_at,omitempty"`
}

// CapsuleItems lists the curated content of a capsule by id.
type CapsuleItems struct {
	Chunks    []string `json:"chunks,omitempty"`
	Decisions []string `json:"decisions,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
}

// IsEmpty returns true when the capsule carries no items at all.
func (i CapsuleItems) IsEmpty() bool {
	return len(i.Chunks) == 0 && len(i.Decisions) == 0 && len(i.Artifacts) == 0
}

// Capsule is a curated, audience-scoped, TTL-bounded bundle of memory for a
// subject. Requesters outside the audience observe NotFound, never Forbidden.
type Capsule struct {
	ID            string        `json:"capsule_id"`
	TenantID      string        `json:"tenant_id"`
	Ts            time.Time     `json:"ts"`
	Scope         ScopeKind     `json:"scope"`
	SubjectType   string        `json:"subject_type"`
	SubjectID     string        `json:"subject_id"`
	ProjectID     string        `json:"project_id,omitempty"`
	AuthorAgentID string        `json:"author_agent_id"`
	Audience      []string      `json:"audience_agent_ids"`
	Items         CapsuleItems  `json:"items"`
	Risks         []string      `json:"risks,omitempty"`
	TTLDays       int           `json:"ttl_days"`
	Status        CapsuleStatus `json:"status"`
	ExpiresAt     time.Time     `json:"expires_at"`
}

// InAudience reports whether agentID may see this capsule.
func (c *Capsule) InAudience(agentID string) bool {
	for _, a := range c.Audience {
		if a == agentID {
			return true
		}
	}
	return false
}

// Handoff is an immutable structured reflection written at session end.
type Handoff struct {
	ID               string           `json:"handoff_id"`
	TenantID         string           `json:"tenant_id"`
	WithWhom         string           `json:"with_whom"`
	SessionID        string           `json:"session_id"`
	Ts               time.Time        `json:"ts"`
	Experienced      string           `json:"experienced"`
	Noticed          string           `json:"noticed,omitempty"`
	Learned          string           `json:"learned,omitempty"`
	Story            string           `json:"story,omitempty"`
	Becoming         string           `json:"becoming,omitempty"`
	Remember         string           `json:"remember,omitempty"`
	Significance     float64          `json:"significance"`
	Tags             []string         `json:"tags,omitempty"`
	CompressionLevel CompressionLevel `json:"compression_level"`
	InfluencedBy     string           `json:"influenced_by,omitempty"`
}

// HandoffMetadata is the aggregate row maintained per (tenant, with_whom).
// It is refreshed on handoff writes and by the consolidation worker, never
// computed as a correlated subquery on the read path.
type HandoffMetadata struct {
	TenantID              string    `json:"tenant_id"`
	WithWhom              string    `json:"with_whom"`
	SessionCount          int       `json:"session_count"`
	FirstSession          time.Time `json:"first_session"`
	LastSession           time.Time `json:"last_session"`
	SignificanceAvg       float64   `json:"significance_avg"`
	HighSignificanceCount int       `json:"high_significance_count"`
	KeyPeople             []string  `json:"key_people,omitempty"`
	AllTags               []string  `json:"all_tags,omitempty"`
}

// Reflection is the cached consolidated-insight row produced by the
// consolidation worker, with provenance back to its source handoffs.
type Reflection struct {
	TenantID         string    `json:"tenant_id"`
	WithWhom         string    `json:"with_whom"`
	Insights         []string  `json:"insights"`
	SourceHandoffIDs []string  `json:"source_handoff_ids"`
	HandoffCount     int       `json:"handoff_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// AuditEntry is one append-only record of an authenticated mutation.
// It is written on success and on failure, and never read on the hot path.
type AuditEntry struct {
	ID       int64             `json:"id"`
	TenantID string            `json:"tenant_id"`
	TraceID  string            `json:"trace_id"`
	Actor    Actor             `json:"actor"`
	Op       string            `json:"op"`
	Target   string            `json:"target,omitempty"`
	Outcome  string            `json:"outcome"`
	Ts       time.Time         `json:"ts"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ConsolidationJob records one run of the background consolidation pass.
type ConsolidationJob struct {
	ID                 string     `json:"job_id"`
	StartedAt          time.Time  `json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
	Status             string     `json:"status"`
	TenantsRefreshed   int        `json:"tenants_refreshed"`
	CapsulesExpired    int        `json:"capsules_expired"`
	ReflectionsWritten int        `json:"reflections_written"`
	AuditRowsPruned    int64      `json:"audit_rows_pruned"`
	LastError          string     `json:"last_error,omitempty"`
}
