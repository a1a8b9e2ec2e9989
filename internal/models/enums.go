package models

// Channel is the visibility class of an event or chunk,
// listed by increasing openness.
type Channel string

// Channel constants.
const (
	ChannelPrivate Channel = "private"
	ChannelTeam    Channel = "team"
	ChannelAgent   Channel = "agent"
	ChannelPublic  Channel = "public"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelPrivate, ChannelTeam, ChannelAgent, ChannelPublic:
		return true
	}
	return false
}

// MaxSensitivity returns the highest sensitivity a reader on this channel
// may see: public readers lose high+secret, team readers lose secret,
// private and agent readers see everything within the tenant.
func (c Channel) MaxSensitivity() Sensitivity {
	switch c {
	case ChannelPublic:
		return SensitivityLow
	case ChannelTeam:
		return SensitivityHigh
	default:
		return SensitivitySecret
	}
}

// Sensitivity classifies how freely a piece of memory may travel.
type Sensitivity string

// Sensitivity constants.
const (
	SensitivityNone   Sensitivity = "none"
	SensitivityLow    Sensitivity = "low"
	SensitivityHigh   Sensitivity = "high"
	SensitivitySecret Sensitivity = "secret"
)

// Valid reports whether s is a known sensitivity.
func (s Sensitivity) Valid() bool {
	switch s {
	case SensitivityNone, SensitivityLow, SensitivityHigh, SensitivitySecret:
		return true
	}
	return false
}

// Rank orders sensitivities from none (0) to secret (3).
func (s Sensitivity) Rank() int {
	switch s {
	case SensitivityLow:
		return 1
	case SensitivityHigh:
		return 2
	case SensitivitySecret:
		return 3
	default:
		return 0
	}
}

// EventKind is the tagged variant discriminator for event content.
type EventKind string

// Event kind constants. Adding a kind requires a chunker derivation case.
const (
	EventKindMessage    EventKind = "message"
	EventKindToolCall   EventKind = "tool_call"
	EventKindToolResult EventKind = "tool_result"
	EventKindDecision   EventKind = "decision"
	EventKindTaskUpdate EventKind = "task_update"
	EventKindArtifact   EventKind = "artifact"
)

// Valid reports whether k is a known event kind. Unknown kinds are rejected
// at record time.
func (k EventKind) Valid() bool {
	switch k {
	case EventKindMessage, EventKindToolCall, EventKindToolResult,
		EventKindDecision, EventKindTaskUpdate, EventKindArtifact:
		return true
	}
	return false
}

// ActorType classifies who emitted an event.
type ActorType string

// Actor type constants.
const (
	ActorHuman ActorType = "human"
	ActorAgent ActorType = "agent"
	ActorTool  ActorType = "tool"
)

// Valid reports whether t is a known actor type.
func (t ActorType) Valid() bool {
	switch t {
	case ActorHuman, ActorAgent, ActorTool:
		return true
	}
	return false
}

// ScopeKind is the relevance band of a piece of memory.
type ScopeKind string

// Scope constants.
const (
	ScopeSession ScopeKind = "session"
	ScopeUser    ScopeKind = "user"
	ScopeProject ScopeKind = "project"
	ScopePolicy  ScopeKind = "policy"
	ScopeGlobal  ScopeKind = "global"
)

// Valid reports whether s is a known scope.
func (s ScopeKind) Valid() bool {
	switch s {
	case ScopeSession, ScopeUser, ScopeProject, ScopePolicy, ScopeGlobal:
		return true
	}
	return false
}

// Precedence orders scopes for "active decisions for subject" resolution:
// policy > project > user > session > global.
func (s ScopeKind) Precedence() int {
	switch s {
	case ScopePolicy:
		return 4
	case ScopeProject:
		return 3
	case ScopeUser:
		return 2
	case ScopeSession:
		return 1
	default:
		return 0
	}
}

// DecisionStatus is the lifecycle state of a ledger decision.
type DecisionStatus string

// Decision status constants.
const (
	DecisionActive     DecisionStatus = "active"
	DecisionSuperseded DecisionStatus = "superseded"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

// Task status constants.
const (
	TaskStatusBacklog TaskStatus = "backlog"
	TaskStatusOpen    TaskStatus = "open"
	TaskStatusDoing   TaskStatus = "doing"
	TaskStatusReview  TaskStatus = "review"
	TaskStatusBlocked TaskStatus = "blocked"
	TaskStatusDone    TaskStatus = "done"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusBacklog, TaskStatusOpen, TaskStatusDoing,
		TaskStatusReview, TaskStatusBlocked, TaskStatusDone:
		return true
	}
	return false
}

// IsTerminal returns true if the task is done.
func (s TaskStatus) IsTerminal() bool { return s == TaskStatusDone }

// EditOp is the memory surgery operation applied at read time.
type EditOp string

// Edit op constants.
const (
	EditOpRetract    EditOp = "retract"
	EditOpAmend      EditOp = "amend"
	EditOpQuarantine EditOp = "quarantine"
	EditOpAttenuate  EditOp = "attenuate"
	EditOpBlock      EditOp = "block"
)

// Valid reports whether op is a known edit operation.
func (op EditOp) Valid() bool {
	switch op {
	case EditOpRetract, EditOpAmend, EditOpQuarantine, EditOpAttenuate, EditOpBlock:
		return true
	}
	return false
}

// EditTargetType names what a memory edit applies to.
type EditTargetType string

// Edit target constants.
const (
	EditTargetChunk    EditTargetType = "chunk"
	EditTargetDecision EditTargetType = "decision"
	EditTargetCapsule  EditTargetType = "capsule"
)

// Valid reports whether t is a known edit target type.
func (t EditTargetType) Valid() bool {
	switch t {
	case EditTargetChunk, EditTargetDecision, EditTargetCapsule:
		return true
	}
	return false
}

// EditStatus is the approval state of a memory edit.
type EditStatus string

// Edit status constants.
const (
	EditPending  EditStatus = "pending"
	EditApproved EditStatus = "approved"
	EditRejected EditStatus = "rejected"
)

// CapsuleStatus is the lifecycle state of a capsule.
type CapsuleStatus string

// Capsule status constants.
const (
	CapsuleActive  CapsuleStatus = "active"
	CapsuleRevoked CapsuleStatus = "revoked"
	CapsuleExpired CapsuleStatus = "expired"
)

// CompressionLevel describes how condensed a handoff is.
type CompressionLevel string

// Compression level constants.
const (
	CompressionFull     CompressionLevel = "full"
	CompressionSummary  CompressionLevel = "summary"
	CompressionQuickRef CompressionLevel = "quick_ref"
)

// Valid reports whether l is a known compression level.
func (l CompressionLevel) Valid() bool {
	switch l {
	case CompressionFull, CompressionSummary, CompressionQuickRef:
		return true
	}
	return false
}
