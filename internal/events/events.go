package events

import (
	"time"

	"github.com/google/uuid"
)

// Session lifecycle.
const (
	TypeSessionStart = "session.start"
	TypeSessionEnd   = "session.end"
	TypeSessionFork  = "session.fork"
)

// Messages.
const (
	TypeMessageUser      = "message.user"
	TypeMessageAssistant = "message.assistant"
	TypeMessageSystem    = "message.system"
	TypeMessageDeleted   = "message.deleted"
)

// Tools.
const (
	TypeToolCall   = "tool.call"
	TypeToolResult = "tool.result"
)

// Streaming turn boundaries.
const (
	TypeStreamTurnStart = "stream.turn_start"
	TypeStreamTurnEnd   = "stream.turn_end"
)

// Configuration changes.
const (
	TypeConfigModelSwitch    = "config.model_switch"
	TypeConfigReasoningLevel = "config.reasoning_level"
)

// Errors and notifications.
const (
	TypeErrorAgent              = "error.agent"
	TypeErrorTool               = "error.tool"
	TypeErrorProvider           = "error.provider"
	TypeNotificationInterrupted = "notification.interrupted"
)

// File activity.
const (
	TypeFileRead  = "file.read"
	TypeFileWrite = "file.write"
	TypeFileEdit  = "file.edit"
)

// Worktree activity.
const (
	TypeWorktreeAcquired = "worktree.acquired"
	TypeWorktreeCommit   = "worktree.commit"
	TypeWorktreeMerged   = "worktree.merged"
	TypeWorktreeReleased = "worktree.released"
)

// Context compaction.
const (
	TypeCompactBoundary = "compact.boundary"
	TypeCompactSummary  = "compact.summary"
)

// Metadata.
const (
	TypeMetadataUpdate = "metadata.update"
	TypeMetadataTag    = "metadata.tag"
)

// Event is one record in a session's append-only log. Envelope fields live
// at the top level; everything type-specific sits in Payload as opaque JSON.
// Sequence is unique and strictly increasing within a single session's own
// stream; it restarts in forked sub-sessions.
type Event struct {
	ID          string         `json:"id"`
	ParentID    string         `json:"parentId,omitempty"`
	SessionID   string         `json:"sessionId"`
	WorkspaceID string         `json:"workspaceId"`
	Type        string         `json:"type"`
	Timestamp   string         `json:"timestamp"`
	Sequence    int64          `json:"sequence"`
	Payload     map[string]any `json:"payload,omitempty"`
}

var allowedTypes = map[string]struct{}{
	TypeSessionStart:            {},
	TypeSessionEnd:              {},
	TypeSessionFork:             {},
	TypeMessageUser:             {},
	TypeMessageAssistant:        {},
	TypeMessageSystem:           {},
	TypeMessageDeleted:          {},
	TypeToolCall:                {},
	TypeToolResult:              {},
	TypeStreamTurnStart:         {},
	TypeStreamTurnEnd:           {},
	TypeConfigModelSwitch:       {},
	TypeConfigReasoningLevel:    {},
	TypeErrorAgent:              {},
	TypeErrorTool:               {},
	TypeErrorProvider:           {},
	TypeNotificationInterrupted: {},
	TypeFileRead:                {},
	TypeFileWrite:               {},
	TypeFileEdit:                {},
	TypeWorktreeAcquired:        {},
	TypeWorktreeCommit:          {},
	TypeWorktreeMerged:          {},
	TypeWorktreeReleased:        {},
	TypeCompactBoundary:         {},
	TypeCompactSummary:          {},
	TypeMetadataUpdate:          {},
	TypeMetadataTag:             {},
}

func AllowedTypes() []string {
	out := make([]string, 0, len(allowedTypes))
	for t := range allowedTypes {
		out = append(out, t)
	}
	return out
}

// Known reports whether t is part of the closed event-type set. Unknown
// types are skipped by consumers, never rejected.
func Known(t string) bool {
	_, ok := allowedTypes[t]
	return ok
}

// New builds an event envelope with a fresh id and the current time.
// Sequence is left at zero; the ledger assigns it on append.
func New(sessionID, workspaceID, eventType string, payload map[string]any) Event {
	return Event{
		ID:          "evt_" + uuid.NewString(),
		SessionID:   sessionID,
		WorkspaceID: workspaceID,
		Type:        eventType,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		Payload:     payload,
	}
}

// ParseTimestamp parses the envelope timestamp. A zero time is returned for
// anything unparseable so callers can still use it as a sort tie-break.
func ParseTimestamp(ts string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t
	}
	return time.Time{}
}
