package replay

import "chronicle/internal/events"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

const (
	KindText       = "text"
	KindThinking   = "thinking"
	KindToolUse    = "tool_use"
	KindQuestion   = "question"
	KindError      = "error"
	KindNotice     = "notice"
	KindCompaction = "compaction"
)

const (
	ToolStatusRunning = "running"
	ToolStatusError   = "error"
	ToolStatusSuccess = "success"
)

// NoOutputSentinel marks a tool result that completed with empty content.
const NoOutputSentinel = "(no output)"

// TurnMeta is the per-turn aggregate a generative event reports. When one
// event expands into several messages, only the first carries it.
type TurnMeta struct {
	Turn        int64              `json:"turn,omitempty"`
	Model       string             `json:"model,omitempty"`
	StopReason  string             `json:"stopReason,omitempty"`
	LatencyMS   int64              `json:"latencyMs,omitempty"`
	HasThinking bool               `json:"hasThinking,omitempty"`
	Usage       *events.TokenUsage `json:"usage,omitempty"`
}

// ToolUse is the single display unit synthesized per tool-use id, merging
// the content block with its correlated call and result events.
type ToolUse struct {
	CallID     string `json:"callId"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	Status     string `json:"status"`
	Result     string `json:"result,omitempty"`
	DurationMS int64  `json:"durationMs,omitempty"`
}

// Message is one display-ready transcript entry. EventID points back to the
// originating event so a later tombstone can be applied without re-running
// the whole reconstruction.
type Message struct {
	EventID   string    `json:"eventId,omitempty"`
	Role      string    `json:"role"`
	Kind      string    `json:"kind"`
	Timestamp string    `json:"timestamp,omitempty"`
	Text      string    `json:"text,omitempty"`
	Tool      *ToolUse  `json:"tool,omitempty"`
	Question  *Question `json:"question,omitempty"`
	Meta      *TurnMeta `json:"meta,omitempty"`
}
