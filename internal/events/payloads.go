package events

import (
	"encoding/json"
	"fmt"
)

// Typed payload access. The envelope keeps Payload as an opaque map for
// wire fidelity; consumers decode into the struct matching the event type.
// A decode error means "skip this event's contribution", never a crash.

type TokenUsage struct {
	InputTokens         int64 `json:"inputTokens"`
	OutputTokens        int64 `json:"outputTokens"`
	CacheReadTokens     int64 `json:"cacheReadTokens,omitempty"`
	CacheCreationTokens int64 `json:"cacheCreationTokens,omitempty"`
}

// ContentBlock is one atomic unit of a generative turn, in original
// streaming order. Type is "text", "thinking" or "tool_use"; unrecognized
// block types are carried through and ignored by consumers.
type ContentBlock struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	Thinking string         `json:"thinking,omitempty"`
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
}

type ForkRef struct {
	SessionID string `json:"sessionId"`
	EventID   string `json:"eventId"`
}

type SessionStartPayload struct {
	WorkingDirectory string   `json:"workingDirectory"`
	Model            string   `json:"model"`
	Provider         string   `json:"provider,omitempty"`
	SystemPrompt     string   `json:"systemPrompt,omitempty"`
	Title            string   `json:"title,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	ForkedFrom       *ForkRef `json:"forkedFrom,omitempty"`
}

type SessionEndPayload struct {
	Reason   string `json:"reason"`
	Summary  string `json:"summary,omitempty"`
	Duration int64  `json:"duration,omitempty"`
}

type SessionForkPayload struct {
	SourceSessionID string `json:"sourceSessionId"`
	SourceEventID   string `json:"sourceEventId"`
	Name            string `json:"name,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

type UserMessagePayload struct {
	// Content is either a plain string or an array of content blocks.
	Content    any         `json:"content"`
	Turn       int64       `json:"turn,omitempty"`
	TokenUsage *TokenUsage `json:"tokenUsage,omitempty"`
}

type AssistantMessagePayload struct {
	Content     []ContentBlock `json:"content"`
	Turn        int64          `json:"turn,omitempty"`
	TokenUsage  *TokenUsage    `json:"tokenUsage,omitempty"`
	TokenRecord map[string]any `json:"tokenRecord,omitempty"`
	StopReason  string         `json:"stopReason,omitempty"`
	Latency     int64          `json:"latency,omitempty"`
	Model       string         `json:"model,omitempty"`
	HasThinking bool           `json:"hasThinking,omitempty"`
}

type SystemMessagePayload struct {
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
}

type MessageDeletedPayload struct {
	TargetEventID string `json:"targetEventId"`
}

type ToolCallPayload struct {
	ToolCallID string `json:"toolCallId"`
	Name       string `json:"name"`
	Arguments  any    `json:"arguments,omitempty"`
	Turn       int64  `json:"turn,omitempty"`
}

type ToolResultPayload struct {
	ToolCallID string `json:"toolCallId"`
	Content    any    `json:"content,omitempty"`
	IsError    bool   `json:"isError,omitempty"`
	Duration   int64  `json:"duration,omitempty"`
}

type TurnStartPayload struct {
	Turn int64 `json:"turn"`
}

type TurnEndPayload struct {
	Turn       int64       `json:"turn"`
	TokenUsage *TokenUsage `json:"tokenUsage,omitempty"`
}

type ModelSwitchPayload struct {
	PreviousModel string `json:"previousModel,omitempty"`
	NewModel      string `json:"newModel"`
}

type ReasoningLevelPayload struct {
	PreviousLevel string `json:"previousLevel,omitempty"`
	NewLevel      string `json:"newLevel"`
}

type ErrorAgentPayload struct {
	Error       string `json:"error"`
	Code        string `json:"code,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
}

type ErrorToolPayload struct {
	ToolName   string `json:"toolName"`
	ToolCallID string `json:"toolCallId,omitempty"`
	Error      string `json:"error"`
}

type ErrorProviderPayload struct {
	Provider  string `json:"provider"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

type InterruptedPayload struct {
	Turn      int64  `json:"turn,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type FileActivityPayload struct {
	Path string `json:"path"`
}

type WorktreeAcquiredPayload struct {
	Path       string `json:"path"`
	Branch     string `json:"branch"`
	BaseCommit string `json:"baseCommit,omitempty"`
	Isolated   bool   `json:"isolated,omitempty"`
}

type WorktreeCommitPayload struct {
	CommitHash   string   `json:"commitHash"`
	Message      string   `json:"message,omitempty"`
	FilesChanged []string `json:"filesChanged,omitempty"`
	Insertions   int64    `json:"insertions,omitempty"`
	Deletions    int64    `json:"deletions,omitempty"`
}

type WorktreeMergedPayload struct {
	TargetBranch string `json:"targetBranch,omitempty"`
	CommitHash   string `json:"commitHash,omitempty"`
}

type WorktreeReleasedPayload struct {
	Reason string `json:"reason,omitempty"`
}

type CompactBoundaryPayload struct {
	OriginalTokens  int64  `json:"originalTokens,omitempty"`
	CompactedTokens int64  `json:"compactedTokens,omitempty"`
	Reason          string `json:"reason,omitempty"`
	Summary         string `json:"summary,omitempty"`
}

type CompactSummaryPayload struct {
	Summary         string `json:"summary"`
	BoundaryEventID string `json:"boundaryEventId,omitempty"`
}

type MetadataUpdatePayload struct {
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
}

const (
	TagActionAdd    = "add"
	TagActionRemove = "remove"
)

type MetadataTagPayload struct {
	Tag    string `json:"tag"`
	Action string `json:"action"`
}

// decodePayload round-trips the opaque payload map through JSON into the
// typed struct. Unknown fields pass through silently; type mismatches fail.
func decodePayload(payload map[string]any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func DecodeSessionStart(payload map[string]any) (SessionStartPayload, error) {
	var p SessionStartPayload
	err := decodePayload(payload, &p)
	return p, err
}

func DecodeSessionEnd(payload map[string]any) (SessionEndPayload, error) {
	var p SessionEndPayload
	err := decodePayload(payload, &p)
	return p, err
}

func DecodeSessionFork(payload map[string]any) (SessionForkPayload, error) {
	var p SessionForkPayload
	err := decodePayload(payload, &p)
	return p, err
}

func DecodeUserMessage(payload map[string]any) (UserMessagePayload, error) {
	var p UserMessagePayload
	err := decodePayload(payload, &p)
	return p, err
}

func DecodeAssistantMessage(payload map[string]any) (AssistantMessagePayload, error) {
	var p AssistantMessagePayload
	err := decodePayload(payload, &p)
	return p, err
}

func DecodeSystemMessage(payload map[string]any) (SystemMessagePayload, error) {
	var p SystemMessagePayload
	if err := decodePayload(payload, &p); err != nil {
		return p, err
	}
	if p.Content == "" {
		return p, fmt.Errorf("system message: content is required")
	}
	return p, nil
}

func DecodeMessageDeleted(payload map[string]any) (MessageDeletedPayload, error) {
	var p MessageDeletedPayload
	if err := decodePayload(payload, &p); err != nil {
		return p, err
	}
	if p.TargetEventID == "" {
		return p, fmt.Errorf("message.deleted: targetEventId is required")
	}
	return p, nil
}

func DecodeToolCall(payload map[string]any) (ToolCallPayload, error) {
	var p ToolCallPayload
	if err := decodePayload(payload, &p); err != nil {
		return p, err
	}
	if p.ToolCallID == "" {
		return p, fmt.Errorf("tool.call: toolCallId is required")
	}
	return p, nil
}

func DecodeToolResult(payload map[string]any) (ToolResultPayload, error) {
	var p ToolResultPayload
	if err := decodePayload(payload, &p); err != nil {
		return p, err
	}
	if p.ToolCallID == "" {
		return p, fmt.Errorf("tool.result: toolCallId is required")
	}
	return p, nil
}

func DecodeTurnStart(payload map[string]any) (TurnStartPayload, error) {
	var p TurnStartPayload
	err := decodePayload(payload, &p)
	return p, err
}

func DecodeTurnEnd(payload map[string]any) (TurnEndPayload, error) {
	var p TurnEndPayload
	err := decodePayload(payload, &p)
	return p, err
}

func DecodeModelSwitch(payload map[string]any) (ModelSwitchPayload, error) {
	var p ModelSwitchPayload
	if err := decodePayload(payload, &p); err != nil {
		return p, err
	}
	if p.NewModel == "" {
		return p, fmt.Errorf("config.model_switch: newModel is required")
	}
	return p, nil
}

func DecodeReasoningLevel(payload map[string]any) (ReasoningLevelPayload, error) {
	var p ReasoningLevelPayload
	if err := decodePayload(payload, &p); err != nil {
		return p, err
	}
	if p.NewLevel == "" {
		return p, fmt.Errorf("config.reasoning_level: newLevel is required")
	}
	return p, nil
}

func DecodeErrorAgent(payload map[string]any) (ErrorAgentPayload, error) {
	var p ErrorAgentPayload
	err := decodePayload(payload, &p)
	return p, err
}

func DecodeErrorTool(payload map[string]any) (ErrorToolPayload, error) {
	var p ErrorToolPayload
	err := decodePayload(payload, &p)
	return p, err
}

func DecodeErrorProvider(payload map[string]any) (ErrorProviderPayload, error) {
	var p ErrorProviderPayload
	err := decodePayload(payload, &p)
	return p, err
}

func DecodeInterrupted(payload map[string]any) (InterruptedPayload, error) {
	var p InterruptedPayload
	err := decodePayload(payload, &p)
	return p, err
}

func DecodeFileActivity(payload map[string]any) (FileActivityPayload, error) {
	var p FileActivityPayload
	if err := decodePayload(payload, &p); err != nil {
		return p, err
	}
	if p.Path == "" {
		return p, fmt.Errorf("file activity: path is required")
	}
	return p, nil
}

func DecodeWorktreeAcquired(payload map[string]any) (WorktreeAcquiredPayload, error) {
	var p WorktreeAcquiredPayload
	err := decodePayload(payload, &p)
	return p, err
}

func DecodeWorktreeCommit(payload map[string]any) (WorktreeCommitPayload, error) {
	var p WorktreeCommitPayload
	if err := decodePayload(payload, &p); err != nil {
		return p, err
	}
	if p.CommitHash == "" {
		return p, fmt.Errorf("worktree.commit: commitHash is required")
	}
	return p, nil
}

func DecodeWorktreeMerged(payload map[string]any) (WorktreeMergedPayload, error) {
	var p WorktreeMergedPayload
	err := decodePayload(payload, &p)
	return p, err
}

func DecodeWorktreeReleased(payload map[string]any) (WorktreeReleasedPayload, error) {
	var p WorktreeReleasedPayload
	err := decodePayload(payload, &p)
	return p, err
}

func DecodeCompactBoundary(payload map[string]any) (CompactBoundaryPayload, error) {
	var p CompactBoundaryPayload
	err := decodePayload(payload, &p)
	return p, err
}

func DecodeCompactSummary(payload map[string]any) (CompactSummaryPayload, error) {
	var p CompactSummaryPayload
	if err := decodePayload(payload, &p); err != nil {
		return p, err
	}
	if p.Summary == "" {
		return p, fmt.Errorf("compact.summary: summary is required")
	}
	return p, nil
}

func DecodeMetadataUpdate(payload map[string]any) (MetadataUpdatePayload, error) {
	var p MetadataUpdatePayload
	if err := decodePayload(payload, &p); err != nil {
		return p, err
	}
	if p.Key == "" {
		return p, fmt.Errorf("metadata.update: key is required")
	}
	return p, nil
}

func DecodeMetadataTag(payload map[string]any) (MetadataTagPayload, error) {
	var p MetadataTagPayload
	if err := decodePayload(payload, &p); err != nil {
		return p, err
	}
	if p.Tag == "" {
		return p, fmt.Errorf("metadata.tag: tag is required")
	}
	if p.Action != TagActionAdd && p.Action != TagActionRemove {
		return p, fmt.Errorf("metadata.tag: invalid action %q", p.Action)
	}
	return p, nil
}
