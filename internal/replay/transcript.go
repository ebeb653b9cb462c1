package replay

import (
	"fmt"
	"log"
	"strings"

	"chronicle/internal/events"
)

// Transcript turns an ordered batch into display messages. Tombstoned
// events contribute nothing; tool events are folded into their embedding
// assistant turns; bookkeeping events (stream, config, file, worktree,
// metadata) feed the snapshot instead.
func Transcript(ordered []events.Event, idx *Index) []Message {
	msgs := make([]Message, 0, len(ordered))
	for i, ev := range ordered {
		if idx.IsDeleted(ev.ID) {
			continue
		}
		switch ev.Type {
		case events.TypeMessageUser:
			p, err := events.DecodeUserMessage(ev.Payload)
			if err != nil {
				continue
			}
			msgs = append(msgs, Message{
				EventID:   ev.ID,
				Role:      RoleUser,
				Kind:      KindText,
				Timestamp: ev.Timestamp,
				Text:      userText(p.Content),
			})
		case events.TypeMessageAssistant:
			msgs = append(msgs, expandTurn(ordered, i, ev, idx)...)
		case events.TypeMessageSystem:
			p, err := events.DecodeSystemMessage(ev.Payload)
			if err != nil {
				continue
			}
			msgs = append(msgs, Message{
				EventID:   ev.ID,
				Role:      RoleSystem,
				Kind:      KindText,
				Timestamp: ev.Timestamp,
				Text:      p.Content,
			})
		case events.TypeErrorAgent:
			p, err := events.DecodeErrorAgent(ev.Payload)
			if err != nil {
				continue
			}
			msgs = append(msgs, errorMessage(ev, p.Error))
		case events.TypeErrorTool:
			p, err := events.DecodeErrorTool(ev.Payload)
			if err != nil {
				continue
			}
			text := p.Error
			if p.ToolName != "" {
				text = fmt.Sprintf("%s: %s", p.ToolName, p.Error)
			}
			msgs = append(msgs, errorMessage(ev, text))
		case events.TypeErrorProvider:
			p, err := events.DecodeErrorProvider(ev.Payload)
			if err != nil {
				continue
			}
			text := p.Error
			if p.Provider != "" {
				text = fmt.Sprintf("%s: %s", p.Provider, p.Error)
			}
			msgs = append(msgs, errorMessage(ev, text))
		case events.TypeNotificationInterrupted:
			msgs = append(msgs, Message{
				EventID:   ev.ID,
				Role:      RoleSystem,
				Kind:      KindNotice,
				Timestamp: ev.Timestamp,
				Text:      "Interrupted by user",
			})
		case events.TypeConfigModelSwitch:
			p, err := events.DecodeModelSwitch(ev.Payload)
			if err != nil {
				continue
			}
			text := fmt.Sprintf("Model changed to %s", p.NewModel)
			if p.PreviousModel != "" {
				text = fmt.Sprintf("Model changed from %s to %s", p.PreviousModel, p.NewModel)
			}
			msgs = append(msgs, Message{
				EventID:   ev.ID,
				Role:      RoleSystem,
				Kind:      KindNotice,
				Timestamp: ev.Timestamp,
				Text:      text,
			})
		case events.TypeCompactBoundary:
			p, err := events.DecodeCompactBoundary(ev.Payload)
			if err != nil {
				continue
			}
			text := "Context compacted"
			if p.OriginalTokens > 0 && p.CompactedTokens > 0 {
				text = fmt.Sprintf("Context compacted: %d tokens -> %d tokens", p.OriginalTokens, p.CompactedTokens)
			}
			msgs = append(msgs, Message{
				EventID:   ev.ID,
				Role:      RoleSystem,
				Kind:      KindCompaction,
				Timestamp: ev.Timestamp,
				Text:      text,
			})
		case events.TypeCompactSummary:
			p, err := events.DecodeCompactSummary(ev.Payload)
			if err != nil {
				continue
			}
			msgs = append(msgs, Message{
				EventID:   ev.ID,
				Role:      RoleSystem,
				Kind:      KindCompaction,
				Timestamp: ev.Timestamp,
				Text:      p.Summary,
			})
		case events.TypeToolCall, events.TypeToolResult, events.TypeMessageDeleted,
			events.TypeSessionStart, events.TypeSessionEnd, events.TypeSessionFork,
			events.TypeStreamTurnStart, events.TypeStreamTurnEnd,
			events.TypeConfigReasoningLevel,
			events.TypeFileRead, events.TypeFileWrite, events.TypeFileEdit,
			events.TypeWorktreeAcquired, events.TypeWorktreeCommit,
			events.TypeWorktreeMerged, events.TypeWorktreeReleased,
			events.TypeMetadataUpdate, events.TypeMetadataTag:
			// no display message; snapshot or correlation only
		default:
			log.Printf("replay: skipping unknown event type %q", ev.Type)
		}
	}
	return msgs
}

// expandTurn splits one assistant event into one message per content block,
// preserving the original streaming interleaving. Only the first message
// produced carries the turn metadata. A text block that trails an
// interactive question inside the same event is a caption written for the
// form and is dropped.
func expandTurn(ordered []events.Event, pos int, ev events.Event, idx *Index) []Message {
	p, err := events.DecodeAssistantMessage(ev.Payload)
	if err != nil {
		return nil
	}

	var out []Message
	emit := func(m Message) {
		m.EventID = ev.ID
		m.Role = RoleAssistant
		m.Timestamp = ev.Timestamp
		if len(out) == 0 {
			m.Meta = &TurnMeta{
				Turn:        p.Turn,
				Model:       p.Model,
				StopReason:  p.StopReason,
				LatencyMS:   p.Latency,
				HasThinking: p.HasThinking,
				Usage:       p.TokenUsage,
			}
		}
		out = append(out, m)
	}

	skipText := false
	for _, b := range p.Content {
		switch b.Type {
		case "thinking":
			body := b.Thinking
			if body == "" {
				body = b.Text
			}
			if strings.TrimSpace(body) == "" {
				continue
			}
			emit(Message{Kind: KindThinking, Text: body})
		case "text":
			if strings.TrimSpace(b.Text) == "" || skipText {
				continue
			}
			emit(Message{Kind: KindText, Text: b.Text})
		case "tool_use":
			tool := mergeTool(b, idx)
			if tool.Name == QuestionToolName {
				emit(Message{
					Kind:     KindQuestion,
					Question: buildQuestion(ordered, pos, b.ID, tool.Arguments, idx),
				})
				skipText = true
				continue
			}
			emit(Message{Kind: KindToolUse, Tool: tool})
		}
	}
	return out
}

// mergeTool synthesizes the display view of one tool use from its content
// block and the correlated call/result events. The call event wins over the
// block for name and arguments; absence of a result means the tool is still
// running.
func mergeTool(b events.ContentBlock, idx *Index) *ToolUse {
	call, hasCall := idx.Calls[b.ID]
	res, hasRes := idx.Results[b.ID]

	tool := &ToolUse{CallID: b.ID, Status: ToolStatusRunning}

	tool.Name = b.Name
	if hasCall && call.Name != "" {
		tool.Name = call.Name
	}
	if tool.Name == "" {
		tool.Name = "Unknown"
	}

	tool.Arguments = ""
	if hasCall {
		tool.Arguments = call.Arguments
	}
	if tool.Arguments == "" && b.Input != nil {
		tool.Arguments = serializeArgs(b.Input)
	}
	if tool.Arguments == "" {
		tool.Arguments = "{}"
	}

	if hasRes {
		tool.Status = ToolStatusSuccess
		if res.IsError {
			tool.Status = ToolStatusError
		}
		tool.Result = res.Content
		if tool.Result == "" {
			tool.Result = NoOutputSentinel
		}
		tool.DurationMS = res.DurationMS
	}
	return tool
}

func errorMessage(ev events.Event, text string) Message {
	return Message{
		EventID:   ev.ID,
		Role:      RoleSystem,
		Kind:      KindError,
		Timestamp: ev.Timestamp,
		Text:      text,
	}
}

// userText flattens user message content, which arrives either as a plain
// string or as an array of content blocks.
func userText(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		var parts []string
		for _, raw := range c {
			block, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if t, _ := block["type"].(string); t != "" && t != "text" {
				continue
			}
			if txt, _ := block["text"].(string); txt != "" {
				parts = append(parts, txt)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}
