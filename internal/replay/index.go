package replay

import (
	"encoding/json"

	"chronicle/internal/events"
)

// CallDetails is the indexed view of a tool.call event. Pos is the event's
// index within the ordered batch, so forward scans (question answering)
// work even when sequence numbers restart across fork segments.
type CallDetails struct {
	Name      string
	Arguments string
	Turn      int64
	Pos       int
}

// ResultDetails is the indexed view of a tool.result event.
type ResultDetails struct {
	Content    string
	IsError    bool
	DurationMS int64
}

// Index is the correlation state gathered in the first pass over an
// ordered batch. The second pass (transcript and snapshot) reads from it
// instead of re-scanning.
type Index struct {
	Calls          map[string]CallDetails
	Results        map[string]ResultDetails
	Deleted        map[string]struct{}
	ReasoningLevel string
}

// BuildIndex walks the ordered batch once and records tool correlation,
// tombstone targets, and the last reasoning level. Duplicate tool ids keep
// the last occurrence.
func BuildIndex(ordered []events.Event) *Index {
	idx := &Index{
		Calls:   make(map[string]CallDetails),
		Results: make(map[string]ResultDetails),
		Deleted: make(map[string]struct{}),
	}
	for i, ev := range ordered {
		switch ev.Type {
		case events.TypeToolCall:
			p, err := events.DecodeToolCall(ev.Payload)
			if err != nil {
				continue
			}
			idx.Calls[p.ToolCallID] = CallDetails{
				Name:      p.Name,
				Arguments: serializeArgs(p.Arguments),
				Turn:      p.Turn,
				Pos:       i,
			}
		case events.TypeToolResult:
			p, err := events.DecodeToolResult(ev.Payload)
			if err != nil {
				continue
			}
			idx.Results[p.ToolCallID] = ResultDetails{
				Content:    coerceContent(p.Content),
				IsError:    p.IsError,
				DurationMS: p.Duration,
			}
		case events.TypeMessageDeleted:
			p, err := events.DecodeMessageDeleted(ev.Payload)
			if err != nil {
				continue
			}
			idx.Deleted[p.TargetEventID] = struct{}{}
		case events.TypeConfigReasoningLevel:
			p, err := events.DecodeReasoningLevel(ev.Payload)
			if err != nil {
				continue
			}
			idx.ReasoningLevel = p.NewLevel
		}
	}
	return idx
}

// IsDeleted reports whether a tombstone targets the given event id.
func (x *Index) IsDeleted(id string) bool {
	_, ok := x.Deleted[id]
	return ok
}

// serializeArgs renders tool arguments as a JSON object string, or "" when
// the event carried none so callers can fall back to the content block's
// input. Map keys come out sorted, so equal inputs serialize identically
// across runs.
func serializeArgs(v any) string {
	switch a := v.(type) {
	case nil:
		return ""
	case string:
		return a
	default:
		raw, err := json.Marshal(a)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

// coerceContent flattens a tool result body to display text. Structured
// content is re-serialized rather than dropped.
func coerceContent(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	default:
		raw, err := json.Marshal(c)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
