package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewAssignsEnvelopeFields(t *testing.T) {
	ev := New("sess_1", "ws_1", TypeMessageUser, map[string]any{"content": "hi"})
	if ev.ID == "" {
		t.Fatalf("expected generated id")
	}
	if ev.SessionID != "sess_1" || ev.WorkspaceID != "ws_1" {
		t.Fatalf("unexpected session/workspace: %#v", ev)
	}
	if ev.Sequence != 0 {
		t.Fatalf("sequence should be unassigned, got %d", ev.Sequence)
	}
	if ParseTimestamp(ev.Timestamp).IsZero() {
		t.Fatalf("timestamp not parseable: %q", ev.Timestamp)
	}
	if err := Validate(ev); err != nil {
		t.Fatalf("new event should validate: %v", err)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
	}{
		{"missing id", Event{SessionID: "s", Type: TypeMessageUser, Timestamp: "2026-01-01T00:00:00Z"}},
		{"missing session", Event{ID: "e", Type: TypeMessageUser, Timestamp: "2026-01-01T00:00:00Z"}},
		{"missing type", Event{ID: "e", SessionID: "s", Timestamp: "2026-01-01T00:00:00Z"}},
		{"missing timestamp", Event{ID: "e", SessionID: "s", Type: TypeMessageUser}},
		{"negative sequence", Event{ID: "e", SessionID: "s", Type: TypeMessageUser, Timestamp: "2026-01-01T00:00:00Z", Sequence: -1}},
	}
	for _, tc := range cases {
		if err := Validate(tc.ev); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestValidateAcceptsUnknownType(t *testing.T) {
	ev := Event{ID: "e", SessionID: "s", Type: "hologram.rendered", Timestamp: "2026-01-01T00:00:00Z"}
	if err := Validate(ev); err != nil {
		t.Fatalf("unknown types must validate: %v", err)
	}
	if Known(ev.Type) {
		t.Fatalf("hologram.rendered should not be a known type")
	}
}

func TestWireFormatCamelCase(t *testing.T) {
	ev := Event{
		ID:          "evt_1",
		ParentID:    "evt_0",
		SessionID:   "sess_1",
		WorkspaceID: "ws_1",
		Type:        TypeToolCall,
		Timestamp:   "2026-01-01T00:00:00Z",
		Sequence:    7,
		Payload:     map[string]any{"toolCallId": "call_1"},
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"id", "parentId", "sessionId", "workspaceId", "type", "timestamp", "sequence", "payload"} {
		if _, ok := m[key]; !ok {
			t.Fatalf("wire key %q missing in %s", key, raw)
		}
	}
}

func TestParseTimestampFallsBackToZero(t *testing.T) {
	if !ParseTimestamp("not-a-time").IsZero() {
		t.Fatalf("expected zero time for garbage input")
	}
	want := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	if got := ParseTimestamp("2026-03-01T12:30:00Z"); !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
