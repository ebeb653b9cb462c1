package feed

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"chronicle/internal/events"
	"chronicle/internal/session"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

func upstreamEvent(id string, seq int64, typ string, payload map[string]any) *events.Event {
	return &events.Event{
		ID:          id,
		SessionID:   "sess_1",
		WorkspaceID: "ws_1",
		Type:        typ,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		Sequence:    seq,
		Payload:     payload,
	}
}

func newTestRelay(t *testing.T, client FeedClient) (*Relay, *session.Service) {
	t.Helper()
	_, svc := newTestServer(t)
	r := NewRelay("", nil, svc)
	r.backoffMin = time.Millisecond
	r.backoffMax = 4 * time.Millisecond
	r.client = client
	return r, svc
}

func TestRelayRunIngestsUpstreamEvents(t *testing.T) {
	client := &fakeFeedClient{streams: []*fakeFeedStream{{
		queue: []*events.Event{
			upstreamEvent("evt_1", 1, events.TypeSessionStart, map[string]any{
				"workingDirectory": "/w", "model": "sonnet",
			}),
			upstreamEvent("evt_2", 2, events.TypeMessageUser, map[string]any{"content": "hi"}),
		},
		finalErr: io.EOF,
	}}}
	r, svc := newTestRelay(t, client)

	if err := r.Run(context.Background(), "sess_1", 0); err != nil {
		t.Fatalf("run: %v", err)
	}

	stored, err := svc.Events(context.Background(), "sess_1", 0, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(stored) != 2 || stored[0].ID != "evt_1" || stored[1].Sequence != 2 {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestRelayRunSkipsAlreadyStoredEvents(t *testing.T) {
	client := &fakeFeedClient{streams: []*fakeFeedStream{{
		queue: []*events.Event{
			upstreamEvent("evt_1", 1, events.TypeSessionStart, map[string]any{
				"workingDirectory": "/w", "model": "sonnet",
			}),
			upstreamEvent("evt_2", 2, events.TypeMessageUser, map[string]any{"content": "hi"}),
		},
		finalErr: io.EOF,
	}}}
	r, svc := newTestRelay(t, client)

	// The first upstream event is already in the ledger.
	if _, err := svc.Ingest(context.Background(), *upstreamEvent("evt_1", 1, events.TypeSessionStart, map[string]any{
		"workingDirectory": "/w", "model": "sonnet",
	})); err != nil {
		t.Fatalf("pre-ingest: %v", err)
	}

	if err := r.Run(context.Background(), "sess_1", 0); err != nil {
		t.Fatalf("run: %v", err)
	}

	stored, err := svc.Events(context.Background(), "sess_1", 0, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("stored = %d events, want 2", len(stored))
	}
}

func TestRelayTailResumesAfterDisconnect(t *testing.T) {
	client := &fakeFeedClient{streams: []*fakeFeedStream{
		{
			queue: []*events.Event{
				upstreamEvent("evt_1", 1, events.TypeSessionStart, map[string]any{
					"workingDirectory": "/w", "model": "sonnet",
				}),
				upstreamEvent("evt_2", 2, events.TypeMessageUser, map[string]any{"content": "hi"}),
			},
			finalErr: errors.New("connection reset"),
		},
		{
			queue: []*events.Event{
				upstreamEvent("evt_3", 3, events.TypeMessageUser, map[string]any{"content": "after restart"}),
			},
			finalErr: io.EOF,
		},
	}}
	r, svc := newTestRelay(t, client)

	if err := r.Tail(context.Background(), "sess_1", 0); err != nil {
		t.Fatalf("tail: %v", err)
	}

	if got := client.fromSeqs; len(got) != 2 || got[1] != 3 {
		t.Fatalf("reconnect fromSeqs = %v, want second attempt to resume at 3", got)
	}
	stored, err := svc.Events(context.Background(), "sess_1", 0, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(stored) != 3 || stored[2].ID != "evt_3" {
		t.Fatalf("stored = %+v", stored)
	}
}

type fakeFeedClient struct {
	streams  []*fakeFeedStream
	fromSeqs []int64
}

func (f *fakeFeedClient) StreamEvents(_ context.Context, in *StreamEventsRequest, _ ...grpc.CallOption) (FeedStreamEventsClient, error) {
	f.fromSeqs = append(f.fromSeqs, in.FromSeq)
	if len(f.streams) == 0 {
		return nil, errors.New("no more streams")
	}
	s := f.streams[0]
	f.streams = f.streams[1:]
	return s, nil
}

func (f *fakeFeedClient) Ancestry(context.Context, *AncestryRequest, ...grpc.CallOption) (*AncestryResponse, error) {
	return nil, errors.New("not implemented")
}

type fakeFeedStream struct {
	queue    []*events.Event
	finalErr error
}

func (f *fakeFeedStream) Recv() (*events.Event, error) {
	if len(f.queue) == 0 {
		return nil, f.finalErr
	}
	ev := f.queue[0]
	f.queue = f.queue[1:]
	return ev, nil
}

func (f *fakeFeedStream) Header() (metadata.MD, error) { return nil, nil }
func (f *fakeFeedStream) Trailer() metadata.MD         { return nil }
func (f *fakeFeedStream) CloseSend() error             { return nil }
func (f *fakeFeedStream) Context() context.Context     { return context.Background() }
func (f *fakeFeedStream) SendMsg(any) error            { return nil }
func (f *fakeFeedStream) RecvMsg(any) error            { return io.EOF }
