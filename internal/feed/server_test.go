package feed

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chronicle/internal/events"
	"chronicle/internal/ledger"
	"chronicle/internal/session"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func newTestServer(t *testing.T) (*Server, *session.Service) {
	return newTestServerConfig(t, session.Config{})
}

func newTestServerConfig(t *testing.T, cfg session.Config) (*Server, *session.Service) {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "chronicle.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	svc, err := session.NewService(store, cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return NewServer(svc), svc
}

func ingest(t *testing.T, svc *session.Service, sessionID, typ string, payload map[string]any) events.Event {
	t.Helper()
	stored, err := svc.Ingest(context.Background(), events.Event{
		SessionID:   sessionID,
		WorkspaceID: "ws_1",
		Type:        typ,
		Payload:     payload,
	})
	if err != nil {
		t.Fatalf("ingest %s: %v", typ, err)
	}
	return stored
}

func TestAncestryReturnsFullHistory(t *testing.T) {
	srv, svc := newTestServer(t)
	ctx := context.Background()

	ingest(t, svc, "sess_1", events.TypeSessionStart, map[string]any{
		"workingDirectory": "/w", "model": "sonnet",
	})
	ingest(t, svc, "sess_1", events.TypeMessageUser, map[string]any{"content": "hi"})

	res, err := srv.Ancestry(ctx, &AncestryRequest{SessionID: "sess_1"})
	if err != nil {
		t.Fatalf("ancestry: %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(res.Events))
	}
	if res.Events[0].Type != events.TypeSessionStart {
		t.Fatalf("first event type = %q", res.Events[0].Type)
	}
}

func TestAncestryUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)

	_, err := srv.Ancestry(context.Background(), &AncestryRequest{SessionID: "missing"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("code = %v, want NotFound", status.Code(err))
	}
}

func TestAncestryRequiresSessionID(t *testing.T) {
	srv, _ := newTestServer(t)

	_, err := srv.Ancestry(context.Background(), &AncestryRequest{})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestStreamEventsReplaysThenForwardsLive(t *testing.T) {
	srv, svc := newTestServer(t)

	ingest(t, svc, "sess_1", events.TypeSessionStart, map[string]any{
		"workingDirectory": "/w", "model": "sonnet",
	})
	ingest(t, svc, "sess_1", events.TypeMessageUser, map[string]any{"content": "hi"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := newCaptureStream(ctx)

	done := make(chan error, 1)
	go func() {
		done <- srv.StreamEvents(&StreamEventsRequest{SessionID: "sess_1"}, stream)
	}()

	stream.waitFor(t, 2)

	ingest(t, svc, "sess_1", events.TypeMessageUser, map[string]any{"content": "again"})
	stream.waitFor(t, 3)

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("stream err = %v, want context.Canceled", err)
	}

	got := stream.events()
	if got[0].Sequence != 1 || got[1].Sequence != 2 || got[2].Sequence != 3 {
		t.Fatalf("unexpected sequences: %d %d %d", got[0].Sequence, got[1].Sequence, got[2].Sequence)
	}
}

func TestStreamEventsFromSeqSkipsReplayedPrefix(t *testing.T) {
	srv, svc := newTestServer(t)

	ingest(t, svc, "sess_1", events.TypeSessionStart, map[string]any{
		"workingDirectory": "/w", "model": "sonnet",
	})
	ingest(t, svc, "sess_1", events.TypeMessageUser, map[string]any{"content": "hi"})
	ingest(t, svc, "sess_1", events.TypeMessageUser, map[string]any{"content": "more"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := newCaptureStream(ctx)

	done := make(chan error, 1)
	go func() {
		done <- srv.StreamEvents(&StreamEventsRequest{SessionID: "sess_1", FromSeq: 3}, stream)
	}()

	stream.waitFor(t, 1)
	cancel()
	<-done

	got := stream.events()
	if len(got) != 1 || got[0].Sequence != 3 {
		t.Fatalf("unexpected replay: %+v", got)
	}
}

func TestStreamEventsReplaysBeyondListLimit(t *testing.T) {
	srv, svc := newTestServerConfig(t, session.Config{MaxListLimit: 10})

	ingest(t, svc, "sess_1", events.TypeSessionStart, map[string]any{
		"workingDirectory": "/w", "model": "sonnet",
	})
	for i := 0; i < 24; i++ {
		ingest(t, svc, "sess_1", events.TypeMessageUser, map[string]any{"content": "msg"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := newCaptureStream(ctx)

	done := make(chan error, 1)
	go func() {
		done <- srv.StreamEvents(&StreamEventsRequest{SessionID: "sess_1"}, stream)
	}()

	stream.waitFor(t, 25)

	ingest(t, svc, "sess_1", events.TypeMessageUser, map[string]any{"content": "live"})
	stream.waitFor(t, 26)

	cancel()
	<-done

	got := stream.events()
	for i, ev := range got {
		if ev.Sequence != int64(i+1) {
			t.Fatalf("event %d has sequence %d, want %d", i, ev.Sequence, i+1)
		}
	}
}

func TestStreamEventsUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)

	stream := newCaptureStream(context.Background())
	err := srv.StreamEvents(&StreamEventsRequest{SessionID: "missing"}, stream)
	if status.Code(err) != codes.NotFound {
		t.Fatalf("code = %v, want NotFound", status.Code(err))
	}
}

type captureStream struct {
	ctx context.Context

	mu   sync.Mutex
	sent []events.Event
}

func newCaptureStream(ctx context.Context) *captureStream {
	return &captureStream{ctx: ctx}
}

func (c *captureStream) Send(ev *events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, *ev)
	return nil
}

func (c *captureStream) events() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Event, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *captureStream) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		have := len(c.sent)
		c.mu.Unlock()
		if have >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events", n)
}

func (c *captureStream) SetHeader(metadata.MD) error  { return nil }
func (c *captureStream) SendHeader(metadata.MD) error { return nil }
func (c *captureStream) SetTrailer(metadata.MD)       {}
func (c *captureStream) Context() context.Context     { return c.ctx }
func (c *captureStream) SendMsg(m any) error {
	ev, ok := m.(*events.Event)
	if !ok {
		return nil
	}
	return c.Send(ev)
}
func (c *captureStream) RecvMsg(any) error { return nil }
