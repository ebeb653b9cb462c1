package feed

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"chronicle/internal/ledger"
	"chronicle/internal/rpc/codec"
	"chronicle/internal/session"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	relayBackoffMin = time.Second
	relayBackoffMax = 30 * time.Second
)

// Relay tails an upstream agent's feed and appends every event to the
// local session service. Upstream envelopes keep their ids, timestamps,
// and sequences; an event the ledger already holds (a replayed prefix
// after reconnect) is skipped, not an error.
type Relay struct {
	addr       string
	supervisor *Supervisor
	sessions   *session.Service
	backoffMin time.Duration
	backoffMax time.Duration

	mu     sync.Mutex
	conn   *grpc.ClientConn
	client FeedClient
}

// NewRelay dials addr lazily on first use. sup may be nil when the
// upstream process is managed elsewhere.
func NewRelay(addr string, sup *Supervisor, sessions *session.Service) *Relay {
	return &Relay{
		addr:       addr,
		supervisor: sup,
		sessions:   sessions,
		backoffMin: relayBackoffMin,
		backoffMax: relayBackoffMax,
	}
}

// Run consumes the upstream stream for one session until the stream ends
// or ctx is cancelled. fromSeq resumes after a partial earlier run; pass 0
// to tail from the beginning.
func (r *Relay) Run(ctx context.Context, sessionID string, fromSeq int64) error {
	_, err := r.run(ctx, sessionID, fromSeq)
	return err
}

// Tail keeps the session tailed across upstream restarts: each reconnect
// resumes from the sequence after the last event stored, with exponential
// backoff between attempts. Returns when the stream ends cleanly or ctx is
// cancelled.
func (r *Relay) Tail(ctx context.Context, sessionID string, fromSeq int64) error {
	backoff := r.backoffMin
	for {
		lastSeq, err := r.run(ctx, sessionID, fromSeq)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if lastSeq >= fromSeq {
			fromSeq = lastSeq + 1
			backoff = r.backoffMin
		} else if backoff < r.backoffMax {
			backoff *= 2
		}
		log.Printf("feed: relay %s disconnected: %v (resuming from seq %d)", sessionID, err, fromSeq)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// run returns the highest sequence it stored so Tail can resume precisely.
func (r *Relay) run(ctx context.Context, sessionID string, fromSeq int64) (int64, error) {
	lastSeq := fromSeq - 1
	client, err := r.getClient(ctx)
	if err != nil {
		return lastSeq, err
	}

	stream, err := client.StreamEvents(ctx, &StreamEventsRequest{
		SessionID: sessionID,
		FromSeq:   fromSeq,
	})
	if err != nil {
		return lastSeq, err
	}
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			return lastSeq, nil
		}
		if err != nil {
			return lastSeq, err
		}
		if _, err := r.sessions.Ingest(ctx, *ev); err != nil {
			if errors.Is(err, ledger.ErrDuplicateEvent) {
				continue
			}
			return lastSeq, err
		}
		if ev.Sequence > lastSeq {
			lastSeq = ev.Sequence
		}
	}
}

func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.client = nil
	if r.conn == nil {
		return nil
	}
	conn := r.conn
	r.conn = nil
	return conn.Close()
}

func (r *Relay) getClient(ctx context.Context) (FeedClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.supervisor != nil {
		if err := r.supervisor.EnsureRunning(ctx); err != nil {
			return nil, err
		}
	}
	if r.client != nil {
		return r.client, nil
	}

	conn, err := grpc.DialContext(
		ctx,
		r.addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(codec.JSONCodec{})),
	)
	if err != nil {
		return nil, err
	}
	r.conn = conn
	r.client = NewFeedClient(conn)
	return r.client, nil
}
