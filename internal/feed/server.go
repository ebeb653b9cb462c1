package feed

import (
	"context"
	"errors"

	"chronicle/internal/events"
	"chronicle/internal/ledger"
	"chronicle/internal/rpc/codec"
	"chronicle/internal/session"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server serves session logs from the session service. StreamEvents
// replays the stored log and then forwards live appends; Ancestry returns
// the full fork-aware history in one batch.
type Server struct {
	sessions *session.Service
}

func NewServer(sessions *session.Service) *Server {
	codec.Register()
	return &Server{sessions: sessions}
}

func (s *Server) StreamEvents(req *StreamEventsRequest, stream FeedStreamEventsServer) error {
	if req.SessionID == "" {
		return status.Error(codes.InvalidArgument, "sessionId is required")
	}
	ctx := stream.Context()

	// Subscribe before replaying so no append falls between the stored
	// batch and the live tail. Duplicates are dropped by sequence.
	live, unsub, err := s.sessions.Subscribe(ctx, req.SessionID)
	if err != nil {
		return statusFor(err)
	}
	defer unsub()

	lastSeq, err := s.sessions.Replay(ctx, req.SessionID, req.FromSeq, func(ev events.Event) error {
		return stream.Send(&ev)
	})
	if err != nil {
		return statusFor(err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-live:
			if !ok {
				return nil
			}
			if ev.Sequence <= lastSeq {
				continue
			}
			lastSeq = ev.Sequence
			if err := stream.Send(&ev); err != nil {
				return err
			}
		}
	}
}

func (s *Server) Ancestry(ctx context.Context, req *AncestryRequest) (*AncestryResponse, error) {
	if req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "sessionId is required")
	}
	evs, err := s.sessions.Ancestry(ctx, req.SessionID)
	if err != nil {
		return nil, statusFor(err)
	}
	if evs == nil {
		evs = []events.Event{}
	}
	return &AncestryResponse{SessionID: req.SessionID, Events: evs}, nil
}

func statusFor(err error) error {
	if errors.Is(err, ledger.ErrNotFound) {
		return status.Error(codes.NotFound, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
