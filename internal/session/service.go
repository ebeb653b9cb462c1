package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"chronicle/internal/events"
	"chronicle/internal/ledger"
	"chronicle/internal/replay"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

type Config struct {
	SubscribeBuffer int
	CacheSize       int
	MaxListLimit    int64
}

// Service ingests session events, persists them through the ledger, fans
// them out to live subscribers, and serves reconstructed transcripts and
// snapshots. Reconstructions are cached per (session, last sequence): the
// log is append-only, so a key can never go stale.
type Service struct {
	cfg   Config
	store *ledger.Store
	hub   *Hub
	cache *lru.Cache[rebuildKey, replay.Result]

	// serializes sequence assignment with the append it belongs to
	appendMu sync.Mutex
}

type rebuildKey struct {
	sessionID string
	lastSeq   int64
}

type RegisterRequest struct {
	ID                string `json:"sessionId,omitempty"`
	WorkspaceID       string `json:"workspaceId,omitempty"`
	Title             string `json:"title,omitempty"`
	ForkedFromSession string `json:"forkedFromSession,omitempty"`
	ForkedFromEvent   string `json:"forkedFromEvent,omitempty"`
}

func NewService(store *ledger.Store, cfg Config) (*Service, error) {
	if cfg.SubscribeBuffer <= 0 {
		cfg.SubscribeBuffer = 256
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 128
	}
	if cfg.MaxListLimit <= 0 {
		cfg.MaxListLimit = 1000
	}
	cache, err := lru.New[rebuildKey, replay.Result](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:   cfg,
		store: store,
		hub:   NewHub(),
		cache: cache,
	}, nil
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (ledger.SessionRecord, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = "sess_" + uuid.NewString()
	}
	rec := ledger.SessionRecord{
		ID:                id,
		WorkspaceID:       req.WorkspaceID,
		Title:             req.Title,
		ForkedFromSession: req.ForkedFromSession,
		ForkedFromEvent:   req.ForkedFromEvent,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.store.CreateSession(ctx, rec); err != nil {
		return ledger.SessionRecord{}, err
	}
	return rec, nil
}

// Ingest persists one event and publishes it to live subscribers. Missing
// envelope fields an upstream producer may omit are filled in: id,
// timestamp, and sequence. A session.start event registers the session row
// when none exists yet, carrying fork lineage into the ledger.
func (s *Service) Ingest(ctx context.Context, ev events.Event) (events.Event, error) {
	if ev.SessionID == "" {
		return events.Event{}, fmt.Errorf("ingest: sessionId is required")
	}
	if ev.Type == "" {
		return events.Event{}, fmt.Errorf("ingest: type is required")
	}
	if !events.Known(ev.Type) {
		// stored anyway; reconstruction skips it
		log.Printf("session: ingesting unknown event type %q", ev.Type)
	}
	if ev.ID == "" {
		ev.ID = "evt_" + uuid.NewString()
	}
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	if ev.Type == events.TypeSessionStart {
		if err := s.ensureSession(ctx, ev); err != nil {
			return events.Event{}, err
		}
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()
	if ev.Sequence <= 0 {
		seq, err := s.store.NextSeq(ctx, ev.SessionID)
		if err != nil {
			return events.Event{}, err
		}
		ev.Sequence = seq
	}
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		return events.Event{}, err
	}
	_ = s.store.TouchSession(ctx, ev.SessionID, "")
	s.hub.Publish(ev)
	return ev, nil
}

func (s *Service) ensureSession(ctx context.Context, ev events.Event) error {
	if _, err := s.store.GetSession(ctx, ev.SessionID); err == nil {
		return nil
	}
	rec := ledger.SessionRecord{
		ID:          ev.SessionID,
		WorkspaceID: ev.WorkspaceID,
		CreatedAt:   time.Now().UTC(),
	}
	if p, err := events.DecodeSessionStart(ev.Payload); err == nil {
		rec.Title = p.Title
		if p.ForkedFrom != nil {
			rec.ForkedFromSession = p.ForkedFrom.SessionID
			rec.ForkedFromEvent = p.ForkedFrom.EventID
		}
	}
	return s.store.CreateSession(ctx, rec)
}

func (s *Service) Get(ctx context.Context, sessionID string) (ledger.SessionRecord, error) {
	return s.store.GetSession(ctx, sessionID)
}

func (s *Service) List(ctx context.Context, workspaceID string, limit int64) ([]ledger.SessionRecord, error) {
	if limit <= 0 || limit > s.cfg.MaxListLimit {
		limit = s.cfg.MaxListLimit
	}
	return s.store.ListSessions(ctx, workspaceID, limit)
}

func (s *Service) Events(ctx context.Context, sessionID string, fromSeq, limit int64) ([]events.Event, error) {
	if limit <= 0 || limit > s.cfg.MaxListLimit {
		limit = s.cfg.MaxListLimit
	}
	return s.store.ListEvents(ctx, sessionID, fromSeq, limit)
}

func (s *Service) Subscribe(ctx context.Context, sessionID string) (<-chan events.Event, func(), error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, nil, err
	}
	ch, unsub := s.hub.Subscribe(sessionID, s.cfg.SubscribeBuffer)
	return ch, unsub, nil
}

// Rebuild reconstructs the session from its full fork ancestry. Ancestry
// batches are in definitive order already, so the engine must not re-sort
// them across segment boundaries.
func (s *Service) Rebuild(ctx context.Context, sessionID string) (replay.Result, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return replay.Result{}, err
	}
	nextSeq, err := s.store.NextSeq(ctx, sessionID)
	if err != nil {
		return replay.Result{}, err
	}
	key := rebuildKey{sessionID: sessionID, lastSeq: nextSeq - 1}
	if res, ok := s.cache.Get(key); ok {
		return res, nil
	}

	batch, err := s.store.Ancestry(ctx, sessionID)
	if err != nil {
		return replay.Result{}, err
	}
	res := replay.Rebuild(batch, true)
	s.cache.Add(key, res)
	return res, nil
}

// Replay walks the stored log from fromSeq in list-limit pages and hands
// every event to fn, so callers replaying a long session are not capped at
// MaxListLimit. It returns the highest sequence delivered.
func (s *Service) Replay(ctx context.Context, sessionID string, fromSeq int64, fn func(events.Event) error) (int64, error) {
	lastSeq := fromSeq - 1
	for {
		batch, err := s.store.ListEvents(ctx, sessionID, fromSeq, s.cfg.MaxListLimit)
		if err != nil {
			return lastSeq, err
		}
		for _, ev := range batch {
			if err := fn(ev); err != nil {
				return lastSeq, err
			}
			if ev.Sequence > lastSeq {
				lastSeq = ev.Sequence
			}
		}
		if int64(len(batch)) < s.cfg.MaxListLimit {
			return lastSeq, nil
		}
		fromSeq = lastSeq + 1
	}
}

// Ancestry returns the session's full event history, root-first across
// forked ancestor segments.
func (s *Service) Ancestry(ctx context.Context, sessionID string) ([]events.Event, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.Ancestry(ctx, sessionID)
}

func (s *Service) Transcript(ctx context.Context, sessionID string) ([]replay.Message, error) {
	res, err := s.Rebuild(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return res.Messages, nil
}

func (s *Service) Snapshot(ctx context.Context, sessionID string) (replay.Snapshot, error) {
	res, err := s.Rebuild(ctx, sessionID)
	if err != nil {
		return replay.Snapshot{}, err
	}
	return res.Snapshot, nil
}
