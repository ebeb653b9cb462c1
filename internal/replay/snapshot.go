package replay

import (
	"sort"

	"chronicle/internal/events"
)

// TokenTotals are lifetime token counters for a session. They only ever
// grow; the resizing context window lives in Snapshot.ContextWindowTokens.
type TokenTotals struct {
	Input         int64 `json:"input"`
	Output        int64 `json:"output"`
	CacheRead     int64 `json:"cacheRead"`
	CacheCreation int64 `json:"cacheCreation"`
}

func (t *TokenTotals) add(u *events.TokenUsage) {
	if u == nil {
		return
	}
	t.Input += u.InputTokens
	t.Output += u.OutputTokens
	t.CacheRead += u.CacheReadTokens
	t.CacheCreation += u.CacheCreationTokens
}

type Commit struct {
	Hash         string   `json:"hash"`
	Message      string   `json:"message,omitempty"`
	FilesChanged []string `json:"filesChanged,omitempty"`
	Insertions   int64    `json:"insertions,omitempty"`
	Deletions    int64    `json:"deletions,omitempty"`
}

type Merge struct {
	TargetBranch string `json:"targetBranch,omitempty"`
	CommitHash   string `json:"commitHash,omitempty"`
}

// WorktreeState tracks the isolated checkout a session works in.
type WorktreeState struct {
	Acquired bool     `json:"acquired"`
	Path     string   `json:"path,omitempty"`
	Branch   string   `json:"branch,omitempty"`
	Commits  []Commit `json:"commits,omitempty"`
	Merges   []Merge  `json:"merges,omitempty"`
	Released bool     `json:"released"`
}

type Compaction struct {
	EventID         string `json:"eventId"`
	Timestamp       string `json:"timestamp"`
	OriginalTokens  int64  `json:"originalTokens,omitempty"`
	CompactedTokens int64  `json:"compactedTokens,omitempty"`
	Summary         string `json:"summary,omitempty"`
}

// Snapshot is the aggregate state of a session after replaying its log.
// It answers "where is this session now" without walking the transcript.
type Snapshot struct {
	SessionID   string `json:"sessionId"`
	WorkspaceID string `json:"workspaceId,omitempty"`

	StartedAt        string          `json:"startedAt,omitempty"`
	EndedAt          string          `json:"endedAt,omitempty"`
	Ended            bool            `json:"ended"`
	EndReason        string          `json:"endReason,omitempty"`
	WorkingDirectory string          `json:"workingDirectory,omitempty"`
	Provider         string          `json:"provider,omitempty"`
	Title            string          `json:"title,omitempty"`
	SystemPrompt     string          `json:"systemPrompt,omitempty"`
	ForkedFrom       *events.ForkRef `json:"forkedFrom,omitempty"`

	Model          string `json:"model,omitempty"`
	ReasoningLevel string `json:"reasoningLevel,omitempty"`
	Turn           int64  `json:"turn"`

	Totals              TokenTotals `json:"totals"`
	ContextWindowTokens int64       `json:"contextWindowTokens"`

	FilesRead    []string `json:"filesRead,omitempty"`
	FilesWritten []string `json:"filesWritten,omitempty"`
	FilesEdited  []string `json:"filesEdited,omitempty"`

	Worktree    WorktreeState  `json:"worktree"`
	Compactions []Compaction   `json:"compactions,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
}

// Reduce folds an ordered batch into a Snapshot. Token totals accumulate
// across the whole log; the context window is overwritten by each assistant
// event so it reflects the latest provider-reported size. Turn numbers are
// a high-water mark, never a sum.
func Reduce(ordered []events.Event, idx *Index) Snapshot {
	snap := Snapshot{Metadata: map[string]any{}}
	tags := make(map[string]struct{})

	for _, ev := range ordered {
		if snap.SessionID == "" {
			snap.SessionID = ev.SessionID
			snap.WorkspaceID = ev.WorkspaceID
		}
		if idx.IsDeleted(ev.ID) {
			continue
		}
		switch ev.Type {
		case events.TypeSessionStart:
			snap.StartedAt = ev.Timestamp
			p, err := events.DecodeSessionStart(ev.Payload)
			if err != nil {
				continue
			}
			snap.WorkingDirectory = p.WorkingDirectory
			snap.Model = p.Model
			snap.Provider = p.Provider
			snap.Title = p.Title
			snap.SystemPrompt = p.SystemPrompt
			snap.ForkedFrom = p.ForkedFrom
			for _, t := range p.Tags {
				tags[t] = struct{}{}
			}
		case events.TypeSessionEnd:
			snap.EndedAt = ev.Timestamp
			snap.Ended = true
			if p, err := events.DecodeSessionEnd(ev.Payload); err == nil {
				snap.EndReason = p.Reason
			}
		case events.TypeMessageUser:
			p, err := events.DecodeUserMessage(ev.Payload)
			if err != nil {
				continue
			}
			snap.Totals.add(p.TokenUsage)
			if p.Turn > snap.Turn {
				snap.Turn = p.Turn
			}
		case events.TypeMessageAssistant:
			p, err := events.DecodeAssistantMessage(ev.Payload)
			if err != nil {
				continue
			}
			snap.Totals.add(p.TokenUsage)
			if cw, ok := contextWindowOf(p); ok {
				snap.ContextWindowTokens = cw
			}
			if p.Turn > snap.Turn {
				snap.Turn = p.Turn
			}
		case events.TypeStreamTurnStart:
			if p, err := events.DecodeTurnStart(ev.Payload); err == nil && p.Turn > snap.Turn {
				snap.Turn = p.Turn
			}
		case events.TypeStreamTurnEnd:
			// turn counter only; any tokenUsage here restates what the
			// assistant event already reported
			if p, err := events.DecodeTurnEnd(ev.Payload); err == nil && p.Turn > snap.Turn {
				snap.Turn = p.Turn
			}
		case events.TypeConfigModelSwitch:
			if p, err := events.DecodeModelSwitch(ev.Payload); err == nil {
				snap.Model = p.NewModel
			}
		case events.TypeFileRead:
			if p, err := events.DecodeFileActivity(ev.Payload); err == nil {
				snap.FilesRead = appendPath(snap.FilesRead, p.Path)
			}
		case events.TypeFileWrite:
			if p, err := events.DecodeFileActivity(ev.Payload); err == nil {
				snap.FilesWritten = appendPath(snap.FilesWritten, p.Path)
			}
		case events.TypeFileEdit:
			if p, err := events.DecodeFileActivity(ev.Payload); err == nil {
				snap.FilesEdited = appendPath(snap.FilesEdited, p.Path)
			}
		case events.TypeWorktreeAcquired:
			if p, err := events.DecodeWorktreeAcquired(ev.Payload); err == nil {
				snap.Worktree.Acquired = true
				snap.Worktree.Released = false
				snap.Worktree.Path = p.Path
				snap.Worktree.Branch = p.Branch
			}
		case events.TypeWorktreeCommit:
			if p, err := events.DecodeWorktreeCommit(ev.Payload); err == nil {
				snap.Worktree.Commits = append(snap.Worktree.Commits, Commit{
					Hash:         p.CommitHash,
					Message:      p.Message,
					FilesChanged: p.FilesChanged,
					Insertions:   p.Insertions,
					Deletions:    p.Deletions,
				})
			}
		case events.TypeWorktreeMerged:
			if p, err := events.DecodeWorktreeMerged(ev.Payload); err == nil {
				snap.Worktree.Merges = append(snap.Worktree.Merges, Merge{
					TargetBranch: p.TargetBranch,
					CommitHash:   p.CommitHash,
				})
			}
		case events.TypeWorktreeReleased:
			snap.Worktree.Released = true
		case events.TypeCompactBoundary:
			if p, err := events.DecodeCompactBoundary(ev.Payload); err == nil {
				snap.Compactions = append(snap.Compactions, Compaction{
					EventID:         ev.ID,
					Timestamp:       ev.Timestamp,
					OriginalTokens:  p.OriginalTokens,
					CompactedTokens: p.CompactedTokens,
					Summary:         p.Summary,
				})
			}
		case events.TypeCompactSummary:
			if p, err := events.DecodeCompactSummary(ev.Payload); err == nil {
				snap.Compactions = append(snap.Compactions, Compaction{
					EventID:   ev.ID,
					Timestamp: ev.Timestamp,
					Summary:   p.Summary,
				})
			}
		case events.TypeMetadataUpdate:
			if p, err := events.DecodeMetadataUpdate(ev.Payload); err == nil {
				snap.Metadata[p.Key] = p.Value
			}
		case events.TypeMetadataTag:
			if p, err := events.DecodeMetadataTag(ev.Payload); err == nil {
				if p.Action == events.TagActionAdd {
					tags[p.Tag] = struct{}{}
				} else {
					delete(tags, p.Tag)
				}
			}
		}
	}

	snap.ReasoningLevel = idx.ReasoningLevel
	if len(tags) > 0 {
		snap.Tags = make([]string, 0, len(tags))
		for t := range tags {
			snap.Tags = append(snap.Tags, t)
		}
		sort.Strings(snap.Tags)
	}
	if len(snap.Metadata) == 0 {
		snap.Metadata = nil
	}
	return snap
}

// contextWindowOf extracts the provider-reported context window for one
// assistant event. The token record's computed field is authoritative;
// otherwise the window is derived as input plus both cache components,
// since cached tokens still occupy the window.
func contextWindowOf(p events.AssistantMessagePayload) (int64, bool) {
	if p.TokenRecord != nil {
		if computed, ok := p.TokenRecord["computed"].(map[string]any); ok {
			if cw, ok := computed["contextWindowTokens"].(float64); ok {
				return int64(cw), true
			}
		}
	}
	if p.TokenUsage != nil {
		u := p.TokenUsage
		return u.InputTokens + u.CacheReadTokens + u.CacheCreationTokens, true
	}
	return 0, false
}

func appendPath(paths []string, p string) []string {
	for _, existing := range paths {
		if existing == p {
			return paths
		}
	}
	return append(paths, p)
}
