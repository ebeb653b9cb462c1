// Package replay reconstructs display transcripts and session snapshots
// from append-only event logs. Reconstruction is deterministic: the same
// batch always yields the same output, so results can be cached and
// recomputed anywhere.
package replay

import "chronicle/internal/events"

// Result bundles both views of one reconstruction pass.
type Result struct {
	Messages []Message `json:"messages"`
	Snapshot Snapshot  `json:"snapshot"`
}

// Rebuild orders the batch and runs both reconstruction passes. Set
// presorted when the caller already holds the events in their definitive
// order, as with fork-ancestry batches whose segments restart sequence
// numbering.
func Rebuild(evs []events.Event, presorted bool) Result {
	ordered := events.Order(evs, presorted)
	idx := BuildIndex(ordered)
	return Result{
		Messages: Transcript(ordered, idx),
		Snapshot: Reduce(ordered, idx),
	}
}
