package events

import "sort"

// Order returns the authoritative ordering for a log segment.
//
// When presorted is false the segment is sorted by sequence ascending with
// the parsed timestamp as tie-break. When presorted is true the input order
// is returned untouched: segments stitched from an ancestor-chain query span
// fork boundaries where sequence numbers restart per sub-session, and a
// numeric re-sort would interleave parent and fork events incorrectly. Only
// the caller knows the segment's provenance.
func Order(evs []Event, presorted bool) []Event {
	if presorted {
		return evs
	}
	out := make([]Event, len(evs))
	copy(out, evs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return ParseTimestamp(out[i].Timestamp).Before(ParseTimestamp(out[j].Timestamp))
	})
	return out
}
