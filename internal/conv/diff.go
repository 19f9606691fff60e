package conv

// Diff returns the suffix of current that is new relative to previous.
//
// If previous is empty, all of current is new. Otherwise the chunk id of the
// last previous turn is the anchor: current is scanned from the end for the
// first turn with that id, and everything strictly after it is new. Scanning
// from the end is deliberate: turns are append-only, so the most recent
// occurrence of an id is authoritative and cheap to find when only the tail
// of a long conversation changes. If the anchor is missing entirely (history
// was reset server-side), the whole of current is treated as new.
//
// Both inputs must be well-formed append-only turn lists; duplicate chunk ids
// are a precondition violation and the result is unspecified.
func Diff(previous, current []Turn) []Turn {
	if len(previous) == 0 {
		return current
	}
	anchor := previous[len(previous)-1].ChunkID
	for i := len(current) - 1; i >= 0; i-- {
		if current[i].ChunkID == anchor {
			return current[i+1:]
		}
	}
	return current
}
