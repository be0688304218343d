// Package timestamp implements the Timestamp Store (C3): PTS reconstruction
// via a rotated circular array of cumulative byte-offset intervals, and DTS
// reconstruction via a monotone FIFO with a reorder-delay threshold.
//
// The decoder cannot in general know which output frame corresponds to
// which input packet, because the device reports only a byte offset into
// the cumulative input stream for each decoded frame.
package timestamp

import "sort"

// SEIPayload is an opaque custom-SEI blob attached to a packet at write
// time; freed (discarded) on slot wrap-around reclamation.
type SEIPayload []byte

// Entry is one slot of the PTS interval array: the half-open byte-offset
// interval [Left, Right) that this packet occupied in the cumulative input
// stream, plus the PTS/flags/optional SEI recorded at write time.
type Entry struct {
	Left, Right int64
	PTS         int64
	Flags       uint32
	SEI         SEIPayload
	valid       bool
}

// Store holds the two per-decoder-session structures from SPEC_FULL.md §3:
// the rotated PTS interval array indexed by pkt_index mod N, and the DTS
// FIFO with threshold-based retrieval.
type Store struct {
	slots []Entry // capacity N, indexed by pkt_index % N
	dts   []dtsEntry

	faultyPTS int
	faultyDTS int

	// lastPTS/lastDTS track the previous frame's reconstructed timestamps
	// so GuessPTS can detect a non-monotonic ("faulty") observation the way
	// the reference guess_correct_pts does, instead of requiring a caller
	// to flag faults itself.
	lastPTS     int64
	lastDTS     int64
	haveLastPTS bool
	haveLastDTS bool
}

type dtsEntry struct {
	dts    int64
	offset int64
}

// NewStore creates a store with a fixed number of PTS interval slots.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 1
	}
	return &Store{slots: make([]Entry, capacity)}
}

// PutPTS records the (left, right) byte-offset interval and PTS/flags/SEI
// for pktIndex, reclaiming (discarding) any SEI payload that occupied the
// slot before wrap-around, per SPEC_FULL.md §4.7 step 5.
func (s *Store) PutPTS(pktIndex int, left, right, pts int64, flags uint32, sei SEIPayload) {
	slot := pktIndex % len(s.slots)
	// Wrap-around reclamation: the previous occupant's SEI payload (if
	// any) is simply overwritten — Go's GC reclaims it once unreferenced,
	// which is the memory-safe equivalent of the source's explicit free.
	s.slots[slot] = Entry{Left: left, Right: right, PTS: pts, Flags: flags, SEI: sei, valid: true}
}

// FindPTS binary-searches the rotated interval array for the slot whose
// [Left, Right) interval contains offset, breaking ties toward the next
// interval when offset lands exactly on a right boundary (tolerating
// malformed-SEI-driven offset shifts, per SPEC_FULL.md §4.3).
//
// Returns the matching Entry and true, or the zero Entry and false if no
// interval contains offset.
func (s *Store) FindPTS(offset int64) (Entry, bool) {
	valid := make([]Entry, 0, len(s.slots))
	for _, e := range s.slots {
		if e.valid {
			valid = append(valid, e)
		}
	}
	if len(valid) == 0 {
		return Entry{}, false
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].Left < valid[j].Left })

	// Binary search for the first interval whose Right > offset; tie-break
	// toward the next interval when offset == Right of the found interval.
	idx := sort.Search(len(valid), func(i int) bool { return valid[i].Right > offset })
	if idx >= len(valid) {
		return Entry{}, false
	}
	e := valid[idx]
	if offset < e.Left {
		return Entry{}, false
	}
	if offset == e.Right && idx+1 < len(valid) {
		return valid[idx+1], true
	}
	return e, true
}

// PushDTS appends a DTS value against the cumulative byte offset it was
// observed at, maintaining FIFO (monotone) order.
func (s *Store) PushDTS(dts, offset int64) {
	s.dts = append(s.dts, dtsEntry{dts: dts, offset: offset})
}

// GetWithThreshold returns the head DTS element if its associated offset is
// within threshold of queryOffset, discarding older (already-passed)
// entries as it scans. Returns (0, false) if no entry qualifies, in which
// case the caller should extrapolate from the last known interval.
func (s *Store) GetWithThreshold(queryOffset, threshold int64) (int64, bool) {
	for len(s.dts) > 0 {
		head := s.dts[0]
		diff := queryOffset - head.offset
		if diff < 0 {
			diff = -diff
		}
		if diff <= threshold {
			s.dts = s.dts[1:]
			return head.dts, true
		}
		if head.offset < queryOffset-threshold {
			// Stale entry the stream has moved past; discard and keep
			// scanning, per the FIFO's "discarding older entries" contract.
			s.dts = s.dts[1:]
			continue
		}
		break
	}
	return 0, false
}

// DrainReorderDelay discards n DTS entries without consuming their values,
// used on sequence change to account for the decoder's initial picture
// buffering (SPEC_FULL.md §4.7 step 5).
func (s *Store) DrainReorderDelay(n int) {
	if n <= 0 {
		return
	}
	if n > len(s.dts) {
		n = len(s.dts)
	}
	s.dts = s.dts[n:]
}

// GuessPTS picks between the reordered PTS and a synthesized DTS for a
// produced frame, based on running counters of faulty-PTS and faulty-DTS
// observations, preferring PTS unless DTS has proven more trustworthy or
// PTS is unavailable (SPEC_FULL.md §4.3).
//
// Before deciding, it checks each newly observed timestamp against the last
// one seen: a DTS or PTS that fails to strictly increase counts as a fault
// against that timestamp, mirroring the reference guess_correct_pts's
// pts_correction_num_faulty_pts/dts bookkeeping.
func (s *Store) GuessPTS(reorderedPTS int64, havePTS bool, dts int64, haveDTS bool) int64 {
	if haveDTS {
		if s.haveLastDTS && dts <= s.lastDTS {
			s.faultyDTS++
		}
		s.lastDTS, s.haveLastDTS = dts, true
	}
	if havePTS {
		if s.haveLastPTS && reorderedPTS <= s.lastPTS {
			s.faultyPTS++
		}
		s.lastPTS, s.haveLastPTS = reorderedPTS, true
	}

	if !havePTS && !haveDTS {
		return 0
	}
	if !havePTS {
		return dts
	}
	if !haveDTS {
		return reorderedPTS
	}
	if s.faultyPTS > s.faultyDTS {
		return dts
	}
	return reorderedPTS
}

// MarkFaultyPTS increments the running faulty-PTS counter used by GuessPTS,
// for a caller that has detected a faulty PTS by some means other than the
// plain non-monotonicity check GuessPTS already performs on every call.
func (s *Store) MarkFaultyPTS() { s.faultyPTS++ }

// MarkFaultyDTS increments the running faulty-DTS counter used by GuessPTS,
// for a caller that has detected a faulty DTS by some means other than the
// plain non-monotonicity check GuessPTS already performs on every call.
func (s *Store) MarkFaultyDTS() { s.faultyDTS++ }

// Cleanup performs the periodic (every-500-frames) sweep that drops PTS
// slots whose interval has fallen far enough behind the current offset
// that it can no longer be matched, bounding memory held by abandoned SEI
// payloads.
func (s *Store) Cleanup(currentOffset, horizon int64) {
	for i := range s.slots {
		if s.slots[i].valid && s.slots[i].Right < currentOffset-horizon {
			s.slots[i] = Entry{}
		}
	}
}
