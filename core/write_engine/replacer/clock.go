package replacer

import (
	pagemanager "github.com/sushant-115/pagestore/core/write_engine/page_manager"
)

// ClockReplacer is a second-chance policy: the hand sweeps the frames, clears
// the referenced bit of unpinned frames that have it set and evicts the first
// unpinned frame found without it. The hand position survives between calls.
type ClockReplacer struct {
	hand int
}

func NewClockReplacer() *ClockReplacer {
	return &ClockReplacer{}
}

func (r *ClockReplacer) Victim(frames []*pagemanager.Page) (pagemanager.FrameID, bool) {
	n := len(frames)
	if n == 0 {
		return 0, false
	}
	// Two sweeps are enough: the first clears every referenced bit.
	for i := 0; i < 2*n; i++ {
		idx := (r.hand + i) % n
		p := frames[idx]
		if !evictable(p) {
			continue
		}
		if p.IsReferenced() {
			p.ClearReferenced()
			continue
		}
		r.hand = (idx + 1) % n
		return p.GetFrameID(), true
	}
	return 0, false
}
