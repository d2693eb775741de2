package replacer

import (
	pagemanager "github.com/sushant-115/pagestore/core/write_engine/page_manager"
)

// LRUReplacer evicts the unpinned frame with the smallest LastUsedAt.
// Equal timestamps go to the lowest FrameID.
type LRUReplacer struct{}

func NewLRUReplacer() *LRUReplacer {
	return &LRUReplacer{}
}

func (r *LRUReplacer) Victim(frames []*pagemanager.Page) (pagemanager.FrameID, bool) {
	var victim *pagemanager.Page
	for _, p := range frames {
		if !evictable(p) {
			continue
		}
		if victim == nil ||
			p.GetLastUsedAt() < victim.GetLastUsedAt() ||
			(p.GetLastUsedAt() == victim.GetLastUsedAt() && p.GetFrameID() < victim.GetFrameID()) {
			victim = p
		}
	}
	if victim == nil {
		return 0, false
	}
	return victim.GetFrameID(), true
}
