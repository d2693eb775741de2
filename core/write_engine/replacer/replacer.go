// Package replacer holds the victim-selection policies of the buffer pool.
package replacer

import (
	"fmt"
	"strings"

	pagemanager "github.com/sushant-115/pagestore/core/write_engine/page_manager"
)

// Replacer chooses which resident, unpinned frame to evict.
//
// frames is the pool's frame set indexed by FrameID; frames that hold no
// page are ignored. Victim never returns a pinned frame and reports false
// when no frame is evictable. It is called with the buffer pool lock held.
type Replacer interface {
	Victim(frames []*pagemanager.Page) (pagemanager.FrameID, bool)
}

const (
	PolicyLRU   = "lru"
	PolicyClock = "clock"
)

// New returns the replacer for a policy name. An empty name selects LRU.
func New(policy string) (Replacer, error) {
	switch strings.ToLower(policy) {
	case "", PolicyLRU:
		return NewLRUReplacer(), nil
	case PolicyClock:
		return NewClockReplacer(), nil
	}
	return nil, fmt.Errorf("unknown replacement policy %q", policy)
}

func evictable(p *pagemanager.Page) bool {
	return p != nil && p.IsResident() && !p.IsPinned()
}
