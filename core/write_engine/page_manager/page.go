package pagemanager

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// --- Page Management ---

// PageSize is the fixed size of every page, both on disk and in a frame.
const PageSize = 4096

// PageID represents a unique identifier for a page on disk. Page i lives at
// byte offset i*PageSize of the data file.
type PageID uint64

// InvalidPageID marks a frame that holds no page. Page 0 is a real page, so
// the sentinel is the largest id instead.
const InvalidPageID PageID = ^PageID(0)

// FrameID identifies a slot of the buffer pool.
type FrameID int

// MaxPageID is the largest page whose byte offset fits in an int64.
const MaxPageID PageID = math.MaxInt64/PageSize - 1

// Offset returns the byte offset of the page in the data file. It reports
// false for ids past MaxPageID, whose offset would overflow.
func (id PageID) Offset() (int64, bool) {
	if id > MaxPageID {
		return 0, false
	}
	return int64(id) * PageSize, true
}

// Page represents an in-memory copy of a disk page held by one frame.
type Page struct {
	frameID  FrameID
	id       PageID
	data     []byte
	pinCount uint32
	isDirty  atomic.Bool
	// lastUsedAt is a logical tick assigned by the buffer pool on every access.
	lastUsedAt uint64
	referenced bool
	updatedAt  time.Time

	// latch protects data while a pin holder mutates it and the pool writes
	// it back. Pin bookkeeping is protected by the buffer pool lock instead.
	latch sync.RWMutex
}

// NewPage creates an empty frame slot.
func NewPage(frameID FrameID) *Page {
	return &Page{
		frameID: frameID,
		id:      InvalidPageID,
		data:    make([]byte, PageSize),
	}
}

// The methods below that change frame state (Reset, Load, Touch, Pin, Unpin,
// ClearReferenced) belong to the buffer pool and the replacers, which call
// them with the pool lock held. Pin holders use UnpinPage instead.

// Reset returns the frame to the free state. Data is zeroed so a recycled
// frame never leaks the previous page's bytes.
func (p *Page) Reset() {
	p.id = InvalidPageID
	p.pinCount = 0
	p.isDirty.Store(false)
	p.lastUsedAt = 0
	p.referenced = false
	p.updatedAt = time.Time{}
	clear(p.data)
}

// Load installs a freshly read page into the frame, pinned once and clean.
func (p *Page) Load(id PageID, data []byte, tick uint64) {
	copy(p.data, data)
	p.id = id
	p.pinCount = 1
	p.isDirty.Store(false)
	p.Touch(tick)
}

// Touch records an access.
func (p *Page) Touch(tick uint64) {
	p.lastUsedAt = tick
	p.referenced = true
	p.updatedAt = time.Now()
}

func (p *Page) GetFrameID() FrameID     { return p.frameID }
func (p *Page) GetPageID() PageID       { return p.id }
func (p *Page) GetData() []byte         { return p.data }
func (p *Page) IsResident() bool        { return p.id != InvalidPageID }
func (p *Page) IsDirty() bool           { return p.isDirty.Load() }
func (p *Page) SetDirty(dirty bool)     { p.isDirty.Store(dirty) }
func (p *Page) GetPinCount() uint32     { return p.pinCount }
func (p *Page) IsPinned() bool          { return p.pinCount > 0 }
func (p *Page) GetLastUsedAt() uint64   { return p.lastUsedAt }
func (p *Page) GetUpdatedAt() time.Time { return p.updatedAt }
func (p *Page) IsReferenced() bool      { return p.referenced }
func (p *Page) ClearReferenced()        { p.referenced = false }
func (p *Page) Pin()                    { p.pinCount++ }

// Unpin decrements the pin count. It reports false, leaving the count at
// zero, when the page was not pinned.
func (p *Page) Unpin() bool {
	if p.pinCount == 0 {
		return false
	}
	p.pinCount--
	return true
}

// RLock acquires a read (shared) latch on the page.
func (p *Page) RLock() {
	p.latch.RLock()
}

// RUnlock releases a read (shared) latch on the page.
func (p *Page) RUnlock() {
	p.latch.RUnlock()
}

// Lock acquires a write (exclusive) latch on the page. Pin holders take it
// while modifying Data.
func (p *Page) Lock() {
	p.latch.Lock()
}

// Unlock releases a write (exclusive) latch on the page.
func (p *Page) Unlock() {
	p.latch.Unlock()
}
