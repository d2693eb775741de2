package diskscheduler

import (
	"time"

	"github.com/google/uuid"
	pagemanager "github.com/sushant-115/pagestore/core/write_engine/page_manager"
)

// RequestKind is the disk operation a Request asks for.
type RequestKind uint8

const (
	RequestRead RequestKind = iota + 1
	RequestWrite
)

func (k RequestKind) String() string {
	switch k {
	case RequestRead:
		return "read"
	case RequestWrite:
		return "write"
	}
	return "unknown"
}

// Request describes one queued disk operation. Data is owned by the request
// for its whole life: writes copy the caller's bytes in, reads copy them out
// only once the request has completed successfully.
type Request struct {
	ID         uuid.UUID
	Kind       RequestKind
	PageID     pagemanager.PageID
	Data       []byte
	EnqueuedAt time.Time
	// done carries exactly one result and is then closed.
	done chan error
}

func newRequest(kind RequestKind, pageID pagemanager.PageID) *Request {
	return &Request{
		ID:     uuid.New(),
		Kind:   kind,
		PageID: pageID,
		Data:   make([]byte, pagemanager.PageSize),
		done:   make(chan error, 1),
	}
}

// complete fires the completion signal. It must be called exactly once.
func (r *Request) complete(err error) {
	r.done <- err
	close(r.done)
}
