package flushmanager

import "errors"

// --- Error Definitions ---

var (
	// I/O
	ErrFileNotOpen     = errors.New("file not open")
	ErrCouldNotRead    = errors.New("could not read page: offset beyond end of file")
	ErrPageNotFound    = errors.New("page not found")
	ErrSeek            = errors.New("seek error")
	ErrCouldNotWrite   = errors.New("could not write page")
	ErrInvalidPageData = errors.New("invalid page data")
	ErrIO              = errors.New("i/o error")

	// Capacity
	ErrBufferPoolFull = errors.New("buffer pool is full and no pages can be evicted")

	// State
	ErrPageNotPinned   = errors.New("page is not pinned")
	ErrClosed          = errors.New("buffer pool manager is closed")
	ErrSchedulerClosed = errors.New("disk scheduler is shut down")

	// Synchronization
	ErrRequestDropped = errors.New("disk request completed without a result")
	ErrWorkerPanic    = errors.New("disk worker panicked while serving request")
)
