package memtable

import (
	"bytes"
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"

	diskscheduler "github.com/sushant-115/pagestore/core/write_engine/disk_scheduler"
	flushmanager "github.com/sushant-115/pagestore/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/pagestore/core/write_engine/page_manager"
	"github.com/sushant-115/pagestore/core/write_engine/replacer"
	internaltelemetry "github.com/sushant-115/pagestore/internal/telemetry"
	"github.com/tidwall/btree"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// BufferPoolManager caches disk pages in a fixed number of frames.
//
// Every frame is either on the free list or holds exactly one page recorded
// in the page table, so |page table| + |free list| == pool size at all times.
// A page with a positive pin count is never evicted, and a dirty page is
// written back before its frame is reused.
//
// One mutex covers the page table, the free list and the frame metadata. It
// is held across the blocking disk requests of a fetch or flush.
type BufferPoolManager struct {
	disk      Disk
	scheduler *diskscheduler.DiskScheduler
	replacer  replacer.Replacer
	logger    *zap.Logger
	metrics   *internaltelemetry.StorageMetrics
	tracer    trace.Tracer

	poolSize  int
	pages     []*pagemanager.Page                                 // Page frames, indexed by FrameID
	pageTable *btree.Map[pagemanager.PageID, pagemanager.FrameID] // PageID to frame, ordered by PageID
	freeList  *list.List                                          // pagemanager.FrameID values
	tick      uint64                                              // Logical clock for LastUsedAt
	stats     Stats
	closed    bool
	mu        sync.Mutex
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	PoolSize   int
	Resident   int
	Free       int
	Pinned     int
	Dirty      int
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	WriteBacks uint64
}

// NewBufferPoolManager creates a pool of config.PoolSize frames over the data
// file at config.DBFilePath, starting the disk scheduler's workers.
func NewBufferPoolManager(config Config, logger *zap.Logger, opts ...Option) (*BufferPoolManager, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	bpm := &BufferPoolManager{
		logger:    logger.Named("bufferpool"),
		poolSize:  config.PoolSize,
		pages:     make([]*pagemanager.Page, config.PoolSize),
		pageTable: btree.NewMap[pagemanager.PageID, pagemanager.FrameID](0),
		freeList:  list.New(),
	}
	for _, opt := range opts {
		opt(bpm)
	}
	if bpm.metrics == nil {
		bpm.metrics = internaltelemetry.NoopStorageMetrics()
	}
	if bpm.tracer == nil {
		bpm.tracer = nooptrace.NewTracerProvider().Tracer("")
	}
	if bpm.replacer == nil {
		r, err := replacer.New(config.Replacer)
		if err != nil {
			return nil, err
		}
		bpm.replacer = r
	}
	if bpm.disk == nil {
		if config.DBFilePath == "" {
			return nil, fmt.Errorf("%w: no data file path configured", flushmanager.ErrFileNotOpen)
		}
		dm, err := flushmanager.NewDiskManager(config.DBFilePath, config.SyncWrites, logger)
		if err != nil {
			return nil, err
		}
		bpm.disk = dm
	}
	bpm.scheduler = diskscheduler.NewDiskScheduler(bpm.disk, config.Workers, logger, bpm.metrics)

	for i := 0; i < config.PoolSize; i++ {
		bpm.pages[i] = pagemanager.NewPage(pagemanager.FrameID(i))
		bpm.freeList.PushBack(pagemanager.FrameID(i))
	}
	bpm.logger.Info("BufferPoolManager initialized",
		zap.Int("pool_size", config.PoolSize),
		zap.Int("page_size", pagemanager.PageSize),
		zap.String("replacer", fmt.Sprintf("%T", bpm.replacer)))
	return bpm, nil
}

// FetchPage returns the page pinned. See FetchPageContext.
func (bpm *BufferPoolManager) FetchPage(pageID pagemanager.PageID) (*pagemanager.Page, error) {
	return bpm.FetchPageContext(context.Background(), pageID)
}

// FetchPageContext returns pageID's page with its pin count incremented.
//
// A resident page is returned without I/O. Otherwise a free frame is used,
// or the replacer's victim is evicted (written back first when dirty), and
// the page is read from disk. If every frame is pinned it fails with
// ErrBufferPoolFull. On any failure the page table is left as it was.
// Cancelling ctx abandons the read of the new page but never a write-back.
func (bpm *BufferPoolManager) FetchPageContext(ctx context.Context, pageID pagemanager.PageID) (*pagemanager.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	defer bpm.checkCapacityInvariant()

	if bpm.closed {
		return nil, flushmanager.ErrClosed
	}
	if _, ok := pageID.Offset(); !ok {
		return nil, fmt.Errorf("%w: page %d is not addressable", flushmanager.ErrPageNotFound, pageID)
	}

	// 1. Check if page is already in the buffer pool
	if frameID, ok := bpm.pageTable.Get(pageID); ok {
		page := bpm.pages[frameID]
		page.Pin()
		page.Touch(bpm.nextTick())
		bpm.stats.Hits++
		bpm.metrics.PageHitsCounter.Add(ctx, 1)
		bpm.logger.Debug("Page found in buffer pool",
			zap.Uint64("page_id", uint64(pageID)),
			zap.Int("frame", int(frameID)),
			zap.Uint32("pin_count", page.GetPinCount()))
		return page, nil
	}

	ctx, span := bpm.tracer.Start(ctx, "bufferpool.load_page",
		trace.WithAttributes(attribute.Int64("page_id", int64(pageID))))
	defer span.End()

	bpm.stats.Misses++
	bpm.metrics.PageMissesCounter.Add(ctx, 1)

	// 2. Page not in pool, pick a frame and make it reusable
	frame, fromFreeList, err := bpm.prepareFrameLocked(ctx, pageID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// 3. Load new page data from disk. The frame is untouched until this succeeds.
	data := make([]byte, pagemanager.PageSize)
	if err := bpm.scheduler.ReadPageContext(ctx, pageID, data); err != nil {
		bpm.logger.Error("Failed to read page from disk", zap.Uint64("page_id", uint64(pageID)), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read page %d from disk: %w", pageID, err)
	}

	// 4. Commit: drop the old mapping, install the new one
	bpm.claimFrameLocked(frame, fromFreeList)
	frame.Load(pageID, data, bpm.nextTick())
	bpm.pageTable.Set(pageID, frame.GetFrameID())
	bpm.logger.Debug("Page loaded into frame",
		zap.Uint64("page_id", uint64(pageID)),
		zap.Int("frame", int(frame.GetFrameID())))
	return frame, nil
}

// NewPage allocates a zeroed page at the end of the data file and returns it
// pinned. A frame is secured before the file grows, so a full pool fails
// without allocating.
func (bpm *BufferPoolManager) NewPage() (*pagemanager.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	defer bpm.checkCapacityInvariant()

	if bpm.closed {
		return nil, flushmanager.ErrClosed
	}

	ctx, span := bpm.tracer.Start(context.Background(), "bufferpool.new_page")
	defer span.End()

	frame, fromFreeList, err := bpm.prepareFrameLocked(ctx, pagemanager.InvalidPageID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	newPageID, err := bpm.disk.AllocatePage()
	if err != nil {
		bpm.logger.Error("Failed to allocate new page on disk", zap.Error(err))
		span.RecordError(err)
		return nil, fmt.Errorf("failed to allocate page: %w", err)
	}

	bpm.claimFrameLocked(frame, fromFreeList)
	frame.Reset()
	frame.Load(newPageID, nil, bpm.nextTick())
	bpm.pageTable.Set(newPageID, frame.GetFrameID())
	span.SetAttributes(attribute.Int64("page_id", int64(newPageID)))
	bpm.logger.Debug("New page allocated",
		zap.Uint64("page_id", uint64(newPageID)),
		zap.Int("frame", int(frame.GetFrameID())))
	return frame, nil
}

// prepareFrameLocked picks the frame that will receive a page: the head of
// the free list, or else the replacer's victim after its dirty bytes have
// been written back. Nothing is unlinked yet; see claimFrameLocked.
// This method MUST be called with bpm.mu locked.
func (bpm *BufferPoolManager) prepareFrameLocked(ctx context.Context, forPage pagemanager.PageID) (*pagemanager.Page, bool, error) {
	if e := bpm.freeList.Front(); e != nil {
		return bpm.pages[e.Value.(pagemanager.FrameID)], true, nil
	}

	frameID, ok := bpm.replacer.Victim(bpm.pages)
	if !ok {
		bpm.metrics.PoolExhaustedCounter.Add(ctx, 1)
		bpm.logger.Warn("Buffer pool is full, every page is pinned", zap.Uint64("page_id", uint64(forPage)))
		return nil, false, fmt.Errorf("%w: cannot make room for page %d", flushmanager.ErrBufferPoolFull, forPage)
	}
	victim := bpm.pages[frameID]
	if !victim.IsResident() || victim.IsPinned() {
		panic(fmt.Sprintf("bufferpool: replacer returned frame %d holding page %d with pin count %d", frameID, victim.GetPageID(), victim.GetPinCount()))
	}

	if victim.IsDirty() {
		bpm.logger.Debug("Writing back dirty victim",
			zap.Uint64("victim_page_id", uint64(victim.GetPageID())),
			zap.Int("frame", int(frameID)))
		// Write-backs run to completion even if ctx ends: an abandoned write
		// could land after a newer write of the same page.
		if err := bpm.scheduler.WritePageContext(context.WithoutCancel(ctx), victim.GetPageID(), victim.GetData()); err != nil {
			bpm.logger.Error("Failed to write back dirty victim", zap.Uint64("victim_page_id", uint64(victim.GetPageID())), zap.Error(err))
			return nil, false, fmt.Errorf("failed to flush dirty victim page %d: %w", victim.GetPageID(), err)
		}
		victim.SetDirty(false)
		bpm.stats.WriteBacks++
		bpm.metrics.WriteBacksCounter.Add(ctx, 1)
	}
	return victim, false, nil
}

// claimFrameLocked unlinks a frame from the free list or from its old page.
// This method MUST be called with bpm.mu locked.
func (bpm *BufferPoolManager) claimFrameLocked(frame *pagemanager.Page, fromFreeList bool) {
	if fromFreeList {
		bpm.freeList.Remove(bpm.freeList.Front())
		return
	}
	if _, ok := bpm.pageTable.Delete(frame.GetPageID()); !ok {
		panic(fmt.Sprintf("bufferpool: evicted page %d of frame %d missing from page table", frame.GetPageID(), frame.GetFrameID()))
	}
	bpm.stats.Evictions++
	bpm.metrics.EvictionsCounter.Add(context.Background(), 1)
	bpm.logger.Debug("Evicted page", zap.Uint64("page_id", uint64(frame.GetPageID())), zap.Int("frame", int(frame.GetFrameID())))
}

// UnpinPage releases one pin on a resident page and marks it dirty when
// isDirty is set (a page is never marked clean here). Unpinning a page whose
// pin count is already zero fails with ErrPageNotPinned.
func (bpm *BufferPoolManager) UnpinPage(pageID pagemanager.PageID, isDirty bool) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	defer bpm.checkCapacityInvariant()

	if bpm.closed {
		return flushmanager.ErrClosed
	}

	frameID, ok := bpm.pageTable.Get(pageID)
	if !ok {
		return fmt.Errorf("%w: page %d not found to unpin", flushmanager.ErrPageNotFound, pageID)
	}
	page := bpm.pages[frameID]
	if !page.Unpin() {
		bpm.logger.Warn("Attempted to unpin page with pin count 0", zap.Uint64("page_id", uint64(pageID)))
		return fmt.Errorf("%w: cannot unpin page %d with pin count 0", flushmanager.ErrPageNotPinned, pageID)
	}
	if isDirty {
		page.SetDirty(true)
	}
	bpm.logger.Debug("Unpinned page",
		zap.Uint64("page_id", uint64(pageID)),
		zap.Uint32("pin_count", page.GetPinCount()),
		zap.Bool("dirty", page.IsDirty()))
	return nil
}

// FlushPage writes data to pageID's slot on disk. See FlushPageContext.
func (bpm *BufferPoolManager) FlushPage(pageID pagemanager.PageID, data []byte) error {
	return bpm.FlushPageContext(context.Background(), pageID, data)
}

// FlushPageContext synchronously writes data as pageID's on-disk contents,
// independent of whether the page is resident. When the page is resident
// and data equals its frame contents the frame is marked clean. ctx is only
// checked before the write is queued; once queued the write is waited for.
func (bpm *BufferPoolManager) FlushPageContext(ctx context.Context, pageID pagemanager.PageID, data []byte) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	defer bpm.checkCapacityInvariant()

	if bpm.closed {
		return flushmanager.ErrClosed
	}

	ctx, span := bpm.tracer.Start(ctx, "bufferpool.flush_page",
		trace.WithAttributes(attribute.Int64("page_id", int64(pageID))))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := bpm.scheduler.WritePageContext(context.WithoutCancel(ctx), pageID, data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		bpm.logger.Error("Failed to flush page", zap.Uint64("page_id", uint64(pageID)), zap.Error(err))
		return fmt.Errorf("failed to flush page %d: %w", pageID, err)
	}

	if frameID, ok := bpm.pageTable.Get(pageID); ok {
		page := bpm.pages[frameID]
		page.RLock()
		if page.IsDirty() && bytes.Equal(page.GetData(), data) {
			page.SetDirty(false)
		}
		page.RUnlock()
	}
	return nil
}

// FlushResidentPage writes a resident page's frame to disk if it is dirty.
func (bpm *BufferPoolManager) FlushResidentPage(pageID pagemanager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if bpm.closed {
		return flushmanager.ErrClosed
	}
	frameID, ok := bpm.pageTable.Get(pageID)
	if !ok {
		bpm.logger.Warn("Attempted to flush page not found in buffer pool", zap.Uint64("page_id", uint64(pageID)))
		return fmt.Errorf("%w: page %d not found to flush", flushmanager.ErrPageNotFound, pageID)
	}
	return bpm.flushFrameLocked(context.Background(), bpm.pages[frameID])
}

// flushFrameLocked writes a dirty frame back and marks it clean.
// This method MUST be called with bpm.mu locked.
func (bpm *BufferPoolManager) flushFrameLocked(ctx context.Context, page *pagemanager.Page) error {
	if !page.IsDirty() {
		return nil
	}
	page.RLock()
	err := bpm.scheduler.WritePageContext(context.WithoutCancel(ctx), page.GetPageID(), page.GetData())
	if err == nil {
		page.SetDirty(false)
	}
	page.RUnlock()
	if err != nil {
		bpm.logger.Error("Failed to flush page", zap.Uint64("page_id", uint64(page.GetPageID())), zap.Error(err))
		return fmt.Errorf("failed to flush page %d: %w", page.GetPageID(), err)
	}
	return nil
}

// FlushAllPages writes every dirty resident page in ascending page order,
// then syncs the data file. It keeps going past failures and returns them
// joined.
func (bpm *BufferPoolManager) FlushAllPages() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if bpm.closed {
		return flushmanager.ErrClosed
	}
	return bpm.flushAllLocked(context.Background())
}

func (bpm *BufferPoolManager) flushAllLocked(ctx context.Context) error {
	var errs []error
	flushed := 0
	bpm.pageTable.Scan(func(pageID pagemanager.PageID, frameID pagemanager.FrameID) bool {
		page := bpm.pages[frameID]
		if !page.IsDirty() {
			return true
		}
		if err := bpm.flushFrameLocked(ctx, page); err != nil {
			errs = append(errs, err)
			return true
		}
		flushed++
		return true
	})
	if err := bpm.disk.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("failed to sync data file: %w", err))
	}
	bpm.logger.Debug("Finished FlushAllPages", zap.Int("flushed", flushed), zap.Int("errors", len(errs)))
	return errors.Join(errs...)
}

// Snapshot flushes every dirty page and copies the data file to dstPath at
// no more than bytesPerSec (0 = unthrottled). It returns the copy's SHA-256.
func (bpm *BufferPoolManager) Snapshot(ctx context.Context, dstPath string, bytesPerSec int64) ([]byte, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if bpm.closed {
		return nil, flushmanager.ErrClosed
	}
	if err := bpm.flushAllLocked(ctx); err != nil {
		return nil, err
	}
	return bpm.disk.Snapshot(ctx, dstPath, bytesPerSec)
}

// Stats returns counters and the current occupancy of the pool.
func (bpm *BufferPoolManager) Stats() Stats {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	s := bpm.stats
	s.PoolSize = bpm.poolSize
	s.Resident = bpm.pageTable.Len()
	s.Free = bpm.freeList.Len()
	for _, page := range bpm.pages {
		if !page.IsResident() {
			continue
		}
		if page.IsPinned() {
			s.Pinned++
		}
		if page.IsDirty() {
			s.Dirty++
		}
	}
	return s
}

// PoolSize returns the number of frames.
func (bpm *BufferPoolManager) PoolSize() int {
	return bpm.poolSize
}

// Close flushes dirty pages, drains the disk scheduler and closes the files.
// Pages still pinned are flushed too. Later calls return nil.
func (bpm *BufferPoolManager) Close() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if bpm.closed {
		return nil
	}
	bpm.closed = true

	var errs []error
	if err := bpm.flushAllLocked(context.Background()); err != nil {
		errs = append(errs, err)
	}
	bpm.scheduler.Shutdown()
	if err := bpm.disk.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close disk: %w", err))
	}
	bpm.logger.Info("BufferPoolManager closed")
	return errors.Join(errs...)
}

func (bpm *BufferPoolManager) nextTick() uint64 {
	bpm.tick++
	return bpm.tick
}

// checkCapacityInvariant panics when a frame is neither free nor mapped.
// This method MUST be called with bpm.mu locked.
func (bpm *BufferPoolManager) checkCapacityInvariant() {
	if resident, free := bpm.pageTable.Len(), bpm.freeList.Len(); resident+free != bpm.poolSize {
		panic(fmt.Sprintf("bufferpool: %d resident + %d free frames != pool size %d", resident, free, bpm.poolSize))
	}
}
