package diskscheduler

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	flushmanager "github.com/sushant-115/pagestore/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/pagestore/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/pagestore/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// DefaultWorkers is the worker count used when none is configured.
const DefaultWorkers = 4

// PageIO is the page-level disk interface the scheduler drives.
// *flushmanager.DiskManager implements it.
type PageIO interface {
	ReadPage(pageID pagemanager.PageID, pageData []byte) error
	WritePage(pageID pagemanager.PageID, pageData []byte) error
}

// DiskScheduler turns blocking page reads and writes into requests executed
// by a fixed pool of worker goroutines draining one FIFO queue.
//
// Requests are dequeued in submission order. With more than one worker two
// concurrently submitted requests may complete in either order; a caller
// that issues requests one after another (each call blocks until done) sees
// them fully ordered.
type DiskScheduler struct {
	disk    PageIO
	logger  *zap.Logger
	metrics *internaltelemetry.StorageMetrics

	mu     sync.Mutex
	cond   *sync.Cond // Signalled when the queue gains a request or the scheduler closes
	queue  *list.List // *Request, oldest at the front
	closed bool

	inFlight   *xsync.MapOf[uuid.UUID, *Request]
	numWorkers int
	wg         sync.WaitGroup
}

// NewDiskScheduler starts numWorkers workers (DefaultWorkers if <= 0) over disk.
func NewDiskScheduler(disk PageIO, numWorkers int, logger *zap.Logger, metrics *internaltelemetry.StorageMetrics) *DiskScheduler {
	if numWorkers <= 0 {
		numWorkers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = internaltelemetry.NoopStorageMetrics()
	}
	ds := &DiskScheduler{
		disk:       disk,
		logger:     logger.Named("disk_scheduler"),
		metrics:    metrics,
		queue:      list.New(),
		inFlight:   xsync.NewMapOf[uuid.UUID, *Request](),
		numWorkers: numWorkers,
	}
	ds.cond = sync.NewCond(&ds.mu)

	for i := 0; i < numWorkers; i++ {
		ds.wg.Add(1)
		go ds.worker(i)
	}
	ds.logger.Info("DiskScheduler started", zap.Int("workers", numWorkers))
	return ds
}

// ReadPage reads pageID into buf, blocking until the request completes.
func (ds *DiskScheduler) ReadPage(pageID pagemanager.PageID, buf []byte) error {
	return ds.ReadPageContext(context.Background(), pageID, buf)
}

// ReadPageContext is ReadPage with a bounded wait. If ctx ends first the
// request still runs, its result is discarded and buf is left untouched.
func (ds *DiskScheduler) ReadPageContext(ctx context.Context, pageID pagemanager.PageID, buf []byte) error {
	if len(buf) != pagemanager.PageSize {
		return fmt.Errorf("%w: read buffer size (%d) != page size (%d)", flushmanager.ErrInvalidPageData, len(buf), pagemanager.PageSize)
	}
	req := newRequest(RequestRead, pageID)
	if err := ds.schedule(ctx, req); err != nil {
		return err
	}
	copy(buf, req.Data)
	return nil
}

// WritePage writes buf to pageID, blocking until the request completes.
func (ds *DiskScheduler) WritePage(pageID pagemanager.PageID, buf []byte) error {
	return ds.WritePageContext(context.Background(), pageID, buf)
}

// WritePageContext is WritePage with a bounded wait. The bytes are copied
// before enqueueing, so buf may be reused as soon as the call returns; an
// abandoned write may still reach disk.
func (ds *DiskScheduler) WritePageContext(ctx context.Context, pageID pagemanager.PageID, buf []byte) error {
	if len(buf) != pagemanager.PageSize {
		return fmt.Errorf("%w: write buffer size (%d) != page size (%d)", flushmanager.ErrInvalidPageData, len(buf), pagemanager.PageSize)
	}
	req := newRequest(RequestWrite, pageID)
	copy(req.Data, buf)
	return ds.schedule(ctx, req)
}

func (ds *DiskScheduler) schedule(ctx context.Context, req *Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ds.enqueue(req); err != nil {
		return err
	}

	select {
	case err, ok := <-req.done:
		if !ok {
			return fmt.Errorf("%w: %s page %d (request %s)", flushmanager.ErrRequestDropped, req.Kind, req.PageID, req.ID)
		}
		return err
	case <-ctx.Done():
		ds.logger.Warn("Abandoned wait for disk request",
			zap.Stringer("request_id", req.ID),
			zap.Stringer("kind", req.Kind),
			zap.Uint64("page_id", uint64(req.PageID)),
			zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

func (ds *DiskScheduler) enqueue(req *Request) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.closed {
		return fmt.Errorf("%w: %s page %d", flushmanager.ErrSchedulerClosed, req.Kind, req.PageID)
	}
	req.EnqueuedAt = time.Now()
	ds.inFlight.Store(req.ID, req)
	ds.queue.PushBack(req)
	ds.metrics.QueueDepthUpDownCounter.Add(context.Background(), 1)
	ds.cond.Signal()
	return nil
}

// next blocks until a request is available and pops it. It returns nil once
// the scheduler is closed and the queue is empty.
func (ds *DiskScheduler) next() *Request {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for ds.queue.Len() == 0 && !ds.closed {
		ds.cond.Wait()
	}
	if ds.queue.Len() == 0 {
		return nil
	}
	req := ds.queue.Remove(ds.queue.Front()).(*Request)
	ds.metrics.QueueDepthUpDownCounter.Add(context.Background(), -1)
	return req
}

func (ds *DiskScheduler) worker(workerID int) {
	defer ds.wg.Done()
	for {
		req := ds.next()
		if req == nil {
			ds.logger.Debug("Disk worker exiting", zap.Int("worker", workerID))
			return
		}
		ds.execute(workerID, req)
	}
}

func (ds *DiskScheduler) execute(workerID int, req *Request) {
	err := ds.run(req)

	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("kind", req.Kind.String()))
	ds.metrics.DiskRequestsCounter.Add(ctx, 1, attrs)
	ds.metrics.DiskLatencyHistogram.Record(ctx, time.Since(req.EnqueuedAt).Microseconds(), attrs)
	if err != nil {
		ds.metrics.DiskFailuresCounter.Add(ctx, 1, attrs)
		ds.logger.Error("Disk request failed",
			zap.Int("worker", workerID),
			zap.Stringer("request_id", req.ID),
			zap.Stringer("kind", req.Kind),
			zap.Uint64("page_id", uint64(req.PageID)),
			zap.Error(err))
	}

	ds.inFlight.Delete(req.ID)
	req.complete(err)
}

// run executes one request. A panic is converted into ErrWorkerPanic so the
// worker survives and keeps serving the queue.
func (ds *DiskScheduler) run(req *Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s page %d: %v", flushmanager.ErrWorkerPanic, req.Kind, req.PageID, r)
		}
	}()

	switch req.Kind {
	case RequestRead:
		return ds.disk.ReadPage(req.PageID, req.Data)
	case RequestWrite:
		return ds.disk.WritePage(req.PageID, req.Data)
	}
	return fmt.Errorf("unknown disk request kind %d", req.Kind)
}

// QueueDepth returns the number of requests waiting for a worker.
func (ds *DiskScheduler) QueueDepth() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.queue.Len()
}

// InFlight returns the number of accepted requests that have not completed,
// queued or executing.
func (ds *DiskScheduler) InFlight() int {
	return ds.inFlight.Size()
}

// Shutdown stops accepting requests, lets the workers drain everything
// already queued and waits for them to exit. It is safe to call repeatedly.
func (ds *DiskScheduler) Shutdown() {
	ds.mu.Lock()
	alreadyClosed := ds.closed
	ds.closed = true
	pending := ds.queue.Len()
	ds.cond.Broadcast()
	ds.mu.Unlock()

	ds.wg.Wait()
	if !alreadyClosed {
		ds.logger.Info("DiskScheduler shut down", zap.Int("drained", pending))
	}
}
