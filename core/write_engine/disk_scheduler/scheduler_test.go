package diskscheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	flushmanager "github.com/sushant-115/pagestore/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/pagestore/core/write_engine/page_manager"
	"go.uber.org/zap/zaptest"
)

// --- Test Helpers ---

// memDisk is an in-memory PageIO. When gate is non-nil every operation
// blocks until it can receive from gate.
type memDisk struct {
	mu      sync.Mutex
	pages   map[pagemanager.PageID][]byte
	gate    chan struct{}
	panicOn map[pagemanager.PageID]bool
	reads   atomic.Int64
	writes  atomic.Int64
}

func newMemDisk() *memDisk {
	return &memDisk{
		pages:   make(map[pagemanager.PageID][]byte),
		panicOn: make(map[pagemanager.PageID]bool),
	}
}

func (d *memDisk) wait() {
	if d.gate != nil {
		<-d.gate
	}
}

func (d *memDisk) ReadPage(pageID pagemanager.PageID, pageData []byte) error {
	d.wait()
	d.reads.Add(1)
	if d.panicOn[pageID] {
		panic(fmt.Sprintf("injected panic for page %d", pageID))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.pages[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d", flushmanager.ErrPageNotFound, pageID)
	}
	copy(pageData, data)
	return nil
}

func (d *memDisk) WritePage(pageID pagemanager.PageID, pageData []byte) error {
	d.wait()
	d.writes.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pages[pageID] = append([]byte(nil), pageData...)
	return nil
}

func filledPage(b byte) []byte {
	data := make([]byte, pagemanager.PageSize)
	for i := range data {
		data[i] = b
	}
	return data
}

func setupScheduler(t *testing.T, disk PageIO, workers int) *DiskScheduler {
	t.Helper()
	ds := NewDiskScheduler(disk, workers, zaptest.NewLogger(t), nil)
	t.Cleanup(ds.Shutdown)
	return ds
}

// --- Test Cases ---

func TestDiskScheduler_WriteThenReadWithDiskManager(t *testing.T) {
	dm, err := flushmanager.NewDiskManager(filepath.Join(t.TempDir(), "sched.db"), true, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer dm.Close()
	ds := setupScheduler(t, dm, 2)

	payload := filledPage(0xAB)
	require.NoError(t, ds.WritePage(1, payload))

	buf := make([]byte, pagemanager.PageSize)
	require.NoError(t, ds.ReadPage(1, buf))
	require.Equal(t, payload, buf)
}

func TestDiskScheduler_ReadFailureIsReportedAndWorkerSurvives(t *testing.T) {
	disk := newMemDisk()
	ds := setupScheduler(t, disk, 1)

	buf := filledPage(0x11)
	err := ds.ReadPage(42, buf)
	require.ErrorIs(t, err, flushmanager.ErrPageNotFound)
	require.Equal(t, filledPage(0x11), buf, "failed read must not touch the caller's buffer")

	require.NoError(t, ds.WritePage(42, filledPage(0x22)))
	require.NoError(t, ds.ReadPage(42, buf))
	require.Equal(t, filledPage(0x22), buf)
}

func TestDiskScheduler_PanicIsRecovered(t *testing.T) {
	disk := newMemDisk()
	disk.panicOn[13] = true
	ds := setupScheduler(t, disk, 1)

	err := ds.ReadPage(13, make([]byte, pagemanager.PageSize))
	require.ErrorIs(t, err, flushmanager.ErrWorkerPanic)

	require.NoError(t, ds.WritePage(14, filledPage(1)))
	require.Equal(t, 0, ds.InFlight())
}

func TestDiskScheduler_RejectsWrongBufferSize(t *testing.T) {
	ds := setupScheduler(t, newMemDisk(), 1)

	require.ErrorIs(t, ds.ReadPage(0, make([]byte, 12)), flushmanager.ErrInvalidPageData)
	require.ErrorIs(t, ds.WritePage(0, make([]byte, 12)), flushmanager.ErrInvalidPageData)
}

func TestDiskScheduler_ShutdownDrainsQueuedRequests(t *testing.T) {
	disk := newMemDisk()
	disk.gate = make(chan struct{})
	ds := NewDiskScheduler(disk, 1, zaptest.NewLogger(t), nil)

	const numRequests = 10
	errs := make(chan error, numRequests)
	for i := 0; i < numRequests; i++ {
		go func(id int) {
			errs <- ds.WritePage(pagemanager.PageID(id), filledPage(byte(id)))
		}(i)
	}

	// Every request is accepted before shutdown starts.
	require.Eventually(t, func() bool { return ds.InFlight() == numRequests }, time.Second, 5*time.Millisecond)

	shutdownDone := make(chan struct{})
	go func() {
		ds.Shutdown()
		close(shutdownDone)
	}()

	// New work is refused while the queue drains.
	require.Eventually(t, func() bool {
		ds.mu.Lock()
		defer ds.mu.Unlock()
		return ds.closed
	}, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, ds.WritePage(99, filledPage(9)), flushmanager.ErrSchedulerClosed)

	close(disk.gate)
	for i := 0; i < numRequests; i++ {
		require.NoError(t, <-errs)
	}
	<-shutdownDone

	require.Equal(t, int64(numRequests), disk.writes.Load())
	require.Equal(t, 0, ds.QueueDepth())
	require.Equal(t, 0, ds.InFlight())

	ds.Shutdown()
}

func TestDiskScheduler_ContextCancellationLeavesBufferUntouched(t *testing.T) {
	disk := newMemDisk()
	disk.pages[3] = filledPage(0x33)
	disk.gate = make(chan struct{})
	ds := NewDiskScheduler(disk, 1, zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	buf := filledPage(0x00)
	err := ds.ReadPageContext(ctx, 3, buf)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(disk.gate)
	ds.Shutdown()

	require.Equal(t, filledPage(0x00), buf)
	require.Equal(t, int64(1), disk.reads.Load(), "abandoned request still executes")
}

func TestDiskScheduler_CanceledContextIsNotEnqueued(t *testing.T) {
	disk := newMemDisk()
	ds := setupScheduler(t, disk, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, ds.WritePageContext(ctx, 1, filledPage(1)), context.Canceled)
	ds.Shutdown()
	require.Equal(t, int64(0), disk.writes.Load())
}

func TestDiskScheduler_ConcurrentCallers(t *testing.T) {
	disk := newMemDisk()
	ds := setupScheduler(t, disk, 4)

	const callers = 8
	const rounds = 25
	var wg sync.WaitGroup
	for c := 0; c < callers; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			pageID := pagemanager.PageID(c)
			buf := make([]byte, pagemanager.PageSize)
			for r := 0; r < rounds; r++ {
				payload := filledPage(byte(c*rounds + r))
				if err := ds.WritePage(pageID, payload); err != nil {
					t.Errorf("write page %d: %v", pageID, err)
					return
				}
				// Sequential calls from one caller are ordered.
				if err := ds.ReadPage(pageID, buf); err != nil {
					t.Errorf("read page %d: %v", pageID, err)
					return
				}
				if buf[0] != payload[0] {
					t.Errorf("page %d: read %x after writing %x", pageID, buf[0], payload[0])
					return
				}
			}
		}(c)
	}
	wg.Wait()

	require.Equal(t, int64(callers*rounds), disk.writes.Load())
	require.Equal(t, int64(callers*rounds), disk.reads.Load())
}
