package flushmanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sushant-115/pagestore/core/storage_engine/common"
	pagemanager "github.com/sushant-115/pagestore/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// --- DiskManager ---

// DiskManager performs fixed-size page I/O against a single data file.
// Page i occupies bytes [i*PageSize, (i+1)*PageSize). There is no header and
// nothing but page bytes is stored on disk.
//
// A companion log file (same path, extension replaced by ".log") is opened
// alongside the data file and kept open. It is reserved for a write-ahead log
// and is never read or written here.
//
// All I/O goes through one mutex; the manager has no internal parallelism.
type DiskManager struct {
	filePath    string
	logFilePath string
	file        *os.File
	logFile     *os.File
	syncWrites  bool
	mu          sync.Mutex
	logger      *zap.Logger
}

// LogFilePathFor returns the companion log file path for a data file path.
func LogFilePathFor(filePath string) string {
	ext := filepath.Ext(filePath)
	return strings.TrimSuffix(filePath, ext) + ".log"
}

// NewDiskManager opens (creating if needed) the data file and its companion
// log file. When syncWrites is set every WritePage is followed by an fsync;
// otherwise a write is only guaranteed visible to subsequent reads.
func NewDiskManager(filePath string, syncWrites bool, logger *zap.Logger) (*DiskManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logFilePath := LogFilePathFor(filePath)
	if logFilePath == filePath {
		return nil, fmt.Errorf("%w: data file %s collides with its companion log file", ErrFileNotOpen, filePath)
	}

	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, fmt.Errorf("%w: opening data file %s: %v", ErrFileNotOpen, filePath, err)
	}
	logFile, err := os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: opening log file %s: %v", ErrFileNotOpen, logFilePath, err)
	}

	dm := &DiskManager{
		filePath:    filePath,
		logFilePath: logFilePath,
		file:        file,
		logFile:     logFile,
		syncWrites:  syncWrites,
		logger:      logger.Named("disk_manager"),
	}
	dm.logger.Info("Opened data file",
		zap.String("path", filePath),
		zap.String("log_path", logFilePath),
		zap.Bool("sync_writes", syncWrites))
	return dm, nil
}

// FilePath returns the data file path.
func (dm *DiskManager) FilePath() string { return dm.filePath }

// LogFilePath returns the companion log file path.
func (dm *DiskManager) LogFilePath() string { return dm.logFilePath }

func checkPageBuffer(pageData []byte) error {
	if len(pageData) != pagemanager.PageSize {
		return fmt.Errorf("%w: page data buffer size (%d) != page size (%d)", ErrInvalidPageData, len(pageData), pagemanager.PageSize)
	}
	return nil
}

// ReadPage reads a page's data from disk into pageData, which must be exactly
// PageSize bytes. A page whose offset lies past the end of the file fails
// with ErrCouldNotRead (which also matches ErrPageNotFound); a page that
// cannot be read in full fails with ErrPageNotFound. The buffer is not
// zero-padded on failure and its contents are then unspecified.
func (dm *DiskManager) ReadPage(pageID pagemanager.PageID, pageData []byte) error {
	if err := checkPageBuffer(pageData); err != nil {
		return err
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileNotOpen
	}

	offset, ok := pageID.Offset()
	if !ok {
		return fmt.Errorf("%w: %w: page %d is beyond the largest addressable page %d", ErrCouldNotRead, ErrPageNotFound, pageID, pagemanager.MaxPageID)
	}
	fi, err := dm.file.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", ErrIO, dm.filePath, err)
	}
	if fi.Size() < offset {
		return fmt.Errorf("%w: %w: page %d at offset %d, file size %d", ErrCouldNotRead, ErrPageNotFound, pageID, offset, fi.Size())
	}

	bytesRead, err := dm.file.ReadAt(pageData, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: reading page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	if bytesRead < pagemanager.PageSize {
		return fmt.Errorf("%w: short read for page %d, expected %d, got %d", ErrPageNotFound, pageID, pagemanager.PageSize, bytesRead)
	}
	return nil
}

// WritePage writes pageData, exactly PageSize bytes, at pageID's offset.
func (dm *DiskManager) WritePage(pageID pagemanager.PageID, pageData []byte) error {
	if err := checkPageBuffer(pageData); err != nil {
		return err
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileNotOpen
	}
	return dm.writePageLocked(pageID, pageData)
}

func (dm *DiskManager) writePageLocked(pageID pagemanager.PageID, pageData []byte) error {
	offset, ok := pageID.Offset()
	if !ok {
		return fmt.Errorf("%w: page %d is beyond the largest addressable page %d", ErrSeek, pageID, pagemanager.MaxPageID)
	}
	n, err := dm.file.WriteAt(pageData, offset)
	if err != nil {
		return fmt.Errorf("%w: writing page %d at offset %d: %v", ErrCouldNotWrite, pageID, offset, err)
	}
	if n != pagemanager.PageSize {
		return fmt.Errorf("%w: short write for page %d, expected %d, wrote %d", ErrCouldNotWrite, pageID, pagemanager.PageSize, n)
	}
	if dm.syncWrites {
		if err := dm.file.Sync(); err != nil {
			return fmt.Errorf("%w: syncing page %d: %v", ErrCouldNotWrite, pageID, err)
		}
	}
	return nil
}

// AllocatePage extends the file by one zeroed page and returns its id. A
// trailing partial page, if any, is skipped.
func (dm *DiskManager) AllocatePage() (pagemanager.PageID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return pagemanager.InvalidPageID, ErrFileNotOpen
	}
	fi, err := dm.file.Stat()
	if err != nil {
		return pagemanager.InvalidPageID, fmt.Errorf("%w: stat %s: %v", ErrIO, dm.filePath, err)
	}
	newPageID := pagemanager.PageID((fi.Size() + pagemanager.PageSize - 1) / pagemanager.PageSize)
	if err := dm.writePageLocked(newPageID, make([]byte, pagemanager.PageSize)); err != nil {
		return pagemanager.InvalidPageID, fmt.Errorf("extending file for new page %d: %w", newPageID, err)
	}
	dm.logger.Debug("Allocated page", zap.Uint64("page_id", uint64(newPageID)))
	return newPageID, nil
}

// NumPages returns the number of complete pages in the data file.
func (dm *DiskManager) NumPages() (uint64, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return 0, ErrFileNotOpen
	}
	fi, err := dm.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", ErrIO, dm.filePath, err)
	}
	return uint64(fi.Size()) / pagemanager.PageSize, nil
}

// Snapshot copies the data file to dstPath at no more than bytesPerSec
// (0 = unthrottled). Page I/O is blocked for the duration of the copy so the
// snapshot is point-in-time. It returns the SHA-256 of the copy.
func (dm *DiskManager) Snapshot(ctx context.Context, dstPath string, bytesPerSec int64) ([]byte, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return nil, ErrFileNotOpen
	}
	fi, err := dm.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrIO, dm.filePath, err)
	}
	sum, err := common.CopyThrottled(ctx, dm.file, fi.Size(), dstPath, bytesPerSec)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot to %s: %v", ErrIO, dstPath, err)
	}
	dm.logger.Info("Snapshot written", zap.String("dst", dstPath), zap.Int64("bytes", fi.Size()))
	return sum, nil
}

// Sync flushes all buffered data to disk.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileNotOpen
	}
	if err := dm.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %v", ErrIO, dm.filePath, err)
	}
	return nil
}

// Close syncs and closes both files. Closing twice is a no-op.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return nil
	}
	var errs []error
	if err := dm.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync %s: %w", dm.filePath, err))
	}
	if err := dm.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", dm.filePath, err))
	}
	if err := dm.logFile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", dm.logFilePath, err))
	}
	dm.file = nil
	dm.logFile = nil
	dm.logger.Info("Closed data file", zap.String("path", dm.filePath))
	return errors.Join(errs...)
}
