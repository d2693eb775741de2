package memtable

import (
	"context"
	"fmt"

	diskscheduler "github.com/sushant-115/pagestore/core/write_engine/disk_scheduler"
	pagemanager "github.com/sushant-115/pagestore/core/write_engine/page_manager"
	"github.com/sushant-115/pagestore/core/write_engine/replacer"
	internaltelemetry "github.com/sushant-115/pagestore/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the construction parameters of a BufferPoolManager.
type Config struct {
	// PoolSize is the number of frames, fixed for the pool's lifetime.
	PoolSize int `yaml:"pool_size"`
	// DBFilePath is the data file. Its companion log file sits next to it.
	DBFilePath string `yaml:"db_file_path"`
	// Workers is the number of disk scheduler workers (0 = default).
	Workers int `yaml:"workers"`
	// Replacer names the eviction policy: "lru" (default) or "clock".
	Replacer string `yaml:"replacer"`
	// SyncWrites fsyncs the data file after every page write.
	SyncWrites bool `yaml:"sync_writes"`
}

func (c Config) validate() error {
	if c.PoolSize <= 0 {
		return fmt.Errorf("buffer pool size must be positive, got %d", c.PoolSize)
	}
	return nil
}

// Disk is the storage a BufferPoolManager runs on.
// *flushmanager.DiskManager implements it.
type Disk interface {
	diskscheduler.PageIO
	AllocatePage() (pagemanager.PageID, error)
	Snapshot(ctx context.Context, dstPath string, bytesPerSec int64) ([]byte, error)
	Sync() error
	Close() error
}

// Option customises a BufferPoolManager.
type Option func(*BufferPoolManager)

// WithMetrics records pool and scheduler activity on m.
func WithMetrics(m *internaltelemetry.StorageMetrics) Option {
	return func(bpm *BufferPoolManager) { bpm.metrics = m }
}

// WithTracer traces page loads and flushes.
func WithTracer(t trace.Tracer) Option {
	return func(bpm *BufferPoolManager) { bpm.tracer = t }
}

// WithReplacer overrides the policy named in Config.Replacer.
func WithReplacer(r replacer.Replacer) Option {
	return func(bpm *BufferPoolManager) { bpm.replacer = r }
}

// WithDisk runs the pool on d instead of opening Config.DBFilePath.
func WithDisk(d Disk) Option {
	return func(bpm *BufferPoolManager) { bpm.disk = d }
}
