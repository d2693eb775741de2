package common

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/time/rate"
)

// chunkSize: size of each read/write chunk
const chunkSize = 1024 * 1024 // 1 MiB

var bufPool = sync.Pool{
	New: func() interface{} { return make([]byte, chunkSize) },
}

// CopyThrottled copies the first size bytes of src into a new file at
// dstPath, never exceeding bytesPerSec (0 means unthrottled). The copy is
// fsynced before returning. It returns the SHA-256 of the copied bytes.
func CopyThrottled(ctx context.Context, src io.ReaderAt, size int64, dstPath string, bytesPerSec int64) ([]byte, error) {
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open dst: %w", err)
	}
	defer dst.Close()

	var limiter *rate.Limiter
	if bytesPerSec > 0 {
		burst := chunkSize
		if bytesPerSec < int64(burst) {
			burst = int(bytesPerSec)
		}
		limiter = rate.NewLimiter(rate.Limit(bytesPerSec), burst)
	}

	buf := bufPool.Get().([]byte)
	defer bufPool.Put(buf)

	sum := sha256.New()
	var readOff int64
	for readOff < size {
		want := int64(len(buf))
		if remaining := size - readOff; remaining < want {
			want = remaining
		}
		if limiter != nil && want > int64(limiter.Burst()) {
			want = int64(limiter.Burst())
		}

		n, rerr := src.ReadAt(buf[:want], readOff)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return nil, fmt.Errorf("rate limiter error: %w", err)
				}
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return nil, fmt.Errorf("write error: %w", err)
			}
			sum.Write(buf[:n])
			readOff += int64(n)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read error: %w", rerr)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	if err := dst.Sync(); err != nil {
		return nil, fmt.Errorf("sync error: %w", err)
	}
	return sum.Sum(nil), nil
}
