package common

import (
	"bytes"
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopyThrottled_CopiesPrefix(t *testing.T) {
	src := bytes.Repeat([]byte("pagestore"), 1000)
	dst := filepath.Join(t.TempDir(), "copy")

	sum, err := CopyThrottled(context.Background(), bytes.NewReader(src), 4096, dst, 0)
	require.NoError(t, err)

	copied, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, src[:4096], copied)
	expected := sha256.Sum256(src[:4096])
	require.Equal(t, expected[:], sum)
}

func TestCopyThrottled_Throttled(t *testing.T) {
	src := bytes.Repeat([]byte{7}, 2048)
	dst := filepath.Join(t.TempDir(), "copy")

	// A rate larger than the input keeps the test fast but exercises the
	// limiter with a burst below the chunk size.
	_, err := CopyThrottled(context.Background(), bytes.NewReader(src), int64(len(src)), dst, 1<<20-1)
	require.NoError(t, err)

	copied, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, src, copied)
}

func TestCopyThrottled_ShortSource(t *testing.T) {
	src := []byte("short")
	dst := filepath.Join(t.TempDir(), "copy")

	_, err := CopyThrottled(context.Background(), bytes.NewReader(src), 4096, dst, 0)
	require.NoError(t, err)

	copied, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, src, copied)
}

func TestCopyThrottled_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CopyThrottled(ctx, bytes.NewReader(make([]byte, 10)), 10, filepath.Join(t.TempDir(), "copy"), 5)
	require.ErrorIs(t, err, context.Canceled)
}
