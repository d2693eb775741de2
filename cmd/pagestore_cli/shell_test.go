package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/pagestore/core/write_engine/memtable"
	"go.uber.org/zap/zaptest"
)

func newTestShell(t *testing.T, poolSize int) (*shell, *bytes.Buffer) {
	t.Helper()
	return newTestShellAt(t, poolSize, filepath.Join(t.TempDir(), "shell.db"))
}

func newTestShellAt(t *testing.T, poolSize int, dbPath string) (*shell, *bytes.Buffer) {
	t.Helper()
	bpm, err := memtable.NewBufferPoolManager(memtable.Config{
		PoolSize:   poolSize,
		DBFilePath: dbPath,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bpm.Close() })

	var out bytes.Buffer
	return newShell(bpm, &out), &out
}

func exec(t *testing.T, sh *shell, line string) {
	t.Helper()
	require.NoError(t, sh.run(strings.Fields(line)), line)
}

func TestShell_WriteUnpinFetch(t *testing.T) {
	sh, out := newTestShell(t, 1)

	exec(t, sh, "new")
	require.Contains(t, out.String(), "allocated page 0")
	exec(t, sh, "write 0 hello pages")
	exec(t, sh, "unpin 0")
	require.Empty(t, sh.held)

	// Page 1 evicts page 0, which must be written back on the way out.
	exec(t, sh, "new")
	exec(t, sh, "unpin 1")
	exec(t, sh, "fetch 0")

	out.Reset()
	exec(t, sh, "dump 0 16")
	require.Contains(t, out.String(), "hello pages")

	out.Reset()
	exec(t, sh, "stats")
	require.Contains(t, out.String(), "writebacks: 1")
}

func TestShell_WriteThenFlushReachesDisk(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "shell.db")
	sh, out := newTestShellAt(t, 2, dbPath)

	exec(t, sh, "new")
	exec(t, sh, "write 0 hello")
	require.Equal(t, 1, sh.bpm.Stats().Dirty)

	exec(t, sh, "flush 0")
	require.Contains(t, out.String(), "flushed page 0")
	stats := sh.bpm.Stats()
	require.Equal(t, 0, stats.Dirty)
	require.Equal(t, 1, stats.Pinned)

	raw, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), raw[:5])

	// flushall and snapshot see writes made while the page is still pinned.
	exec(t, sh, "write 0 world")
	exec(t, sh, "flushall")
	raw, err = os.ReadFile(dbPath)
	require.NoError(t, err)
	require.Equal(t, []byte("world"), raw[:5])

	exec(t, sh, "write 0 snaps")
	dst := filepath.Join(t.TempDir(), "snap.db")
	exec(t, sh, "snapshot "+dst)
	copied, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, []byte("snaps"), copied[:5])
}

func TestShell_Errors(t *testing.T) {
	sh, _ := newTestShell(t, 1)

	require.Error(t, sh.run(nil))
	require.Error(t, sh.run([]string{"bogus"}))
	require.Error(t, sh.run([]string{"fetch"}))
	require.Error(t, sh.run([]string{"fetch", "x"}))
	require.Error(t, sh.run([]string{"write", "0", "data"}))
	require.Error(t, sh.run([]string{"unpin", "3"}))
	require.ErrorIs(t, sh.run([]string{"exit"}), errExit)
}

func TestShell_ReleaseAll(t *testing.T) {
	sh, _ := newTestShell(t, 2)

	exec(t, sh, "new")
	exec(t, sh, "fetch 0")
	exec(t, sh, "new")
	require.Equal(t, 2, sh.bpm.Stats().Pinned)

	require.NoError(t, sh.releaseAll())
	require.Empty(t, sh.held)
	require.Equal(t, 0, sh.bpm.Stats().Pinned)
}

func TestShell_SnapshotAndFlush(t *testing.T) {
	sh, out := newTestShell(t, 2)

	exec(t, sh, "new")
	exec(t, sh, "write 0 abc")
	exec(t, sh, "unpin 0")
	exec(t, sh, "flush 0")
	exec(t, sh, "flushall")

	dst := filepath.Join(t.TempDir(), "snap.db")
	exec(t, sh, "snapshot "+dst)
	require.Contains(t, out.String(), "sha256")
	require.FileExists(t, dst)
}
