package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/sushant-115/pagestore/core/write_engine/memtable"
	pagemanager "github.com/sushant-115/pagestore/core/write_engine/page_manager"
)

var errExit = errors.New("exit")

// heldPage is a page the shell keeps pinned between commands.
type heldPage struct {
	page *pagemanager.Page
	pins int
}

// shell runs interactive commands against a buffer pool.
type shell struct {
	bpm  *memtable.BufferPoolManager
	out  io.Writer
	held map[pagemanager.PageID]*heldPage
}

func newShell(bpm *memtable.BufferPoolManager, out io.Writer) *shell {
	return &shell{bpm: bpm, out: out, held: make(map[pagemanager.PageID]*heldPage)}
}

var commandNames = []string{"fetch", "new", "unpin", "write", "dump", "flush", "flushall", "stats", "snapshot", "help", "exit"}

func (s *shell) run(args []string) error {
	if len(args) == 0 {
		return errors.New("no command provided")
	}

	switch strings.ToLower(args[0]) {
	case "fetch":
		id, err := pageArg(args, 1, "fetch <page_id>")
		if err != nil {
			return err
		}
		page, err := s.bpm.FetchPage(id)
		if err != nil {
			return err
		}
		s.hold(page)
		fmt.Fprintf(s.out, "page %d in frame %d, pin count %d\n", page.GetPageID(), page.GetFrameID(), page.GetPinCount())
	case "new":
		page, err := s.bpm.NewPage()
		if err != nil {
			return err
		}
		s.hold(page)
		fmt.Fprintf(s.out, "allocated page %d in frame %d\n", page.GetPageID(), page.GetFrameID())
	case "unpin":
		id, err := pageArg(args, 1, "unpin <page_id> [dirty]")
		if err != nil {
			return err
		}
		dirty := len(args) > 2 && strings.EqualFold(args[2], "dirty")
		return s.unpin(id, dirty)
	case "write":
		if len(args) < 3 {
			return errors.New("usage: write <page_id> <text>")
		}
		id, err := pageArg(args, 1, "write <page_id> <text>")
		if err != nil {
			return err
		}
		h, ok := s.held[id]
		if !ok {
			return fmt.Errorf("page %d is not pinned by this shell, fetch it first", id)
		}
		text := []byte(strings.Join(args[2:], " "))
		if len(text) > pagemanager.PageSize {
			text = text[:pagemanager.PageSize]
		}
		h.page.Lock()
		copy(h.page.GetData(), text)
		h.page.SetDirty(true)
		h.page.Unlock()
		fmt.Fprintf(s.out, "wrote %d bytes to page %d\n", len(text), id)
	case "dump":
		id, err := pageArg(args, 1, "dump <page_id> [bytes]")
		if err != nil {
			return err
		}
		h, ok := s.held[id]
		if !ok {
			return fmt.Errorf("page %d is not pinned by this shell, fetch it first", id)
		}
		n := 64
		if len(args) > 2 {
			if n, err = strconv.Atoi(args[2]); err != nil || n <= 0 || n > pagemanager.PageSize {
				return fmt.Errorf("invalid byte count %q", args[2])
			}
		}
		h.page.RLock()
		fmt.Fprint(s.out, hex.Dump(h.page.GetData()[:n]))
		h.page.RUnlock()
	case "flush":
		id, err := pageArg(args, 1, "flush <page_id>")
		if err != nil {
			return err
		}
		if err := s.bpm.FlushResidentPage(id); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "flushed page %d\n", id)
	case "flushall":
		if err := s.bpm.FlushAllPages(); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "flushed all dirty pages")
	case "stats":
		st := s.bpm.Stats()
		fmt.Fprintf(s.out, "frames: %d (resident %d, free %d, pinned %d, dirty %d)\n",
			st.PoolSize, st.Resident, st.Free, st.Pinned, st.Dirty)
		fmt.Fprintf(s.out, "hits: %d misses: %d evictions: %d writebacks: %d\n",
			st.Hits, st.Misses, st.Evictions, st.WriteBacks)
	case "snapshot":
		if len(args) < 2 {
			return errors.New("usage: snapshot <path> [bytes_per_sec]")
		}
		var bps int64
		if len(args) > 2 {
			v, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil || v < 0 {
				return fmt.Errorf("invalid rate %q", args[2])
			}
			bps = v
		}
		sum, err := s.bpm.Snapshot(context.Background(), args[1], bps)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "snapshot written to %s (sha256 %x)\n", args[1], sum)
	case "help":
		fmt.Fprintln(s.out, "Commands:")
		fmt.Fprintln(s.out, "  fetch <page_id>             pin a page, reading it from disk if needed")
		fmt.Fprintln(s.out, "  new                         allocate and pin a zeroed page")
		fmt.Fprintln(s.out, "  unpin <page_id> [dirty]     release one pin")
		fmt.Fprintln(s.out, "  write <page_id> <text>      overwrite the start of a pinned page")
		fmt.Fprintln(s.out, "  dump <page_id> [bytes]      hex dump a pinned page")
		fmt.Fprintln(s.out, "  flush <page_id>             write a resident page if dirty")
		fmt.Fprintln(s.out, "  flushall                    write every dirty page")
		fmt.Fprintln(s.out, "  stats")
		fmt.Fprintln(s.out, "  snapshot <path> [bytes/s]   copy the data file")
		fmt.Fprintln(s.out, "  help")
		fmt.Fprintln(s.out, "  exit / quit")
	case "exit", "quit":
		return errExit
	default:
		return fmt.Errorf("unknown command %q, type 'help' for a list of commands", args[0])
	}
	return nil
}

func (s *shell) hold(page *pagemanager.Page) {
	if h, ok := s.held[page.GetPageID()]; ok {
		h.pins++
		return
	}
	s.held[page.GetPageID()] = &heldPage{page: page, pins: 1}
}

func (s *shell) unpin(id pagemanager.PageID, dirty bool) error {
	if err := s.bpm.UnpinPage(id, dirty); err != nil {
		return err
	}
	if h, ok := s.held[id]; ok {
		if h.pins--; h.pins == 0 {
			delete(s.held, id)
		}
	}
	fmt.Fprintf(s.out, "unpinned page %d\n", id)
	return nil
}

// releaseAll drops every pin the shell still holds, in page order.
func (s *shell) releaseAll() error {
	ids := make([]pagemanager.PageID, 0, len(s.held))
	for id := range s.held {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var errs []error
	for _, id := range ids {
		for s.held[id] != nil {
			if err := s.unpin(id, false); err != nil {
				errs = append(errs, err)
				delete(s.held, id)
			}
		}
	}
	return errors.Join(errs...)
}

func pageArg(args []string, i int, usage string) (pagemanager.PageID, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("usage: %s", usage)
	}
	v, err := strconv.ParseUint(args[i], 10, 64)
	if err != nil || pagemanager.PageID(v) == pagemanager.InvalidPageID {
		return 0, fmt.Errorf("invalid page id %q", args[i])
	}
	return pagemanager.PageID(v), nil
}
