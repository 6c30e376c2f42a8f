// Package diskscan implements the DiskScanner: a single walk of the target
// filesystem tree that reports every directory and regular file it visits.
package diskscan

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/archlocal/paccheck/internal/event"
)

// Options configures one walk.
type Options struct {
	// Root is the directory to walk.
	Root string
	// Exclude is the set of user-supplied paths to skip, already rebased
	// onto Root (see NewExclusionSet).
	Exclude map[string]bool
}

// NewExclusionSet strips a leading path separator from each raw exclude
// entry and rebases it onto root, per the CLI's -x/--exclude semantics.
func NewExclusionSet(root string, raw []string) map[string]bool {
	set := make(map[string]bool, len(raw))
	for _, entry := range raw {
		entry = strings.TrimLeft(entry, string(os.PathSeparator))
		set[filepath.Join(root, entry)] = true
	}
	return set
}

// Run walks opts.Root in pre-order, emitting DiskPwd for directories,
// DiskFile for regular files, and DiskError on per-entry access failures,
// then CompletedDiskScan once the walk ends. It runs synchronously; callers
// that want it concurrent with the rest of the pipeline should invoke it in
// its own goroutine — the "dedicated blocking-capable executor facility" the
// design calls for is simply that goroutine, since filepath.WalkDir's
// syscalls never block Go's scheduler the way a cooperative runtime would
// need a separate thread pool for them.
func Run(ctx context.Context, opts Options, events chan<- event.Event) {
	defer func() {
		select {
		case events <- event.Event{Kind: event.CompletedDiskScan}:
		case <-ctx.Done():
		}
	}()

	filepath.WalkDir(opts.Root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			send(ctx, events, event.Event{Kind: event.DiskError, Err: err})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != opts.Root && opts.Exclude[path] {
				return filepath.SkipDir
			}
			send(ctx, events, event.Event{Kind: event.DiskPwd, Path: path})
			return nil
		}

		info, err := d.Info()
		if err != nil {
			send(ctx, events, event.Event{Kind: event.DiskError, Err: err})
			return nil
		}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			// Deliberately silent-skip: comparing symlink targets
			// against the manifest is a future extension.
		case info.Mode().IsRegular():
			send(ctx, events, event.Event{Kind: event.DiskFile, Path: path})
		default:
			// device nodes, sockets, fifos: skip
		}
		return nil
	})
}

func send(ctx context.Context, events chan<- event.Event, ev event.Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
