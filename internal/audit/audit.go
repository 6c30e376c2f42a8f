// Package audit wires DbLister, ManifestFetcher, DiskScanner, the Hasher
// pool and the Coordinator into a single run.
package audit

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/archlocal/paccheck/internal/archive"
	"github.com/archlocal/paccheck/internal/coordinator"
	"github.com/archlocal/paccheck/internal/diskscan"
	"github.com/archlocal/paccheck/internal/event"
	"github.com/archlocal/paccheck/internal/hasher"
	"github.com/archlocal/paccheck/internal/pkgdb"
)

// Options configures one audit run.
type Options struct {
	// Root is the tree being audited.
	Root string
	// DbPath is the pacman local database path, relative to Root.
	DbPath string
	// Exclude is the raw --exclude list, rebased onto Root before the walk.
	Exclude []string
	// Concurrency overrides the hasher pool size; 0 means one per CPU.
	Concurrency int
	Verbose     bool
	// Progress receives the live status line; nil disables it.
	Progress io.Writer
}

// busCapacity stands in for the design's unbounded event bus: per-event
// memory is small and bounded by the installed-file count, so a large
// buffer keeps producers from ever blocking on the coordinator.
const busCapacity = 1 << 16

// Run starts every component and blocks until the audit completes,
// returning the final report. A non-nil error means a fatal setup failure
// (the package database root could not be read); the report is still
// returned so far as it could be assembled.
func Run(ctx context.Context, opts Options) (*coordinator.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan event.Event, busCapacity)
	pkgs := make(chan pkgdb.Package, archive.NumWorkers*2)

	var wg sync.WaitGroup
	var listErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		listErr = pkgdb.List(ctx, opts.Root, opts.DbPath, events, pkgs)
		close(pkgs)
		if listErr != nil {
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		archive.Run(ctx, archive.Options{Root: opts.Root}, pkgs, events)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		diskscan.Run(ctx, diskscan.Options{
			Root:    opts.Root,
			Exclude: diskscan.NewExclusionSet(opts.Root, opts.Exclude),
		}, events)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		hasher.Run(ctx, hasher.Options{Workers: opts.Concurrency}, events)
	}()

	go func() {
		wg.Wait()
		close(events)
	}()

	report := coordinator.Run(ctx, events, coordinator.Options{
		Verbose:  opts.Verbose,
		Progress: opts.Progress,
	})

	if listErr != nil {
		return report, fmt.Errorf("reading package database: %w", listErr)
	}
	return report, nil
}
