// Package coordinator implements the single consumer of the pipeline's
// event bus: it matches disk files against trusted digests, dispatches
// hashing work to idle hasher handles, draws a live progress line, and
// produces the final report.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/archlocal/paccheck/internal/event"
	"github.com/archlocal/paccheck/internal/logging"
)

// Options configures a run.
type Options struct {
	// TickInterval overrides the default progress-redraw period (500ms,
	// or 3s when Verbose is set).
	TickInterval time.Duration
	Verbose      bool
	// Progress receives the live status line. A nil Progress disables it.
	Progress io.Writer
}

// diskErrorEntry pairs a disk error with the path it happened on, if any.
type diskErrorEntry struct {
	path string
	err  error
}

type coordinator struct {
	trustedDigest  map[string]string
	waitingForData map[string]bool

	waitingForHasher []event.HashTask
	availableHashers []chan event.HashTask

	totalPkgs      int
	completedPkgs  int
	filesPassed    int
	filesFlagged   map[string]bool
	diskErrors     []diskErrorEntry
	retiredHashers int
	currentDir     string

	listingDone  bool
	diskScanDone bool
}

// Report is the final, ordered accounting of one audit run.
type Report struct {
	NoSHA256    []string
	DiskErrors  []string
	WrongSHA256 []string

	TotalPackages  int
	FilesPassed    int
	RetiredHashers int
}

// Empty reports whether the run found nothing worth reporting.
func (r *Report) Empty() bool {
	return len(r.NoSHA256) == 0 && len(r.DiskErrors) == 0 && len(r.WrongSHA256) == 0
}

// WriteTo renders the report as the fixed three-section sequence of line
// records, paths rendered with debug-style quoting.
func (r *Report) WriteTo(w io.Writer) error {
	for _, p := range r.NoSHA256 {
		if _, err := fmt.Fprintf(w, "[NO SHA256] %s\n", strconv.Quote(p)); err != nil {
			return err
		}
	}
	for _, e := range r.DiskErrors {
		if _, err := fmt.Fprintf(w, "[DISK ERROR] %s\n", e); err != nil {
			return err
		}
	}
	for _, p := range r.WrongSHA256 {
		if _, err := fmt.Fprintf(w, "[WRONG SHA256] %s\n", strconv.Quote(p)); err != nil {
			return err
		}
	}
	return nil
}

// Run drains events until it closes (every producer has exited), matching
// disk files to trusted digests, dispatching and retiring hashers, and
// periodically redrawing the progress line. It returns the final Report.
func Run(ctx context.Context, events <-chan event.Event, opts Options) *Report {
	c := &coordinator{
		trustedDigest:  make(map[string]string),
		waitingForData: make(map[string]bool),
		filesFlagged:   make(map[string]bool),
	}

	interval := opts.TickInterval
	if interval == 0 {
		if opts.Verbose {
			interval = 3 * time.Second
		} else {
			interval = 500 * time.Millisecond
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				c.redraw(opts)
				return c.report()
			}
			c.handle(ev)
			c.dispatch()
			c.retire()
		case <-ticker.C:
			c.redraw(opts)
		case <-ctx.Done():
			return c.report()
		}
	}
}

// handle applies one event's matching-protocol effects.
func (c *coordinator) handle(ev event.Event) {
	switch ev.Kind {
	case event.PkgQueued:
		c.totalPkgs++

	case event.PkgCompleted:
		c.completedPkgs++

	case event.TrustedFile:
		p, h := ev.Path, ev.Digest
		if _, exists := c.trustedDigest[p]; exists {
			logging.Warnf("coordinator: duplicate trusted digest for %q, keeping first", p)
			return
		}
		if c.waitingForData[p] {
			delete(c.waitingForData, p)
			c.waitingForHasher = append(c.waitingForHasher, event.HashTask{Path: p, DigestHex: h})
		}
		c.trustedDigest[p] = h

	case event.DiskFile:
		p := ev.Path
		if h, ok := c.trustedDigest[p]; ok {
			c.waitingForHasher = append(c.waitingForHasher, event.HashTask{Path: p, DigestHex: h})
		} else {
			c.waitingForData[p] = true
		}

	case event.DiskPwd:
		c.currentDir = ev.Path

	case event.DiskError:
		c.diskErrors = append(c.diskErrors, diskErrorEntry{path: ev.Path, err: ev.Err})

	case event.CompletedListInstalled:
		c.listingDone = true

	case event.CompletedDiskScan:
		c.diskScanDone = true

	case event.AvailableHasher:
		c.availableHashers = append(c.availableHashers, ev.Hasher)

	case event.HashPassed:
		c.filesPassed++

	case event.HashFlagged:
		c.filesFlagged[ev.Path] = true
	}
}

// dispatch pairs queued hash tasks with idle hasher handles until one of
// the two FIFOs is exhausted.
func (c *coordinator) dispatch() {
	for len(c.waitingForHasher) > 0 && len(c.availableHashers) > 0 {
		task := c.waitingForHasher[0]
		c.waitingForHasher = c.waitingForHasher[1:]

		handle := c.availableHashers[0]
		c.availableHashers = c.availableHashers[1:]

		handle <- task
		close(handle)
	}
}

// retire drains idle hashers once no more work can ever arrive: the
// package listing and disk scan have both finished, every queued package
// has completed, and no task is waiting.
func (c *coordinator) retire() {
	for len(c.availableHashers) > 0 &&
		len(c.waitingForHasher) == 0 &&
		c.listingDone && c.diskScanDone &&
		c.completedPkgs == c.totalPkgs {

		handle := c.availableHashers[0]
		c.availableHashers = c.availableHashers[1:]
		close(handle)
		c.retiredHashers++
	}
}

func (c *coordinator) redraw(opts Options) {
	if opts.Progress == nil {
		return
	}
	line := fmt.Sprintf("pkgs %d/%d  files ok=%d flagged=%d  errors=%d  dir=%s",
		c.completedPkgs, c.totalPkgs, c.filesPassed, len(c.filesFlagged), len(c.diskErrors), c.currentDir)
	if opts.Verbose {
		logging.Infof("%s", line)
		return
	}
	fmt.Fprintf(opts.Progress, "\r%s", line)
}

func (c *coordinator) report() *Report {
	noSHA256 := make([]string, 0, len(c.waitingForData))
	for p := range c.waitingForData {
		noSHA256 = append(noSHA256, p)
	}
	sort.Strings(noSHA256)

	diskErrors := make([]string, len(c.diskErrors))
	for i, e := range c.diskErrors {
		if e.path != "" {
			diskErrors[i] = fmt.Sprintf("%s: %s", strconv.Quote(e.path), e.err)
		} else {
			diskErrors[i] = e.err.Error()
		}
	}

	wrongSHA256 := make([]string, 0, len(c.filesFlagged))
	for p := range c.filesFlagged {
		wrongSHA256 = append(wrongSHA256, p)
	}
	sort.Strings(wrongSHA256)

	return &Report{
		NoSHA256:       noSHA256,
		DiskErrors:     diskErrors,
		WrongSHA256:    wrongSHA256,
		TotalPackages:  c.totalPkgs,
		FilesPassed:    c.filesPassed,
		RetiredHashers: c.retiredHashers,
	}
}
