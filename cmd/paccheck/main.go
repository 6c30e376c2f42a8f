package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"

	"github.com/jessevdk/go-flags"

	"github.com/archlocal/paccheck/internal/archive"
	"github.com/archlocal/paccheck/internal/audit"
	"github.com/archlocal/paccheck/internal/coordinator"
	"github.com/archlocal/paccheck/internal/event"
	"github.com/archlocal/paccheck/internal/logging"
	"github.com/archlocal/paccheck/internal/pkgdb"
	"github.com/archlocal/paccheck/internal/sandbox"
)

var (
	// Standard streams, redirected for testing.
	Stdin  io.Reader = os.Stdin
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

type options struct {
	Positional struct {
		Path string `positional-arg-name:"<path>" required:"yes" description:"root filesystem to audit"`
	} `positional-args:"yes"`

	DbPath      string   `short:"b" long:"dbpath" default:"var/lib/pacman" description:"package database path, relative to <path>"`
	Exclude     []string `short:"x" long:"exclude" description:"path to skip during the disk walk, repeatable"`
	Concurrency int      `short:"n" long:"concurrency" description:"hasher pool size (default: logical CPU count)"`
	ListPkgs    bool     `short:"L" long:"list-pkgs" description:"print one manifest URL per installed package instead of auditing"`
	Output      string   `short:"o" long:"output" description:"write the final report here instead of stdout"`
	Verbose     []bool   `short:"v" long:"verbose" description:"increase log verbosity, repeatable"`
}

var optionsData options

func Parser() *flags.Parser {
	parser := flags.NewParser(&optionsData, flags.Default)
	parser.ShortDescription = "Verify an installed Arch Linux package tree against upstream manifests"
	return parser
}

// exitStatus can be used in panic(&exitStatus{code}) to cause main to exit
// with a given code, for the cases where an error return isn't available.
type exitStatus struct {
	code int
}

func (e *exitStatus) Error() string {
	return fmt.Sprintf("internal error: exitStatus{%d} being handled as normal error", e.code)
}

func main() {
	defer func() {
		if v := recover(); v != nil {
			if e, ok := v.(*exitStatus); ok {
				os.Exit(e.code)
			}
			panic(v)
		}
	}()

	if err := run(); err != nil {
		fmt.Fprintf(Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	parser := Parser()
	_, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(Stdout, e.Message)
			return nil
		}
		return err
	}

	logging.SetLogger(log.New(Stderr, "", log.LstdFlags))
	infoEnabled := len(optionsData.Verbose) >= 1
	debugEnabled := len(optionsData.Verbose) >= 2
	logging.SetVerbosity(infoEnabled, debugEnabled)

	concurrency := optionsData.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	if err := sandbox.Drop(); err != nil {
		logging.Warnf("sandbox: could not drop privileges: %v", err)
	}

	out := Stdout
	if optionsData.Output != "" {
		f, err := os.Create(optionsData.Output)
		if err != nil {
			return fmt.Errorf("cannot open output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	ctx := context.Background()

	if optionsData.ListPkgs {
		return listPkgs(ctx, out)
	}

	// Progress stays non-nil in verbose mode too: redraw() switches the
	// line it writes from a carriage-return status line to structured
	// log lines, it doesn't stop writing.
	progress := Stderr

	report, err := audit.Run(ctx, audit.Options{
		Root:        optionsData.Positional.Path,
		DbPath:      optionsData.DbPath,
		Exclude:     optionsData.Exclude,
		Concurrency: concurrency,
		Verbose:     infoEnabled,
		Progress:    progress,
	})
	if err != nil {
		return err
	}
	if !infoEnabled {
		fmt.Fprintln(progress)
	}
	return writeReport(out, report)
}

// writeReport renders the final report to w, surfacing any flagged or
// untracked files as a non-fatal part of the output; per spec.md §6.1 a
// successful run exits 0 even when files were flagged.
func writeReport(w io.Writer, report *coordinator.Report) error {
	if report.Empty() {
		fmt.Fprintln(w, "no discrepancies found")
		return nil
	}
	return report.WriteTo(w)
}

// listPkgs implements -L/--list-pkgs: enumerate the local database and
// print the first manifest URL (zst, then xz) that the archive actually
// serves for each installed package, skipping the disk walk and hasher
// pool entirely.
func listPkgs(ctx context.Context, w io.Writer) error {
	events := make(chan event.Event, 1024)
	pkgs := make(chan pkgdb.Package, archive.NumWorkers)

	go func() {
		for range events {
		}
	}()

	listErr := make(chan error, 1)
	go func() {
		listErr <- pkgdb.List(ctx, optionsData.Positional.Path, optionsData.DbPath, events, pkgs)
		close(pkgs)
		close(events)
	}()

	for pkg := range pkgs {
		url, ok, err := archive.ProbeManifestURL(ctx, pkg)
		if err != nil {
			logging.Warnf("list-pkgs: probing %s: %v", pkg.Name, err)
			continue
		}
		if !ok {
			logging.Warnf("list-pkgs: no manifest found for %s-%s-%s", pkg.Name, pkg.Version, pkg.Arch)
			continue
		}
		fmt.Fprintln(w, url)
	}

	if err := <-listErr; err != nil {
		return fmt.Errorf("reading package database: %w", err)
	}
	return nil
}
