// Package pkgdb enumerates the packages recorded in a pacman local package
// database: one directory per installed package under <root>/<dbpath>/local,
// each holding a "desc" file describing that package.
package pkgdb

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/archlocal/paccheck/internal/event"
	"github.com/archlocal/paccheck/internal/logging"
)

// Package is one installed package as recorded in the local database.
type Package struct {
	Name    string
	Version string
	Arch    string
}

// List walks <root>/<dbpath>/local, emitting PkgQueued on events and the
// Package itself on pkgs for every desc file found, then CompletedListInstalled
// when the walk ends. A catastrophic directory error stops the walk and is
// returned; per-file errors are logged and that package is skipped. If ctx
// is canceled the walk stops early, standing in for the "work channel
// closed" case in the original design — Go channels can't be closed from
// the receiving side, so cancellation is the idiomatic stand-in.
func List(ctx context.Context, root, dbpath string, events chan<- event.Event, pkgs chan<- Package) error {
	base := filepath.Join(root, dbpath, "local")
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		if d.Name() != "desc" {
			return nil
		}

		pkg, ok, perr := parseDescFile(path)
		if perr != nil {
			logging.Warnf("pkgdb: failed to read %s: %v", path, perr)
			return nil
		}
		if !ok {
			logging.Warnf("pkgdb: %s missing %%NAME%%/%%VERSION%%/%%ARCH%%, skipping", path)
			return nil
		}

		select {
		case events <- event.Event{Kind: event.PkgQueued}:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case pkgs <- pkg:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	select {
	case events <- event.Event{Kind: event.CompletedListInstalled}:
	case <-ctx.Done():
	}

	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func parseDescFile(path string) (Package, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Package{}, false, err
	}
	return parseDesc(string(data))
}

// parseDesc parses the section-separated contents of a desc file, per
// original_source's list_installed: sections are split on a blank line,
// the first two lines of each section are its %HEADER% line and its value
// line; any further lines in a section are ignored.
func parseDesc(content string) (Package, bool, error) {
	var name, version, arch string

	for _, section := range strings.Split(content, "\n\n") {
		lines := strings.Split(section, "\n")
		if len(lines) < 2 {
			continue
		}
		switch lines[0] {
		case "%NAME%":
			name = lines[1]
		case "%VERSION%":
			version = lines[1]
		case "%ARCH%":
			arch = lines[1]
		}
	}

	if name == "" || version == "" || arch == "" {
		return Package{}, false, nil
	}
	return Package{Name: name, Version: version, Arch: arch}, true, nil
}
