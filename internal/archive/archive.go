// Package archive implements the ManifestFetcher: a pool of workers that
// download each installed package's upstream artifact, extract its
// .MTREE manifest, and emit the trusted digests it contains.
package archive

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/archlocal/paccheck/internal/event"
	"github.com/archlocal/paccheck/internal/logging"
	"github.com/archlocal/paccheck/internal/mtree"
	"github.com/archlocal/paccheck/internal/pkgdb"
)

// NumWorkers is the default size of the fetcher pool (N_HTTP in the
// component design).
const NumWorkers = 4

// extensions is the fixed, ordered set of compression extensions tried for
// each package artifact.
var extensions = []string{"zst", "xz"}

const baseURL = "https://archive.archlinux.org/packages/"

// metadataNames are .MTREE-adjacent package members that are never files
// tracked for digest verification.
var metadataNames = map[string]bool{
	"./.BUILDINFO": true,
	"./.PKGINFO":   true,
	"./.INSTALL":   true,
	"./.CHANGELOG": true,
}

var httpClient = &http.Client{
	Timeout: 2 * time.Minute,
}

var httpDo = httpClient.Do

// Options configures the fetcher pool.
type Options struct {
	// Root is the scan root that manifest paths (rooted at "./") are
	// rebased onto.
	Root string
	// Workers overrides NumWorkers when positive.
	Workers int
}

// Run starts Options.Workers (or NumWorkers) fetcher goroutines that drain
// pkgs and feed events until pkgs closes, then returns once every worker
// has exited.
func Run(ctx context.Context, opts Options, pkgs <-chan pkgdb.Package, events chan<- event.Event) {
	workers := opts.Workers
	if workers <= 0 {
		workers = NumWorkers
	}

	done := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			worker(ctx, opts.Root, pkgs, events)
		}()
	}
	for i := 0; i < workers; i++ {
		<-done
	}
}

func worker(ctx context.Context, root string, pkgs <-chan pkgdb.Package, events chan<- event.Event) {
	for pkg := range pkgs {
		fetchManifest(ctx, root, pkg, events)
		select {
		case events <- event.Event{Kind: event.PkgCompleted}:
		case <-ctx.Done():
			return
		}
	}
}

// fetchManifest tries each extension in turn until one produces a 2xx
// response, then extracts and emits its .MTREE entries. Once a response
// begins, it never falls through to the next extension even if extraction
// fails afterward: a 2xx is a commitment to that artifact, not an
// invitation to keep probing. It never returns an error itself: every
// failure is logged and the package simply contributes no trusted digests.
func fetchManifest(ctx context.Context, root string, pkg pkgdb.Package, events chan<- event.Event) {
	if pkg.Name == "" {
		return
	}
	for _, ext := range extensions {
		url := manifestURL(pkg, ext)
		ok, err := fetchOne(ctx, url, ext, root, pkg, events)
		if ok {
			if err != nil {
				logging.Warnf("archive: extracting %s: %v", url, err)
			}
			return
		}
		if err != nil {
			logging.Warnf("archive: fetching %s: %v", url, err)
		}
	}
	logging.Warnf("archive: no manifest found for %s-%s-%s", pkg.Name, pkg.Version, pkg.Arch)
}

func manifestURL(pkg pkgdb.Package, ext string) string {
	return fmt.Sprintf("%s%c/%s/%s-%s-%s.pkg.tar.%s",
		baseURL, pkg.Name[0], pkg.Name, pkg.Name, pkg.Version, pkg.Arch, ext)
}

// fetchOne issues the GET for one extension. ok is true only when a 2xx
// response was received; a 404 returns (false, nil) so the caller tries
// the next extension. Once ok is true the caller must not try another
// extension, even if err is also set.
func fetchOne(ctx context.Context, url, ext, root string, pkg pkgdb.Package, events chan<- event.Event) (ok bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := httpDo(req)
	if err != nil {
		return false, fmt.Errorf("cannot talk to archive: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		io.Copy(io.Discard, resp.Body)
		return false, fmt.Errorf("archive returned %s", resp.Status)
	}

	body, err := decompress(ext, resp.Body)
	if err != nil {
		return true, fmt.Errorf("cannot decompress artifact: %w", err)
	}

	return true, extractManifest(body, root, pkg, events)
}

func decompress(ext string, r io.Reader) (io.Reader, error) {
	switch ext {
	case "zst":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr, nil
	case "xz":
		return xz.NewReader(r)
	default:
		return nil, fmt.Errorf("unsupported extension %q", ext)
	}
}

// extractManifest iterates the tar stream until it finds the regular file
// named ".MTREE", decompresses it as gzip, and parses it line by line.
func extractManifest(r io.Reader, root string, pkg pkgdb.Package, events chan<- event.Event) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return fmt.Errorf("no .MTREE member in artifact for %s", pkg.Name)
		}
		if err != nil {
			return fmt.Errorf("reading package tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || hdr.Name != ".MTREE" {
			continue
		}

		gz, err := gzip.NewReader(tr)
		if err != nil {
			return fmt.Errorf("decompressing .MTREE: %w", err)
		}
		defer gz.Close()

		emitEntries(gz, root, events)
		return nil
	}
}

func emitEntries(r io.Reader, root string, events chan<- event.Event) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		entry, ok := mtree.Parse(line)
		if !ok {
			if typ, unknown := mtree.UnknownType(line); unknown {
				logging.Warnf("archive: unknown .MTREE type %q in line %q", typ, line)
			}
			continue
		}
		if entry.Kind != mtree.KindFile {
			continue
		}
		if metadataNames[entry.Path] {
			continue
		}
		if !strings.HasPrefix(entry.Path, "./") {
			logging.Warnf("archive: malformed .MTREE path %q, skipping", entry.Path)
			continue
		}

		events <- event.Event{
			Kind:   event.TrustedFile,
			Path:   rebase(root, entry.Path),
			Digest: entry.File.SHA256Digest,
		}
	}
}

// ProbeManifestURL returns the URL of the first extension whose artifact
// exists on the archive (a HEAD request returns 2xx), in the same
// zst-then-xz order fetchManifest tries. It returns ok=false if neither
// extension is present.
func ProbeManifestURL(ctx context.Context, pkg pkgdb.Package) (url string, ok bool, err error) {
	for _, ext := range extensions {
		candidate := manifestURL(pkg, ext)
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, candidate, nil)
		if err != nil {
			return "", false, err
		}
		resp, err := httpDo(req)
		if err != nil {
			return "", false, fmt.Errorf("cannot talk to archive: %w", err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return candidate, true, nil
		}
	}
	return "", false, nil
}

// rebase maps a manifest path rooted at "./" onto the scan root.
func rebase(root, path string) string {
	trimmed := strings.TrimPrefix(path, ".")
	return strings.TrimRight(root, "/") + trimmed
}
