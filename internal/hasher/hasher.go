// Package hasher implements the Hasher pool: workers that advertise
// idleness to the coordinator and, once handed a (path, digest) pair,
// verify the file's content against the trusted SHA-256 digest.
package hasher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/archlocal/paccheck/internal/event"
)

// readBufferSize is the chunk size used while streaming a file through the
// hasher, per the component design.
const readBufferSize = 2048

// NumCPU is the default pool size when Options.Workers is unset.
func NumCPU() int {
	return runtime.NumCPU()
}

// Options configures the pool.
type Options struct {
	// Workers overrides NumCPU() when positive.
	Workers int
}

// Run starts the pool and blocks until every worker has exited, which
// happens once its reply handle is closed without a task — the
// coordinator's retirement signal — or ctx is canceled while it advertises.
func Run(ctx context.Context, opts Options, events chan<- event.Event) {
	workers := opts.Workers
	if workers <= 0 {
		workers = NumCPU()
	}

	done := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			worker(ctx, events)
		}()
	}
	for i := 0; i < workers; i++ {
		<-done
	}
}

func worker(ctx context.Context, events chan<- event.Event) {
	for {
		handle := make(chan event.HashTask, 1)
		select {
		case events <- event.Event{Kind: event.AvailableHasher, Hasher: handle}:
		case <-ctx.Done():
			return
		}

		task, ok := <-handle
		if !ok {
			// Retired: the coordinator closed the handle without
			// dispatching a task.
			return
		}

		verify(ctx, events, task)
	}
}

func verify(ctx context.Context, events chan<- event.Event, task event.HashTask) {
	wantDigest, err := hex.DecodeString(task.DigestHex)
	if err != nil {
		emit(ctx, events, event.Event{
			Kind: event.DiskError,
			Path: task.Path,
			Err:  fmt.Errorf("decoding trusted digest for %s: %w", task.Path, err),
		})
		return
	}

	gotDigest, err := hashFile(task.Path)
	if err != nil {
		emit(ctx, events, event.Event{
			Kind: event.DiskError,
			Path: task.Path,
			Err:  fmt.Errorf("hashing %s: %w", task.Path, err),
		})
		return
	}

	if !bytesEqual(gotDigest, wantDigest) {
		emit(ctx, events, event.Event{Kind: event.HashFlagged, Path: task.Path})
		return
	}
	emit(ctx, events, event.Event{Kind: event.HashPassed, Path: task.Path})
}

func hashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, readBufferSize)
	// Wrapping f hides *os.File's WriteTo, so the copy goes through buf.
	if _, err := io.CopyBuffer(h, struct{ io.Reader }{f}, buf); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func emit(ctx context.Context, events chan<- event.Event, ev event.Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
