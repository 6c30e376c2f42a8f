package coordinator_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/archlocal/paccheck/internal/coordinator"
	"github.com/archlocal/paccheck/internal/event"
	"github.com/archlocal/paccheck/internal/testutil"
)

// simulateHasher plays the hasher-pool protocol against the coordinator
// using an in-memory path -> content map instead of real files, so these
// tests stay independent of the filesystem.
func simulateHasher(events chan event.Event, contents map[string][]byte, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		handle := make(chan event.HashTask, 1)
		events <- event.Event{Kind: event.AvailableHasher, Hasher: handle}

		task, ok := <-handle
		if !ok {
			return
		}

		sum := sha256.Sum256(contents[task.Path])
		got := hex.EncodeToString(sum[:])
		if got == task.DigestHex {
			events <- event.Event{Kind: event.HashPassed, Path: task.Path}
		} else {
			events <- event.Event{Kind: event.HashFlagged, Path: task.Path}
		}
	}
}

func digestOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

type scenarioEvent = event.Event

func runScenario(t *testing.T, numHashers int, contents map[string][]byte, producerEvents []scenarioEvent) *coordinator.Report {
	t.Helper()

	events := make(chan event.Event)
	var hasherWG sync.WaitGroup
	hasherWG.Add(numHashers)
	for i := 0; i < numHashers; i++ {
		go simulateHasher(events, contents, &hasherWG)
	}

	reportCh := make(chan *coordinator.Report, 1)
	go func() {
		reportCh <- coordinator.Run(context.Background(), events, coordinator.Options{})
	}()

	for _, ev := range producerEvents {
		events <- ev
	}

	done := make(chan struct{})
	go func() {
		hasherWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("hashers never retired")
	}
	close(events)

	select {
	case r := <-reportCh:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator never returned a report")
		return nil
	}
}

func TestHappyPath(t *testing.T) {
	contents := map[string][]byte{"/usr/bin/foo": []byte("hello\n")}
	events := []scenarioEvent{
		{Kind: event.PkgQueued},
		{Kind: event.TrustedFile, Path: "/usr/bin/foo", Digest: digestOf("hello\n")},
		{Kind: event.PkgCompleted},
		{Kind: event.CompletedListInstalled},
		{Kind: event.DiskFile, Path: "/usr/bin/foo"},
		{Kind: event.CompletedDiskScan},
	}

	r := runScenario(t, 2, contents, events)
	require.Equal(t, 1, r.FilesPassed)
	require.Empty(t, r.WrongSHA256)
	require.Empty(t, r.NoSHA256)
	require.True(t, r.Empty())
	require.Equal(t, 2, r.RetiredHashers)
}

func TestTampered(t *testing.T) {
	contents := map[string][]byte{"/usr/bin/foo": []byte("HELLO\n")}
	events := []scenarioEvent{
		{Kind: event.PkgQueued},
		{Kind: event.TrustedFile, Path: "/usr/bin/foo", Digest: digestOf("hello\n")},
		{Kind: event.PkgCompleted},
		{Kind: event.CompletedListInstalled},
		{Kind: event.DiskFile, Path: "/usr/bin/foo"},
		{Kind: event.CompletedDiskScan},
	}

	r := runScenario(t, 1, contents, events)
	require.Equal(t, 0, r.FilesPassed)
	require.Equal(t, []string{"/usr/bin/foo"}, r.WrongSHA256)
	require.Contains(t, mustRender(t, r), `[WRONG SHA256] "/usr/bin/foo"`)
}

func TestUntracked(t *testing.T) {
	events := []scenarioEvent{
		{Kind: event.CompletedListInstalled},
		{Kind: event.DiskFile, Path: "/etc/evil"},
		{Kind: event.CompletedDiskScan},
	}

	r := runScenario(t, 1, nil, events)
	require.Equal(t, []string{"/etc/evil"}, r.NoSHA256)
	require.Contains(t, mustRender(t, r), `[NO SHA256] "/etc/evil"`)
}

func TestMissingArchiveArtifactStillCompletesAndReportsUntracked(t *testing.T) {
	events := []scenarioEvent{
		{Kind: event.PkgQueued},
		{Kind: event.PkgCompleted}, // both extensions 404'd; no TrustedFile emitted
		{Kind: event.CompletedListInstalled},
		{Kind: event.DiskFile, Path: "/usr/bin/bar"},
		{Kind: event.CompletedDiskScan},
	}

	r := runScenario(t, 1, nil, events)
	require.Equal(t, 1, r.TotalPackages)
	require.Equal(t, []string{"/usr/bin/bar"}, r.NoSHA256)
}

func TestDuplicateTrustedEntryKeepsFirst(t *testing.T) {
	contents := map[string][]byte{"/usr/share/licenses/common/LICENSE": []byte("license-a")}
	events := []scenarioEvent{
		{Kind: event.PkgQueued},
		{Kind: event.PkgQueued},
		{Kind: event.TrustedFile, Path: "/usr/share/licenses/common/LICENSE", Digest: digestOf("license-a")},
		{Kind: event.TrustedFile, Path: "/usr/share/licenses/common/LICENSE", Digest: digestOf("license-b")},
		{Kind: event.PkgCompleted},
		{Kind: event.PkgCompleted},
		{Kind: event.CompletedListInstalled},
		{Kind: event.DiskFile, Path: "/usr/share/licenses/common/LICENSE"},
		{Kind: event.CompletedDiskScan},
	}

	r := runScenario(t, 1, contents, events)
	require.Equal(t, 1, r.FilesPassed)
	require.Empty(t, r.WrongSHA256)
}

func TestOrderIndependenceAcrossPermutations(t *testing.T) {
	contents := map[string][]byte{"/a": []byte("a-content"), "/b": []byte("b-content")}

	base := []scenarioEvent{
		{Kind: event.PkgQueued},
		{Kind: event.TrustedFile, Path: "/a", Digest: digestOf("a-content")},
		{Kind: event.DiskFile, Path: "/a"},
		{Kind: event.DiskFile, Path: "/b"},
		{Kind: event.TrustedFile, Path: "/b", Digest: digestOf("b-content")},
		{Kind: event.PkgCompleted},
	}

	for _, perm := range testutil.Permutations(base) {
		events := append([]scenarioEvent{}, perm...)
		events = append(events, scenarioEvent{Kind: event.CompletedListInstalled}, scenarioEvent{Kind: event.CompletedDiskScan})

		r := runScenario(t, 2, contents, events)
		require.Equal(t, 2, r.FilesPassed, "permutation: %v", perm)
		require.Empty(t, r.WrongSHA256)
		require.Empty(t, r.NoSHA256)
	}
}

func mustRender(t *testing.T, r *coordinator.Report) string {
	t.Helper()
	var buf strings.Builder
	require.NoError(t, r.WriteTo(&buf))
	return buf.String()
}
