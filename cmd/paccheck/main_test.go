package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeArgs(args ...string) (restore func()) {
	old := os.Args
	os.Args = append([]string{"paccheck"}, args...)
	return func() { os.Args = old }
}

func resetStreams() (stdout, stderr *bytes.Buffer) {
	stdout, stderr = bytes.NewBuffer(nil), bytes.NewBuffer(nil)
	Stdout, Stderr = stdout, stderr
	return stdout, stderr
}

func tearDown() {
	Stdin, Stdout, Stderr = os.Stdin, os.Stdout, os.Stderr
	optionsData = options{}
}

func TestRunMissingPositionalArgIsError(t *testing.T) {
	defer tearDown()
	defer fakeArgs()()
	_, _ = resetStreams()

	err := run()
	require.Error(t, err)
}

func TestRunNoDiscrepanciesWritesCleanReport(t *testing.T) {
	defer tearDown()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "var/lib/pacman/local"), 0o755))

	defer fakeArgs(root, "-n", "1")()
	stdout, _ := resetStreams()

	err := run()
	require.NoError(t, err)
	require.Contains(t, stdout.String(), "no discrepancies found")
}

func TestRunWritesOutputFile(t *testing.T) {
	defer tearDown()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "var/lib/pacman/local"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "etc/mystery"), []byte("hi"), 0o644))

	outPath := filepath.Join(t.TempDir(), "report.txt")
	defer fakeArgs(root, "-n", "1", "-o", outPath)()
	resetStreams()

	err := run()
	require.NoError(t, err)

	contents, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Contains(t, string(contents), "NO SHA256")
}

func TestRunFatalSetupErrorOnUnwritableOutput(t *testing.T) {
	defer tearDown()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "var/lib/pacman/local"), 0o755))

	defer fakeArgs(root, "-o", filepath.Join(root, "no-such-dir", "report.txt"))()
	resetStreams()

	err := run()
	require.Error(t, err)
}

func TestListPkgsWithNoPackagesPrintsNothing(t *testing.T) {
	defer tearDown()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "var/lib/pacman/local"), 0o755))

	defer fakeArgs(root, "-L")()
	stdout, _ := resetStreams()

	err := run()
	require.NoError(t, err)
	require.Empty(t, stdout.String())
}
