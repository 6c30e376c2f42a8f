// Package event defines the single wire format carried on the bus that
// every pipeline component feeds and the coordinator alone drains. It is
// the Go rendering of a tagged union: one struct, one Kind field selecting
// which other fields are meaningful, rather than an interface hierarchy.
package event

// Kind selects which of an Event's fields are populated.
type Kind int

const (
	PkgQueued Kind = iota
	PkgCompleted
	TrustedFile
	DiskFile
	DiskPwd
	DiskError
	CompletedListInstalled
	CompletedDiskScan
	AvailableHasher
	HashPassed
	HashFlagged
)

// HashTask is the value used to fulfill a hasher's reply handle: the one
// (path, trusted digest) pair it should verify next.
type HashTask struct {
	Path      string
	DigestHex string
}

// Event is one entry on the bus. Only the fields relevant to Kind are set.
type Event struct {
	Kind Kind

	Path   string // DiskFile, DiskPwd, TrustedFile, HashPassed, HashFlagged, DiskError (when known)
	Digest string // TrustedFile

	Err error // DiskError

	// Hasher is the reply handle advertised by an idle hasher worker.
	// Sending a HashTask on it dispatches one verification; closing it
	// without sending retires the worker.
	Hasher chan HashTask // AvailableHasher
}
