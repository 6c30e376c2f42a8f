// Package sandbox drops filesystem-read capabilities before the scan
// touches the target tree.
package sandbox

// Drop removes CAP_DAC_READ_SEARCH from the process's effective and
// permitted capability sets. On platforms without that capability concept
// it is a no-op.
func Drop() error {
	return drop()
}
