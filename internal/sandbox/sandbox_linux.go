//go:build linux

package sandbox

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux capability constants from <linux/capability.h>. x/sys/unix has no
// high-level Capget/Capset wrapper, so this talks to the kernel directly
// via the raw syscall numbers, the same pair the capset(2)/capget(2) libc
// wrappers use.
const (
	linuxCapabilityVersion3 = 0x20080522
	capDACReadSearch        = 2
	numCapDataWords         = 2
)

type capHeader struct {
	version uint32
	pid     int32
}

type capData struct {
	effective   uint32
	permitted   uint32
	inheritable uint32
}

func drop() error {
	header := capHeader{version: linuxCapabilityVersion3}
	var data [numCapDataWords]capData

	if _, _, errno := unix.Syscall(unix.SYS_CAPGET,
		uintptr(unsafe.Pointer(&header)), uintptr(unsafe.Pointer(&data[0])), 0); errno != 0 {
		return fmt.Errorf("capget: %w", errno)
	}

	word, bit := capDACReadSearch/32, uint(capDACReadSearch%32)
	mask := ^(uint32(1) << bit)
	data[word].effective &= mask
	data[word].permitted &= mask

	if _, _, errno := unix.Syscall(unix.SYS_CAPSET,
		uintptr(unsafe.Pointer(&header)), uintptr(unsafe.Pointer(&data[0])), 0); errno != 0 {
		return fmt.Errorf("capset: %w", errno)
	}
	return nil
}
