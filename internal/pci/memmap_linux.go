//go:build linux

package pci

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const devMem = "/dev/mem"

// HostMap is a region's memory window mapped into process address space.
type HostMap struct {
	data []byte
}

// mapPhysical maps size bytes of physical memory at physAddr through
// /dev/mem, read+write, shared. A permission error is returned unwrapped so
// the caller can tell it apart from any other mapping failure (see
// pcierr.PermissionDenied vs pcierr.MappingFailed).
func mapPhysical(physAddr, size uint64) (*HostMap, error) {
	f, err := os.OpenFile(devMem, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := unix.Mmap(int(f.Fd()), int64(physAddr), int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &HostMap{data: data}, nil
}

// unmap releases the mapping. Safe to call on a nil *HostMap.
func (m *HostMap) unmap() error {
	if m == nil || m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}

func (m *HostMap) String() string {
	return fmt.Sprintf("HostMap{%d bytes}", len(m.data))
}
