// Device construction and BAR probing: the "hard core" of this package.
// ConfigBackend and IOBackend are satisfied by *ConfigPort/*ioport.Ports for
// real hardware, and by small in-package test doubles for the mocked
// scenarios this component is specified against.
package pci

import (
	"encoding/binary"

	"github.com/sercanarga/pcifuzz/internal/ioport"
	"github.com/sercanarga/pcifuzz/internal/pcierr"
)

// ConfigBackend is the configuration-space access surface a Device needs.
// *ConfigPort implements it against real hardware.
type ConfigBackend interface {
	CfgRead8(o uint8) uint8
	CfgRead16(o uint8) uint16
	CfgRead32(o uint8) uint32
	CfgWrite8(o uint8, v uint8)
	CfgWrite16(o uint8, v uint16)
	CfgWrite32(o uint8, v uint32)
}

// IOBackend is the port-I/O access surface a Device needs for I/O regions.
// *ioport.Ports implements it against real hardware.
type IOBackend interface {
	In8(port ioport.Port) uint8
	In16(port ioport.Port) uint16
	In32(port ioport.Port) uint32
	Out8(port ioport.Port, v uint8)
	Out16(port ioport.Port, v uint16)
	Out32(port ioport.Port, v uint32)
}

// Mapping is a region's memory window mapped into process address space.
// *HostMap implements it against /dev/mem; tests supply a plain byte slice.
type Mapping interface {
	Bytes() []byte
	Unmap() error
}

func (m *HostMap) Bytes() []byte { return m.data }
func (m *HostMap) Unmap() error  { return m.unmap() }

// MapFunc maps size bytes of physical memory at physAddr. NewDevice uses
// mapPhysical (/dev/mem) when given a nil MapFunc; tests substitute a fake.
type MapFunc func(physAddr, size uint64) (Mapping, error)

// Region is one BAR-derived window: a port-I/O range or a mapped (or
// mapping-failed) physical memory range.
type Region struct {
	BaseAddress uint64
	Size        uint64
	IsIO        bool
	Is64        bool
	mapping     Mapping // nil for I/O regions and for regions that failed to map
}

// IsMapped reports whether this is a memory region with a live mapping.
func (r *Region) IsMapped() bool { return !r.IsIO && r.mapping != nil }

// Device is one probed PCI device: its identity, and the region array
// derived from BAR sizing (§4.3 of the design).
type Device struct {
	Bus, Func uint8
	Dev       uint8

	VendorID   uint16
	DeviceID   uint16
	ClassCode  uint32 // 24 bits: base<<16 | sub<<8 | progif
	HeaderType uint8
	NumRegions int // 6, 2, or 1, from header_type & 0x7F

	Regions []Region

	cfg ConfigBackend
	io  IOBackend
}

// slotsForHeaderLayout maps the low 7 bits of header_type to the BAR slot
// budget: 0 (normal) -> 6, 1 (PCI-PCI bridge) -> 2, 2 (CardBus bridge) -> 1.
func slotsForHeaderLayout(layout uint8) (int, bool) {
	switch layout {
	case 0:
		return 6, true
	case 1:
		return 2, true
	case 2:
		return 1, true
	default:
		return 0, false
	}
}

// NewDevice probes (bus, dev, fn) over cfg/io and, for memory BARs, mapFn.
// A nil mapFn defaults to /dev/mem via mapPhysical.
func NewDevice(cfg ConfigBackend, io IOBackend, mapFn MapFunc, bus, dev, fn int) (*Device, error) {
	const op = "pci.NewDevice"

	if bus < 0 || bus > 255 || dev < 0 || dev > 31 || fn < 0 || fn > 7 {
		return nil, pcierr.New(op, pcierr.InvalidArgument, nil)
	}
	if mapFn == nil {
		mapFn = func(addr, size uint64) (Mapping, error) { return mapPhysical(addr, size) }
	}

	d := &Device{Bus: uint8(bus), Dev: uint8(dev), Func: uint8(fn), cfg: cfg, io: io}

	d.VendorID = cfg.CfgRead16(0x00)
	if d.VendorID == 0xFFFF {
		return nil, pcierr.New(op, pcierr.NoSuchDevice, nil)
	}
	d.DeviceID = cfg.CfgRead16(0x02)
	d.ClassCode = cfg.CfgRead32(0x08) >> 8
	d.HeaderType = cfg.CfgRead8(0x0E)

	numSlots, ok := slotsForHeaderLayout(d.HeaderType & 0x7F)
	if !ok {
		return nil, pcierr.New(op, pcierr.UnsupportedHeader, nil)
	}
	d.NumRegions = numSlots

	regions, savedOrig, err := probeBARs(cfg, numSlots)
	if err != nil {
		return nil, pcierr.New(op, pcierr.MappingFailed, err)
	}
	applyATAOverride(d.ClassCode, savedOrig, regions)

	for i := range regions {
		r := &regions[i]
		if r.IsIO || r.Size == 0 {
			continue
		}
		m, err := mapFn(r.BaseAddress, r.Size)
		if err != nil {
			if isPermissionError(err) {
				continue // left unmapped; device construction still succeeds
			}
			unmapAll(regions)
			return nil, pcierr.New(op, pcierr.MappingFailed, err)
		}
		r.mapping = m
	}

	d.Regions = regions
	return d, nil
}

// probeBARs runs the sizing protocol (§4.3.2) across numSlots config slots,
// collapsing 64-bit memory BAR pairs into one region. savedOrig carries the
// raw saved BAR value for each output region's first config slot, so the
// ATA override below can tell which ones read back as zero.
func probeBARs(cfg ConfigBackend, numSlots int) ([]Region, []uint32, error) {
	regions := make([]Region, numSlots)
	savedOrig := make([]uint32, numSlots)

	slot := 0
	for i := 0; i < numSlots; i++ {
		if slot >= numSlots {
			continue // trailing region left zero-valued: the slot was consumed by a 64-bit pair
		}
		offset := uint8(0x10 + slot*4)
		orig, mask := sizeOneBAR(cfg, offset)
		savedOrig[i] = orig

		switch {
		case orig == 0:
			slot++

		case orig&0x01 != 0:
			origClean := orig &^ 0x1
			maskClean := mask &^ 0x1
			regions[i] = Region{
				BaseAddress: uint64(origClean),
				Size:        uint64(^maskClean+1) & 0xFFFF,
				IsIO:        true,
			}
			slot++

		case (orig>>1)&0x3 == 0x2:
			// 64-bit memory BAR: merge the next slot's value into the high
			// 32 bits. The region array advances by one entry; the slot
			// cursor advances by two. See spec §4.3.2 and §9.
			highOffset := uint8(0x10 + (slot+1)*4)
			origHigh, maskHigh := sizeOneBAR(cfg, highOffset)
			fullOrig := uint64(orig&0xFFFFFFF0) | uint64(origHigh)<<32
			fullMask := uint64(mask&0xFFFFFFF0) | uint64(maskHigh)<<32
			regions[i] = Region{
				BaseAddress: fullOrig,
				Size:        ^fullMask + 1,
				IsIO:        false,
				Is64:        true,
			}
			slot += 2

		default:
			origClean := orig &^ 0xF
			maskClean := mask &^ 0xF
			regions[i] = Region{
				BaseAddress: uint64(origClean),
				Size:        uint64(^maskClean + 1),
			}
			slot++
		}
	}

	return regions, savedOrig, nil
}

// sizeOneBAR performs steps 1-5 of §4.3.2 against the BAR at configuration
// offset j: disable decoding, save, probe with all-ones, restore, re-enable.
func sizeOneBAR(cfg ConfigBackend, j uint8) (orig, mask uint32) {
	cmd := cfg.CfgRead16(0x04)
	cfg.CfgWrite16(0x04, cmd&^0x03)

	orig = cfg.CfgRead32(j)
	cfg.CfgWrite32(j, 0xFFFFFFFF)
	mask = cfg.CfgRead32(j)
	cfg.CfgWrite32(j, orig)

	cfg.CfgWrite16(0x04, cmd)
	return orig, mask
}

// ataOverride is one row of the legacy ISA-ATA compatibility-mode table
// (§4.3.2). Base is already masked of the I/O-space flag bit.
type ataOverride struct {
	Base uint64
	Size uint64
}

var ataOverrides = [4]ataOverride{
	{Base: 0x1F0, Size: 8},
	{Base: 0x3F0, Size: 4},
	{Base: 0x170, Size: 8},
	{Base: 0x370, Size: 4},
}

// applyATAOverride substitutes the legacy ISA-ATA port windows for any of
// the first four BARs that read back as zero, when the device is an ATA/IDE
// controller in compatibility mode.
//
// Two gates apply, mirroring the C source's pci_device_is_ata_controller
// check ahead of its own (class_code & 0x05) == 0 test: first, classCode
// must actually be an ATA/IDE controller (IsATAControllerClass), or a host
// bridge, NIC, or anything else whose class code happens to satisfy the
// second predicate would have its zero BARs rewritten into ATA port
// windows. Second, (class_code & 0x05) == 0, reproduced literally from the
// source rather than from the documented base/sub class byte check, per the
// open question in spec §9: this does not obviously correspond to "native
// vs compatibility mode" and should be treated as suspect, not fixed.
func applyATAOverride(classCode uint32, savedOrig []uint32, regions []Region) {
	if !IsATAControllerClass(classCode) {
		return
	}
	if classCode&0x05 != 0 {
		return
	}
	for i := 0; i < len(ataOverrides) && i < len(regions) && i < len(savedOrig); i++ {
		if savedOrig[i] != 0 {
			continue
		}
		regions[i] = Region{
			BaseAddress: ataOverrides[i].Base,
			Size:        ataOverrides[i].Size,
			IsIO:        true,
		}
	}
}

// IsATAControllerClass reports whether classCode's base and sub class bytes
// are both 0x01 (mass storage / IDE), per the documented class layout in
// §4.3.5 -- this is the straightforward, non-suspect check, as opposed to
// the literal applyATAOverride gating predicate above.
func IsATAControllerClass(classCode uint32) bool {
	base := uint8((classCode >> 16) & 0xFF)
	sub := uint8((classCode >> 8) & 0xFF)
	return base == 0x01 && sub == 0x01
}

// IsATAController reports whether this device is an ATA/IDE controller; see
// IsATAControllerClass.
func (d *Device) IsATAController() bool {
	return IsATAControllerClass(d.ClassCode)
}

// GetNumRegions returns the device's fixed region-array capacity.
func (d *Device) GetNumRegions() int { return d.NumRegions }

func (d *Device) checkIndex(i int) error {
	if i < 0 || i >= d.NumRegions || i >= len(d.Regions) {
		return pcierr.New("pci.Device", pcierr.InvalidArgument, nil)
	}
	return nil
}

// RegionGetBaseAddress returns region i's base address.
func (d *Device) RegionGetBaseAddress(i int) (uint64, error) {
	if err := d.checkIndex(i); err != nil {
		return 0, err
	}
	return d.Regions[i].BaseAddress, nil
}

// RegionGetSize returns region i's size in bytes.
func (d *Device) RegionGetSize(i int) (uint64, error) {
	if err := d.checkIndex(i); err != nil {
		return 0, err
	}
	return d.Regions[i].Size, nil
}

// RegionIsIO reports whether region i is a port-I/O window.
func (d *Device) RegionIsIO(i int) (bool, error) {
	if err := d.checkIndex(i); err != nil {
		return false, err
	}
	return d.Regions[i].IsIO, nil
}

// RegionIsMapped reports whether region i is a memory window with a live mapping.
func (d *Device) RegionIsMapped(i int) (bool, error) {
	if err := d.checkIndex(i); err != nil {
		return false, err
	}
	return d.Regions[i].IsMapped(), nil
}

// --- Region access surface (§4.3.4) ---
//
// RegionRead{8,16,32}/RegionWrite{8,16,32} reproduce the source's element-
// index addressing for memory regions: off selects the off'th element of
// the requested width, not the off'th byte, while the bounds check compares
// off against Size (a byte count). This mismatch is a latent bug in the
// original (rcvalle/pcifuzzer); it is preserved here so that saved corpora
// keep replaying the same sequence of accesses. RegionReadAligned{8,16,32}/
// RegionWriteAligned{8,16,32} below are the corrected, byte-addressed
// variants the spec asks to expose alongside it.

func (d *Device) regionFor(i int, off uint64) (*Region, error) {
	if err := d.checkIndex(i); err != nil {
		return nil, err
	}
	r := &d.Regions[i]
	if off >= r.Size {
		return nil, pcierr.New("pci.Device", pcierr.InvalidArgument, nil)
	}
	if !r.IsIO && !r.IsMapped() {
		return nil, pcierr.New("pci.Device", pcierr.InvalidArgument, nil)
	}
	return r, nil
}

// RegionRead8 reads one byte at element index off within region i.
func (d *Device) RegionRead8(i int, off uint64) (uint8, error) {
	r, err := d.regionFor(i, off)
	if err != nil {
		return 0, err
	}
	if r.IsIO {
		return d.io.In8(ioport.Port(r.BaseAddress + off)), nil
	}
	return r.mapping.Bytes()[off], nil
}

// RegionRead16 reads one 16-bit element at index off within region i. off is
// bounds-checked against Size (a byte count) in regionFor, not against the
// element count, so a second check guards the actual byte slice here; an
// element index that runs past the mapping's end fails InvalidArgument and
// returns the all-bits-one sentinel (§7) instead of panicking.
func (d *Device) RegionRead16(i int, off uint64) (uint16, error) {
	r, err := d.regionFor(i, off)
	if err != nil {
		return 0, err
	}
	if r.IsIO {
		return d.io.In16(ioport.Port(r.BaseAddress + off)), nil
	}
	b := r.mapping.Bytes()
	if off*2+2 > uint64(len(b)) {
		return 0xFFFF, pcierr.New("pci.Device", pcierr.InvalidArgument, nil)
	}
	return binary.LittleEndian.Uint16(b[off*2 : off*2+2]), nil
}

// RegionRead32 reads one 32-bit element at index off within region i. See
// RegionRead16 for why the byte slice is bounds-checked a second time here.
func (d *Device) RegionRead32(i int, off uint64) (uint32, error) {
	r, err := d.regionFor(i, off)
	if err != nil {
		return 0, err
	}
	if r.IsIO {
		return d.io.In32(ioport.Port(r.BaseAddress + off)), nil
	}
	b := r.mapping.Bytes()
	if off*4+4 > uint64(len(b)) {
		return 0xFFFFFFFF, pcierr.New("pci.Device", pcierr.InvalidArgument, nil)
	}
	return binary.LittleEndian.Uint32(b[off*4 : off*4+4]), nil
}

// RegionWrite8 writes one byte at element index off within region i.
func (d *Device) RegionWrite8(i int, off uint64, v uint8) error {
	r, err := d.regionFor(i, off)
	if err != nil {
		return err
	}
	if r.IsIO {
		d.io.Out8(ioport.Port(r.BaseAddress+off), v)
		return nil
	}
	r.mapping.Bytes()[off] = v
	return nil
}

// RegionWrite16 writes one 16-bit element at index off within region i. See
// RegionRead16 for why the byte slice is bounds-checked a second time here.
func (d *Device) RegionWrite16(i int, off uint64, v uint16) error {
	r, err := d.regionFor(i, off)
	if err != nil {
		return err
	}
	if r.IsIO {
		d.io.Out16(ioport.Port(r.BaseAddress+off), v)
		return nil
	}
	b := r.mapping.Bytes()
	if off*2+2 > uint64(len(b)) {
		return pcierr.New("pci.Device", pcierr.InvalidArgument, nil)
	}
	binary.LittleEndian.PutUint16(b[off*2:off*2+2], v)
	return nil
}

// RegionWrite32 writes one 32-bit element at index off within region i. See
// RegionRead16 for why the byte slice is bounds-checked a second time here.
func (d *Device) RegionWrite32(i int, off uint64, v uint32) error {
	r, err := d.regionFor(i, off)
	if err != nil {
		return err
	}
	if r.IsIO {
		d.io.Out32(ioport.Port(r.BaseAddress+off), v)
		return nil
	}
	b := r.mapping.Bytes()
	if off*4+4 > uint64(len(b)) {
		return pcierr.New("pci.Device", pcierr.InvalidArgument, nil)
	}
	binary.LittleEndian.PutUint32(b[off*4:off*4+4], v)
	return nil
}

// RegionReadAligned8 is RegionRead8's byte-addressed, non-buggy counterpart:
// off is a byte offset for both I/O and memory regions alike.
func (d *Device) RegionReadAligned8(i int, off uint64) (uint8, error) {
	return d.RegionRead8(i, off)
}

// RegionWriteAligned8 is RegionWrite8's byte-addressed counterpart: off is a
// byte offset for both I/O and memory regions alike.
func (d *Device) RegionWriteAligned8(i int, off uint64, v uint8) error {
	return d.RegionWrite8(i, off, v)
}

// RegionReadAligned16 reads a 16-bit value at byte offset off.
func (d *Device) RegionReadAligned16(i int, off uint64) (uint16, error) {
	r, err := d.regionFor(i, off)
	if err != nil {
		return 0, err
	}
	if r.IsIO {
		return d.io.In16(ioport.Port(r.BaseAddress + off)), nil
	}
	b := r.mapping.Bytes()
	if off+2 > uint64(len(b)) {
		return 0, pcierr.New("pci.Device", pcierr.InvalidArgument, nil)
	}
	return binary.LittleEndian.Uint16(b[off : off+2]), nil
}

// RegionReadAligned32 reads a 32-bit value at byte offset off.
func (d *Device) RegionReadAligned32(i int, off uint64) (uint32, error) {
	r, err := d.regionFor(i, off)
	if err != nil {
		return 0, err
	}
	if r.IsIO {
		return d.io.In32(ioport.Port(r.BaseAddress + off)), nil
	}
	b := r.mapping.Bytes()
	if off+4 > uint64(len(b)) {
		return 0, pcierr.New("pci.Device", pcierr.InvalidArgument, nil)
	}
	return binary.LittleEndian.Uint32(b[off : off+4]), nil
}

// RegionWriteAligned16 writes a 16-bit value at byte offset off.
func (d *Device) RegionWriteAligned16(i int, off uint64, v uint16) error {
	r, err := d.regionFor(i, off)
	if err != nil {
		return err
	}
	if r.IsIO {
		d.io.Out16(ioport.Port(r.BaseAddress+off), v)
		return nil
	}
	b := r.mapping.Bytes()
	if off+2 > uint64(len(b)) {
		return pcierr.New("pci.Device", pcierr.InvalidArgument, nil)
	}
	binary.LittleEndian.PutUint16(b[off:off+2], v)
	return nil
}

// RegionWriteAligned32 writes a 32-bit value at byte offset off.
func (d *Device) RegionWriteAligned32(i int, off uint64, v uint32) error {
	r, err := d.regionFor(i, off)
	if err != nil {
		return err
	}
	if r.IsIO {
		d.io.Out32(ioport.Port(r.BaseAddress+off), v)
		return nil
	}
	b := r.mapping.Bytes()
	if off+4 > uint64(len(b)) {
		return pcierr.New("pci.Device", pcierr.InvalidArgument, nil)
	}
	binary.LittleEndian.PutUint32(b[off:off+4], v)
	return nil
}

// Close releases every successfully mapped region. Errors from individual
// unmaps are collected but do not stop the rest of cleanup from running.
func (d *Device) Close() error {
	var firstErr error
	for i := range d.Regions {
		r := &d.Regions[i]
		if r.mapping == nil {
			continue
		}
		if err := r.mapping.Unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.mapping = nil
	}
	return firstErr
}

func unmapAll(regions []Region) {
	for i := range regions {
		if regions[i].mapping != nil {
			regions[i].mapping.Unmap()
			regions[i].mapping = nil
		}
	}
}
