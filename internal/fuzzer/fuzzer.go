// Package fuzzer is the per-iteration fuzz driver (component C5): it draws
// a region, an offset, and an operation from an input stream decoder and
// issues exactly one access against a live PCI device, logging what it did.
package fuzzer

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sercanarga/pcifuzz/internal/fuzzinput"
	"github.com/sercanarga/pcifuzz/internal/pci"
)

// MAX_INPUT is the most input bytes one Iterate call can consume: an 8-byte
// region draw, an 8-byte offset draw, an 8-byte operation draw, and up to 4
// bytes of write operand.
const MAX_INPUT = 28

// device is the subset of *pci.Device the driver needs; defined here so
// tests can supply a double without constructing a real BAR-probed device.
type device interface {
	GetNumRegions() int
	RegionIsIO(i int) (bool, error)
	RegionIsMapped(i int) (bool, error)
	RegionGetSize(i int) (uint64, error)
	RegionRead8(i int, off uint64) (uint8, error)
	RegionRead16(i int, off uint64) (uint16, error)
	RegionRead32(i int, off uint64) (uint32, error)
	RegionWrite8(i int, off uint64, v uint8) error
	RegionWrite16(i int, off uint64, v uint16) error
	RegionWrite32(i int, off uint64, v uint32) error
}

var _ device = (*pci.Device)(nil)

// Driver runs iterations against one device, optionally restricted to a
// fixed subset of its regions (the CLI's --regions flag).
type Driver struct {
	dev        device
	restricted []int // nil/empty means "any region"
	log        *logrus.Logger
}

// New creates a Driver. A nil logger installs a logrus.Logger with output
// discarded, so callers that only care about the side effects of Iterate
// (tests, benchmarks) don't need to wire one up.
func New(dev device, restricted []int, log *logrus.Logger) *Driver {
	if log == nil {
		log = logrus.New()
		log.Out = discard{}
	}
	return &Driver{dev: dev, restricted: restricted, log: log}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// Iterate draws one operation from dec and applies it. A region that is
// neither an I/O window nor a successfully mapped memory window is skipped
// silently (spec §4.5 step 2): this consumes the region-selection bytes but
// emits no access and no log record.
func (d *Driver) Iterate(dec *fuzzinput.Decoder) error {
	region, err := d.pickRegion(dec)
	if err != nil {
		return err
	}

	isIO, _ := d.dev.RegionIsIO(region)
	isMapped, _ := d.dev.RegionIsMapped(region)
	if !isIO && !isMapped {
		return nil
	}

	size, err := d.dev.RegionGetSize(region)
	if err != nil {
		return err
	}
	offset, err := dec.DeriveRange(0, size-1)
	if err != nil {
		return err
	}

	op, err := dec.DeriveRange(0, 5)
	if err != nil {
		return err
	}

	return d.apply(dec, region, offset, op)
}

func (d *Driver) pickRegion(dec *fuzzinput.Decoder) (int, error) {
	if len(d.restricted) == 0 {
		r, err := dec.DeriveRange(0, uint64(d.dev.GetNumRegions()-1))
		return int(r), err
	}
	k, err := dec.DeriveRange(0, uint64(len(d.restricted)-1))
	if err != nil {
		return 0, err
	}
	return d.restricted[k], nil
}

func (d *Driver) apply(dec *fuzzinput.Decoder, region int, offset, op uint64) error {
	switch op {
	case 0:
		v, err := d.dev.RegionRead16(region, offset)
		if err != nil {
			return err
		}
		d.emit("region_read16", region, offset, nil)
		_ = v

	case 1:
		v, err := d.dev.RegionRead32(region, offset)
		if err != nil {
			return err
		}
		d.emit("region_read32", region, offset, nil)
		_ = v

	case 2:
		v, err := d.dev.RegionRead8(region, offset)
		if err != nil {
			return err
		}
		d.emit("region_read8", region, offset, nil)
		_ = v

	case 3:
		value, err := dec.ReadU16()
		if err != nil {
			return err
		}
		if err := d.dev.RegionWrite16(region, offset, value); err != nil {
			return err
		}
		d.emit("region_write16", region, offset, value)

	case 4:
		value, err := dec.ReadU32()
		if err != nil {
			return err
		}
		if err := d.dev.RegionWrite32(region, offset, value); err != nil {
			return err
		}
		d.emit("region_write32", region, offset, value)

	case 5:
		value, err := dec.ReadU8()
		if err != nil {
			return err
		}
		if err := d.dev.RegionWrite8(region, offset, value); err != nil {
			return err
		}
		d.emit("region_write8", region, offset, value)

	default:
		return fmt.Errorf("fuzzer: impossible op %d", op)
	}
	return nil
}

// emit writes one structured log record. value is nil for reads.
func (d *Driver) emit(function string, region int, offset uint64, value any) {
	fields := logrus.Fields{
		"function": function,
		"region":   region,
		"offset":   offset,
	}
	if value != nil {
		fields["value"] = value
	}
	d.log.WithFields(fields).Info("access")
}
