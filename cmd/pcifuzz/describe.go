package main

import (
	"fmt"

	"github.com/sercanarga/pcifuzz/internal/color"
	"github.com/sercanarga/pcifuzz/internal/donor"
	"github.com/sercanarga/pcifuzz/internal/pci"
	"github.com/spf13/cobra"
)

var describeBDF string

// describeCmd is fuzz's read-only cousin: it reports everything an operator
// needs to pick a --regions list without ever touching the live device's
// BARs (no sizing probe, no decode-disable window).
var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Describe a PCI device's identity, BARs, and capabilities",
	Long: `Reads a device's static identity from sysfs and prints its class,
BAR layout, and capability list. Unlike "fuzz", this never probes BAR sizes
or touches the device's command register.

Example:
  pcifuzz describe --bdf 0000:03:00.0`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bdf, err := pci.ParseBDF(describeBDF)
		if err != nil {
			return fmt.Errorf("invalid BDF: %w", err)
		}

		sr := donor.NewSysfsReader()
		dev, err := sr.ReadDeviceInfo(bdf)
		if err != nil {
			return fmt.Errorf("%s", color.Failf("cannot read device info: %v", err))
		}
		fmt.Println(color.Okf("%04x:%04x %s", dev.VendorID, dev.DeviceID, dev.ClassDescription()))

		cs, err := sr.ReadConfigSpace(bdf)
		if err != nil {
			fmt.Println(color.Failf("cannot read config space: %v", err))
			return nil
		}
		fmt.Println(color.Okf("config space readable: %d bytes, header layout 0x%02x", cs.Size, cs.HeaderLayout()))

		if dev.Driver != "" {
			fmt.Printf("driver: %s\n", dev.Driver)
		}

		bars, err := sr.ReadResourceFile(bdf)
		if err == nil {
			fmt.Printf("\n%s\n", color.Header("BARs"))
			for i, bar := range bars {
				if bar.IsDisabled() {
					continue
				}
				fmt.Printf("  [%d] %s\n", i, bar.String())
			}
		}

		caps := pci.ParseCapabilities(cs)
		fmt.Printf("\n%s (%d)\n", color.Header("Capabilities"), len(caps))
		for _, c := range caps {
			fmt.Printf("  [%02x] %s at offset 0x%02x\n", c.ID, pci.CapabilityName(c.ID), c.Offset)
		}

		extCaps := pci.ParseExtCapabilities(cs)
		if len(extCaps) > 0 {
			fmt.Printf("\n%s (%d)\n", color.Header("Extended Capabilities"), len(extCaps))
			for _, c := range extCaps {
				fmt.Printf("  [%04x] %s at offset 0x%03x\n", c.ID, pci.ExtCapabilityName(c.ID), c.Offset)
			}
		}

		if pci.IsATAControllerClass(dev.ClassCode) {
			fmt.Println()
			fmt.Println(color.Warn("ATA/IDE controller: BAR0-3 may be substituted with legacy ISA compatibility ports by \"fuzz\" if they read back as zero"))
		}

		return nil
	},
}

func init() {
	describeCmd.Flags().StringVar(&describeBDF, "bdf", "", "device BDF address to describe (required)")
	_ = describeCmd.MarkFlagRequired("bdf")
	rootCmd.AddCommand(describeCmd)
}
