package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sercanarga/pcifuzz/internal/donor"
	"github.com/sercanarga/pcifuzz/internal/pci"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan and list available PCI devices",
	Long:  "Scans /sys/bus/pci/devices/ and lists all PCI devices with a fuzzability note.",
	RunE: func(cmd *cobra.Command, args []string) error {
		sr := donor.NewSysfsReader()
		devices, err := sr.ScanDevices()
		if err != nil {
			return fmt.Errorf("failed to scan devices: %w", err)
		}

		if len(devices) == 0 {
			fmt.Println("No PCI devices found.")
			return nil
		}

		db := pci.LoadPCIDB()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

		for _, dev := range devices {
			driver := dev.Driver
			if driver == "" {
				driver = "-"
			}

			devName := db.DeviceName(dev.VendorID, dev.DeviceID)
			vendorName := db.VendorName(dev.VendorID)
			description := dev.ClassDescription()
			if vendorName != "" && devName != "" {
				description = fmt.Sprintf("%s %s", vendorName, devName)
			} else if vendorName != "" {
				description = fmt.Sprintf("%s [%04x:%04x]", vendorName, dev.VendorID, dev.DeviceID)
			}

			fmt.Fprintf(w, "%s %s [%04x]: %s [%04x:%04x] (driver=%s)\tfuzzable=%s\n",
				dev.BDF.String(),
				dev.ClassDescription(),
				dev.ClassCode>>8,
				description,
				dev.VendorID,
				dev.DeviceID,
				driver,
				fuzzableNote(sr, dev.BDF),
			)
		}
		w.Flush()

		fmt.Printf("\nTotal: %d devices\n", len(devices))
		return nil
	},
}

// fuzzableNote reports whether a device looks like a plausible fuzz target:
// its config space is readable, and its header type carries at least one BAR
// slot (normal or PCI-PCI bridge; CardBus is excluded -- its single BAR is
// never a register window worth fuzzing).
func fuzzableNote(sr *donor.SysfsReader, bdf pci.BDF) string {
	cs, err := sr.ReadConfigSpace(bdf)
	if err != nil {
		return "no (config space unreadable)"
	}
	switch cs.HeaderLayout() {
	case 0x00, 0x01:
		return "yes"
	default:
		return "no (header type unsupported)"
	}
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
