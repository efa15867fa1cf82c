package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pcifuzz",
	Short: "PCI configuration/register-space fuzzer",
	Long: `pcifuzz issues randomized reads and writes against a live PCI device's
BAR-mapped register windows, driven by an input byte stream (a saved corpus
file, stdin, or a seeded PRNG with --generate).

This tool requires:
  - Linux on x86/x86_64
  - I/O privilege to raise iopl(3) (typically CAP_SYS_RAWIO)
  - Read/write access to /dev/port and /dev/mem for the target device's BARs`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
