package main

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sercanarga/pcifuzz/internal/fuzzer"
	"github.com/sercanarga/pcifuzz/internal/fuzzinput"
	"github.com/sercanarga/pcifuzz/internal/ioport"
	"github.com/sercanarga/pcifuzz/internal/pci"
	"github.com/sercanarga/pcifuzz/internal/regionlist"
)

var fuzzFlags struct {
	bus      int
	device   int
	function int
	regions  string
	output   string
	seed     int64
	timeout  int
	generate bool
	debug    bool
	verbose  bool
	quiet    bool
}

var fuzzCmd = &cobra.Command{
	Use:   "fuzz [input-file]",
	Short: "Fuzz a live PCI device's register space",
	Long: `fuzz draws a region, offset, operation, and operand from an input
byte stream and issues exactly one access against the target device per
iteration, repeating until the input is exhausted.

With no positional argument, input is read from standard input. With
--generate, a seeded PRNG stands in for the input stream instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFuzz,
}

func init() {
	f := fuzzCmd.Flags()
	f.IntVar(&fuzzFlags.bus, "bus", 0, "PCI bus number (0-255)")
	f.IntVar(&fuzzFlags.device, "device", 0, "PCI device number (0-31)")
	f.IntVar(&fuzzFlags.function, "function", 0, "PCI function number (0-7)")
	f.StringVar(&fuzzFlags.regions, "regions", "", "restrict to region indices/ranges, e.g. \"0,2-3\" (default: any)")
	f.StringVar(&fuzzFlags.output, "output", "", "append structured per-iteration log to FILE (default: stderr)")
	f.Int64Var(&fuzzFlags.seed, "seed", 0, "PRNG seed, used only with --generate")
	f.IntVar(&fuzzFlags.timeout, "timeout", 0, "abort the process if one iteration exceeds this many seconds (0 = no limit)")
	f.BoolVar(&fuzzFlags.generate, "generate", false, "use a seeded PRNG instead of consuming the input stream")
	f.BoolVar(&fuzzFlags.debug, "debug", false, "enable debug-level logging")
	f.BoolVar(&fuzzFlags.verbose, "verbose", false, "enable verbose (info-level) logging")
	f.BoolVar(&fuzzFlags.quiet, "quiet", false, "suppress all but error-level logging")
	rootCmd.AddCommand(fuzzCmd)
}

func runFuzz(cmd *cobra.Command, args []string) error {
	log := newFuzzLogger()

	out, closeOut, err := openOutput(fuzzFlags.output)
	if err != nil {
		return fmt.Errorf("fuzz: %w", err)
	}
	defer closeOut()
	log.Out = &lockedWriter{w: out}

	ports, err := ioport.Open()
	if err != nil {
		return fmt.Errorf("fuzz: %w", err)
	}
	defer ports.Close()

	if err := ioport.Raise(); err != nil {
		return fmt.Errorf("fuzz: raising I/O privilege: %w", err)
	}

	cfg := pci.NewConfigPort(ports, uint8(fuzzFlags.bus), uint8(fuzzFlags.device), uint8(fuzzFlags.function))
	dev, err := pci.NewDevice(cfg, ports, nil, fuzzFlags.bus, fuzzFlags.device, fuzzFlags.function)
	if err != nil {
		return fmt.Errorf("fuzz: %w", err)
	}
	defer dev.Close()

	restricted, err := regionlist.Parse(fuzzFlags.regions)
	if err != nil {
		return fmt.Errorf("fuzz: --regions: %w", err)
	}

	src, closeSrc, err := openInput(args)
	if err != nil {
		return fmt.Errorf("fuzz: %w", err)
	}
	defer closeSrc()

	driver := fuzzer.New(dev, restricted, log)
	dec := fuzzinput.NewDecoder(src)

	watchdog := newWatchdog(fuzzFlags.timeout)
	defer watchdog.Stop()

	for {
		watchdog.Arm()
		err := driver.Iterate(dec)
		watchdog.Disarm()

		if err != nil {
			if errors.Is(err, fuzzinput.ErrExhausted) {
				return nil
			}
			return fmt.Errorf("fuzz: %w", err)
		}
	}
}

// newFuzzLogger builds a logrus.Logger emitting one JSON object per line,
// the shape spec.md §6 calls the log record format.
func newFuzzLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})

	switch {
	case fuzzFlags.quiet:
		log.SetLevel(logrus.ErrorLevel)
	case fuzzFlags.debug:
		log.SetLevel(logrus.DebugLevel)
	case fuzzFlags.verbose:
		log.SetLevel(logrus.InfoLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// lockedWriter serializes writes across one underlying stream so log
// records never interleave, matching spec.md §6's "per-stream exclusive
// lock" requirement (future-proofing for a concurrent core).
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// openOutput opens path for append, creating it if needed. An empty path
// means stderr, which the caller must not close.
func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stderr, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening --output %q: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}

// openInput opens the positional input file, or stdin if none was given, or
// a seeded PRNG if --generate was passed (which takes precedence over both).
func openInput(args []string) (io.Reader, func(), error) {
	if fuzzFlags.generate {
		return &prngReader{rng: rand.New(rand.NewSource(fuzzFlags.seed))}, func() {}, nil
	}
	if len(args) == 0 {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, nil, fmt.Errorf("opening input file %q: %w", args[0], err)
	}
	return f, func() { f.Close() }, nil
}

// prngReader is an inexhaustible io.Reader backed by a seeded PRNG, standing
// in for a saved corpus file when --generate is set (spec.md §6).
type prngReader struct {
	rng *rand.Rand
}

func (p *prngReader) Read(buf []byte) (int, error) {
	return p.rng.Read(buf)
}

// watchdog terminates the process if one iteration runs longer than the
// configured timeout. The core itself never observes or cooperates with
// cancellation (spec.md §5); this is purely external wall-clock policy.
type watchdog struct {
	d     time.Duration
	timer *time.Timer
}

func newWatchdog(seconds int) *watchdog {
	if seconds <= 0 {
		return &watchdog{}
	}
	return &watchdog{d: time.Duration(seconds) * time.Second}
}

func (w *watchdog) Arm() {
	if w.d == 0 {
		return
	}
	w.timer = time.AfterFunc(w.d, func() {
		fmt.Fprintln(os.Stderr, "fuzz: iteration exceeded --timeout, terminating")
		os.Exit(1)
	})
}

func (w *watchdog) Disarm() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *watchdog) Stop() {
	w.Disarm()
}
