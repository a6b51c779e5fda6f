// Command tpmtisctl drives a standalone tpmtis.Device from the command
// line: load a config, poke registers, and watch the FSM respond. It
// exists for manual exploration and for reproducing scenarios reported
// against the device without a full virtual machine.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/tpm-tis/tpmtis/internal/chipset"
	"github.com/tpm-tis/tpmtis/internal/devices/tpmtis"
)

func run() error {
	configPath := flag.String("config", "", "path to a tpmtis YAML config file (required)")
	verbose := flag.Bool("v", false, "enable debug logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `tpmtisctl - poke a tpmtis device's MMIO registers from the command line

USAGE:
  tpmtisctl -config FILE [flags] <command> [args...]

COMMANDS:
  read LOCALITY REG [SIZE]        Read SIZE bytes (default 4) from REG in LOCALITY
  write LOCALITY REG HEXBYTES     Write HEXBYTES to REG in LOCALITY
  reset                           Reset the device
  locality LOCALITY                Request LOCALITY as active via ACCESS

REG accepts the raw hex register offset (e.g. 0x18 for STS) or one of the
names: access, int-enable, int-vector, int-status, intf-capability, sts,
data-fifo, interface-id, did-vid, rid.

EXAMPLES:
  tpmtisctl -config tpm.yaml read 0 sts
  tpmtisctl -config tpm.yaml write 0 access 02
  tpmtisctl -config tpm.yaml locality 0
`)
	}
	flag.Parse()

	if *verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	if *configPath == "" {
		flag.Usage()
		os.Exit(1)
	}
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := tpmtis.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	dev, err := tpmtis.NewFromConfig(*cfg, chipset.LineInterruptFromFunc(func(level bool) {
		fmt.Fprintf(os.Stderr, "irq level -> %v\n", level)
	}))
	if err != nil {
		return fmt.Errorf("build device: %w", err)
	}

	builder := chipset.NewBuilder()
	if err := builder.RegisterDevice("tpm", dev); err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	cs, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build chipset: %w", err)
	}

	if err := cs.Start(); err != nil {
		return fmt.Errorf("start chipset: %w", err)
	}
	defer cs.Stop()

	args := flag.Args()
	switch args[0] {
	case "reset":
		return cs.Reset()
	case "locality":
		if len(args) != 2 {
			return fmt.Errorf("usage: locality LOCALITY")
		}
		locality, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid locality: %w", err)
		}
		addr := cfg.Base + uint64(locality)<<12 + regAccess
		return cs.HandleMMIO(addr, []byte{0x02}, true)
	case "read":
		if len(args) < 3 {
			return fmt.Errorf("usage: read LOCALITY REG [SIZE]")
		}
		locality, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid locality: %w", err)
		}
		reg, err := parseReg(args[2])
		if err != nil {
			return err
		}
		size := 4
		if len(args) >= 4 {
			size, err = strconv.Atoi(args[3])
			if err != nil {
				return fmt.Errorf("invalid size: %w", err)
			}
		}
		addr := cfg.Base + uint64(locality)<<12 + reg
		buf := make([]byte, size)
		if err := cs.HandleMMIO(addr, buf, false); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		fmt.Println(hex.EncodeToString(buf))
		return nil
	case "write":
		if len(args) != 4 {
			return fmt.Errorf("usage: write LOCALITY REG HEXBYTES")
		}
		locality, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid locality: %w", err)
		}
		reg, err := parseReg(args[2])
		if err != nil {
			return err
		}
		data, err := hex.DecodeString(args[3])
		if err != nil {
			return fmt.Errorf("invalid hex bytes: %w", err)
		}
		addr := cfg.Base + uint64(locality)<<12 + reg
		if err := cs.HandleMMIO(addr, data, true); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

const regAccess = 0x000

var regNames = map[string]uint64{
	"access":          0x000,
	"int-enable":      0x008,
	"int-vector":      0x00c,
	"int-status":      0x010,
	"intf-capability": 0x014,
	"sts":             0x018,
	"data-fifo":       0x024,
	"interface-id":    0x030,
	"did-vid":         0xf00,
	"rid":             0xf04,
}

func parseReg(s string) (uint64, error) {
	if off, ok := regNames[strings.ToLower(s)]; ok {
		return off, nil
	}
	off, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("unrecognized register %q", s)
	}
	return off, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tpmtisctl: %v\n", err)
		os.Exit(1)
	}
}
