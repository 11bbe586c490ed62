// Command riscv-em boots a guest image on the RV64GC machine implemented by
// internal/rv64: it parses the CLI surface, loads the boot ROM/kernel/disk
// images, builds the device tree blob, wires up the host console, and runs
// the machine until it halts or the context is cancelled.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/charmbracelet/x/ansi"
	"github.com/riscv-em/riscv-em/internal/rv64"
	"github.com/riscv-em/riscv-em/internal/rv64config"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "riscv-em: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		bios     = flag.String("bios", "", "Firmware image loaded at the reset vector (RAM base)")
		kernel   = flag.String("kernel", "", "Kernel image loaded into RAM")
		image    = flag.String("image", "", "Disk image attached as a VirtIO block device")
		dtbPath  = flag.String("dtb", "", "Precomputed device tree blob (overrides the built-in DTB builder)")
		dumpDTB  = flag.String("dumpdtb", "", "Write the generated device tree blob to this path and exit")
		appendCL = flag.String("append", "", "Kernel command line (the chosen/bootargs DTB property)")
		cfgPath  = flag.String("config", "", "YAML machine descriptor (see internal/rv64config)")
		harts    = flag.Uint64("harts", 0, "Number of harts (overrides -config)")
		ramMB    = flag.Uint64("ram", 0, "RAM size in MB (overrides -config)")
		debug    = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: riscv-em [flags]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := rv64config.Config{}
	if *cfgPath != "" {
		loaded, err := rv64config.Load(*cfgPath)
		if err != nil {
			return err
		}
		cfg = *loaded
	}
	cfg = cfg.Merge(rv64config.Config{
		NumHarts:  *harts,
		RAMSizeMB: *ramMB,
		BIOS:      *bios,
		Kernel:    *kernel,
		Image:     *image,
		Append:    *appendCL,
	})

	if cfg.NumHarts == 0 {
		cfg.NumHarts = 1
	}
	if cfg.RAMSizeMB == 0 {
		cfg.RAMSizeMB = 128
	}
	slog.Debug("machine config", "harts", cfg.NumHarts, "ram_mb", cfg.RAMSizeMB, "append", sanitizeOutput(cfg.Append))

	romImage, err := loadImage("bios", cfg.BIOS)
	if err != nil {
		return err
	}

	var diskImage []byte
	if cfg.Image != "" {
		diskImage, err = loadImage("disk image", cfg.Image)
		if err != nil {
			return err
		}
	}

	consoleOut := io.Writer(os.Stdout)

	ramSize := cfg.RAMSizeMB * 1024 * 1024
	// The DTB sits in the last 128 KiB of RAM; harts receive its address
	// in a11 at reset.
	dtbAddr := rv64.RAMBase + ramSize - 0x2_0000

	machine := rv64.NewMachine(rv64.Config{
		NumHarts:  cfg.NumHarts,
		RAMSize:   ramSize,
		DTBAddr:   dtbAddr,
		DiskImage: diskImage,
	}, consoleOut)

	if err := machine.LoadBytes(rv64.RAMBase, romImage); err != nil {
		return fmt.Errorf("load bios: %w", err)
	}

	if cfg.Kernel != "" {
		kernelImage, err := loadImage("kernel", cfg.Kernel)
		if err != nil {
			return err
		}
		// The kernel is placed 2 MiB above RAMBase, above the firmware
		// loaded at RAMBase.
		kernelAddr := rv64.RAMBase + 0x20_0000
		if err := machine.LoadBytes(kernelAddr, kernelImage); err != nil {
			return fmt.Errorf("load kernel: %w", err)
		}
	}

	var dtb []byte
	if *dtbPath != "" {
		dtb, err = os.ReadFile(*dtbPath)
		if err != nil {
			return fmt.Errorf("read dtb: %w", err)
		}
	} else {
		dtb, err = buildDTB(machine, cfg.RAMSizeMB*1024*1024, cfg.Append)
		if err != nil {
			return fmt.Errorf("build dtb: %w", err)
		}
	}

	if *dumpDTB != "" {
		return os.WriteFile(*dumpDTB, dtb, 0o644)
	}

	if err := machine.LoadBytes(dtbAddr, dtb); err != nil {
		return fmt.Errorf("load dtb: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	restore, err := enableRawConsole()
	if err != nil {
		slog.Warn("could not enable raw console mode", "error", err)
	} else {
		defer restore()
	}

	err = machine.Run(ctx, 0)
	if errors.Is(err, rv64.ErrHalt) {
		slog.Info("machine halted")
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loadImage reads path into memory, reporting progress on a progress bar
// while it reads.
func loadImage(kind, path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", kind, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", kind, err)
	}

	buf := make([]byte, info.Size())
	bar := progressbar.DefaultBytes(info.Size(), fmt.Sprintf("loading %s", kind))
	dst := &sliceWriter{buf: buf}
	if _, err := io.Copy(io.MultiWriter(dst, bar), f); err != nil {
		return nil, fmt.Errorf("read %s: %w", kind, err)
	}
	return buf, nil
}

// sliceWriter fills a preallocated slice sequentially, letting loadImage
// pair a single read pass with a progress bar via io.MultiWriter.
type sliceWriter struct{ buf []byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	n := copy(w.buf, p)
	w.buf = w.buf[n:]
	return n, nil
}

// enableRawConsole puts stdin into raw mode when it is a terminal and
// returns a function that restores the previous mode. Guest output is
// passed to stdout unchanged.
func enableRawConsole() (func(), error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() { term.Restore(fd, oldState) }, nil
}

// sanitizeOutput strips ANSI escape sequences from s; run uses it on the
// kernel command line before logging it.
func sanitizeOutput(s string) string {
	return ansi.Strip(s)
}
