package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/device"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

func main() {
	batch := flag.Int("batch", 8, "Outer dimension")
	rows := flag.Int("rows", 128, "Middle dimension")
	cols := flag.Int("cols", 128, "Inner dimension")
	pad := flag.Int("pad", 64, "Extra elements of outer-stride padding (0 = packed input)")
	iters := flag.Int("n", 100, "Iterations per proxy kind")
	accum := flag.Float64("accum", 0, "Accumulate weight for the write proxy")
	mode := flag.String("pack", "always", "Packing mode: auto, always, never")
	level := flag.String("log-level", "info", "Log level")
	format := flag.String("log-format", "console", "Log format: console or json")
	flag.Parse()

	logger.Setup(*level, *format)

	cfg := config.Default()
	cfg.LogLevel = *level
	cfg.LogFormat = *format
	switch *mode {
	case "auto":
		cfg.PackMode = config.PackAuto
	case "always":
		cfg.PackMode = config.PackAlways
	case "never":
		cfg.PackMode = config.PackNever
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown pack mode %q\n", *mode)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== Longbow-Bodkin Pack Bench ===\n")
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("NumCPU: %d\n", runtime.NumCPU())
	fmt.Printf("Dims: [%d %d %d], pad: %d, accum: %.2f, mode: %s\n",
		*batch, *rows, *cols, *pad, *accum, cfg.PackMode)
	fmt.Println()

	backend, alloc, err := device.NewStack()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize backend: %v\n", err)
		os.Exit(1)
	}
	pc := device.NewPackContext(backend, alloc, 0, nil)

	dims := []int{*batch, *rows, *cols}
	strides := device.PackedStrides(dims)
	strides[0] += *pad
	layout := device.TensorLayout{DataType: device.Float32, Dims: dims, Strides: strides}

	desc, err := backend.CreateDescriptor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "CreateDescriptor: %v\n", err)
		os.Exit(1)
	}
	defer backend.DestroyDescriptor(desc)
	if err := backend.SetLayout(desc, layout); err != nil {
		fmt.Fprintf(os.Stderr, "SetLayout: %v\n", err)
		os.Exit(1)
	}

	size, err := layout.MemorySize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "MemorySize: %v\n", err)
		os.Exit(1)
	}
	buf, err := alloc.Alloc(0, size)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Alloc: %v\n", err)
		os.Exit(1)
	}
	defer alloc.Free(buf)

	fmt.Printf("Source: %s, %d bytes, packed=%v\n", layout.DataType, size, layout.IsPacked())

	start := time.Now()
	for i := 0; i < *iters; i++ {
		rp, err := device.NewReadProxy(pc, desc, buf, cfg.PackMode)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read proxy: %v\n", err)
			os.Exit(1)
		}
		if err := rp.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "read proxy close: %v\n", err)
			os.Exit(1)
		}
	}
	readTotal := time.Since(start)

	start = time.Now()
	for i := 0; i < *iters; i++ {
		err := func() (err error) {
			wp, err := device.NewWriteProxy(pc, desc, buf, *accum, cfg.PackMode)
			if err != nil {
				return err
			}
			defer wp.CloseWith(&err)
			return nil
		}()
		if err != nil {
			fmt.Fprintf(os.Stderr, "write proxy: %v\n", err)
			os.Exit(1)
		}
	}
	writeTotal := time.Since(start)

	fmt.Println()
	fmt.Printf("Read proxy:  %d iters in %v (%v/iter)\n", *iters, readTotal, readTotal/time.Duration(*iters))
	fmt.Printf("Write proxy: %d iters in %v (%v/iter)\n", *iters, writeTotal, writeTotal/time.Duration(*iters))
	fmt.Printf("Device bytes outstanding: %d\n", metrics.DeviceBytes())
}
