//go:build unix

// Command a64rec translates a raw little-endian ARM64 image and either dumps
// the IR of its entry unit or runs it on the interpreter backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"a64rec/pkg/a64"
	"a64rec/pkg/backend/interp"
	"a64rec/pkg/config"
	"a64rec/pkg/engine"
	"a64rec/pkg/hostcall"
	"a64rec/pkg/hostmem"
	"a64rec/pkg/metrics"
	"a64rec/pkg/profile"
	"a64rec/pkg/recompiler"
	"a64rec/pkg/state"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// Linux system call numbers serviced for guest programs
const (
	sysWrite = 64
	sysExit  = 93
)

var log = commonlog.GetLogger("a64rec")

func fatalf(format string, args ...interface{}) {
	log.Criticalf(format, args...)
	os.Exit(1)
}

func main() {
	configPath := flag.String("config", "", "Path to an a64rec.toml file")
	imagePath := flag.String("image", "", "Raw little-endian ARM64 code to load")
	entryOffset := flag.Uint64("entry-offset", 0, "Byte offset of the entry point within the image")
	dump := flag.Bool("dump", false, "Print the IR of the entry unit")
	run := flag.Bool("run", true, "Execute the image")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
	}
	commonlog.Configure(cfg.Log.Verbosity, cfg.LogPath())

	if *imagePath == "" {
		fatalf("--image flag is required")
	}
	image, err := os.ReadFile(*imagePath)
	if err != nil {
		fatalf("Failed to read image: %v", err)
	}
	if len(image)%recompiler.InstructionSize != 0 || *entryOffset%recompiler.InstructionSize != 0 {
		fatalf("image size and entry offset must be multiples of %d", recompiler.InstructionSize)
	}
	if *entryOffset >= uint64(len(image)) {
		fatalf("entry offset %d is past the end of a %d-byte image", *entryOffset, len(image))
	}

	region, err := hostmem.NewRegion(len(image) + 4<<20)
	if err != nil {
		fatalf("Failed to map guest memory: %v", err)
	}
	defer region.Free()

	base, err := region.Allocate(len(image), 16)
	if err != nil {
		fatalf("Failed to place image: %v", err)
	}
	copy(region.Bytes(base, len(image)), image)
	entry := base + *entryOffset
	log.Infof("loaded %d bytes at 0x%x, entry 0x%x", len(image), base, entry)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if *metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	var store *profile.Store
	if cfg.Engine.ProfilePath != "" {
		if store, err = profile.Open(cfg.Engine.ProfilePath); err != nil {
			fatalf("Failed to open profile: %v", err)
		}
		defer store.Close()
	}

	host := hostcall.NewTable()
	eng := engine.New(engine.Params{
		Decoder:  a64.NewTable(),
		Code:     region,
		Compiler: interp.New(host),
		Host:     host,
		Syscall:  syscalls(region),
		Options:  cfg.Options(),
		Workers:  cfg.Workers(),
		Profile:  store,
		Metrics:  m,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if n, err := eng.Warm(ctx); err != nil {
		log.Warningf("warm start failed: %v", err)
	} else if n > 0 {
		log.Infof("warm start compiled %d units", n)
	}

	if *dump {
		unit, err := recompiler.New(a64.NewTable(), region, eng.Options()).Recompile(entry)
		if err != nil {
			fatalf("Failed to translate entry: %v", err)
		}
		fmt.Print(unit.Function)
		fmt.Printf("; %d instructions, %d exits, %d jumps elided, fingerprint %x\n",
			unit.Instructions(), unit.Exits, unit.Elided, unit.Fingerprint)
	}
	if !*run {
		return
	}

	cpu, addr, err := state.Alloc(region)
	if err != nil {
		fatalf("Failed to allocate thread state: %v", err)
	}
	stack, err := region.Allocate(1<<20, 16)
	if err != nil {
		fatalf("Failed to allocate stack: %v", err)
	}
	cpu.SP = stack + 1<<20

	thread := eng.Attach(cpu, addr)
	defer eng.Detach(thread)
	if err := eng.Run(ctx, thread, entry); err != nil {
		fatalf("Run failed: %v", err)
	}
	code, _ := thread.Exited()
	log.Infof("guest exited with %d", code)
	os.Exit(int(code))
}

// syscalls services the Linux exit and write calls, reading guest buffers
// straight out of the region
func syscalls(region *hostmem.Region) engine.SyscallFunc {
	return func(t *engine.Thread, num uint32) int32 {
		s := t.State
		switch s.X[8] {
		case sysExit:
			t.Exit(int64(s.X[0]))
			return 0
		case sysWrite:
			buf := region.Bytes(s.X[1], int(s.X[2]))
			if buf == nil || (s.X[0] != 1 && s.X[0] != 2) {
				s.X[0] = ^uint64(13) // -EFAULT
				return hostcall.Continue
			}
			out := os.Stdout
			if s.X[0] == 2 {
				out = os.Stderr
			}
			n, _ := out.Write(buf)
			s.X[0] = uint64(n)
			return hostcall.Continue
		}
		log.Warningf("unsupported system call %d (svc #%d)", s.X[8], num)
		s.X[0] = ^uint64(37) // -ENOSYS
		return hostcall.Continue
	}
}
