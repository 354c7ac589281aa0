package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/scopebridge/pkg/config"
	"github.com/scopebridge/pkg/device"
	"github.com/scopebridge/pkg/engine"
	"github.com/scopebridge/pkg/journal"
	"github.com/scopebridge/pkg/metrics"
	"github.com/scopebridge/pkg/scpi"
	"github.com/scopebridge/pkg/waveform"
)

func main() {
	configFile := flag.String("config", "", "YAML config file (defaults apply when empty)")
	controlAddr := flag.String("control", "", "Control plane listen address (overrides config)")
	dataAddr := flag.String("data", "", "Data plane listen address (overrides config)")
	statusAddr := flag.String("http", "", "Status HTTP listen address, e.g. :8080 (overrides config)")
	window := flag.Uint64("window", 0, "Initial data-plane credit window (overrides config)")
	mode := flag.String("mode", "", "Simulated engine mode: analog or digital (overrides config)")
	journalPath := flag.String("journal", "", "Parquet frame journal path (overrides config)")
	list := flag.Bool("list", false, "Print the engine's channels and options and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "  Bridge mode: scopebridge [options]")
		fmt.Fprintln(os.Stderr, "  Probe mode:  scopebridge -list [options]")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *controlAddr != "" {
		cfg.Control.Addr = *controlAddr
	}
	if *dataAddr != "" {
		cfg.Data.Addr = *dataAddr
	}
	if *statusAddr != "" {
		cfg.Status.Addr = *statusAddr
	}
	if *window != 0 {
		cfg.Data.InitialWindow = *window
	}
	if *mode != "" {
		cfg.Engine.Mode = *mode
	}
	if *journalPath != "" {
		cfg.Journal.Path = *journalPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	eng := newEngine(cfg.Engine)
	state, err := device.New(eng, device.Options{
		ReadyTimeout: cfg.Device.ReadyTimeout,
		StopTimeout:  cfg.Device.StopTimeout,
		Divisions:    cfg.Device.Divisions,
	})
	if err != nil {
		log.Fatalf("Failed to initialize device: %v", err)
	}

	if *list {
		if err := runList(os.Stdout, state); err != nil {
			log.Fatal(err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, state); err != nil {
		log.Fatal(err)
	}
	log.Println("Bridge stopped")
}

func newEngine(cfg config.EngineConfig) engine.Engine {
	m := engine.ModeAnalog
	if cfg.Mode == "digital" {
		m = engine.ModeDigital
	}
	return engine.NewSimulator(engine.SimConfig{
		Vendor:   cfg.Vendor,
		Model:    cfg.Model,
		Channels: cfg.Channels,
		Mode:     m,
		Interval: cfg.Interval,
	})
}

// run serves both planes, and the status server when configured, until ctx
// is cancelled or a listener fails.
func run(ctx context.Context, cfg *config.Config, state *device.State) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var jw *journal.Writer
	if cfg.Journal.Path != "" {
		eng := state.Engine()
		var err error
		jw, err = journal.Create(cfg.Journal.Path, map[string]string{
			"vendor": eng.Vendor(),
			"model":  eng.Model(),
			"mode":   state.Mode().String(),
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := jw.Close(); err != nil {
				log.Printf("Warning: closing journal: %v", err)
			}
		}()
		log.Printf("Journaling frame metadata to %s", cfg.Journal.Path)
	}

	controlLn, err := net.Listen("tcp", cfg.Control.Addr)
	if err != nil {
		return fmt.Errorf("control plane listen: %w", err)
	}
	dataLn, err := net.Listen("tcp", cfg.Data.Addr)
	if err != nil {
		controlLn.Close()
		return fmt.Errorf("data plane listen: %w", err)
	}

	control := scpi.NewServer(scpi.NewHandler(state, m), cfg.Control.WriteTimeout)
	data := waveform.NewServer(state, waveform.Config{
		InitialWindow: cfg.Data.InitialWindow,
		WriteTimeout:  cfg.Data.WriteTimeout,
		IdlePoll:      cfg.Data.IdlePoll,
		SendBuffer:    cfg.Data.SendBuffer,
	}, m, jw)

	eng := state.Engine()
	log.Printf("Bridging %s %s (%s, %d channels)", eng.Vendor(), eng.Model(), state.Mode(), len(state.Channels()))
	log.Printf("Control plane listening on %s", controlLn.Addr())
	log.Printf("Data plane listening on %s", dataLn.Addr())

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	serve := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				errOnce.Do(func() { firstErr = fmt.Errorf("%s: %w", name, err) })
				cancel()
			}
		}()
	}

	serve("control plane", func() error { return control.Serve(ctx, controlLn) })
	serve("data plane", func() error { return data.Serve(ctx, dataLn) })
	if cfg.Status.Addr != "" {
		status := newStatusServer(state, reg)
		serve("status server", func() error { return status.run(ctx, cfg.Status.Addr) })
	}

	wg.Wait()
	return firstErr
}
