package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/proeugene/field-syncer/internal/events"
	"github.com/proeugene/field-syncer/internal/fc"
	"github.com/proeugene/field-syncer/internal/metrics"
	"github.com/proeugene/field-syncer/internal/session"
	sig "github.com/proeugene/field-syncer/internal/signal"
	"github.com/proeugene/field-syncer/internal/syncer"
	"github.com/proeugene/field-syncer/internal/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("field-syncer %s (commit %s, built %s)\n", version, commit, date)
		return syncer.ExitOK
	}
	if cfg == nil {
		return syncer.ExitFailure
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		l.Info("shutdown_signal", "signal", s.String())
		cancel()
	}()

	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
		if port := addrPort(cfg.metricsAddr); port > 0 {
			cleanupMDNS, err := startMDNS(ctx, cfg, port)
			if err != nil {
				l.Warn("mdns_start_failed", "error", err)
			} else {
				defer cleanupMDNS()
			}
		}
	}

	// Indicator: the driver owns the backend for the whole run.
	backend, err := initSignalBackend(cfg)
	if err != nil {
		l.Error("signal_backend_init_error", "error", err)
		return syncer.ExitFailure
	}
	defer backend.Close()
	driver := sig.NewDriver(backend, l)
	driverCtx, driverStop := context.WithCancel(context.Background())
	driverDone := make(chan struct{})
	go func() {
		driver.Run(driverCtx)
		close(driverDone)
	}()

	hub := events.New()
	sub := hub.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case ev := <-sub.Out:
				if ev.Signal != sig.EventNone {
					driver.Notify(ev.Signal)
				}
				if ev.Err == nil && ev.Bytes > 0 {
					l.Debug("sync_progress", "step", ev.Step, "bytes", ev.Bytes)
				}
			case <-sub.Closed:
				return
			}
		}
	}()

	finalEvent := sig.Error
	code := syncer.ExitFailure
	switch err := runSync(ctx, cfg, hub, l); {
	case err == nil:
		code = syncer.ExitOK
		finalEvent = sig.EventNone // Success/Empty already latched via the hub
	default:
		code = syncer.ExitCode(err)
		driver.Notify(sig.Error)
	}

	// Hold the process open long enough for the operator to read the
	// terminal pattern before the indicator is released.
	hold := signalHold(finalEvent, code)
	if hold > 0 {
		select {
		case <-time.After(hold):
		case <-ctx.Done():
		}
	}
	driverStop()
	<-driverDone
	hub.Remove(sub)
	cancel()
	wg.Wait()
	return code
}

// runSync wires the serial stack together and executes one sync attempt.
func runSync(ctx context.Context, cfg *appConfig, hub *events.Hub, l *slog.Logger) error {
	port, err := transport.Open(cfg.port, cfg.baud, cfg.serialReadTO)
	if err != nil {
		metrics.IncError(metrics.ErrSerialOpen)
		return fmt.Errorf("%w: %s: %v", syncer.ErrSerialOpen, cfg.port, err)
	}
	l.Info("serial_open", "device", cfg.port, "baud", cfg.baud)
	t := transport.New(port, l)
	defer t.Close()

	client := fc.NewClient(t, cfg.requestTO)
	store := &session.Store{Root: cfg.storagePath}
	s := syncer.New(client, store, syncer.Config{
		StoragePath:       cfg.storagePath,
		HeadroomBytes:     uint64(cfg.minFreeMB) << 20,
		EraseAfterSync:    cfg.eraseAfterSync,
		DryRun:            cfg.dryRun,
		ChunkSize:         cfg.chunkSize,
		PipelineDepth:     cfg.pipelineDepth,
		ChunkTimeout:      cfg.chunkTO,
		SyncTimeout:       cfg.syncTO,
		ErasePollInterval: cfg.erasePollInterval,
		EraseTimeout:      cfg.eraseTO,
	}, syncer.WithHub(hub), syncer.WithLogger(l))

	res, err := s.Run(ctx)
	if err != nil {
		return err
	}
	l.Info("sync_result",
		"outcome", string(res.Outcome), "dir", res.Dir,
		"bytes", res.Bytes, "erase_completed", res.EraseCompleted)
	return nil
}

// signalHold is how long the terminal pattern stays visible before exit.
func signalHold(final sig.Event, code int) time.Duration {
	if code == syncer.ExitOK {
		// Success or Empty finished latching through the hub; one full
		// cycle of the longer of the two covers both.
		return sig.CycleDuration(sig.Success)
	}
	if final == sig.Error {
		return sig.CycleDuration(sig.Error)
	}
	return 0
}

// addrPort extracts the numeric port from a listen address like ":9100".
func addrPort(addr string) int {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		if pn, perr := strconv.Atoi(p); perr == nil {
			return pn
		}
	}
	return 0
}
