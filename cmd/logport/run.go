package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michcald/logport"
)

type runOptions struct {
	tasks    []string
	interval time.Duration
	count    int
}

func newRunCmd() *cobra.Command {
	cfg, loadErr := Load()
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run tasks that log to the serial device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if loadErr != nil {
				return fmt.Errorf("load config: %w", loadErr)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cfg.Serial.Device, "device", "d", cfg.Serial.Device, "serial device path")
	f.IntVarP(&cfg.Serial.Baud, "baud", "b", cfg.Serial.Baud, "baud rate")
	f.StringVar(&cfg.Serial.Backend, "backend", cfg.Serial.Backend, "serial backend (bugst or tarm)")
	f.BoolVar(&cfg.Serial.CTS, "cts", cfg.Serial.CTS, "gate transmits on the CTS line")
	f.IntVar(&cfg.Serial.ReadyPin, "ready-pin", cfg.Serial.ReadyPin, "BCM number of a transmitter ready GPIO")
	f.DurationVar(&cfg.Port.TransmitTimeout, "transmit-timeout", cfg.Port.TransmitTimeout, "timeout of a single transmit")
	f.DurationVar(&cfg.Port.ReadyTimeout, "ready-timeout", cfg.Port.ReadyTimeout, "how long to wait for the transmitter to become ready")
	f.StringVar(&cfg.Metrics.Addr, "metrics-addr", cfg.Metrics.Addr, "serve Prometheus metrics on this address")
	f.StringSliceVar(&opts.tasks, "task", []string{"net", "ui"}, "names of the logging tasks")
	f.DurationVar(&opts.interval, "interval", time.Second, "delay between log lines of a task")
	f.IntVar(&opts.count, "count", 0, "lines per task, 0 runs until interrupted")
	return cmd
}

func run(ctx context.Context, cfg Config, opts runOptions) error {
	logger, err := newLogger(cfg.Production)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logport.SetLogger(logport.NewZapLogger(logger))

	kernel := logport.NewKernel(logport.KernelConfig{})
	port, err := logport.New(logport.Config{
		PortConfig: logport.PortConfig{
			TransmitTimeout: cfg.Port.TransmitTimeout,
			ReadyTimeout:    cfg.Port.ReadyTimeout,
			OnDrop: func(p []byte, err error) {
				logger.Warn("log line dropped", zap.Int("bytes", len(p)), zap.Error(err))
			},
		},
		Kernel:   kernel,
		Device:   cfg.Serial.Device,
		BaudRate: cfg.Serial.Baud,
		Backend:  cfg.Serial.Backend,
		CTSFlow:  cfg.Serial.CTS,
		ReadyPin: cfg.Serial.ReadyPin,
	})
	if err != nil {
		return err
	}
	defer port.Close()

	if err := port.Init(); err != nil {
		return err
	}
	logger.Info("port ready", zap.Stringer("port", port), zap.Stringer("kernel", kernel))

	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(logport.NewCollector(port, cfg.Serial.Device))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	var wg sync.WaitGroup
	for _, name := range opts.tasks {
		wg.Add(1)
		kernel.Spawn(ctx, name, func(ctx context.Context) {
			defer wg.Done()
			emitLines(ctx, port, opts)
		})
	}
	wg.Wait()

	s := port.Stats()
	logger.Info("done",
		zap.Uint64("bytes_sent", s.BytesSent),
		zap.Uint64("dropped", s.Dropped),
		zap.Uint64("lock_errors", s.LockErrors),
	)
	return nil
}

// emitLines formats lines the way a logging engine does: the prefix and the
// message are separate outputs inside one critical section, and the prefix
// is emitted under a nested lock.
func emitLines(ctx context.Context, port *logport.Port, opts runOptions) {
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	for n := 1; opts.count == 0 || n <= opts.count; n++ {
		port.Lock(ctx)
		emitPrefix(ctx, port)
		port.Output(ctx, []byte(fmt.Sprintf("line %d\r\n", n)))
		port.Unlock(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func emitPrefix(ctx context.Context, port *logport.Port) {
	port.Lock(ctx)
	defer port.Unlock(ctx)

	prefix := "[" + port.Time() + "]"
	if info := port.ProcessInfo(); info != "" {
		prefix += "[" + info + "]"
	}
	prefix += "[" + port.ThreadInfo(ctx) + "] "
	port.Output(ctx, []byte(prefix))
}
