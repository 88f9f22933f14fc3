// Command nrsim runs the slot-driven multi-cell simulator and serves the
// resource allocation gRPC service and Prometheus metrics alongside it.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/signalsfoundry/nrstack/internal/config"
	"github.com/signalsfoundry/nrstack/internal/gnb"
	"github.com/signalsfoundry/nrstack/internal/logging"
	"github.com/signalsfoundry/nrstack/internal/observability"
	"github.com/signalsfoundry/nrstack/internal/raservice"
	"github.com/signalsfoundry/nrstack/timectrl"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration; built-in single cell when empty")
	slots := flag.Int64("slots", -1, "Number of slots to run, 0 until interrupted (overrides the configuration)")
	realTime := flag.Bool("realtime", false, "Pace slots against the wall clock")
	logLevel := flag.String("log-level", "", "Log level (overrides the configuration)")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics (overrides the configuration)")
	rpcAddr := flag.String("rpc-addr", "", "TCP address of the RA gRPC service (overrides the configuration)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logging.NewFromEnv().Error(context.Background(), "failed to load configuration",
				logging.String("path", *configPath), logging.Err(err))
			os.Exit(1)
		}
		cfg = loaded
	}
	if *slots >= 0 {
		cfg.Run.Slots = uint64(*slots)
	}
	if *realTime {
		cfg.Run.RealTime = true
	}
	if *logLevel != "" {
		cfg.Logger.Level = *logLevel
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if *rpcAddr != "" {
		cfg.RPC.Addr = *rpcAddr
	}

	log := logging.New(logging.Config{Level: cfg.Logger.Level, Format: cfg.Logger.Format, Components: cfg.Logger.Components})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cfg.Validate(); err != nil {
		log.Error(ctx, "invalid configuration", logging.Err(err))
		os.Exit(1)
	}

	var lis net.Listener
	if cfg.RPC.Addr != "" {
		var err error
		lis, err = net.Listen("tcp", cfg.RPC.Addr)
		if err != nil {
			log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.RPC.Addr), logging.Err(err))
			os.Exit(1)
		}
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
}

// run drives the configured cells until the slot budget is spent or ctx
// ends. The RA service is served on lis when it is not nil.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	log = logging.OrNoop(log)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "nrsim",
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	slotMetrics, err := observability.NewSlotCollector(nil)
	if err != nil {
		return err
	}
	rpcMetrics, err := observability.NewRPCCollector(nil)
	if err != nil {
		return err
	}

	cells, err := gnb.NewCells(cfg, gnb.Deps{Log: log, Metrics: slotMetrics, Seed: cfg.Run.Seed})
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range cells {
			c.Close()
		}
	}()
	rpcMetrics.SetCells(len(cells))

	metricsSrv := serveMetrics(cfg.Metrics.Addr, rpcMetrics, log)
	defer func() {
		if metricsSrv == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	if lis != nil {
		server := raservice.NewServer(raservice.NewService(log), rpcMetrics, log)
		log.Info(ctx, "starting RA gRPC server", logging.String("addr", lis.Addr().String()))
		go func() {
			if err := server.Serve(lis); err != nil {
				log.Error(ctx, "gRPC server exited", logging.Err(err))
			}
		}()
		defer server.GracefulStop()
	}

	mode := timectrl.Accelerated
	if cfg.Run.RealTime {
		mode = timectrl.RealTime
	}
	clock := timectrl.NewSlotController(cfg.Numerology(), mode)
	runner := gnb.NewRunner(clock, cells, log)

	err = runner.Run(ctx, cfg.Run.Slots)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Info(ctx, "simulation interrupted", logging.String("at", clock.Now().String()))
		return nil
	}
	if err != nil {
		return err
	}
	log.Info(ctx, "simulation complete", logging.Any("slots", clock.Ticks()))
	return nil
}

func serveMetrics(addr string, collector *observability.RPCCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
