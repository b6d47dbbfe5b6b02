package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devghori1264/agingwms/internal/api"
	"github.com/devghori1264/agingwms/internal/config"
	"github.com/devghori1264/agingwms/internal/events"
	"github.com/devghori1264/agingwms/internal/gateway"
	"github.com/devghori1264/agingwms/internal/inventory"
	"github.com/devghori1264/agingwms/internal/lifecycle"
	"github.com/devghori1264/agingwms/internal/logging"
	"github.com/devghori1264/agingwms/internal/metrics"
	natsclient "github.com/devghori1264/agingwms/internal/nats"
	"github.com/devghori1264/agingwms/internal/server"
	"github.com/devghori1264/agingwms/internal/statuscache"
	"github.com/devghori1264/agingwms/internal/steps"
	"github.com/devghori1264/agingwms/internal/storage"
	"github.com/devghori1264/agingwms/internal/tracing"
	"github.com/devghori1264/agingwms/internal/workflow"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
	)
	cmd := &cobra.Command{
		Use:          "agingd",
		Short:        "Aging-job orchestrator for battery-cell warehouse slots",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, envFile)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, &cfg); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "YAML config file")
	f.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before AGING_* variables")
	f.String("grpc-addr", "", "gRPC listen address (empty disables)")
	f.String("http-addr", "", "HTTP shim listen address (empty disables)")
	f.String("metrics-addr", "", "Prometheus metrics listen address (empty disables)")
	f.String("db", "", "Badger DB path")
	f.Bool("in-memory", false, "keep the store in memory")
	f.String("nats-url", "", "NATS server URL (empty disables the bus)")
	f.String("log-level", "", "log level")
	f.String("log-format", "", "log format: json or console")
	f.Bool("tracing", false, "export spans to stdout")
	return cmd
}

// applyFlags overrides cfg with the flags set on the command line.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	strs := map[string]*string{
		"grpc-addr":    &cfg.GRPCAddr,
		"http-addr":    &cfg.HTTPAddr,
		"metrics-addr": &cfg.MetricsAddr,
		"db":           &cfg.DBPath,
		"nats-url":     &cfg.NATSURL,
		"log-level":    &cfg.Log.Level,
		"log-format":   &cfg.Log.Format,
	}
	for name, p := range strs {
		if f.Changed(name) {
			*p, _ = f.GetString(name)
		}
	}
	bools := map[string]*bool{
		"in-memory": &cfg.InMemory,
		"tracing":   &cfg.Tracing.Enabled,
	}
	for name, p := range bools {
		if f.Changed(name) {
			*p, _ = f.GetBool(name)
		}
	}
	return cfg.Validate()
}

func run(ctx context.Context, cfg config.Config) error {
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	shutdownTracing, err := tracing.Setup(tracing.Options{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, log)
	if err != nil {
		return err
	}

	store, err := storage.NewBadgerStore(storage.Options{Path: cfg.DBPath, InMemory: cfg.InMemory, Logger: log})
	if err != nil {
		return fmt.Errorf("failed to open badger store: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	cache := statuscache.New(store, cfg.CacheTTL, m)
	cache.Start()
	defer cache.Stop()

	hub := events.NewHub(m)
	var publisher events.Publisher = hub

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = natsclient.Connect(cfg.NATSURL, "agingd", log)
		if err != nil {
			return err
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				log.Warn("nats drain", zap.Error(err))
			}
		}()
		publisher = events.Tee(hub, natsclient.NewPublisher(nc, log))
	}

	retry := cfg.RetryPolicy()
	retry.OnConflict = m.Conflict
	runner := steps.NewRunner(cache, log, m, cfg.StepOptions())
	ctrl := lifecycle.New(lifecycle.Config{
		Store:   store,
		Cache:   cache,
		Builder: workflow.NewBuilder(runner, log),
		Events:  publisher,
		Logger:  log,
		Metrics: m,
		Retry:   retry,
	})
	if _, err := ctrl.Recover(ctx); err != nil {
		return fmt.Errorf("recover slots: %w", err)
	}
	inv := inventory.NewService(store, cache, ctrl, retry, log)
	gw := gateway.New(ctrl, inv, log, m, cfg.CommandTimeout)

	var responder *natsclient.Responder
	if nc != nil {
		responder = natsclient.NewResponder(nc, gw, log)
		if err := responder.Start(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
		}
		grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(server.LoggingInterceptor(log)))
		server.New(gw, hub, log).RegisterGRPC(grpcServer)
		g.Go(func() error {
			log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
			return grpcServer.Serve(lis)
		})
	}

	var httpServers []*http.Server
	serve := func(name string, srv *http.Server) {
		httpServers = append(httpServers, srv)
		g.Go(func() error {
			log.Info(name+" listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	if cfg.HTTPAddr != "" {
		serve("HTTP shim", &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           api.NewHandler(gw, hub, log).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		api.RegisterMetrics(mux, reg)
		serve("metrics server", &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if responder != nil {
			responder.Stop()
		}
		// Ends Watch and SSE streams so the servers can drain.
		hub.Close()
		if grpcServer != nil {
			if err := server.Stop(sctx, grpcServer); err != nil {
				log.Warn("grpc server forced to stop", zap.Error(err))
			}
		}
		for _, srv := range httpServers {
			if err := srv.Shutdown(sctx); err != nil {
				log.Warn("http server shutdown error", zap.Error(err))
			}
		}
		if err := ctrl.Shutdown(sctx); err != nil {
			log.Warn("jobs did not stop in time", zap.Error(err))
		}
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("trace provider shutdown", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	log.Info("shutdown complete")
	return err
}
