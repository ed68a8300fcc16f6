package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sebdeveloper6952/gobuffet"
	"github.com/sebdeveloper6952/gobuffet/config"
	"github.com/sebdeveloper6952/gobuffet/events"
	"github.com/sebdeveloper6952/gobuffet/httpapi"
	"github.com/sebdeveloper6952/gobuffet/metrics"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the service announcer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	var cl closers
	defer cl.close()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	cl.add(func() { _ = st.Close() })

	client := newHTTPClient()
	gw, err := newGateway(cfg.Lightning, client, &cl)
	if err != nil {
		return err
	}
	locker, err := newLocker(ctx, cfg.Lease, &cl)
	if err != nil {
		return err
	}
	reg, err := newRegistry(cfg.Services, client)
	if err != nil {
		return err
	}

	var hooks []gobuffet.Hook
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector, err := metrics.NewCollector(promReg)
		if err != nil {
			return err
		}
		hooks = append(hooks, collector)
		metricsHandler = promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
	}
	if cfg.Events.NatsURL != "" {
		nc, err := events.Connect(cfg.Events.NatsURL)
		if err != nil {
			return err
		}
		cl.add(func() { _ = nc.Drain() })
		hooks = append(hooks, events.NewPublisher(nc, cfg.Events.Prefix, logger))
	}

	engine, err := gobuffet.NewEngine(st, gw, reg,
		gobuffet.WithLogger(logger),
		gobuffet.WithLocker(locker),
		gobuffet.WithHooks(hooks...),
		gobuffet.WithPublicURL(cfg.Server.PublicURL),
		gobuffet.WithDefaultTries(cfg.Engine.DefaultTries),
		gobuffet.WithTimeouts(cfg.Engine.GatewayTimeout, cfg.Engine.StepTimeout),
		gobuffet.WithLeaseWait(cfg.Lease.Wait),
	)
	if err != nil {
		return err
	}

	if cfg.Nostr.Enabled {
		announcer, err := newAnnouncer(cfg, reg, logger, &cl)
		if err != nil {
			return err
		}
		go announcer.Run(ctx)
	}

	api := httpapi.New(engine, st, httpapi.Config{
		UploadDir:      cfg.Server.UploadDir,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		InvoiceLimit:   httpapi.Limit(cfg.Server.InvoiceLimit),
		PollLimit:      httpapi.Limit(cfg.Server.PollLimit),
		Metrics:        metricsHandler,
	}, logger)
	cl.add(api.Close)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[http] listening on %s, %d services", cfg.Server.Addr, len(reg.Services()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("[http] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
