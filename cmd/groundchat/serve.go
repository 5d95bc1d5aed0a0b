package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammad-safakhou/groundchat/config"
	"github.com/mohammad-safakhou/groundchat/internal/augment"
	"github.com/mohammad-safakhou/groundchat/internal/runtime"
	"github.com/mohammad-safakhou/groundchat/internal/server"
	"github.com/mohammad-safakhou/groundchat/internal/session"
	"github.com/mohammad-safakhou/groundchat/tools/web_fetch"
	"github.com/mohammad-safakhou/groundchat/tools/web_ingest"
	"github.com/mohammad-safakhou/groundchat/tools/web_search"
	"github.com/spf13/cobra"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var addr, wsAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket session server and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Address = addr
			}
			if cmd.Flags().Changed("ws-addr") {
				cfg.Server.WSAddress = wsAddr
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "HTTP API listen address (overrides server.address)")
	serve.Flags().StringVar(&wsAddr, "ws-addr", "", "websocket listen address (overrides server.ws_address)")
	return serve
}

func serve(ctx context.Context, cfg *config.Config) error {
	tel, meter, tracer, err := runtime.SetupTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()
	metrics := runtime.NewMetrics(meter)

	res, err := openStore(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer res.Shutdown()

	searcher, err := web_search.NewWebSearcher(cfg.Search, nil)
	if err != nil {
		return fmt.Errorf("search init: %w", err)
	}
	fetcher, err := web_fetch.NewWebFetcher(cfg.Loader)
	if err != nil {
		return fmt.Errorf("loader init: %w", err)
	}

	engine := session.NewEngine(session.Deps{
		Provider: res.provider,
		Searcher: searcher,
		Pipeline: web_ingest.NewPipeline(fetcher, res.store, cfg.Ingest, metrics),
		Resolver: augment.NewResolver(res.store, cfg.Store.TopK),
		Metrics:  metrics,
		Tracer:   tracer,
	}, session.Options{
		AcceptedVersion:  cfg.Protocol.AcceptedVersion,
		DefaultModel:     cfg.LLM.DefaultModel,
		QueryInstruction: cfg.Protocol.QueryInstruction,
	})

	srv := server.New(cfg.Server, engine, tel.MetricsHandler())
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	res.logger.Printf("shut down")
	return nil
}
