package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rug-tracer/pkg/api"
	"github.com/rug-tracer/pkg/bundle"
	"github.com/rug-tracer/pkg/cartel"
	"github.com/rug-tracer/pkg/config"
	"github.com/rug-tracer/pkg/flow"
	"github.com/rug-tracer/pkg/forensic"
	"github.com/rug-tracer/pkg/httpshell"
	"github.com/rug-tracer/pkg/lineage"
	"github.com/rug-tracer/pkg/market"
	"github.com/rug-tracer/pkg/rpc"
	"github.com/rug-tracer/pkg/service"
	"github.com/rug-tracer/pkg/similarity"
	"github.com/rug-tracer/pkg/store"
	"github.com/rug-tracer/pkg/sweep"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(cfg)
	log.Info().Msg("rug tracer starting...")

	st, err := store.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("database init failed")
	}
	defer st.Close()

	shell := httpshell.New(httpshell.Options{
		Timeout:          cfg.HTTPTimeout,
		RetryAttempts:    cfg.RetryAttempts,
		RetryBaseWait:    cfg.RetryBaseWait,
		FailureThreshold: cfg.CBFailureThreshold,
		SuccessThreshold: cfg.CBSuccessThreshold,
		RecoveryTimeout:  cfg.CBRecoveryTimeout,
	})
	defer shell.Close()

	cache := store.NewCache(cfg.CacheBackend, st)
	rpcClient := rpc.NewClient(shell, cfg.SolanaRPCEndpoint)
	marketClient := market.NewClient(shell, cache, cfg.DexScreenerBaseURL,
		cfg.JupiterBaseURL, cfg.WormholeScanURL, cfg.CacheTTL)

	lineageEngine := lineage.NewEngine(marketClient, rpcClient, st, cache, lineage.Config{
		MaxDerivatives: cfg.MaxDerivatives,
		Concurrency:    cfg.LineageConcurrency,
		CacheTTL:       cfg.CacheTTL,
		Weights: similarity.Weights{
			Name:     cfg.WeightName,
			Symbol:   cfg.WeightSymbol,
			Image:    cfg.WeightImage,
			Deployer: cfg.WeightDeployer,
			Temporal: cfg.WeightTemporal,
		},
		NameThreshold:   cfg.NameSimilarityThreshold,
		SymbolThreshold: cfg.SymbolSimilarityThreshold,
	})
	bundleAnalyzer := bundle.NewAnalyzer(rpcClient, st, bundle.Config{
		Timeout:       cfg.BundleTimeout,
		MaxLaunchSigs: cfg.MaxLaunchSigs,
		MaxWallets:    cfg.MaxBundleWallets,
		ReportTTL:     cfg.BundleReportTTL,
	})
	flowTracer := flow.NewTracer(rpcClient, marketClient, st)
	cartelBuilder := cartel.NewBuilder(st, rpcClient)
	forensicEngine := forensic.NewEngine(st, rpcClient, marketClient, shell)

	svc := service.New(cfg, st, shell, marketClient, rpcClient,
		lineageEngine, bundleAnalyzer, flowTracer, cartelBuilder, forensicEngine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutting down...")
		cancel()
	}()

	notify := func(chatID int64, message string) {
		log.Info().Int64("chat", chatID).Str("alert", message).Msg("subscription alert")
	}
	sweeper := sweep.NewRunner(cfg, st, marketClient, flowTracer, cartelBuilder, notify)
	if err := sweeper.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("sweep start failed")
	}

	printSummary(cfg, st)

	server := api.New(svc, cfg.APIPort)
	if err := server.Run(ctx); err != nil {
		log.Error().Err(err).Msg("api server failed")
	}
	log.Info().Msg("goodbye")
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()
}

func printSummary(cfg *config.Config, st *store.Store) {
	head := color.New(color.FgHiCyan, color.Bold)
	line := strings.Repeat("═", 60)

	fmt.Println("\n" + line)
	head.Println("  RUG TRACER - RUNNING")
	fmt.Println(line)
	fmt.Printf("  RPC:        %s\n", cfg.SolanaRPCEndpoint)
	fmt.Printf("  Aggregator: %s\n", cfg.DexScreenerBaseURL)
	fmt.Printf("  API:        http://localhost:%d\n", cfg.APIPort)
	fmt.Printf("  Sweeps:     rug %s / cartel %s / alert %s\n",
		cfg.RugSweepInterval, cfg.CartelSweepInterval, cfg.AlertSweepInterval)
	if stats := st.Stats(); stats != nil {
		fmt.Printf("  DB:         %d events, %d flows, %d cartel edges\n",
			stats["intelligence_events"], stats["sol_flows"], stats["cartel_edges"])
	}
	fmt.Println(line + "\n")
}
