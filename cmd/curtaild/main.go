package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/voltmesh/curtaild/bridge/signing"
	"github.com/voltmesh/curtaild/bridge/xrpl"
	"github.com/voltmesh/curtaild/escrow"
	"github.com/voltmesh/curtaild/events"
	"github.com/voltmesh/curtaild/internal/config"
	"github.com/voltmesh/curtaild/internal/health"
	"github.com/voltmesh/curtaild/internal/rpc"
	"github.com/voltmesh/curtaild/internal/storage"
	"github.com/voltmesh/curtaild/oracle"
	"github.com/voltmesh/curtaild/reconcile"
	"github.com/voltmesh/curtaild/rewards"
)

var (
	configPath = flag.String("config", "", "Path to configuration file")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	if *configPath == "" {
		log.Fatal("--config flag is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := buildLogger(*debug)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting curtaild", zap.String("config", cfg.String()))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("curtaild exited", zap.Error(err))
	}
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	holdStore, err := escrow.NewStore(db)
	if err != nil {
		return err
	}
	directory, err := events.NewDirectory(db)
	if err != nil {
		return err
	}
	rewardStore, err := rewards.NewStore(db)
	if err != nil {
		return err
	}

	// Ledger access
	client, err := xrpl.NewRPCClient(xrpl.DefaultClientConfig(cfg.Ledger.RPCEndpoint))
	if err != nil {
		return err
	}
	gateway, err := xrpl.NewGateway(client)
	if err != nil {
		return err
	}
	if cfg.Ledger.Currency != "" {
		gateway.UseIssuedCurrency(cfg.Ledger.Currency, cfg.Ledger.IssuerAddress)
	}

	// Signing
	providerCfg := signing.DefaultProviderConfig(cfg.Signing.Endpoint)
	providerCfg.APIKey = cfg.Signing.APIKey
	providerCfg.APISecret = cfg.Signing.APISecret
	provider, err := signing.NewHTTPProvider(providerCfg)
	if err != nil {
		return err
	}
	broker, err := signing.NewBroker(provider, logger)
	if err != nil {
		return err
	}
	broker.SetDefaultExpiry(cfg.GetSigningExpiry())

	// Settlement
	orchestrator, err := escrow.NewOrchestrator(holdStore, gateway, broker, logger)
	if err != nil {
		return err
	}
	manager, err := rewards.NewManager(directory, holdStore, orchestrator, gateway, broker, rewardStore,
		rewards.Config{
			CustodyAddress: cfg.Ledger.CustodyAddress,
			ReserveAddress: cfg.Ledger.ReserveAddress,
		}, logger)
	if err != nil {
		return err
	}
	reconciler, err := reconcile.NewReconciler(holdStore, manager, gateway, logger)
	if err != nil {
		return err
	}

	// Optional ledger confirmation stream
	if cfg.Ledger.WSEndpoint != "" {
		subscriber, err := xrpl.NewEventSubscriber(cfg.Ledger.WSEndpoint, logger)
		if err != nil {
			return err
		}
		if err := subscriber.Start(ctx); err != nil {
			return err
		}
		defer subscriber.Stop()
		reconciler.SetTxWatcher(subscriber)

		go func() {
			for confirmation := range subscriber.Confirmations() {
				if err := reconciler.HandleConfirmation(ctx, confirmation); err != nil {
					logger.Warn("failed to apply ledger confirmation",
						zap.String("tx_hash", confirmation.Hash),
						zap.Error(err))
				}
			}
		}()
	}

	// Verification oracle
	source, err := oracle.NewHTTPSource(cfg.Oracle.MeasurementEndpoint, cfg.Oracle.MeasurementAPIKey)
	if err != nil {
		return err
	}
	verifier, err := oracle.New(directory, holdStore, orchestrator, manager, source, cfg.GetOracleInterval(), logger)
	if err != nil {
		return err
	}
	if err := verifier.Start(ctx); err != nil {
		return err
	}
	defer verifier.Stop()

	// HTTP surface
	checker := health.NewHealthChecker(db, client)
	server := rpc.NewServer(&rpc.Dependencies{
		Manager:    manager,
		Holds:      holdStore,
		Directory:  directory,
		Reconciler: reconciler,
		Health:     checker.Handler(),
		Logger:     logger,
	})
	if err := server.Start(cfg.Server.ListenAddr, rpc.Options{
		APIKeys:   cfg.Server.APIKeys,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
	}); err != nil {
		return err
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("RPC server shutdown failed", zap.Error(err))
	}

	return nil
}

func openStore(cfg *config.Config) (*badger.DB, error) {
	if cfg.Storage.Backend == "memory" {
		return storage.OpenInMemory()
	}
	return storage.Open(cfg.Storage.Path)
}
