// Package main provides curvewatchd, the bonding-curve position-watching
// trading daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/klingon-exchange/curvewatch/internal/alerts"
	"github.com/klingon-exchange/curvewatch/internal/chainparams"
	"github.com/klingon-exchange/curvewatch/internal/config"
	"github.com/klingon-exchange/curvewatch/internal/confirm"
	"github.com/klingon-exchange/curvewatch/internal/engine"
	"github.com/klingon-exchange/curvewatch/internal/events"
	"github.com/klingon-exchange/curvewatch/internal/price"
	"github.com/klingon-exchange/curvewatch/internal/rpcclient"
	"github.com/klingon-exchange/curvewatch/internal/storage"
	"github.com/klingon-exchange/curvewatch/internal/swapbuilder"
	"github.com/klingon-exchange/curvewatch/internal/wallet"
	"github.com/klingon-exchange/curvewatch/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

// walletPassphraseEnv is the environment variable the wallet unlock
// password is read from; it is never accepted as a flag so it cannot end
// up in shell history or a process listing.
const walletPassphraseEnv = "CURVEWATCH_WALLET_PASSWORD"

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.curvewatch", "Data directory")
		configFile  = flag.String("config", "", "Config file path; config.yaml is loaded from this path's directory (default: <data-dir>/config.yaml)")
		network     = flag.String("network", "", "Network (mainnet-beta, devnet), overrides config")
		rpcEndpoint = flag.String("rpc-endpoint", "", "RPC endpoint, overrides config")
		wsListen    = flag.String("ws-listen", "", "LifecycleEvent websocket listen address, overrides config")
		alertListen = flag.String("alert-listen", "", "TokenAlert websocket listen address")
		tradingMode = flag.String("trading-mode", "", "Trading mode (paper, live), overrides config")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(logging.DefaultConfig())
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("curvewatchd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := *dataDir
	configDir := effectiveDataDir
	if *configFile != "" {
		configDir = filepath.Dir(*configFile)
	}

	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}
	cfg.DataDir = effectiveDataDir

	if *network != "" {
		cfg.Network = chainparams.Network(*network)
	}
	if *rpcEndpoint != "" {
		cfg.RPCEndpoint = *rpcEndpoint
	}
	if *wsListen != "" {
		cfg.WebsocketListenAddr = *wsListen
	}
	if *tradingMode != "" {
		cfg.TradingMode = config.TradingMode(*tradingMode)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	log = logging.New(&logging.Config{Level: cfg.LogLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	params := chainparams.MustGet(cfg.Network)
	if cfg.RPCEndpoint == "" {
		cfg.RPCEndpoint = params.DefaultRPCEndpoint
	}
	log.Info("config loaded", "path", config.ConfigPath(configDir), "network", cfg.Network, "trading_mode", cfg.TradingMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(&storage.Config{DataDir: expandDataDir(cfg.DataDir)})
	if err != nil {
		log.Fatal("failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("storage initialized", "path", expandDataDir(cfg.DataDir))

	rpcClient := rpcclient.New(cfg.RPCEndpoint, cfg.RPCConcurrency)

	walletService := wallet.NewService(wallet.ServiceConfig{
		DataDir: expandDataDir(cfg.DataDir),
		RPC:     rpcClient,
	})
	if !walletService.HasWallet() {
		log.Fatal("no wallet found; create one with the wallet management tooling before starting the daemon", "data_dir", cfg.DataDir)
	}

	passphrase := os.Getenv(walletPassphraseEnv)
	if passphrase == "" {
		log.Fatal("wallet unlock password not supplied", "env", walletPassphraseEnv)
	}
	if err := walletService.LoadWallet(passphrase, ""); err != nil {
		log.Fatal("failed to unlock wallet", "error", err)
	}
	defer walletService.Lock()

	address, _ := walletService.Address()
	log.Info("wallet unlocked", "address", address)

	deps := engine.Deps{
		Parser:     confirm.NewDefaultParser(),
		Builder:    notImplementedInstructionBuilder,
		Wallet:     walletService,
		Storage:    store,
		PoolLayout: price.PoolLayout{BaseMintOffset: 0, QuoteMintOffset: 32, BaseReserveOffset: 64, QuoteReserveOffset: 96},
	}

	eng, err := engine.New(cfg, deps)
	if err != nil {
		log.Fatal("failed to assemble engine", "error", err)
	}

	var wsHub *events.WSHub
	if cfg.WebsocketListenAddr != "" {
		wsHub = events.NewWSHub()
		eng.Bus().Register(wsHub)
		go wsHub.Run()

		mux := http.NewServeMux()
		mux.Handle("/ws", wsHub)
		server := &http.Server{Addr: cfg.WebsocketListenAddr, Handler: mux}
		go func() {
			log.Info("lifecycle event websocket listening", "addr", cfg.WebsocketListenAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("websocket server stopped", "error", err)
			}
		}()
		defer server.Close()
	}

	eng.Start(ctx)
	log.Info("startup reconciliation complete, watching active positions")

	if *alertListen != "" {
		listener := alerts.NewWSListener(64)
		mux := http.NewServeMux()
		mux.Handle("/alerts", listener)
		server := &http.Server{Addr: *alertListen, Handler: mux}
		go func() {
			log.Info("alert ingestion websocket listening", "addr", *alertListen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("alert server stopped", "error", err)
			}
		}()
		defer server.Close()

		go eng.IngestAlerts(ctx, listener.Alerts())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down...")
	eng.Shutdown()
	cancel()
	log.Info("goodbye")
}

func expandDataDir(dataDir string) string {
	if len(dataDir) > 0 && dataDir[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, dataDir[1:])
	}
	return dataDir
}

// notImplementedInstructionBuilder is the placeholder swapbuilder.
// InstructionBuilder: assembling the concrete bonding-curve and AMM
// program instructions requires their deployed IDL, which is outside the
// scope of this engine's own components (§6 lists program identifiers as
// configuration, not the wire format of their instructions). A production
// deployment supplies a real builder here.
func notImplementedInstructionBuilder(pool swapbuilder.PoolState, amountIn, minMaxOut uint64, isBuy bool) ([]solana.Instruction, error) {
	return nil, fmt.Errorf("engine: no instruction builder configured for pool %s", pool.Pool)
}
