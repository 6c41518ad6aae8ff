package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	flag "github.com/spf13/pflag"

	"github.com/insoblok/inso-gateway/internal/admission"
	"github.com/insoblok/inso-gateway/internal/chainconfig"
	"github.com/insoblok/inso-gateway/internal/config"
	"github.com/insoblok/inso-gateway/internal/fees"
	"github.com/insoblok/inso-gateway/internal/genesis"
	"github.com/insoblok/inso-gateway/internal/ledger"
	"github.com/insoblok/inso-gateway/internal/mempool"
	"github.com/insoblok/inso-gateway/internal/metrics"
	"github.com/insoblok/inso-gateway/internal/producer"
	"github.com/insoblok/inso-gateway/internal/query"
	"github.com/insoblok/inso-gateway/internal/rpc"
	"github.com/insoblok/inso-gateway/internal/vmvalidator"
	"github.com/insoblok/inso-gateway/pkg/types"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (defaults are used when empty)")
	genesisPath := flag.String("genesis", "", "path to the genesis JSON file (devnet defaults are used when empty)")
	logLevel := flag.String("log.level", "", "log level override: trace, debug, info, warn, error, crit")
	flag.Parse()

	if err := run(*configPath, *genesisPath, *logLevel); err != nil {
		log.Error("Gateway failed", "err", err)
		os.Exit(1)
	}
}

func run(configPath, genesisPath, logLevel string) error {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	handler, err := newLogHandler(os.Stdout, cfg.Logging.Format, cfg.Logging.Level)
	if err != nil {
		return err
	}
	log.SetDefault(log.NewLogger(handler))

	logger := log.New("module", "main")
	logger.Info("InSo Gateway starting", "version", version)

	gen := genesis.DefaultGenesis()
	if genesisPath != "" {
		if gen, err = genesis.LoadGenesis(genesisPath); err != nil {
			return err
		}
	}
	if gen.ChainID != cfg.Ledger.ChainID {
		return fmt.Errorf("genesis chain id %d does not match ledger.chain_id %d", gen.ChainID, cfg.Ledger.ChainID)
	}
	logger.Info("Genesis loaded", "chainID", gen.ChainID, "accounts", len(gen.Alloc))

	var met *metrics.Metrics
	if cfg.Metrics.Enabled {
		met = metrics.New()
	}

	l, err := ledger.Open(ledger.Config{
		DataDir:              cfg.Ledger.DataDir,
		ChainID:              cfg.Ledger.ChainID,
		PruneWindow:          cfg.Ledger.PruneWindow,
		AccumulatorCacheSize: cfg.Ledger.AccumulatorCacheSize,
	}, gen)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer l.Close()
	met.SetLedgerVersion(l.LatestVersion())
	logger.Info("Ledger opened",
		"dataDir", cfg.Ledger.DataDir,
		"version", l.LatestVersion(),
		"pruneWindow", cfg.Ledger.PruneWindow,
	)

	store := chainconfig.NewStore(chainconfig.FromGenesis(gen))
	met.SetMinGasUnitPrice(store.Load().MinGasUnitPrice)

	pool := mempool.NewPool(cfg.Mempool.Capacity, cfg.Mempool.MaxPerSender, l)
	defer pool.Close()
	met.RegisterMempoolSize(pool.Len)

	retry := cfg.Mempool.Retry
	client := mempool.NewClient(pool, mempool.RetryPolicy{
		MaxAttempts:    retry.MaxAttempts,
		InitialBackoff: retry.InitialBackoff,
		MaxBackoff:     retry.MaxBackoff,
		Multiplier:     retry.Multiplier,
	})

	pipeline := admission.New(admission.Config{
		ValidateTimeout:  cfg.Admission.ValidateTimeout,
		SubmitTimeout:    cfg.Admission.SubmitTimeout,
		QueryTimeout:     cfg.Admission.QueryTimeout,
		CapacityBackoff:  cfg.Admission.CapacityBackoff,
		TransientBackoff: cfg.Admission.TransientBackoff,
		MaxQueryItems:    cfg.Gateway.MaxQueryItems,
	}, vmvalidator.New(l.ChainID(), store, l), client, query.NewAdapter(l), met)

	rpcHandler := rpc.NewHandler(pipeline, rpc.Limits{
		MaxInFlightSubmits: cfg.Gateway.MaxInFlightSubmits,
		MaxInFlightQueries: cfg.Gateway.MaxInFlightQueries,
		OverloadBackoff:    cfg.Gateway.OverloadBackoff,
	}, met)
	rpcHandler.SetHealth(func() rpc.Health {
		return rpc.Health{
			Status:              "ok",
			Service:             "inso-gateway",
			ChainID:             l.ChainID(),
			LatestVersion:       l.LatestVersion(),
			LedgerTimestamp:     l.Timestamp(),
			PendingTransactions: pool.Len(),
		}
	})
	rpcServer := rpc.NewServer(rpc.ServerConfig{
		ListenAddr:      cfg.Gateway.ListenAddr,
		WSAddr:          cfg.Gateway.WSAddr,
		DefaultTimeout:  cfg.Gateway.DefaultTimeout,
		MaxRequestBytes: cfg.Gateway.MaxRequestBytes,
	}, rpcHandler)
	rpcHandler.SetAcceptHook(rpcServer.WS().BroadcastPendingTx)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rpcServer.Start(ctx); err != nil {
		return fmt.Errorf("start rpc server: %w", err)
	}

	var blockProducer *producer.Producer
	if cfg.Producer.Enabled {
		snap := store.Load()
		priceModel := fees.NewPriceModel(snap.MinGasUnitPrice, gen.VM.MinGasUnitPrice, gen.VM.MaxGasUnitPrice)
		blockProducer = producer.New(producer.Config{
			Interval:      cfg.Producer.Interval,
			MaxTxPerBlock: cfg.Producer.MaxTxPerBlock,
			TxGas:         cfg.Producer.TxGas,
		}, l, pool, priceModel, store, met)
		blockProducer.SetCommitHook(func(info types.LedgerInfo) {
			rpcServer.WS().BroadcastLedgerInfo(info)
		})
		go blockProducer.Start(ctx)
	}

	if met != nil {
		met.Serve(cfg.Metrics.Addr)
	}

	logger.Info("InSo Gateway is running",
		"http", cfg.Gateway.ListenAddr,
		"ws", cfg.Gateway.WSAddr,
		"chainID", l.ChainID(),
		"producer", cfg.Producer.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", "signal", sig)

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if blockProducer != nil {
		blockProducer.Stop()
	}
	if err := rpcServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", "err", err)
	}
	if err := met.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping metrics server", "err", err)
	}

	logger.Info("InSo Gateway stopped gracefully")
	return nil
}
