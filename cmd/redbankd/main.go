package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/0xarbor/mars-core/config"
	"github.com/0xarbor/mars-core/crypto"
	"github.com/0xarbor/mars-core/native/bank"
	"github.com/0xarbor/mars-core/native/redbank"
	"github.com/0xarbor/mars-core/observability/logging"
	"github.com/0xarbor/mars-core/services/redbankd"
	redbankstate "github.com/0xarbor/mars-core/state/redbank"
	"github.com/0xarbor/mars-core/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MARS_ENV"))
	logger := logging.Setup("redbankd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	var db storage.Database
	if strings.TrimSpace(cfg.DataDir) == "" {
		db = storage.NewMemDB()
	} else {
		db, err = storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			panic(fmt.Sprintf("Failed to open database: %v", err))
		}
	}
	defer db.Close()

	engine, keeper, err := buildEngine(cfg, logger)
	if err != nil {
		logger.Error("Failed to assemble engine", slog.Any("error", err))
		os.Exit(1)
	}
	engine.SetState(redbankstate.NewManager(db))
	engine.SetBlockTime(uint64(time.Now().Unix()))

	if err := seedMarkets(engine, cfg, logger); err != nil {
		logger.Error("Failed to seed markets", slog.Any("error", err))
		os.Exit(1)
	}

	server := redbankd.NewServer(engine, keeper, logging.WithComponent(logger, "http"))
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("redbankd listening", slog.String("address", cfg.ListenAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", slog.Any("error", err))
	}
	logger.Info("redbankd stopped")
}

// buildEngine assembles the ledger engine, the bank keeper with genesis
// balances, and the startup price oracle from configuration.
func buildEngine(cfg *config.Config, logger *slog.Logger) (*redbank.Engine, *bank.Keeper, error) {
	protocol, err := cfg.Protocol.RedBankConfig()
	if err != nil {
		return nil, nil, err
	}
	moduleAddr := crypto.DeriveAddress(crypto.MarsPrefix, "module/red-bank")
	engine, err := redbank.NewEngine(protocol, moduleAddr)
	if err != nil {
		return nil, nil, err
	}

	keeper := bank.NewKeeper()
	keeper.SetNativeTaxRate(cfg.Bank.NativeTaxRateBps)
	for _, tc := range cfg.Bank.TaxCaps {
		cap, err := tc.CapAmount()
		if err != nil {
			return nil, nil, err
		}
		keeper.SetNativeTaxCap(tc.Denom, cap)
	}
	for _, g := range cfg.Genesis {
		addr, err := crypto.DecodeAddress(g.Address)
		if err != nil {
			return nil, nil, fmt.Errorf("genesis address %q: %w", g.Address, err)
		}
		asset, err := g.Asset.Asset()
		if err != nil {
			return nil, nil, err
		}
		amount, err := g.AmountInt()
		if err != nil {
			return nil, nil, err
		}
		keeper.Mint(addr, asset, amount)
	}
	engine.SetBank(keeper)

	oracle := redbank.NewStaticOracle()
	for _, p := range cfg.Prices {
		asset, err := p.Asset.Asset()
		if err != nil {
			return nil, nil, err
		}
		price := new(big.Rat).SetFloat64(p.Price)
		if price == nil || price.Sign() <= 0 {
			return nil, nil, fmt.Errorf("invalid price %v for %s", p.Price, asset)
		}
		oracle.SetPrice(asset, price)
		logger.Info("price pinned", slog.String("asset", asset.String()), slog.Float64("price", p.Price))
	}
	engine.SetOracle(oracle)
	return engine, keeper, nil
}

// seedMarkets initialises configured markets that are not stored yet.
func seedMarkets(engine *redbank.Engine, cfg *config.Config, logger *slog.Logger) error {
	owner := engine.Config().Owner
	for i := range cfg.Markets {
		asset, err := cfg.Markets[i].Asset.Asset()
		if err != nil {
			return err
		}
		if _, err := engine.Market(asset); err == nil {
			continue
		} else if !errors.Is(err, redbank.ErrAssetNotInitialized) {
			return err
		}
		market, err := engine.InitAsset(owner, asset, cfg.Markets[i].Params())
		if err != nil {
			return err
		}
		logger.Info("market initialised",
			slog.String("asset", asset.String()),
			slog.String("ma_token", market.MaToken.String()),
		)
	}
	return nil
}
