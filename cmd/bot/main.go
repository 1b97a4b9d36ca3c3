package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fleetgrid/gogrid/internal/api"
	"github.com/fleetgrid/gogrid/internal/chain"
	"github.com/fleetgrid/gogrid/internal/ledger"
	"github.com/fleetgrid/gogrid/internal/metrics"
	"github.com/fleetgrid/gogrid/internal/pricefeed"
	"github.com/fleetgrid/gogrid/internal/services"
	"github.com/fleetgrid/gogrid/internal/venue"
	"github.com/fleetgrid/gogrid/internal/wallet"
	"github.com/fleetgrid/gogrid/pkg/config"
	"github.com/fleetgrid/gogrid/pkg/logger"
	"github.com/fleetgrid/gogrid/pkg/shutdown"
)

const gracefulShutdownPeriod = 15 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logger.Errorf("启动失败: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	store, err := ledger.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("打开订单台账失败: %w", err)
	}

	mnemonic, err := wallet.LoadMnemonic(cfg.Fleet)
	if err != nil {
		return fmt.Errorf("加载助记词失败: %w", err)
	}
	fleet, err := wallet.NewFleet(mnemonic, cfg.Fleet)
	if err != nil {
		return fmt.Errorf("派生钱包舰队失败: %w", err)
	}
	if err := fleet.Register(rootCtx, store, cfg); err != nil {
		return fmt.Errorf("登记钱包失败: %w", err)
	}

	prices, err := pricefeed.New(cfg.PriceFeed)
	if err != nil {
		return fmt.Errorf("初始化价格源失败: %w", err)
	}

	var (
		venueClient services.VenueClient
		chainClient services.ChainClient
	)
	if cfg.DryRun {
		logger.Warnf("纸交易模式：不会发出任何真实交易")
		venueClient = services.NewPaperVenue()
		chainClient = services.NewPaperChain(prices, 10000)
	} else {
		cc, err := chain.Dial(cfg.Chain.RPCURL, cfg.Chain.ChainID)
		if err != nil {
			return fmt.Errorf("连接链 RPC 失败: %w", err)
		}
		vc, err := venue.New(cc, cfg.Venue)
		if err != nil {
			return fmt.Errorf("初始化场馆客户端失败: %w", err)
		}
		venueClient = vc
		chainClient = cc
	}

	builder := services.NewOrderBuilder(chainClient, store, cfg.Grid)
	executor := services.NewOrderExecutor(venueClient, chainClient, store, time.Duration(cfg.Venue.SettleDelaySecs)*time.Second)
	syncer := services.NewStatusSynchronizer(venueClient, store)
	counter := services.NewCounterManager(builder, executor, store, prices, fleet, cfg.Counter)
	grid := services.NewGridPlacer(builder, executor, store, chainClient, prices, cfg.Grid)
	rebalancer := services.NewRebalancer(venueClient, chainClient, store, prices, cfg.Rebalance, cfg.Grid.SlippagePct)
	scheduler := services.NewFleetScheduler(fleet, grid, syncer, counter, rebalancer, store, cfg)

	sd := shutdown.NewManager()
	sd.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
		defer wg.Done()
		scheduler.Stop()
	})

	if cfg.MetricsListenAddr != "" {
		if _, err := metrics.StartAsync(rootCtx, cfg.MetricsListenAddr); err != nil {
			logger.Warnf("metrics 服务启动失败: %v", err)
		} else {
			logger.Infof("metrics/pprof 监听 %s", cfg.MetricsListenAddr)
		}
	}

	if cfg.API.Enabled {
		apiServer := api.NewServer(store, scheduler, cfg.API.ListenAddr)
		apiServer.Start()
		sd.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
			defer wg.Done()
			if err := apiServer.Stop(ctx); err != nil {
				logger.Warnf("关闭 API 服务失败: %v", err)
			}
		})
	}

	scheduler.Start()
	logger.Infof("gogrid 已启动: wallets=%d pools=%d dryRun=%v", fleet.Size(), len(cfg.Pools), cfg.DryRun)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Infof("收到信号 %s，开始优雅关闭", sig)

	rootCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownPeriod)
	defer cancel()
	sd.Shutdown(shutdownCtx)

	if err := store.Close(); err != nil {
		logger.Warnf("关闭台账失败: %v", err)
	}
	logger.Info("gogrid 已退出")
	return nil
}
