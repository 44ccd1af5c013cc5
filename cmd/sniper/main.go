package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kristal2012/flowsniper/internal/advisory"
	"github.com/kristal2012/flowsniper/internal/chain"
	"github.com/kristal2012/flowsniper/internal/config"
	"github.com/kristal2012/flowsniper/internal/engine"
	"github.com/kristal2012/flowsniper/internal/logger"
	"github.com/kristal2012/flowsniper/internal/market"
	"github.com/kristal2012/flowsniper/internal/models"
	"github.com/kristal2012/flowsniper/internal/persistence"
	"github.com/kristal2012/flowsniper/internal/reporter"
	"github.com/kristal2012/flowsniper/internal/server"
	"github.com/kristal2012/flowsniper/internal/transport"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	autoStart := flag.Bool("start", false, "start the engine immediately instead of waiting for the control API")
	liquidate := flag.Bool("liquidate", false, "liquidate all configured holdings into the reference asset and exit")
	flag.Parse()

	// 提前用默认配置初始化日志, 配置加载本身也需要记录
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	secrets := config.LoadSecrets()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// 使用文件中的配置重新初始化日志
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	startTime := time.Now()
	logger.S().Infof("--- FlowSniper 启动, 模式=%s ---", cfg.Engine.Mode)

	// 实盘必须有签名私钥, 模拟盘可以纯观察运行
	var signer *chain.SigningAccount
	if cfg.Engine.Mode == models.ModeLive {
		if secrets.OperatorPrivateKey == "" {
			logger.S().Fatal("错误: 实盘模式必须设置 OPERATOR_PRIVATE_KEY 环境变量。")
		}
		signer, err = chain.NewSigningAccount(secrets.OperatorPrivateKey)
		if err != nil {
			logger.S().Fatalf("加载操作钱包失败: %v", err)
		}
		logger.S().Infof("操作钱包: %s", signer.Hex())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	client, err := chain.Dial(ctx, cfg.RPCURL, cfg.FallbackRPCURLs, cfg.ChainID, signer)
	cancel()
	if err != nil {
		logger.S().Fatalf("连接链上节点失败: %v", err)
	}
	defer client.Close()

	venues, err := chain.NewVenueSet(client, cfg.Venues, cfg.OwnerAddress)
	if err != nil {
		logger.S().Fatalf("初始化交易场所失败: %v", err)
	}

	var repo persistence.TokenRepository
	if cfg.DBPath != "" {
		repo, err = persistence.NewBadgerRepository(cfg.DBPath)
		if err != nil {
			logger.S().Fatalf("打开代币缓存数据库失败: %v", err)
		}
		defer repo.Close()
	}
	registry := chain.NewRegistry(client, repo)

	httpClient, err := transport.New(cfg.ProxyURLs, 10*time.Second)
	if err != nil {
		logger.S().Fatalf("初始化 HTTP 客户端失败: %v", err)
	}

	oracle := market.NewOracle(httpClient, cfg.BinanceFallback, time.Duration(cfg.PriceCacheSec)*time.Second)
	stream := market.NewTickerStream(oracle, cfg.ScanSymbols)
	stream.Start()
	defer stream.Stop()

	feed := engine.NewFeed(cfg.LogBufferSize)
	eng, err := engine.New(cfg, venues, oracle, registry, feed, nil)
	if err != nil {
		logger.S().Fatalf("初始化引擎失败: %v", err)
	}

	// 一次性清算模式: 卖出所有持仓后直接退出, 不进入扫描循环
	if *liquidate {
		liqCtx, liqCancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer liqCancel()
		count, err := eng.EmergencyLiquidate(liqCtx)
		if err != nil {
			logger.S().Fatalf("紧急清算失败: %v", err)
		}
		logger.S().Infof("紧急清算完成, 共卖出 %d 项资产", count)
		return
	}

	var advisor *advisory.Advisor
	if cfg.AdvisoryInterval > 0 {
		advisor = advisory.New(httpClient, secrets.AdvisoryAPIKey, cfg.ScanSymbols, oracle,
			time.Duration(cfg.AdvisoryInterval)*time.Second, eng.SetAdvisory)
		advisor.Start()
		defer advisor.Stop()
	}

	srv := server.New(eng, feed)
	if cfg.ListenAddr != "" {
		go func() {
			if err := srv.Run(cfg.ListenAddr); err != nil {
				logger.S().Fatalf("控制接口异常退出: %v", err)
			}
		}()
	}

	if *autoStart {
		if err := eng.Start(cfg.Engine); err != nil {
			logger.S().Fatalf("引擎启动失败: %v", err)
		}
	} else {
		logger.S().Info("引擎待命, 通过 POST /api/start 启动。")
	}

	// 等待中断信号以实现优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.S().Info("收到退出信号, 正在停止...")
	eng.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.S().Warnf("控制接口关闭失败: %v", err)
	}
	shutdownCancel()

	reporter.GenerateReport(eng.State(), feed.Recent(0), startTime)
	logger.S().Info("FlowSniper 已退出。")
}
