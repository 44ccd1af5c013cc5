package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/kristal2012/flowsniper/internal/models"
)

// Secrets 保存从环境变量加载的敏感信息, 不允许写入配置文件
type Secrets struct {
	OperatorPrivateKey string // 操作钱包私钥 (hex, 不含 0x 前缀)
	AdvisoryAPIKey     string // 顾问服务的 API Key, 可为空
}

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	config := &models.Config{}
	err = decoder.Decode(config)
	if err != nil {
		return nil, err
	}

	applyDefaults(config)
	if err := Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadSecrets 读取 .env (如存在) 并从环境变量加载敏感信息。
// 模拟盘允许私钥为空, 实盘在启动时另行校验。
func LoadSecrets() Secrets {
	_ = godotenv.Load()
	return Secrets{
		OperatorPrivateKey: strings.TrimPrefix(os.Getenv("OPERATOR_PRIVATE_KEY"), "0x"),
		AdvisoryAPIKey:     os.Getenv("ADVISORY_API_KEY"),
	}
}

func applyDefaults(cfg *models.Config) {
	if cfg.ReferenceSymbol == "" {
		cfg.ReferenceSymbol = "USDT"
	}
	if cfg.ScanIntervalMs <= 0 {
		cfg.ScanIntervalMs = 1000
	}
	if cfg.ScanJitterMs < 0 {
		cfg.ScanJitterMs = 0
	}
	if cfg.GasBackoffSec <= 0 {
		cfg.GasBackoffSec = 5
	}
	if cfg.AdvisoryWaitSec <= 0 {
		cfg.AdvisoryWaitSec = 10
	}
	if cfg.SettleDelaySec <= 0 {
		cfg.SettleDelaySec = 5
	}
	if cfg.ROICeiling <= 0 {
		cfg.ROICeiling = 10.0
	}
	if cfg.GasFloor == "" {
		cfg.GasFloor = "0.05"
	}
	if cfg.DustThreshold == "" {
		cfg.DustThreshold = "0.0001"
	}
	if cfg.GasEstimate == "" {
		cfg.GasEstimate = "0.02"
	}
	if cfg.SimGasPerTrade == "" {
		cfg.SimGasPerTrade = "0.01"
	}
	if cfg.PriceCacheSec <= 0 {
		cfg.PriceCacheSec = 10
	}
	if cfg.LogBufferSize <= 0 {
		cfg.LogBufferSize = 100
	}
	if len(cfg.LiquidationSet) == 0 {
		cfg.LiquidationSet = []string{"WETH", "WBTC", "WMATIC"}
	}
}

// Validate 对配置做快速失败校验, 启动前发现问题比运行中发现便宜得多。
func Validate(cfg *models.Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("配置校验失败: rpc_url 不能为空")
	}
	if cfg.ChainID <= 0 {
		return fmt.Errorf("配置校验失败: chain_id 必须为正数")
	}
	if len(cfg.ScanSymbols) == 0 {
		return fmt.Errorf("配置校验失败: scan_symbols 不能为空")
	}
	if len(cfg.Venues) == 0 {
		return fmt.Errorf("配置校验失败: 至少需要配置一个交易场所")
	}
	for i, v := range cfg.Venues {
		if v.Name == "" || v.Router == "" {
			return fmt.Errorf("配置校验失败: venues[%d] 缺少 name 或 router", i)
		}
		switch v.Kind {
		case "v2":
		case "v3":
			if v.Quoter == "" {
				return fmt.Errorf("配置校验失败: v3 场所 %s 缺少 quoter 地址", v.Name)
			}
			if len(v.FeeTiers) == 0 {
				return fmt.Errorf("配置校验失败: v3 场所 %s 缺少 fee_tiers", v.Name)
			}
		default:
			return fmt.Errorf("配置校验失败: venues[%d] 的 kind 必须为 v2 或 v3", i)
		}
	}
	return ValidateEngine(&cfg.Engine)
}

// ValidateEngine 校验引擎热更新参数, 同时用于启动加载和运行时 Update。
func ValidateEngine(ec *models.EngineConfig) error {
	switch ec.Mode {
	case models.ModeSimulation, models.ModeLive:
	default:
		return fmt.Errorf("配置校验失败: 引擎模式必须为 SIMULATION 或 LIVE")
	}
	if ec.TradeAmount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("配置校验失败: trade_amount 必须大于 0")
	}
	if ec.MaxTradeAmount.LessThan(decimal.Zero) {
		return fmt.Errorf("配置校验失败: max_trade_amount 不能为负数")
	}
	if ec.MaxTradeAmount.GreaterThan(decimal.Zero) && ec.TradeAmount.GreaterThan(ec.MaxTradeAmount) {
		return fmt.Errorf("配置校验失败: trade_amount %s 超过单笔上限 %s", ec.TradeAmount.String(), ec.MaxTradeAmount.String())
	}
	if ec.SlippageTolerance < 0 || ec.SlippageTolerance >= 1 {
		return fmt.Errorf("配置校验失败: slippage_tolerance 必须在 [0,1) 区间")
	}
	if ec.MinProfitFraction < 0 {
		return fmt.Errorf("配置校验失败: min_profit_fraction 不能为负数")
	}
	if ec.MaxDailyDrawdown.GreaterThan(decimal.Zero) {
		return fmt.Errorf("配置校验失败: max_daily_drawdown 必须为零或负数")
	}
	return nil
}
