package models

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Mode 表示引擎的运行模式
type Mode string

const (
	ModeSimulation Mode = "SIMULATION" // 模拟盘：不发送链上交易
	ModeLive       Mode = "LIVE"       // 实盘：真实签名并广播交易
)

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	ChainID          int64    `json:"chain_id"`           // 链ID, Polygon 主网为 137
	RPCURL           string   `json:"rpc_url"`            // 主 RPC 节点地址
	FallbackRPCURLs  []string `json:"fallback_rpc_urls"`  // 备用 RPC 节点列表, 按顺序尝试
	DBPath           string   `json:"db_path"`            // 代币元数据缓存数据库路径
	ListenAddr       string   `json:"listen_addr"`        // 控制接口监听地址, 如 ":8080"
	ScanSymbols      []string `json:"scan_symbols"`       // 扫描的目标资产列表, 如 ["WETH","WBTC","WMATIC"]
	ReferenceSymbol  string   `json:"reference_symbol"`   // 报价资产, 默认为 "USDT"
	OwnerAddress     string   `json:"owner_address"`      // 资金归集地址 (冷钱包)
	GasFloor         string   `json:"gas_floor"`          // 实盘执行要求的最低原生币余额 (POL)
	DustThreshold    string   `json:"dust_threshold"`     // 清算时忽略的粉尘余额阈值
	GasEstimate      string   `json:"gas_estimate"`       // 单笔交易的固定 gas 估算 (以报价资产计)
	SimGasPerTrade   string   `json:"sim_gas_per_trade"`  // 模拟盘每笔交易扣减的 gas (POL)
	ROICeiling       float64  `json:"roi_ceiling"`        // 熔断阈值: 超过该 ROI 百分比的机会视为数据异常
	ScanIntervalMs   int      `json:"scan_interval_ms"`   // 扫描周期基础间隔 (毫秒)
	ScanJitterMs     int      `json:"scan_jitter_ms"`     // 扫描周期随机抖动上限 (毫秒)
	GasBackoffSec    int      `json:"gas_backoff_sec"`    // 模拟盘 gas 耗尽后的退避秒数
	AdvisoryWaitSec  int      `json:"advisory_wait_sec"`  // 顾问建议观望时的等待秒数
	SettleDelaySec   int      `json:"settle_delay_sec"`   // 买入腿结算等待秒数
	LiquidationSet   []string `json:"liquidation_set"`    // 紧急清算覆盖的资产列表
	AdvisoryInterval int      `json:"advisory_interval"`  // 顾问刷新间隔 (秒), 0 表示关闭
	PriceCacheSec    int      `json:"price_cache_sec"`    // 全局价格缓存秒数
	BinanceFallback  bool     `json:"binance_fallback"`   // 是否启用币安作为价格备援
	ProxyURLs        []string `json:"proxy_urls"`         // SOCKS5 代理池, 为空则直连
	LogBufferSize    int      `json:"log_buffer_size"`    // 事件流环形缓冲区大小

	Venues []VenueConfig `json:"venues"` // 参与报价与执行的交易场所

	Engine    EngineConfig `json:"engine"` // 引擎热更新配置, 可在运行时整体替换
	LogConfig LogConfig    `json:"log"`    // 日志配置
}

// VenueConfig 描述一个链上交易场所 (DEX 路由)
type VenueConfig struct {
	Name     string  `json:"name"`                // 场所名称, 如 "QuickSwap"
	Kind     string  `json:"kind"`                // 协议类型: "v2" 或 "v3"
	Router   string  `json:"router"`              // 路由合约地址
	Quoter   string  `json:"quoter,omitempty"`    // v3 报价合约地址
	FeeTiers []int64 `json:"fee_tiers,omitempty"` // v3 费率档位, 如 [500, 3000, 10000]
}

// EngineConfig 是可以在运行时被整体替换的引擎参数。
// Update 时必须整包替换, 不允许逐字段修改, 以避免撕裂读。
type EngineConfig struct {
	Mode                   Mode            `json:"mode"`                    // SIMULATION 或 LIVE
	TradeAmount            decimal.Decimal `json:"trade_amount"`            // 每笔交易投入的报价资产数量
	MaxTradeAmount         decimal.Decimal `json:"max_trade_amount"`        // 单笔交易金额上限, 零表示不限制
	SlippageTolerance      float64         `json:"slippage_tolerance"`      // 滑点容忍度, 如 0.005 表示 0.5%
	MinProfitFraction      float64         `json:"min_profit_fraction"`     // 最小净利润比例, 相对于投入金额
	ConsolidationThreshold decimal.Decimal `json:"consolidation_threshold"` // 触发资金归集的余额阈值
	MaxDailyDrawdown       decimal.Decimal `json:"max_daily_drawdown"`      // 当日最大回撤 (负数), 触发后引擎停机
	InitialGasBalance      decimal.Decimal `json:"initial_gas_balance"`     // 模拟盘起始 gas 余额 (POL)
	InitialBalance         decimal.Decimal `json:"initial_balance"`         // 模拟盘起始报价资产余额
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// TokenDescriptor 描述一个 ERC-20 代币
type TokenDescriptor struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
}

// VenueQuote 是单个场所对一次兑换的报价结果
type VenueQuote struct {
	Venue     string   `json:"venue"`
	AmountOut *big.Int `json:"amount_out"`
	FeeTier   int64    `json:"fee_tier,omitempty"` // 仅 v3 场所有效
	Err       error    `json:"-"`
}

// Succeeded 报告该场所是否返回了可用报价
func (q VenueQuote) Succeeded() bool {
	return q.Err == nil && q.AmountOut != nil && q.AmountOut.Sign() > 0
}

// OpportunityEvaluation 记录一次完整的机会评估
type OpportunityEvaluation struct {
	Symbol           string          `json:"symbol"`
	BuyVenue         string          `json:"buy_venue"`
	BuyFeeTier       int64           `json:"buy_fee_tier,omitempty"` // 买入腿中标报价的 v3 费率档位
	SellVenue        string          `json:"sell_venue"`
	AmountIn         decimal.Decimal `json:"amount_in"`          // 投入的报价资产数量
	BestAmountOut    *big.Int        `json:"best_amount_out"`    // 买入腿最优产出 (原始单位)
	SellValue        decimal.Decimal `json:"sell_value"`         // 反向腿可变现价值
	SellValueIsProxy bool            `json:"sell_value_proxy"`   // 反向报价不可用时采用全局价格折价估算
	NetProfit        decimal.Decimal `json:"net_profit"`         // 扣除两笔 gas 后的净利润
	ROIPercent       decimal.Decimal `json:"roi_percent"`        // 净利润 / 投入金额 * 100
	Approved         bool            `json:"approved"`
	Reason           string          `json:"reason,omitempty"` // 未通过时的原因
}

// LogEntryKind 区分事件流中的条目类型
type LogEntryKind string

const (
	EntryScanPulse     LogEntryKind = "SCAN_PULSE"         // 一次扫描心跳
	EntryLiquidityScan LogEntryKind = "LIQUIDITY_SCAN"     // 完成评估但未执行
	EntryRouteTrade    LogEntryKind = "ROUTE_OPTIMIZATION" // 执行了一次套利交易
	EntryError         LogEntryKind = "ERROR"              // 执行或评估过程中的错误
)

// 事件条目的执行状态
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// LogEntry 是推送给前端/控制接口的单条事件
type LogEntry struct {
	ID             string          `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	Kind           LogEntryKind    `json:"kind"`
	PairLabel      string          `json:"pair_label"`
	Profit         decimal.Decimal `json:"profit"`
	Status         string          `json:"status"`
	TransactionRef string          `json:"transaction_ref,omitempty"`
}

// EngineState 是引擎对外暴露的运行状态快照
type EngineState struct {
	Running      bool            `json:"running"`
	Mode         Mode            `json:"mode"`
	DailyPnl     decimal.Decimal `json:"daily_pnl"`
	GasBalance   decimal.Decimal `json:"gas_balance"`   // 模拟盘为内部账本, 实盘为链上原生币余额快照
	TotalBalance decimal.Decimal `json:"total_balance"` // 模拟盘为内部账本
	Cycles       int64           `json:"cycles"`
	LastSymbol   string          `json:"last_symbol"`
	Advisory     *AdvisoryHint   `json:"advisory,omitempty"`
	HaltReason   string          `json:"halt_reason,omitempty"`
}

// AdvisoryHint 是外部顾问服务给出的市场建议
type AdvisoryHint struct {
	Action     string    `json:"action"`     // BUY / SELL / WAIT / HOLD / NONE
	Strategy   string    `json:"strategy"`   // 建议采用的策略名
	Confidence float64   `json:"confidence"` // 置信度 [0,1]
	UpdatedAt  time.Time `json:"updated_at"`
}

// Error 定义了外部行情 API 返回的错误信息结构
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Error 方法使得 Error 实现了 error 接口
func (e *Error) Error() string {
	return fmt.Sprintf("API Error: code=%d, msg=%s", e.Code, e.Msg)
}
