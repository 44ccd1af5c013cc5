package engine

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kristal2012/flowsniper/internal/logger"
	"github.com/kristal2012/flowsniper/internal/metrics"
	"github.com/kristal2012/flowsniper/internal/models"
)

// Chain 是引擎对链上访问的依赖, 由 chain.VenueSet 实现。
type Chain interface {
	Venues() []string
	Quote(ctx context.Context, venue string, tokenIn, tokenOut models.TokenDescriptor, amountIn *big.Int) models.VenueQuote
	Swap(ctx context.Context, venue string, feeTier int64, tokenIn, tokenOut models.TokenDescriptor, amountIn, minOut *big.Int) (string, error)
	BalanceOf(ctx context.Context, token models.TokenDescriptor, account string) (*big.Int, error)
	NativeBalance(ctx context.Context, account string) (*big.Int, error)
	Transfer(ctx context.Context, token models.TokenDescriptor, to string, amount *big.Int) (string, error)
	OwnerAllowance(ctx context.Context, token models.TokenDescriptor) (*big.Int, error)
	PullFromOwner(ctx context.Context, token models.TokenDescriptor, amount *big.Int) (string, error)
	RechargeGas(ctx context.Context, reference, wmatic models.TokenDescriptor, amountIn, minOut *big.Int) (string, error)
	OperatorAddress() string
	OwnerAddress() string
}

// PriceSource 提供资产的全局美元参考价, 不可用时返回零值。
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) decimal.Decimal
}

// TokenResolver 把资产符号解析为代币描述符
type TokenResolver interface {
	Resolve(ctx context.Context, symbol string) (models.TokenDescriptor, error)
}

// Engine 是套利引擎本体。单个后台 goroutine 顺序执行
// 扫描-评估-执行循环, 外部通过 UpdateConfig/SetAdvisory 整体替换上下文。
type Engine struct {
	staticCfg *models.Config
	chain     Chain
	prices    PriceSource
	registry  TokenResolver
	feed      *Feed
	clock     Clock
	rng       *rand.Rand

	// 从静态配置解析出的数值参数
	gasEstimate    decimal.Decimal
	gasFloor       decimal.Decimal
	dustThreshold  decimal.Decimal
	simGasPerTrade decimal.Decimal
	roiCeiling     decimal.Decimal

	mu           sync.RWMutex
	engineCfg    models.EngineConfig
	advisory     *models.AdvisoryHint
	running      bool
	haltReason   string
	dailyPnl     decimal.Decimal
	gasBalance   decimal.Decimal
	totalBalance decimal.Decimal
	cycles       int64
	lastSymbol   string
	stopChannel  chan struct{}
	doneChannel  chan struct{}
}

// New 构造引擎。clock 传 nil 时使用系统时钟。
func New(cfg *models.Config, ch Chain, prices PriceSource, registry TokenResolver, feed *Feed, clock Clock) (*Engine, error) {
	if clock == nil {
		clock = NewRealClock()
	}

	e := &Engine{
		staticCfg: cfg,
		chain:     ch,
		prices:    prices,
		registry:  registry,
		feed:      feed,
		clock:     clock,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	var err error
	if e.gasEstimate, err = decimal.NewFromString(cfg.GasEstimate); err != nil {
		return nil, fmt.Errorf("gas_estimate 解析失败: %w", err)
	}
	if e.gasFloor, err = decimal.NewFromString(cfg.GasFloor); err != nil {
		return nil, fmt.Errorf("gas_floor 解析失败: %w", err)
	}
	if e.dustThreshold, err = decimal.NewFromString(cfg.DustThreshold); err != nil {
		return nil, fmt.Errorf("dust_threshold 解析失败: %w", err)
	}
	if e.simGasPerTrade, err = decimal.NewFromString(cfg.SimGasPerTrade); err != nil {
		return nil, fmt.Errorf("sim_gas_per_trade 解析失败: %w", err)
	}
	e.roiCeiling = decimal.NewFromFloat(cfg.ROICeiling)

	e.engineCfg = cfg.Engine
	return e, nil
}

// Start 以给定参数启动扫描循环。引擎已在运行时返回错误。
func (e *Engine) Start(ec models.EngineConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("引擎已在运行")
	}

	e.engineCfg = ec
	e.dailyPnl = decimal.Zero
	e.gasBalance = ec.InitialGasBalance
	e.totalBalance = ec.InitialBalance
	e.cycles = 0
	e.haltReason = ""
	e.running = true
	e.stopChannel = make(chan struct{})
	e.doneChannel = make(chan struct{})

	go e.run(e.stopChannel, e.doneChannel)
	logger.S().Infof("引擎已启动, 模式=%s, 单笔金额=%s", ec.Mode, ec.TradeAmount.String())
	return nil
}

// Stop 请求停止并等待循环退出。未运行时为空操作。
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopChannel)
	done := e.doneChannel
	e.mu.Unlock()

	<-done
	logger.S().Info("引擎已停止")
}

// UpdateConfig 整体替换引擎热更新参数。
// 调用方必须提供完整的 EngineConfig, 下一个扫描周期生效。
func (e *Engine) UpdateConfig(ec models.EngineConfig) {
	e.mu.Lock()
	e.engineCfg = ec
	e.mu.Unlock()
	logger.S().Infof("引擎配置已更新, 模式=%s", ec.Mode)
}

// SetAdvisory 更新顾问建议, 传 nil 表示清除
func (e *Engine) SetAdvisory(hint *models.AdvisoryHint) {
	e.mu.Lock()
	e.advisory = hint
	e.mu.Unlock()
}

// State 返回当前运行状态快照
func (e *Engine) State() models.EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return models.EngineState{
		Running:      e.running,
		Mode:         e.engineCfg.Mode,
		DailyPnl:     e.dailyPnl,
		GasBalance:   e.gasBalance,
		TotalBalance: e.totalBalance,
		Cycles:       e.cycles,
		LastSymbol:   e.lastSymbol,
		Advisory:     e.advisory,
		HaltReason:   e.haltReason,
	}
}

// Config 返回当前引擎参数快照
func (e *Engine) Config() models.EngineConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.engineCfg
}

func (e *Engine) snapshot() (models.EngineConfig, *models.AdvisoryHint) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.engineCfg, e.advisory
}

// run 是唯一的扫描循环 goroutine
func (e *Engine) run(stop chan struct{}, done chan struct{}) {
	defer close(done)

	ctx := context.Background()
	for {
		select {
		case <-stop:
			return
		default:
		}

		if halted := e.cycle(ctx, stop); halted {
			return
		}

		jitter := 0
		if e.staticCfg.ScanJitterMs > 0 {
			jitter = e.rng.Intn(e.staticCfg.ScanJitterMs)
		}
		if !e.wait(stop, time.Duration(e.staticCfg.ScanIntervalMs+jitter)*time.Millisecond) {
			return
		}
	}
}

// wait 等待 d, 停止信号到达时返回 false
func (e *Engine) wait(stop chan struct{}, d time.Duration) bool {
	select {
	case <-stop:
		return false
	case <-e.clock.After(d):
		return true
	}
}

// cycle 执行一个扫描周期, 返回 true 表示引擎已终止停机
func (e *Engine) cycle(ctx context.Context, stop chan struct{}) bool {
	cfg, hint := e.snapshot()

	e.mu.Lock()
	e.cycles++
	dailyPnl := e.dailyPnl
	gasBalance := e.gasBalance
	e.mu.Unlock()
	metrics.ScanCycles.Inc()
	metrics.DailyPnl.Set(dailyPnl.InexactFloat64())
	metrics.GasBalance.Set(gasBalance.InexactFloat64())

	e.emit(models.EntryScanPulse, "", decimal.Zero, models.StatusSuccess, "")

	// 回撤停机是唯一的终止性风控, 触发后不再自动恢复
	if cfg.MaxDailyDrawdown.Sign() < 0 && dailyPnl.LessThanOrEqual(cfg.MaxDailyDrawdown) {
		e.halt(fmt.Sprintf("当日回撤 %s 触及上限 %s", dailyPnl.String(), cfg.MaxDailyDrawdown.String()))
		return true
	}

	if cfg.Mode == models.ModeSimulation && gasBalance.Sign() <= 0 {
		logger.S().Warnf("模拟盘 gas 耗尽 (%s), 暂停扫描", gasBalance.String())
		e.wait(stop, time.Duration(e.staticCfg.GasBackoffSec)*time.Second)
		return false
	}

	if hint != nil && (hint.Action == "WAIT" || hint.Action == "HOLD") {
		logger.S().Infof("顾问建议 %s, 本轮观望", hint.Action)
		e.wait(stop, time.Duration(e.staticCfg.AdvisoryWaitSec)*time.Second)
		return false
	}

	// 单笔金额上限兜底。API 路径在校验时已拒绝超限配置, 这里拦截直接注入的配置。
	if cfg.MaxTradeAmount.Sign() > 0 && cfg.TradeAmount.GreaterThan(cfg.MaxTradeAmount) {
		logger.S().Warnf("单笔金额 %s 超过上限 %s, 按上限执行", cfg.TradeAmount.String(), cfg.MaxTradeAmount.String())
		cfg.TradeAmount = cfg.MaxTradeAmount
	}

	symbol := e.staticCfg.ScanSymbols[e.rng.Intn(len(e.staticCfg.ScanSymbols))]
	e.mu.Lock()
	e.lastSymbol = symbol
	e.mu.Unlock()

	price := e.prices.CurrentPrice(ctx, symbol)
	if price.Sign() <= 0 {
		logger.S().Debugf("%s 无可用参考价, 跳过本轮", symbol)
		return false
	}

	eval, err := e.evaluate(ctx, cfg, symbol, price)
	if err != nil {
		logger.S().Errorf("评估 %s 失败: %v", symbol, err)
		e.emit(models.EntryError, symbol+"/"+e.staticCfg.ReferenceSymbol, decimal.Zero, models.StatusFailed, "")
		return false
	}

	if !eval.Approved {
		logger.S().Debugf("%s 机会未通过: %s (净利润 %s)", symbol, eval.Reason, eval.NetProfit.String())
		e.emit(models.EntryLiquidityScan, e.pairLabel(eval), eval.NetProfit, models.StatusSuccess, "")
		return false
	}

	logger.S().Infof("发现套利机会: %s 买入 %s 卖出 %s, 预期净利润 %s (ROI %s%%)",
		eval.Symbol, eval.BuyVenue, eval.SellVenue, eval.NetProfit.String(), eval.ROIPercent.StringFixed(2))

	if cfg.Mode == models.ModeSimulation {
		e.executeSimulated(cfg, eval)
	} else {
		e.executeLive(ctx, cfg, eval)
	}
	return false
}

// halt 终止引擎并记录原因
func (e *Engine) halt(reason string) {
	e.mu.Lock()
	e.running = false
	e.haltReason = reason
	e.mu.Unlock()

	logger.S().Errorf("引擎停机: %s", reason)
	e.emit(models.EntryError, reason, decimal.Zero, models.StatusFailed, "")
}

func (e *Engine) pairLabel(eval models.OpportunityEvaluation) string {
	label := eval.Symbol + "/" + e.staticCfg.ReferenceSymbol
	if eval.BuyVenue != "" {
		label += " (" + eval.BuyVenue + ")"
	}
	return label
}

// emit 向事件流追加一条条目
func (e *Engine) emit(kind models.LogEntryKind, pairLabel string, profit decimal.Decimal, status, txRef string) {
	if e.feed == nil {
		return
	}
	e.feed.Append(models.LogEntry{
		ID:             newEntryID(),
		Timestamp:      e.clock.Now(),
		Kind:           kind,
		PairLabel:      pairLabel,
		Profit:         profit,
		Status:         status,
		TransactionRef: txRef,
	})
}
