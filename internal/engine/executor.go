package engine

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kristal2012/flowsniper/internal/chain"
	"github.com/kristal2012/flowsniper/internal/logger"
	"github.com/kristal2012/flowsniper/internal/metrics"
	"github.com/kristal2012/flowsniper/internal/models"
)

// 实盘执行失败时记入的象征性亏损, 提醒操作者残值滞留在目标资产里
var failurePenalty = decimal.NewFromFloat(-0.01)

// applySlippage 按滑点容忍度收缩最小产出
func applySlippage(amountOut *big.Int, tolerance float64) *big.Int {
	bps := int64(tolerance * 10000)
	if bps <= 0 {
		return new(big.Int).Set(amountOut)
	}
	scaled := new(big.Int).Mul(amountOut, big.NewInt(10000-bps))
	return scaled.Div(scaled, big.NewInt(10000))
}

// executeSimulated 在内部账本上结算一笔模拟交易
func (e *Engine) executeSimulated(cfg models.EngineConfig, eval models.OpportunityEvaluation) {
	txRef := "0xSIM" + newEntryID()

	e.mu.Lock()
	e.totalBalance = e.totalBalance.Add(eval.NetProfit)
	e.gasBalance = e.gasBalance.Sub(e.simGasPerTrade)
	e.dailyPnl = e.dailyPnl.Add(eval.NetProfit)
	gasBalance := e.gasBalance
	e.mu.Unlock()

	metrics.Trades.WithLabelValues("simulation", "success").Inc()
	logger.S().Infof("模拟成交: %s 净利润 %s, 剩余 gas %s",
		e.pairLabel(eval), eval.NetProfit.String(), gasBalance.String())
	e.emit(models.EntryRouteTrade, e.pairLabel(eval), eval.NetProfit, models.StatusSuccess, txRef)
}

// executeLive 执行真实的买入与卖出两腿。
// 买入成功后以链上实际到账余额确定卖出数量, 而不是沿用报价值。
func (e *Engine) executeLive(ctx context.Context, cfg models.EngineConfig, eval models.OpportunityEvaluation) {
	reference, err := e.registry.Resolve(ctx, e.staticCfg.ReferenceSymbol)
	if err != nil {
		e.failTrade(eval, "", err)
		return
	}
	target, err := e.registry.Resolve(ctx, eval.Symbol)
	if err != nil {
		e.failTrade(eval, "", err)
		return
	}

	operator := e.chain.OperatorAddress()

	// 实盘 gas 闸门: 原生币余额低于下限时拒绝执行
	nativeWei, err := e.chain.NativeBalance(ctx, operator)
	if err != nil {
		e.failTrade(eval, "", err)
		return
	}
	if chain.FromWei(nativeWei).LessThan(e.gasFloor) {
		logger.S().Warnf("原生币余额 %s 低于下限 %s, 跳过执行",
			chain.FromWei(nativeWei).String(), e.gasFloor.String())
		e.emit(models.EntryError, e.pairLabel(eval), decimal.Zero, models.StatusFailed, "")
		return
	}

	amountInRaw := chain.ToRaw(cfg.TradeAmount, reference.Decimals)
	if err := e.ensureFunds(ctx, reference, operator, amountInRaw); err != nil {
		e.failTrade(eval, "", err)
		return
	}

	// 买入腿必须在中标报价的费率档位上成交, 换档等于换池子
	minOut := applySlippage(eval.BestAmountOut, cfg.SlippageTolerance)
	buyTx, err := e.chain.Swap(ctx, eval.BuyVenue, eval.BuyFeeTier, reference, target, amountInRaw, minOut)
	if err != nil {
		e.failTrade(eval, buyTx, err)
		return
	}
	logger.S().Infof("买入腿完成: %s, 等待结算", buyTx)

	// 等待结算后读取链上真实到账, 报价值和到账值之间隔着滑点与手续费
	e.sleep(time.Duration(e.staticCfg.SettleDelaySec) * time.Second)

	actual, err := e.chain.BalanceOf(ctx, target, operator)
	if err != nil {
		e.failTrade(eval, buyTx, err)
		return
	}
	if actual.Sign() <= 0 {
		logger.S().Errorf("买入后 %s 余额为零, 交易 %s 可能未成交", target.Symbol, buyTx)
		e.settleFailure(eval, buyTx)
		return
	}

	// 卖出腿按实际到账量重新询价
	reverse := e.collectQuotes(ctx, target, reference, actual)
	sellBest, ok := SelectBestRoute(reverse)
	if !ok {
		logger.S().Errorf("无法为 %s 获取卖出报价, 持仓滞留在目标资产", target.Symbol)
		e.settleFailure(eval, buyTx)
		return
	}

	minSellOut := applySlippage(sellBest.AmountOut, cfg.SlippageTolerance)
	sellTx, err := e.chain.Swap(ctx, sellBest.Venue, sellBest.FeeTier, target, reference, actual, minSellOut)
	if err != nil {
		e.failTrade(eval, buyTx, err)
		return
	}

	realized := chain.FromRaw(sellBest.AmountOut, reference.Decimals).
		Sub(cfg.TradeAmount).
		Sub(e.gasEstimate.Mul(decimal.NewFromInt(2)))

	e.mu.Lock()
	e.dailyPnl = e.dailyPnl.Add(realized)
	e.mu.Unlock()

	metrics.Trades.WithLabelValues("live", "success").Inc()
	logger.S().Infof("套利完成: %s 实现利润 %s (买入 %s, 卖出 %s)",
		e.pairLabel(eval), realized.String(), buyTx, sellTx)
	e.emit(models.EntryRouteTrade, e.pairLabel(eval), realized, models.StatusSuccess, sellTx)

	e.consolidate(ctx, cfg, reference, operator)
}

// ensureFunds 在操作钱包余额不足时从归集地址拉取差额
func (e *Engine) ensureFunds(ctx context.Context, reference models.TokenDescriptor, operator string, amountInRaw *big.Int) error {
	balance, err := e.chain.BalanceOf(ctx, reference, operator)
	if err != nil {
		return err
	}
	if balance.Cmp(amountInRaw) >= 0 {
		return nil
	}

	shortfall := new(big.Int).Sub(amountInRaw, balance)

	// 先核对授权额度, 额度不足时发 transferFrom 只会白烧一笔 gas
	allowance, err := e.chain.OwnerAllowance(ctx, reference)
	if err != nil {
		return fmt.Errorf("查询归集地址授权失败: %w", err)
	}
	if allowance.Cmp(shortfall) < 0 {
		return fmt.Errorf("归集地址授权额度不足: 需要 %s, 仅授权 %s (allowance)", shortfall.String(), allowance.String())
	}

	logger.S().Infof("操作钱包 %s 不足, 从归集地址拉取 %s", reference.Symbol, shortfall.String())
	if _, err := e.chain.PullFromOwner(ctx, reference, shortfall); err != nil {
		return err
	}
	return nil
}

// failTrade 记录一次执行失败, 不计入象征性亏损
func (e *Engine) failTrade(eval models.OpportunityEvaluation, txRef string, err error) {
	metrics.Trades.WithLabelValues("live", "failed").Inc()
	logger.S().Errorf("执行失败: %s: %s", e.pairLabel(eval), classifyLiveError(err))
	e.emit(models.EntryError, e.pairLabel(eval), decimal.Zero, models.StatusFailed, txRef)
}

// settleFailure 处理买入成功但卖出腿无法完成的情况
func (e *Engine) settleFailure(eval models.OpportunityEvaluation, buyTx string) {
	e.mu.Lock()
	e.dailyPnl = e.dailyPnl.Add(failurePenalty)
	e.mu.Unlock()

	metrics.Trades.WithLabelValues("live", "failed").Inc()
	e.emit(models.EntryRouteTrade, e.pairLabel(eval), failurePenalty, models.StatusFailed, buyTx)
}

// sleep 等待指定时长, 不响应停止信号 (执行中的交易必须收尾)
func (e *Engine) sleep(d time.Duration) {
	<-e.clock.After(d)
}

// classifyLiveError 把链上执行错误翻译成可读的归类说明
func classifyLiveError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return "原生币不足以支付 gas (POL)"
	case strings.Contains(msg, "allowance") || strings.Contains(msg, "transferfrom"):
		return "授权额度不足, 请检查归集地址对操作钱包的 approve"
	case strings.Contains(msg, "回滚") || strings.Contains(msg, "reverted"):
		return "链上执行回滚, 多半是滑点超限或池子流动性不足"
	case strings.Contains(msg, "nonce"):
		return "nonce 冲突, 可能有未确认的并发交易"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") || strings.Contains(msg, "超时"):
		return "RPC 超时: " + err.Error()
	default:
		return err.Error()
	}
}
