package engine

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kristal2012/flowsniper/internal/chain"
	"github.com/kristal2012/flowsniper/internal/logger"
	"github.com/kristal2012/flowsniper/internal/metrics"
	"github.com/kristal2012/flowsniper/internal/models"
)

// consolidate 在一笔成功的实盘交易后检查是否需要资金归集。
// 归集失败只告警, 不影响交易循环。
func (e *Engine) consolidate(ctx context.Context, cfg models.EngineConfig, reference models.TokenDescriptor, operator string) {
	owner := e.chain.OwnerAddress()
	if owner == "" || strings.EqualFold(owner, operator) {
		return
	}
	if cfg.ConsolidationThreshold.Sign() <= 0 {
		return
	}

	balance, err := e.chain.BalanceOf(ctx, reference, operator)
	if err != nil {
		logger.S().Warnf("归集检查失败: %v", err)
		return
	}
	value := chain.FromRaw(balance, reference.Decimals)
	if value.LessThan(cfg.ConsolidationThreshold) {
		return
	}

	// 整笔转出, 下一笔交易再按需从归集地址拉取
	txRef, err := e.chain.Transfer(ctx, reference, owner, balance)
	if err != nil {
		logger.S().Warnf("资金归集失败 (%s): %v", value.String(), err)
		return
	}
	metrics.Consolidations.Inc()
	logger.S().Infof("资金归集完成: %s %s -> %s (%s)", value.String(), reference.Symbol, owner, txRef)
}

// EmergencyLiquidate 把清算列表中的所有持仓卖回报价资产。
// 单个资产失败不阻断其它资产, 返回成功卖出的资产数。
func (e *Engine) EmergencyLiquidate(ctx context.Context) (int, error) {
	cfg, _ := e.snapshot()
	if cfg.Mode == models.ModeSimulation {
		logger.S().Info("模拟盘没有链上持仓, 清算为空操作")
		return 0, nil
	}

	reference, err := e.registry.Resolve(ctx, e.staticCfg.ReferenceSymbol)
	if err != nil {
		return 0, fmt.Errorf("解析报价资产失败: %w", err)
	}
	operator := e.chain.OperatorAddress()

	liquidated := 0
	for _, symbol := range e.staticCfg.LiquidationSet {
		token, err := e.registry.Resolve(ctx, symbol)
		if err != nil {
			logger.S().Errorf("清算 %s 失败: %v", symbol, err)
			continue
		}

		balance, err := e.chain.BalanceOf(ctx, token, operator)
		if err != nil {
			logger.S().Errorf("清算 %s 失败: 查询余额出错: %v", symbol, err)
			continue
		}
		if chain.FromRaw(balance, token.Decimals).LessThanOrEqual(e.dustThreshold) {
			continue // 粉尘不值一笔 gas
		}

		quotes := e.collectQuotes(ctx, token, reference, balance)
		best, ok := SelectBestRoute(quotes)
		if !ok {
			logger.S().Errorf("清算 %s 失败: 无可用卖出报价", symbol)
			continue
		}

		minOut := applySlippage(best.AmountOut, cfg.SlippageTolerance)
		txRef, err := e.chain.Swap(ctx, best.Venue, best.FeeTier, token, reference, balance, minOut)
		if err != nil {
			logger.S().Errorf("清算 %s 失败: %s", symbol, classifyLiveError(err))
			continue
		}

		liquidated++
		metrics.Liquidations.Inc()
		value := chain.FromRaw(best.AmountOut, reference.Decimals)
		logger.S().Infof("已清算 %s -> %s %s (%s)", symbol, value.String(), reference.Symbol, txRef)
		e.emit(models.EntryRouteTrade, symbol+"/"+e.staticCfg.ReferenceSymbol, value, models.StatusSuccess, txRef)
	}
	return liquidated, nil
}

// Recharge 用报价资产补充操作钱包的原生 gas。
// 模拟盘直接在账本上入账, 实盘买入 WMATIC 并解包。
func (e *Engine) Recharge(ctx context.Context, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("充值金额必须大于 0")
	}

	cfg, _ := e.snapshot()
	if cfg.Mode == models.ModeSimulation {
		e.mu.Lock()
		e.gasBalance = e.gasBalance.Add(amount)
		balance := e.gasBalance
		e.mu.Unlock()
		logger.S().Infof("模拟盘 gas 充值 %s, 当前 %s", amount.String(), balance.String())
		return nil
	}

	reference, err := e.registry.Resolve(ctx, e.staticCfg.ReferenceSymbol)
	if err != nil {
		return err
	}
	wmatic, err := e.registry.Resolve(ctx, "WMATIC")
	if err != nil {
		return err
	}

	amountInRaw := chain.ToRaw(amount, reference.Decimals)
	quotes := e.collectQuotes(ctx, reference, wmatic, amountInRaw)
	var minOut *big.Int
	if best, ok := SelectBestRoute(quotes); ok {
		minOut = applySlippage(best.AmountOut, cfg.SlippageTolerance)
	} else {
		minOut = big.NewInt(0)
	}

	txRef, err := e.chain.RechargeGas(ctx, reference, wmatic, amountInRaw, minOut)
	if err != nil {
		return fmt.Errorf("gas 充值失败: %w", err)
	}
	logger.S().Infof("gas 充值完成: %s %s (%s)", amount.String(), reference.Symbol, txRef)
	return nil
}

// Withdraw 从操作钱包向指定地址提取报价资产, 仅实盘可用。
func (e *Engine) Withdraw(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	cfg, _ := e.snapshot()
	if cfg.Mode == models.ModeSimulation {
		return "", fmt.Errorf("模拟盘没有链上资产可提取")
	}
	if amount.Sign() <= 0 {
		return "", fmt.Errorf("提取金额必须大于 0")
	}

	reference, err := e.registry.Resolve(ctx, e.staticCfg.ReferenceSymbol)
	if err != nil {
		return "", err
	}
	return e.chain.Transfer(ctx, reference, to, chain.ToRaw(amount, reference.Decimals))
}
