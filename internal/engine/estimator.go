package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kristal2012/flowsniper/internal/chain"
	"github.com/kristal2012/flowsniper/internal/logger"
	"github.com/kristal2012/flowsniper/internal/metrics"
	"github.com/kristal2012/flowsniper/internal/models"
)

// 反向报价不可用时, 按全局价格折价 5% 估算可变现价值
var proxyHaircut = decimal.NewFromFloat(0.95)

// evaluate 对单个目标资产做一次完整的往返评估。
// 买入腿取各场所最优报价, 卖出腿用反向报价衡量真实可变现价值,
// 净利润扣除两笔 gas 后再与利润门槛和 ROI 熔断比较。
func (e *Engine) evaluate(ctx context.Context, cfg models.EngineConfig, symbol string, price decimal.Decimal) (models.OpportunityEvaluation, error) {
	eval := models.OpportunityEvaluation{Symbol: symbol, AmountIn: cfg.TradeAmount}

	reference, err := e.registry.Resolve(ctx, e.staticCfg.ReferenceSymbol)
	if err != nil {
		return eval, fmt.Errorf("解析报价资产失败: %w", err)
	}
	target, err := e.registry.Resolve(ctx, symbol)
	if err != nil {
		return eval, fmt.Errorf("解析目标资产失败: %w", err)
	}

	amountInRaw := chain.ToRaw(cfg.TradeAmount, reference.Decimals)

	forward := e.collectQuotes(ctx, reference, target, amountInRaw)
	best, ok := SelectBestRoute(forward)
	if !ok {
		eval.Reason = "所有场所均无买入报价"
		return eval, nil
	}
	eval.BuyVenue = best.Venue
	eval.BuyFeeTier = best.FeeTier
	eval.BestAmountOut = best.AmountOut

	// 卖出腿: 反向报价给出的才是真实可变现价值,
	// 全部失败时退回全局价格折价估算并标记为代理值。
	reverse := e.collectQuotes(ctx, target, reference, best.AmountOut)
	if sellBest, ok := SelectBestRoute(reverse); ok {
		eval.SellVenue = sellBest.Venue
		eval.SellValue = chain.FromRaw(sellBest.AmountOut, reference.Decimals)
	} else {
		eval.SellVenue = best.Venue
		eval.SellValue = price.Mul(chain.FromRaw(best.AmountOut, target.Decimals)).Mul(proxyHaircut)
		eval.SellValueIsProxy = true
		logger.S().Debugf("%s 无反向报价, 采用折价估算: %s", symbol, eval.SellValue.String())
	}

	gasCost := e.gasEstimate.Mul(decimal.NewFromInt(2))
	eval.NetProfit = eval.SellValue.Sub(cfg.TradeAmount).Sub(gasCost)
	if cfg.TradeAmount.Sign() > 0 {
		eval.ROIPercent = eval.NetProfit.Div(cfg.TradeAmount).Mul(decimal.NewFromInt(100))
	}

	threshold := cfg.TradeAmount.Mul(decimal.NewFromFloat(cfg.MinProfitFraction))
	switch {
	case eval.NetProfit.LessThanOrEqual(threshold):
		eval.Reason = fmt.Sprintf("净利润 %s 未超过门槛 %s", eval.NetProfit.String(), threshold.String())
	case eval.ROIPercent.GreaterThan(e.roiCeiling):
		// 真实市场不存在这种收益率, 几乎可以确定是坏报价或枯竭池
		eval.Reason = fmt.Sprintf("ROI %s%% 超过熔断阈值 %s%%, 疑似异常数据", eval.ROIPercent.StringFixed(2), e.roiCeiling.String())
		metrics.CircuitBreakerTrips.Inc()
		logger.S().Warnf("熔断: %s %s", symbol, eval.Reason)
	default:
		eval.Approved = true
	}
	return eval, nil
}
