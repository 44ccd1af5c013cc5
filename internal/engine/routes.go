package engine

import (
	"context"
	"math/big"
	"sync"

	"github.com/kristal2012/flowsniper/internal/logger"
	"github.com/kristal2012/flowsniper/internal/metrics"
	"github.com/kristal2012/flowsniper/internal/models"
)

// collectQuotes 并发向所有场所请求报价, 结果按场所注册顺序返回。
// 单个场所失败不影响其它场所, 失败信息保留在对应条目中。
func (e *Engine) collectQuotes(ctx context.Context, tokenIn, tokenOut models.TokenDescriptor, amountIn *big.Int) []models.VenueQuote {
	venues := e.chain.Venues()
	results := make([]models.VenueQuote, len(venues))

	var wg sync.WaitGroup
	for i, venue := range venues {
		wg.Add(1)
		go func(i int, venue string) {
			defer wg.Done()
			results[i] = e.chain.Quote(ctx, venue, tokenIn, tokenOut, amountIn)
			if results[i].Err != nil {
				metrics.QuoteErrors.WithLabelValues(venue).Inc()
				logger.S().Debugf("%s 报价失败 (%s->%s): %v", venue, tokenIn.Symbol, tokenOut.Symbol, results[i].Err)
			}
		}(i, venue)
	}
	wg.Wait()
	return results
}

// SelectBestRoute 从报价中选出产出最大的场所。
// 平价时序号靠前的场所胜出, 因此结果对同一输入是确定的。
func SelectBestRoute(quotes []models.VenueQuote) (models.VenueQuote, bool) {
	var best models.VenueQuote
	found := false
	for _, q := range quotes {
		if !q.Succeeded() {
			continue
		}
		if !found || q.AmountOut.Cmp(best.AmountOut) > 0 {
			best = q
			found = true
		}
	}
	return best, found
}
