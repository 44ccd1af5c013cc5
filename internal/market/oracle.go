package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/kristal2012/flowsniper/internal/logger"
	"github.com/kristal2012/flowsniper/internal/models"
	"github.com/kristal2012/flowsniper/internal/transport"
)

const bybitTickerURL = "https://api.bybit.com/v5/market/tickers?category=spot&symbol=%s"
const coingeckoPriceURL = "https://api.coingecko.com/api/v3/simple/price?ids=%s&vs_currencies=usd"

// wrappedToMarket 将链上包装资产映射到行情市场符号
var wrappedToMarket = map[string]string{
	"WETH":   "ETH",
	"WBTC":   "BTC",
	"WMATIC": "POL",
	"WPOL":   "POL",
	"WSOL":   "SOL",
}

// coingeckoIDs 是 CoinGecko 备援使用的资产 ID
var coingeckoIDs = map[string]string{
	"ETH": "ethereum",
	"BTC": "bitcoin",
	"POL": "polygon-ecosystem-token",
	"SOL": "solana",
}

// Oracle 提供目标资产的全局美元参考价。
// 查询顺序: WebSocket 实时价 -> 本地缓存 -> Bybit REST -> 币安 -> CoinGecko。
// 所有来源都失败时返回零值而不是错误, 由调用方决定是否跳过本轮。
type Oracle struct {
	http     *transport.Client
	binance  *binance.Client
	cache    *gocache.Cache
	cacheTTL time.Duration
	fallback bool
}

// NewOracle 构造价格预言机。binanceFallback 为 false 时跳过币安源。
func NewOracle(httpClient *transport.Client, binanceFallback bool, cacheTTL time.Duration) *Oracle {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Second
	}
	return &Oracle{
		http:     httpClient,
		binance:  binance.NewClient("", ""),
		cache:    gocache.New(cacheTTL, 2*cacheTTL),
		cacheTTL: cacheTTL,
		fallback: binanceFallback,
	}
}

// Cache 暴露内部缓存, 供 WebSocket 流直接写入实时价
func (o *Oracle) Cache() *gocache.Cache {
	return o.cache
}

// MarketSymbol 返回资产对应的行情符号, 如 WETH -> ETH
func MarketSymbol(symbol string) string {
	if m, ok := wrappedToMarket[strings.ToUpper(symbol)]; ok {
		return m
	}
	return strings.ToUpper(symbol)
}

// CurrentPrice 返回资产的美元参考价, 不可用时返回零值。
func (o *Oracle) CurrentPrice(ctx context.Context, symbol string) decimal.Decimal {
	market := MarketSymbol(symbol)

	if v, ok := o.cache.Get("price:" + market); ok {
		return v.(decimal.Decimal)
	}

	if p, err := o.bybitPrice(ctx, market); err == nil && p.Sign() > 0 {
		o.cache.Set("price:"+market, p, o.cacheTTL)
		return p
	} else if err != nil {
		logger.S().Debugf("Bybit 价格查询失败 (%s): %v", market, err)
	}

	if o.fallback {
		if p, err := o.binancePrice(ctx, market); err == nil && p.Sign() > 0 {
			o.cache.Set("price:"+market, p, o.cacheTTL)
			return p
		} else if err != nil {
			logger.S().Debugf("币安价格查询失败 (%s): %v", market, err)
		}
	}

	if p, err := o.coingeckoPrice(ctx, market); err == nil && p.Sign() > 0 {
		o.cache.Set("price:"+market, p, o.cacheTTL)
		return p
	} else if err != nil {
		logger.S().Debugf("CoinGecko 价格查询失败 (%s): %v", market, err)
	}

	logger.S().Warnf("资产 %s 在所有行情源均无可用价格", symbol)
	return decimal.Zero
}

type bybitTickerResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	} `json:"result"`
}

func (o *Oracle) bybitPrice(ctx context.Context, market string) (decimal.Decimal, error) {
	var resp bybitTickerResponse
	url := fmt.Sprintf(bybitTickerURL, market+"USDT")
	if err := o.http.GetJSON(ctx, url, nil, &resp); err != nil {
		return decimal.Zero, err
	}
	if resp.RetCode != 0 {
		return decimal.Zero, &models.Error{Code: resp.RetCode, Msg: resp.RetMsg}
	}
	if len(resp.Result.List) == 0 {
		return decimal.Zero, fmt.Errorf("Bybit 未返回 %s 的行情", market)
	}
	return decimal.NewFromString(resp.Result.List[0].LastPrice)
}

func (o *Oracle) binancePrice(ctx context.Context, market string) (decimal.Decimal, error) {
	prices, err := o.binance.NewListPricesService().Symbol(market + "USDT").Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("币安未返回 %s 的行情", market)
	}
	return decimal.NewFromString(prices[0].Price)
}

func (o *Oracle) coingeckoPrice(ctx context.Context, market string) (decimal.Decimal, error) {
	id, ok := coingeckoIDs[market]
	if !ok {
		return decimal.Zero, fmt.Errorf("资产 %s 没有 CoinGecko ID 映射", market)
	}
	var resp map[string]map[string]float64
	if err := o.http.GetJSON(ctx, fmt.Sprintf(coingeckoPriceURL, id), nil, &resp); err != nil {
		return decimal.Zero, err
	}
	usd, ok := resp[id]["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("CoinGecko 响应缺少 %s 的 usd 字段", id)
	}
	return decimal.NewFromFloat(usd), nil
}
