package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kristal2012/flowsniper/internal/logger"
	"github.com/kristal2012/flowsniper/internal/models"
	"github.com/kristal2012/flowsniper/internal/persistence"
)

// polygonTokens 是 Polygon 主网常用代币的静态表。
// 静态表未覆盖的代币走链上元数据读取, 结果写入本地缓存。
var polygonTokens = map[string]models.TokenDescriptor{
	"USDT":   {Symbol: "USDT", Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Decimals: 6},
	"USDC":   {Symbol: "USDC", Address: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", Decimals: 6},
	"WETH":   {Symbol: "WETH", Address: "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619", Decimals: 18},
	"WBTC":   {Symbol: "WBTC", Address: "0x1BFD67037B42Cf73acF2047067bd4F2C47D9BfD6", Decimals: 8},
	"WMATIC": {Symbol: "WMATIC", Address: "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270", Decimals: 18},
	"DAI":    {Symbol: "DAI", Address: "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063", Decimals: 18},
	"LINK":   {Symbol: "LINK", Address: "0x53E0bca35eC356BD5ddDFebbD1Fc0fD03FaBad39", Decimals: 18},
	"UNI":    {Symbol: "UNI", Address: "0xb33EaAd8d922B1083446DC23f610c2567fB5180f", Decimals: 18},
	"AAVE":   {Symbol: "AAVE", Address: "0xD6DF932A45C0f255f85145f286eA0b292B21C90B", Decimals: 18},
	"QUICK":  {Symbol: "QUICK", Address: "0xB5C064F955D8e7F38fE0460C556a72987494eE17", Decimals: 18},
	"LDO":    {Symbol: "LDO", Address: "0xC3C7d422809852031b44ab29EEC9F1EfF2A58756", Decimals: 18},
	"GHST":   {Symbol: "GHST", Address: "0x385Eeac5cB85A38A9a07A70c73e0a3271CfB54A7", Decimals: 18},
	"GRT":    {Symbol: "GRT", Address: "0x5fe2B58c013d7601147DcdD68C143A77499f5531", Decimals: 18},
}

// metadataReader 是 Registry 对链上访问的最小依赖
type metadataReader interface {
	TokenMetadata(ctx context.Context, token common.Address) (string, uint8, error)
}

// Registry 负责把资产符号解析为代币描述符。
// 解析顺序: 内存表 -> 本地持久缓存 -> 链上读取。
type Registry struct {
	mu     sync.RWMutex
	tokens map[string]models.TokenDescriptor
	repo   persistence.TokenRepository
	reader metadataReader
}

// NewRegistry 构造代币注册表。repo 可以为 nil, 此时跳过本地持久缓存。
func NewRegistry(reader metadataReader, repo persistence.TokenRepository) *Registry {
	tokens := make(map[string]models.TokenDescriptor, len(polygonTokens))
	for k, v := range polygonTokens {
		tokens[k] = v
	}
	return &Registry{
		tokens: tokens,
		repo:   repo,
		reader: reader,
	}
}

// Resolve 解析资产符号, 未知符号返回错误。
func (r *Registry) Resolve(ctx context.Context, symbol string) (models.TokenDescriptor, error) {
	key := strings.ToUpper(symbol)

	r.mu.RLock()
	td, ok := r.tokens[key]
	r.mu.RUnlock()
	if ok {
		return td, nil
	}

	if r.repo != nil {
		cached, err := r.repo.LoadToken(key)
		if err != nil {
			logger.S().Warnf("读取代币缓存失败 (%s): %v", key, err)
		} else if cached != nil {
			r.mu.Lock()
			r.tokens[key] = *cached
			r.mu.Unlock()
			return *cached, nil
		}
	}

	return models.TokenDescriptor{}, fmt.Errorf("未知资产符号: %s", symbol)
}

// ResolveAddress 按合约地址解析代币, 必要时读取链上元数据并写入缓存。
func (r *Registry) ResolveAddress(ctx context.Context, address string) (models.TokenDescriptor, error) {
	if !common.IsHexAddress(address) {
		return models.TokenDescriptor{}, fmt.Errorf("非法的合约地址: %s", address)
	}
	addr := common.HexToAddress(address)

	r.mu.RLock()
	for _, td := range r.tokens {
		if strings.EqualFold(td.Address, addr.Hex()) {
			r.mu.RUnlock()
			return td, nil
		}
	}
	r.mu.RUnlock()

	symbol, decimals, err := r.reader.TokenMetadata(ctx, addr)
	if err != nil {
		return models.TokenDescriptor{}, fmt.Errorf("读取代币 %s 元数据失败: %w", address, err)
	}

	td := models.TokenDescriptor{
		Symbol:   strings.ToUpper(symbol),
		Address:  addr.Hex(),
		Decimals: decimals,
	}

	r.mu.Lock()
	r.tokens[td.Symbol] = td
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.SaveToken(&td); err != nil {
			logger.S().Warnf("写入代币缓存失败 (%s): %v", td.Symbol, err)
		}
	}
	logger.S().Infof("已登记代币 %s (%s, decimals=%d)", td.Symbol, td.Address, td.Decimals)
	return td, nil
}

// Register 手工登记一个代币描述符, 主要用于测试与配置注入。
func (r *Registry) Register(td models.TokenDescriptor) {
	r.mu.Lock()
	r.tokens[strings.ToUpper(td.Symbol)] = td
	r.mu.Unlock()
}
