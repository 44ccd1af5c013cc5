package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kristal2012/flowsniper/internal/logger"
	"github.com/kristal2012/flowsniper/internal/models"
)

// VenueSet 把一组 DEX 路由封装成统一的报价与执行入口。
// 场所的注册顺序即优先级顺序, 平价报价时序号靠前者胜出。
type VenueSet struct {
	client *Client
	venues []models.VenueConfig
	owner  common.Address
}

// NewVenueSet 构造场所集合。ownerAddress 为资金归集地址, 可以为空。
func NewVenueSet(client *Client, venues []models.VenueConfig, ownerAddress string) (*VenueSet, error) {
	for _, v := range venues {
		if !common.IsHexAddress(v.Router) {
			return nil, fmt.Errorf("场所 %s 的路由地址非法: %s", v.Name, v.Router)
		}
		if v.Kind == "v3" && !common.IsHexAddress(v.Quoter) {
			return nil, fmt.Errorf("场所 %s 的 quoter 地址非法: %s", v.Name, v.Quoter)
		}
	}
	vs := &VenueSet{client: client, venues: venues}
	if ownerAddress != "" {
		if !common.IsHexAddress(ownerAddress) {
			return nil, fmt.Errorf("归集地址非法: %s", ownerAddress)
		}
		vs.owner = common.HexToAddress(ownerAddress)
	}
	return vs, nil
}

// Venues 按优先级顺序返回场所名称
func (vs *VenueSet) Venues() []string {
	names := make([]string, len(vs.venues))
	for i, v := range vs.venues {
		names[i] = v.Name
	}
	return names
}

func (vs *VenueSet) venueByName(name string) (models.VenueConfig, error) {
	for _, v := range vs.venues {
		if v.Name == name {
			return v, nil
		}
	}
	return models.VenueConfig{}, fmt.Errorf("未知交易场所: %s", name)
}

// OperatorAddress 返回操作钱包地址, 未配置签名账户时为空串
func (vs *VenueSet) OperatorAddress() string {
	if vs.client.Signer() == nil {
		return ""
	}
	return vs.client.Signer().Hex()
}

// OwnerAddress 返回资金归集地址, 未配置时为空串
func (vs *VenueSet) OwnerAddress() string {
	if vs.owner == (common.Address{}) {
		return ""
	}
	return vs.owner.Hex()
}

// Quote 查询单个场所的 exact-in 报价。v3 场所遍历所有费率档位取最优。
func (vs *VenueSet) Quote(ctx context.Context, venue string, tokenIn, tokenOut models.TokenDescriptor, amountIn *big.Int) models.VenueQuote {
	v, err := vs.venueByName(venue)
	if err != nil {
		return models.VenueQuote{Venue: venue, Err: err}
	}

	in := common.HexToAddress(tokenIn.Address)
	out := common.HexToAddress(tokenOut.Address)

	switch v.Kind {
	case "v2":
		amountOut, err := vs.client.GetAmountsOut(ctx, common.HexToAddress(v.Router), amountIn, []common.Address{in, out})
		if err != nil {
			return models.VenueQuote{Venue: venue, Err: err}
		}
		return models.VenueQuote{Venue: venue, AmountOut: amountOut}

	case "v3":
		best := models.VenueQuote{Venue: venue, Err: fmt.Errorf("所有费率档位均无流动性")}
		for _, fee := range v.FeeTiers {
			amountOut, err := vs.client.QuoteV3(ctx, common.HexToAddress(v.Quoter), in, out, fee, amountIn)
			if err != nil {
				// 单个档位没有池子是常态, 继续尝试其它档位
				logger.S().Debugf("%s 档位 %d 报价失败: %v", venue, fee, err)
				continue
			}
			if best.Err != nil || amountOut.Cmp(best.AmountOut) > 0 {
				best = models.VenueQuote{Venue: venue, AmountOut: amountOut, FeeTier: fee}
			}
		}
		return best

	default:
		return models.VenueQuote{Venue: venue, Err: fmt.Errorf("场所 %s 的协议类型未知: %s", venue, v.Kind)}
	}
}

// Swap 在指定场所执行 exact-in 兑换。feeTier 仅 v3 场所使用。
func (vs *VenueSet) Swap(ctx context.Context, venue string, feeTier int64, tokenIn, tokenOut models.TokenDescriptor, amountIn, minOut *big.Int) (string, error) {
	v, err := vs.venueByName(venue)
	if err != nil {
		return "", err
	}

	in := common.HexToAddress(tokenIn.Address)
	out := common.HexToAddress(tokenOut.Address)
	router := common.HexToAddress(v.Router)

	switch v.Kind {
	case "v2":
		return vs.client.SwapV2(ctx, router, in, out, amountIn, minOut)
	case "v3":
		if feeTier == 0 && len(v.FeeTiers) > 0 {
			feeTier = v.FeeTiers[0]
		}
		return vs.client.SwapV3(ctx, router, in, out, feeTier, amountIn, minOut)
	default:
		return "", fmt.Errorf("场所 %s 的协议类型未知: %s", venue, v.Kind)
	}
}

// BalanceOf 查询任意账户的代币余额
func (vs *VenueSet) BalanceOf(ctx context.Context, token models.TokenDescriptor, account string) (*big.Int, error) {
	return vs.client.BalanceOf(ctx, common.HexToAddress(token.Address), common.HexToAddress(account))
}

// NativeBalance 查询任意账户的原生币余额 (wei)
func (vs *VenueSet) NativeBalance(ctx context.Context, account string) (*big.Int, error) {
	return vs.client.NativeBalance(ctx, common.HexToAddress(account))
}

// Transfer 从操作钱包向目标地址转账代币
func (vs *VenueSet) Transfer(ctx context.Context, token models.TokenDescriptor, to string, amount *big.Int) (string, error) {
	return vs.client.TransferToken(ctx, common.HexToAddress(token.Address), common.HexToAddress(to), amount)
}

// OwnerAllowance 查询归集地址授权给操作钱包的拉取额度
func (vs *VenueSet) OwnerAllowance(ctx context.Context, token models.TokenDescriptor) (*big.Int, error) {
	if vs.owner == (common.Address{}) {
		return nil, fmt.Errorf("未配置归集地址")
	}
	operator := common.HexToAddress(vs.OperatorAddress())
	return vs.client.Allowance(ctx, common.HexToAddress(token.Address), vs.owner, operator)
}

// PullFromOwner 凭归集地址的授权把代币拉取到操作钱包。
// 归集地址必须事先 approve 操作钱包, 否则此调用回滚。
func (vs *VenueSet) PullFromOwner(ctx context.Context, token models.TokenDescriptor, amount *big.Int) (string, error) {
	if vs.owner == (common.Address{}) {
		return "", fmt.Errorf("未配置归集地址, 无法补充资金")
	}
	return vs.client.TransferTokenFrom(ctx, common.HexToAddress(token.Address), vs.owner, amount)
}

// RechargeGas 用报价资产买入 WMATIC 并解包成原生 gas。
// 在第一个 v2 场所执行, 没有 v2 场所时使用第一个场所。
func (vs *VenueSet) RechargeGas(ctx context.Context, reference, wmatic models.TokenDescriptor, amountIn, minOut *big.Int) (string, error) {
	venue := ""
	for _, v := range vs.venues {
		if v.Kind == "v2" {
			venue = v.Name
			break
		}
	}
	if venue == "" && len(vs.venues) > 0 {
		venue = vs.venues[0].Name
	}
	if venue == "" {
		return "", fmt.Errorf("没有可用的交易场所")
	}

	txRef, err := vs.Swap(ctx, venue, 0, reference, wmatic, amountIn, minOut)
	if err != nil {
		return "", fmt.Errorf("买入 WMATIC 失败: %w", err)
	}

	operator := common.HexToAddress(vs.OperatorAddress())
	bal, err := vs.client.BalanceOf(ctx, common.HexToAddress(wmatic.Address), operator)
	if err != nil {
		return txRef, fmt.Errorf("查询 WMATIC 余额失败: %w", err)
	}
	if bal.Sign() <= 0 {
		return txRef, fmt.Errorf("买入后 WMATIC 余额为零")
	}

	if _, err := vs.client.UnwrapWMATIC(ctx, common.HexToAddress(wmatic.Address), bal); err != nil {
		return txRef, fmt.Errorf("解包 WMATIC 失败: %w", err)
	}
	logger.S().Infof("gas 充值完成, 解包 WMATIC: %s", bal.String())
	return txRef, nil
}
