package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/kristal2012/flowsniper/internal/logger"
)

const (
	defaultGasLimit   = uint64(500000)
	receiptPollDelay  = 2 * time.Second
	receiptWaitLimit  = 90 * time.Second
	swapDeadlineSlack = 5 * time.Minute
)

// Client 是对以太坊 JSON-RPC 的薄封装, 持有引擎用到的全部 ABI。
// 所有写操作都由 signer 签名, 模拟盘下 signer 可以为 nil。
type Client struct {
	ec      *ethclient.Client
	chainID *big.Int
	signer  *SigningAccount

	erc20ABI  abi.ABI
	v2ABI     abi.ABI
	quoterABI abi.ABI
	v3ABI     abi.ABI
	wmaticABI abi.ABI
}

// Dial 按顺序尝试主节点与备用节点, 返回第一个连通的客户端。
func Dial(ctx context.Context, primary string, fallbacks []string, chainID int64, signer *SigningAccount) (*Client, error) {
	urls := append([]string{primary}, fallbacks...)

	var ec *ethclient.Client
	var lastErr error
	for _, u := range urls {
		c, err := ethclient.DialContext(ctx, u)
		if err != nil {
			lastErr = err
			logger.S().Warnf("RPC 节点 %s 连接失败: %v", u, err)
			continue
		}
		// 连通性探测, DialContext 对 http 端点是惰性的
		if _, err := c.ChainID(ctx); err != nil {
			lastErr = err
			c.Close()
			logger.S().Warnf("RPC 节点 %s 不可用: %v", u, err)
			continue
		}
		ec = c
		logger.S().Infof("已连接 RPC 节点: %s", u)
		break
	}
	if ec == nil {
		return nil, fmt.Errorf("所有 RPC 节点均不可用: %w", lastErr)
	}

	client := &Client{
		ec:      ec,
		chainID: big.NewInt(chainID),
		signer:  signer,
	}
	var err error
	if client.erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON)); err != nil {
		return nil, err
	}
	if client.v2ABI, err = abi.JSON(strings.NewReader(v2RouterABIJSON)); err != nil {
		return nil, err
	}
	if client.quoterABI, err = abi.JSON(strings.NewReader(v3QuoterABIJSON)); err != nil {
		return nil, err
	}
	if client.v3ABI, err = abi.JSON(strings.NewReader(v3RouterABIJSON)); err != nil {
		return nil, err
	}
	if client.wmaticABI, err = abi.JSON(strings.NewReader(wmaticABIJSON)); err != nil {
		return nil, err
	}
	return client, nil
}

// Close 关闭底层 RPC 连接
func (c *Client) Close() {
	c.ec.Close()
}

// Signer 返回当前签名账户, 模拟盘下为 nil
func (c *Client) Signer() *SigningAccount {
	return c.signer
}

// call 执行一次只读合约调用并解包返回值
func (c *Client) call(ctx context.Context, to common.Address, a abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码 %s 调用失败: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	out, err := c.ec.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, err
	}
	return a.Unpack(method, out)
}

// sendTx 对交易签名并广播, 返回交易哈希。
// gas price 上浮 20% 以降低 Polygon 上被长期挂起的概率。
func (c *Client) sendTx(ctx context.Context, to common.Address, a abi.ABI, method string, args ...interface{}) (string, error) {
	if c.signer == nil {
		return "", fmt.Errorf("未配置签名账户, 无法发送交易")
	}

	data, err := a.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("编码 %s 交易失败: %w", method, err)
	}

	nonce, err := c.ec.PendingNonceAt(ctx, c.signer.Address())
	if err != nil {
		return "", fmt.Errorf("获取 nonce 失败: %w", err)
	}
	gasPrice, err := c.ec.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("获取 gas price 失败: %w", err)
	}
	gasPrice = new(big.Int).Div(new(big.Int).Mul(gasPrice, big.NewInt(120)), big.NewInt(100))

	tx := types.NewTransaction(nonce, to, big.NewInt(0), defaultGasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.signer.priv)
	if err != nil {
		return "", fmt.Errorf("交易签名失败: %w", err)
	}
	if err := c.ec.SendTransaction(ctx, signedTx); err != nil {
		return "", err
	}

	hash := signedTx.Hash()
	logger.S().Debugf("交易已广播: %s (%s)", hash.Hex(), method)
	if err := c.waitReceipt(ctx, hash); err != nil {
		return hash.Hex(), err
	}
	return hash.Hex(), nil
}

// waitReceipt 轮询交易回执直到上链或超时
func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) error {
	deadline := time.Now().Add(receiptWaitLimit)
	for {
		receipt, err := c.ec.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("交易 %s 执行回滚", hash.Hex())
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("等待交易 %s 回执超时", hash.Hex())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(receiptPollDelay):
		}
	}
}

// BalanceOf 查询账户的 ERC-20 余额 (原始单位)
func (c *Client) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, c.erc20ABI, "balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("查询 %s 余额失败: %w", token.Hex(), err)
	}
	return out[0].(*big.Int), nil
}

// NativeBalance 查询账户的原生币余额 (wei)
func (c *Client) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.ec.BalanceAt(ctx, account, nil)
}

// TokenMetadata 读取代币的符号与精度
func (c *Client) TokenMetadata(ctx context.Context, token common.Address) (string, uint8, error) {
	symOut, err := c.call(ctx, token, c.erc20ABI, "symbol")
	if err != nil {
		return "", 0, fmt.Errorf("读取 %s symbol 失败: %w", token.Hex(), err)
	}
	decOut, err := c.call(ctx, token, c.erc20ABI, "decimals")
	if err != nil {
		return "", 0, fmt.Errorf("读取 %s decimals 失败: %w", token.Hex(), err)
	}
	return symOut[0].(string), decOut[0].(uint8), nil
}

// Allowance 查询 owner 给 spender 的授权额度
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, c.erc20ABI, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// EnsureAllowance 在授权额度不足时发起一次最大额度授权。
// 每次按需精确授权会让每笔套利多付一次 approve 的 gas。
func (c *Client) EnsureAllowance(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	allowance, err := c.Allowance(ctx, token, c.signer.Address(), spender)
	if err != nil {
		return fmt.Errorf("查询授权额度失败: %w", err)
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if _, err := c.sendTx(ctx, token, c.erc20ABI, "approve", spender, maxUint256); err != nil {
		return fmt.Errorf("授权 %s 给 %s 失败: %w", token.Hex(), spender.Hex(), err)
	}
	logger.S().Infof("已授权 %s 给路由 %s", token.Hex(), spender.Hex())
	return nil
}

// TransferToken 从操作钱包向目标地址转账 ERC-20
func (c *Client) TransferToken(ctx context.Context, token, to common.Address, amount *big.Int) (string, error) {
	return c.sendTx(ctx, token, c.erc20ABI, "transfer", to, amount)
}

// TransferTokenFrom 凭借授权从 from 拉取代币到操作钱包
func (c *Client) TransferTokenFrom(ctx context.Context, token, from common.Address, amount *big.Int) (string, error) {
	return c.sendTx(ctx, token, c.erc20ABI, "transferFrom", from, c.signer.Address(), amount)
}

// GetAmountsOut 查询 v2 路由对给定路径的报价
func (c *Client) GetAmountsOut(ctx context.Context, router common.Address, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	out, err := c.call(ctx, router, c.v2ABI, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	amounts := out[0].([]*big.Int)
	if len(amounts) == 0 {
		return nil, fmt.Errorf("路由 %s 返回空报价", router.Hex())
	}
	return amounts[len(amounts)-1], nil
}

// QuoteV3 查询 v3 quoter 在指定费率档位的报价。
// quoteExactInputSingle 声明为非只读, 但按惯例通过 eth_call 静态调用。
func (c *Client) QuoteV3(ctx context.Context, quoter, tokenIn, tokenOut common.Address, fee int64, amountIn *big.Int) (*big.Int, error) {
	out, err := c.call(ctx, quoter, c.quoterABI, "quoteExactInputSingle",
		tokenIn, tokenOut, big.NewInt(fee), amountIn, big.NewInt(0))
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// SwapV2 在 v2 路由上执行 exact-in 兑换
func (c *Client) SwapV2(ctx context.Context, router, tokenIn, tokenOut common.Address, amountIn, minOut *big.Int) (string, error) {
	if err := c.EnsureAllowance(ctx, tokenIn, router, amountIn); err != nil {
		return "", err
	}
	deadline := big.NewInt(time.Now().Add(swapDeadlineSlack).Unix())
	path := []common.Address{tokenIn, tokenOut}
	return c.sendTx(ctx, router, c.v2ABI, "swapExactTokensForTokens",
		amountIn, minOut, path, c.signer.Address(), deadline)
}

// v3 exactInputSingle 的参数元组
type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// SwapV3 在 v3 路由上执行 exact-in 兑换
func (c *Client) SwapV3(ctx context.Context, router, tokenIn, tokenOut common.Address, fee int64, amountIn, minOut *big.Int) (string, error) {
	if err := c.EnsureAllowance(ctx, tokenIn, router, amountIn); err != nil {
		return "", err
	}
	params := exactInputSingleParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		Fee:               big.NewInt(fee),
		Recipient:         c.signer.Address(),
		Deadline:          big.NewInt(time.Now().Add(swapDeadlineSlack).Unix()),
		AmountIn:          amountIn,
		AmountOutMinimum:  minOut,
		SqrtPriceLimitX96: big.NewInt(0),
	}
	return c.sendTx(ctx, router, c.v3ABI, "exactInputSingle", params)
}

// UnwrapWMATIC 把包装的 WMATIC 解包成原生 gas
func (c *Client) UnwrapWMATIC(ctx context.Context, wmatic common.Address, amount *big.Int) (string, error) {
	return c.sendTx(ctx, wmatic, c.wmaticABI, "withdraw", amount)
}
