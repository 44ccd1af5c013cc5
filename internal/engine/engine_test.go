package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristal2012/flowsniper/internal/models"
)

// fakeClock makes all engine waits return immediately so tests never sleep.
type fakeClock struct{ now time.Time }

func (f fakeClock) Now() time.Time { return f.now }

func (f fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- f.now
	return ch
}

type swapCall struct {
	Venue    string
	FeeTier  int64
	TokenIn  string
	TokenOut string
	AmountIn *big.Int
	MinOut   *big.Int
}

type transferCall struct {
	Token  string
	To     string
	Amount *big.Int
}

// mockChain is a scriptable implementation of the Chain interface.
// Quotes are keyed by "venue|IN->OUT".
type mockChain struct {
	sync.Mutex
	venues     []string
	quotes     map[string]*big.Int
	quoteTiers map[string]int64
	quoteErrs  map[string]error
	swapErrs   map[string]error
	balances   map[string]*big.Int // token symbol -> operator balance
	native     *big.Int
	allowance  *big.Int // owner -> operator pull allowance
	operator   string
	owner      string
	swapCalls  []swapCall
	transfers  []transferCall
	pullCalls  []*big.Int
	quoteIns   []*big.Int
	quoteCount int
}

func newMockChain(venues ...string) *mockChain {
	return &mockChain{
		venues:     venues,
		quotes:     make(map[string]*big.Int),
		quoteTiers: make(map[string]int64),
		quoteErrs:  make(map[string]error),
		swapErrs:   make(map[string]error),
		balances:   make(map[string]*big.Int),
		native:     big.NewInt(0),
		allowance:  new(big.Int).Lsh(big.NewInt(1), 100), // effectively unlimited
		operator:   "0x1111111111111111111111111111111111111111",
		owner:      "0x2222222222222222222222222222222222222222",
	}
}

func quoteKey(venue, in, out string) string {
	return venue + "|" + in + "->" + out
}

func (m *mockChain) setQuote(venue, in, out string, amountOut int64) {
	m.quotes[quoteKey(venue, in, out)] = big.NewInt(amountOut)
}

func (m *mockChain) setQuoteTier(venue, in, out string, tier int64) {
	m.quoteTiers[quoteKey(venue, in, out)] = tier
}

func (m *mockChain) Venues() []string { return m.venues }

func (m *mockChain) Quote(ctx context.Context, venue string, tokenIn, tokenOut models.TokenDescriptor, amountIn *big.Int) models.VenueQuote {
	m.Lock()
	defer m.Unlock()
	m.quoteCount++

	key := quoteKey(venue, tokenIn.Symbol, tokenOut.Symbol)
	m.quoteIns = append(m.quoteIns, new(big.Int).Set(amountIn))
	if err, ok := m.quoteErrs[key]; ok {
		return models.VenueQuote{Venue: venue, Err: err}
	}
	out, ok := m.quotes[key]
	if !ok {
		return models.VenueQuote{Venue: venue, Err: fmt.Errorf("no pool")}
	}
	return models.VenueQuote{Venue: venue, AmountOut: new(big.Int).Set(out), FeeTier: m.quoteTiers[key]}
}

func (m *mockChain) Swap(ctx context.Context, venue string, feeTier int64, tokenIn, tokenOut models.TokenDescriptor, amountIn, minOut *big.Int) (string, error) {
	m.Lock()
	defer m.Unlock()

	if err, ok := m.swapErrs[venue]; ok {
		return "", err
	}
	m.swapCalls = append(m.swapCalls, swapCall{
		Venue:    venue,
		FeeTier:  feeTier,
		TokenIn:  tokenIn.Symbol,
		TokenOut: tokenOut.Symbol,
		AmountIn: new(big.Int).Set(amountIn),
		MinOut:   new(big.Int).Set(minOut),
	})
	return fmt.Sprintf("0xTX%d", len(m.swapCalls)), nil
}

func (m *mockChain) BalanceOf(ctx context.Context, token models.TokenDescriptor, account string) (*big.Int, error) {
	m.Lock()
	defer m.Unlock()
	if bal, ok := m.balances[token.Symbol]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (m *mockChain) NativeBalance(ctx context.Context, account string) (*big.Int, error) {
	m.Lock()
	defer m.Unlock()
	return new(big.Int).Set(m.native), nil
}

func (m *mockChain) Transfer(ctx context.Context, token models.TokenDescriptor, to string, amount *big.Int) (string, error) {
	m.Lock()
	defer m.Unlock()
	m.transfers = append(m.transfers, transferCall{Token: token.Symbol, To: to, Amount: new(big.Int).Set(amount)})
	return "0xTRANSFER", nil
}

func (m *mockChain) OwnerAllowance(ctx context.Context, token models.TokenDescriptor) (*big.Int, error) {
	m.Lock()
	defer m.Unlock()
	return new(big.Int).Set(m.allowance), nil
}

func (m *mockChain) PullFromOwner(ctx context.Context, token models.TokenDescriptor, amount *big.Int) (string, error) {
	m.Lock()
	defer m.Unlock()
	m.pullCalls = append(m.pullCalls, new(big.Int).Set(amount))
	return "0xPULL", nil
}

func (m *mockChain) RechargeGas(ctx context.Context, reference, wmatic models.TokenDescriptor, amountIn, minOut *big.Int) (string, error) {
	return "0xRECHARGE", nil
}

func (m *mockChain) OperatorAddress() string { return m.operator }
func (m *mockChain) OwnerAddress() string    { return m.owner }

func (m *mockChain) totalQuoteCount() int {
	m.Lock()
	defer m.Unlock()
	return m.quoteCount
}

// mockPrices returns fixed reference prices per symbol.
type mockPrices struct {
	prices map[string]decimal.Decimal
}

func (m *mockPrices) CurrentPrice(ctx context.Context, symbol string) decimal.Decimal {
	return m.prices[symbol]
}

// mockRegistry resolves symbols from a fixed table.
type mockRegistry struct {
	tokens map[string]models.TokenDescriptor
}

func (m *mockRegistry) Resolve(ctx context.Context, symbol string) (models.TokenDescriptor, error) {
	td, ok := m.tokens[symbol]
	if !ok {
		return models.TokenDescriptor{}, fmt.Errorf("unknown symbol %s", symbol)
	}
	return td, nil
}

func testTokens() *mockRegistry {
	return &mockRegistry{tokens: map[string]models.TokenDescriptor{
		"USDT":   {Symbol: "USDT", Address: "0xaaa0000000000000000000000000000000000001", Decimals: 6},
		"WETH":   {Symbol: "WETH", Address: "0xaaa0000000000000000000000000000000000002", Decimals: 18},
		"WBTC":   {Symbol: "WBTC", Address: "0xaaa0000000000000000000000000000000000003", Decimals: 8},
		"WMATIC": {Symbol: "WMATIC", Address: "0xaaa0000000000000000000000000000000000004", Decimals: 18},
	}}
}

func testStaticConfig() *models.Config {
	return &models.Config{
		ChainID:         137,
		ScanSymbols:     []string{"WETH"},
		ReferenceSymbol: "USDT",
		GasFloor:        "0.05",
		DustThreshold:   "0.0001",
		GasEstimate:     "0.02",
		SimGasPerTrade:  "0.01",
		ROICeiling:      10,
		ScanIntervalMs:  1,
		GasBackoffSec:   1,
		AdvisoryWaitSec: 1,
		SettleDelaySec:  1,
		LiquidationSet:  []string{"WETH", "WBTC", "WMATIC"},
	}
}

func testEngineConfig(mode models.Mode) models.EngineConfig {
	return models.EngineConfig{
		Mode:              mode,
		TradeAmount:       decimal.RequireFromString("10"),
		SlippageTolerance: 0.005,
		MinProfitFraction: 0.01,
		MaxDailyDrawdown:  decimal.RequireFromString("-50"),
		InitialGasBalance: decimal.RequireFromString("1"),
		InitialBalance:    decimal.RequireFromString("100"),
	}
}

func newTestEngine(t *testing.T, ch Chain, prices PriceSource, mode models.Mode) (*Engine, *Feed) {
	t.Helper()
	feed := NewFeed(50)
	eng, err := New(testStaticConfig(), ch, prices, testTokens(), feed, fakeClock{now: time.Now()})
	require.NoError(t, err)
	eng.engineCfg = testEngineConfig(mode)
	return eng, feed
}

// wethPrices returns a price source quoting WETH at 3400 USD.
func wethPrices() *mockPrices {
	return &mockPrices{prices: map[string]decimal.Decimal{"WETH": decimal.RequireFromString("3400")}}
}

// TestEvaluateApprovesProfitableRoundTrip checks the full round-trip formula:
// sell value minus trade amount minus two gas legs must clear the profit floor.
func TestEvaluateApprovesProfitableRoundTrip(t *testing.T) {
	ch := newMockChain("QuickSwap", "SushiSwap")
	// Forward leg: QuickSwap gives more WETH for 10 USDT.
	ch.setQuote("QuickSwap", "USDT", "WETH", 3_000_000_000_000_000) // 0.003 WETH
	ch.setQuote("SushiSwap", "USDT", "WETH", 2_900_000_000_000_000)
	// Reverse leg: selling 0.003 WETH realizes 10.2 USDT on SushiSwap.
	ch.setQuote("SushiSwap", "WETH", "USDT", 10_200_000)
	ch.setQuote("QuickSwap", "WETH", "USDT", 10_100_000)

	eng, _ := newTestEngine(t, ch, wethPrices(), models.ModeSimulation)
	eval, err := eng.evaluate(context.Background(), eng.Config(), "WETH", decimal.RequireFromString("3400"))
	require.NoError(t, err)

	assert.Equal(t, "QuickSwap", eval.BuyVenue)
	assert.Equal(t, "SushiSwap", eval.SellVenue)
	assert.False(t, eval.SellValueIsProxy)
	// 10.2 - 10 - 2*0.02 = 0.16
	assert.True(t, eval.NetProfit.Equal(decimal.RequireFromString("0.16")),
		"net profit should be 0.16, got %s", eval.NetProfit)
	assert.True(t, eval.ROIPercent.Equal(decimal.RequireFromString("1.6")),
		"ROI should be 1.6%%, got %s", eval.ROIPercent)
	assert.True(t, eval.Approved)
}

// TestEvaluateRejectsBelowProfitFloor: profit must exceed tradeAmount*minProfitFraction.
func TestEvaluateRejectsBelowProfitFloor(t *testing.T) {
	ch := newMockChain("QuickSwap")
	ch.setQuote("QuickSwap", "USDT", "WETH", 3_000_000_000_000_000)
	// 10.09 - 10 - 0.04 = 0.05, below the 0.1 floor
	ch.setQuote("QuickSwap", "WETH", "USDT", 10_090_000)

	eng, _ := newTestEngine(t, ch, wethPrices(), models.ModeSimulation)
	eval, err := eng.evaluate(context.Background(), eng.Config(), "WETH", decimal.RequireFromString("3400"))
	require.NoError(t, err)

	assert.False(t, eval.Approved)
	assert.Contains(t, eval.Reason, "门槛")
}

// TestEvaluateCircuitBreaker: an ROI above the ceiling is treated as bad data,
// not as a windfall.
func TestEvaluateCircuitBreaker(t *testing.T) {
	ch := newMockChain("QuickSwap")
	ch.setQuote("QuickSwap", "USDT", "WETH", 3_000_000_000_000_000)
	// 12.0 - 10 - 0.04 = 1.96 profit, ROI 19.6% > 10% ceiling
	ch.setQuote("QuickSwap", "WETH", "USDT", 12_000_000)

	eng, _ := newTestEngine(t, ch, wethPrices(), models.ModeSimulation)
	eval, err := eng.evaluate(context.Background(), eng.Config(), "WETH", decimal.RequireFromString("3400"))
	require.NoError(t, err)

	assert.True(t, eval.ROIPercent.Equal(decimal.RequireFromString("19.6")))
	assert.False(t, eval.Approved)
	assert.Contains(t, eval.Reason, "熔断")
}

// TestEvaluateProxyFallback: when no venue quotes the reverse leg, the sell
// value is estimated from the global price with a 5% haircut.
func TestEvaluateProxyFallback(t *testing.T) {
	ch := newMockChain("QuickSwap")
	ch.setQuote("QuickSwap", "USDT", "WETH", 3_000_000_000_000_000)
	// no reverse quotes at all

	eng, _ := newTestEngine(t, ch, wethPrices(), models.ModeSimulation)
	eval, err := eng.evaluate(context.Background(), eng.Config(), "WETH", decimal.RequireFromString("3400"))
	require.NoError(t, err)

	assert.True(t, eval.SellValueIsProxy)
	// 3400 * 0.003 * 0.95 = 9.69
	assert.True(t, eval.SellValue.Equal(decimal.RequireFromString("9.69")),
		"proxy sell value should be 9.69, got %s", eval.SellValue)
	assert.False(t, eval.Approved)
}

// TestEvaluateNoForwardRoutes: with every venue failing there is nothing to score.
func TestEvaluateNoForwardRoutes(t *testing.T) {
	ch := newMockChain("QuickSwap", "SushiSwap")

	eng, _ := newTestEngine(t, ch, wethPrices(), models.ModeSimulation)
	eval, err := eng.evaluate(context.Background(), eng.Config(), "WETH", decimal.RequireFromString("3400"))
	require.NoError(t, err)

	assert.False(t, eval.Approved)
	assert.Contains(t, eval.Reason, "买入报价")
}

// TestSelectBestRoute verifies strict-greater comparison and tie handling.
func TestSelectBestRoute(t *testing.T) {
	quotes := []models.VenueQuote{
		{Venue: "A", AmountOut: big.NewInt(100)},
		{Venue: "B", AmountOut: big.NewInt(100)},
		{Venue: "C", Err: fmt.Errorf("down")},
		{Venue: "D", AmountOut: big.NewInt(99)},
	}

	best, ok := SelectBestRoute(quotes)
	require.True(t, ok)
	// ties go to the venue registered first
	assert.Equal(t, "A", best.Venue)

	_, ok = SelectBestRoute([]models.VenueQuote{{Venue: "A", Err: fmt.Errorf("down")}})
	assert.False(t, ok)
}

// TestSimulatedTradeUpdatesLedger runs one full cycle in simulation mode and
// checks the internal ledger plus the emitted feed entry.
func TestSimulatedTradeUpdatesLedger(t *testing.T) {
	ch := newMockChain("QuickSwap")
	ch.setQuote("QuickSwap", "USDT", "WETH", 3_000_000_000_000_000)
	ch.setQuote("QuickSwap", "WETH", "USDT", 10_200_000)

	eng, feed := newTestEngine(t, ch, wethPrices(), models.ModeSimulation)
	eng.gasBalance = decimal.RequireFromString("1")
	eng.totalBalance = decimal.RequireFromString("100")

	halted := eng.cycle(context.Background(), make(chan struct{}))
	assert.False(t, halted)

	state := eng.State()
	assert.True(t, state.DailyPnl.Equal(decimal.RequireFromString("0.16")), "dailyPnl: %s", state.DailyPnl)
	assert.True(t, state.TotalBalance.Equal(decimal.RequireFromString("100.16")), "totalBalance: %s", state.TotalBalance)
	assert.True(t, state.GasBalance.Equal(decimal.RequireFromString("0.99")), "gasBalance: %s", state.GasBalance)

	entries := feed.Recent(0)
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, models.EntryRouteTrade, last.Kind)
	assert.Equal(t, models.StatusSuccess, last.Status)
	assert.Contains(t, last.TransactionRef, "0xSIM")
	assert.True(t, last.Profit.Equal(decimal.RequireFromString("0.16")))
}

// TestDrawdownHaltIsTerminal: once daily PnL breaches the drawdown limit the
// cycle reports a halt and records the reason.
func TestDrawdownHaltIsTerminal(t *testing.T) {
	ch := newMockChain("QuickSwap")
	eng, _ := newTestEngine(t, ch, wethPrices(), models.ModeSimulation)
	eng.dailyPnl = decimal.RequireFromString("-50")

	halted := eng.cycle(context.Background(), make(chan struct{}))
	assert.True(t, halted)

	state := eng.State()
	assert.False(t, state.Running)
	assert.Contains(t, state.HaltReason, "回撤")
	// no quotes should have been requested after the halt decision
	assert.Equal(t, 0, ch.totalQuoteCount())
}

// TestGasDepletedSkipsEvaluation: with the simulated gas ledger at zero the
// cycle emits only a pulse and never reaches quoting.
func TestGasDepletedSkipsEvaluation(t *testing.T) {
	ch := newMockChain("QuickSwap")
	ch.setQuote("QuickSwap", "USDT", "WETH", 3_000_000_000_000_000)

	eng, feed := newTestEngine(t, ch, wethPrices(), models.ModeSimulation)
	eng.gasBalance = decimal.Zero

	halted := eng.cycle(context.Background(), make(chan struct{}))
	assert.False(t, halted)
	assert.Equal(t, 0, ch.totalQuoteCount())

	entries := feed.Recent(0)
	require.Len(t, entries, 1)
	assert.Equal(t, models.EntryScanPulse, entries[0].Kind)
}

// TestAdvisoryWaitSkipsCycle: a WAIT hint pauses scanning without stopping the engine.
func TestAdvisoryWaitSkipsCycle(t *testing.T) {
	ch := newMockChain("QuickSwap")
	ch.setQuote("QuickSwap", "USDT", "WETH", 3_000_000_000_000_000)

	eng, _ := newTestEngine(t, ch, wethPrices(), models.ModeSimulation)
	eng.gasBalance = decimal.RequireFromString("1")
	eng.SetAdvisory(&models.AdvisoryHint{Action: "WAIT", Strategy: "Slippage Capture"})

	halted := eng.cycle(context.Background(), make(chan struct{}))
	assert.False(t, halted)
	assert.Equal(t, 0, ch.totalQuoteCount())

	// clearing the hint resumes evaluation
	eng.SetAdvisory(nil)
	eng.cycle(context.Background(), make(chan struct{}))
	assert.Greater(t, ch.totalQuoteCount(), 0)
}

// TestLiveZeroBalanceAfterBuy: if the buy leg settles to a zero target balance
// the trade is recorded as FAILED with the buy reference and a token penalty.
func TestLiveZeroBalanceAfterBuy(t *testing.T) {
	ch := newMockChain("QuickSwap")
	ch.setQuote("QuickSwap", "USDT", "WETH", 3_000_000_000_000_000)
	ch.setQuote("QuickSwap", "WETH", "USDT", 10_200_000)
	ch.native = big.NewInt(1_000_000_000_000_000_000)  // 1 POL, above floor
	ch.balances["USDT"] = big.NewInt(20_000_000)       // enough for the trade
	// WETH balance stays zero after the buy

	eng, feed := newTestEngine(t, ch, wethPrices(), models.ModeLive)

	eval, err := eng.evaluate(context.Background(), eng.Config(), "WETH", decimal.RequireFromString("3400"))
	require.NoError(t, err)
	require.True(t, eval.Approved)

	eng.executeLive(context.Background(), eng.Config(), eval)

	state := eng.State()
	assert.True(t, state.DailyPnl.Equal(decimal.RequireFromString("-0.01")), "dailyPnl: %s", state.DailyPnl)

	entries := feed.Recent(0)
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, models.EntryRouteTrade, last.Kind)
	assert.Equal(t, models.StatusFailed, last.Status)
	assert.Equal(t, "0xTX1", last.TransactionRef)
	assert.True(t, last.Profit.Equal(decimal.RequireFromString("-0.01")))
}

// TestLiveGasFloorBlocksExecution: live execution is refused below the native floor.
func TestLiveGasFloorBlocksExecution(t *testing.T) {
	ch := newMockChain("QuickSwap")
	ch.setQuote("QuickSwap", "USDT", "WETH", 3_000_000_000_000_000)
	ch.setQuote("QuickSwap", "WETH", "USDT", 10_200_000)
	ch.native = big.NewInt(10_000_000_000_000_000) // 0.01 POL, below the 0.05 floor
	ch.balances["USDT"] = big.NewInt(20_000_000)

	eng, _ := newTestEngine(t, ch, wethPrices(), models.ModeLive)

	eval, err := eng.evaluate(context.Background(), eng.Config(), "WETH", decimal.RequireFromString("3400"))
	require.NoError(t, err)

	eng.executeLive(context.Background(), eng.Config(), eval)
	ch.Lock()
	defer ch.Unlock()
	assert.Empty(t, ch.swapCalls, "no swap should be attempted below the gas floor")
}

// TestLiveSuccessfulRoundTrip drives both legs and checks the sell leg is
// sized to the actual settled balance, not the quoted amount.
func TestLiveSuccessfulRoundTrip(t *testing.T) {
	ch := newMockChain("QuickSwap")
	ch.setQuote("QuickSwap", "USDT", "WETH", 3_000_000_000_000_000)
	ch.setQuote("QuickSwap", "WETH", "USDT", 10_200_000)
	ch.native = big.NewInt(1_000_000_000_000_000_000)
	ch.balances["USDT"] = big.NewInt(20_000_000)
	// actual settled balance is slightly below the quote
	ch.balances["WETH"] = big.NewInt(2_950_000_000_000_000)

	eng, feed := newTestEngine(t, ch, wethPrices(), models.ModeLive)

	eval, err := eng.evaluate(context.Background(), eng.Config(), "WETH", decimal.RequireFromString("3400"))
	require.NoError(t, err)
	require.True(t, eval.Approved)

	eng.executeLive(context.Background(), eng.Config(), eval)

	ch.Lock()
	require.Len(t, ch.swapCalls, 2)
	buy, sell := ch.swapCalls[0], ch.swapCalls[1]
	ch.Unlock()

	assert.Equal(t, "USDT", buy.TokenIn)
	assert.Equal(t, "WETH", buy.TokenOut)
	assert.Equal(t, int64(10_000_000), buy.AmountIn.Int64())
	// buy minOut = quote * (1 - 0.005)
	assert.Equal(t, int64(2_985_000_000_000_000), buy.MinOut.Int64())

	assert.Equal(t, "WETH", sell.TokenIn)
	assert.Equal(t, int64(2_950_000_000_000_000), sell.AmountIn.Int64(),
		"sell leg must use the settled balance")

	entries := feed.Recent(0)
	last := entries[len(entries)-1]
	assert.Equal(t, models.StatusSuccess, last.Status)
	// realized = 10.2 - 10 - 0.04
	assert.True(t, last.Profit.Equal(decimal.RequireFromString("0.16")))
}

// TestLiveBuyLegUsesQuotedFeeTier: the buy leg must execute in the same pool
// the winning quote came from, not whatever tier the venue defaults to.
func TestLiveBuyLegUsesQuotedFeeTier(t *testing.T) {
	ch := newMockChain("UniswapV3")
	ch.setQuote("UniswapV3", "USDT", "WETH", 3_000_000_000_000_000)
	ch.setQuoteTier("UniswapV3", "USDT", "WETH", 3000)
	ch.setQuote("UniswapV3", "WETH", "USDT", 10_200_000)
	ch.setQuoteTier("UniswapV3", "WETH", "USDT", 500)
	ch.native = big.NewInt(1_000_000_000_000_000_000)
	ch.balances["USDT"] = big.NewInt(20_000_000)
	ch.balances["WETH"] = big.NewInt(3_000_000_000_000_000)

	eng, _ := newTestEngine(t, ch, wethPrices(), models.ModeLive)

	eval, err := eng.evaluate(context.Background(), eng.Config(), "WETH", decimal.RequireFromString("3400"))
	require.NoError(t, err)
	assert.Equal(t, int64(3000), eval.BuyFeeTier)

	eng.executeLive(context.Background(), eng.Config(), eval)

	ch.Lock()
	defer ch.Unlock()
	require.Len(t, ch.swapCalls, 2)
	assert.Equal(t, int64(3000), ch.swapCalls[0].FeeTier, "buy leg must reuse the quoted tier")
	assert.Equal(t, int64(500), ch.swapCalls[1].FeeTier, "sell leg must reuse the quoted tier")
}

// TestTradeCapClampsCycle: a trade amount above the configured ceiling is
// clamped before any quoting happens.
func TestTradeCapClampsCycle(t *testing.T) {
	ch := newMockChain("QuickSwap")
	ch.setQuote("QuickSwap", "USDT", "WETH", 3_000_000_000_000_000)
	ch.setQuote("QuickSwap", "WETH", "USDT", 10_200_000)

	eng, _ := newTestEngine(t, ch, wethPrices(), models.ModeSimulation)
	cfg := testEngineConfig(models.ModeSimulation)
	cfg.TradeAmount = decimal.RequireFromString("10")
	cfg.MaxTradeAmount = decimal.RequireFromString("5")
	eng.engineCfg = cfg
	eng.gasBalance = decimal.RequireFromString("1")

	eng.cycle(context.Background(), make(chan struct{}))

	ch.Lock()
	defer ch.Unlock()
	require.NotEmpty(t, ch.quoteIns)
	// 5 USDT at 6 decimals, not the configured 10
	assert.Equal(t, int64(5_000_000), ch.quoteIns[0].Int64())
}

// TestEnsureFundsRejectsInsufficientAllowance: with the owner's approval below
// the shortfall no pull and no swap are attempted.
func TestEnsureFundsRejectsInsufficientAllowance(t *testing.T) {
	ch := newMockChain("QuickSwap")
	ch.setQuote("QuickSwap", "USDT", "WETH", 3_000_000_000_000_000)
	ch.setQuote("QuickSwap", "WETH", "USDT", 10_200_000)
	ch.native = big.NewInt(1_000_000_000_000_000_000)
	ch.balances["USDT"] = big.NewInt(4_000_000) // shortfall of 6 USDT
	ch.allowance = big.NewInt(1_000_000)        // approval covers only 1 USDT

	eng, feed := newTestEngine(t, ch, wethPrices(), models.ModeLive)

	eval, err := eng.evaluate(context.Background(), eng.Config(), "WETH", decimal.RequireFromString("3400"))
	require.NoError(t, err)

	eng.executeLive(context.Background(), eng.Config(), eval)

	ch.Lock()
	assert.Empty(t, ch.pullCalls, "no transferFrom should be attempted")
	assert.Empty(t, ch.swapCalls, "no swap should be attempted")
	ch.Unlock()

	entries := feed.Recent(0)
	require.NotEmpty(t, entries)
	assert.Equal(t, models.EntryError, entries[len(entries)-1].Kind)
}

// TestEnsureFundsPullsShortfall: a short operator balance is topped up from
// the owner before the buy leg.
func TestEnsureFundsPullsShortfall(t *testing.T) {
	ch := newMockChain("QuickSwap")
	ch.setQuote("QuickSwap", "USDT", "WETH", 3_000_000_000_000_000)
	ch.setQuote("QuickSwap", "WETH", "USDT", 10_200_000)
	ch.native = big.NewInt(1_000_000_000_000_000_000)
	ch.balances["USDT"] = big.NewInt(4_000_000) // 4 of the 10 needed
	ch.balances["WETH"] = big.NewInt(3_000_000_000_000_000)

	eng, _ := newTestEngine(t, ch, wethPrices(), models.ModeLive)

	eval, err := eng.evaluate(context.Background(), eng.Config(), "WETH", decimal.RequireFromString("3400"))
	require.NoError(t, err)

	eng.executeLive(context.Background(), eng.Config(), eval)

	ch.Lock()
	defer ch.Unlock()
	require.Len(t, ch.pullCalls, 1)
	assert.Equal(t, int64(6_000_000), ch.pullCalls[0].Int64())
}

// TestConsolidationGuards covers threshold, owner identity and full-balance sweep.
func TestConsolidationGuards(t *testing.T) {
	usdt := models.TokenDescriptor{Symbol: "USDT", Decimals: 6}
	cfg := testEngineConfig(models.ModeLive)
	cfg.ConsolidationThreshold = decimal.RequireFromString("50")

	t.Run("below threshold", func(t *testing.T) {
		ch := newMockChain("QuickSwap")
		ch.balances["USDT"] = big.NewInt(40_000_000)
		eng, _ := newTestEngine(t, ch, wethPrices(), models.ModeLive)

		eng.consolidate(context.Background(), cfg, usdt, ch.operator)
		assert.Empty(t, ch.transfers)
	})

	t.Run("owner equals operator", func(t *testing.T) {
		ch := newMockChain("QuickSwap")
		ch.owner = ch.operator
		ch.balances["USDT"] = big.NewInt(90_000_000)
		eng, _ := newTestEngine(t, ch, wethPrices(), models.ModeLive)

		eng.consolidate(context.Background(), cfg, usdt, ch.operator)
		assert.Empty(t, ch.transfers)
	})

	t.Run("sweeps full balance", func(t *testing.T) {
		ch := newMockChain("QuickSwap")
		ch.balances["USDT"] = big.NewInt(90_000_000)
		eng, _ := newTestEngine(t, ch, wethPrices(), models.ModeLive)

		eng.consolidate(context.Background(), cfg, usdt, ch.operator)
		require.Len(t, ch.transfers, 1)
		assert.Equal(t, ch.owner, ch.transfers[0].To)
		assert.Equal(t, int64(90_000_000), ch.transfers[0].Amount.Int64())
	})
}

// TestEmergencyLiquidateIsolation: one failing asset must not stop the others.
func TestEmergencyLiquidateIsolation(t *testing.T) {
	ch := newMockChain("QuickSwap")
	ch.balances["WETH"] = big.NewInt(500_000_000_000_000_000)
	ch.balances["WBTC"] = big.NewInt(500) // below the dust threshold at 8 decimals
	ch.balances["WMATIC"] = big.NewInt(1_000_000_000_000_000_000)
	ch.setQuote("QuickSwap", "WETH", "USDT", 1_700_000_000)
	ch.setQuote("QuickSwap", "WMATIC", "USDT", 400_000)

	eng, _ := newTestEngine(t, ch, wethPrices(), models.ModeLive)

	count, err := eng.EmergencyLiquidate(context.Background())
	require.NoError(t, err)
	// WETH and WMATIC sold, WBTC skipped as dust
	assert.Equal(t, 2, count)

	// now fail the venue outright and retry with fresh balances
	ch2 := newMockChain("QuickSwap")
	ch2.balances["WETH"] = big.NewInt(500_000_000_000_000_000)
	ch2.balances["WMATIC"] = big.NewInt(1_000_000_000_000_000_000)
	ch2.setQuote("QuickSwap", "WETH", "USDT", 1_700_000_000)
	ch2.setQuote("QuickSwap", "WMATIC", "USDT", 400_000)
	ch2.swapErrs["QuickSwap"] = fmt.Errorf("execution reverted")

	eng2, _ := newTestEngine(t, ch2, wethPrices(), models.ModeLive)
	count2, err := eng2.EmergencyLiquidate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count2)
}

// TestEmergencyLiquidateSimulationNoop: simulation mode has no on-chain holdings.
func TestEmergencyLiquidateSimulationNoop(t *testing.T) {
	ch := newMockChain("QuickSwap")
	ch.balances["WETH"] = big.NewInt(500_000_000_000_000_000)

	eng, _ := newTestEngine(t, ch, wethPrices(), models.ModeSimulation)
	count, err := eng.EmergencyLiquidate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, ch.totalQuoteCount())
}

// TestRecharge covers the simulated ledger credit and input validation.
func TestRecharge(t *testing.T) {
	ch := newMockChain("QuickSwap")
	eng, _ := newTestEngine(t, ch, wethPrices(), models.ModeSimulation)
	eng.gasBalance = decimal.RequireFromString("0.5")

	require.NoError(t, eng.Recharge(context.Background(), decimal.RequireFromString("2")))
	assert.True(t, eng.State().GasBalance.Equal(decimal.RequireFromString("2.5")))

	assert.Error(t, eng.Recharge(context.Background(), decimal.Zero))
}

// TestStartStopLifecycle: double start errors, stop is idempotent, and the
// loop goroutine exits on stop.
func TestStartStopLifecycle(t *testing.T) {
	ch := newMockChain("QuickSwap")
	ch.setQuote("QuickSwap", "USDT", "WETH", 3_000_000_000_000_000)
	ch.setQuote("QuickSwap", "WETH", "USDT", 10_050_000)

	feed := NewFeed(50)
	eng, err := New(testStaticConfig(), ch, wethPrices(), testTokens(), feed, NewRealClock())
	require.NoError(t, err)

	cfg := testEngineConfig(models.ModeSimulation)
	require.NoError(t, eng.Start(cfg))
	assert.Error(t, eng.Start(cfg), "second start must be rejected")
	assert.True(t, eng.State().Running)

	eng.Stop()
	assert.False(t, eng.State().Running)
	eng.Stop() // idempotent

	// restart works after a clean stop
	require.NoError(t, eng.Start(cfg))
	eng.Stop()
}

// TestUpdateConfigIsWholeValue: a config push replaces the whole struct at once.
func TestUpdateConfigIsWholeValue(t *testing.T) {
	ch := newMockChain("QuickSwap")
	eng, _ := newTestEngine(t, ch, wethPrices(), models.ModeSimulation)

	next := testEngineConfig(models.ModeSimulation)
	next.TradeAmount = decimal.RequireFromString("25")
	next.MinProfitFraction = 0.02

	eng.UpdateConfig(next)
	got := eng.Config()
	assert.True(t, got.TradeAmount.Equal(decimal.RequireFromString("25")))
	assert.Equal(t, 0.02, got.MinProfitFraction)
}

// TestApplySlippage checks the basis-point arithmetic.
func TestApplySlippage(t *testing.T) {
	out := applySlippage(big.NewInt(10_000), 0.005)
	assert.Equal(t, int64(9_950), out.Int64())

	out = applySlippage(big.NewInt(10_000), 0)
	assert.Equal(t, int64(10_000), out.Int64())
}
