package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 引擎运行指标, 通过控制接口的 /metrics 暴露。
var (
	ScanCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowsniper_scan_cycles_total",
		Help: "扫描周期总数",
	})

	QuoteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsniper_quote_errors_total",
		Help: "各场所报价失败次数",
	}, []string{"venue"})

	Trades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsniper_trades_total",
		Help: "按模式与结果统计的交易次数",
	}, []string{"mode", "result"})

	CircuitBreakerTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowsniper_circuit_breaker_trips_total",
		Help: "ROI 熔断触发次数",
	})

	DailyPnl = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowsniper_daily_pnl",
		Help: "当日累计盈亏 (报价资产)",
	})

	GasBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowsniper_gas_balance",
		Help: "当前 gas 余额 (模拟盘账本或链上快照)",
	})

	Consolidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowsniper_consolidations_total",
		Help: "资金归集成功次数",
	})

	Liquidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowsniper_liquidations_total",
		Help: "紧急清算中成功卖出的资产数",
	})
)
