package reporter

import (
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"

	"github.com/kristal2012/flowsniper/internal/models"
)

// Metrics 存储一个运行会话的性能指标
type Metrics struct {
	Mode          models.Mode
	DailyPnl      decimal.Decimal
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	StartTime     time.Time
	EndTime       time.Time
}

// GenerateReport 在会话结束时打印性能汇总与最近交易明细
func GenerateReport(state models.EngineState, entries []models.LogEntry, startTime time.Time) {
	m := calculateMetrics(state, entries)
	m.StartTime = startTime
	m.EndTime = time.Now()

	summary := table.NewWriter()
	summary.SetOutputMirror(os.Stdout)
	summary.SetTitle("会话报告")
	summary.AppendRows([]table.Row{
		{"运行模式", string(m.Mode)},
		{"会话时长", m.EndTime.Sub(m.StartTime).Round(time.Second).String()},
		{"扫描周期数", state.Cycles},
		{"当日盈亏", m.DailyPnl.StringFixed(4) + " USDT"},
		{"交易次数", m.TotalTrades},
		{"盈利次数", m.WinningTrades},
		{"亏损次数", m.LosingTrades},
	})
	if m.TotalTrades > 0 {
		summary.AppendRow(table.Row{"胜率", decimal.NewFromFloat(m.WinRate).StringFixed(2) + "%"})
	}
	if state.HaltReason != "" {
		summary.AppendRow(table.Row{"停机原因", state.HaltReason})
	}
	summary.Render()

	trades := tradeEntries(entries)
	if len(trades) == 0 {
		return
	}

	detail := table.NewWriter()
	detail.SetOutputMirror(os.Stdout)
	detail.SetTitle("交易明细")
	detail.AppendHeader(table.Row{"时间", "交易对", "利润", "状态", "交易哈希"})
	for _, entry := range trades {
		detail.AppendRow(table.Row{
			entry.Timestamp.Format("15:04:05"),
			entry.PairLabel,
			entry.Profit.StringFixed(4),
			entry.Status,
			entry.TransactionRef,
		})
	}
	detail.Render()
}

func calculateMetrics(state models.EngineState, entries []models.LogEntry) *Metrics {
	m := &Metrics{
		Mode:     state.Mode,
		DailyPnl: state.DailyPnl,
	}

	for _, entry := range tradeEntries(entries) {
		m.TotalTrades++
		if entry.Status == models.StatusSuccess && entry.Profit.Sign() > 0 {
			m.WinningTrades++
		} else {
			m.LosingTrades++
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	return m
}

func tradeEntries(entries []models.LogEntry) []models.LogEntry {
	var out []models.LogEntry
	for _, entry := range entries {
		if entry.Kind == models.EntryRouteTrade {
			out = append(out, entry)
		}
	}
	return out
}
