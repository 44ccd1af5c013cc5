package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kristal2012/flowsniper/internal/logger"
	"github.com/kristal2012/flowsniper/internal/models"
	"github.com/kristal2012/flowsniper/internal/transport"
)

const defaultEndpoint = "https://api.openai.com/v1/chat/completions"

// PriceSource 提供构造提示词所需的参考价
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) decimal.Decimal
}

// neutralHint 是顾问不可用时的缺省建议, 引擎按不干预处理。
func neutralHint(now time.Time) *models.AdvisoryHint {
	return &models.AdvisoryHint{
		Action:     "NONE",
		Strategy:   "Slippage Capture",
		Confidence: 0,
		UpdatedAt:  now,
	}
}

// Advisor 周期性向 LLM 顾问询问市场建议并推送给引擎。
// 顾问属于软信号: 任何失败都退化为中性建议, 绝不阻塞交易循环。
type Advisor struct {
	http     *transport.Client
	apiKey   string
	endpoint string
	symbols  []string
	prices   PriceSource
	interval time.Duration
	sink     func(*models.AdvisoryHint)
	stopChan chan struct{}
	doneChan chan struct{}
}

// New 构造顾问。apiKey 为空时所有查询直接返回中性建议。
func New(httpClient *transport.Client, apiKey string, symbols []string, prices PriceSource, interval time.Duration, sink func(*models.AdvisoryHint)) *Advisor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Advisor{
		http:     httpClient,
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		symbols:  symbols,
		prices:   prices,
		interval: interval,
		sink:     sink,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start 启动后台刷新循环, 启动时先推送一次建议
func (a *Advisor) Start() {
	go a.run()
}

// Stop 停止刷新循环并等待退出
func (a *Advisor) Stop() {
	close(a.stopChan)
	<-a.doneChan
}

func (a *Advisor) run() {
	defer close(a.doneChan)

	a.refresh()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopChan:
			return
		case <-ticker.C:
			a.refresh()
		}
	}
}

func (a *Advisor) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hint := a.Fetch(ctx)
	a.sink(hint)
}

// Fetch 获取一次建议, 失败时返回中性建议而不是错误。
func (a *Advisor) Fetch(ctx context.Context) *models.AdvisoryHint {
	if a.apiKey == "" {
		return neutralHint(time.Now())
	}

	hint, err := a.query(ctx)
	if err != nil {
		logger.S().Warnf("顾问查询失败, 采用中性建议: %v", err)
		return neutralHint(time.Now())
	}
	return hint
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (a *Advisor) query(ctx context.Context) (*models.AdvisoryHint, error) {
	var lines []string
	for _, sym := range a.symbols {
		p := a.prices.CurrentPrice(ctx, sym)
		if p.Sign() > 0 {
			lines = append(lines, fmt.Sprintf("%s: %s USD", sym, p.StringFixed(2)))
		}
	}

	prompt := fmt.Sprintf(
		"You are a DEX arbitrage advisor on Polygon. Current prices:\n%s\n"+
			"Reply with strict JSON only: {\"action\":\"BUY|SELL|WAIT|HOLD|NONE\",\"strategy\":\"...\",\"confidence\":0.0}",
		strings.Join(lines, "\n"))

	req := chatRequest{
		Model:       "gpt-4o-mini",
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.2,
	}
	headers := map[string]string{"Authorization": "Bearer " + a.apiKey}

	var resp chatResponse
	if err := a.http.PostJSON(ctx, a.endpoint, headers, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("顾问返回空响应")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	// 模型偶尔会包一层 markdown 代码块
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var hint models.AdvisoryHint
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &hint); err != nil {
		return nil, fmt.Errorf("解析顾问响应失败: %w", err)
	}

	hint.Action = strings.ToUpper(hint.Action)
	switch hint.Action {
	case "BUY", "SELL", "WAIT", "HOLD", "NONE":
	default:
		return nil, fmt.Errorf("顾问返回未知动作: %s", hint.Action)
	}
	if hint.Strategy == "" {
		hint.Strategy = "Slippage Capture"
	}
	hint.UpdatedAt = time.Now()
	return &hint, nil
}
