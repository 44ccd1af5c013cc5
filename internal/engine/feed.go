package engine

import (
	"crypto/rand"
	"sync"

	"github.com/jxskiss/base62"

	"github.com/kristal2012/flowsniper/internal/models"
)

// Feed 是推送给控制接口的事件流, 内部是固定容量的环形缓冲区。
// 订阅回调在 Append 的调用 goroutine 上同步执行, 回调方不得阻塞。
type Feed struct {
	mu      sync.Mutex
	entries []models.LogEntry
	start   int
	count   int
	subs    []func(models.LogEntry)
}

// NewFeed 创建容量为 size 的事件流
func NewFeed(size int) *Feed {
	if size <= 0 {
		size = 100
	}
	return &Feed{entries: make([]models.LogEntry, size)}
}

// Append 追加一条事件, 缓冲区满时覆盖最旧的条目
func (f *Feed) Append(entry models.LogEntry) {
	f.mu.Lock()
	idx := (f.start + f.count) % len(f.entries)
	if f.count == len(f.entries) {
		f.start = (f.start + 1) % len(f.entries)
		idx = (f.start + f.count - 1) % len(f.entries)
	} else {
		f.count++
	}
	f.entries[idx] = entry
	subs := f.subs
	f.mu.Unlock()

	for _, fn := range subs {
		fn(entry)
	}
}

// Recent 返回最近的 n 条事件, 时间从旧到新。n <= 0 时返回全部。
func (f *Feed) Recent(n int) []models.LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	if n <= 0 || n > f.count {
		n = f.count
	}
	out := make([]models.LogEntry, 0, n)
	for i := f.count - n; i < f.count; i++ {
		out = append(out, f.entries[(f.start+i)%len(f.entries)])
	}
	return out
}

// Subscribe 注册事件回调, 必须在引擎启动前调用
func (f *Feed) Subscribe(fn func(models.LogEntry)) {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	f.mu.Unlock()
}

// newEntryID 生成短随机事件 ID
func newEntryID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "000000"
	}
	return base62.EncodeToString(buf)
}
