package engine

import "time"

// Clock 抽象时间来源, 让测试可以注入假时钟跳过真实等待。
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewRealClock 返回使用系统时间的时钟
func NewRealClock() Clock {
	return realClock{}
}
