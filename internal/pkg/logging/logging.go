// Package logging 统一的结构化日志入口（logrus）
package logging

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Fields 日志字段别名，调用方无需直接依赖 logrus
type Fields = logrus.Fields

var (
	mu   sync.RWMutex
	base = newBase()
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Init 按配置设置日志级别与格式
func Init(level, format string) {
	mu.Lock()
	defer mu.Unlock()

	if lvl, err := logrus.ParseLevel(strings.TrimSpace(level)); err == nil {
		base.SetLevel(lvl)
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// Logger 返回基础 entry
func Logger() *logrus.Entry {
	mu.RLock()
	defer mu.RUnlock()
	return logrus.NewEntry(base)
}

// Component 返回带 component 字段的 entry
func Component(name string) *logrus.Entry {
	return Logger().WithField("component", name)
}

// AddHook 在基础 logger 上挂钩子（告警上报、测试中捕获日志）
func AddHook(h logrus.Hook) {
	mu.Lock()
	defer mu.Unlock()
	base.AddHook(h)
}
