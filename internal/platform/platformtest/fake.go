// Package platformtest 提供内存版 platform.Client，供运行时与服务层测试使用
package platformtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/qs3c/vipgate_server/internal/platform"
)

var ErrCrashed = errors.New("platformtest: receive loop crashed")

type SentText struct {
	ChatID   string
	Text     string
	Keyboard platform.Keyboard
}

type SentMedia struct {
	ChatID  string
	Media   platform.Media
	Caption string
}

// Client 记录所有出站调用；错误字段可在测试中注入
type Client struct {
	Token string

	mu sync.Mutex

	// IdentityErrs 按调用顺序返回的错误，用尽后返回成功
	IdentityErrs []error
	SendTextErr  error
	// SendMediaFailures 前 N 次媒体发送失败
	SendMediaFailures int
	InviteErr         error
	InviteLink        string
	// ExitDelay 取消后接收循环延迟退出的时间，模拟仍在收尾的长轮询
	ExitDelay time.Duration

	identityCalls int
	texts         []SentText
	media         []SentMedia
	invites       []string
	answered      []string

	handler platform.Handler
	running bool
	crash   chan struct{}
	started chan struct{}
	factory *Factory
}

func NewClient(token string) *Client {
	return &Client{
		Token:      token,
		InviteLink: "https://t.me/+invite",
		crash:      make(chan struct{}),
		started:    make(chan struct{}),
	}
}

func (c *Client) Identity(ctx context.Context) (*platform.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.identityCalls
	c.identityCalls++
	if idx < len(c.IdentityErrs) && c.IdentityErrs[idx] != nil {
		return nil, c.IdentityErrs[idx]
	}
	return &platform.Identity{ID: 1, Username: "fake_bot", Name: "Fake"}, nil
}

// Run 阻塞直到 ctx 取消或 Crash 被调用
func (c *Client) Run(ctx context.Context, handler platform.Handler) error {
	c.mu.Lock()
	c.handler = handler
	c.running = true
	started := c.started
	exitDelay := c.ExitDelay
	c.mu.Unlock()
	close(started)

	if c.factory != nil {
		c.factory.enter(c.Token)
		defer c.factory.leave(c.Token)
	}
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		if exitDelay > 0 {
			time.Sleep(exitDelay)
		}
		return ctx.Err()
	case <-c.crash:
		return ErrCrashed
	}
}

// Started 在 Run 被调用后关闭
func (c *Client) Started() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Crash 让接收循环异常退出
func (c *Client) Crash() {
	close(c.crash)
}

func (c *Client) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Emit 同步投递一条事件给 Run 注册的 handler
func (c *Client) Emit(ctx context.Context, ev platform.Event) error {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler == nil {
		return fmt.Errorf("platformtest: client %s is not running", c.Token)
	}
	handler(ctx, ev)
	return nil
}

func (c *Client) SendText(ctx context.Context, chatID, text string, kb platform.Keyboard) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendTextErr != nil {
		return c.SendTextErr
	}
	c.texts = append(c.texts, SentText{ChatID: chatID, Text: text, Keyboard: kb})
	return nil
}

func (c *Client) SendMedia(ctx context.Context, chatID string, media platform.Media, caption string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendMediaFailures > 0 {
		c.SendMediaFailures--
		return errors.New("platformtest: media send failed")
	}
	c.media = append(c.media, SentMedia{ChatID: chatID, Media: media, Caption: caption})
	return nil
}

func (c *Client) CreateInviteLink(ctx context.Context, destinationID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.InviteErr != nil {
		return "", c.InviteErr
	}
	c.invites = append(c.invites, destinationID)
	return c.InviteLink, nil
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answered = append(c.answered, callbackID)
	return nil
}

func (c *Client) IdentityCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identityCalls
}

func (c *Client) Texts() []SentText {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SentText(nil), c.texts...)
}

// TextsTo 发给某个会话的文本
func (c *Client) TextsTo(chatID string) []SentText {
	var out []SentText
	for _, t := range c.Texts() {
		if t.ChatID == chatID {
			out = append(out, t)
		}
	}
	return out
}

// LastTextTo 发给某个会话的最后一条文本
func (c *Client) LastTextTo(chatID string) (SentText, bool) {
	texts := c.TextsTo(chatID)
	if len(texts) == 0 {
		return SentText{}, false
	}
	return texts[len(texts)-1], true
}

func (c *Client) Media() []SentMedia {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SentMedia(nil), c.media...)
}

func (c *Client) Invites() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.invites...)
}

func (c *Client) Answered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.answered...)
}

// Factory 按令牌复用同一个 fake，并可为每次创建注入错误
type Factory struct {
	mu      sync.Mutex
	clients map[string]*Client
	// Prepare 新建 client 时调用，用于注入错误
	Prepare func(c *Client)
	// NewErr 非空时 New 直接失败
	NewErr  error
	created int

	loops map[string]int
	peak  map[string]int
}

func NewFactory() *Factory {
	return &Factory{
		clients: map[string]*Client{},
		loops:   map[string]int{},
		peak:    map[string]int{},
	}
}

func (f *Factory) enter(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loops[token]++
	if f.loops[token] > f.peak[token] {
		f.peak[token] = f.loops[token]
	}
}

func (f *Factory) leave(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loops[token]--
}

// PeakLoops 同一令牌同时处于 Run 中的接收循环数的最大值
func (f *Factory) PeakLoops(token string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak[token]
}

func (f *Factory) New(token string) (platform.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	c := NewClient(token)
	c.factory = f
	if f.Prepare != nil {
		f.Prepare(c)
	}
	f.clients[token] = c
	return c, nil
}

// Client 返回某令牌最近一次创建的 fake
func (f *Factory) Client(token string) *Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[token]
}

func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}
