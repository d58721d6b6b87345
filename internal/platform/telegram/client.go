// Package telegram 基于 go-telegram/bot 的平台实现
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/vipgate_server/internal/pkg/logging"
	"github.com/qs3c/vipgate_server/internal/platform"
)

var allowedUpdates = bot.AllowedUpdates{
	"message",
	"callback_query",
}

var ErrEmptyToken = errors.New("telegram token is required")

type options struct {
	serverURL string
	logger    *logrus.Entry
}

type Option func(*options)

// WithServerURL 指定 Bot API 地址（测试或自建网关）
func WithServerURL(url string) Option {
	return func(o *options) {
		o.serverURL = url
	}
}

func WithLogger(logger *logrus.Entry) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Client 单个令牌的 Telegram 会话
type Client struct {
	b      *bot.Bot
	logger *logrus.Entry

	mu      sync.RWMutex
	handler platform.Handler
}

// New 创建会话，不调用 getMe；身份探测由 Identity 完成
func New(token string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrEmptyToken
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Component("telegram")
	}

	c := &Client{logger: o.logger}

	botOpts := []bot.Option{
		bot.WithSkipGetMe(),
		bot.WithAllowedUpdates(allowedUpdates),
		bot.WithDefaultHandler(c.onUpdate),
		bot.WithErrorsHandler(func(err error) {
			c.logger.WithField("event", "telegram_error").WithError(err).Warn("telegram polling error")
		}),
	}
	if o.serverURL != "" {
		botOpts = append(botOpts, bot.WithServerURL(o.serverURL))
	}

	b, err := bot.New(token, botOpts...)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}
	c.b = b

	return c, nil
}

// NewFactory 返回 platform.Factory
func NewFactory(opts ...Option) platform.Factory {
	return func(token string) (platform.Client, error) {
		return New(token, opts...)
	}
}

func (c *Client) Identity(ctx context.Context) (*platform.Identity, error) {
	me, err := c.b.GetMe(ctx)
	if err != nil {
		return nil, err
	}
	return &platform.Identity{
		ID:       me.ID,
		Username: me.Username,
		Name:     strings.TrimSpace(me.FirstName + " " + me.LastName),
	}, nil
}

// Run 阻塞直到 ctx 取消
func (c *Client) Run(ctx context.Context, handler platform.Handler) error {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()

	c.b.Start(ctx)
	return ctx.Err()
}

func (c *Client) onUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler == nil {
		return
	}

	ev, ok := toEvent(update)
	if !ok {
		return
	}
	handler(ctx, ev)
}

func (c *Client) SendText(ctx context.Context, chatID, text string, kb platform.Keyboard) error {
	params := &bot.SendMessageParams{
		ChatID: chatRef(chatID),
		Text:   text,
	}
	if markup := toMarkup(kb); markup != nil {
		params.ReplyMarkup = markup
	}
	_, err := c.b.SendMessage(ctx, params)
	return err
}

func (c *Client) SendMedia(ctx context.Context, chatID string, media platform.Media, caption string) error {
	file := toInputFile(media)
	var err error
	switch media.Kind {
	case platform.MediaImage:
		_, err = c.b.SendPhoto(ctx, &bot.SendPhotoParams{ChatID: chatRef(chatID), Photo: file, Caption: caption})
	case platform.MediaVideo:
		_, err = c.b.SendVideo(ctx, &bot.SendVideoParams{ChatID: chatRef(chatID), Video: file, Caption: caption})
	case platform.MediaAudio:
		_, err = c.b.SendAudio(ctx, &bot.SendAudioParams{ChatID: chatRef(chatID), Audio: file, Caption: caption})
	default:
		err = fmt.Errorf("unsupported media kind %q", media.Kind)
	}
	return err
}

func (c *Client) CreateInviteLink(ctx context.Context, destinationID string) (string, error) {
	link, err := c.b.CreateChatInviteLink(ctx, &bot.CreateChatInviteLinkParams{
		ChatID:      chatRef(destinationID),
		MemberLimit: 1,
	})
	if err != nil {
		return "", err
	}
	return link.InviteLink, nil
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	_, err := c.b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: callbackID})
	return err
}

// chatRef 数字 ID 传 int64，@频道名原样传
func chatRef(chatID string) any {
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		return id
	}
	return chatID
}

func toInputFile(media platform.Media) models.InputFile {
	if len(media.Data) > 0 {
		name := media.Filename
		if name == "" {
			name = "file"
		}
		return &models.InputFileUpload{Filename: name, Data: bytes.NewReader(media.Data)}
	}
	return &models.InputFileString{Data: media.Ref}
}

func toMarkup(kb platform.Keyboard) *models.InlineKeyboardMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]models.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, models.InlineKeyboardButton{Text: btn.Text, CallbackData: btn.Data})
		}
		rows = append(rows, buttons)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}
