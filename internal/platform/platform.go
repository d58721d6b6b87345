// Package platform 消息平台抽象。运行时只依赖这里的接口，具体实现见 platform/telegram
package platform

import (
	"context"
	"strconv"
	"strings"
)

type EventKind int

const (
	EventMessage EventKind = iota + 1
	EventCallback
)

// Buyer 与机器人对话的用户
type Buyer struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// DisplayName 优先使用姓名，其次 @username
func (b Buyer) DisplayName() string {
	name := strings.TrimSpace(b.FirstName + " " + b.LastName)
	if name != "" {
		return name
	}
	if b.Username != "" {
		return "@" + b.Username
	}
	return strconv.FormatInt(b.ID, 10)
}

// Event 一条入站更新：普通消息 / 命令，或按钮回调
type Event struct {
	Kind   EventKind
	ChatID string
	Buyer  Buyer

	Text    string
	Command string // 不含斜杠，如 "start"
	Param   string // 命令参数，如 /start 后的推广参数

	CallbackID   string
	CallbackData string
}

func (e Event) IsCommand(name string) bool {
	return e.Kind == EventMessage && e.Command == name
}

type Button struct {
	Text string
	Data string
}

// Keyboard 行列布局的内联按钮
type Keyboard [][]Button

const (
	MediaImage = "image"
	MediaVideo = "video"
	MediaAudio = "audio"
)

// Media 发送的媒体。Ref 为平台文件 ID 或 URL；Data 非空时直接上传
type Media struct {
	Kind     string
	Ref      string
	Data     []byte
	Filename string
}

// Identity 机器人身份探测结果
type Identity struct {
	ID       int64
	Username string
	Name     string
}

type Handler func(ctx context.Context, ev Event)

// Client 单个机器人令牌对应的平台会话
type Client interface {
	// Identity 校验令牌并返回机器人身份
	Identity(ctx context.Context) (*Identity, error)
	// Run 长轮询接收更新并交给 handler，直到 ctx 取消
	Run(ctx context.Context, handler Handler) error
	SendText(ctx context.Context, chatID, text string, kb Keyboard) error
	SendMedia(ctx context.Context, chatID string, media Media, caption string) error
	// CreateInviteLink 生成单人可用、不过期的邀请链接
	CreateInviteLink(ctx context.Context, destinationID string) (string, error)
	AnswerCallback(ctx context.Context, callbackID string) error
}

// Factory 根据令牌创建会话
type Factory func(token string) (Client, error)

// ChatID 把数字 ID 转为平台通用的字符串形式
func ChatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
