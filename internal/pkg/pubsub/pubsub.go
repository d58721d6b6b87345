package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelBotEvents = "bot_events"
)

// 事件类型
const (
	EventBotStarted      = "bot_started"
	EventBotStopped      = "bot_stopped"
	EventBotFailed       = "bot_failed"
	EventBotCrashed      = "bot_crashed"
	EventPaymentApproved = "payment_approved"
)

// BotEvent 运行时进程发给运营后台的状态事件
type BotEvent struct {
	Type      string    `json:"type"`
	TenantID  int64     `json:"tenant_id"`
	BotID     int64     `json:"bot_id"`
	PaymentID int64     `json:"payment_id,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher Redis 发布者，nil 时所有发布都是空操作
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish 发布事件，At 为空时补当前时间
func (p *Publisher) Publish(ctx context.Context, ev *BotEvent) error {
	if p == nil {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal bot event: %w", err)
	}

	return p.client.Publish(ctx, ChannelBotEvents, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 阻塞订阅事件，直到 ctx 取消
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*BotEvent)) error {
	sub := s.client.Subscribe(ctx, ChannelBotEvents)
	defer sub.Close()

	// 等订阅确认后再消费，避免丢掉紧随其后的消息
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var ev BotEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue // 忽略解析错误
			}

			handler(&ev)
		}
	}
}
