// Package session 会话级临时状态（待确认的套餐选择、推广码、首次接触时间），存于 Redis 并带 TTL
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	keyPrefix    = "conv:"
	defaultTTL   = time.Hour
	maxTxRetries = 3
)

var ErrNoPendingSelection = errors.New("no pending selection")

// PendingSelection 已选择套餐、正在等待附加优惠答复
type PendingSelection struct {
	PlanIndex int       `json:"plan_index"`
	OfferID   int64     `json:"offer_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Conversation struct {
	AttributionID  *int64            `json:"attribution_id,omitempty"`
	FirstContactAt time.Time         `json:"first_contact_at"`
	Pending        *PendingSelection `json:"pending,omitempty"`
}

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func key(botID, buyerID int64) string {
	return fmt.Sprintf("%s%d:%d", keyPrefix, botID, buyerID)
}

// Get 不存在时返回 nil, nil
func (s *Store) Get(ctx context.Context, botID, buyerID int64) (*Conversation, error) {
	return s.read(ctx, s.rdb, key(botID, buyerID))
}

// Update 在 WATCH 事务内读取-修改-写回，写回时刷新 TTL
func (s *Store) Update(ctx context.Context, botID, buyerID int64, fn func(conv *Conversation)) (*Conversation, error) {
	k := key(botID, buyerID)
	var result *Conversation

	txf := func(tx *redis.Tx) error {
		conv, err := s.read(ctx, tx, k)
		if err != nil {
			return err
		}
		if conv == nil {
			conv = &Conversation{}
		}
		fn(conv)

		data, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = conv
		return nil
	}

	var err error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err = s.rdb.Watch(ctx, txf, k)
		if err != redis.TxFailedErr {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	return result, nil
}

// TakePending 取出并清除针对 offerID 的待确认选择，同一选择只能被消费一次。
// 选择属于其他优惠时保持原样，返回 ErrNoPendingSelection
func (s *Store) TakePending(ctx context.Context, botID, buyerID, offerID int64) (*PendingSelection, error) {
	var pending *PendingSelection
	_, err := s.Update(ctx, botID, buyerID, func(conv *Conversation) {
		if conv.Pending == nil || conv.Pending.OfferID != offerID {
			return
		}
		pending = conv.Pending
		conv.Pending = nil
	})
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, ErrNoPendingSelection
	}
	return pending, nil
}

func (s *Store) Delete(ctx context.Context, botID, buyerID int64) error {
	return s.rdb.Del(ctx, key(botID, buyerID)).Err()
}

func (s *Store) read(ctx context.Context, c redis.Cmdable, k string) (*Conversation, error) {
	raw, err := c.Get(ctx, k).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	var conv Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return &conv, nil
}
