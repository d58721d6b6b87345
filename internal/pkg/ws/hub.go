package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qs3c/vipgate_server/internal/pkg/logging"
)

const writeWait = 5 * time.Second

// Client 一条运营后台连接
type Client struct {
	TenantID int64
	Conn     *websocket.Conn

	writeMu sync.Mutex
}

// write 同一连接上的写入必须串行
func (c *Client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub 按租户分组的连接表，一个租户可同时打开多个后台页面
type Hub struct {
	mu      sync.RWMutex
	tenants map[int64]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{tenants: map[int64]map[*Client]struct{}{}}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.tenants[c.TenantID]
	if !ok {
		set = map[*Client]struct{}{}
		h.tenants[c.TenantID] = set
	}
	set[c] = struct{}{}
	n := len(set)
	h.mu.Unlock()

	logging.Component("ws").WithFields(logging.Fields{
		"tenant_id":   c.TenantID,
		"connections": n,
	}).Debug("tenant connected")
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.tenants[c.TenantID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.tenants, c.TenantID)
		}
	}
	h.mu.Unlock()

	logging.Component("ws").WithField("tenant_id", c.TenantID).Debug("tenant disconnected")
}

func (h *Hub) snapshot(tenantID int64) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.tenants[tenantID]))
	for c := range h.tenants[tenantID] {
		out = append(out, c)
	}
	return out
}

// SendToTenant 推送给租户的全部连接；租户离线时丢弃。
// 写失败的连接会被关闭，由读循环负责注销
func (h *Hub) SendToTenant(tenantID int64, msg *Message) error {
	clients := h.snapshot(tenantID)
	if len(clients) == 0 {
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	for _, c := range clients {
		if err := c.write(data); err != nil {
			logging.Component("ws").WithField("tenant_id", tenantID).WithError(err).Warn("write failed, closing connection")
			_ = c.Conn.Close()
		}
	}
	return nil
}

func (h *Hub) IsOnline(tenantID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tenants[tenantID]) > 0
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, set := range h.tenants {
		n += len(set)
	}
	return n
}
