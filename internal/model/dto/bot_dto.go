package dto

import "time"

// BotItem 机器人列表项
type BotItem struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Handle         string     `json:"handle"`
	IsActive       bool       `json:"is_active"`
	IsRunning      bool       `json:"is_running"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	PlanCount      int        `json:"plan_count"`
	HasDestination bool       `json:"has_destination"`
}

// BotStatus 机器人运行状态与支付统计
type BotStatus struct {
	BotItem
	Payments map[string]int64 `json:"payments"`
}

// BotCommandResponse 启停指令已入队
type BotCommandResponse struct {
	CommandID string `json:"command_id"`
	Action    string `json:"action"`
	BotID     int64  `json:"bot_id"`
}
