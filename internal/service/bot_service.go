package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/qs3c/vipgate_server/internal/model"
	"github.com/qs3c/vipgate_server/internal/model/dto"
	"github.com/qs3c/vipgate_server/internal/pkg/queue"
	"github.com/qs3c/vipgate_server/internal/repository"
)

var (
	ErrBotNotFound  = errors.New("机器人不存在")
	ErrBotForbidden = errors.New("无权操作该机器人")
)

// BotService 运营后台的机器人查询与启停，启停指令经队列交给运行时进程执行
type BotService struct {
	botRepo     *repository.BotRepository
	paymentRepo *repository.PaymentRepository
	commands    *queue.Queue
	now         func() time.Time
}

func NewBotService(botRepo *repository.BotRepository, paymentRepo *repository.PaymentRepository, commands *queue.Queue) *BotService {
	return &BotService{
		botRepo:     botRepo,
		paymentRepo: paymentRepo,
		commands:    commands,
		now:         time.Now,
	}
}

// List 运营方名下的机器人
func (s *BotService) List(tenantID int64) ([]dto.BotItem, error) {
	bots, err := s.botRepo.ListByTenant(tenantID)
	if err != nil {
		return nil, err
	}

	items := make([]dto.BotItem, 0, len(bots))
	for i := range bots {
		items = append(items, buildBotItem(&bots[i]))
	}
	return items, nil
}

// Status 单个机器人的运行状态与支付统计
func (s *BotService) Status(tenantID, botID int64) (*dto.BotStatus, error) {
	bot, err := s.owned(tenantID, botID)
	if err != nil {
		return nil, err
	}

	counts, err := s.paymentRepo.CountByStatus(bot.ID)
	if err != nil {
		return nil, err
	}

	return &dto.BotStatus{
		BotItem:  buildBotItem(bot),
		Payments: counts,
	}, nil
}

func (s *BotService) RequestStart(ctx context.Context, tenantID, botID int64) (*queue.BotCommand, error) {
	return s.request(ctx, tenantID, botID, queue.ActionStart)
}

func (s *BotService) RequestStop(ctx context.Context, tenantID, botID int64) (*queue.BotCommand, error) {
	return s.request(ctx, tenantID, botID, queue.ActionStop)
}

func (s *BotService) request(ctx context.Context, tenantID, botID int64, action string) (*queue.BotCommand, error) {
	if _, err := s.owned(tenantID, botID); err != nil {
		return nil, err
	}

	cmd := &queue.BotCommand{
		ID:          uuid.NewString(),
		Action:      action,
		BotID:       botID,
		RequestedBy: tenantID,
		RequestedAt: s.now(),
	}
	if err := s.commands.Push(ctx, cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

func (s *BotService) owned(tenantID, botID int64) (*model.Bot, error) {
	bot, err := s.botRepo.GetByID(botID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBotNotFound
		}
		return nil, err
	}
	if bot.TenantID != tenantID {
		return nil, ErrBotForbidden
	}
	return bot, nil
}

func buildBotItem(bot *model.Bot) dto.BotItem {
	return dto.BotItem{
		ID:             bot.ID,
		Name:           bot.Name,
		Handle:         bot.Handle,
		IsActive:       bot.IsActive,
		IsRunning:      bot.IsRunning,
		LastActivityAt: bot.LastActivityAt,
		PlanCount:      len(bot.Plans),
		HasDestination: bot.HasDestination(),
	}
}
