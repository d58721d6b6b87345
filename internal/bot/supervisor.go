package bot

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/qs3c/vipgate_server/config"
	"github.com/qs3c/vipgate_server/internal/model"
	"github.com/qs3c/vipgate_server/internal/pkg/logging"
	"github.com/qs3c/vipgate_server/internal/pkg/pubsub"
	"github.com/qs3c/vipgate_server/internal/pkg/queue"
	"github.com/qs3c/vipgate_server/internal/platform"
	"github.com/qs3c/vipgate_server/internal/repository"
)

var ErrUnknownAction = errors.New("unknown bot command action")

type StartResult int

const (
	Started StartResult = iota + 1
	AlreadyRunning
	Failed
)

func (r StartResult) String() string {
	switch r {
	case Started:
		return "started"
	case AlreadyRunning:
		return "already_running"
	case Failed:
		return "failed"
	}
	return "unknown"
}

type StopResult int

const (
	Stopped StopResult = iota + 1
	NotRunning
)

func (r StopResult) String() string {
	if r == Stopped {
		return "stopped"
	}
	return "not_running"
}

// EventHandler 运行中的机器人把每条事件交给它
type EventHandler interface {
	HandleEvent(ctx context.Context, client platform.Client, botID int64, ev platform.Event)
}

type instance struct {
	botID    int64
	tenantID int64
	token    string
	client   platform.Client
	cancel   context.CancelFunc
	// done 在接收循环退出且实例移出运行集合后关闭
	done chan struct{}

	// stopping 由 Supervisor.mu 保护
	stopping bool

	// touchMu 串行化心跳写入与退出时的 running=false
	touchMu sync.Mutex
	closed  bool
}

// Supervisor 管理所有运行中的机器人，按令牌去重
type Supervisor struct {
	mu       sync.Mutex
	running  map[string]*instance
	starting map[string]struct{}

	factory platform.Factory
	handler EventHandler
	botRepo *repository.BotRepository
	cfg     config.BotConfig
	events  *pubsub.Publisher
}

func NewSupervisor(factory platform.Factory, handler EventHandler, botRepo *repository.BotRepository, cfg config.BotConfig) *Supervisor {
	return &Supervisor{
		running:  make(map[string]*instance),
		starting: make(map[string]struct{}),
		factory:  factory,
		handler:  handler,
		botRepo:  botRepo,
		cfg:      cfg,
	}
}

// SetPublisher 状态变化时向运营后台推送事件
func (s *Supervisor) SetPublisher(p *pubsub.Publisher) {
	s.events = p
}

func (s *Supervisor) emit(ctx context.Context, eventType string, tenantID, botID int64, message string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	err := s.events.Publish(ctx, &pubsub.BotEvent{
		Type:     eventType,
		TenantID: tenantID,
		BotID:    botID,
		Message:  message,
	})
	if err != nil {
		logging.Component("supervisor").WithField("bot_id", botID).WithError(err).Debug("failed to publish bot event")
	}
}

// Start 启动一个机器人。同一令牌并发启动只有一个生效，其余返回 AlreadyRunning；
// 令牌正在停止时等旧的接收循环退出后再启动
func (s *Supervisor) Start(ctx context.Context, bot *model.Bot) StartResult {
	log := logging.Component("supervisor").WithField("bot_id", bot.ID)

	if !s.reserve(ctx, bot.Token) {
		return AlreadyRunning
	}

	defer func() {
		s.mu.Lock()
		delete(s.starting, bot.Token)
		s.mu.Unlock()
	}()

	if err := bot.Validate(); err != nil {
		log.WithError(err).Error("invalid bot configuration")
		s.emit(ctx, pubsub.EventBotFailed, bot.TenantID, bot.ID, err.Error())
		return Failed
	}

	client, err := s.factory(bot.Token)
	if err != nil {
		log.WithError(err).Error("failed to create platform session")
		s.emit(ctx, pubsub.EventBotFailed, bot.TenantID, bot.ID, err.Error())
		return Failed
	}

	identity, err := s.probe(ctx, client, log.WithField("event", "identity_probe"))
	if err != nil {
		log.WithError(err).WithField("attempts", s.cfg.StartAttempts).Error("bot failed to start")
		s.emit(ctx, pubsub.EventBotFailed, bot.TenantID, bot.ID, err.Error())
		return Failed
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	inst := &instance{
		botID:    bot.ID,
		tenantID: bot.TenantID,
		token:    bot.Token,
		client:   client,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.running[bot.Token] = inst
	s.mu.Unlock()

	if err := s.botRepo.SetRunning(bot.ID, true, time.Now()); err != nil {
		log.WithError(err).Warn("failed to persist running flag")
	}

	go s.run(runCtx, inst)

	log.WithField("username", identity.Username).Info("bot started")
	s.emit(ctx, pubsub.EventBotStarted, bot.TenantID, bot.ID, "@"+identity.Username)
	return Started
}

// reserve 占用令牌的启动名额。令牌正在停止时先等旧的接收循环退出，
// 等待上限为 StopTimeout
func (s *Supervisor) reserve(ctx context.Context, token string) bool {
	for {
		s.mu.Lock()
		inst, ok := s.running[token]
		if !ok {
			if _, busy := s.starting[token]; busy {
				s.mu.Unlock()
				return false
			}
			s.starting[token] = struct{}{}
			s.mu.Unlock()
			return true
		}
		stopping := inst.stopping
		s.mu.Unlock()

		if !stopping {
			return false
		}

		timer := time.NewTimer(s.stopTimeout())
		select {
		case <-inst.done:
			timer.Stop()
		case <-timer.C:
			return false
		case <-ctx.Done():
			timer.Stop()
			return false
		}
	}
}

func (s *Supervisor) stopTimeout() time.Duration {
	if s.cfg.StopTimeout <= 0 {
		return 10 * time.Second
	}
	return s.cfg.StopTimeout
}

// probe 探测令牌身份。传输层错误指数退避，其他错误线性退避
func (s *Supervisor) probe(ctx context.Context, client platform.Client, log *logrus.Entry) (*platform.Identity, error) {
	attempts := s.cfg.StartAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		identity, err := client.Identity(ctx)
		if err == nil {
			return identity, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		wait := s.backoff(attempt, err)
		log.Warnf("identity probe attempt %d/%d failed: %v, retrying in %s", attempt, attempts, err, wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("identity probe failed after %d attempts: %w", attempts, lastErr)
}

func (s *Supervisor) backoff(attempt int, err error) time.Duration {
	var d time.Duration
	if isTransportError(err) {
		d = s.cfg.BackoffBase << (attempt - 1)
	} else {
		d = s.cfg.BackoffBase * time.Duration(attempt)
	}
	if s.cfg.BackoffMax > 0 && (d > s.cfg.BackoffMax || d <= 0) {
		d = s.cfg.BackoffMax
	}
	return d
}

// run 接收循环。退出时先写 running=false 再移出运行集合，最后关闭 done；
// 非 Stop 引起的退出由对账任务重新拉起
func (s *Supervisor) run(ctx context.Context, inst *instance) {
	defer close(inst.done)

	log := logging.Component("supervisor").WithField("bot_id", inst.botID)

	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		s.heartbeat(ctx, inst)
	}()

	err := inst.client.Run(ctx, func(evCtx context.Context, ev platform.Event) {
		s.touch(inst, time.Now())
		s.handler.HandleEvent(evCtx, inst.client, inst.botID, ev)
	})
	crashed := ctx.Err() == nil
	if crashed {
		log.WithError(err).Error("receive loop exited unexpectedly")
	}

	inst.cancel()
	<-hbDone

	inst.touchMu.Lock()
	inst.closed = true
	inst.touchMu.Unlock()

	if err := s.botRepo.SetRunning(inst.botID, false, time.Now()); err != nil {
		log.WithError(err).Warn("failed to persist running flag")
	}

	s.mu.Lock()
	if s.running[inst.token] == inst {
		delete(s.running, inst.token)
	}
	s.mu.Unlock()

	if crashed {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		s.emit(ctx, pubsub.EventBotCrashed, inst.tenantID, inst.botID, msg)
	}
}

// touch 心跳：刷新活动时间并重新声明 running=true。循环退出后不再写入
func (s *Supervisor) touch(inst *instance, at time.Time) {
	inst.touchMu.Lock()
	defer inst.touchMu.Unlock()

	if inst.closed {
		return
	}
	if err := s.botRepo.Touch(inst.botID, at); err != nil {
		logging.Component("supervisor").WithField("bot_id", inst.botID).WithError(err).Debug("heartbeat failed")
	}
}

func (s *Supervisor) heartbeat(ctx context.Context, inst *instance) {
	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.touch(inst, now)
		}
	}
}

// Stop 停止机器人并等待接收循环退出。等待期间实例仍留在运行集合中，
// 同一令牌的 Start 会等它退出。未运行视为成功
func (s *Supervisor) Stop(ctx context.Context, token string) StopResult {
	s.mu.Lock()
	inst, ok := s.running[token]
	if ok {
		inst.stopping = true
	}
	s.mu.Unlock()

	if !ok {
		return NotRunning
	}

	log := logging.Component("supervisor").WithField("bot_id", inst.botID)
	inst.cancel()

	timer := time.NewTimer(s.stopTimeout())
	defer timer.Stop()

	select {
	case <-inst.done:
		log.Info("bot stopped")
	case <-ctx.Done():
		log.Warn("stop interrupted before receive loop exited")
	case <-timer.C:
		log.Warn("receive loop did not exit within stop timeout")
	}

	s.emit(ctx, pubsub.EventBotStopped, inst.tenantID, inst.botID, "")
	return Stopped
}

// StartAll 并发启动一批机器人，并发度受 StartConcurrency 限制
func (s *Supervisor) StartAll(ctx context.Context, bots []*model.Bot) map[string]StartResult {
	results := make(map[string]StartResult, len(bots))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.StartConcurrency > 0 {
		g.SetLimit(s.cfg.StartConcurrency)
	}

	for _, b := range bots {
		b := b
		g.Go(func() error {
			r := s.Start(gctx, b)
			mu.Lock()
			results[b.Token] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Reconcile 对账：启动应运行但未运行的，停止不应运行的
func (s *Supervisor) Reconcile(ctx context.Context) error {
	bots, err := s.botRepo.ListActive()
	if err != nil {
		return fmt.Errorf("list active bots: %w", err)
	}

	desired := make(map[string]struct{}, len(bots))
	var missing []*model.Bot
	for i := range bots {
		b := &bots[i]
		desired[b.Token] = struct{}{}
		if !s.IsRunning(b.Token) {
			missing = append(missing, b)
		}
	}

	var extra []string
	for _, token := range s.Running() {
		if _, ok := desired[token]; !ok {
			extra = append(extra, token)
		}
	}

	for _, token := range extra {
		s.Stop(ctx, token)
	}

	started := 0
	for _, r := range s.StartAll(ctx, missing) {
		if r == Started {
			started++
		}
	}

	if len(missing) > 0 || len(extra) > 0 {
		logging.Component("supervisor").WithFields(logging.Fields{
			"started": started,
			"missing": len(missing),
			"stopped": len(extra),
		}).Info("reconcile pass finished")
	}
	return nil
}

// HandleCommand 执行 API 进程投递的启停指令，同时持久化期望状态
func (s *Supervisor) HandleCommand(ctx context.Context, cmd *queue.BotCommand) error {
	bot, err := s.botRepo.GetByID(cmd.BotID)
	if err != nil {
		return fmt.Errorf("load bot %d: %w", cmd.BotID, err)
	}

	log := logging.Component("supervisor").WithFields(logging.Fields{
		"bot_id":     bot.ID,
		"command_id": cmd.ID,
		"action":     cmd.Action,
	})

	switch cmd.Action {
	case queue.ActionStart:
		if err := s.botRepo.SetActive(bot.ID, true); err != nil {
			return err
		}
		log.WithField("result", s.Start(ctx, bot).String()).Info("command applied")
	case queue.ActionStop:
		if err := s.botRepo.SetActive(bot.ID, false); err != nil {
			return err
		}
		log.WithField("result", s.Stop(ctx, bot.Token).String()).Info("command applied")
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}
	return nil
}

func (s *Supervisor) IsRunning(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[token]
	return ok
}

// Running 当前运行中的令牌，已排序
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	tokens := make([]string, 0, len(s.running))
	for token := range s.running {
		tokens = append(tokens, token)
	}
	s.mu.Unlock()

	sort.Strings(tokens)
	return tokens
}

// ClientFor 运行中的机器人返回其会话，否则新建一个只用于发送的会话
func (s *Supervisor) ClientFor(bot *model.Bot) (platform.Client, error) {
	s.mu.Lock()
	inst, ok := s.running[bot.Token]
	s.mu.Unlock()
	if ok {
		return inst.client, nil
	}
	return s.factory(bot.Token)
}

// Shutdown 停止全部机器人
func (s *Supervisor) Shutdown(ctx context.Context) {
	var wg sync.WaitGroup
	for _, token := range s.Running() {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			s.Stop(ctx, token)
		}(token)
	}
	wg.Wait()
}

// isTransportError 网络、TLS 一类可以靠等待恢复的错误
func isTransportError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	var certInvalid x509.CertificateInvalidError
	if errors.As(err, &certInvalid) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"tls", "ssl", "connection reset", "connection refused", "timeout", "eof"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
