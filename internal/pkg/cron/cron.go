package cron

import (
	"context"
	"sync"
	"time"

	"github.com/qs3c/vipgate_server/internal/pkg/logging"
)

// Reconciler 把运行中的机器人集合对齐到数据库里的启用状态
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// Expirer 把过期未支付的收款置为失败
type Expirer interface {
	ExpireStale(now time.Time) (int64, error)
}

type Service struct {
	reconciler        Reconciler
	expirer           Expirer
	reconcileInterval time.Duration
	sweepInterval     time.Duration
	now               func() time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewService(reconciler Reconciler, expirer Expirer, reconcileInterval, sweepInterval time.Duration) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		reconciler:        reconciler,
		expirer:           expirer,
		reconcileInterval: reconcileInterval,
		sweepInterval:     sweepInterval,
		now:               time.Now,
		ctx:               ctx,
		cancel:            cancel,
		stopChan:          make(chan struct{}),
	}
}

// Start 启动定时任务，间隔 <= 0 或依赖为 nil 的任务不启动
func (s *Service) Start() {
	if s.reconciler != nil && s.reconcileInterval > 0 {
		s.every(s.reconcileInterval, s.reconcile)
	}
	if s.expirer != nil && s.sweepInterval > 0 {
		s.every(s.sweepInterval, s.sweep)
	}
	logging.Component("cron").WithFields(logging.Fields{
		"reconcile_interval": s.reconcileInterval.String(),
		"sweep_interval":     s.sweepInterval.String(),
	}).Info("cron service started")
}

// Stop 停止定时任务并等待正在执行的任务结束
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.cancel()
	})
	s.wg.Wait()
	logging.Component("cron").Info("cron service stopped")
}

func (s *Service) every(interval time.Duration, job func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				job()
			}
		}
	}()
}

func (s *Service) reconcile() {
	if err := s.reconciler.Reconcile(s.ctx); err != nil {
		logging.Component("cron").WithError(err).Warn("bot reconcile failed")
	}
}

// sweep 过期收款清理
func (s *Service) sweep() {
	n, err := s.expirer.ExpireStale(s.now())
	if err != nil {
		logging.Component("cron").WithError(err).Warn("payment sweep failed")
		return
	}
	if n > 0 {
		logging.Component("cron").WithField("expired", n).Info("expired stale payments")
	}
}
