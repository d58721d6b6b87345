package bot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/vipgate_server/config"
	"github.com/qs3c/vipgate_server/internal/model"
	"github.com/qs3c/vipgate_server/internal/pkg/pubsub"
	"github.com/qs3c/vipgate_server/internal/pkg/queue"
	"github.com/qs3c/vipgate_server/internal/platform"
	"github.com/qs3c/vipgate_server/internal/platform/platformtest"
	"github.com/qs3c/vipgate_server/internal/repository"
	"github.com/qs3c/vipgate_server/internal/testutil"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []platform.Event
}

func (h *recordingHandler) HandleEvent(ctx context.Context, client platform.Client, botID int64, ev platform.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func supervisorConfig() config.BotConfig {
	return config.BotConfig{
		StartAttempts:     5,
		BackoffBase:       time.Millisecond,
		BackoffMax:        5 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
		StopTimeout:       time.Second,
		StartConcurrency:  2,
	}
}

func setupSupervisor(t *testing.T) (*Supervisor, *platformtest.Factory, *recordingHandler, *gorm.DB, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	factory := platformtest.NewFactory()
	handler := &recordingHandler{}
	sup := NewSupervisor(factory.New, handler, repository.NewBotRepository(db), supervisorConfig())

	cleanup := func() {
		sup.Shutdown(context.Background())
		testutil.CleanupTestDB(t, db)
	}
	return sup, factory, handler, db, cleanup
}

func waitStarted(t *testing.T, c *platformtest.Client) {
	t.Helper()
	select {
	case <-c.Started():
	case <-time.After(time.Second):
		t.Fatal("receive loop did not start")
	}
}

func reloadBot(t *testing.T, db *gorm.DB, id int64) *model.Bot {
	t.Helper()
	bot, err := repository.NewBotRepository(db).GetByID(id)
	require.NoError(t, err)
	return bot
}

func TestSupervisor_Start(t *testing.T) {
	sup, factory, handler, db, cleanup := setupSupervisor(t)
	defer cleanup()

	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)
	ctx := context.Background()

	assert.Equal(t, Started, sup.Start(ctx, bot))
	assert.True(t, sup.IsRunning(bot.Token))
	assert.Equal(t, []string{bot.Token}, sup.Running())

	client := factory.Client(bot.Token)
	waitStarted(t, client)
	assert.True(t, reloadBot(t, db, bot.ID).IsRunning)

	require.NoError(t, client.Emit(ctx, platform.Event{Kind: platform.EventMessage, Command: "start"}))
	assert.Equal(t, 1, handler.count())

	assert.Equal(t, AlreadyRunning, sup.Start(ctx, bot))
	assert.Equal(t, 1, factory.Created())
}

func TestSupervisor_Heartbeat(t *testing.T) {
	sup, factory, _, db, cleanup := setupSupervisor(t)
	defer cleanup()

	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)

	require.Equal(t, Started, sup.Start(context.Background(), bot))
	waitStarted(t, factory.Client(bot.Token))

	first := reloadBot(t, db, bot.ID).LastActivityAt
	require.NotNil(t, first)

	assert.Eventually(t, func() bool {
		last := reloadBot(t, db, bot.ID).LastActivityAt
		return last != nil && last.After(*first)
	}, time.Second, 10*time.Millisecond)
}

func TestSupervisor_HeartbeatRestoresRunningFlag(t *testing.T) {
	sup, factory, _, db, cleanup := setupSupervisor(t)
	defer cleanup()

	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)

	require.Equal(t, Started, sup.Start(context.Background(), bot))
	waitStarted(t, factory.Client(bot.Token))

	// cleanup -reset-running 或其他进程清掉了标记
	require.NoError(t, db.Model(&model.Bot{}).Where("id = ?", bot.ID).Update("is_running", false).Error)

	assert.Eventually(t, func() bool {
		return reloadBot(t, db, bot.ID).IsRunning
	}, time.Second, 10*time.Millisecond)
}

func TestSupervisor_EventCountsAsHeartbeat(t *testing.T) {
	sup, factory, handler, db, cleanup := setupSupervisor(t)
	defer cleanup()
	sup.cfg.HeartbeatInterval = time.Hour

	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)
	ctx := context.Background()

	require.Equal(t, Started, sup.Start(ctx, bot))
	client := factory.Client(bot.Token)
	waitStarted(t, client)

	require.NoError(t, db.Model(&model.Bot{}).Where("id = ?", bot.ID).Update("is_running", false).Error)
	before := reloadBot(t, db, bot.ID).LastActivityAt
	require.NotNil(t, before)
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, client.Emit(ctx, platform.Event{Kind: platform.EventMessage, Command: "start"}))
	assert.Equal(t, 1, handler.count())

	reloaded := reloadBot(t, db, bot.ID)
	assert.True(t, reloaded.IsRunning)
	require.NotNil(t, reloaded.LastActivityAt)
	assert.True(t, reloaded.LastActivityAt.After(*before))
}

func TestSupervisor_ConcurrentStartCollapses(t *testing.T) {
	sup, factory, _, db, cleanup := setupSupervisor(t)
	defer cleanup()

	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)

	var wg sync.WaitGroup
	results := make([]StartResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = sup.Start(context.Background(), bot)
		}(i)
	}
	wg.Wait()

	started := 0
	for _, r := range results {
		if r == Started {
			started++
		} else {
			assert.Equal(t, AlreadyRunning, r)
		}
	}
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, factory.Created())
}

func TestSupervisor_StartTransportFailures(t *testing.T) {
	sup, factory, _, db, cleanup := setupSupervisor(t)
	defer cleanup()

	transport := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	factory.Prepare = func(c *platformtest.Client) {
		c.IdentityErrs = []error{transport, transport, transport, transport, transport}
	}

	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)

	assert.Equal(t, Failed, sup.Start(context.Background(), bot))
	assert.False(t, sup.IsRunning(bot.Token))
	assert.Empty(t, sup.Running())
	assert.Equal(t, 5, factory.Client(bot.Token).IdentityCalls())
	assert.False(t, reloadBot(t, db, bot.ID).IsRunning)
}

func TestSupervisor_StartRecoversAfterRetries(t *testing.T) {
	sup, factory, _, db, cleanup := setupSupervisor(t)
	defer cleanup()

	factory.Prepare = func(c *platformtest.Client) {
		c.IdentityErrs = []error{io.EOF, errors.New("bad gateway"), nil}
	}

	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)

	assert.Equal(t, Started, sup.Start(context.Background(), bot))
	assert.Equal(t, 3, factory.Client(bot.Token).IdentityCalls())
}

func TestSupervisor_StartInvalidBot(t *testing.T) {
	sup, factory, _, _, cleanup := setupSupervisor(t)
	defer cleanup()

	assert.Equal(t, Failed, sup.Start(context.Background(), &model.Bot{ID: 1, Token: "short"}))
	assert.Zero(t, factory.Created())
}

func TestSupervisor_StartFactoryError(t *testing.T) {
	sup, factory, _, db, cleanup := setupSupervisor(t)
	defer cleanup()

	factory.NewErr = errors.New("boom")
	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)

	assert.Equal(t, Failed, sup.Start(context.Background(), bot))
	assert.False(t, sup.IsRunning(bot.Token))
}

func TestSupervisor_Stop(t *testing.T) {
	sup, factory, _, db, cleanup := setupSupervisor(t)
	defer cleanup()

	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)
	ctx := context.Background()

	require.Equal(t, Started, sup.Start(ctx, bot))
	client := factory.Client(bot.Token)
	waitStarted(t, client)

	assert.Equal(t, Stopped, sup.Stop(ctx, bot.Token))
	assert.False(t, sup.IsRunning(bot.Token))
	assert.False(t, client.Running())
	assert.False(t, reloadBot(t, db, bot.ID).IsRunning)

	assert.Equal(t, NotRunning, sup.Stop(ctx, bot.Token))
	assert.Equal(t, NotRunning, sup.Stop(ctx, "unknown-token"))
}

// 接收循环在取消后仍要收尾一段时间，期间再次启动不能出现第二个循环
func TestSupervisor_StartWaitsForStoppingLoop(t *testing.T) {
	sup, factory, _, db, cleanup := setupSupervisor(t)
	defer cleanup()
	factory.Prepare = func(c *platformtest.Client) {
		c.ExitDelay = 200 * time.Millisecond
	}

	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)
	ctx := context.Background()

	require.Equal(t, Started, sup.Start(ctx, bot))
	waitStarted(t, factory.Client(bot.Token))

	stopped := make(chan StopResult, 1)
	go func() {
		stopped <- sup.Stop(ctx, bot.Token)
	}()

	require.Eventually(t, func() bool {
		sup.mu.Lock()
		defer sup.mu.Unlock()
		inst, ok := sup.running[bot.Token]
		return ok && inst.stopping
	}, time.Second, time.Millisecond)
	assert.True(t, sup.IsRunning(bot.Token))

	assert.Equal(t, Started, sup.Start(ctx, bot))
	assert.Equal(t, Stopped, <-stopped)

	assert.Equal(t, 1, factory.PeakLoops(bot.Token))
	assert.Equal(t, 2, factory.Created())
	assert.True(t, sup.IsRunning(bot.Token))
	// 旧循环的 running=false 必须先于新实例的 running=true 落库
	assert.True(t, reloadBot(t, db, bot.ID).IsRunning)
}

func TestSupervisor_StopTimeoutKeepsInstanceUntilExit(t *testing.T) {
	sup, factory, _, db, cleanup := setupSupervisor(t)
	defer cleanup()
	sup.cfg.StopTimeout = 20 * time.Millisecond
	factory.Prepare = func(c *platformtest.Client) {
		c.ExitDelay = 150 * time.Millisecond
	}

	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)
	ctx := context.Background()

	require.Equal(t, Started, sup.Start(ctx, bot))
	waitStarted(t, factory.Client(bot.Token))

	assert.Equal(t, Stopped, sup.Stop(ctx, bot.Token))
	// 循环还没退出，令牌仍被占用
	assert.True(t, sup.IsRunning(bot.Token))

	assert.Eventually(t, func() bool {
		return !sup.IsRunning(bot.Token)
	}, time.Second, 5*time.Millisecond)
	assert.False(t, reloadBot(t, db, bot.ID).IsRunning)
	assert.Equal(t, 1, factory.PeakLoops(bot.Token))
}

func TestSupervisor_LoopCrashRemovesInstance(t *testing.T) {
	sup, factory, _, db, cleanup := setupSupervisor(t)
	defer cleanup()

	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)

	require.Equal(t, Started, sup.Start(context.Background(), bot))
	client := factory.Client(bot.Token)
	waitStarted(t, client)

	client.Crash()

	assert.Eventually(t, func() bool {
		return !sup.IsRunning(bot.Token)
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return !reloadBot(t, db, bot.ID).IsRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, sup.Reconcile(context.Background()))
	assert.True(t, sup.IsRunning(bot.Token))
	assert.Equal(t, 2, factory.Created())
}

func TestSupervisor_StartAll(t *testing.T) {
	sup, factory, _, db, cleanup := setupSupervisor(t)
	defer cleanup()

	broken := errors.New("unauthorized")
	factory.Prepare = func(c *platformtest.Client) {
		if c.Token == "999999:broken-token" {
			c.IdentityErrs = []error{broken, broken, broken, broken, broken}
		}
	}

	tenant := testutil.TestTenant(t, db)
	a := testutil.TestBot(t, db, tenant.ID)
	b := testutil.TestBot(t, db, tenant.ID)
	c := testutil.TestBot(t, db, tenant.ID, func(bot *model.Bot) { bot.Token = "999999:broken-token" })

	results := sup.StartAll(context.Background(), []*model.Bot{a, b, c})

	assert.Equal(t, Started, results[a.Token])
	assert.Equal(t, Started, results[b.Token])
	assert.Equal(t, Failed, results[c.Token])
	assert.Len(t, sup.Running(), 2)
}

func TestSupervisor_Reconcile(t *testing.T) {
	sup, _, _, db, cleanup := setupSupervisor(t)
	defer cleanup()

	tenant := testutil.TestTenant(t, db)
	active := testutil.TestBot(t, db, tenant.ID)
	inactive := testutil.TestBot(t, db, tenant.ID, testutil.WithInactive())
	ctx := context.Background()

	require.Equal(t, Started, sup.Start(ctx, inactive))

	require.NoError(t, sup.Reconcile(ctx))
	assert.Equal(t, []string{active.Token}, sup.Running())
}

func TestSupervisor_HandleCommand(t *testing.T) {
	sup, _, _, db, cleanup := setupSupervisor(t)
	defer cleanup()

	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID, testutil.WithInactive())
	ctx := context.Background()

	require.NoError(t, sup.HandleCommand(ctx, &queue.BotCommand{ID: "c1", Action: queue.ActionStart, BotID: bot.ID}))
	assert.True(t, sup.IsRunning(bot.Token))
	assert.True(t, reloadBot(t, db, bot.ID).IsActive)

	require.NoError(t, sup.HandleCommand(ctx, &queue.BotCommand{ID: "c2", Action: queue.ActionStop, BotID: bot.ID}))
	assert.False(t, sup.IsRunning(bot.Token))
	assert.False(t, reloadBot(t, db, bot.ID).IsActive)

	err := sup.HandleCommand(ctx, &queue.BotCommand{ID: "c3", Action: "restart", BotID: bot.ID})
	assert.ErrorIs(t, err, ErrUnknownAction)

	err = sup.HandleCommand(ctx, &queue.BotCommand{ID: "c4", Action: queue.ActionStart, BotID: 99999})
	assert.Error(t, err)
}

func TestSupervisor_ClientFor(t *testing.T) {
	sup, factory, _, db, cleanup := setupSupervisor(t)
	defer cleanup()

	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)

	require.Equal(t, Started, sup.Start(context.Background(), bot))
	live, err := sup.ClientFor(bot)
	require.NoError(t, err)
	assert.Same(t, factory.Client(bot.Token), live)

	other := testutil.TestBot(t, db, tenant.ID)
	_, err = sup.ClientFor(other)
	require.NoError(t, err)
	assert.Equal(t, 2, factory.Created())
}

func TestSupervisor_Shutdown(t *testing.T) {
	sup, _, _, db, cleanup := setupSupervisor(t)
	defer cleanup()

	tenant := testutil.TestTenant(t, db)
	for i := 0; i < 3; i++ {
		bot := testutil.TestBot(t, db, tenant.ID)
		require.Equal(t, Started, sup.Start(context.Background(), bot))
	}

	sup.Shutdown(context.Background())
	assert.Empty(t, sup.Running())
}

func TestBackoff(t *testing.T) {
	sup := NewSupervisor(nil, nil, nil, config.BotConfig{
		BackoffBase: time.Second,
		BackoffMax:  10 * time.Second,
	})
	transport := &net.DNSError{Err: "no such host", IsTimeout: true}
	plain := errors.New("Unauthorized")

	assert.Equal(t, time.Second, sup.backoff(1, transport))
	assert.Equal(t, 2*time.Second, sup.backoff(2, transport))
	assert.Equal(t, 4*time.Second, sup.backoff(3, transport))
	assert.Equal(t, 8*time.Second, sup.backoff(4, transport))
	assert.Equal(t, 10*time.Second, sup.backoff(5, transport))

	assert.Equal(t, time.Second, sup.backoff(1, plain))
	assert.Equal(t, 2*time.Second, sup.backoff(2, plain))
	assert.Equal(t, 3*time.Second, sup.backoff(3, plain))
}

func TestIsTransportError(t *testing.T) {
	assert.True(t, isTransportError(&net.OpError{Op: "read", Err: errors.New("reset")}))
	assert.True(t, isTransportError(io.EOF))
	assert.True(t, isTransportError(errors.New("remote error: tls: handshake failure")))
	assert.True(t, isTransportError(errors.New("read tcp: connection reset by peer")))
	assert.False(t, isTransportError(errors.New("Unauthorized")))
	assert.False(t, isTransportError(nil))
}

func TestSupervisor_PublishesEvents(t *testing.T) {
	sup, factory, _, db, cleanup := setupSupervisor(t)
	defer cleanup()

	rdb, _ := testutil.SetupTestRedis(t)
	sup.SetPublisher(pubsub.NewPublisher(rdb))

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, pubsub.ChannelBotEvents)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	ch := sub.Channel()

	next := func() pubsub.BotEvent {
		t.Helper()
		select {
		case msg := <-ch:
			var ev pubsub.BotEvent
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
			return ev
		case <-time.After(time.Second):
			t.Fatal("no bot event published")
		}
		return pubsub.BotEvent{}
	}

	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)

	require.Equal(t, Started, sup.Start(ctx, bot))
	ev := next()
	assert.Equal(t, pubsub.EventBotStarted, ev.Type)
	assert.Equal(t, tenant.ID, ev.TenantID)
	assert.Equal(t, bot.ID, ev.BotID)
	assert.Equal(t, "@fake_bot", ev.Message)

	waitStarted(t, factory.Client(bot.Token))
	require.Equal(t, Stopped, sup.Stop(ctx, bot.Token))
	assert.Equal(t, pubsub.EventBotStopped, next().Type)

	factory.NewErr = errors.New("boom")
	require.Equal(t, Failed, sup.Start(ctx, bot))
	ev = next()
	assert.Equal(t, pubsub.EventBotFailed, ev.Type)
	assert.Equal(t, "boom", ev.Message)
}
