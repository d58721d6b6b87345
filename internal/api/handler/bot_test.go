package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/vipgate_server/internal/pkg/queue"
	"github.com/qs3c/vipgate_server/internal/pkg/response"
	"github.com/qs3c/vipgate_server/internal/repository"
	"github.com/qs3c/vipgate_server/internal/service"
	"github.com/qs3c/vipgate_server/internal/testutil"
)

func setupBotHandler(t *testing.T, tenantID int64, db *gorm.DB) (*gin.Engine, *queue.Queue) {
	t.Helper()

	rdb, _ := testutil.SetupTestRedis(t)
	q := queue.NewQueue(rdb, "test_bot_commands")
	handler := NewBotHandler(service.NewBotService(repository.NewBotRepository(db), repository.NewPaymentRepository(db), q))

	router := gin.New()
	bots := router.Group("/bots", asTenant(tenantID))
	bots.GET("", handler.List)
	bots.GET("/:id/status", handler.Status)
	bots.POST("/:id/start", handler.Start)
	bots.POST("/:id/stop", handler.Stop)

	return router, q
}

func TestBotHandler_StartEnqueuesCommand(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)
	router, q := setupBotHandler(t, tenant.ID, db)

	w := performRequest(router, http.MethodPost, "/bots/"+itoa(bot.ID)+"/start", nil)
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, queue.ActionStart, dataMap(t, resp)["action"])

	cmd, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, cmd)
	assert.Equal(t, bot.ID, cmd.BotID)
	assert.Equal(t, dataMap(t, resp)["command_id"], cmd.ID)
}

func TestBotHandler_Stop(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)
	router, q := setupBotHandler(t, tenant.ID, db)

	w := performRequest(router, http.MethodPost, "/bots/"+itoa(bot.ID)+"/stop", nil)
	require.Equal(t, response.CodeSuccess, parseResponse(t, w).Code)

	cmd, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, cmd)
	assert.Equal(t, queue.ActionStop, cmd.Action)
}

func TestBotHandler_Errors(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestTenant(t, db)
	intruder := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, owner.ID)
	router, q := setupBotHandler(t, intruder.ID, db)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"bad id", "/bots/abc/start", response.CodeParamError},
		{"zero id", "/bots/0/start", response.CodeParamError},
		{"unknown bot", "/bots/99999/start", response.CodeResourceNotFound},
		{"other tenant", "/bots/" + itoa(bot.ID) + "/start", response.CodePermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := performRequest(router, http.MethodPost, tt.path, nil)
			assert.Equal(t, tt.code, parseResponse(t, w).Code)
		})
	}

	length, err := q.Length(context.Background())
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestBotHandler_StatusAndList(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)
	testutil.TestPayment(t, db, bot, 42, "10.00")
	router, _ := setupBotHandler(t, tenant.ID, db)

	w := performRequest(router, http.MethodGet, "/bots/"+itoa(bot.ID)+"/status", nil)
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	data := dataMap(t, resp)
	assert.Equal(t, false, data["is_running"])
	payments, ok := data["payments"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), payments["pending"])

	w = performRequest(router, http.MethodGet, "/bots", nil)
	resp = parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	list, ok := resp.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, list, 1)
}
