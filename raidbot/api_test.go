package raidbot

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) (*API, *RaidBot) {
	t.Helper()
	logLevel := &slog.LevelVar{}
	logLevel.Set(slog.LevelError)

	bot := &RaidBot{
		config:    DefaultConfig(),
		logger:    slog.Default(),
		queues:    NewRaidQueueManager(nil),
		startedAt: time.Now().Add(-time.Minute),
	}
	api := newAPI(
		bot, &APIConfig{
			Enabled:           true,
			Listen:            "127.0.0.1:0",
			ListenNetwork:     "tcp",
			LogLevel:          logLevel,
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	)
	return api, bot
}

// TestAPIHealthCheck verifies the health endpoint responds OK and carries a
// request ID header.
func TestAPIHealthCheck(t *testing.T) {
	api, _ := newTestAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, apiHealthCheck, nil)
	api.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(xRequestIDHeader))

	var reply httpReply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, "ok", reply.Message)
}

// TestAPIStatus verifies the status endpoint reports uptime, queue sizes,
// and per-route request metrics.
func TestAPIStatus(t *testing.T) {
	api, bot := newTestAPI(t)
	bot.queues.Queue("thread1").Enqueue("100000000000000001", "alice", RoleDealer, 0)

	// Warm the metrics with a prior request.
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, apiHealthCheck, nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	api.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, apiStatus, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var status statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.NotEmpty(t, status.Uptime)
	assert.False(t, status.DiscordConnected)
	assert.Equal(t, 1, status.QueueSizes["thread1"])
	assert.Equal(t, 1, status.RequestMetrics["GET "+apiHealthCheck])
}

// TestAPICORSDefault verifies the wildcard origin default when none is
// configured.
func TestAPICORSDefault(t *testing.T) {
	api, _ := newTestAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, apiHealthCheck, nil)
	req.Header.Set("Origin", "http://example.com")
	api.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
