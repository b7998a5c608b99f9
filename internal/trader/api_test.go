package trader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"rulebot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// setupTestServer wires an APIServer over a test environment.
func setupTestServer(t *testing.T) (*testEnv, http.Handler) {
	env := setupEnv(t)
	s := NewAPIServer(zap.NewNop(), testConfig(), env.manager, env.engine)
	return env, s.Handler()
}

func do(t *testing.T, h http.Handler, method, path, user string, body interface{}) (int, apiResponse) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func TestAPI_Health(t *testing.T) {
	_, h := setupTestServer(t)

	code, resp := do(t, h, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
}

func TestAPI_RequiresUser(t *testing.T) {
	_, h := setupTestServer(t)

	code, resp := do(t, h, http.MethodGet, "/api/bots", "", nil)

	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, userHeader)
}

func TestAPI_BotLifecycle(t *testing.T) {
	// Arrange
	env, h := setupTestServer(t)

	// Create
	code, resp := do(t, h, http.MethodPost, "/api/bots", "alice", CreateBotRequest{
		Name:     "breakout",
		Config:   breakoutGraph(),
		Settings: models.BotSettings{MaxInvestment: 1000},
	})
	require.Equal(t, http.StatusCreated, code, resp.Error)
	var bot models.Bot
	require.NoError(t, json.Unmarshal(resp.Data, &bot))
	assert.Equal(t, models.BotDraft, bot.Status)
	base := "/api/bots/" + bot.ID

	// Other owners cannot see it.
	code, _ = do(t, h, http.MethodGet, base, "mallory", nil)
	assert.Equal(t, http.StatusNotFound, code)

	// List
	code, resp = do(t, h, http.MethodGet, "/api/bots", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	var bots []models.Bot
	require.NoError(t, json.Unmarshal(resp.Data, &bots))
	assert.Len(t, bots, 1)

	// Start, then start again
	code, resp = do(t, h, http.MethodPost, base+"/start", "alice", nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	code, _ = do(t, h, http.MethodPost, base+"/start", "alice", nil)
	assert.Equal(t, http.StatusConflict, code)

	// A tick produces an execution
	code, resp = do(t, h, http.MethodPost, "/api/ticks", "", sampleAt(0, 150))
	require.Equal(t, http.StatusAccepted, code, resp.Error)

	code, resp = do(t, h, http.MethodGet, base+"/executions?limit=5", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	var execs []models.Execution
	require.NoError(t, json.Unmarshal(resp.Data, &execs))
	require.Len(t, execs, 1)
	assert.Equal(t, models.SideBuy, execs[0].Side)

	// Rename while active
	code, resp = do(t, h, http.MethodPatch, base, "alice", map[string]string{"name": "renamed"})
	require.Equal(t, http.StatusOK, code, resp.Error)
	require.NoError(t, json.Unmarshal(resp.Data, &bot))
	assert.Equal(t, "renamed", bot.Name)
	assert.Equal(t, models.BotActive, bot.Status)

	// Stop, then stop again
	code, _ = do(t, h, http.MethodPost, base+"/stop", "alice", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, h, http.MethodPost, base+"/stop", "alice", nil)
	assert.Equal(t, http.StatusConflict, code)

	// Delete
	code, _ = do(t, h, http.MethodDelete, base, "alice", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, h, http.MethodGet, base, "alice", nil)
	assert.Equal(t, http.StatusNotFound, code)

	_, ok, err := env.registry.Get(t.Context(), bot.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAPI_StartInvalidGraph(t *testing.T) {
	_, h := setupTestServer(t)
	_, resp := do(t, h, http.MethodPost, "/api/bots", "alice", CreateBotRequest{Name: "empty"})
	var bot models.Bot
	require.NoError(t, json.Unmarshal(resp.Data, &bot))

	code, resp := do(t, h, http.MethodPost, "/api/bots/"+bot.ID+"/start", "alice", nil)

	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, resp.Success)
}

func TestAPI_Backtests(t *testing.T) {
	env, h := setupTestServer(t)
	bot := createBot(t, env, "alice", breakoutGraph())
	base := "/api/bots/" + bot.ID + "/backtests"
	env.source.On("History", mock.Anything, "BTC", mock.Anything, mock.Anything).
		Return([]models.MarketSample{sampleAt(0, 90), sampleAt(1, 150), sampleAt(2, 200)}, nil)
	env.source.On("History", mock.Anything, "ETH", mock.Anything, mock.Anything).
		Return([]models.MarketSample{sampleAt(0, 90)}, nil)
	env.source.On("History", mock.Anything, "DOGE", mock.Anything, mock.Anything).
		Return(nil, errors.New("timeout"))

	t.Run("Single", func(t *testing.T) {
		code, resp := do(t, h, http.MethodPost, base, "alice", backtestWindow())
		require.Equal(t, http.StatusCreated, code, resp.Error)
		var result models.BacktestResult
		require.NoError(t, json.Unmarshal(resp.Data, &result))
		assert.InDelta(t, 10333.33, result.FinalCapital, 0.01)
	})

	t.Run("Batch", func(t *testing.T) {
		code, resp := do(t, h, http.MethodPost, base+"/batch", "alice", []BacktestRequest{backtestWindow(), backtestWindow()})
		require.Equal(t, http.StatusCreated, code, resp.Error)
		var results []models.BacktestResult
		require.NoError(t, json.Unmarshal(resp.Data, &results))
		assert.Len(t, results, 2)
	})

	t.Run("List", func(t *testing.T) {
		code, resp := do(t, h, http.MethodGet, base+"?limit=2", "alice", nil)
		require.Equal(t, http.StatusOK, code)
		var results []models.BacktestResult
		require.NoError(t, json.Unmarshal(resp.Data, &results))
		assert.Len(t, results, 2)
	})

	t.Run("Errors", func(t *testing.T) {
		tests := []struct {
			symbol string
			want   int
		}{
			{"ETH", http.StatusUnprocessableEntity},
			{"DOGE", http.StatusBadGateway},
			{"", http.StatusBadRequest},
		}
		for _, tt := range tests {
			t.Run(fmt.Sprintf("Symbol%q", tt.symbol), func(t *testing.T) {
				req := backtestWindow()
				req.Symbol = tt.symbol
				code, resp := do(t, h, http.MethodPost, base, "alice", req)
				assert.Equal(t, tt.want, code)
				assert.False(t, resp.Success)
			})
		}
	})

	t.Run("BadLimit", func(t *testing.T) {
		code, _ := do(t, h, http.MethodGet, base+"?limit=abc", "alice", nil)
		assert.Equal(t, http.StatusBadRequest, code)
	})
}

func TestAPI_MalformedBody(t *testing.T) {
	_, h := setupTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/bots", bytes.NewBufferString("{"))
	req.Header.Set(userHeader, "alice")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_OversizedBody(t *testing.T) {
	_, h := setupTestServer(t)
	for _, path := range []string{"/api/ticks", "/api/bots/some-bot/backtests/batch"} {
		t.Run(path, func(t *testing.T) {
			body := `{"symbol":"` + strings.Repeat("A", maxBodyBytes) + `"}`
			if strings.HasSuffix(path, "batch") {
				body = "[" + body + "]"
			}
			req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
			req.Header.Set(userHeader, "alice")
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		})
	}
}

func TestAPI_TickRequiresSymbol(t *testing.T) {
	_, h := setupTestServer(t)

	code, _ := do(t, h, http.MethodPost, "/api/ticks", "", models.MarketSample{Price: 10})

	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrNotFoundOrUnauthorized, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", ErrInvalidGraph), http.StatusBadRequest},
		{invalidRequest("x"), http.StatusBadRequest},
		{ErrAlreadyActive, http.StatusConflict},
		{ErrBotStopped, http.StatusConflict},
		{ErrNotActive, http.StatusConflict},
		{ErrNoHistoricalData, http.StatusUnprocessableEntity},
		{ErrMarketDataUnavailable, http.StatusBadGateway},
		{persistenceErr("save", errors.New("locked")), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
