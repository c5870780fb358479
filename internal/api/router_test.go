package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/stitts-dev/survivor-ev/internal/cache"
	"github.com/stitts-dev/survivor-ev/internal/export"
	"github.com/stitts-dev/survivor-ev/internal/models"
	"github.com/stitts-dev/survivor-ev/internal/services"
	"github.com/stitts-dev/survivor-ev/pkg/config"
	"github.com/stitts-dev/survivor-ev/pkg/logger"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details string            `json:"details"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

// downStore fails every call, like an unreachable Redis.
type downStore struct{}

func (downStore) SaveResult(context.Context, *models.EVResult, string, time.Duration) error {
	return errors.New("connection refused")
}

func (downStore) GetResult(context.Context, string) (*models.EVResult, error) {
	return nil, errors.New("connection refused")
}

func (downStore) LookupInstance(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }
func (downStore) Name() string               { return "redis" }

type RouterTestSuite struct {
	suite.Suite
	config *config.Config
	store  *cache.MemoryStore
	router *gin.Engine
}

func (s *RouterTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
}

func (s *RouterTestSuite) SetupTest() {
	s.config = &config.Config{
		Env:                     "test",
		CacheTTL:                time.Hour,
		DefaultPoolSize:         1000,
		MaxExactPlayers:         15,
		MaxEnumerationPlayers:   20,
		EnumerationWorkers:      1,
		ParallelThreshold:       14,
		MonteCarloIterations:    10000,
		MaxMonteCarloPlayers:    100,
		MaxMonteCarloIterations: 50000,
	}
	s.store = cache.NewMemoryStore()
	log := logger.NewDiscardLogger()
	service := services.NewEVService(s.config, s.store, log)
	s.router = NewRouter(s.config, service, s.store, log)
}

func (s *RouterTestSuite) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		s.Require().NoError(err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *RouterTestSuite) decode(w *httptest.ResponseRecorder) envelope {
	var env envelope
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func defaultBody() map[string]interface{} {
	return map[string]interface{}{
		"pool_size": 1000,
		"players": []map[string]interface{}{
			{"player": "wemby", "prob_20": 0.8, "ownership": 0.2},
			{"player": "cade", "prob_20": 0.8, "ownership": 0.3},
			{"player": "durant", "prob_20": 0.8, "ownership": 0.2},
			{"player": "sengun", "prob_20": 0.6, "ownership": 0.08},
		},
	}
}

func (s *RouterTestSuite) TestComputeEV() {
	w := s.do(http.MethodPost, "/api/v1/ev", defaultBody())
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	env := s.decode(w)
	s.True(env.Success)

	var result models.EVResult
	s.Require().NoError(json.Unmarshal(env.Data, &result))
	s.Equal(models.ModeExact, result.Mode)
	s.Len(result.Players, 4)
	s.Equal(uint64(16), result.Summary.OutcomesProcessed)
	s.False(result.Cached)
	for i := 1; i < len(result.Players); i++ {
		s.GreaterOrEqual(result.Players[i-1].EVIndex, result.Players[i].EVIndex)
	}
	s.InDelta(1-result.Summary.NoSurvivorProbability, result.Summary.WeightedEVIndex, 1e-9)

	again := s.do(http.MethodPost, "/api/v1/ev", defaultBody())
	s.Require().Equal(http.StatusOK, again.Code)
	var cached models.EVResult
	s.Require().NoError(json.Unmarshal(s.decode(again).Data, &cached))
	s.True(cached.Cached)
	s.Equal(result.ID, cached.ID)
}

func (s *RouterTestSuite) TestComputeEV_DefaultPoolSizeAndLooseCells() {
	body := `{"players":[{"player":" solo ","prob_20":"1","ownership":"abc"},{"player":"other","prob_20":0.5,"ownership":1}]}`
	w := s.do(http.MethodPost, "/api/v1/ev", body)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var result models.EVResult
	s.Require().NoError(json.Unmarshal(s.decode(w).Data, &result))
	s.Equal(1000.0, result.PoolSize)

	byName := map[string]models.ResultRecord{}
	for _, r := range result.Players {
		byName[r.Name] = r
	}
	s.Contains(byName, "solo")
	s.Equal(0.0, byName["solo"].StakeShare)
}

func (s *RouterTestSuite) TestComputeEV_ValidationErrors() {
	tooMany := make([]map[string]interface{}, 16)
	for i := range tooMany {
		tooMany[i] = map[string]interface{}{"player": uuid.NewString(), "prob_20": 0.5, "ownership": 0.1}
	}

	tests := []struct {
		name     string
		body     interface{}
		wantCode string
	}{
		{name: "malformed json", body: `{"players":`, wantCode: "INVALID_REQUEST"},
		{name: "unknown mode", body: map[string]interface{}{"mode": "guess", "players": defaultBody()["players"]}, wantCode: "INVALID_REQUEST"},
		{name: "empty players", body: map[string]interface{}{"players": []interface{}{}}, wantCode: "EMPTY_PLAYER_LIST"},
		{name: "too many players", body: map[string]interface{}{"players": tooMany}, wantCode: "TOO_MANY_PLAYERS"},
		{name: "bad probability", body: map[string]interface{}{"players": []map[string]interface{}{{"player": "a", "prob_20": 2, "ownership": 1}}}, wantCode: "INVALID_PROBABILITY"},
		{name: "zero ownership", body: map[string]interface{}{"players": []map[string]interface{}{{"player": "a", "prob_20": 0.5, "ownership": 0}}}, wantCode: "INVALID_OWNERSHIP"},
		{name: "zero pool", body: map[string]interface{}{"pool_size": 0, "players": defaultBody()["players"]}, wantCode: "INVALID_POOL_SIZE"},
		{name: "negative iterations", body: map[string]interface{}{"iterations": -1, "players": defaultBody()["players"]}, wantCode: "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			w := s.do(http.MethodPost, "/api/v1/ev", tt.body)
			s.Equal(http.StatusBadRequest, w.Code, w.Body.String())
			env := s.decode(w)
			s.False(env.Success)
			s.Require().NotNil(env.Error)
			s.Equal(tt.wantCode, env.Error.Code)
		})
	}
}

func (s *RouterTestSuite) TestComputeEV_TooManyPlayersMessage() {
	players := make([]map[string]interface{}, 16)
	for i := range players {
		players[i] = map[string]interface{}{"player": uuid.NewString(), "prob_20": 0.5, "ownership": 0.1}
	}
	w := s.do(http.MethodPost, "/api/v1/ev", map[string]interface{}{"players": players})
	env := s.decode(w)
	s.Require().NotNil(env.Error)
	s.Equal("Max 15 players for exact enumeration. Reduce the list or add a Monte Carlo mode.", env.Error.Message)
}

func (s *RouterTestSuite) TestComputeEV_MonteCarlo() {
	players := make([]map[string]interface{}, 30)
	for i := range players {
		players[i] = map[string]interface{}{"player": uuid.NewString(), "prob_20": 0.5, "ownership": 0.1}
	}
	body := map[string]interface{}{"mode": "monte_carlo", "iterations": 5000, "seed": 3, "players": players}

	w := s.do(http.MethodPost, "/api/v1/ev", body)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var result models.EVResult
	s.Require().NoError(json.Unmarshal(s.decode(w).Data, &result))
	s.Equal(models.ModeMonteCarlo, result.Mode)
	s.Equal(5000, result.Iterations)
	s.Equal(int64(3), result.Seed)
	s.Len(result.Players, 30)
}

func (s *RouterTestSuite) TestComputeEV_IterationsAboveLimit() {
	body := map[string]interface{}{"mode": "monte_carlo", "iterations": 50001, "players": defaultBody()["players"]}
	w := s.do(http.MethodPost, "/api/v1/ev", body)
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	env := s.decode(w)
	s.Require().NotNil(env.Error)
	s.Equal("COMPUTATION_ERROR", env.Error.Code)
}

func (s *RouterTestSuite) TestValidate() {
	w := s.do(http.MethodPost, "/api/v1/ev/validate", defaultBody())
	s.Require().Equal(http.StatusOK, w.Code)

	var resp struct {
		Valid    bool                  `json:"valid"`
		PoolSize float64               `json:"pool_size"`
		Players  []models.PlayerRecord `json:"players"`
	}
	s.Require().NoError(json.Unmarshal(s.decode(w).Data, &resp))
	s.True(resp.Valid)
	s.Equal(1000.0, resp.PoolSize)
	s.Len(resp.Players, 4)
	s.Equal(0, s.store.Len())

	bad := s.do(http.MethodPost, "/api/v1/ev/validate", map[string]interface{}{
		"players": []map[string]interface{}{{"player": "a", "prob_20": 0.5, "ownership": -1}},
	})
	s.Equal(http.StatusBadRequest, bad.Code)
	env := s.decode(bad)
	s.Equal("INVALID_OWNERSHIP", env.Error.Code)
	s.Equal("players[0].ownership", env.Error.Fields["field"])
}

func (s *RouterTestSuite) TestExport() {
	w := s.do(http.MethodPost, "/api/v1/ev/export", defaultBody())
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal("text/csv", w.Header().Get("Content-Type"))
	s.Equal("attachment; filename="+export.FileName, w.Header().Get("Content-Disposition"))

	results, err := export.ReadCSV(strings.NewReader(w.Body.String()))
	s.Require().NoError(err)
	s.Len(results, 4)
	for i := 1; i < len(results); i++ {
		s.GreaterOrEqual(results[i-1].EVIndex, results[i].EVIndex)
	}
}

func (s *RouterTestSuite) TestDefaults() {
	w := s.do(http.MethodGet, "/api/v1/ev/defaults", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var resp struct {
		PoolSize float64 `json:"pool_size"`
		Players  []struct {
			Player    string  `json:"player"`
			Prob      float64 `json:"prob_20"`
			Ownership float64 `json:"ownership"`
		} `json:"players"`
		MaxExactPlayers int `json:"max_exact_players"`
	}
	s.Require().NoError(json.Unmarshal(s.decode(w).Data, &resp))
	s.Equal(1000.0, resp.PoolSize)
	s.Equal(15, resp.MaxExactPlayers)
	s.Require().Len(resp.Players, 4)
	s.Equal("wemby", resp.Players[0].Player)
	s.Equal(0.08, resp.Players[3].Ownership)
}

func (s *RouterTestSuite) TestGetResult() {
	w := s.do(http.MethodPost, "/api/v1/ev", defaultBody())
	s.Require().Equal(http.StatusOK, w.Code)
	var created models.EVResult
	s.Require().NoError(json.Unmarshal(s.decode(w).Data, &created))

	got := s.do(http.MethodGet, "/api/v1/ev/"+created.ID, nil)
	s.Require().Equal(http.StatusOK, got.Code)
	var loaded models.EVResult
	s.Require().NoError(json.Unmarshal(s.decode(got).Data, &loaded))
	s.Equal(created.ID, loaded.ID)
	s.True(loaded.Cached)

	csv := s.do(http.MethodGet, "/api/v1/ev/"+created.ID+"/csv", nil)
	s.Require().Equal(http.StatusOK, csv.Code)
	s.True(strings.HasPrefix(csv.Body.String(), "Player,Prob_20+,Ownership,Exact EV,EV Index\n"))
}

func (s *RouterTestSuite) TestGetResult_NotFound() {
	w := s.do(http.MethodGet, "/api/v1/ev/"+uuid.NewString(), nil)
	s.Equal(http.StatusNotFound, w.Code)
	s.Equal("RESULT_NOT_FOUND", s.decode(w).Error.Code)

	w = s.do(http.MethodGet, "/api/v1/ev/"+uuid.NewString()+"/csv", nil)
	s.Equal(http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/v1/ev/not-a-uuid", nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RouterTestSuite) TestHealth() {
	w := s.do(http.MethodGet, "/health", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var status struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &status))
	s.Equal("ok", status.Status)
	s.Equal("ok", status.Checks["memory"])

	ready := s.do(http.MethodGet, "/ready", nil)
	s.Equal(http.StatusOK, ready.Code)
}

func (s *RouterTestSuite) TestCORSPreflight() {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/ev", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	s.Equal(http.StatusNoContent, w.Code)
	s.Equal("*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterTestSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}

func TestRouter_DegradedCache(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		DefaultPoolSize:         1000,
		MaxExactPlayers:         15,
		MaxEnumerationPlayers:   20,
		EnumerationWorkers:      1,
		MonteCarloIterations:    1000,
		MaxMonteCarloPlayers:    100,
		MaxMonteCarloIterations: 10000,
		CorsOrigins:             []string{"http://localhost:5173"},
	}
	log := logger.NewDiscardLogger()
	store := downStore{}
	router := NewRouter(cfg, services.NewEVService(cfg, store, log), store, log)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"degraded"`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	data, err := json.Marshal(defaultBody())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ev", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://localhost:5173")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ev/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRouter_ComputeRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		CacheTTL:                time.Hour,
		DefaultPoolSize:         1000,
		MaxExactPlayers:         15,
		MaxEnumerationPlayers:   20,
		EnumerationWorkers:      1,
		MonteCarloIterations:    1000,
		MaxMonteCarloPlayers:    100,
		MaxMonteCarloIterations: 10000,
		ComputeRateLimit:        0.0001,
		ComputeRateBurst:        1,
	}
	log := logger.NewDiscardLogger()
	store := cache.NewMemoryStore()
	router := NewRouter(cfg, services.NewEVService(cfg, store, log), store, log)

	post := func(path string) *httptest.ResponseRecorder {
		data, err := json.Marshal(defaultBody())
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, post("/api/v1/ev").Code)

	w := post("/api/v1/ev")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)

	assert.Equal(t, http.StatusTooManyRequests, post("/api/v1/ev/export").Code)
	assert.Equal(t, http.StatusOK, post("/api/v1/ev/validate").Code)
}
