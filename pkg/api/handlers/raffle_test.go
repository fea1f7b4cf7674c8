package handlers

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itachi47/hardhat-lottery-backend/pkg/backend"
	"github.com/itachi47/hardhat-lottery-backend/pkg/clock"
	"github.com/itachi47/hardhat-lottery-backend/pkg/config"
	"github.com/itachi47/hardhat-lottery-backend/pkg/logger"
)

const genesisTime = uint64(1700000000)

func setup(t *testing.T) (*backend.Node, http.Handler) {
	t.Helper()
	return setupWith(t, nil)
}

func setupWith(t *testing.T, mutate func(cfg *config.Config)) (*backend.Node, http.Handler) {
	t.Helper()

	cfg := config.Default()
	cfg.KeeperMode = "manual"
	if mutate != nil {
		mutate(cfg)
	}

	node, err := backend.New(cfg, clock.Fixed(genesisTime), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })

	h := NewRaffle(logger.Discard(), node)
	r := chi.NewRouter()
	r.Get("/raffle", h.Info())
	r.Post("/raffle/enter", h.Enter())
	r.Get("/raffle/players/{index}", h.Player())
	r.Get("/raffle/upkeep", h.CheckUpkeep())
	r.Post("/raffle/upkeep", h.PerformUpkeep())
	r.Post("/raffle/draws/{requestID}/fulfill", h.Fulfill())
	r.Get("/raffle/winners", h.Winners())
	r.Get("/raffle/winners/{round}", h.Round())

	return node, r
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}, out interface{}) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func enter(t *testing.T, h http.Handler, player string) {
	t.Helper()

	var out EnterResponse
	code := do(t, h, http.MethodPost, "/raffle/enter", EnterRequest{
		Player: player,
		Value:  config.DefaultEntranceFee.String(),
	}, &out)
	require.Equal(t, http.StatusOK, code, out.Error)
}

func TestRaffle_Info(t *testing.T) {
	node, h := setup(t)

	var out InfoResponse
	code := do(t, h, http.MethodGet, "/raffle", nil, &out)
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, http.StatusOK, out.Status)
	assert.Equal(t, node.Deployment().Raffle.Hex(), out.Address)
	assert.Equal(t, node.Deployment().Coordinator.Hex(), out.Coordinator)
	assert.Equal(t, "OPEN", out.State)
	assert.Equal(t, config.DefaultEntranceFee.String(), out.EntranceFee)
	assert.Equal(t, config.DefaultInterval, out.Interval)
	assert.Equal(t, 0, out.NumberOfPlayers)
	assert.Equal(t, genesisTime, out.LastTimeStamp)
	assert.Equal(t, genesisTime, out.Now)
	assert.Empty(t, out.PendingRequestID)
}

func TestRaffle_Enter(t *testing.T) {
	node, h := setup(t)
	player := node.Accounts()[1].Hex()

	tests := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"valid decimal", EnterRequest{Player: player, Value: config.DefaultEntranceFee.String()}, http.StatusOK},
		{"valid hex", EnterRequest{Player: player, Value: "0x2386f26fc10000"}, http.StatusOK},
		{"missing player", EnterRequest{Value: "1"}, http.StatusBadRequest},
		{"bad address", EnterRequest{Player: "0x1234", Value: "1"}, http.StatusBadRequest},
		{"bad value", EnterRequest{Player: player, Value: "ten"}, http.StatusBadRequest},
		{"below fee", EnterRequest{Player: player, Value: "1"}, http.StatusBadRequest},
		{"malformed body", "not an object", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out EnterResponse
			code := do(t, h, http.MethodPost, "/raffle/enter", tt.body, &out)
			assert.Equal(t, tt.status, code, out.Error)
			assert.Equal(t, tt.status, out.Status)
		})
	}

	assert.Equal(t, 2, node.Raffle().NumberOfPlayers())
}

func TestRaffle_Player(t *testing.T) {
	node, h := setup(t)
	enter(t, h, node.Accounts()[2].Hex())

	var out PlayerResponse
	code := do(t, h, http.MethodGet, "/raffle/players/0", nil, &out)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, node.Accounts()[2].Hex(), out.Player)

	code = do(t, h, http.MethodGet, "/raffle/players/1", nil, &out)
	assert.Equal(t, http.StatusNotFound, code)

	code = do(t, h, http.MethodGet, "/raffle/players/-1", nil, &out)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRaffle_DrawFlow(t *testing.T) {
	node, h := setup(t)
	accounts := node.Accounts()
	enter(t, h, accounts[1].Hex())
	enter(t, h, accounts[2].Hex())

	var upkeep UpkeepResponse
	do(t, h, http.MethodGet, "/raffle/upkeep", nil, &upkeep)
	assert.False(t, upkeep.UpkeepNeeded)
	assert.True(t, upkeep.IsOpen)
	assert.False(t, upkeep.TimePassed)
	assert.True(t, upkeep.HasBalance)
	assert.True(t, upkeep.HasPlayers)
	assert.Equal(t, "0x", upkeep.PerformData)

	var draw DrawResponse
	code := do(t, h, http.MethodPost, "/raffle/upkeep", nil, &draw)
	assert.Equal(t, http.StatusConflict, code)

	_, err := node.IncreaseTime(config.DefaultInterval + 1)
	require.NoError(t, err)

	do(t, h, http.MethodGet, "/raffle/upkeep", nil, &upkeep)
	assert.True(t, upkeep.UpkeepNeeded)

	code = do(t, h, http.MethodPost, "/raffle/upkeep", nil, &draw)
	require.Equal(t, http.StatusOK, code, draw.Error)
	assert.Equal(t, "1", draw.RequestID)

	var entry EnterResponse
	code = do(t, h, http.MethodPost, "/raffle/enter", EnterRequest{
		Player: accounts[3].Hex(),
		Value:  config.DefaultEntranceFee.String(),
	}, &entry)
	assert.Equal(t, http.StatusConflict, code)

	var fulfil FulfillResponse
	code = do(t, h, http.MethodPost, "/raffle/draws/1/fulfill", FulfillRequest{Words: []string{"3"}}, &fulfil)
	require.Equal(t, http.StatusOK, code, fulfil.Error)
	assert.True(t, fulfil.Success)
	assert.Equal(t, "1", fulfil.RequestID)
	assert.NotEmpty(t, fulfil.Payment)

	// 3 mod 2 picks the second entrant.
	assert.Equal(t, accounts[2], node.Raffle().RecentWinner())

	code = do(t, h, http.MethodPost, "/raffle/draws/1/fulfill", nil, &fulfil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRaffle_Fulfill_InvalidInput(t *testing.T) {
	_, h := setup(t)

	var out FulfillResponse
	code := do(t, h, http.MethodPost, "/raffle/draws/abc/fulfill", nil, &out)
	assert.Equal(t, http.StatusBadRequest, code)

	code = do(t, h, http.MethodPost, "/raffle/draws/1/fulfill", FulfillRequest{Words: []string{"xyz"}}, &out)
	assert.Equal(t, http.StatusBadRequest, code)

	code = do(t, h, http.MethodPost, "/raffle/draws/0x9/fulfill", nil, &out)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRaffle_Winners(t *testing.T) {
	_, h := setup(t)

	var out WinnersResponse
	code := do(t, h, http.MethodGet, "/raffle/winners", nil, &out)
	assert.Equal(t, http.StatusNotFound, code)

	code = do(t, h, http.MethodGet, "/raffle/winners?limit=0", nil, &out)
	assert.Equal(t, http.StatusBadRequest, code)

	var round RoundResponse
	code = do(t, h, http.MethodGet, "/raffle/winners/1", nil, &round)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRaffle_WinnersWithHistory(t *testing.T) {
	node, h := setupWith(t, func(cfg *config.Config) {
		cfg.HistoryPath = filepath.Join(t.TempDir(), "history.db")
	})
	accounts := node.Accounts()

	for i, player := range []int{1, 2} {
		enter(t, h, accounts[player].Hex())
		_, err := node.IncreaseTime(config.DefaultInterval)
		require.NoError(t, err)

		var draw DrawResponse
		require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/raffle/upkeep", nil, &draw), draw.Error)
		var fulfil FulfillResponse
		require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/raffle/draws/"+draw.RequestID+"/fulfill", nil, &fulfil), fulfil.Error)

		want := i + 1
		require.Eventually(t, func() bool {
			n, err := node.HistoryCount()
			return err == nil && n == want
		}, 2*time.Second, 10*time.Millisecond)
	}

	var out WinnersResponse
	code := do(t, h, http.MethodGet, "/raffle/winners?limit=1", nil, &out)
	require.Equal(t, http.StatusOK, code, out.Error)
	assert.Equal(t, 2, out.Total)
	require.Len(t, out.Winners, 1)
	assert.Equal(t, uint64(2), out.Winners[0].Round)

	var round RoundResponse
	code = do(t, h, http.MethodGet, "/raffle/winners/1", nil, &round)
	require.Equal(t, http.StatusOK, code, round.Error)
	require.NotNil(t, round.Round)
	assert.Equal(t, uint64(1), round.Round.Round)
	assert.Equal(t, accounts[1], round.Round.Winner)

	code = do(t, h, http.MethodGet, "/raffle/winners/3", nil, &round)
	assert.Equal(t, http.StatusNotFound, code)

	code = do(t, h, http.MethodGet, "/raffle/winners/zero", nil, &round)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		in   string
		want *big.Int
		ok   bool
	}{
		{"10", big.NewInt(10), true},
		{"0x10", big.NewInt(16), true},
		{"0X1f", big.NewInt(31), true},
		{"0x", nil, false},
		{"1.5", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseQuantity(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, 0, tt.want.Cmp(got))
			}
		})
	}
}
