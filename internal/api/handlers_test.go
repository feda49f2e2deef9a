package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/auctionroom/internal/auction"
	"github.com/xtrntr/auctionroom/internal/auth"
	"github.com/xtrntr/auctionroom/internal/store/memstore"
	"github.com/xtrntr/auctionroom/internal/timer"
	"github.com/xtrntr/auctionroom/internal/wallet"
)

type testEnv struct {
	router *chi.Mux
	wallet *wallet.Memory
	clock  *clockwork.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := memstore.New()
	w := wallet.NewMemory()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	eng := auction.NewEngine(st, w, timer.NewAuthority(clock, 300*time.Second), nil)
	authService := auth.NewAuthService(st, "test-secret", time.Hour, clock)
	h := NewHandler(eng, authService, w)

	router := chi.NewRouter()
	h.Routes(router)
	return &testEnv{router: router, wallet: w, clock: clock}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)

	var resp map[string]interface{}
	if rr.Body.Len() > 0 && rr.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	}
	return rr.Code, resp
}

// user registers, logs in and funds a user.
func (e *testEnv) user(t *testing.T, username string, balance int64) (int, string) {
	t.Helper()
	status, resp := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{"username": username, "password": "password123"})
	require.Equal(t, http.StatusCreated, status)
	id := int(resp["id"].(float64))

	status, resp = e.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": username, "password": "password123"})
	require.Equal(t, http.StatusOK, status)

	if balance > 0 {
		require.NoError(t, e.wallet.Deposit(context.Background(), id, decimal.NewFromInt(balance)))
	}
	return id, resp["token"].(string)
}

// auctionWithLots creates an auction with n lots (min 100, increment 10).
func (e *testEnv) auctionWithLots(t *testing.T, token string, n int) (int, []int) {
	t.Helper()
	status, resp := e.do(t, http.MethodPost, "/auctions", token, map[string]string{"name": "Estate sale"})
	require.Equal(t, http.StatusCreated, status)
	auctionID := int(resp["id"].(float64))

	var lots []int
	for i := 0; i < n; i++ {
		status, resp := e.do(t, http.MethodPost, fmt.Sprintf("/auctions/%d/lots", auctionID), token,
			map[string]interface{}{"title": fmt.Sprintf("Lot %d", i+1), "minBid": 100, "bidIncrement": 10})
		require.Equal(t, http.StatusCreated, status)
		lots = append(lots, int(resp["id"].(float64)))
	}
	return auctionID, lots
}

func TestHandler_Register(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "existing", 0)

	tests := []struct {
		name           string
		requestBody    interface{}
		expectedStatus int
		expectedKind   string
	}{
		{"Success", map[string]string{"username": "testuser", "password": "testpass"}, http.StatusCreated, ""},
		{"EmptyUsername", map[string]string{"username": "", "password": "testpass"}, http.StatusBadRequest, "validation"},
		{"EmptyPassword", map[string]string{"username": "other", "password": ""}, http.StatusBadRequest, "validation"},
		{"Duplicate", map[string]string{"username": "existing", "password": "testpass"}, http.StatusConflict, "state_conflict"},
		{"InvalidBody", "not an object", http.StatusBadRequest, "validation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := env.do(t, http.MethodPost, "/auth/register", "", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, status)
			if tt.expectedKind != "" {
				assert.Equal(t, tt.expectedKind, resp["error"])
				return
			}
			assert.Equal(t, "testuser", resp["username"])
		})
	}
}

func TestHandler_Login(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "alice", 0)

	status, resp := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthenticated", resp["error"])

	status, _ = env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "nobody", "password": "password123"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestHandler_JWTAuthMiddleware(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.user(t, "alice", 0)

	tests := []struct {
		name           string
		token          string
		expectedStatus int
	}{
		{"NoToken", "", http.StatusUnauthorized},
		{"InvalidToken", "garbage", http.StatusUnauthorized},
		{"ValidToken", token, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := env.do(t, http.MethodGet, "/wallet", tt.token, nil)
			assert.Equal(t, tt.expectedStatus, status)
		})
	}

	env.clock.Advance(2 * time.Hour)
	status, _ := env.do(t, http.MethodGet, "/wallet", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestHandler_AuctionFlow(t *testing.T) {
	env := newTestEnv(t)
	_, seller := env.user(t, "seller", 0)
	_, alice := env.user(t, "alice", 1000)
	bobID, bob := env.user(t, "bob", 1000)
	auctionID, lots := env.auctionWithLots(t, seller, 2)

	status, resp := env.do(t, http.MethodPut, "/activate", seller, map[string]interface{}{"lotId": lots[0], "durationSeconds": 60})
	require.Equal(t, http.StatusOK, status)
	timerResp := resp["timer"].(map[string]interface{})
	assert.Equal(t, float64(60), timerResp["durationSeconds"])

	status, resp = env.do(t, http.MethodPost, "/bid", alice, map[string]interface{}{"lotId": lots[0], "amount": 95})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", resp["error"])
	assert.Equal(t, "100", resp["nextMinimum"])

	status, resp = env.do(t, http.MethodPost, "/bid", alice, map[string]interface{}{"lotId": lots[0], "amount": 100})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["accepted"])
	assert.Equal(t, "110", resp["nextMinimum"])

	status, _ = env.do(t, http.MethodPost, "/bid", bob, map[string]interface{}{"lotId": lots[0], "amount": "110.00"})
	require.Equal(t, http.StatusOK, status)

	// snapshot is public
	status, snap := env.do(t, http.MethodGet, fmt.Sprintf("/auctions/%d/snapshot", auctionID), "", nil)
	require.Equal(t, http.StatusOK, status)
	active := snap["active_lot"].(map[string]interface{})
	assert.Equal(t, float64(lots[0]), active["id"])
	assert.Equal(t, "120", active["next_minimum"])
	assert.Len(t, snap["bid_history"], 2)
	assert.Equal(t, float64(2), snap["bidder_count"])
	assert.Equal(t, float64(60), snap["timer"].(map[string]interface{})["remaining_seconds"])

	status, resp = env.do(t, http.MethodPost, "/close-item", seller, map[string]interface{}{"lotId": lots[0], "autoAdvance": true})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["sold"])
	assert.Equal(t, "110", resp["finalPrice"])
	assert.Equal(t, float64(lots[1]), resp["nextLotId"])

	status, resp = env.do(t, http.MethodGet, "/wallet", bob, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(bobID), resp["userId"])
	assert.Equal(t, "890", resp["balance"])

	// closing again returns the same outcome
	status, resp = env.do(t, http.MethodPost, "/close-item", alice, map[string]interface{}{"lotId": lots[0]})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["alreadyFinal"])
	assert.Equal(t, "110", resp["finalPrice"])
}

func TestHandler_ErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	_, seller := env.user(t, "seller", 0)
	_, alice := env.user(t, "alice", 1000)
	_, poor := env.user(t, "poor", 10)
	auctionID, lots := env.auctionWithLots(t, seller, 2)

	status, _ := env.do(t, http.MethodPut, "/activate", seller, map[string]interface{}{"lotId": lots[0]})
	require.Equal(t, http.StatusOK, status)

	tests := []struct {
		name           string
		method         string
		path           string
		token          string
		body           interface{}
		expectedStatus int
		expectedKind   string
	}{
		{"BidPendingLot", http.MethodPost, "/bid", alice, map[string]interface{}{"lotId": lots[1], "amount": 100}, http.StatusConflict, "not_active"},
		{"BidUnknownLot", http.MethodPost, "/bid", alice, map[string]interface{}{"lotId": 999, "amount": 100}, http.StatusNotFound, "not_found"},
		{"BidInsufficientFunds", http.MethodPost, "/bid", poor, map[string]interface{}{"lotId": lots[0], "amount": 100}, http.StatusPaymentRequired, "insufficient_funds"},
		{"BidOwnLot", http.MethodPost, "/bid", seller, map[string]interface{}{"lotId": lots[0], "amount": 100}, http.StatusForbidden, "authorization"},
		{"BidMissingLot", http.MethodPost, "/bid", alice, map[string]interface{}{"amount": 100}, http.StatusBadRequest, "validation"},
		{"ActivateNotOwner", http.MethodPut, "/activate", alice, map[string]interface{}{"lotId": lots[1]}, http.StatusForbidden, "authorization"},
		{"CloseBeforeExpiry", http.MethodPost, "/close-item", alice, map[string]interface{}{"lotId": lots[0]}, http.StatusForbidden, "authorization"},
		{"ExpireRunningTimer", http.MethodPost, "/expire", alice, map[string]interface{}{"auctionId": auctionID}, http.StatusConflict, "state_conflict"},
		{"AdjustInvalidDuration", http.MethodPost, "/adjust-timer", seller, map[string]interface{}{"auctionId": auctionID, "durationSeconds": 0}, http.StatusBadRequest, "validation"},
		{"ResetNotOwner", http.MethodPost, "/reset", alice, map[string]interface{}{"auctionId": auctionID}, http.StatusForbidden, "authorization"},
		{"SnapshotUnknownAuction", http.MethodGet, "/auctions/999/snapshot", "", nil, http.StatusNotFound, "not_found"},
		{"SnapshotBadID", http.MethodGet, "/auctions/abc/snapshot", "", nil, http.StatusBadRequest, "validation"},
		{"CreateLotBadPrice", http.MethodPost, fmt.Sprintf("/auctions/%d/lots", auctionID), seller, map[string]interface{}{"title": "x", "minBid": "1.001", "bidIncrement": 1}, http.StatusBadRequest, "validation"},
		{"CreateLotPriceTooLarge", http.MethodPost, fmt.Sprintf("/auctions/%d/lots", auctionID), seller, map[string]interface{}{"title": "x", "minBid": "10000000000000", "bidIncrement": 1}, http.StatusBadRequest, "validation"},
		{"BidTooLarge", http.MethodPost, "/bid", alice, map[string]interface{}{"lotId": lots[0], "amount": "10000000000000"}, http.StatusBadRequest, "validation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := env.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.expectedStatus, status)
			assert.Equal(t, tt.expectedKind, resp["error"])
			assert.NotEmpty(t, resp["message"])
		})
	}
}

func TestHandler_ExpireAdjustResetEnd(t *testing.T) {
	env := newTestEnv(t)
	_, seller := env.user(t, "seller", 0)
	_, alice := env.user(t, "alice", 1000)
	auctionID, lots := env.auctionWithLots(t, seller, 2)

	status, resp := env.do(t, http.MethodPost, "/adjust-timer", seller, map[string]interface{}{"auctionId": auctionID, "durationSeconds": 30})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, resp["applied"])
	assert.Nil(t, resp["timer"])

	status, resp = env.do(t, http.MethodPost, "/expire", alice, map[string]interface{}{"auctionId": auctionID})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, resp["closed"])

	status, _ = env.do(t, http.MethodPut, "/activate", seller, map[string]interface{}{"lotId": lots[0]})
	require.Equal(t, http.StatusOK, status)

	status, resp = env.do(t, http.MethodPost, "/adjust-timer", seller, map[string]interface{}{"auctionId": auctionID, "durationSeconds": 30})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["applied"])
	assert.Equal(t, float64(30), resp["timer"].(map[string]interface{})["durationSeconds"])

	status, _ = env.do(t, http.MethodPost, "/bid", alice, map[string]interface{}{"lotId": lots[0], "amount": 100})
	require.Equal(t, http.StatusOK, status)

	env.clock.Advance(31 * time.Second)
	status, resp = env.do(t, http.MethodPost, "/bid", alice, map[string]interface{}{"lotId": lots[0], "amount": 200})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "not_active", resp["error"])

	expire := map[string]interface{}{"auctionId": auctionID, "lotId": lots[0], "autoAdvance": true}
	status, resp = env.do(t, http.MethodPost, "/expire", alice, expire)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["closed"])
	assert.Equal(t, true, resp["sold"])
	assert.Equal(t, false, resp["alreadyFinal"])
	assert.Equal(t, float64(lots[1]), resp["nextLotId"])

	// a second observer reporting the same expiry gets the settled result
	status, resp = env.do(t, http.MethodPost, "/expire", seller, expire)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["sold"])
	assert.Equal(t, true, resp["alreadyFinal"])
	assert.Nil(t, resp["nextLotId"])

	status, resp = env.do(t, http.MethodPost, "/reset", seller, map[string]interface{}{"auctionId": auctionID})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["reset"])

	status, snap := env.do(t, http.MethodGet, fmt.Sprintf("/auctions/%d/snapshot", auctionID), "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Nil(t, snap["active_lot"])
	assert.Empty(t, snap["bid_history"])

	status, resp = env.do(t, http.MethodPost, "/end-auction", seller, map[string]interface{}{"auctionId": auctionID})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["ended"])

	status, _ = env.do(t, http.MethodPut, "/activate", seller, map[string]interface{}{"lotId": lots[0]})
	assert.Equal(t, http.StatusConflict, status)
}

func TestHandler_ListAuctions(t *testing.T) {
	env := newTestEnv(t)
	_, seller := env.user(t, "seller", 0)
	env.auctionWithLots(t, seller, 1)
	env.auctionWithLots(t, seller, 0)

	req := httptest.NewRequest(http.MethodGet, "/auctions", nil)
	req.Header.Set("Authorization", "Bearer "+seller)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var auctions []map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &auctions))
	assert.Len(t, auctions, 2)
	assert.Equal(t, "Estate sale", auctions[0]["name"])
}
