package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/auctionroom/internal/auction"
	"github.com/xtrntr/auctionroom/internal/auth"
	"github.com/xtrntr/auctionroom/internal/models"
	"github.com/xtrntr/auctionroom/internal/timer"
)

// Balances reports wallet balances for the wallet endpoint.
type Balances interface {
	AvailableBalance(ctx context.Context, userID int) (decimal.Decimal, error)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Engine      *auction.Engine
	AuthService *auth.AuthService
	Wallet      Balances
}

// NewHandler creates a new handler
func NewHandler(eng *auction.Engine, authService *auth.AuthService, w Balances) *Handler {
	return &Handler{Engine: eng, AuthService: authService, Wallet: w}
}

// Routes registers every endpoint on r. Snapshot reads are public; every
// command needs a bearer token.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Get("/auctions/{auctionID}/snapshot", h.Snapshot)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Get("/auctions", h.ListAuctions)
		r.Post("/auctions", h.CreateAuction)
		r.Post("/auctions/{auctionID}/lots", h.CreateLot)
		r.Put("/activate", h.Activate)
		r.Post("/bid", h.PlaceBid)
		r.Post("/close-item", h.CloseItem)
		r.Post("/expire", h.Expire)
		r.Post("/adjust-timer", h.AdjustTimer)
		r.Post("/reset", h.Reset)
		r.Post("/end-auction", h.EndAuction)
		r.Get("/wallet", h.GetWallet)
	})
}

type ctxKey struct{}

// UserIDFromContext returns the authenticated user set by JWTAuthMiddleware.
func UserIDFromContext(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(ctxKey{}).(int)
	return id, ok
}

const kindUnauthenticated = "unauthenticated"

type errorBody struct {
	Error       string           `json:"error"`
	Message     string           `json:"message"`
	NextMinimum *decimal.Decimal `json:"nextMinimum,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeFailure(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: kind, Message: message})
}

func statusFor(kind auction.Kind) int {
	switch kind {
	case auction.KindValidation:
		return http.StatusBadRequest
	case auction.KindNotActive, auction.KindConflict, auction.KindStateConflict:
		return http.StatusConflict
	case auction.KindAuthorization:
		return http.StatusForbidden
	case auction.KindNotFound:
		return http.StatusNotFound
	case auction.KindInsufficientFunds:
		return http.StatusPaymentRequired
	default:
		return http.StatusServiceUnavailable
	}
}

// writeError renders an engine error. Anything that is not an
// *auction.Error is treated as transient.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *auction.Error
	if !errors.As(err, &e) {
		e = &auction.Error{Kind: auction.KindTransient, Message: "temporarily unavailable", Err: err}
	}
	if e.Kind == auction.KindTransient {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, statusFor(e.Kind), errorBody{Error: string(e.Kind), Message: e.Message, NextMinimum: e.NextMinimum})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeFailure(w, http.StatusBadRequest, string(auction.KindValidation), "Invalid request body")
		return false
	}
	return true
}

func requireID(w http.ResponseWriter, name string, id int) bool {
	if id <= 0 {
		writeFailure(w, http.StatusBadRequest, string(auction.KindValidation), name+" is required")
		return false
	}
	return true
}

func mustUser(w http.ResponseWriter, r *http.Request) (int, bool) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, kindUnauthenticated, "Unauthorized")
	}
	return userID, ok
}

// Healthz reports liveness
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeFailure(w, http.StatusBadRequest, string(auction.KindValidation), err.Error())
		return
	case errors.Is(err, auth.ErrUsernameTaken):
		writeFailure(w, http.StatusConflict, string(auction.KindStateConflict), err.Error())
		return
	case err != nil:
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeFailure(w, http.StatusUnauthorized, kindUnauthenticated, "Invalid credentials")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeFailure(w, http.StatusUnauthorized, kindUnauthenticated, "Authorization header required")
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			writeFailure(w, http.StatusUnauthorized, kindUnauthenticated, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ListAuctions returns every auction
func (h *Handler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := h.Engine.ListAuctions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if auctions == nil {
		auctions = []models.Auction{}
	}
	writeJSON(w, http.StatusOK, auctions)
}

// CreateAuction opens an auction owned by the caller
func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Name      string    `json:"name"`
		StartTime time.Time `json:"startTime"`
		EndTime   time.Time `json:"endTime"`
	}
	if !decode(w, r, &req) {
		return
	}

	a, err := h.Engine.CreateAuction(r.Context(), userID, req.Name, req.StartTime, req.EndTime)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// CreateLot adds a lot to the auction in the URL
func (h *Handler) CreateLot(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUser(w, r)
	if !ok {
		return
	}
	auctionID, err := strconv.Atoi(chi.URLParam(r, "auctionID"))
	if err != nil {
		writeFailure(w, http.StatusBadRequest, string(auction.KindValidation), "Invalid auction ID")
		return
	}
	var req struct {
		Title        string          `json:"title"`
		MinBid       decimal.Decimal `json:"minBid"`
		BidIncrement decimal.Decimal `json:"bidIncrement"`
	}
	if !decode(w, r, &req) {
		return
	}

	lot, err := h.Engine.CreateLot(r.Context(), userID, auctionID, req.Title, req.MinBid, req.BidIncrement)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lot)
}

// Snapshot returns the auction's read model
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	auctionID, err := strconv.Atoi(chi.URLParam(r, "auctionID"))
	if err != nil {
		writeFailure(w, http.StatusBadRequest, string(auction.KindValidation), "Invalid auction ID")
		return
	}

	snap, err := h.Engine.Snapshot(r.Context(), auctionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, snap)
}

type timerResponse struct {
	StartedAt       time.Time `json:"startedAt"`
	DurationSeconds int       `json:"durationSeconds"`
	Deadline        time.Time `json:"deadline"`
}

func newTimerResponse(a timer.Anchor) *timerResponse {
	return &timerResponse{StartedAt: a.StartedAt, DurationSeconds: a.DurationSeconds(), Deadline: a.Deadline()}
}

type closeResponse struct {
	LotID        int              `json:"lotId"`
	Sold         bool             `json:"sold"`
	FinalPrice   *decimal.Decimal `json:"finalPrice,omitempty"`
	SettlementID *int             `json:"settlementId,omitempty"`
	AlreadyFinal bool             `json:"alreadyFinal"`
	NextLotID    *int             `json:"nextLotId,omitempty"`
	Timer        *timerResponse   `json:"timer,omitempty"`
}

func newCloseResponse(res *auction.CloseResult) closeResponse {
	out := closeResponse{LotID: res.LotID, Sold: res.Sold, FinalPrice: res.FinalPrice, AlreadyFinal: res.AlreadyFinal}
	if res.Settlement != nil {
		out.SettlementID = &res.Settlement.ID
	}
	if res.Next != nil {
		out.NextLotID = &res.Next.Lot.ID
		out.Timer = newTimerResponse(res.Next.Timer)
	}
	return out
}

// Activate makes a lot the auction's active lot
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUser(w, r)
	if !ok {
		return
	}
	var req struct {
		LotID           int              `json:"lotId"`
		StartingPrice   *decimal.Decimal `json:"startingPrice"`
		DurationSeconds int              `json:"durationSeconds"`
	}
	if !decode(w, r, &req) || !requireID(w, "lotId", req.LotID) {
		return
	}

	res, err := h.Engine.Activate(r.Context(), userID, req.LotID, auction.ActivateOptions{
		StartingPrice:   req.StartingPrice,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := struct {
		Lot        models.Lot        `json:"lot"`
		CurrentBid models.CurrentBid `json:"currentBid"`
		Timer      *timerResponse    `json:"timer"`
		Previous   *closeResponse    `json:"previous,omitempty"`
	}{Lot: res.Lot, CurrentBid: res.CurrentBid, Timer: newTimerResponse(res.Timer)}
	if res.Previous != nil {
		prev := newCloseResponse(res.Previous)
		resp.Previous = &prev
	}
	writeJSON(w, http.StatusOK, resp)
}

// PlaceBid submits a bid on the active lot
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUser(w, r)
	if !ok {
		return
	}
	var req struct {
		LotID  int             `json:"lotId"`
		Amount decimal.Decimal `json:"amount"`
	}
	if !decode(w, r, &req) || !requireID(w, "lotId", req.LotID) {
		return
	}

	res, err := h.Engine.PlaceBid(r.Context(), userID, req.LotID, req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accepted":     res.Accepted,
		"bidId":        res.Entry.ID,
		"currentPrice": res.CurrentPrice,
		"nextMinimum":  res.NextMinimum,
	})
}

// CloseItem finalizes a lot
func (h *Handler) CloseItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUser(w, r)
	if !ok {
		return
	}
	var req struct {
		LotID       int  `json:"lotId"`
		AutoAdvance bool `json:"autoAdvance"`
	}
	if !decode(w, r, &req) || !requireID(w, "lotId", req.LotID) {
		return
	}

	res, err := h.Engine.Close(r.Context(), userID, req.LotID, req.AutoAdvance)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCloseResponse(res))
}

// Expire closes the active lot if its timer has run out
func (h *Handler) Expire(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUser(w, r)
	if !ok {
		return
	}
	var req struct {
		AuctionID   int  `json:"auctionId"`
		LotID       int  `json:"lotId"`
		AutoAdvance bool `json:"autoAdvance"`
	}
	if !decode(w, r, &req) || !requireID(w, "auctionId", req.AuctionID) {
		return
	}

	res, err := h.Engine.Expire(r.Context(), userID, req.AuctionID, req.LotID, req.AutoAdvance)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"closed": false})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Closed bool `json:"closed"`
		closeResponse
	}{true, newCloseResponse(res)})
}

// AdjustTimer restarts the active lot's countdown
func (h *Handler) AdjustTimer(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUser(w, r)
	if !ok {
		return
	}
	var req struct {
		AuctionID       int `json:"auctionId"`
		DurationSeconds int `json:"durationSeconds"`
	}
	if !decode(w, r, &req) || !requireID(w, "auctionId", req.AuctionID) {
		return
	}

	res, err := h.Engine.AdjustTimer(r.Context(), userID, req.AuctionID, req.DurationSeconds)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := struct {
		Applied bool           `json:"applied"`
		LotID   int            `json:"lotId,omitempty"`
		Timer   *timerResponse `json:"timer"`
	}{Applied: res.Applied, LotID: res.LotID}
	if res.Timer != nil {
		resp.Timer = newTimerResponse(*res.Timer)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Reset wipes the auction's bids and settlements
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUser(w, r)
	if !ok {
		return
	}
	var req struct {
		AuctionID int `json:"auctionId"`
	}
	if !decode(w, r, &req) || !requireID(w, "auctionId", req.AuctionID) {
		return
	}

	if err := h.Engine.Reset(r.Context(), userID, req.AuctionID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}

// EndAuction marks the auction ended
func (h *Handler) EndAuction(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUser(w, r)
	if !ok {
		return
	}
	var req struct {
		AuctionID int `json:"auctionId"`
	}
	if !decode(w, r, &req) || !requireID(w, "auctionId", req.AuctionID) {
		return
	}

	a, err := h.Engine.EndAuction(r.Context(), userID, req.AuctionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GetWallet returns the caller's balance
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUser(w, r)
	if !ok {
		return
	}

	balance, err := h.Wallet.AvailableBalance(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"userId":  userID,
		"balance": balance,
	})
}
