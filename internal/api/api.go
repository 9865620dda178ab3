// Package api exposes the fund's operations as JSON over HTTP.
//
// The caller's identity comes from the X-Account header. Fund errors are
// mapped to status codes by kind: validation 400, unauthorized 403, state
// 409, invariant 422, external 502.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/fund-engine/internal/fund"
	"github.com/atmx/fund-engine/internal/store"
)

// AccountHeader carries the caller's account name.
const AccountHeader = "X-Account"

// Handler serves the fund API.
type Handler struct {
	fund   *fund.Fund
	store  store.Store
	sim    Simulator // optional
	wallet Wallet    // optional
	logger *slog.Logger
}

// Option customizes a Handler.
type Option func(*Handler)

// WithSimulator mounts the /sim routes that drive an in-process venue.
func WithSimulator(sim Simulator, wallet Wallet) Option {
	return func(h *Handler) {
		h.sim = sim
		h.wallet = wallet
	}
}

// WithLogger overrides slog.Default().
func WithLogger(l *slog.Logger) Option { return func(h *Handler) { h.logger = l } }

// NewHandler creates the API handler. st serves journal and snapshot queries.
func NewHandler(f *fund.Fund, st store.Store, opts ...Option) *Handler {
	h := &Handler{fund: f, store: st, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts every route on r, which is expected to be /api/v1.
func (h *Handler) Register(r chi.Router) {
	// Fund queries.
	r.Get("/fund", h.GetFund)
	r.Get("/fund/nav", h.GetNAV)
	r.Get("/fund/nav/snapshots", h.ListNAVSnapshots)
	r.Get("/fund/nav/snapshots/latest", h.GetLatestNAVSnapshot)
	r.Get("/fund/holders", h.ListHolders)
	r.Get("/fund/parameters", h.GetParameters)
	r.Put("/fund/parameters/{key}", h.SetParameter)
	r.Put("/fund/settlement-slippage", h.SetSettlementSlippage)
	r.Put("/fund/manager", h.SetManager)
	r.Post("/fund/pause", h.Pause)
	r.Post("/fund/unpause", h.Unpause)
	r.Get("/accounts/{holder}", h.GetAccount)

	// Holder operations.
	r.Post("/purchase", h.Purchase)
	r.Post("/redeem", h.Redeem)
	r.Post("/redeem/cancel", h.CancelRedeem)
	r.Put("/accounts/{holder}/slippage", h.SetRedeemingSlippage)
	r.Post("/withdraw", h.WithdrawCollateral)
	r.Post("/transfer", h.Transfer)

	// Auction and rebalancing.
	r.Post("/bid", h.BidRedeemingShare)
	r.Post("/bid/settled", h.BidSettledShare)
	r.Get("/rebalance/target", h.GetRebalanceTarget)
	r.Post("/rebalance", h.Rebalance)

	// Lifecycle.
	r.Post("/emergency", h.TriggerEmergency)
	r.Post("/settle-margin", h.SettleMarginAccount)
	r.Post("/shutdown", h.Shutdown)
	r.Post("/settle", h.Settle)
	r.Post("/fees/withdraw", h.WithdrawFee)

	// Journal.
	r.Get("/journal", h.ListJournal)
	r.Get("/journal/{holder}", h.ListJournalByHolder)

	if h.sim != nil {
		r.Route("/sim", h.registerSim)
	}
}

// --- Helpers ---

// caller returns the X-Account header or writes a 400.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	acct := r.Header.Get(AccountHeader)
	if acct == "" {
		writeError(w, "missing "+AccountHeader+" header", http.StatusBadRequest)
		return "", false
	}
	return acct, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}

// StatusFor maps a fund error to an HTTP status code.
func StatusFor(err error) int {
	switch fund.KindOf(err) {
	case fund.KindValidation:
		return http.StatusBadRequest
	case fund.KindUnauthorized:
		return http.StatusForbidden
	case fund.KindState:
		return http.StatusConflict
	case fund.KindInvariant:
		return http.StatusUnprocessableEntity
	case fund.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeFundError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"kind":  fund.KindOf(err).String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	h.logger.Error("store query failed", "path", r.URL.Path, "err", err)
	writeError(w, "store unavailable", http.StatusInternalServerError)
}
