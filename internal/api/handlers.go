package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/params"
)

// --- Request/Response types ---

// PurchaseRequest is the JSON body for POST /purchase.
type PurchaseRequest struct {
	CollateralAmount decimal.Decimal `json:"collateral_amount"` // most the holder will pay
	ShareAmount      decimal.Decimal `json:"share_amount"`
	PriceLimit       decimal.Decimal `json:"price_limit"` // highest NAV per share accepted
}

// RedeemRequest is the JSON body for POST /redeem.
type RedeemRequest struct {
	ShareAmount decimal.Decimal `json:"share_amount"`
	Slippage    decimal.Decimal `json:"slippage"`
}

// AmountRequest is the JSON body for operations taking a single amount.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// SlippageRequest is the JSON body for slippage setters.
type SlippageRequest struct {
	Slippage decimal.Decimal `json:"slippage"`
}

// TransferRequest is the JSON body for POST /transfer.
type TransferRequest struct {
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// BidRequest is the JSON body for POST /bid and POST /bid/settled.
// Holder is ignored by settled-share bids.
type BidRequest struct {
	Holder      string          `json:"holder,omitempty"`
	ShareAmount decimal.Decimal `json:"share_amount"`
	PriceLimit  decimal.Decimal `json:"price_limit"`
	Side        model.Side      `json:"side"` // fund position being taken over
}

// RebalanceRequest is the JSON body for POST /rebalance.
type RebalanceRequest struct {
	MaxPositionAmount decimal.Decimal `json:"max_position_amount"`
	PriceLimit        decimal.Decimal `json:"price_limit"`
	Side              model.Side      `json:"side"`
}

// SettleRequest is the JSON body for POST /settle.
type SettleRequest struct {
	ShareAmount decimal.Decimal `json:"share_amount"`
}

// ParameterRequest is the JSON body for PUT /fund/parameters/{key}.
type ParameterRequest struct {
	Value json.RawMessage `json:"value"` // string or number
}

// ManagerRequest is the JSON body for PUT /fund/manager.
type ManagerRequest struct {
	Manager string `json:"manager"`
}

// ParametersResponse is returned from GET /fund/parameters.
type ParametersResponse struct {
	params.Params
	SettlementSlippage decimal.Decimal `json:"settlement_slippage"`
}

// --- Fund queries ---

// GetFund handles GET /api/v1/fund
func (h *Handler) GetFund(w http.ResponseWriter, r *http.Request) {
	summary, err := h.fund.Summary(r.Context())
	if err != nil {
		h.writeFundError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetNAV handles GET /api/v1/fund/nav
func (h *Handler) GetNAV(w http.ResponseWriter, r *http.Request) {
	snap, err := h.fund.NAV(r.Context())
	if err != nil {
		h.writeFundError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListNAVSnapshots handles GET /api/v1/fund/nav/snapshots?limit=N
func (h *Handler) ListNAVSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.store.RecentNAVSnapshots(r.Context(), limitParam(r))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []model.NAVSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// GetLatestNAVSnapshot handles GET /api/v1/fund/nav/snapshots/latest
func (h *Handler) GetLatestNAVSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.LatestNAVSnapshot(r.Context())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListHolders handles GET /api/v1/fund/holders
func (h *Handler) ListHolders(w http.ResponseWriter, r *http.Request) {
	holders := h.fund.Holders()
	if holders == nil {
		holders = []string{}
	}
	writeJSON(w, http.StatusOK, holders)
}

// GetParameters handles GET /api/v1/fund/parameters
func (h *Handler) GetParameters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ParametersResponse{
		Params:             h.fund.Parameters(),
		SettlementSlippage: h.fund.SettlementSlippage(),
	})
}

// SetParameter handles PUT /api/v1/fund/parameters/{key}
func (h *Handler) SetParameter(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	key, err := params.ParseKey(chi.URLParam(r, "key"))
	if err != nil {
		h.writeFundError(w, r, err)
		return
	}
	var req ParameterRequest
	if !decode(w, r, &req) {
		return
	}
	raw, err := params.RawValue(req.Value)
	if err != nil {
		h.writeFundError(w, r, err)
		return
	}
	if err := h.fund.SetParameter(r.Context(), acct, key, raw); err != nil {
		h.writeFundError(w, r, err)
		return
	}
	h.GetParameters(w, r)
}

// SetSettlementSlippage handles PUT /api/v1/fund/settlement-slippage
func (h *Handler) SetSettlementSlippage(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var req SlippageRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.fund.SetSettlementSlippage(r.Context(), acct, req.Slippage); err != nil {
		h.writeFundError(w, r, err)
		return
	}
	h.GetParameters(w, r)
}

// SetManager handles PUT /api/v1/fund/manager
func (h *Handler) SetManager(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var req ManagerRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.fund.SetManager(r.Context(), acct, req.Manager); err != nil {
		h.writeFundError(w, r, err)
		return
	}
	h.GetFund(w, r)
}

// Pause handles POST /api/v1/fund/pause
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.fund.Pause(r.Context(), acct); err != nil {
		h.writeFundError(w, r, err)
		return
	}
	h.GetFund(w, r)
}

// Unpause handles POST /api/v1/fund/unpause
func (h *Handler) Unpause(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.fund.Unpause(r.Context(), acct); err != nil {
		h.writeFundError(w, r, err)
		return
	}
	h.GetFund(w, r)
}

// GetAccount handles GET /api/v1/accounts/{holder}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.fund.Account(chi.URLParam(r, "holder")))
}

// --- Holder operations ---

// Purchase handles POST /api/v1/purchase
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var req PurchaseRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.fund.Purchase(r.Context(), acct, req.CollateralAmount, req.ShareAmount, req.PriceLimit)
	if err != nil {
		h.writeFundError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Redeem handles POST /api/v1/redeem
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var req RedeemRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.fund.Redeem(r.Context(), acct, req.ShareAmount, req.Slippage)
	if err != nil {
		h.writeFundError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelRedeem handles POST /api/v1/redeem/cancel
func (h *Handler) CancelRedeem(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.fund.CancelRedeem(r.Context(), acct, req.Amount); err != nil {
		h.writeFundError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.fund.Account(acct))
}

// SetRedeemingSlippage handles PUT /api/v1/accounts/{holder}/slippage
func (h *Handler) SetRedeemingSlippage(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	if holder := chi.URLParam(r, "holder"); holder != acct {
		writeError(w, "may only set your own slippage", http.StatusForbidden)
		return
	}
	var req SlippageRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.fund.SetRedeemingSlippage(r.Context(), acct, req.Slippage); err != nil {
		h.writeFundError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.fund.Account(acct))
}

// WithdrawCollateral handles POST /api/v1/withdraw
func (h *Handler) WithdrawCollateral(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.fund.WithdrawCollateral(r.Context(), acct, req.Amount); err != nil {
		h.writeFundError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.fund.Account(acct))
}

// Transfer handles POST /api/v1/transfer
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.fund.Transfer(r.Context(), acct, req.To, req.Amount); err != nil {
		h.writeFundError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.fund.Account(acct))
}

// --- Auction and rebalancing ---

// BidRedeemingShare handles POST /api/v1/bid
func (h *Handler) BidRedeemingShare(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var req BidRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.fund.BidRedeemingShare(r.Context(), acct, req.Holder, req.ShareAmount, req.PriceLimit, req.Side)
	if err != nil {
		h.writeFundError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// BidSettledShare handles POST /api/v1/bid/settled
func (h *Handler) BidSettledShare(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var req BidRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.fund.BidSettledShare(r.Context(), acct, req.ShareAmount, req.PriceLimit, req.Side)
	if err != nil {
		h.writeFundError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetRebalanceTarget handles GET /api/v1/rebalance/target
func (h *Handler) GetRebalanceTarget(w http.ResponseWriter, r *http.Request) {
	t, err := h.fund.RebalanceTarget(r.Context())
	if err != nil {
		h.writeFundError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Rebalance handles POST /api/v1/rebalance
func (h *Handler) Rebalance(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var req RebalanceRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.fund.Rebalance(r.Context(), acct, req.MaxPositionAmount, req.PriceLimit, req.Side)
	if err != nil {
		h.writeFundError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Lifecycle ---

func (h *Handler) writeState(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"state": h.fund.Status().String()})
}

// TriggerEmergency handles POST /api/v1/emergency
func (h *Handler) TriggerEmergency(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.fund.TriggerEmergency(r.Context(), acct); err != nil {
		h.writeFundError(w, r, err)
		return
	}
	h.writeState(w)
}

// SettleMarginAccount handles POST /api/v1/settle-margin
func (h *Handler) SettleMarginAccount(w http.ResponseWriter, r *http.Request) {
	amount, err := h.fund.SettleMarginAccount(r.Context())
	if err != nil {
		h.writeFundError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"settled": amount})
}

// Shutdown handles POST /api/v1/shutdown
func (h *Handler) Shutdown(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.fund.Shutdown(r.Context(), acct); err != nil {
		h.writeFundError(w, r, err)
		return
	}
	h.writeState(w)
}

// Settle handles POST /api/v1/settle
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var req SettleRequest
	if !decode(w, r, &req) {
		return
	}
	payout, err := h.fund.Settle(r.Context(), acct, req.ShareAmount)
	if err != nil {
		h.writeFundError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"payout": payout})
}

// WithdrawFee handles POST /api/v1/fees/withdraw
func (h *Handler) WithdrawFee(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.fund.WithdrawFee(r.Context(), acct, req.Amount); err != nil {
		h.writeFundError(w, r, err)
		return
	}
	h.GetFund(w, r)
}

// --- Journal ---

// ListJournal handles GET /api/v1/journal?limit=N
func (h *Handler) ListJournal(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.GetJournalEntries(r.Context(), limitParam(r))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListJournalByHolder handles GET /api/v1/journal/{holder}
func (h *Handler) ListJournalByHolder(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.GetJournalByHolder(r.Context(), chi.URLParam(r, "holder"))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
