package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/model"
)

// Simulator is the in-process Position Service's control surface.
type Simulator interface {
	MarkPrice(ctx context.Context) (decimal.Decimal, error)
	SetMarkPrice(price decimal.Decimal) error
	BeginGlobalSettlement(price decimal.Decimal) error
	EndGlobalSettlement() error
	Deposit(ctx context.Context, trader string, amount decimal.Decimal) error
	Position(ctx context.Context, trader string) (model.PositionSnapshot, error)
	Status(ctx context.Context) (model.VenueStatus, error)
}

// Wallet funds holders' collateral wallets.
type Wallet interface {
	Credit(holder string, amount decimal.Decimal) error
	Balance(holder string) decimal.Decimal
}

// PriceRequest is the JSON body for mark price and settlement routes.
type PriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

// FundingRequest is the JSON body for /sim deposit and wallet credits.
type FundingRequest struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

// VenueResponse describes the simulator's state.
type VenueResponse struct {
	Status    model.VenueStatus `json:"status"`
	MarkPrice decimal.Decimal   `json:"mark_price"`
}

func (h *Handler) registerSim(r chi.Router) {
	r.Get("/venue", h.GetVenue)
	r.Post("/mark-price", h.SetMarkPrice)
	r.Post("/deposit", h.SimDeposit)
	r.Post("/wallet", h.CreditWallet)
	r.Get("/positions/{trader}", h.GetVenuePosition)
	r.Post("/global-settlement/begin", h.BeginGlobalSettlement)
	r.Post("/global-settlement/end", h.EndGlobalSettlement)
}

// GetVenue handles GET /api/v1/sim/venue
func (h *Handler) GetVenue(w http.ResponseWriter, r *http.Request) {
	status, err := h.sim.Status(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	mark, err := h.sim.MarkPrice(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, VenueResponse{Status: status, MarkPrice: mark})
}

// SetMarkPrice handles POST /api/v1/sim/mark-price
func (h *Handler) SetMarkPrice(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.sim.SetMarkPrice(req.Price); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.logger.Info("sim mark price set", "price", req.Price.String())
	h.GetVenue(w, r)
}

// SimDeposit handles POST /api/v1/sim/deposit, funding a margin account.
func (h *Handler) SimDeposit(w http.ResponseWriter, r *http.Request) {
	var req FundingRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	if err := h.sim.Deposit(r.Context(), req.Account, req.Amount); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.writePosition(w, r, req.Account)
}

// CreditWallet handles POST /api/v1/sim/wallet, funding a collateral wallet.
func (h *Handler) CreditWallet(w http.ResponseWriter, r *http.Request) {
	if h.wallet == nil {
		writeError(w, "no simulated wallet", http.StatusNotFound)
		return
	}
	var req FundingRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	if err := h.wallet.Credit(req.Account, req.Amount); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": h.wallet.Balance(req.Account)})
}

// GetVenuePosition handles GET /api/v1/sim/positions/{trader}
func (h *Handler) GetVenuePosition(w http.ResponseWriter, r *http.Request) {
	h.writePosition(w, r, chi.URLParam(r, "trader"))
}

func (h *Handler) writePosition(w http.ResponseWriter, r *http.Request, trader string) {
	pos, err := h.sim.Position(r.Context(), trader)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// BeginGlobalSettlement handles POST /api/v1/sim/global-settlement/begin
func (h *Handler) BeginGlobalSettlement(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.sim.BeginGlobalSettlement(req.Price); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	h.logger.Warn("sim global settlement started", "price", req.Price.String())
	h.GetVenue(w, r)
}

// EndGlobalSettlement handles POST /api/v1/sim/global-settlement/end
func (h *Handler) EndGlobalSettlement(w http.ResponseWriter, r *http.Request) {
	if err := h.sim.EndGlobalSettlement(); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	h.logger.Warn("sim global settlement completed")
	h.GetVenue(w, r)
}
