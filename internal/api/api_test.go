package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/api"
	"github.com/atmx/fund-engine/internal/collateral"
	"github.com/atmx/fund-engine/internal/fund"
	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/params"
	"github.com/atmx/fund-engine/internal/perpetual"
	"github.com/atmx/fund-engine/internal/store"
)

const (
	admin       = "admin"
	fundAccount = "fund"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type testEnv struct {
	fund   *fund.Fund
	store  *store.MemoryStore
	wallet *collateral.MemoryWallet
	router chi.Router
}

// newTestEnv wires a fund over the simulator with an in-memory journal.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	perp, err := perpetual.New(d(100), d(0.1))
	if err != nil {
		t.Fatal(err)
	}
	wallet := collateral.NewMemoryWallet(collateral.Native())
	for _, holder := range []string{"alice", "bob"} {
		if err := wallet.Credit(holder, d(10000)); err != nil {
			t.Fatal(err)
		}
	}
	ms := store.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f, err := fund.New(fund.Config{
		Account:       fundAccount,
		Administrator: admin,
		Capacity:      d(1000),
		Params:        params.Params{},
	}, perp, perp, wallet, fund.WithJournal(ms), fund.WithLogger(logger))
	if err != nil {
		t.Fatalf("fund.New: %v", err)
	}

	h := api.NewHandler(f, ms, api.WithSimulator(perp, wallet), api.WithLogger(logger))
	r := chi.NewRouter()
	r.Route("/api/v1", h.Register)
	return &testEnv{fund: f, store: ms, wallet: wallet, router: r}
}

func (e *testEnv) do(t *testing.T, method, path, account string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set(api.AccountHeader, account)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) purchase(t *testing.T, holder string, shares, price float64) fund.PurchaseResult {
	t.Helper()
	w := e.do(t, "POST", "/api/v1/purchase", holder, api.PurchaseRequest{
		CollateralAmount: d(shares * price * 2),
		ShareAmount:      d(shares),
		PriceLimit:       d(price),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("purchase: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res fund.PurchaseResult
	json.Unmarshal(w.Body.Bytes(), &res)
	return res
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["error"] == "" {
		t.Error("expected non-empty error message")
	}
	if kind != "" && body["kind"] != kind {
		t.Errorf("expected kind %q, got %q", kind, body["kind"])
	}
}

// --- Holder operations ---

func TestPurchase_ThenAccount(t *testing.T) {
	e := newTestEnv(t)

	res := e.purchase(t, "alice", 10, 100)
	if !res.Paid.Equal(d(1000)) {
		t.Errorf("expected paid 1000, got %s", res.Paid)
	}
	if !res.NAVPerShare.Equal(d(100)) {
		t.Errorf("expected nav per share 100, got %s", res.NAVPerShare)
	}

	w := e.do(t, "GET", "/api/v1/accounts/alice", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var acct model.AccountSummary
	json.Unmarshal(w.Body.Bytes(), &acct)
	if !acct.Shares.Balance.Equal(d(10)) {
		t.Errorf("expected balance 10, got %s", acct.Shares.Balance)
	}
	if !e.wallet.Balance("alice").Equal(d(9000)) {
		t.Errorf("expected wallet 9000, got %s", e.wallet.Balance("alice"))
	}
}

func TestMissingAccountHeader(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "POST", "/api/v1/purchase", "", api.PurchaseRequest{ShareAmount: d(1), PriceLimit: d(100), CollateralAmount: d(100)})
	expectError(t, w, http.StatusBadRequest, "")
}

func TestInvalidBody(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest("POST", "/api/v1/redeem", bytes.NewReader([]byte("{not json")))
	req.Header.Set(api.AccountHeader, "alice")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	expectError(t, w, http.StatusBadRequest, "")
}

func TestPurchase_InvalidPrice(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "POST", "/api/v1/purchase", "alice", api.PurchaseRequest{
		CollateralAmount: d(1000),
		ShareAmount:      d(10),
		PriceLimit:       decimal.Zero,
	})
	expectError(t, w, http.StatusBadRequest, "validation")
}

func TestRedeem_FlatFundPaysImmediately(t *testing.T) {
	e := newTestEnv(t)
	e.purchase(t, "alice", 10, 100)

	w := e.do(t, "POST", "/api/v1/redeem", "alice", api.RedeemRequest{ShareAmount: d(4), Slippage: d(0.01)})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res fund.RedeemResult
	json.Unmarshal(w.Body.Bytes(), &res)
	if !res.Paid.Equal(d(400)) || !res.Queued.IsZero() {
		t.Errorf("expected paid 400 and nothing queued, got %+v", res)
	}
	if !e.wallet.Balance("alice").Equal(d(9400)) {
		t.Errorf("expected wallet 9400, got %s", e.wallet.Balance("alice"))
	}
}

func TestTransfer(t *testing.T) {
	e := newTestEnv(t)
	e.purchase(t, "alice", 10, 100)

	w := e.do(t, "POST", "/api/v1/transfer", "alice", api.TransferRequest{To: "bob", Amount: d(3)})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := e.fund.Account("bob").Shares.Balance; !got.Equal(d(3)) {
		t.Errorf("expected bob to hold 3, got %s", got)
	}

	w = e.do(t, "POST", "/api/v1/transfer", "alice", api.TransferRequest{To: "", Amount: d(1)})
	expectError(t, w, http.StatusBadRequest, "validation")
}

func TestSetRedeemingSlippage_OnlyOwnAccount(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "PUT", "/api/v1/accounts/alice/slippage", "bob", api.SlippageRequest{Slippage: d(0.05)})
	expectError(t, w, http.StatusForbidden, "")

	w = e.do(t, "PUT", "/api/v1/accounts/alice/slippage", "alice", api.SlippageRequest{Slippage: d(0.05)})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := e.fund.Account("alice").Shares.RedeemingSlippage; !got.Equal(d(0.05)) {
		t.Errorf("expected slippage 0.05, got %s", got)
	}
}

// --- Parameters ---

func TestSetParameter(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "PUT", "/api/v1/fund/parameters/streamingFeeRate", admin, map[string]any{"value": "0.02"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := e.fund.Parameters().StreamingFeeRate; !got.Equal(d(0.02)) {
		t.Errorf("expected streaming fee 0.02, got %s", got)
	}

	// Numbers are accepted as well as strings.
	w = e.do(t, "PUT", "/api/v1/fund/parameters/redeemingLockPeriod", admin, map[string]any{"value": 3600})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = e.do(t, "PUT", "/api/v1/fund/parameters/bogus", admin, map[string]any{"value": "1"})
	expectError(t, w, http.StatusBadRequest, "validation")

	w = e.do(t, "PUT", "/api/v1/fund/parameters/entranceFeeRate", admin, map[string]any{"value": "1.5"})
	expectError(t, w, http.StatusBadRequest, "validation")

	w = e.do(t, "PUT", "/api/v1/fund/parameters/streamingFeeRate", "alice", map[string]any{"value": "0.5"})
	expectError(t, w, http.StatusForbidden, "unauthorized")
}

// --- Lifecycle ---

func TestLifecycleErrors(t *testing.T) {
	e := newTestEnv(t)
	e.purchase(t, "alice", 10, 100)

	w := e.do(t, "POST", "/api/v1/shutdown", "alice", nil)
	expectError(t, w, http.StatusForbidden, "unauthorized")

	w = e.do(t, "POST", "/api/v1/settle", "alice", api.SettleRequest{ShareAmount: d(1)})
	expectError(t, w, http.StatusConflict, "state")

	// No drawdown or leverage mark reached.
	w = e.do(t, "POST", "/api/v1/emergency", "alice", nil)
	expectError(t, w, http.StatusConflict, "state")

	w = e.do(t, "POST", "/api/v1/bid/settled", "bob", api.BidRequest{ShareAmount: d(1), PriceLimit: d(100), Side: model.SideLong})
	expectError(t, w, http.StatusConflict, "state")
}

func TestGlobalSettlementFlow(t *testing.T) {
	e := newTestEnv(t)
	e.purchase(t, "alice", 10, 100)
	e.purchase(t, "bob", 30, 100)

	w := e.do(t, "POST", "/api/v1/emergency", admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("emergency: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	for _, step := range []struct {
		path string
		body any
	}{
		{"/api/v1/sim/global-settlement/begin", api.PriceRequest{Price: d(100)}},
		{"/api/v1/sim/global-settlement/end", nil},
	} {
		if w := e.do(t, "POST", step.path, "", step.body); w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", step.path, w.Code, w.Body.String())
		}
	}

	w = e.do(t, "POST", "/api/v1/settle-margin", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("settle-margin: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var settled map[string]decimal.Decimal
	json.Unmarshal(w.Body.Bytes(), &settled)
	if !settled["settled"].Equal(d(4000)) {
		t.Errorf("expected 4000 settled, got %s", settled["settled"])
	}

	w = e.do(t, "POST", "/api/v1/settle-margin", "", nil)
	expectError(t, w, http.StatusConflict, "state")

	w = e.do(t, "POST", "/api/v1/shutdown", admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("shutdown: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = e.do(t, "POST", "/api/v1/settle", "alice", api.SettleRequest{ShareAmount: d(10)})
	if w.Code != http.StatusOK {
		t.Fatalf("settle: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var payout map[string]decimal.Decimal
	json.Unmarshal(w.Body.Bytes(), &payout)
	if !payout["payout"].Equal(d(1000)) {
		t.Errorf("expected payout 1000, got %s", payout["payout"])
	}

	w = e.do(t, "GET", "/api/v1/fund", "", nil)
	var summary map[string]any
	json.Unmarshal(w.Body.Bytes(), &summary)
	if summary["state"] != "shutdown" {
		t.Errorf("expected shutdown state, got %v", summary["state"])
	}
}

// --- Journal and snapshots ---

func TestJournal(t *testing.T) {
	e := newTestEnv(t)
	e.purchase(t, "alice", 10, 100)
	e.purchase(t, "bob", 5, 100)

	w := e.do(t, "GET", "/api/v1/journal?limit=1", "", nil)
	var entries []model.JournalEntry
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 1 || entries[0].Holder != "bob" {
		t.Fatalf("expected bob's purchase first, got %+v", entries)
	}

	w = e.do(t, "GET", "/api/v1/journal/alice", "", nil)
	entries = nil
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 1 || entries[0].Kind != model.JournalPurchase || !entries[0].Shares.Equal(d(10)) {
		t.Errorf("unexpected journal for alice: %+v", entries)
	}
	if entries[0].ID == "" {
		t.Error("expected journal entry id")
	}
}

func TestNAVSnapshots(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "GET", "/api/v1/fund/nav/snapshots/latest", "", nil)
	expectError(t, w, http.StatusNotFound, "")

	w = e.do(t, "GET", "/api/v1/fund/nav/snapshots", "", nil)
	if w.Code != http.StatusOK || bytes.TrimSpace(w.Body.Bytes())[0] != '[' {
		t.Fatalf("expected empty list, got %d: %s", w.Code, w.Body.String())
	}

	e.purchase(t, "alice", 10, 100)
	snap, err := e.fund.NAV(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	e.store.InsertNAVSnapshot(context.Background(), &snap)

	w = e.do(t, "GET", "/api/v1/fund/nav/snapshots/latest", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got model.NAVSnapshot
	json.Unmarshal(w.Body.Bytes(), &got)
	if !got.NetAssetValue.Equal(d(1000)) {
		t.Errorf("expected NAV 1000, got %s", got.NetAssetValue)
	}
}

// --- Simulator ---

func TestSimWalletAndMarkPrice(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "POST", "/api/v1/sim/wallet", "", api.FundingRequest{Account: "carol", Amount: d(500)})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !e.wallet.Balance("carol").Equal(d(500)) {
		t.Errorf("expected carol 500, got %s", e.wallet.Balance("carol"))
	}

	w = e.do(t, "POST", "/api/v1/sim/mark-price", "", api.PriceRequest{Price: d(120)})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var venue map[string]any
	json.Unmarshal(w.Body.Bytes(), &venue)
	if venue["mark_price"] != "120" || venue["status"] != "normal" {
		t.Errorf("unexpected venue: %v", venue)
	}

	w = e.do(t, "POST", "/api/v1/sim/mark-price", "", api.PriceRequest{Price: d(-1)})
	expectError(t, w, http.StatusBadRequest, "")
}

// --- Error mapping ---

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", fund.ErrInvalidAmount), http.StatusBadRequest},
		{fmt.Errorf("%w: x", fund.ErrUnauthorized), http.StatusForbidden},
		{fmt.Errorf("%w: normal", fund.ErrBadState), http.StatusConflict},
		{fmt.Errorf("%w: %w", fund.ErrExternal, errors.New("venue down")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := api.StatusFor(c.err); got != c.want {
			t.Errorf("%v: expected %d, got %d", c.err, c.want, got)
		}
	}
}

func TestPauseAndSetManager(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "POST", "/api/v1/fund/pause", "alice", nil)
	expectError(t, w, http.StatusForbidden, "unauthorized")

	w = e.do(t, "POST", "/api/v1/fund/pause", admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var summary map[string]any
	json.Unmarshal(w.Body.Bytes(), &summary)
	if summary["paused"] != true {
		t.Errorf("paused = %v, want true", summary["paused"])
	}

	w = e.do(t, "POST", "/api/v1/purchase", "alice", api.PurchaseRequest{
		CollateralAmount: d(200), ShareAmount: d(1), PriceLimit: d(100),
	})
	expectError(t, w, http.StatusConflict, "state")

	w = e.do(t, "POST", "/api/v1/fund/unpause", admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unpause: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	e.purchase(t, "alice", 1, 100)

	w = e.do(t, "PUT", "/api/v1/fund/manager", "alice", api.ManagerRequest{Manager: "alice"})
	expectError(t, w, http.StatusForbidden, "unauthorized")
	w = e.do(t, "PUT", "/api/v1/fund/manager", admin, api.ManagerRequest{Manager: ""})
	expectError(t, w, http.StatusBadRequest, "validation")

	w = e.do(t, "PUT", "/api/v1/fund/manager", admin, api.ManagerRequest{Manager: "bob"})
	if w.Code != http.StatusOK {
		t.Fatalf("set manager: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	summary = nil
	json.Unmarshal(w.Body.Bytes(), &summary)
	if summary["manager"] != "bob" {
		t.Errorf("manager = %v, want bob", summary["manager"])
	}
}
