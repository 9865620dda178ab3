package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/params"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Fund.Account != "fund" || cfg.Fund.Administrator != "admin" {
		t.Errorf("unexpected fund identity: %+v", cfg.Fund)
	}
	if cfg.Redis.CacheTTL != 30*time.Second {
		t.Errorf("expected 30s cache ttl, got %s", cfg.Redis.CacheTTL)
	}
	if !cfg.Keeper.Enabled || cfg.Keeper.Account != "keeper" {
		t.Errorf("unexpected keeper config: %+v", cfg.Keeper)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FUND_SERVER_ADDR", ":9090")
	t.Setenv("FUND_DATABASE_URL", "postgres://fund@localhost/fund")
	t.Setenv("FUND_FUND_INVERSED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Server.Addr)
	}
	if cfg.Database.URL != "postgres://fund@localhost/fund" {
		t.Errorf("unexpected database url %q", cfg.Database.URL)
	}
	if !cfg.Fund.Inversed {
		t.Error("expected inversed fund")
	}
}

func TestLoad_FileAndParameters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fund.yaml")
	yaml := `
fund:
  account: btc-3x
  capacity: "5000"
parameters:
  redeemingLockPeriod: 24h
  streamingFeeRate: "0.02"
  drawdownHighWaterMark: "0.5"
keeper:
  enabled: false
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Fund.Account != "btc-3x" || cfg.Fund.Capacity != "5000" {
		t.Errorf("unexpected fund config: %+v", cfg.Fund)
	}
	if cfg.Keeper.Enabled {
		t.Error("expected keeper disabled")
	}

	p, err := cfg.FundParams()
	if err != nil {
		t.Fatal(err)
	}
	if p.RedeemingLockPeriod != 24*time.Hour {
		t.Errorf("expected 24h lock, got %s", p.RedeemingLockPeriod)
	}
	if !p.StreamingFeeRate.Equal(decimal.RequireFromString("0.02")) {
		t.Errorf("expected streaming fee 0.02, got %s", p.StreamingFeeRate)
	}
	if !p.DrawdownHighWaterMark.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("expected drawdown mark 0.5, got %s", p.DrawdownHighWaterMark)
	}
}

func TestFundParams_RejectsBadEntries(t *testing.T) {
	cfg := Config{Parameters: map[string]string{"bogus": "1"}}
	if _, err := cfg.FundParams(); !errors.Is(err, params.ErrUnrecognizedKey) {
		t.Errorf("expected ErrUnrecognizedKey, got %v", err)
	}

	cfg = Config{Parameters: map[string]string{"entrancefeerate": "1.5"}}
	if _, err := cfg.FundParams(); !errors.Is(err, params.ErrRateTooLarge) {
		t.Errorf("expected ErrRateTooLarge, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for in, want := range cases {
		if got := (LogConfig{Level: in}).SlogLevel(); got != want {
			t.Errorf("%q: expected %s, got %s", in, want, got)
		}
	}
}
