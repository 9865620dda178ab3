package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/fund-engine/internal/api"
	"github.com/atmx/fund-engine/internal/collateral"
	"github.com/atmx/fund-engine/internal/config"
	"github.com/atmx/fund-engine/internal/events"
	"github.com/atmx/fund-engine/internal/fund"
	"github.com/atmx/fund-engine/internal/keeper"
	"github.com/atmx/fund-engine/internal/metrics"
	"github.com/atmx/fund-engine/internal/perpetual"
	"github.com/atmx/fund-engine/internal/store"
	"github.com/atmx/fund-engine/internal/strategy"
)

// targetLeverageStrategy is the registry name of the built-in strategy.
const targetLeverageStrategy = "target-leverage"

func main() {
	cfg, err := config.Load(os.Getenv("FUND_CONFIG"))
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if cfg.Database.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				slog.Error("database migration failed", "err", err)
				os.Exit(1)
			}
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Simulated Position Service and collateral wallet ---
	mark, err := config.Decimal("simulator.mark_price", cfg.Simulator.MarkPrice)
	if err != nil {
		slog.Error("invalid simulator config", "err", err)
		os.Exit(1)
	}
	imr, err := config.Decimal("simulator.initial_margin_rate", cfg.Simulator.InitialMarginRate)
	if err != nil {
		slog.Error("invalid simulator config", "err", err)
		os.Exit(1)
	}
	venue, err := perpetual.New(mark, imr)
	if err != nil {
		slog.Error("simulator init failed", "err", err)
		os.Exit(1)
	}

	scaler, err := collateral.NewScaler(cfg.Fund.CollateralDecimals)
	if err != nil {
		slog.Error("invalid collateral decimals", "err", err)
		os.Exit(1)
	}
	wallet := collateral.NewMemoryWallet(scaler)
	for holder, raw := range cfg.Simulator.Wallets {
		amount, err := config.Decimal("simulator.wallets."+holder, raw)
		if err == nil {
			err = wallet.Credit(holder, amount)
		}
		if err != nil {
			slog.Error("wallet seed failed", "holder", holder, "err", err)
			os.Exit(1)
		}
	}

	// --- Strategies ---
	targetLeverage, err := config.Decimal("fund.target_leverage", cfg.Fund.TargetLeverage)
	if err != nil {
		slog.Error("invalid fund config", "err", err)
		os.Exit(1)
	}
	strategies, err := strategy.NewRegistry(
		strategy.NewLeverageStrategy(targetLeverageStrategy, strategy.NewStaticSignal(targetLeverage)),
	)
	if err != nil {
		slog.Error("strategy registry failed", "err", err)
		os.Exit(1)
	}

	// --- Event fan-out ---
	hub := events.NewHub(logger)
	go hub.Run(ctx)
	publishers := events.Multi{hub}

	if cfg.NATS.URL != "" {
		np, err := events.ConnectNATS(cfg.NATS.URL, logger)
		if err != nil {
			slog.Error("nats connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { np.Close() })
		publishers = append(publishers, np)
		slog.Info("NATS publishing enabled", "subject", events.SubjectPrefix+"*")
	}

	// --- Fund ---
	fundParams, err := cfg.FundParams()
	if err != nil {
		slog.Error("invalid fund parameters", "err", err)
		os.Exit(1)
	}
	capacity, err := config.Decimal("fund.capacity", cfg.Fund.Capacity)
	if err != nil {
		slog.Error("invalid fund config", "err", err)
		os.Exit(1)
	}
	settlementSlippage, err := config.Decimal("fund.settlement_slippage", cfg.Fund.SettlementSlippage)
	if err != nil {
		slog.Error("invalid fund config", "err", err)
		os.Exit(1)
	}

	f, err := fund.New(fund.Config{
		Account:            cfg.Fund.Account,
		Administrator:      cfg.Fund.Administrator,
		Manager:            cfg.Fund.Manager,
		Maintainer:         cfg.Fund.Maintainer,
		Capacity:           capacity,
		Scaler:             scaler,
		Inversed:           cfg.Fund.Inversed,
		Params:             fundParams,
		SettlementSlippage: settlementSlippage,
	}, venue, venue, wallet,
		fund.WithJournal(st),
		fund.WithPublisher(publishers),
		fund.WithLogger(logger),
		fund.WithStrategies(strategies),
	)
	if err != nil {
		slog.Error("fund init failed", "err", err)
		os.Exit(1)
	}
	slog.Info("fund ready",
		"account", f.AccountName(),
		"administrator", f.Administrator(),
		"manager", f.Manager(),
		"capacity", capacity.String(),
		"strategies", strategies.Names(),
	)

	// --- Keeper ---
	if cfg.Keeper.Enabled {
		k, err := keeper.New(ctx, keeper.Config{
			Account:            cfg.Keeper.Account,
			EmergencyWatchSpec: cfg.Keeper.EmergencyWatch,
			NAVSnapshotSpec:    cfg.Keeper.NAVSnapshot,
			JobTimeout:         cfg.Keeper.JobTimeout,
		}, f, st, logger)
		if err != nil {
			slog.Error("keeper init failed", "err", err)
			os.Exit(1)
		}
		k.Start()
		defer k.Stop()
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+api.AccountHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"fund-engine","state":%q}`, f.Status().String())
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	handler := api.NewHandler(f, st, api.WithSimulator(venue, wallet), api.WithLogger(logger))
	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for fund events.
		r.Get("/ws", hub.HandleWS)
		handler.Register(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("fund-engine listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down fund-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	stop()
	fmt.Println("fund-engine stopped")
}
