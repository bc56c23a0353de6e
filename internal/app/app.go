package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mymmrac/telego"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"cookcoin-bot/internal/bot"
	"cookcoin-bot/internal/config"
	"cookcoin-bot/internal/database"
	"cookcoin-bot/internal/metrics"
	"cookcoin-bot/internal/onboarding"
	"cookcoin-bot/internal/referral"
	"cookcoin-bot/internal/relay"
	"cookcoin-bot/internal/store"
	"cookcoin-bot/internal/webapp"
	"cookcoin-bot/internal/worker"
)

type App struct {
	cfg        *config.Config
	log        *zap.Logger
	db         *gorm.DB
	rdb        *redis.Client
	bot        *bot.Bot
	httpSrv    *http.Server
	reconciler *worker.Reconciler
}

// New connects to the databases and wires every component.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	db, err := database.ConnectPostgres(cfg, log)
	if err != nil {
		return nil, err
	}

	var dedup relay.Deduper = relay.NewMemoryDeduper()
	var rdb *redis.Client
	if cfg.RedisEnabled {
		if rdb, err = database.ConnectRedis(ctx, cfg, log); err != nil {
			return nil, err
		}
		dedup = relay.NewRedisDeduper(rdb, "cookcoin:")
	}

	tgBot, err := telego.NewBot(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	users := store.New(db)
	policy := referral.DefaultPolicy()
	policy.MaxDepth = cfg.ReferralMaxDepth
	policy.RepeatAwards = cfg.ReferralRepeatAwards
	engine := referral.NewEngine(users, policy, m, log)

	flow := onboarding.NewFlow(users, engine, relay.NewTelegramSender(tgBot), dedup, m, log, onboarding.Config{
		VerificationBonus: cfg.VerificationBonus,
		NotifyDedupTTL:    cfg.NotifyDedupTTL,
	})

	api := webapp.NewHandler(engine, users, cfg.AllowedWebAppCIDRs, log)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(reg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		db:      db,
		rdb:     rdb,
		bot:     bot.NewBot(tgBot, flow, cfg.BotUsername, cfg.WebAppURL, log),
		httpSrv: srv,
	}
	// Re-evaluation pays again in repeat mode, so the sweep only runs when
	// tiers are paid once.
	if !policy.RepeatAwards {
		a.reconciler = worker.NewReconciler(users, engine, cfg.ReconcileInterval, log)
	}
	return a, nil
}

// Run blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting cookcoin-bot",
		zap.String("http", a.cfg.HTTPAddr),
		zap.Bool("repeat_awards", a.cfg.ReferralRepeatAwards),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.bot.Start(ctx)
	})

	g.Go(func() error {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.httpSrv.Shutdown(shCtx); err != nil {
			a.log.Warn("http server shutdown error", zap.Error(err))
		}
		return nil
	})

	if a.reconciler != nil {
		g.Go(func() error {
			return a.reconciler.Run(ctx)
		})
	}

	err := g.Wait()
	a.close()
	return err
}

func (a *App) close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Warn("redis close error", zap.Error(err))
		}
	}
	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.log.Warn("database close error", zap.Error(err))
		}
	}
}
