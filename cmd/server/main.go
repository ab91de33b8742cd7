package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oussamajomaa/mont-vert/internal/audit"
	"github.com/oussamajomaa/mont-vert/internal/cache"
	"github.com/oussamajomaa/mont-vert/internal/config"
	"github.com/oussamajomaa/mont-vert/internal/dashboard"
	"github.com/oussamajomaa/mont-vert/internal/database"
	"github.com/oussamajomaa/mont-vert/internal/logging"
	"github.com/oussamajomaa/mont-vert/internal/mealplan"
	"github.com/oussamajomaa/mont-vert/internal/recipe"
	"github.com/oussamajomaa/mont-vert/internal/reservation"
	"github.com/oussamajomaa/mont-vert/internal/server"
	"github.com/oussamajomaa/mont-vert/internal/stock"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	warnings, err := cfg.Validate()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	db, err := database.Open(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("database unavailable")
	}

	st := stock.NewEngine(db, stock.Policy{AutoArchiveOnEmpty: cfg.LotAutoArchive}, log)
	res := reservation.NewEngine(st, log)

	// Dashboard cache is optional: without Redis every overview hits the database.
	var overviewCache dashboard.Cache
	if cfg.RedisAddr != "" {
		rc := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rc.Ping(ctx)
		cancel()
		if err != nil {
			log.WithError(err).Warn("redis unreachable, dashboard cache disabled")
			_ = rc.Close()
		} else {
			defer rc.Close()
			overviewCache = rc
			server.InvalidateOn(st, rc.Bump, log)
			log.WithField("addr", cfg.RedisAddr).Info("dashboard cache enabled")
		}
	}

	rate, err := limiter.NewRateFromFormatted(cfg.LoginRate)
	if err != nil {
		log.WithError(err).Fatal("invalid LOGIN_RATE")
	}

	app := server.New(server.Deps{
		DB:           db,
		Log:          log,
		JWTSecret:    cfg.JWTSecret,
		CORSOrigins:  cfg.CORSOriginList(),
		LoginLimiter: limiter.New(memory.NewStore(), rate),
		Stock:        st,
		Reservations: res,
		Recipes:      recipe.NewService(db),
		Plans:        mealplan.NewService(st, res, log),
		Dashboard:    dashboard.NewService(st, overviewCache, cfg.DashboardCacheTTL, log),
		Audit:        audit.NewRecorder(db, log),
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Warn("shutdown")
		}
	}()

	log.WithField("port", cfg.HTTPPort).Info("server listening")
	if err := app.Listen(":" + cfg.HTTPPort); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
