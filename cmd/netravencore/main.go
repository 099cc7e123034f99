// Package main is the entry point for netravencore, the job execution core
// that ties C1 through C9 together: the catalog, queue broker, vault,
// worker pool, schedule dispatcher and log store. Grounded on the
// teacher's cli.RootCmd (cobra root command + viper configuration +
// graceful shutdown of a background Echo server), generalized here to
// start the dispatcher and worker pool as the long-running background
// loops instead of an HTTP API, with a minimal Echo server left in for
// liveness/readiness checks only.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/netraven/core/catalog"
	"github.com/netraven/core/config"
	"github.com/netraven/core/device"
	"github.com/netraven/core/dispatcher"
	"github.com/netraven/core/logstore"
	qredis "github.com/netraven/core/queue/redis"
	"github.com/netraven/core/vault"
	"github.com/netraven/core/worker"
)

var healthAddr string

// rootCmd is the application entry point: load config, wire every
// component, run the dispatcher and worker pool until a shutdown signal
// arrives.
var rootCmd = &cobra.Command{
	Use:   "netravencore",
	Short: "runs the netravencore job execution core",
	Long: `netravencore schedules and executes network device jobs: recurring
backups, reachability checks and ad-hoc commands, dispatched onto a
priority queue and fanned out across devices by a bounded worker pool.`,
	RunE: run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&healthAddr, "health-addr", ":8080", "address for the liveness/readiness HTTP endpoint")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalogStore, err := catalog.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer catalogStore.Close()

	broker, err := qredis.New(ctx, qredis.Config{RedisURL: cfg.QueueURL})
	if err != nil {
		return err
	}
	defer broker.Close()

	v := vault.New()
	bootstrapKey := vault.DeriveKey("bootstrap", cfg.EncryptionSalt)
	v.AddKey(bootstrapKey)
	if err := v.Activate(bootstrapKey.ID); err != nil {
		return err
	}

	logs, err := logstore.NewFromConfig(catalogStore, cfg)
	if err != nil {
		return err
	}
	logrus.AddHook(logs)
	reaper := logstore.NewReaper(logs, cfg.LogRetention, cfg.SessionLogRetention, time.Hour)
	go reaper.Run(ctx)

	factories := map[catalog.TransportKind]device.Factory{
		catalog.TransportSSH:    func() device.Adapter { return device.NewSSHAdapter(nil, "#") },
		catalog.TransportTelnet: func() device.Adapter { return device.NewTelnetAdapter("login:", "Password:", "#") },
		catalog.TransportREST:   func() device.Adapter { return device.NewRESTAdapter(false) },
	}

	workerCfg := worker.DefaultConfig()
	workerCfg.Concurrency = cfg.WorkerConcurrency
	workerCfg.DefaultFanout = cfg.DeviceFanout
	workerCfg.ReachTimeout = cfg.ReachabilityDialTimeout
	workerCfg.OpenTimeout = cfg.SessionOpenTimeout
	workerCfg.CommandTimeout = cfg.CommandTimeout
	workerCfg.Backoff.MaxRetries = cfg.RetryMax
	workerCfg.Backoff.BaseDelay = cfg.RetryBaseDelay

	pool := worker.New(broker, catalogStore, v, worker.DefaultCommands{}, factories, workerCfg)
	pool.Start(ctx)
	defer pool.Stop()

	disp := dispatcher.New(catalogStore, broker, dispatcher.DefaultConfig())
	go func() {
		if err := disp.Run(ctx); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Error("dispatcher exited unexpectedly")
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/readyz", func(c echo.Context) error {
		if err := catalogStore.Pool().Ping(c.Request().Context()); err != nil {
			return c.String(http.StatusServiceUnavailable, "not ready")
		}
		return c.String(http.StatusOK, "ready")
	})

	go func() {
		if err := e.Start(healthAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("health endpoint stopped")
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
