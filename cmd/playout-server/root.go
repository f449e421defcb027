package main

import (
	"context"
	"fmt"
	"time"

	"github.com/edirooss/playout-server/internal/config"
	"github.com/edirooss/playout-server/internal/metrics"
	"github.com/edirooss/playout-server/internal/playoutcfg"
	"github.com/edirooss/playout-server/internal/repo/store"
	"github.com/edirooss/playout-server/internal/service"
	"github.com/edirooss/playout-server/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "playout-server",
		Short:         "Provision ffplayout channels: supervisor units, channel configs, settings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the server config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newProvisionCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

// app holds the wired components shared by commands.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	rdb      *redis.Client
	store    *store.SettingsStore
	units    *supervisor.Units
	prov     *service.Provisioner
	registry *prometheus.Registry
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := buildLogger(cfg.IsDev())

	rdb := buildRedisClient(cfg.RedisAddr, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}

	st, err := store.NewSettingsStore(ctx, log, rdb, cfg.KeyPrefix)
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("settings store: %w", err)
	}

	registry := prometheus.NewRegistry()
	units := supervisor.NewUnits(log, supervisor.Config{
		ConfDir:       cfg.Supervisor.ConfDir,
		Template:      cfg.Supervisor.Template,
		EngineCommand: cfg.Supervisor.EngineCommand,
		LogFile:       cfg.Supervisor.LogFile,
	})
	prov := service.NewProvisioner(log, units, st, metrics.New(registry), service.Options{
		BaselineConfig:  cfg.Playout.BaselineConfig,
		ReferenceConfig: cfg.Playout.ReferenceConfig,
		ReferenceID:     cfg.Playout.ReferenceID,
		Roots: playoutcfg.RootNames{
			Log:      cfg.Playout.LogRootNames,
			Playlist: cfg.Playout.PlaylistRootNames,
		},
		ReconcileWorkers: cfg.Playout.ReconcileWorkers,
	})

	return &app{cfg: cfg, log: log, rdb: rdb, store: st, units: units, prov: prov, registry: registry}, nil
}

func (a *app) Close() {
	_ = a.rdb.Close()
	_ = a.log.Sync()
}

func buildLogger(isDev bool) *zap.Logger {
	if !isDev {
		logConfig := zap.NewProductionConfig()
		logConfig.DisableStacktrace = true
		return zap.Must(logConfig.Build())
	}
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	logConfig.Level.SetLevel(zap.DebugLevel)
	return zap.Must(logConfig.Build())
}

func buildRedisClient(addr string, db int) *redis.Client {
	opts := &redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	}

	return redis.NewClient(opts)
}
