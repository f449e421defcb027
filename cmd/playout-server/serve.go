package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edirooss/playout-server/internal/http/handler"
	mw "github.com/edirooss/playout-server/internal/http/middleware"
	"github.com/edirooss/playout-server/internal/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	log := a.log.Named("main")

	// Boot-time reconciliation: recreate units/configs removed while we were down.
	if a.cfg.ReconcileOnStart {
		if err := a.prov.Reconcile(ctx); err != nil {
			log.Warn("reconcile finished with errors", zap.Error(err))
		}
	}

	if a.cfg.ReconcileSchedule != "" {
		stop, err := a.prov.ScheduleReconcile(ctx, a.cfg.ReconcileSchedule)
		if err != nil {
			return err
		}
		defer stop()
	}
	if a.cfg.WatchDrift {
		if err := a.prov.WatchDrift(ctx, a.units.Dir(), 0); err != nil {
			log.Warn("drift watch disabled", zap.Error(err))
		}
	}

	httpsrv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           newRouter(a),
		ReadHeaderTimeout: 2 * time.Second,  // kills header-drip Slowloris
		ReadTimeout:       10 * time.Second, // full request read (incl. body)
		WriteTimeout:      15 * time.Second, // avoid forever-hangs on writes
		IdleTimeout:       60 * time.Second, // keep-alive cap
		MaxHeaderBytes:    1 << 20,          // 1MB cap
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("running HTTP server", zap.String("addr", httpsrv.Addr))
		errCh <- httpsrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpsrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("graceful shutdown failed", zap.Error(err))
		}
	}
	log.Info("server closed")
	return nil
}

func newRouter(a *app) *gin.Engine {
	log := a.log.Named("http")

	if !a.cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = zap.NewStdLog(log.Named("gin")).Writer() // Configure Gin's logger to use Zap
	r := gin.New()

	{
		r.Use(gin.Recovery()) // Recovery first (outermost)
		r.Use(mw.RequestID()) // Attach request ID for tracing; early in the chain so it's available everywhere

		if a.cfg.IsDev() { // Enable CORS for a local UI dev server
			r.Use(cors.New(cors.Config{
				AllowOrigins:     []string{"http://localhost:5173", "http://localhost:3000", "http://127.0.0.1:3000"},
				AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowHeaders:     []string{"X-Request-ID", "Content-Type"},
				ExposeHeaders:    []string{"X-Request-ID", "X-Total-Count", "Location"},
				AllowCredentials: true,
				MaxAge:           12 * time.Hour,
			}))
		} else { // Behind Nginx + TLS
			r.SetTrustedProxies([]string{"127.0.0.1", a.cfg.ServerAddr})
			r.Use(secure.New(secure.Config{
				SSLProxyHeaders: map[string]string{
					"X-Forwarded-Proto": "https",
				},
				ContentTypeNosniff: true,
				FrameDeny:          true,
			}))
		}

		r.Use(mw.AccessLog(log))
		r.Use(mw.LimitConcurrentRequests(a.cfg.MaxConcurrentRequests))
	}

	r.GET("/api/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	summary := service.NewSummaryService(log, a.store, a.units, service.SummaryOptions{AllowStaleOnError: true})
	settingshndlr := handler.NewSettingsHandler(log, a.prov, a.store, summary)
	{
		// --- Settings collection ---
		r.POST("/api/player/settings", settingshndlr.CreateSettings) // provision one
		r.GET("/api/player/settings", settingshndlr.GetSettingsList) // get list
		r.GET("/api/player/settings/summary", settingshndlr.Summary) // get list with on-disk state

		// --- Settings resource ---
		requireValidID := mw.RequireValidID()
		r.GET("/api/player/settings/:id", requireValidID, settingshndlr.GetSettings)       // get one
		r.PUT("/api/player/settings/:id", requireValidID, settingshndlr.ReplaceSettings)   // reprovision (replace/full-update)
		r.PATCH("/api/player/settings/:id", requireValidID, settingshndlr.ModifySettings)  // reprovision (modify/partial-update)
		r.DELETE("/api/player/settings/:id", requireValidID, settingshndlr.DeleteSettings) // delete record
	}

	netifhndlr := handler.NewNetIfHandler(log, service.NewNetIfLister(service.NetIfListerOptions{}))
	r.GET("/api/system/net-interfaces", netifhndlr.GetNetIfList) // choices for net_interface

	return r
}
