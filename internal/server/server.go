// Package server exposes the operational HTTP surface of the invoicing service: liveness,
// readiness and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/invoicing/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const readinessTimeout = 2 * time.Second

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	DB     *gorm.DB        `optional:"true"`
	Router *message.Router `optional:"true"`
}

// NewEngine builds the gin engine serving /health, /ready and /metrics.
func NewEngine(p Params) *gin.Engine {
	if p.Config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log.Named("http")))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", readyHandler(p.DB, p.Router))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func readyHandler(db *gorm.DB, router *message.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}
		ready := true

		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
			err := ping(ctx, db)
			cancel()
			if err != nil {
				c.Error(err)
				checks["database"] = "unavailable"
				ready = false
			} else {
				checks["database"] = "ok"
			}
		}

		if router != nil {
			select {
			case <-router.Running():
				checks["listener"] = "ok"
			default:
				checks["listener"] = "starting"
				ready = false
			}
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": ready, "checks": checks})
	}
}

func ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Run serves the engine on the configured metrics address for the lifetime of the application.
func Run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server.listen_failed", zap.String("addr", cfg.MetricsAddr), zap.Error(err))
				}
			}()
			log.Info("server.started", zap.String("addr", cfg.MetricsAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
