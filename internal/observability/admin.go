package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/amprelay/internal/node"
	"github.com/danmuck/amprelay/internal/relay"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NodeSource is the node surface read by the admin server.
type NodeSource interface {
	Status() node.Status
}

// Admin serves health, readiness, stats and metrics for one core.
type Admin struct {
	core    string
	addr    string
	src     NodeSource
	metrics *Metrics
	router  *gin.Engine
	started time.Time
	log     zerolog.Logger
}

func NewAdmin(addr string, src NodeSource, corsOrigins []string, logger zerolog.Logger) *Admin {
	gin.SetMode(gin.ReleaseMode)
	core := src.Status().Name
	metrics := NewMetrics(core, statsOf{src})

	a := &Admin{
		core:    core,
		addr:    addr,
		src:     src,
		metrics: metrics,
		started: time.Now(),
		log:     logger,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(a.observe())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a.router = r
	a.registerRoutes()
	return a
}

func (a *Admin) Handler() http.Handler {
	return a.router
}

func (a *Admin) Metrics() *Metrics {
	return a.metrics
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		st := a.src.Status()
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.started).String(),
			"core":    st.Name,
			"role":    st.Relay.Role,
			"boot_id": st.BootID,
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		st := a.src.Status()
		ready := st.Relay.Initialized && st.Bound
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":       ready,
			"initialized": st.Relay.Initialized,
			"bound":       st.Bound,
			"core":        st.Name,
		})
	})

	a.router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.src.Status())
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.metrics.Registry, promhttp.HandlerOpts{})))
}

// Serve listens on the configured address until ctx is done.
func (a *Admin) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.addr).Msg("admin server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

type statsOf struct {
	src NodeSource
}

func (s statsOf) Stats() relay.Stats {
	return s.src.Status().Relay
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
