// Package status serves the local read-mostly HTTP view of a running peer.
package status

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/onionchat/internal/auth"
	"github.com/danmuck/onionchat/internal/buddy"
	"github.com/danmuck/onionchat/internal/observability"
	"github.com/danmuck/onionchat/internal/torproc"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const shutdownGrace = 5 * time.Second

// ProxyState is the view of the connectivity supervisor exposed on /proxy.
type ProxyState interface {
	Profile() torproc.Profile
	Running() bool
	Generation() uint64
	LocalAddress() string
}

type Config struct {
	Addr        string
	Token       string
	CorsOrigins []string
	Version     string
}

type Server struct {
	cfg     Config
	list    *buddy.List
	proxy   ProxyState
	router  *gin.Engine
	started time.Time
}

// ProxyInfo is the /proxy response body.
type ProxyInfo struct {
	Profile      string `json:"profile"`
	SocksAddr    string `json:"socks_addr"`
	Running      bool   `json:"running"`
	Generation   uint64 `json:"generation"`
	LocalAddress string `json:"local_address,omitempty"`
}

func New(cfg Config, list *buddy.List, proxy ProxyState) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AccessLog(log.Logger, "/health", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  normalizeOrigins(cfg.CorsOrigins),
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", observability.RequestIDHeader},
		ExposeHeaders: []string{observability.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:     cfg,
		list:    list,
		proxy:   proxy,
		router:  r,
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(s.started).String(),
			"hostname": s.list.Hostname(),
			"version":  s.cfg.Version,
		})
	})

	routes := s.router.Group("")
	if strings.TrimSpace(s.cfg.Token) != "" {
		routes.Use(auth.Middleware(auth.StaticToken{Token: s.cfg.Token}))
	}

	routes.GET("/metrics", gin.WrapH(promhttp.Handler()))

	routes.GET("/buddies", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"buddies": s.list.Buddies()})
	})

	routes.GET("/connections", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"connections": s.list.Connections()})
	})

	routes.GET("/proxy", func(c *gin.Context) {
		if s.proxy == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no proxy supervisor"})
			return
		}
		c.JSON(http.StatusOK, s.proxyInfo())
	})

	routes.POST("/status", func(c *gin.Context) {
		var body struct {
			Status string `json:"status"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		st, ok := buddy.ParseStatus(body.Status)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + body.Status})
			return
		}
		s.list.SetStatus(st)
		c.JSON(http.StatusOK, gin.H{"status": st.String()})
	})

	routes.POST("/buddies/:address/message", func(c *gin.Context) {
		var body struct {
			Text string `json:"text"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.Text == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "text required"})
			return
		}
		err := s.sendChat(c.Param("address"), body.Text)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, buddy.ErrUnknownBuddy):
				status = http.StatusNotFound
			case errors.Is(err, buddy.ErrNoConnection):
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "sent"})
	})
}

func (s *Server) sendChat(address, text string) error {
	b, ok := s.list.Get(address)
	if !ok {
		return buddy.ErrUnknownBuddy
	}
	if b.Status() < buddy.StatusOnline {
		return buddy.ErrNoConnection
	}
	if err := b.SendChat(text); err != nil {
		log.Warn().Str("address", b.Address()).Err(err).Msg("status.Server.sendChat")
		return err
	}
	return nil
}

func (s *Server) proxyInfo() ProxyInfo {
	p := s.proxy.Profile()
	return ProxyInfo{
		Profile:      p.Name,
		SocksAddr:    p.SocksAddr(),
		Running:      s.proxy.Running(),
		Generation:   s.proxy.Generation(),
		LocalAddress: s.proxy.LocalAddress(),
	}
}

// Serve listens on cfg.Addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("status.Server.Serve listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("status.Server.Serve shutdown")
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
