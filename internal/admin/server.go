// Package admin exposes a running node over HTTP: health, metrics, the peer
// directory, and raw send/receive on peer channels.
package admin

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/hsslink/internal/auth"
	"github.com/danmuck/hsslink/internal/node"
	"github.com/danmuck/hsslink/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Version is reported by /health and the CLI.
var Version = "0.1.0"

const (
	maxSendBody    = 64 * 1024
	maxReceiveSize = 4096
)

type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	node   *node.Node
	router *gin.Engine
	guard  auth.Validator
}

type Option func(*Server)

// WithValidator requires a bearer token on routes that write to the bus or
// rescan it.
func WithValidator(v auth.Validator) Option {
	return func(s *Server) {
		s.guard = v
	}
}

func New(id, addr string, n *node.Node, corsOrigins []string, opts ...Option) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:       id,
		Addr:     addr,
		Appeared: time.Now(),
		node:     n,
		router:   r,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) RegisterRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": Version,
			"started": s.node.Started(),
			"peers":   s.node.PeerCount(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/peers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"peers": s.node.Peers()})
	})

	s.router.POST("/reconcile", auth.Require(s.guard), func(c *gin.Context) {
		c.JSON(http.StatusOK, s.node.Reconcile())
	})

	s.router.GET("/peers/:index", func(c *gin.Context) {
		idx, ok := peerIndex(c)
		if !ok {
			return
		}
		info, ok := s.node.PeerInfo(idx)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrPeerUnavailable.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	})

	s.router.POST("/peers/:index/send", auth.Require(s.guard), func(c *gin.Context) {
		ch, ok := s.channel(c)
		if !ok {
			return
		}
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSendBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		multi, _ := strconv.ParseBool(c.Query("multi"))

		var sent int
		switch c.Query("mode") {
		case "echo":
			sent = ch.SendEcho(body)
		default:
			sent = ch.Send(body, multi)
		}
		status := http.StatusOK
		if sent == 0 && len(body) > 0 {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"sent":    sent,
			"length":  len(body),
			"retries": ch.Retries(),
		})
	})

	s.router.GET("/peers/:index/receive", func(c *gin.Context) {
		ch, ok := s.channel(c)
		if !ok {
			return
		}
		buf := make([]byte, maxReceiveSize)
		n := ch.Receive(buf)
		if n == 0 {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"bytes":   n,
			"message": hex.EncodeToString(buf[:n]),
		})
	})
}

var (
	ErrBadIndex        = errors.New("peer index must be a non-negative integer")
	ErrPeerUnavailable = errors.New("peer not found or not live")
)

// Serve runs the HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.Addr).Str("service", s.ID).Msg("admin.serve")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// channel resolves :index to the peer's channel, opening it on first use.
func (s *Server) channel(c *gin.Context) (*node.Channel, bool) {
	idx, ok := peerIndex(c)
	if !ok {
		return nil, false
	}
	if _, live := s.node.PeerInfo(idx); !live {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrPeerUnavailable.Error()})
		return nil, false
	}
	ch, ok := s.node.OpenChannel(idx)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrPeerUnavailable.Error()})
		return nil, false
	}
	return ch, true
}

func peerIndex(c *gin.Context) (int, bool) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrBadIndex.Error()})
		return 0, false
	}
	return idx, true
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
