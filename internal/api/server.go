// Package api exposes the trading session to the UI over HTTP and a WebSocket stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"spotdex/internal/domain"
	"spotdex/internal/exchange"
	"spotdex/internal/lifecycle"
	"spotdex/internal/orchestrator"
	"spotdex/internal/registry"
)

const shutdownTimeout = 10 * time.Second

// Session is the trade controller surface. *orchestrator.Orchestrator satisfies it.
type Session interface {
	Snapshot() orchestrator.Snapshot
	Connect(ctx context.Context, trader common.Address) (orchestrator.Snapshot, error)
	Disconnect() orchestrator.Snapshot
	SelectFromToken(ctx context.Context, symbol string) (orchestrator.Snapshot, error)
	SelectToToken(ctx context.Context, symbol string) (orchestrator.Snapshot, error)
	SetFromAmount(ctx context.Context, amount string) orchestrator.Snapshot
	SetToAmount(ctx context.Context, amount string) orchestrator.Snapshot
	SetMaxAmount(ctx context.Context) (orchestrator.Snapshot, error)
	Primary(ctx context.Context, version uint64) (*orchestrator.Submission, error)
	Approve(ctx context.Context, version uint64) (*orchestrator.Submission, error)
	PlaceOrder(ctx context.Context, version uint64) (*orchestrator.Submission, error)
	SettleOrder(ctx context.Context) (*orchestrator.Submission, error)
}

// Orders exposes the tracked order. *lifecycle.Monitor satisfies it.
type Orders interface {
	Snapshot() lifecycle.Snapshot
}

// Tokens lists the registry.
type Tokens interface {
	All() map[string]domain.Token
}

// Config holds the dependencies of a Server.
type Config struct {
	Session Session
	Orders  Orders
	Tokens  Tokens
	// Hub serves GET /ws. Optional.
	Hub *Hub
	// MetricsPath mounts the Prometheus handler when non-empty.
	MetricsPath string
	// Logger is the logger instance. If nil, a no-op logger is used.
	Logger *zap.Logger
}

// Server routes UI requests to the session.
type Server struct {
	session Session
	orders  Orders
	tokens  Tokens
	hub     *Hub
	logger  *zap.Logger
	router  *gin.Engine
}

// NewServer creates a server and builds its router.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		session: cfg.Session,
		orders:  cfg.Orders,
		tokens:  cfg.Tokens,
		hub:     cfg.Hub,
		logger:  logger,
	}
	s.router = s.buildRouter(cfg.MetricsPath)
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) buildRouter(metricsPath string) *gin.Engine {
	router := gin.New()
	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/tokens", s.handleTokens)
	router.GET("/order", s.handleOrder)

	session := router.Group("/session")
	session.GET("", s.handleSession)
	session.POST("/connect", s.handleConnect)
	session.POST("/disconnect", s.handleDisconnect)
	session.PUT("/from", s.handleSelectFrom)
	session.PUT("/to", s.handleSelectTo)
	session.PUT("/amount", s.handleAmount)
	session.POST("/max", s.handleMax)

	actions := router.Group("/actions")
	actions.POST("/primary", s.handleAction(s.session.Primary))
	actions.POST("/approve", s.handleAction(s.session.Approve))
	actions.POST("/place", s.handleAction(s.session.PlaceOrder))
	actions.POST("/settle", s.handleAction(func(ctx context.Context, _ uint64) (*orchestrator.Submission, error) {
		return s.session.SettleOrder(ctx)
	}))

	if s.hub != nil {
		router.GET("/ws", gin.WrapH(s.hub))
	}
	if metricsPath != "" {
		router.GET(metricsPath, gin.WrapH(promhttp.Handler()))
	}
	return router
}

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) handleTokens(c *gin.Context) {
	all := s.tokens.All()
	resp := make(map[string]tokenResponse, len(all))
	for sym, t := range all {
		resp[sym] = newTokenResponse(t)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleOrder(c *gin.Context) {
	c.JSON(http.StatusOK, newOrderResponse(s.orders.Snapshot()))
}

func (s *Server) handleSession(c *gin.Context) {
	c.JSON(http.StatusOK, newSessionResponse(s.session.Snapshot()))
}

func (s *Server) handleConnect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if !common.IsHexAddress(req.Trader) {
		s.badRequest(c, fmt.Errorf("invalid trader address %q", req.Trader))
		return
	}

	snap, err := s.session.Connect(c.Request.Context(), common.HexToAddress(req.Trader))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(snap))
}

func (s *Server) handleDisconnect(c *gin.Context) {
	c.JSON(http.StatusOK, newSessionResponse(s.session.Disconnect()))
}

func (s *Server) handleSelectFrom(c *gin.Context) {
	s.handleSelect(c, s.session.SelectFromToken)
}

func (s *Server) handleSelectTo(c *gin.Context) {
	s.handleSelect(c, s.session.SelectToToken)
}

func (s *Server) handleSelect(c *gin.Context, selectFn func(context.Context, string) (orchestrator.Snapshot, error)) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	snap, err := selectFn(c.Request.Context(), req.Symbol)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(snap))
}

func (s *Server) handleAmount(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	var snap orchestrator.Snapshot
	switch req.Side {
	case "", "from":
		snap = s.session.SetFromAmount(c.Request.Context(), req.Amount)
	case "to":
		snap = s.session.SetToAmount(c.Request.Context(), req.Amount)
	default:
		s.badRequest(c, fmt.Errorf("side must be \"from\" or \"to\", got %q", req.Side))
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(snap))
}

func (s *Server) handleMax(c *gin.Context) {
	snap, err := s.session.SetMaxAmount(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(snap))
}

type actionFunc func(ctx context.Context, version uint64) (*orchestrator.Submission, error)

// handleAction submits a write. The body is optional.
func (s *Server) handleAction(fn actionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req actionRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				s.badRequest(c, err)
				return
			}
		}

		sub, err := fn(c.Request.Context(), req.Version)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, newSubmissionResponse(sub))
	}
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, errorResponse{Error: err.Error()})
}

// statusFor maps session errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrNotConnected):
		return http.StatusUnauthorized
	case errors.Is(err, orchestrator.ErrActionInFlight),
		errors.Is(err, orchestrator.ErrStaleAction):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrActionNotAvailable),
		errors.Is(err, orchestrator.ErrSignerMismatch),
		errors.Is(err, exchange.ErrNoSigner),
		errors.Is(err, registry.ErrUnknownToken):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
