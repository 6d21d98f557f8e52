// Package server exposes the accounts over a small JSON HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rustyeddy/tradekeeper/account"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	accounts map[string]*account.Account
	ids      []string
	log      *zap.Logger
	engine   *gin.Engine
}

// New builds the router over accts. The gin mode is global and is left to
// the caller.
func New(accts []*account.Account, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		accounts: make(map[string]*account.Account, len(accts)),
		log:      log.Named("http"),
		engine:   gin.New(),
	}
	for _, a := range accts {
		s.accounts[a.ID()] = a
		s.ids = append(s.ids, a.ID())
	}
	sort.Strings(s.ids)

	s.engine.Use(gin.Recovery())
	s.engine.Use(s.requestLogger())
	s.register(s.engine)
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) register(r *gin.Engine) {
	r.GET("/healthz", s.health)

	g := r.Group("/api/v1/accounts")
	g.GET("", s.listAccounts)

	a := g.Group("/:id", s.loadAccount)
	a.GET("/positions", s.positions)
	a.GET("/trades", s.trades)
	a.GET("/trades/:trade_id", s.trade)
	a.GET("/stats", s.stats)
	a.GET("/export", s.export)
	a.POST("/reconcile", s.reconcile)
	a.POST("/admission", s.admission)
	a.POST("/orders", s.registerOrder)
	a.GET("/reservations/:symbol", s.reservations)
	a.DELETE("/reservations/:symbol", s.releaseReservation)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.log.Info("http server stopping")
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "accounts": len(s.ids)})
}

func (s *Server) listAccounts(c *gin.Context) {
	Ok(c, s.ids, nil)
}

const accountKey = "account"

func (s *Server) loadAccount(c *gin.Context) {
	a, ok := s.accounts[c.Param("id")]
	if !ok {
		Error(c, http.StatusNotFound, "unknown account "+c.Param("id"), nil)
		c.Abort()
		return
	}
	c.Set(accountKey, a)
	c.Next()
}

func current(c *gin.Context) *account.Account {
	return c.MustGet(accountKey).(*account.Account)
}
