// Package rpcserver hosts the JSON-RPC 2.0 surface over
// github.com/labstack/echo/v4: providelistyuvproofs, getrawyuvtransaction,
// getlistrawyuvtransactions, sendrawyuvtransaction, isyuvtxoutfrozen.
package rpcserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"yuvprotocol.org/node/bitcoinrpc"
	"yuvprotocol.org/node/storage"
)

// Config bounds the JSON-RPC surface's behavior.
type Config struct {
	BindAddr string
	PageSize int
}

// Submitter is the controller-side surface the RPC handlers drive,
// decoupling this package from the controller/P2P wiring.
type Submitter interface {
	// ProvideProofs routes a YUV transaction (already presumed present on
	// Bitcoin, or about to be) through the checker and attacher without
	// broadcasting it — providelistyuvproofs.
	ProvideProofs(ctx context.Context, raw []byte, proofs RawProofs) error
	// SubmitTx broadcasts raw to Bitcoin via the configured RPC client and
	// then calls ProvideProofs with the same proofs — sendrawyuvtransaction.
	SubmitTx(ctx context.Context, raw []byte, proofs RawProofs) error
}

// Server wires the storage contract and a Submitter to the JSON-RPC 2.0
// handler, the way iotaledger-hornet's restapi component wires its route
// manager to the Echo instance.
type Server struct {
	echo   *echo.Echo
	cfg    Config
	store  storage.Store
	submit Submitter
	chain  bitcoinrpc.Client
	log    *zap.Logger
}

func New(cfg Config, store storage.Store, submit Submitter, chain bitcoinrpc.Client, log *zap.Logger) *Server {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(log))

	s := &Server{echo: e, cfg: cfg, store: store, submit: submit, chain: chain, log: log}
	e.POST("/", s.handleJSONRPC)
	return s
}

// Echo exposes the underlying router so other components (the metrics
// endpoint) can register additional routes on the same listener.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// requestLogger mirrors the teacher's zap-based structured logging applied
// to every indexer/attacher pass, extended here to HTTP requests.
func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			log.Debug("rpc request",
				zap.String("remote", c.RealIP()),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	}
}

// Start serves forever on cfg.BindAddr until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.cfg.BindAddr); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
