package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xff16/relay"
	"github.com/xff16/relay/admin"
	"github.com/xff16/relay/internal/middleware"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	http  *http.Server
	admin *admin.Server
	gw    *relay.Gateway
	log   *zap.Logger
}

func NewServer(cfg relay.Config, log *zap.Logger) (*Server, error) {
	gw, err := relay.Build(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("build gateway: %w", err)
	}

	mux := http.NewServeMux()

	if cfg.Server.Metrics.Enabled {
		mux.Handle("/metrics", gw.Metrics.Handler())
	}

	mux.Handle("/", middleware.Chain(gw.Router, middlewares(cfg.Middlewares, log)...))

	s := &Server{
		gw:  gw,
		log: log,
		http: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:     mux,
			ReadTimeout: cfg.Server.Timeout.Std(),
			// Streaming upstream bodies can take longer than reading the request.
			WriteTimeout: 2 * cfg.Server.Timeout.Std(), //nolint:mnd // relative to read timeout
		},
	}

	if cfg.Admin.Enabled {
		s.admin = admin.NewServer(cfg.Admin, gw, log.Named("admin"),
			admin.WithHistory(gw.History),
			admin.WithConfig(&cfg),
		)
	}

	return s, nil
}

// middlewares returns the enabled middlewares, outermost first.
func middlewares(cfg relay.MiddlewaresConfig, log *zap.Logger) []middleware.Middleware {
	var mws []middleware.Middleware

	if cfg.Recoverer.Enabled {
		mws = append(mws, middleware.NewRecoverer(log.Named("recoverer"), cfg.Recoverer.IncludeStack))
	}

	if cfg.Logger.Enabled {
		mws = append(mws, middleware.NewLogger(log.Named("access"), cfg.Logger.LogBody))
	}

	if cfg.Compressor.Enabled {
		mws = append(mws, middleware.NewCompressor(log.Named("compressor"), cfg.Compressor.Alg))
	}

	return mws
}

func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run starts the remotes and every HTTP server and blocks until ctx is done or a server fails.
// Either way everything is shut down gracefully before Run returns.
func (s *Server) Run(ctx context.Context) error {
	if err := s.gw.Start(ctx); err != nil {
		s.gw.Close()

		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("server started", zap.String("addr", s.http.Addr))

		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("main server: %w", err)
		}

		return nil
	})

	if s.admin != nil {
		g.Go(func() error {
			if err := s.admin.Start(); err != nil {
				return fmt.Errorf("admin server: %w", err)
			}

			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		return s.Stop(shutdownCtx)
	})

	return g.Wait()
}

// Stop shuts the servers down gracefully and then stops the remotes.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error

	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	if s.admin != nil {
		if err := s.admin.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	s.gw.Close()

	return errors.Join(errs...)
}
