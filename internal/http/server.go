package http

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/o2server/internal/oauth2/flow"
	"github.com/dropDatabas3/o2server/internal/observability/logger"
	"github.com/dropDatabas3/o2server/internal/store/core"
)

// Server agrupa las dependencias de los handlers.
type Server struct {
	Store core.Store
	Flow  *flow.Deps
}

// Run levanta el listener y drena conexiones cuando el contexto se cancela.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.L().Info("http server listening", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
