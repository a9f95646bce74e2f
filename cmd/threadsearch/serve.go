package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andrew/chat-thread-search/pkg/api"
	"github.com/andrew/chat-thread-search/pkg/metrics"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve thread retrieval over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port > 0 {
				a.cfg.Server.Port = port
			}
			return a.runServe()
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on")
	return cmd
}

func (a *app) runServe() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, cleanup, err := a.openRetriever(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	m := metrics.New()
	meta := r.Artifact().Meta
	m.SetIndexRows(meta.Count)
	r.WithObserver(m)

	if !a.cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	h := api.NewHandler(r, a.cfg.Retrieve, func() gin.H {
		return gin.H{
			"model":    meta.Model,
			"count":    meta.Count,
			"build_id": meta.BuildID,
		}
	})
	srv := api.NewServer(a.cfg.Server.Port, api.NewRouter(h, m, a.logger), a.logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	// Handle interrupts
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case err := <-errCh:
		return err
	case sig := <-c:
		a.logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
