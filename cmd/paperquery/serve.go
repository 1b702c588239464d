package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmorrow/paperquery/internal/server"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP query server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			srv := server.New(a.pipeline, a.cfg.Server, a.log)

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			errChan := make(chan error, 1)
			go func() {
				errChan <- srv.ListenAndServe()
			}()

			select {
			case sig := <-sigChan:
				a.log.Info("shutting down", zap.String("signal", sig.String()))
				return srv.Shutdown(context.Background())
			case err := <-errChan:
				return err
			}
		},
	}
}
