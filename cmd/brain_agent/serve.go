package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that exposes the subject, document, job, brain and assessment endpoints.

With server.embed_worker the queue consumers run in the same process, and with server.embed_scheduler
so does the stall detector. Both are required when running without Redis.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, log, appOptions{withLLM: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.db != nil {
		if err := a.db.Migrate(ctx, log); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	srv := a.newServer()
	g.Go(func() error { return srv.Run(gctx) })

	if cfg.Server.EmbedWorker {
		worker := a.newWorker()
		g.Go(func() error { return ignoreCanceled(worker.Run(gctx)) })
	}
	if cfg.Server.EmbedScheduler {
		detector := a.newDetector()
		if err := detector.Start(gctx); err != nil {
			return fmt.Errorf("failed to start stall detector: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			detector.Stop()
			return nil
		})
	}

	return g.Wait()
}

// ignoreCanceled treats shutdown by cancellation as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
