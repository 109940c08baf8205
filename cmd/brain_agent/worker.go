package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerWithScheduler bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume document analysis and brain assembly tasks",
	Long: `Run queue consumers for document.analysis and brain.assembly. Several worker processes can share
one Redis consumer group; each message is handled by one of them and redelivered if it is not acknowledged.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().BoolVar(&workerWithScheduler, "with-scheduler", false, "Also run the stall detector in this process")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(_ *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Redis.Addr == "" {
		log.Warn("worker started without redis.addr; it will only see tasks published by this process")
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, log, appOptions{withLLM: true})
	if err != nil {
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	worker := a.newWorker()
	g.Go(func() error { return ignoreCanceled(worker.Run(gctx)) })

	if workerWithScheduler {
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
