package main

import (
	"time"

	"github.com/spf13/cobra"
)

var schedulerOnce bool

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the stall detector",
	Long: `Periodically look for PENDING or PROCESSING jobs that stopped making progress, re-trigger them at most
once per cooldown, and fail them after the configured number of attempts.`,
	RunE: runScheduler,
}

func init() {
	schedulerCmd.Flags().BoolVar(&schedulerOnce, "once", false, "Run a single sweep, print the result and exit")
	rootCmd.AddCommand(schedulerCmd)
}

func runScheduler(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, log, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	detector := a.newDetector()
	if schedulerOnce {
		result, err := detector.Sweep(ctx, time.Now())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	}

	if err := detector.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	detector.Stop()
	return nil
}
