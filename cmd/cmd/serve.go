package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/NukkadFoods/Webstorybackend/internal/app"
	"github.com/NukkadFoods/Webstorybackend/internal/logger"
)

// serveCmd constructs every service and runs the scheduler/queue until
// an interrupt signal.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler and the job queue and run until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := app.New(ctx)
		if err != nil {
			return fmt.Errorf("construct app: %w", err)
		}

		a.Start(ctx)
		logger.Info("enrichment pipeline started", "sections", len(app.Sections), "rotationPeriodSec", a.Config.RotationPeriodSec)

		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer shutdownCancel()
		a.Shutdown(shutdownCtx)
		return nil
	},
}
