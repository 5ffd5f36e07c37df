package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/NukkadFoods/Webstorybackend/internal/app"
	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/article"
	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/queue"
)

// enrichCmd submits one high-priority ad-hoc job for an already-known
// article id: the user-triggered path that passes priority=1
// explicitly, bypassing the scheduler's computed priority.
var enrichCmd = &cobra.Command{
	Use:   "enrich <articleId>",
	Short: "Submit a high-priority enrichment job for one article id.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		articleID := args[0]

		a, err := app.New(ctx)
		if err != nil {
			return fmt.Errorf("construct app: %w", err)
		}
		defer a.Shutdown(ctx)

		existing, err := a.Store.FindByID(ctx, articleID)
		if err != nil {
			return fmt.Errorf("look up article: %w", err)
		}
		var snapshot article.Article
		if existing != nil {
			snapshot = *existing
		} else {
			snapshot = article.Article{ID: articleID}
		}

		result, err := a.SubmitAdHoc(ctx, snapshot)
		if err != nil {
			return fmt.Errorf("submit job: %w", err)
		}
		fmt.Printf("submission result: %s\n", result)
		if result != queue.AdmitEnqueued {
			return nil
		}

		a.Queue.Start(ctx)
		jobID := "commentary-" + articleID
		deadline := time.Now().Add(2 * time.Minute)
		for time.Now().Before(deadline) {
			state, ok := a.Queue.JobState(jobID)
			if !ok || state == queue.StateCompleted || state == queue.StateFailed {
				break
			}
			time.Sleep(time.Second)
		}
		finalState, _ := a.Queue.JobState(jobID)
		fmt.Printf("final job state: %s\n", finalState)
		return nil
	},
}
