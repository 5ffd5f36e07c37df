package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NukkadFoods/Webstorybackend/internal/app"
)

// statsCmd prints queue/credential/shard/threshold counters to stdout
// as a one-shot report, the observability surface an HTTP adapter
// would otherwise expose. Rotation scheduler state is not printed.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print a one-shot snapshot of queue, credential, shard, and threshold state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		a, err := app.New(ctx)
		if err != nil {
			return fmt.Errorf("construct app: %w", err)
		}
		defer a.Shutdown(ctx)

		fmt.Println("queue depth by state:")
		for state, n := range a.Queue.Stats() {
			fmt.Printf("  %-10s %d\n", state, n)
		}

		fmt.Println("AI credential pool:")
		for _, s := range a.AICreds.Stats().Credentials {
			fmt.Printf("  credential %d: used=%d/%d available=%v dead=%v\n", s.ID, s.TokensUsedToday, s.DailyLimit, s.IsAvailable, s.IsDead)
		}

		fmt.Println("cache shards:")
		for _, s := range a.CacheShards.Stats() {
			fmt.Printf("  shard %d: healthy=%v dead=%v requests=%d latency=%s\n", s.ID, s.Healthy, s.Dead, s.DailyRequests, s.Latency)
		}

		allMet, err := a.Threshold.CheckThreshold(ctx)
		if err != nil {
			return fmt.Errorf("check threshold: %w", err)
		}
		fmt.Printf("threshold met for all sections: %v\n", allMet)
		for section, count := range a.Threshold.Counts() {
			fmt.Printf("  %-12s %d\n", section, count)
		}
		return nil
	},
}
