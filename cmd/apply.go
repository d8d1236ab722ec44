// File: cmd/apply.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/observability"
	"github.com/xkilldash9x/autoapply/internal/statusapi"
)

// newApplyCmd creates and configures the `apply` command.
func newApplyCmd() *cobra.Command {
	var (
		output        string
		concurrency   int
		maxIterations int
		headless      bool
	)

	applyCmd := &cobra.Command{
		Use:   "apply <tasks.json>",
		Short: "Runs the application tasks in a file and reports each outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			// Flags only override the config when given explicitly.
			if cmd.Flags().Changed("concurrency") {
				cfg.SetEngineWorkerConcurrency(concurrency)
			}
			if cmd.Flags().Changed("max-iterations") {
				cfg.SetNavigatorMaxIterations(maxIterations)
			}
			if cmd.Flags().Changed("headless") {
				cfg.SetBrowserHeadless(headless)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			tasks, err := loadTasks(args[0])
			if err != nil {
				return err
			}
			logger.Info("Loaded application tasks", zap.Int("count", len(tasks)))

			components, err := componentFactory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			queue := make(chan schemas.ApplicationTask, len(tasks))
			for _, t := range tasks {
				components.Registry.Register(t)
				queue <- t
			}
			close(queue)

			components.Engine.Start(ctx, queue)
			components.Engine.Stop()

			jobs := make([]statusapi.Job, 0, len(tasks))
			for _, t := range tasks {
				if job, ok := components.Registry.Get(t.ID); ok {
					jobs = append(jobs, job)
				}
			}

			printSummary(cmd.OutOrStdout(), jobs)
			if output != "" {
				if err := writeOutcomes(output, jobs); err != nil {
					return err
				}
				logger.Info("Outcomes written", zap.String("path", output))
			}

			if errors.Is(ctx.Err(), context.Canceled) {
				return errors.New("apply aborted by user signal")
			}
			failed := 0
			for _, j := range jobs {
				if j.Status != statusapi.StatusSucceeded {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d applications did not succeed", failed, len(tasks))
			}
			return nil
		},
	}

	applyCmd.Flags().StringVarP(&output, "output", "o", "", "Write the outcomes as JSON to this file.")
	applyCmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "Number of applications run in parallel. (Overrides config/env)")
	applyCmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Iteration budget per attempt. (Overrides config/env)")
	applyCmd.Flags().BoolVar(&headless, "headless", true, "Run the browser headless. (Overrides config/env)")
	return applyCmd
}

func printSummary(w io.Writer, jobs []statusapi.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTATUS\tITERATIONS\tRESTARTS\tDURATION\tREASON")
	for _, j := range jobs {
		iterations, restarts, duration, reason := 0, 0, time.Duration(0), j.Error
		if o := j.Outcome; o != nil {
			iterations, restarts, duration, reason = o.Iterations, o.Restarts, o.Duration().Round(time.Second), o.Reason
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", j.TaskID, j.Status, iterations, restarts, duration, reason)
	}
	tw.Flush()
}

func writeOutcomes(path string, jobs []statusapi.Job) error {
	outcomes := make([]*schemas.ApplicationOutcome, 0, len(jobs))
	for _, j := range jobs {
		if j.Outcome != nil {
			outcomes = append(outcomes, j.Outcome)
		}
	}
	data, err := json.MarshalIndent(outcomes, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode outcomes: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write outcomes: %w", err)
	}
	return nil
}
