package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opensandbox/batchfleet/internal/batch"
	"github.com/opensandbox/batchfleet/internal/fleet"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Commit and inspect job tasks",
}

var tasksCommitCmd = &cobra.Command{
	Use:   "commit <job-id>",
	Short: "Add a batch of tasks to a job, all or nothing",
	Long: `Add every task in a JSON file to a job. The file holds an array of
{"id", "commandLine", "environment", "dependsOn"} objects. If any task is
rejected, every task of the batch is removed again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		terminate, _ := cmd.Flags().GetBool("terminate")
		if file == "" {
			return fmt.Errorf("--file is required")
		}
		specs, err := readTaskFile(file)
		if err != nil {
			return err
		}

		return withFleet(func(ctx context.Context, f *fleet.Fleet) error {
			committed, err := f.Tasks.CommitTasks(ctx, args[0], specs, terminate)
			if err != nil {
				return err
			}
			if !committed {
				return fmt.Errorf("batch of %d tasks rolled back", len(specs))
			}
			fmt.Printf("Committed %d tasks to job %s\n", len(specs), args[0])
			return nil
		})
	},
}

var tasksFailedCmd = &cobra.Command{
	Use:   "failed <job-id>",
	Short: "List completed tasks that failed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFleet(func(ctx context.Context, f *fleet.Fleet) error {
			tasks, err := f.Jobs.FailedTasks(ctx, args[0])
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println("No failed tasks.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCODE\tMESSAGE")
			for _, t := range tasks {
				code, msg := "-", "-"
				if t.FailureInfo != nil {
					code, msg = t.FailureInfo.Code, t.FailureInfo.Message
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, code, msg)
			}
			return w.Flush()
		})
	},
}

func readTaskFile(path string) ([]batch.TaskSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	var specs []batch.TaskSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("failed to parse task file %s: %w", path, err)
	}
	return specs, nil
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksCommitCmd, tasksFailedCmd)

	tasksCommitCmd.Flags().StringP("file", "f", "", "JSON file with the task batch")
	tasksCommitCmd.Flags().Bool("terminate", false, "Terminate the job once the committed tasks complete")
}
