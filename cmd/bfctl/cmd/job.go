package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opensandbox/batchfleet/internal/batch"
	"github.com/opensandbox/batchfleet/internal/controlplane"
	"github.com/opensandbox/batchfleet/internal/fleet"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage job lifecycles",
}

var jobCreateCmd = &cobra.Command{
	Use:   "create <job-id>",
	Short: "Create a job on a pool unless it already exists",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, _ := cmd.Flags().GetString("pool")
		terminate, _ := cmd.Flags().GetBool("terminate-on-complete")
		deps, _ := cmd.Flags().GetBool("task-dependencies")
		if pool == "" {
			return fmt.Errorf("--pool is required")
		}

		return withFleet(func(ctx context.Context, f *fleet.Fleet) error {
			created, err := f.Jobs.CreateJobIfAbsent(ctx, batch.JobSpec{
				ID:                   args[0],
				PoolID:               pool,
				OnAllTasksComplete:   batch.OnAllTasksCompleteFor(terminate),
				UsesTaskDependencies: deps,
			})
			if err != nil {
				return err
			}
			if !created {
				fmt.Printf("Job %s already exists\n", args[0])
				return nil
			}
			fmt.Printf("Job %s created on pool %s\n", args[0], pool)
			return nil
		})
	},
}

var jobDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a job if it exists",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFleet(func(ctx context.Context, f *fleet.Fleet) error {
			deleted, err := f.Jobs.DeleteJobIfPresent(ctx, args[0])
			if err != nil {
				return err
			}
			if !deleted {
				fmt.Printf("Job %s does not exist\n", args[0])
				return nil
			}
			fmt.Printf("Job %s deleted\n", args[0])
			return nil
		})
	},
}

var jobTerminateCmd = &cobra.Command{
	Use:   "terminate <job-id>",
	Short: "Terminate an active job once all of its tasks are completed",
	Long: `Terminate an active job if every one of its tasks is in the completed
state. A job with unfinished tasks is left running.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFleet(func(ctx context.Context, f *fleet.Fleet) error {
			terminated, err := f.Jobs.TerminateIfAllTasksComplete(ctx, args[0])
			if err != nil {
				return err
			}
			if !terminated {
				fmt.Printf("Job %s left running\n", args[0])
				return nil
			}
			fmt.Printf("Job %s terminated\n", args[0])
			return nil
		})
	},
}

var jobUpdateCmd = &cobra.Command{
	Use:   "update <job-id>",
	Short: "Change a job's pool or completion behaviour",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var m controlplane.JobMutations
		if cmd.Flags().Changed("new-id") {
			v, _ := cmd.Flags().GetString("new-id")
			m.NewID = &v
		}
		if cmd.Flags().Changed("pool") {
			v, _ := cmd.Flags().GetString("pool")
			m.NewPoolID = &v
		}
		if cmd.Flags().Changed("terminate-on-complete") {
			v, _ := cmd.Flags().GetBool("terminate-on-complete")
			m.TerminateOnAllTasksComplete = &v
		}
		if cmd.Flags().Changed("task-dependencies") {
			v, _ := cmd.Flags().GetBool("task-dependencies")
			m.UsesTaskDependencies = &v
		}

		return withFleet(func(ctx context.Context, f *fleet.Fleet) error {
			changed, err := f.Jobs.UpdateJob(ctx, args[0], m)
			if err != nil {
				return err
			}
			if !changed {
				fmt.Printf("Job %s unchanged\n", args[0])
				return nil
			}
			fmt.Printf("Job %s updated\n", args[0])
			return nil
		})
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list <pool-id>",
	Short: "List the jobs bound to a pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		running, _ := cmd.Flags().GetBool("running")
		return withFleet(func(ctx context.Context, f *fleet.Fleet) error {
			var (
				jobs []batch.Job
				err  error
			)
			if running {
				jobs, err = f.Jobs.RunningJobs(ctx, args[0])
			} else {
				jobs, err = f.Jobs.PoolJobs(ctx, args[0])
			}
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("No jobs.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATE\tON COMPLETE")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\n", j.ID, j.State, j.OnAllTasksComplete)
			}
			return w.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobCreateCmd, jobDeleteCmd, jobTerminateCmd, jobUpdateCmd, jobListCmd)

	jobCreateCmd.Flags().String("pool", "", "Pool to run the job on")
	jobCreateCmd.Flags().Bool("terminate-on-complete", false, "Terminate the job once all tasks complete")
	jobCreateCmd.Flags().Bool("task-dependencies", false, "Allow tasks to depend on other tasks")

	jobUpdateCmd.Flags().String("new-id", "", "Rename the job")
	jobUpdateCmd.Flags().String("pool", "", "Move the job to another pool")
	jobUpdateCmd.Flags().Bool("terminate-on-complete", false, "Terminate the job once all tasks complete")
	jobUpdateCmd.Flags().Bool("task-dependencies", false, "Allow tasks to depend on other tasks")

	jobListCmd.Flags().Bool("running", false, "Only jobs with active or running tasks")
}
