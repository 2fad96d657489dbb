package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/opensandbox/batchfleet/internal/batch"
	"github.com/opensandbox/batchfleet/internal/fleet"
	"github.com/opensandbox/batchfleet/internal/sku"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Manage pool capacity and health",
}

// parseAppRefs reads application references written as id:version.
func parseAppRefs(values []string) ([]batch.ApplicationReference, error) {
	refs := make([]batch.ApplicationReference, 0, len(values))
	for _, v := range values {
		id, version, ok := strings.Cut(v, ":")
		if !ok || id == "" || version == "" {
			return nil, fmt.Errorf("invalid application %q, want id:version", v)
		}
		refs = append(refs, batch.ApplicationReference{ApplicationID: id, Version: version})
	}
	return refs, nil
}

// parseIdentities reads identities written as subscription/resource-group/name.
func parseIdentities(values []string) ([]batch.ManagedIdentity, error) {
	ids := make([]batch.ManagedIdentity, 0, len(values))
	for _, v := range values {
		parts := strings.Split(v, "/")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("invalid identity %q, want subscription/resource-group/name", v)
		}
		ids = append(ids, batch.ManagedIdentity{SubscriptionID: parts[0], ResourceGroup: parts[1], Name: parts[2]})
	}
	return ids, nil
}

// startTaskFlags returns the start task described by the flags, or nil
// when --start-task was not given.
func startTaskFlags(flags *pflag.FlagSet) *batch.StartTask {
	commandLine, _ := flags.GetString("start-task")
	if commandLine == "" {
		return nil
	}
	wait, _ := flags.GetBool("start-task-wait")
	elevation, _ := flags.GetString("start-task-elevation")
	scope, _ := flags.GetString("start-task-scope")
	return &batch.StartTask{
		CommandLine:    commandLine,
		WaitForSuccess: wait,
		ElevationLevel: batch.ElevationLevel(elevation),
		AutoUserScope:  batch.AutoUserScope(scope),
	}
}

func addPoolSettingFlags(flags *pflag.FlagSet) {
	flags.Int("target-nodes", 0, "Fixed dedicated node count")
	flags.String("start-task", "", "Start task command line")
	flags.Bool("start-task-wait", false, "Keep nodes unschedulable until the start task succeeds")
	flags.String("start-task-elevation", string(batch.ElevationNonAdmin), "Start task elevation (nonadmin, admin)")
	flags.String("start-task-scope", string(batch.AutoUserScopePool), "Start task auto-user scope (pool, task)")
	flags.StringArray("app", nil, "Application package as id:version (repeatable)")
	flags.StringArray("identity", nil, "User-assigned identity as subscription/resource-group/name (repeatable)")
}

// poolSpecFromFlags builds the create spec. The node image is completed
// later when only part of it was given.
func poolSpecFromFlags(poolID string, flags *pflag.FlagSet) (batch.PoolSpec, error) {
	spec := batch.PoolSpec{ID: poolID, StartTask: startTaskFlags(flags)}
	spec.VMSize, _ = flags.GetString("vm-size")
	spec.Image.Publisher, _ = flags.GetString("image-publisher")
	spec.Image.Offer, _ = flags.GetString("image-offer")
	spec.Image.SKU, _ = flags.GetString("image-sku")
	spec.NodeAgentSKUID, _ = flags.GetString("node-agent-sku")
	if flags.Changed("target-nodes") {
		n, _ := flags.GetInt("target-nodes")
		spec.TargetDedicatedNodes = &n
	}

	apps, _ := flags.GetStringArray("app")
	var err error
	if spec.Applications, err = parseAppRefs(apps); err != nil {
		return spec, err
	}
	ids, _ := flags.GetStringArray("identity")
	if spec.Identities, err = parseIdentities(ids); err != nil {
		return spec, err
	}
	return spec, nil
}

func imageComplete(spec batch.PoolSpec) bool {
	img := spec.Image
	return img.Publisher != "" && img.Offer != "" && img.SKU != "" && spec.NodeAgentSKUID != ""
}

var poolCreateCmd = &cobra.Command{
	Use:   "create <pool-id>",
	Short: "Create a pool unless it already exists",
	Long: `Create a pool with the given VM size and node image. When the image or
node agent is only partly given, the best matching verified image supported
by the account is used.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := poolSpecFromFlags(args[0], cmd.Flags())
		if err != nil {
			return err
		}
		wait, _ := cmd.Flags().GetBool("wait")

		return withFleet(func(ctx context.Context, f *fleet.Fleet) error {
			if !imageComplete(spec) {
				if f.Azure == nil {
					return batch.Validation("image", "image publisher, offer, sku and --node-agent-sku are required outside azure mode")
				}
				images, err := f.Azure.ListSupportedImages(ctx)
				if err != nil {
					return err
				}
				img, err := sku.MatchImage(images, spec.Image.SKU, spec.Image.Offer, spec.Image.Publisher)
				if err != nil {
					return err
				}
				spec.Image = batch.ImageReference{Publisher: img.Publisher, Offer: img.Offer, SKU: img.SKU}
				spec.NodeAgentSKUID = img.NodeAgentSKUID
			}

			created, err := f.Pools.CreatePoolIfAbsent(ctx, spec, wait)
			if err != nil {
				return err
			}
			if !created {
				fmt.Printf("Pool %s already exists\n", spec.ID)
				return nil
			}
			fmt.Printf("Pool %s created (%s, %s)\n", spec.ID, spec.VMSize, spec.NodeAgentSKUID)
			return nil
		})
	},
}

var poolUpdateCmd = &cobra.Command{
	Use:   "update <pool-id>",
	Short: "Change the scale, start task, identities or applications of a pool",
	Long: `Change the given settings of an existing pool. --app replaces the
installed application packages; --clear-apps removes them all.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		update := batch.PoolUpdate{StartTask: startTaskFlags(flags)}
		if flags.Changed("target-nodes") {
			n, _ := flags.GetInt("target-nodes")
			update.TargetDedicatedNodes = &n
		}
		var err error
		apps, _ := flags.GetStringArray("app")
		if update.Applications, err = parseAppRefs(apps); err != nil {
			return err
		}
		if clearApps, _ := flags.GetBool("clear-apps"); len(apps) == 0 && !clearApps {
			update.Applications = nil
		}
		ids, _ := flags.GetStringArray("identity")
		if update.Identities, err = parseIdentities(ids); err != nil {
			return err
		}

		return withFleet(func(ctx context.Context, f *fleet.Fleet) error {
			updated, err := f.Pools.UpdatePool(ctx, args[0], update)
			if err != nil {
				return err
			}
			if !updated {
				fmt.Println("Nothing to update")
				return nil
			}
			fmt.Printf("Pool %s updated\n", args[0])
			return nil
		})
	},
}

var poolScaleCmd = &cobra.Command{
	Use:   "scale <pool-id> <target-nodes>",
	Short: "Move a fixed-scale pool to a dedicated node count",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var target int
		if _, err := fmt.Sscanf(args[1], "%d", &target); err != nil {
			return fmt.Errorf("invalid target node count %q", args[1])
		}
		policyFlag, _ := cmd.Flags().GetString("policy")
		policy, err := batch.ParseDeallocationPolicy(policyFlag)
		if err != nil {
			return err
		}

		return withFleet(func(ctx context.Context, f *fleet.Fleet) error {
			res, err := f.Scaler.SetTargetNodeCount(ctx, args[0], target, policy)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var poolRecoverCmd = &cobra.Command{
	Use:   "recover <pool-id>",
	Short: "Remediate offline, unusable and unknown nodes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFleet(func(ctx context.Context, f *fleet.Fleet) error {
			n, err := f.Health.RecoverUnhealthyNodes(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Dispatched %d remediations in pool %s\n", n, args[0])
			return nil
		})
	},
}

var poolRebootCmd = &cobra.Command{
	Use:   "reboot <pool-id>",
	Short: "Stop any resize and reboot every node of a pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		optionFlag, _ := cmd.Flags().GetString("option")
		option, err := batch.ParseRebootOption(optionFlag)
		if err != nil {
			return err
		}
		return withFleet(func(ctx context.Context, f *fleet.Fleet) error {
			n, err := f.Pools.RebootNodes(ctx, args[0], option)
			if err != nil {
				return err
			}
			fmt.Printf("Rebooting %d nodes in pool %s\n", n, args[0])
			return nil
		})
	},
}

var poolWaitCmd = &cobra.Command{
	Use:   "wait <pool-id>",
	Short: "Wait until a pool reaches steady allocation state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFleet(func(ctx context.Context, f *fleet.Fleet) error {
			if err := f.Waiter.WaitUntilSteady(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Pool %s is steady\n", args[0])
			return nil
		})
	},
}

var poolDeleteCmd = &cobra.Command{
	Use:   "delete <pool-id>",
	Short: "Delete a pool if it exists",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFleet(func(ctx context.Context, f *fleet.Fleet) error {
			deleted, err := f.Pools.DeletePoolIfPresent(ctx, args[0])
			if err != nil {
				return err
			}
			if !deleted {
				fmt.Printf("Pool %s does not exist\n", args[0])
				return nil
			}
			fmt.Printf("Pool %s deleted\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(poolCmd)
	poolCmd.AddCommand(poolCreateCmd, poolUpdateCmd, poolScaleCmd, poolRecoverCmd, poolRebootCmd, poolWaitCmd, poolDeleteCmd)

	poolCreateCmd.Flags().String("vm-size", "", "VM size, as chosen by sku pick")
	poolCreateCmd.Flags().String("image-publisher", "", "Image publisher")
	poolCreateCmd.Flags().String("image-offer", "", "Image offer")
	poolCreateCmd.Flags().String("image-sku", "", "Image SKU")
	poolCreateCmd.Flags().String("node-agent-sku", "", "Node agent SKU ID")
	poolCreateCmd.Flags().Bool("wait", false, "Wait for the new pool to reach steady state")
	addPoolSettingFlags(poolCreateCmd.Flags())
	addPoolSettingFlags(poolUpdateCmd.Flags())
	poolUpdateCmd.Flags().Bool("clear-apps", false, "Remove every application package reference")

	poolScaleCmd.Flags().String("policy", string(batch.DeallocateRequeue), "Node deallocation option (requeue, terminate, taskcompletion, retaineddata)")
	poolRebootCmd.Flags().String("option", string(batch.RebootRequeue), "Node reboot option (requeue, terminate, taskcompletion, retaineddata)")
}
