package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensandbox/batchfleet/internal/controlplane"
	"github.com/opensandbox/batchfleet/internal/fleet"
	"github.com/opensandbox/batchfleet/internal/storage"
)

var appCmd = &cobra.Command{
	Use:   "app",
	Short: "Manage application packages",
}

var appDeleteCmd = &cobra.Command{
	Use:   "delete <application-id>",
	Short: "Delete an application and all of its package versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFleet(func(ctx context.Context, f *fleet.Fleet) error {
			deleted, err := f.Apps.DeleteApplication(ctx, args[0])
			if err != nil {
				return err
			}
			if !deleted {
				fmt.Printf("Application %s does not exist\n", args[0])
				return nil
			}
			fmt.Printf("Application %s deleted\n", args[0])
			return nil
		})
	},
}

var appPublishCmd = &cobra.Command{
	Use:   "publish <application-id> <version>",
	Short: "Create a package version and upload its archive",
	Long: `Create an application package version and upload the archive from a
local file (--file) or an object in the configured S3 bucket (--s3-key).`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		key, _ := cmd.Flags().GetString("s3-key")
		if (file == "") == (key == "") {
			return fmt.Errorf("exactly one of --file or --s3-key is required")
		}

		return withFleet(func(ctx context.Context, f *fleet.Fleet) error {
			var uploader controlplane.PackageUploader = storage.FileUploader{Path: file}
			if key != "" {
				src, err := f.PackageSource(ctx)
				if err != nil {
					return err
				}
				uploader = storage.S3Uploader{Source: src, Key: key}
			}

			pkg, err := f.Apps.PublishPackage(ctx, args[0], args[1], uploader)
			if err != nil {
				return err
			}
			return printJSON(pkg)
		})
	},
}

func init() {
	rootCmd.AddCommand(appCmd)
	appCmd.AddCommand(appDeleteCmd, appPublishCmd)

	appPublishCmd.Flags().String("file", "", "Local package archive")
	appPublishCmd.Flags().String("s3-key", "", "Object key of the archive in the package bucket")
}
