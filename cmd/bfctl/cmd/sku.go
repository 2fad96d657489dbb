package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensandbox/batchfleet/internal/batch"
	"github.com/opensandbox/batchfleet/internal/fleet"
	"github.com/opensandbox/batchfleet/internal/sku"
)

var skuCmd = &cobra.Command{
	Use:   "sku",
	Short: "Pick VM sizes and node images",
}

type skuChoice struct {
	Size  sku.Size   `json:"size"`
	Image *sku.Image `json:"image,omitempty"`
}

var skuPickCmd = &cobra.Command{
	Use:   "pick",
	Short: "Choose the smallest VM size that meets the requirements",
	Long: `Choose a VM size from the subscription's catalog. An explicit --size is
used when available; otherwise the smallest size meeting --min-memory and
--min-vcpus wins. With any image flag the best matching verified node image
is chosen as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		location, _ := cmd.Flags().GetString("location")
		family, _ := cmd.Flags().GetString("family")
		size, _ := cmd.Flags().GetString("size")
		minMem, _ := cmd.Flags().GetFloat64("min-memory")
		minCPU, _ := cmd.Flags().GetFloat64("min-vcpus")
		imgSKU, _ := cmd.Flags().GetString("image-sku")
		offer, _ := cmd.Flags().GetString("image-offer")
		publisher, _ := cmd.Flags().GetString("image-publisher")

		return withFleet(func(ctx context.Context, f *fleet.Fleet) error {
			catalog, err := f.Catalog()
			if err != nil {
				return err
			}
			if location == "" {
				location = f.Location()
			}
			if location == "" {
				return batch.Validation("location", "--location or BATCHFLEET_LOCATION is required")
			}

			sizes, err := catalog.Sizes(ctx, location, family)
			if err != nil {
				return err
			}
			chosen, err := sku.ChooseSize(sizes, size, minMem, minCPU)
			if err != nil {
				return err
			}
			out := skuChoice{Size: chosen}

			if imgSKU != "" || offer != "" || publisher != "" {
				if f.Azure == nil {
					return fmt.Errorf("image lookup needs azure mode")
				}
				images, err := f.Azure.ListSupportedImages(ctx)
				if err != nil {
					return err
				}
				img, err := sku.MatchImage(images, imgSKU, offer, publisher)
				if err != nil {
					return err
				}
				out.Image = &img
			}
			return printJSON(out)
		})
	},
}

func init() {
	rootCmd.AddCommand(skuCmd)
	skuCmd.AddCommand(skuPickCmd)

	skuPickCmd.Flags().String("location", "", "Azure region (defaults to BATCHFLEET_LOCATION)")
	skuPickCmd.Flags().String("family", "", "Restrict to one VM family")
	skuPickCmd.Flags().String("size", "", "Preferred VM size name")
	skuPickCmd.Flags().Float64("min-memory", 0, "Minimum memory in GB")
	skuPickCmd.Flags().Float64("min-vcpus", 0, "Minimum vCPU count")
	skuPickCmd.Flags().String("image-sku", "", "Preferred image SKU")
	skuPickCmd.Flags().String("image-offer", "", "Preferred image offer")
	skuPickCmd.Flags().String("image-publisher", "", "Preferred image publisher")
}
