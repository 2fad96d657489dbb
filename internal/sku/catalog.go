package sku

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v6"
)

const virtualMachinesResourceType = "virtualMachines"

// Catalog lists the VM sizes a subscription can deploy.
type Catalog struct {
	client *armcompute.ResourceSKUsClient
}

// NewCatalog creates a catalog for subscriptionID.
func NewCatalog(subscriptionID string, cred azcore.TokenCredential, opts *arm.ClientOptions) (*Catalog, error) {
	client, err := armcompute.NewResourceSKUsClient(subscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource sku client: %w", err)
	}
	return &Catalog{client: client}, nil
}

// Sizes returns the unrestricted VM sizes in location, optionally limited
// to one family.
func (c *Catalog) Sizes(ctx context.Context, location, family string) ([]Size, error) {
	pager := c.client.NewListPager(&armcompute.ResourceSKUsClientListOptions{
		Filter: to.Ptr(fmt.Sprintf("location eq '%s'", location)),
	})

	var sizes []Size
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list resource skus: %w", err)
		}
		for _, res := range page.Value {
			s, ok := sizeFromResource(res)
			if !ok {
				continue
			}
			if family != "" && !strings.EqualFold(s.Family, family) {
				continue
			}
			sizes = append(sizes, s)
		}
	}
	return sizes, nil
}

// sizeFromResource converts a VM resource SKU. Non-VM resources, SKUs
// restricted in the location and SKUs without hardware capabilities are
// rejected.
func sizeFromResource(res *armcompute.ResourceSKU) (Size, bool) {
	if res == nil || res.Name == nil || res.ResourceType == nil || *res.ResourceType != virtualMachinesResourceType {
		return Size{}, false
	}
	for _, r := range res.Restrictions {
		if r != nil && r.Type != nil && *r.Type == armcompute.ResourceSKURestrictionsTypeLocation {
			return Size{}, false
		}
	}

	s := Size{Name: *res.Name}
	if res.Family != nil {
		s.Family = *res.Family
	}
	var haveMem, haveCPU bool
	for _, c := range res.Capabilities {
		if c == nil || c.Name == nil || c.Value == nil {
			continue
		}
		v, err := strconv.ParseFloat(*c.Value, 64)
		if err != nil {
			continue
		}
		switch *c.Name {
		case CapabilityMemoryGB:
			s.MemoryGB, haveMem = v, true
		case CapabilityVCPUs:
			s.VCPUs, haveCPU = v, true
		}
	}
	return s, haveMem && haveCPU
}
