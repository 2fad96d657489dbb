// Package sku picks VM sizes and marketplace images for pools.
package sku

import (
	"errors"
	"fmt"
	"sort"
)

// Capability names reported on VM resource SKUs.
const (
	CapabilityMemoryGB = "MemoryGB"
	CapabilityVCPUs    = "vCPUs"
)

// ErrNoMatch is returned when no size or image satisfies the request.
var ErrNoMatch = errors.New("no matching sku")

// Size is a VM size available in a location.
type Size struct {
	Name     string  `json:"name"`
	Family   string  `json:"family"`
	MemoryGB float64 `json:"memoryGB"`
	VCPUs    float64 `json:"vCPUs"`
}

// Image is a marketplace image a pool can be created from.
type Image struct {
	Publisher      string `json:"publisher"`
	Offer          string `json:"offer"`
	SKU            string `json:"sku"`
	Version        string `json:"version,omitempty"`
	NodeAgentSKUID string `json:"nodeAgentSkuId"`
	OSType         string `json:"osType,omitempty"`
}

// ChooseSize returns the size called name if available. Otherwise it picks
// the smallest size meeting the hardware minimums; a zero minimum is unset.
// With both minimums sizes are ordered by memory then vCPUs, with only a
// memory minimum the same, and with only a vCPU minimum by vCPUs then memory.
func ChooseSize(sizes []Size, name string, minMemoryGB, minVCPUs float64) (Size, error) {
	if name != "" {
		for _, s := range sizes {
			if s.Name == name {
				return s, nil
			}
		}
	}

	var (
		keep        func(Size) bool
		memoryFirst = true
	)
	switch {
	case minMemoryGB > 0 && minVCPUs > 0:
		keep = func(s Size) bool { return s.MemoryGB >= minMemoryGB && s.VCPUs >= minVCPUs }
	case minMemoryGB > 0:
		keep = func(s Size) bool { return s.MemoryGB >= minMemoryGB }
	case minVCPUs > 0:
		keep = func(s Size) bool { return s.VCPUs >= minVCPUs }
		memoryFirst = false
	default:
		return Size{}, fmt.Errorf("%w: size %q is not available and no minimum memory or vCPUs given", ErrNoMatch, name)
	}

	var candidates []Size
	for _, s := range sizes {
		if keep(s) {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return Size{}, fmt.Errorf("%w: no size with at least %gGB memory and %g vCPUs", ErrNoMatch, minMemoryGB, minVCPUs)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if memoryFirst {
			if a.MemoryGB != b.MemoryGB {
				return a.MemoryGB < b.MemoryGB
			}
			return a.VCPUs < b.VCPUs
		}
		if a.VCPUs != b.VCPUs {
			return a.VCPUs < b.VCPUs
		}
		return a.MemoryGB < b.MemoryGB
	})
	return candidates[0], nil
}

// MatchImage returns the image matching sku, offer and publisher exactly,
// falling back to the first image with the same sku, then offer, then
// publisher. At least one of the three must be given.
func MatchImage(images []Image, sku, offer, publisher string) (Image, error) {
	if sku == "" && offer == "" && publisher == "" {
		return Image{}, errors.New("an image sku, offer or publisher is required")
	}

	matchers := []func(Image) bool{
		func(img Image) bool { return img.SKU == sku && img.Offer == offer && img.Publisher == publisher },
		func(img Image) bool { return sku != "" && img.SKU == sku },
		func(img Image) bool { return offer != "" && img.Offer == offer },
		func(img Image) bool { return publisher != "" && img.Publisher == publisher },
	}
	for _, match := range matchers {
		for _, img := range images {
			if match(img) {
				return img, nil
			}
		}
	}
	return Image{}, fmt.Errorf("%w: no image for sku %q, offer %q, publisher %q", ErrNoMatch, sku, offer, publisher)
}
