package azbatch

import (
	"context"
	"net/url"

	"github.com/opensandbox/batchfleet/internal/sku"
)

const opListSupportedImages = "ListSupportedImages"

type imageReferenceWire struct {
	Publisher string `json:"publisher"`
	Offer     string `json:"offer"`
	SKU       string `json:"sku"`
	Version   string `json:"version,omitempty"`
}

type supportedImageWire struct {
	NodeAgentSKUID   string             `json:"nodeAgentSKUId"`
	ImageReference   imageReferenceWire `json:"imageReference"`
	OSType           string             `json:"osType"`
	VerificationType string             `json:"verificationType"`
}

// ListSupportedImages returns the marketplace images the account's node
// agents support. Unverified images are skipped.
func (g *Gateway) ListSupportedImages(ctx context.Context) ([]sku.Image, error) {
	q := url.Values{"$filter": {"verificationType eq 'verified'"}}
	wires, err := listAll[supportedImageWire](ctx, &g.batch, opListSupportedImages, g.batch.url("/supportedimages", q))
	if err != nil {
		return nil, err
	}
	images := make([]sku.Image, 0, len(wires))
	for _, w := range wires {
		images = append(images, sku.Image{
			Publisher:      w.ImageReference.Publisher,
			Offer:          w.ImageReference.Offer,
			SKU:            w.ImageReference.SKU,
			Version:        w.ImageReference.Version,
			NodeAgentSKUID: w.NodeAgentSKUID,
			OSType:         w.OSType,
		})
	}
	return images, nil
}
