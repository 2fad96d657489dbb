// Package storage moves application package binaries between local files,
// S3 and the Azure blob URLs issued for new package versions.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
)

// BlobPathParts returns the container and blob name addressed by a blob URL.
func BlobPathParts(storageURL string) (container, blob string, err error) {
	parts, err := azblob.ParseURL(storageURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid blob url: %w", err)
	}
	if parts.ContainerName == "" || parts.BlobName == "" {
		return "", "", fmt.Errorf("blob url %q has no container or blob name", parts.Host)
	}
	return parts.ContainerName, parts.BlobName, nil
}

// newBlobClient opens a block blob client for a SAS URL. The SAS token in
// the URL is the only credential.
func newBlobClient(storageURL string) (*blockblob.Client, error) {
	if _, _, err := BlobPathParts(storageURL); err != nil {
		return nil, err
	}
	client, err := blockblob.NewClientWithNoCredential(storageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	return client, nil
}

// FileUploader uploads a local archive to a package storage URL.
type FileUploader struct {
	Path string
}

// Upload writes the file to storageURL.
func (u FileUploader) Upload(ctx context.Context, storageURL string) error {
	f, err := os.Open(u.Path)
	if err != nil {
		return fmt.Errorf("failed to open package file: %w", err)
	}
	defer f.Close()

	client, err := newBlobClient(storageURL)
	if err != nil {
		return err
	}
	if _, err := client.UploadFile(ctx, f, nil); err != nil {
		return fmt.Errorf("failed to upload %s: %w", u.Path, err)
	}
	return nil
}

// S3Uploader streams an S3 object to a package storage URL without
// staging it on disk.
type S3Uploader struct {
	Source *PackageSource
	Key    string
}

// Upload copies the object to storageURL.
func (u S3Uploader) Upload(ctx context.Context, storageURL string) error {
	client, err := newBlobClient(storageURL)
	if err != nil {
		return err
	}
	body, err := u.Source.Open(ctx, u.Key)
	if err != nil {
		return err
	}
	defer body.Close()

	return uploadStream(ctx, client, body, u.Key)
}

func uploadStream(ctx context.Context, client *blockblob.Client, body io.Reader, name string) error {
	if _, err := client.UploadStream(ctx, body, nil); err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	return nil
}
