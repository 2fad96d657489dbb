package storage

import (
	"context"
	"testing"
)

func TestBlobPathParts(t *testing.T) {
	tests := []struct {
		url       string
		container string
		blob      string
		wantErr   bool
	}{
		{
			url:       "https://acct.blob.core.windows.net/app-myapp-0123/myapp-1.0-abc.zip?sv=2020-08-04&sig=x",
			container: "app-myapp-0123",
			blob:      "myapp-1.0-abc.zip",
		},
		{
			url:       "https://acct.blob.core.windows.net/packages/nested/dir/tool.zip",
			container: "packages",
			blob:      "nested/dir/tool.zip",
		},
		{url: "https://acct.blob.core.windows.net/onlycontainer", wantErr: true},
		{url: "://bad", wantErr: true},
	}

	for _, tt := range tests {
		container, blob, err := BlobPathParts(tt.url)
		if tt.wantErr {
			if err == nil {
				t.Errorf("BlobPathParts(%q): expected error", tt.url)
			}
			continue
		}
		if err != nil {
			t.Errorf("BlobPathParts(%q) error: %v", tt.url, err)
			continue
		}
		if container != tt.container || blob != tt.blob {
			t.Errorf("BlobPathParts(%q) = (%q, %q), want (%q, %q)", tt.url, container, blob, tt.container, tt.blob)
		}
	}
}

func TestFileUploader_MissingFile(t *testing.T) {
	u := FileUploader{Path: "/nonexistent/package.zip"}
	if err := u.Upload(context.Background(), "https://acct.blob.core.windows.net/c/b.zip"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFileUploader_BadURL(t *testing.T) {
	u := FileUploader{Path: "blob_test.go"}
	if err := u.Upload(context.Background(), "https://acct.blob.core.windows.net/onlycontainer"); err == nil {
		t.Error("expected error for url without blob name")
	}
}
