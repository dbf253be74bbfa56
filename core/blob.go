package core

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/oklog/ulid/v2"
)

type (
	// UploadResult describes a stored blob.
	UploadResult struct {
		Key         string `json:"key"`
		Size        int64  `json:"size"`
		ContentType string `json:"contentType"`
	}

	// Object is a blob listed under a folder.
	Object struct {
		Key  string `json:"key"`
		Size int64  `json:"size"`
	}

	// Blob is a blob read back in full.
	Blob struct {
		Key         string
		ContentType string
		Data        []byte
	}

	// BlobStore is the object storage service image payloads are uploaded to.
	BlobStore interface {
		Upload(ctx context.Context, folder string, data []byte, contentType string) (*UploadResult, error)
		ResolveURL(ctx context.Context, result *UploadResult) (string, error)
		List(ctx context.Context, folder string) ([]Object, error)
		Delete(ctx context.Context, key string) error
	}

	// BlobReader is implemented by blob stores the service can serve from.
	BlobReader interface {
		Get(ctx context.Context, key string) (*Blob, error)
	}
)

// NewBlobKey returns a fresh key under folder, with an extension derived
// from contentType when one is known.
func NewBlobKey(folder, contentType string) (string, error) {
	if err := ValidateKey(folder); err != nil {
		return "", err
	}
	name := strings.ToLower(ulid.Make().String())
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		name += exts[0]
	}
	return folder + "/" + name, nil
}

// ValidateKey rejects keys that could escape the blob root.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	if path.Clean(key) != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// FolderPrefix is the key prefix shared by every blob in folder.
func FolderPrefix(folder string) string {
	return strings.TrimSuffix(folder, "/") + "/"
}
