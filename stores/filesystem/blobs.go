package filesystem

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"clipsync/core"

	"github.com/sirupsen/logrus"
)

type blobStore struct {
	basePath string
	baseURL  string
}

// NewBlobStore creates a blob store rooted at basePath whose URLs start
// with baseURL.
func NewBlobStore(basePath, baseURL string) *blobStore {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Fatalf("failed to create blob directory: %v", err)
	}
	return &blobStore{basePath: basePath, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *blobStore) blobPath(key string) (string, error) {
	if err := core.ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(key)), nil
}

func (s *blobStore) Upload(ctx context.Context, folder string, data []byte, contentType string) (*core.UploadResult, error) {
	key, err := core.NewBlobKey(folder, contentType)
	if err != nil {
		return nil, err
	}
	filePath, err := s.blobPath(key)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"key": key, "path": filePath, "size": len(data)})

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		log.WithError(err).Error("Failed to create blob folder")
		return nil, err
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		log.WithError(err).Error("Failed to write blob")
		return nil, err
	}

	log.Info("Blob uploaded")
	return &core.UploadResult{Key: key, Size: int64(len(data)), ContentType: contentType}, nil
}

func (s *blobStore) ResolveURL(ctx context.Context, result *core.UploadResult) (string, error) {
	if err := core.ValidateKey(result.Key); err != nil {
		return "", err
	}
	return s.baseURL + "/" + result.Key, nil
}

func (s *blobStore) List(ctx context.Context, folder string) ([]core.Object, error) {
	if err := core.ValidateKey(folder); err != nil {
		return nil, err
	}
	root := filepath.Join(s.basePath, filepath.FromSlash(folder))

	objects := make([]core.Object, 0)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.basePath, p)
		if err != nil {
			return err
		}
		objects = append(objects, core.Object{Key: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (s *blobStore) Delete(ctx context.Context, key string) error {
	filePath, err := s.blobPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		logrus.WithField("key", key).WithError(err).Error("Failed to delete blob")
		return err
	}
	return nil
}

func (s *blobStore) Get(ctx context.Context, key string) (*core.Blob, error) {
	filePath, err := s.blobPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
		}
		return nil, err
	}

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &core.Blob{Key: key, ContentType: contentType, Data: data}, nil
}
