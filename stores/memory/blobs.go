package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"clipsync/core"

	"github.com/sirupsen/logrus"
)

// blobStore keeps uploaded blobs in memory. Blobs are served back by the
// service itself under baseURL.
type blobStore struct {
	baseURL string

	mu    sync.RWMutex
	blobs map[string]core.Blob
}

// NewBlobStore creates a new in-memory blob store whose URLs start with baseURL.
func NewBlobStore(baseURL string) *blobStore {
	return &blobStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		blobs:   make(map[string]core.Blob),
	}
}

func (s *blobStore) Upload(ctx context.Context, folder string, data []byte, contentType string) (*core.UploadResult, error) {
	key, err := core.NewBlobKey(folder, contentType)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.blobs[key] = core.Blob{
		Key:         key,
		ContentType: contentType,
		Data:        append([]byte(nil), data...),
	}
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{"key": key, "size": len(data)}).Info("Blob uploaded")
	return &core.UploadResult{Key: key, Size: int64(len(data)), ContentType: contentType}, nil
}

func (s *blobStore) ResolveURL(ctx context.Context, result *core.UploadResult) (string, error) {
	if err := core.ValidateKey(result.Key); err != nil {
		return "", err
	}
	return s.baseURL + "/" + result.Key, nil
}

func (s *blobStore) List(ctx context.Context, folder string) ([]core.Object, error) {
	prefix := core.FolderPrefix(folder)

	s.mu.RLock()
	defer s.mu.RUnlock()

	objects := make([]core.Object, 0)
	for key, blob := range s.blobs {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, core.Object{Key: key, Size: int64(len(blob.Data))})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (s *blobStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.blobs, key)
	s.mu.Unlock()

	logrus.WithField("key", key).Debug("Blob deleted")
	return nil
}

func (s *blobStore) Get(ctx context.Context, key string) (*core.Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return &blob, nil
}
