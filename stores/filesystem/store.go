package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"clipsync/core"
	"clipsync/stores/feed"

	"github.com/fsnotify/fsnotify"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const docExt = ".json"

// fsStore keeps one JSON file per entry. Changes made to the directory by
// other processes reach live queries through an fsnotify watcher.
type fsStore struct {
	basePath string
	hub      *feed.Hub
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewStore creates a new filesystem-based collection.
func NewStore(basePath string) *fsStore {
	store, err := Open(basePath)
	if err != nil {
		log.Fatalf("failed to open filesystem collection: %v", err)
	}
	return store
}

// Open is NewStore without the fatal exit.
func Open(basePath string) (*fsStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(basePath); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", basePath, err)
	}

	s := &fsStore{
		basePath: basePath,
		watcher:  watcher,
		done:     make(chan struct{}),
	}
	s.hub = feed.NewHub(s.Query)
	go s.processEvents()
	return s, nil
}

func (s *fsStore) processEvents() {
	defer close(s.done)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) == docExt {
				s.hub.Notify()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logrus.WithError(err).Warn("Collection watcher error")
		}
	}
}

func (s *fsStore) docPath(ref string) (string, error) {
	if ref == "" || filepath.Base(ref) != ref || ref == "." || ref == ".." {
		return "", fmt.Errorf("%w: %q", core.ErrInvalidKey, ref)
	}
	return filepath.Join(s.basePath, ref+docExt), nil
}

func (s *fsStore) write(ref string, entry core.Entry) error {
	filePath, err := s.docPath(ref)
	if err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	// Write then rename so readers never see a half-written doc.
	tmp, err := os.CreateTemp(s.basePath, "."+ref+"-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	s.hub.Notify()
	return nil
}

func (s *fsStore) Create(ctx context.Context, entry core.Entry) (string, error) {
	ref := ulid.Make().String()
	log := logrus.WithFields(logrus.Fields{"ref": ref, "type": entry.Type})

	if err := s.write(ref, entry); err != nil {
		log.WithError(err).Error("Failed to create entry")
		return "", err
	}
	log.Debug("Entry created")
	return ref, nil
}

func (s *fsStore) Overwrite(ctx context.Context, ref string, entry core.Entry) error {
	log := logrus.WithFields(logrus.Fields{"ref": ref, "type": entry.Type})

	if err := s.write(ref, entry); err != nil {
		log.WithError(err).Error("Failed to overwrite entry")
		return err
	}
	log.Debug("Entry overwritten")
	return nil
}

func (s *fsStore) Delete(ctx context.Context, ref string) error {
	filePath, err := s.docPath(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		logrus.WithField("ref", ref).WithError(err).Error("Failed to delete entry")
		return err
	}
	s.hub.Notify()
	return nil
}

func (s *fsStore) ListAll(ctx context.Context) ([]core.Doc, error) {
	files, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}

	docs := make([]core.Doc, 0, len(files))
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || filepath.Ext(name) != docExt || strings.HasPrefix(name, ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.basePath, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		var entry core.Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			logrus.WithError(err).Warnf("Failed to unmarshal entry file %s, skipping", name)
			continue
		}
		docs = append(docs, core.Doc{Ref: strings.TrimSuffix(name, docExt), Entry: entry})
	}
	return docs, nil
}

func (s *fsStore) Query(ctx context.Context, limit int) ([]core.Doc, error) {
	docs, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return feed.Newest(docs, limit), nil
}

func (s *fsStore) Watch(ctx context.Context, limit int, fn core.FeedFunc) (func(), error) {
	return s.hub.Watch(ctx, limit, fn)
}

func (s *fsStore) Close() error {
	err := s.watcher.Close()
	<-s.done
	s.hub.Close()
	return err
}
