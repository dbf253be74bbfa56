package stores

import (
	"os"
	"path/filepath"

	"clipsync/core"
	"clipsync/stores/aws"
	"clipsync/stores/filesystem"
	"clipsync/stores/memory"
	"clipsync/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// Collection is a document collection owned by the process root.
type Collection interface {
	core.Collection
	Close() error
}

// BlobStore is a blob store the service can also serve blobs from.
type BlobStore interface {
	core.BlobStore
	core.BlobReader
}

func localStoragePath() string {
	basePath := os.Getenv("LOCAL_STORAGE_PATH")
	if basePath == "" {
		basePath = "./data" // Default path
	}
	return basePath
}

// GetCollection picks the document collection from STORAGE_TYPE.
func GetCollection() Collection {
	storageType := os.Getenv("STORAGE_TYPE")
	var collection Collection

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "filesystem":
		basePath := filepath.Join(localStoragePath(), "entries")
		storageField["basePath"] = basePath
		collection = filesystem.NewStore(basePath)
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "clipsync.db" // Default filename
		}
		storageField["dataSourceName"] = dataSourceName
		collection = sqlite.NewStore(dataSourceName)
	default:
		collection = memory.NewCollection()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use document collection")
	return collection
}

// GetBlobStore picks the blob store from BLOB_STORAGE_TYPE. Blobs kept by
// the service itself are addressed under localURL.
func GetBlobStore(localURL string) BlobStore {
	storageType := os.Getenv("BLOB_STORAGE_TYPE")
	var store BlobStore

	storageField := logrus.Fields{
		"blobStorageType": storageType,
	}

	switch storageType {
	case "filesystem":
		basePath := filepath.Join(localStoragePath(), "blobs")
		storageField["basePath"] = basePath
		store = filesystem.NewBlobStore(basePath, localURL)
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 blob storage")
		}
		storageField["bucketName"] = bucketName
		store = aws.NewStore(aws.Options{
			Bucket:        bucketName,
			Endpoint:      os.Getenv("S3_ENDPOINT"),
			PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
			LocalURL:      localURL,
		})
	default:
		store = memory.NewBlobStore(localURL)
		storageField["blobStorageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use blob storage")
	return store
}
