package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"clipsync/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// Options configures the S3 blob store.
type Options struct {
	Bucket string
	// Endpoint overrides the S3 endpoint (e.g. a MinIO server) and switches
	// to path-style addressing.
	Endpoint string
	// PublicBaseURL, when set, is used to build download URLs straight
	// from the bucket (bucket behind a CDN or with public reads).
	PublicBaseURL string
	// LocalURL is where the service serves blobs itself. Entries persist
	// their URL, so it must not expire.
	LocalURL string
}

type s3Store struct {
	s3Client *s3.Client
	opts     Options
}

// NewStore creates a new S3-based blob store from the default AWS config.
func NewStore(opts Options) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		logrus.Fatalf("unable to load SDK config, %v", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newStore(client, opts)
}

func newStore(client *s3.Client, opts Options) *s3Store {
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	opts.LocalURL = strings.TrimRight(opts.LocalURL, "/")
	return &s3Store{
		s3Client: client,
		opts:     opts,
	}
}

func (s *s3Store) Upload(ctx context.Context, folder string, data []byte, contentType string) (*core.UploadResult, error) {
	key, err := core.NewBlobKey(folder, contentType)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"bucket": s.opts.Bucket, "key": key, "size": len(data)})

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.s3Client.PutObject(ctx, input); err != nil {
		log.WithError(err).Error("Failed to upload blob")
		return nil, fmt.Errorf("failed to upload blob %s: %w", key, err)
	}

	log.Info("Blob uploaded")
	return &core.UploadResult{Key: key, Size: int64(len(data)), ContentType: contentType}, nil
}

func (s *s3Store) ResolveURL(_ context.Context, result *core.UploadResult) (string, error) {
	if err := core.ValidateKey(result.Key); err != nil {
		return "", err
	}
	if s.opts.PublicBaseURL != "" {
		return s.opts.PublicBaseURL + "/" + result.Key, nil
	}
	return s.opts.LocalURL + "/" + result.Key, nil
}

func (s *s3Store) List(ctx context.Context, folder string) ([]core.Object, error) {
	if err := core.ValidateKey(folder); err != nil {
		return nil, err
	}

	objects := make([]core.Object, 0)
	paginator := s3.NewListObjectsV2Paginator(s.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.opts.Bucket),
		Prefix: aws.String(core.FolderPrefix(folder)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs under %s: %w", folder, err)
		}
		for _, object := range page.Contents {
			objects = append(objects, core.Object{
				Key:  aws.ToString(object.Key),
				Size: aws.ToInt64(object.Size),
			})
		}
	}
	return objects, nil
}

func (s *s3Store) Delete(ctx context.Context, key string) error {
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

func (s *s3Store) Get(ctx context.Context, key string) (*core.Blob, error) {
	if err := core.ValidateKey(key); err != nil {
		return nil, err
	}
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get blob %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob data: %w", err)
	}

	contentType := aws.ToString(resp.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &core.Blob{Key: key, ContentType: contentType, Data: data}, nil
}
