package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// GCSStore stores shards in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore opens a bucket handle. An empty credentialsFile falls back to
// application default credentials.
func NewGCSStore(ctx context.Context, bucket, credentialsFile string) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		log.Error().Err(err).Str("bucket", bucket).Msg("failed to create storage client")
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	log.Info().Str("bucket", bucket).Msg("gcs store initialized")
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Get downloads key. Version is the object generation, which XML and JSON
// reads agree on; their modification times differ in precision.
func (s *GCSStore) Get(ctx context.Context, key string) (*Object, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return &Object{
		Key:          key,
		Body:         body,
		Version:      strconv.FormatInt(r.Attrs.Generation, 10),
		LastModified: r.Attrs.LastModified,
	}, nil
}

func (s *GCSStore) Head(ctx context.Context, key string) (*Object, error) {
	attrs, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("head %s: %w", key, err)
	}
	return &Object{
		Key:          key,
		Version:      strconv.FormatInt(attrs.Generation, 10),
		LastModified: attrs.Updated,
	}, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, body []byte) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
