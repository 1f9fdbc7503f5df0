package checkpoint

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Backend writes each checkpoint as one object under bucket/prefix/key.
// Grounded on aistore's own cloud-backend-to-S3 adapter shape (a thin
// client wrapper over aws-sdk-go-v2), repurposed here for a single
// best-effort PutObject rather than aistore's full multi-backend object
// store.
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Backend loads the default AWS credential chain (env vars, shared
// config, instance profile) the way aws-sdk-go-v2 always does.
func NewS3Backend(ctx context.Context, bucket, prefix string) (*S3Backend, error) {
	if bucket == "" {
		return nil, fmt.Errorf("checkpoint: s3 backend requires a bucket")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: loading aws config: %w", err)
	}
	return &S3Backend{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

func (b *S3Backend) Put(ctx context.Context, key string, data []byte) error {
	objKey := key
	if b.prefix != "" {
		objKey = b.prefix + "/" + key
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objKey),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (b *S3Backend) Close() error { return nil }

var _ Backend = (*S3Backend)(nil)
