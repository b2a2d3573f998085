package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config locates the archive object. Credentials always come from the
// default AWS chain.
type S3Config struct {
	Bucket string
	Key    string
	Region string
	// Endpoint targets an S3-compatible store such as MinIO and turns on
	// path-style addressing.
	Endpoint string
}

// S3Destination uploads snapshots as one object, skipping uploads whose
// content matches the previous one.
type S3Destination struct {
	client *s3.Client
	cfg    S3Config

	mu   sync.Mutex
	last string // sha256 of the last uploaded snapshot
}

func NewS3Destination(ctx context.Context, cfg S3Config) (*S3Destination, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive: s3 bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, err
	}
	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return &S3Destination{client: s3.NewFromConfig(awsCfg, opts...), cfg: cfg}, nil
}

func (d *S3Destination) Name() string { return "s3://" + d.cfg.Bucket + "/" + d.cfg.Key }

func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	d.mu.Lock()
	defer d.mu.Unlock()
	if digest == d.last {
		return nil
	}
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.cfg.Bucket),
		Key:         aws.String(d.cfg.Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
		Metadata:    map[string]string{"sentinel-sha256": digest},
	})
	if err != nil {
		return err
	}
	d.last = digest
	return nil
}
