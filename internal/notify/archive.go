package notify

import (
	"bytes"
	"context"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oszuidwest/zwfm-soundwatch/internal/types"
	"github.com/oszuidwest/zwfm-soundwatch/internal/util"
)

const defaultS3Prefix = "alerts/"

// ObjectStore is the subset of *s3.Client used by the archive.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client creates an S3 client with static credentials. A custom
// endpoint switches to path-style addressing for S3-compatible stores.
func NewS3Client(cfg *types.S3Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = "auto"
		},
	}
	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.New(s3.Options{}, options...)
}

// S3IsConfigured reports whether clips should be archived.
func S3IsConfigured(cfg *types.S3Config) bool {
	return util.IsConfigured(cfg.Bucket, cfg.AccessKeyID, cfg.SecretAccessKey)
}

// ArchiveKeys returns the object keys for an alert's clip and plot,
// grouped per day: <prefix>2006-01-02/<id>-clip.<ext>.
func ArchiveKeys(prefix string, alert *types.Alert) (clipKey, plotKey string) {
	if prefix == "" {
		prefix = defaultS3Prefix
	}
	dir := path.Join(strings.TrimSuffix(prefix, "/"), alert.At.UTC().Format("2006-01-02"))
	if alert.Clip != nil {
		clipKey = path.Join(dir, alert.ID+"-"+alert.Clip.Filename)
	}
	plotKey = path.Join(dir, alert.ID+"-plot.png")
	return clipKey, plotKey
}

// ArchiveAlert uploads the alert's clip and plot to the bucket.
func ArchiveAlert(ctx context.Context, store ObjectStore, cfg *types.S3Config, alert *types.Alert) error {
	clipKey, plotKey := ArchiveKeys(cfg.Prefix, alert)
	if alert.Clip != nil {
		if err := putObject(ctx, store, cfg.Bucket, clipKey, alert.Clip.MIME, alert.Clip.Data); err != nil {
			return err
		}
	}
	if len(alert.Plot) > 0 {
		if err := putObject(ctx, store, cfg.Bucket, plotKey, "image/png", alert.Plot); err != nil {
			return err
		}
	}
	return nil
}

func putObject(ctx context.Context, store ObjectStore, bucket, key, contentType string, data []byte) error {
	_, err := store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return util.WrapError("upload "+key, err)
	}
	return nil
}
