package publish

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rohanthewiz/serr"
	"github.com/spf13/afero"

	"postalgic/syncpub"
)

// S3Config locates a bucket. Endpoint is set for S3-compatible services
// (MinIO, R2...), which also switches to path-style addressing.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
}

// S3API is the part of the S3 client the publisher calls.
type S3API interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Publisher uploads a site to an object storage bucket.
type S3Publisher struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Publisher builds the S3 client. Static credentials are used when
// given, the default AWS credential chain otherwise.
func NewS3Publisher(ctx context.Context, cfg S3Config) (*S3Publisher, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, serr.Wrap(err, "failed to load AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3PublisherWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3PublisherWithClient publishes through an existing client.
func NewS3PublisherWithClient(client S3API, bucket, prefix string) *S3Publisher {
	return &S3Publisher{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (p *S3Publisher) Name() string { return "s3" }

func (p *S3Publisher) key(rel string) string {
	if p.prefix == "" {
		return rel
	}
	return p.prefix + "/" + rel
}

func (p *S3Publisher) Upload(ctx context.Context, fsys afero.Fs, dir string, progress UploadProgress) error {
	uploaded := make(map[string]bool)
	err := uploadEach(ctx, fsys, dir, progress, func(ctx context.Context, rel string, data []byte) error {
		_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(p.bucket),
			Key:           aws.String(p.key(rel)),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String(contentType(rel)),
		})
		if err == nil {
			uploaded[rel] = true
		}
		return err
	})
	if err != nil {
		return err
	}

	_, err = pruneStaleSync(ctx, uploaded, p.listSync, func(ctx context.Context, rel string) error {
		_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(p.key(rel)),
		})
		return err
	})
	return err
}

// listSync returns the published sync objects relative to the prefix.
func (p *S3Publisher) listSync(ctx context.Context) ([]string, error) {
	var rels []string
	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(p.key(syncpub.SyncDir + "/")),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if p.prefix != "" {
				key = strings.TrimPrefix(key, p.prefix+"/")
			}
			rels = append(rels, key)
		}
	}
	return rels, nil
}

func (p *S3Publisher) FetchExistingManifest(ctx context.Context) ([]byte, error) {
	resp, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(manifestRel)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, serr.Wrap(err, "failed to fetch published manifest")
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, serr.Wrap(err, "failed to read published manifest")
	}
	return b, nil
}

// contentType guesses a MIME type from the file extension.
func contentType(rel string) string {
	if strings.HasSuffix(rel, ".enc") {
		return "application/octet-stream"
	}
	if t := mime.TypeByExtension(path.Ext(rel)); t != "" {
		return t
	}
	return "application/octet-stream"
}
