package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3Store serves objects under Bucket/Prefix. Reads are ranged GETs, so a
// session only ever pulls the bytes a client asked for.
type S3Store struct {
	client     *s3.Client
	downloader *manager.Downloader
	bucket     string
	prefix     string
}

func NewS3Store(ctx context.Context, bucket, prefix, profile string) (*S3Store, error) {
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	opts := []func(*config.LoadOptions) error{config.WithRetryMode("adaptive")}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %v", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Store{
		client: client,
		downloader: manager.NewDownloader(client, func(d *manager.Downloader) {
			d.Concurrency = 1
		}),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

func (s *S3Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *S3Store) Open(ctx context.Context, name string) (File, error) {
	key := s.key(name)
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: s3://%s/%s: %v", ErrNotFound, s.bucket, key, err)
	}
	size := int64(0)
	if head.ContentLength != nil {
		size = *head.ContentLength
	}
	log.Debug().Str("op", "store/s3").Msgf("opened s3://%s/%s (%d bytes)", s.bucket, key, size)
	return &s3Object{ctx: ctx, store: s, key: key, size: size}, nil
}

type s3Object struct {
	ctx    context.Context
	store  *S3Store
	key    string
	size   int64
	offset int64
}

func (o *s3Object) Size() int64 {
	return o.size
}

func (o *s3Object) Read(p []byte) (int, error) {
	if o.offset >= o.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	last := min(o.offset+int64(len(p)), o.size) - 1
	buf := manager.NewWriteAtBuffer(make([]byte, 0, last-o.offset+1))
	n, err := o.store.downloader.Download(o.ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(o.store.bucket),
		Key:    aws.String(o.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", o.offset, last)),
	})
	if err != nil {
		return 0, fmt.Errorf("error reading s3://%s/%s: %w", o.store.bucket, o.key, err)
	}
	copied := copy(p, buf.Bytes()[:n])
	o.offset += int64(copied)
	return copied, nil
}

func (o *s3Object) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = o.offset + offset
	case io.SeekEnd:
		next = o.size + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative position %d", next)
	}
	o.offset = next
	return next, nil
}

func (o *s3Object) Close() error {
	return nil
}
