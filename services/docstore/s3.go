package docsvc

import (
	"context"
	"errors"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

// S3API is the part of the s3 client used by the store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type s3Store struct {
	client S3API
	bucket string
	prefix string
}

var _ core.DocumentStore = (*s3Store)(nil)

// NewS3Store loads the AWS config from the environment (AWS_REGION, credentials chain...).
func NewS3Store(ctx context.Context, conf *core.Config) (core.DocumentStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "loading aws config")
	}
	return NewS3StoreWithClient(s3.NewFromConfig(cfg), conf.Documents.S3Bucket, conf.Documents.S3Prefix), nil
}

func NewS3StoreWithClient(client S3API, bucket, prefix string) core.DocumentStore {
	return &s3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *s3Store) key(ref string) string {
	return path.Join(s.prefix, ref)
}

func (s *s3Store) Save(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	ref := newRef(filename)
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
		Body:   r,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", pkgerrors.Wrapf(err, "putting object %s", ref)
	}
	return ref, nil
}

func (s *s3Store) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if !validRef(ref) {
		return nil, core.ErrDocumentNotFound
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, core.ErrDocumentNotFound
		}
		return nil, pkgerrors.Wrapf(err, "getting object %s", ref)
	}
	return out.Body, nil
}
