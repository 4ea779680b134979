package loader

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/rotblauer/geotiles/params"
	"github.com/rotblauer/geotiles/tile"
)

// s3Getter is the slice of the S3 API the source uses.
type s3Getter interface {
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
}

// S3Source reads tiles from a bucket, eg. s3://my-tiles/osm/{z}/{x}/{y}.png.
// Credentials come from the usual AWS environment and config files.
type S3Source struct {
	svc      s3Getter
	bucket   string
	template *tile.Template
}

func NewS3Source(config *params.SourceConfig) (*S3Source, error) {
	bucket, pattern, err := splitS3URL(config.URL)
	if err != nil {
		return nil, err
	}
	tmpl, err := templateFor(pattern, config)
	if err != nil {
		return nil, err
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(config.S3Region)})
	if err != nil {
		return nil, fmt.Errorf("%w: s3 session: %v", params.ErrInvalidConfig, err)
	}
	return &S3Source{svc: s3.New(sess), bucket: bucket, template: tmpl}, nil
}

func splitS3URL(u string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(u, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: s3 url %q wants s3://bucket/key-template", params.ErrInvalidConfig, u)
	}
	return bucket, key, nil
}

func (s *S3Source) Describe() string {
	return "s3://" + s.bucket + "/" + s.template.Pattern()
}

func (s *S3Source) Fetch(ctx context.Context, a tile.Address) ([]byte, error) {
	key := s.template.Format(a)
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchKey, "NotFound":
				return nil, fmt.Errorf("%w: s3://%s/%s", ErrTileNotFound, s.bucket, key)
			}
		}
		return nil, fmt.Errorf("%w: s3://%s/%s: %v", ErrFetch, s.bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(io.LimitReader(out.Body, maxTileBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: s3://%s/%s: %v", ErrFetch, s.bucket, key, err)
	}
	return data, nil
}
