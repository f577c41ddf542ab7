// Package objectstore implements the Object Storage Gateway (§4.2) over
// any S3-compatible endpoint.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/forgectl/forge3d/internal/core/domain"
)

type Gateway struct {
	client     *s3.Client
	bucket     string
	publicBase string
}

func New(endpoint, region, bucket, accessKey, secretKey, publicBase string) (*Gateway, error) {
	if bucket == "" {
		return nil, fmt.Errorf("objectstore: bucket is required")
	}

	opts := s3.Options{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
	}
	if endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}

	return &Gateway{
		client:     s3.New(opts),
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
	}, nil
}

func (g *Gateway) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return domain.Classify(domain.KindRetryable, "upload object", err)
	}
	return nil
}

func (g *Gateway) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, domain.Classify(domain.KindRetryable, "download object", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, domain.Classify(domain.KindRetryable, "read object body", err)
	}
	return data, nil
}

// Delete is used both by the orchestrator's direct cleanup path and by the
// orphan sweeper's retried cleanup (§4.9); failures here are what drive an
// OrphanedFile row in the first place, so the caller owns that bookkeeping.
func (g *Gateway) Delete(ctx context.Context, key string) error {
	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return domain.Classify(domain.KindOrphanedStorage, "delete object", err)
	}
	return nil
}

func (g *Gateway) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	presign := s3.NewPresignClient(g.client)
	req, err := presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", domain.Classify(domain.KindRetryable, "presign object", err)
	}
	return req.URL, nil
}

func (g *Gateway) PublicURL(key string) string {
	if g.publicBase != "" {
		return fmt.Sprintf("%s/%s", g.publicBase, key)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", g.bucket, key)
}
