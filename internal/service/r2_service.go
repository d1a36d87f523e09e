package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	cfg "github.com/maheshrc27/postflow/configs"
)

// MediaLinker turns an object storage key into a URL the platform can fetch.
type MediaLinker interface {
	PresignGetURL(ctx context.Context, key string) (string, error)
}

type R2Service struct {
	presigner *s3.PresignClient
	bucket    string
	ttl       time.Duration
}

func NewR2Service(ctx context.Context, r2 cfg.R2) (*R2Service, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(r2.AccessKey, r2.SecretKey, "")),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load r2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", r2.AccountID))
		o.UsePathStyle = true
	})

	ttl := r2.PresignTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &R2Service{
		presigner: s3.NewPresignClient(client),
		bucket:    r2.BucketName,
		ttl:       ttl,
	}, nil
}

// PresignGetURL returns a time-limited GET URL for key.
func (r *R2Service) PresignGetURL(ctx context.Context, key string) (string, error) {
	req, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(r.ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return req.URL, nil
}
