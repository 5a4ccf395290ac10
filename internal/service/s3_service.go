// internal/service/s3_service.go
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"cloudshare-backend/internal/apperr"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Service wraps the S3 client and implements BlobStore
type S3Service struct {
	s3Client      *s3.Client
	presignClient *s3.PresignClient
	bucketName    string
}

// NewS3Service creates a new S3 service
func NewS3Service(s3Client *s3.Client, bucketName string) *S3Service {
	return &S3Service{
		s3Client: s3Client,
		// The PresignClient is what actually signs the URLs
		presignClient: s3.NewPresignClient(s3Client),
		bucketName:    bucketName,
	}
}

// NewS3ServiceFromRegion builds the client from the default AWS credential chain
func NewS3ServiceFromRegion(ctx context.Context, region, bucketName string) (*S3Service, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3Service(s3.NewFromConfig(awsCfg), bucketName), nil
}

func (s *S3Service) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if key == "" {
		return apperr.New(apperr.KindBlob, "object key cannot be empty")
	}

	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		log.Printf("Error uploading object %s: %v", key, err)
		return apperr.Wrap(apperr.KindBlob, err, "failed to upload file")
	}
	return nil
}

// Delete removes the object. S3 deletes are idempotent, so existence is
// checked first to report missing objects.
func (s *S3Service) Delete(ctx context.Context, key string) error {
	_, err := s.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return apperr.Newf(apperr.KindNotFound, "object '%s' not found", key)
		}
		log.Printf("Error checking object %s: %v", key, err)
		return apperr.Wrap(apperr.KindBlob, err, "failed to check file in storage")
	}

	_, err = s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		log.Printf("Error deleting object %s: %v", key, err)
		return apperr.Wrap(apperr.KindBlob, err, "failed to delete file from storage")
	}
	return nil
}

func (s *S3Service) SignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", apperr.New(apperr.KindBlob, "object key cannot be empty")
	}

	request, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		log.Printf("Error generating presigned GET URL for %s: %v", key, err)
		return "", apperr.Wrap(apperr.KindBlob, err, "failed to generate download URL")
	}

	return request.URL, nil
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
