package aws

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

type s3BlobStore struct {
	s3Client  *s3.Client
	bucket    string
	publicURL string
}

// NewBlobStore creates a new S3-based blob store. publicBaseURL overrides
// the derived virtual-hosted URL, for buckets fronted by a CDN; pass "" to
// use the plain S3 URL.
func NewBlobStore(bucketName, publicBaseURL string) *s3BlobStore {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	if publicBaseURL == "" {
		publicBaseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucketName, cfg.Region)
	}

	return &s3BlobStore{
		s3Client:  s3.NewFromConfig(cfg),
		bucket:    bucketName,
		publicURL: strings.TrimSuffix(publicBaseURL, "/"),
	}
}

func (s *s3BlobStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	// PutObject overwrites unconditionally, which is the upsert behavior
	// the save path relies on: one live blob per record and category.
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob %s: %v", key, err)
	}

	logrus.WithFields(logrus.Fields{
		"bucket":      s.bucket,
		"key":         key,
		"data_length": len(data),
	}).Info("Blob uploaded")
	return nil
}

func (s *s3BlobStore) Download(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get blob %s: %v", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %v", key, err)
	}
	return data, nil
}

func (s *s3BlobStore) PublicURL(key string) string {
	return s.publicURL + "/" + key
}
