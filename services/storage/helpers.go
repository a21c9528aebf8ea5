package storage

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/pkg/errors"

	"github.com/customeros/rfqstack/config"
	"github.com/customeros/rfqstack/interfaces"
	"github.com/customeros/rfqstack/internal/enum"
	"github.com/customeros/rfqstack/services/storage/aws_client"
)

// NewS3StorageService creates a StorageService configured for AWS S3
func NewS3StorageService(awsRegion, accessKeyID, accessKeySecret, bucketName string) interfaces.StorageService {
	s3Client := aws_client.NewS3Client(&aws.Config{
		Region:      aws.String(awsRegion),
		Credentials: credentials.NewStaticCredentials(accessKeyID, accessKeySecret, ""),
	})

	return NewStorageService(s3Client, StorageConfig{
		BucketName: bucketName,
		Backend:    enum.StorageS3,
	})
}

// NewR2StorageService creates a StorageService configured for Cloudflare R2
func NewR2StorageService(accountID, accessKeyID, accessKeySecret, bucketName string) interfaces.StorageService {
	r2Client := aws_client.NewS3Client(&aws.Config{
		Endpoint:         aws.String("https://" + accountID + ".r2.cloudflarestorage.com"),
		Region:           aws.String("auto"),
		Credentials:      credentials.NewStaticCredentials(accessKeyID, accessKeySecret, ""),
		S3ForcePathStyle: aws.Bool(true),
	})

	return NewStorageService(r2Client, StorageConfig{
		BucketName: bucketName,
		Backend:    enum.StorageR2,
	})
}

// NewStorageServiceFromConfig picks the attachment backend named by ATTACHMENT_STORAGE.
func NewStorageServiceFromConfig(cfg *config.Config) (interfaces.StorageService, error) {
	switch enum.StorageBackend(cfg.AttachmentConfig.Storage) {
	case enum.StorageS3:
		c := cfg.S3StorageConfig
		return NewS3StorageService(c.Region, c.AccessKeyID, c.AccessKeySecret, c.Bucket), nil
	case enum.StorageR2:
		c := cfg.R2StorageConfig
		if c.AccountID == "" {
			return nil, errors.New("CLOUDFLARE_R2_ACCOUNT_ID is required for r2 attachment storage")
		}
		return NewR2StorageService(c.AccountID, c.AccessKeyID, c.AccessKeySecret, c.AttachmentBucket), nil
	case enum.StorageLocal, "":
		return NewLocalStorageService(cfg.AttachmentConfig.LocalPath)
	default:
		return nil, errors.Errorf("unknown attachment storage %q", cfg.AttachmentConfig.Storage)
	}
}
