package backup

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/yourusername/craft-server-supervisor/internal/config"
	"github.com/yourusername/craft-server-supervisor/internal/logging"
)

// S3Destination stores archives in AWS S3 or S3-compatible storage
type S3Destination struct {
	cfg    config.BackupConfig
	client *s3.S3
	logger *slog.Logger
}

// NewS3Destination creates an S3 destination
func NewS3Destination(cfg config.BackupConfig) (*S3Destination, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.S3Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.S3AccessKey,
			cfg.S3SecretKey,
			"",
		),
	}

	// Custom endpoint for S3-compatible storage (MinIO, DigitalOcean Spaces)
	if cfg.S3Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.S3Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	logger := logging.Component("backup")
	logger.Info("s3 destination initialized", "bucket", cfg.S3Bucket, "region", cfg.S3Region)

	return &S3Destination{cfg: cfg, client: s3.New(sess), logger: logger}, nil
}

// Upload stores an archive in the bucket
func (sd *S3Destination) Upload(filename string, reader io.Reader, sizeBytes int64) error {
	key := path.Join(sd.cfg.Path, filename)

	// PutObject needs a seekable body
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}

	_, err = sd.client.PutObject(&s3.PutObjectInput{
		Bucket:        aws.String(sd.cfg.S3Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(sizeBytes),
		ContentType:   aws.String("application/zip"),
		StorageClass:  aws.String("STANDARD"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	sd.logger.Debug("archive uploaded", "bucket", sd.cfg.S3Bucket, "key", key, "bytes", sizeBytes)
	return nil
}

// Download streams an archive from the bucket
func (sd *S3Destination) Download(filename string, writer io.Writer) error {
	key := path.Join(sd.cfg.Path, filename)

	result, err := sd.client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(sd.cfg.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	if _, err := io.Copy(writer, result.Body); err != nil {
		return fmt.Errorf("failed to read S3 object: %w", err)
	}
	return nil
}

// Delete removes an archive from the bucket
func (sd *S3Destination) Delete(filename string) error {
	key := path.Join(sd.cfg.Path, filename)

	_, err := sd.client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(sd.cfg.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// List returns all archives under the configured prefix
func (sd *S3Destination) List() ([]File, error) {
	prefix := sd.cfg.Path
	if prefix != "" {
		prefix = prefix + "/"
	}

	result, err := sd.client.ListObjectsV2(&s3.ListObjectsV2Input{
		Bucket: aws.String(sd.cfg.S3Bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list S3 objects: %w", err)
	}

	var files []File
	for _, obj := range result.Contents {
		if *obj.Key == prefix {
			continue
		}
		files = append(files, File{
			Filename:  path.Base(*obj.Key),
			SizeBytes: *obj.Size,
			CreatedAt: obj.LastModified.Unix(),
		})
	}
	return files, nil
}

// Type returns the destination type
func (sd *S3Destination) Type() string {
	return "s3"
}
