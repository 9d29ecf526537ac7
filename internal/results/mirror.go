package results

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"workshop/internal/config"
	"workshop/internal/logging"
	"workshop/internal/services"
)

const (
	mirrorPartSize    = 64 * 1024 * 1024
	mirrorConcurrency = 4
)

// Mirror copies a committed result directory to secondary storage.
type Mirror interface {
	Upload(ctx context.Context, jobID, dir string) error
}

// S3Mirror uploads result directories to an S3-compatible bucket under
// <prefix>/<job_id>/.
type S3Mirror struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
	logger   *slog.Logger
}

// NewS3Mirror connects to the configured bucket. A custom endpoint switches
// to path-style addressing for MinIO and similar servers.
func NewS3Mirror(storage config.Storage, logger *slog.Logger) *S3Mirror {
	client := s3.NewFromConfig(aws.Config{Region: storage.S3Region}, func(o *s3.Options) {
		if storage.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(storage.S3Endpoint)
			o.UsePathStyle = true
		}
		o.Credentials = credentials.NewStaticCredentialsProvider(storage.S3AccessKey, storage.S3SecretKey, "")
	})
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = mirrorPartSize
	})
	return &S3Mirror{
		uploader: uploader,
		bucket:   storage.S3Bucket,
		prefix:   strings.Trim(storage.S3Prefix, "/"),
		logger:   logging.NewComponentLogger(logger, "mirror"),
	}
}

// Key returns the object key for a file relative to a job directory.
func (m *S3Mirror) Key(jobID, rel string) string {
	return path.Join(m.prefix, jobID, filepath.ToSlash(rel))
}

// Upload sends every regular file under dir.
func (m *S3Mirror) Upload(ctx context.Context, jobID, dir string) error {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return services.Wrap(services.ErrTransfer, "mirror", "scan", dir, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mirrorConcurrency)
	for _, file := range files {
		g.Go(func() error {
			rel, err := filepath.Rel(dir, file)
			if err != nil {
				return err
			}
			return m.uploadFile(gctx, file, m.Key(jobID, rel))
		})
	}
	if err := g.Wait(); err != nil {
		return services.Wrap(services.ErrTransfer, "mirror", "upload", fmt.Sprintf("s3://%s for %s", m.bucket, jobID), err)
	}
	m.logger.Info("results mirrored",
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldEventType, "mirror_complete"),
		logging.String("bucket", m.bucket),
		logging.Int("files", len(files)),
	)
	return nil
}

func (m *S3Mirror) uploadFile(ctx context.Context, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
