package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// FolderReports is the S3 prefix for report exports.
const FolderReports = "reports"

// ContentTypeCSV is the content type of exported reports.
const ContentTypeCSV = "text/csv; charset=utf-8"

// S3Config holds S3 client configuration.
type S3Config struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ReportsBucket        string
	PresignExpireMinutes int
}

// S3 uploads report exports and signs download links for them.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	presign  *s3.PresignClient
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client. Static credentials from config are used when
// set, otherwise the default credential chain.
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
		logger.Info("S3 client using static credentials", zap.String("region", cfg.Region), zap.String("reports_bucket", cfg.ReportsBucket))
	} else {
		logger.Warn("S3 client using default credential chain")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		presign:  s3.NewPresignClient(client),
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// ReportKey returns reports/{kind}/{export_id}.csv.
func ReportKey(kind, exportID string) string {
	return path.Join(FolderReports, kind, exportID+".csv")
}

// ReportsBucket returns the bucket report exports are written to.
func (s *S3) ReportsBucket() string { return s.cfg.ReportsBucket }

// PresignExpire returns the configured lifetime of download links.
func (s *S3) PresignExpire() time.Duration {
	if s.cfg.PresignExpireMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.cfg.PresignExpireMinutes) * time.Minute
}

// UploadReport stores a rendered report and returns a signed download URL.
func (s *S3) UploadReport(ctx context.Context, key string, body []byte) (string, error) {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(s.cfg.ReportsBucket),
		Key:                aws.String(key),
		Body:               bytes.NewReader(body),
		ContentType:        aws.String(ContentTypeCSV),
		ContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", path.Base(key))),
	})
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	s.logger.Debug("report uploaded", zap.String("key", key), zap.Int("bytes", len(body)))
	return s.PresignedDownloadURL(ctx, key)
}

// PresignedDownloadURL returns a pre-signed GET URL for a report object.
func (s *S3) PresignedDownloadURL(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.ReportsBucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.PresignExpire()
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}
