package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ErrNotFound is returned when a remote object does not exist.
var ErrNotFound = errors.New("object not found")

const (
	uploadPartSize = 64 * 1024 * 1024
	// Objects above this size cannot be copied with a single CopyObject call.
	maxSingleCopySize = 5 * 1024 * 1024 * 1024
	copyPartSize      = 512 * 1024 * 1024
	deleteBatchSize   = 1000
)

type ObjectInfo struct {
	Size         int64
	StorageClass string
}

type Object struct {
	// Path is relative to the backend prefix.
	Path         string
	Size         int64
	LastModified time.Time
}

// Backend stores archives under paths relative to a bucket prefix. The slot
// passed to Upload and Copy is recorded as an object tag.
type Backend interface {
	Upload(ctx context.Context, r io.Reader, remotePath, slot string, storageClass types.StorageClass) error
	Copy(ctx context.Context, srcPath, dstPath, slot string, storageClass types.StorageClass) error
	List(ctx context.Context, dir string) ([]Object, error)
	Delete(ctx context.Context, remotePaths ...string) error
	Download(ctx context.Context, remotePath, localPath string) error
	Head(ctx context.Context, remotePath string) (*ObjectInfo, error)
	VerifyCredentials(ctx context.Context) error
	URI(remotePath string) string
}

type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

func NewS3(ctx context.Context, bucket, region, prefix, endpoint string, maxRetryAttempts int) (*S3, error) {
	var configOpts []func(*awsconfig.LoadOptions) error
	configOpts = append(configOpts, awsconfig.WithRegion(region))

	if maxRetryAttempts > 0 {
		configOpts = append(configOpts,
			awsconfig.WithRetryMaxAttempts(maxRetryAttempts),
			awsconfig.WithRetryMode(aws.RetryModeStandard),
		)
		slog.Debug("Configured S3 retry strategy", "mode", "standard", "maxAttempts", maxRetryAttempts)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if endpoint != "" {
		if accessKey := os.Getenv("AWS_ACCESS_KEY_ID"); accessKey != "" {
			if secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY"); secretKey != "" {
				cfg.Credentials = credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
			}
		}
	}

	var client *s3.Client
	if endpoint != "" {
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
		slog.Info("S3 client initialized with custom endpoint", "endpoint", endpoint)
	} else {
		client = s3.NewFromConfig(cfg)
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = uploadPartSize
		u.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenSupported
	})

	return &S3{
		client:   client,
		uploader: uploader,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}, nil
}

func (s *S3) key(remotePath string) string {
	return path.Join(s.prefix, remotePath)
}

func (s *S3) URI(remotePath string) string {
	return "s3://" + path.Join(s.bucket, s.key(remotePath))
}

func slotTag(slot string) string {
	if slot == "" {
		slot = "primary"
	}
	return "backup-slot=" + url.QueryEscape(slot)
}

// Upload streams r to remotePath. r does not need to be seekable; the
// upload manager buffers it part by part.
func (s *S3) Upload(ctx context.Context, r io.Reader, remotePath, slot string, storageClass types.StorageClass) error {
	key := s.key(remotePath)

	input := &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         r,
		StorageClass: storageClass,
		Tagging:      aws.String(slotTag(slot)),
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	slog.Info("Uploaded to S3", "bucket", s.bucket, "key", key, "storageClass", storageClass)
	return nil
}

func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

func (s *S3) Copy(ctx context.Context, srcPath, dstPath, slot string, storageClass types.StorageClass) error {
	srcKey, dstKey := s.key(srcPath), s.key(dstPath)

	info, err := s.Head(ctx, srcPath)
	if err != nil {
		return err
	}

	if info.Size > maxSingleCopySize {
		if err := s.multipartCopy(ctx, srcKey, dstKey, info.Size, slot, storageClass); err != nil {
			return err
		}
	} else {
		_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:           aws.String(s.bucket),
			Key:              aws.String(dstKey),
			CopySource:       aws.String(copySource(s.bucket, srcKey)),
			StorageClass:     storageClass,
			TaggingDirective: types.TaggingDirectiveReplace,
			Tagging:          aws.String(slotTag(slot)),
		})
		if err != nil {
			return fmt.Errorf("failed to copy %s to %s: %w", srcKey, dstKey, err)
		}
	}

	slog.Info("Copied S3 object", "bucket", s.bucket, "from", srcKey, "to", dstKey, "storageClass", storageClass)
	return nil
}

func (s *S3) multipartCopy(ctx context.Context, srcKey, dstKey string, size int64, slot string, storageClass types.StorageClass) error {
	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(dstKey),
		StorageClass: storageClass,
		Tagging:      aws.String(slotTag(slot)),
	})
	if err != nil {
		return fmt.Errorf("failed to start multipart copy to %s: %w", dstKey, err)
	}

	abort := func(cause error) error {
		_, abortErr := s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(dstKey),
			UploadId: created.UploadId,
		})
		if abortErr != nil {
			slog.Warn("Failed to abort multipart copy", "key", dstKey, "error", abortErr)
		}
		return cause
	}

	var parts []types.CompletedPart
	for start, number := int64(0), int32(1); start < size; start, number = start+copyPartSize, number+1 {
		end := min(start+copyPartSize, size) - 1

		out, err := s.client.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
			Bucket:          aws.String(s.bucket),
			Key:             aws.String(dstKey),
			UploadId:        created.UploadId,
			PartNumber:      aws.Int32(number),
			CopySource:      aws.String(copySource(s.bucket, srcKey)),
			CopySourceRange: aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
		})
		if err != nil {
			return abort(fmt.Errorf("failed to copy part %d of %s: %w", number, srcKey, err))
		}

		parts = append(parts, types.CompletedPart{
			ETag:       out.CopyPartResult.ETag,
			PartNumber: aws.Int32(number),
		})
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(dstKey),
		UploadId:        created.UploadId,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return abort(fmt.Errorf("failed to complete multipart copy to %s: %w", dstKey, err))
	}
	return nil
}

// List returns the objects directly or indirectly below dir.
func (s *S3) List(ctx context.Context, dir string) ([]Object, error) {
	prefix := s.key(dir) + "/"
	if prefix == "/" {
		prefix = ""
	}

	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", s.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(strings.TrimPrefix(key, s.prefix), "/")
			objects = append(objects, Object{
				Path:         rel,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

func (s *S3) Delete(ctx context.Context, remotePaths ...string) error {
	for start := 0; start < len(remotePaths); start += deleteBatchSize {
		batch := remotePaths[start:min(start+deleteBatchSize, len(remotePaths))]

		ids := make([]types.ObjectIdentifier, 0, len(batch))
		for _, p := range batch {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(s.key(p))})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects: %w", err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("failed to delete %d object(s), first %s: %s", len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
		}
		for _, id := range ids {
			slog.Info("Deleted S3 object", "bucket", s.bucket, "key", aws.ToString(id.Key))
		}
	}
	return nil
}

func (s *S3) Download(ctx context.Context, remotePath, localPath string) error {
	key := s.key(remotePath)

	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer file.Close()

	downloader := manager.NewDownloader(s.client)
	numBytes, err := downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%s: %w", s.URI(remotePath), ErrNotFound)
		}
		return fmt.Errorf("failed to download from S3: %w", err)
	}

	slog.Info("Downloaded from S3", "bucket", s.bucket, "key", key, "bytes", numBytes)
	return nil
}

func (s *S3) Head(ctx context.Context, remotePath string) (*ObjectInfo, error) {
	key := s.key(remotePath)

	output, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", s.URI(remotePath), ErrNotFound)
		}
		return nil, fmt.Errorf("failed to head object %s: %w", key, err)
	}

	info := &ObjectInfo{StorageClass: string(output.StorageClass)}
	if output.ContentLength != nil {
		info.Size = *output.ContentLength
	}
	return info, nil
}

func (s *S3) VerifyCredentials(ctx context.Context) error {
	slog.Info("Verifying AWS credentials and bucket access", "bucket", s.bucket)

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to verify AWS credentials or bucket access: %w", err)
	}

	slog.Info("AWS credentials verified successfully", "bucket", s.bucket)
	return nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func ValidateStorageClass(storageClass string) error {
	if storageClass == "GLACIER" || storageClass == "DEEP_ARCHIVE" {
		return fmt.Errorf("storage class %s is not immediately accessible (requires restore)", storageClass)
	}
	return nil
}
