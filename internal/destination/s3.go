package destination

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/edvin/photovault/internal/retry"
)

// Files above this size go through multipart upload with per-part retry.
const multipartThreshold = 10 * 1024 * 1024

// partSize is the multipart chunk size. The S3 API minimum is 5 MiB for
// all parts but the last.
const partSize = 8 * 1024 * 1024

type S3Config struct {
	Bucket      string
	Region      string
	Endpoint    string
	AccessKey   string
	SecretKey   string
	PathStyle   bool
	UseTLS      bool
	RetryPolicy retry.Policy
}

// S3 targets any S3-compatible object store (AWS, Ceph RGW, MinIO).
type S3 struct {
	cfg    S3Config
	client *s3.Client
	policy retry.Policy
	logger zerolog.Logger
}

func NewS3(cfg S3Config, logger zerolog.Logger) *S3 {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.PathStyle,
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.Contains(endpoint, "://") {
			scheme := "https"
			if !cfg.UseTLS {
				scheme = "http"
			}
			endpoint = scheme + "://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
	}

	return &S3{
		cfg:    cfg,
		client: s3.New(opts),
		policy: cfg.RetryPolicy,
		logger: logger.With().Str("component", "s3-destination").Str("bucket", cfg.Bucket).Logger(),
	}
}

// TestConnection checks bucket existence and access permissions.
func (d *S3) TestConnection(ctx context.Context) error {
	_, err := d.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(d.cfg.Bucket),
	})
	if err != nil {
		return fmt.Errorf("S3 bucket %s not accessible: %w", d.cfg.Bucket, err)
	}
	return nil
}

func (d *S3) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}

	if info.Size() > multipartThreshold {
		return d.uploadMultipart(ctx, key, f)
	}

	return d.policy.Do(ctx, func(ctx context.Context) error {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind %s: %w", localPath, err)
		}
		_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(d.cfg.Bucket),
			Key:           aws.String(key),
			Body:          f,
			ContentLength: aws.Int64(info.Size()),
		})
		if err != nil {
			return fmt.Errorf("put object %s: %w", key, err)
		}
		return nil
	})
}

func (d *S3) UploadStream(ctx context.Context, key string, r io.Reader, size int64) error {
	if size > multipartThreshold {
		return d.uploadMultipart(ctx, key, r)
	}

	// Buffer small streams so each retry attempt re-sends from the start.
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read stream for %s: %w", key, err)
	}

	return d.policy.Do(ctx, func(ctx context.Context) error {
		_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(d.cfg.Bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(body),
			ContentLength: aws.Int64(int64(len(body))),
		})
		if err != nil {
			return fmt.Errorf("put object %s: %w", key, err)
		}
		return nil
	})
}

// uploadMultipart streams the reader as a multipart upload. Each part is
// retried independently; a part that still fails after the retry budget
// aborts the whole upload so no orphaned parts accumulate.
func (d *S3) uploadMultipart(ctx context.Context, key string, r io.Reader) error {
	create, err := d.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(d.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("create multipart upload %s: %w", key, err)
	}
	uploadID := create.UploadId

	var completed []s3types.CompletedPart
	buf := make([]byte, partSize)
	partNumber := int32(1)

	for {
		n, readErr := io.ReadFull(r, buf)
		if readErr == io.EOF {
			break
		}
		if readErr != nil && readErr != io.ErrUnexpectedEOF {
			d.abortMultipart(ctx, key, uploadID)
			return fmt.Errorf("read part %d of %s: %w", partNumber, key, readErr)
		}

		part := buf[:n]
		var etag *string
		err := d.policy.Do(ctx, func(ctx context.Context) error {
			out, err := d.client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:        aws.String(d.cfg.Bucket),
				Key:           aws.String(key),
				UploadId:      uploadID,
				PartNumber:    aws.Int32(partNumber),
				Body:          bytes.NewReader(part),
				ContentLength: aws.Int64(int64(n)),
			})
			if err != nil {
				return fmt.Errorf("upload part %d: %w", partNumber, err)
			}
			etag = out.ETag
			return nil
		})
		if err != nil {
			d.abortMultipart(ctx, key, uploadID)
			return fmt.Errorf("multipart upload %s: %w", key, err)
		}

		completed = append(completed, s3types.CompletedPart{
			ETag:       etag,
			PartNumber: aws.Int32(partNumber),
		})
		partNumber++

		if readErr == io.ErrUnexpectedEOF {
			break
		}
	}

	if len(completed) == 0 {
		// Zero-byte stream: nothing was read, fall back to an empty put.
		d.abortMultipart(ctx, key, uploadID)
		_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(d.cfg.Bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(nil),
			ContentLength: aws.Int64(0),
		})
		if err != nil {
			return fmt.Errorf("put empty object %s: %w", key, err)
		}
		return nil
	}

	_, err = d.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(d.cfg.Bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
		MultipartUpload: &s3types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		d.abortMultipart(ctx, key, uploadID)
		return fmt.Errorf("complete multipart upload %s: %w", key, err)
	}

	d.logger.Debug().Str("key", key).Int32("parts", partNumber-1).Msg("multipart upload complete")
	return nil
}

func (d *S3) abortMultipart(ctx context.Context, key string, uploadID *string) {
	_, err := d.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(d.cfg.Bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("key", key).Msg("failed to abort multipart upload")
	}
}

func (d *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "404") {
			return false, nil
		}
		return false, fmt.Errorf("head object %s: %w", key, err)
	}
	return true, nil
}

func (d *S3) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return out.Body, nil
}

func (d *S3) Delete(ctx context.Context, key string) error {
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (d *S3) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.cfg.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, Object{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}
	}
	return objects, nil
}

func (d *S3) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", d.cfg.Bucket, key)
}
