package s3

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/thomasrockhu-codecov/cradle/internal/circuit"
	"github.com/thomasrockhu-codecov/cradle/internal/service"
	"github.com/thomasrockhu-codecov/cradle/pkg/errors"
	"github.com/thomasrockhu-codecov/cradle/pkg/id"
	"github.com/thomasrockhu-codecov/cradle/pkg/retry"
	"github.com/thomasrockhu-codecov/cradle/pkg/types"
	"github.com/thomasrockhu-codecov/cradle/pkg/utils"
)

// BlobSource fetches immutable objects from S3. It is the remote producer
// behind FetchBlob. Transient failures are retried with backoff, and a
// circuit breaker fails fetches fast while the bucket keeps failing.
type BlobSource struct {
	client  API
	config  *Config
	logger  *utils.StructuredLogger
	retryer *retry.Retryer
	breaker *circuit.Breaker
	metrics metricsRecorder
}

var _ types.BlobFetcher = (*BlobSource)(nil)

// NewBlobSource creates a blob source backed by a real S3 client.
func NewBlobSource(ctx context.Context, cfg *Config, logger *utils.StructuredLogger) (*BlobSource, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewBlobSourceWithClient(client, cfg, logger), nil
}

// NewBlobSourceWithClient creates a blob source around an existing client.
func NewBlobSourceWithClient(client API, cfg *Config, logger *utils.StructuredLogger) *BlobSource {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	b := &BlobSource{
		client: client,
		config: cfg,
		logger: logger.WithComponent("s3"),
	}

	retryConfig := retry.DefaultConfig()
	if cfg.MaxRetries > 0 {
		retryConfig.MaxAttempts = cfg.MaxRetries
	}
	if cfg.RetryDelay > 0 {
		retryConfig.InitialDelay = cfg.RetryDelay
	}
	retryConfig.OnRetry = func(attempt int, err error, delay time.Duration) {
		b.metrics.recordRetry()
		b.logger.Debug("retrying object fetch", map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err,
		})
	}
	b.retryer = retry.New(retryConfig)

	b.breaker = circuit.NewBreaker("s3", circuit.Config{
		Timeout: cfg.BreakerTimeout,
		OnStateChange: func(name string, from, to circuit.State) {
			b.logger.Warn("circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return b
}

// FetchObject downloads the whole object at bucket/key.
func (b *BlobSource) FetchObject(ctx context.Context, bucket, key string) ([]byte, error) {
	if bucket == "" || key == "" {
		return nil, errors.NewError(errors.ErrCodeValidationFailed, "bucket and key are required").
			WithComponent("s3").
			WithOperation("GetObject")
	}

	if b.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	var data []byte
	err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		return b.retryer.Do(ctx, func(ctx context.Context) error {
			var err error
			data, err = b.getObject(ctx, bucket, key)
			return err
		})
	})
	b.metrics.record(time.Since(start), int64(len(data)), err)
	if err != nil {
		b.logger.Debug("object fetch failed", map[string]interface{}{
			"bucket": bucket,
			"key":    key,
			"error":  err,
		})
		return nil, err
	}

	b.logger.Debug("fetched object", map[string]interface{}{
		"bucket": bucket,
		"key":    key,
		"size":   utils.FormatBytes(int64(len(data))),
	})
	return data, nil
}

func (b *BlobSource) getObject(ctx context.Context, bucket, key string) ([]byte, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, translateError(err, "GetObject", bucket, key)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStorageRead, "failed to read object body", err).
			WithComponent("s3").
			WithContext("bucket", bucket).
			WithContext("key", key)
	}
	return data, nil
}

// Producer returns a cache producer that downloads bucket/key.
func (b *BlobSource) Producer(bucket, key string) service.Producer[[]byte] {
	return func(ctx context.Context) ([]byte, error) {
		return b.FetchObject(ctx, bucket, key)
	}
}

// HealthCheck verifies that bucket is reachable.
func (b *BlobSource) HealthCheck(ctx context.Context, bucket string) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		return translateError(err, "HeadBucket", bucket, "")
	}
	return nil
}

// GetMetrics returns download statistics
func (b *BlobSource) GetMetrics() BackendMetrics {
	return b.metrics.snapshot()
}

// BreakerStats returns the state of the circuit breaker guarding S3.
func (b *BlobSource) BreakerStats() circuit.Stats {
	return b.breaker.Stats()
}

// BlobKey is the cache identity of an object.
func BlobKey(bucket, key string) id.CapturedID {
	return id.Capture(id.Combine(id.MakeID("get_blob"), id.MakeID(bucket), id.MakeID(key)))
}

// FetchBlob returns bucket/key through the memory and disk caches, fetching
// it with fetcher only on a miss in both.
func FetchBlob(ctx context.Context, core *service.Core, fetcher types.BlobFetcher, bucket, key string) ([]byte, error) {
	task := service.FullyCached[[]byte](core, BlobKey(bucket, key), service.BlobCodec{},
		func(ctx context.Context) ([]byte, error) {
			return fetcher.FetchObject(ctx, bucket, key)
		})
	return task.Await(ctx)
}

func translateError(err error, operation, bucket, key string) error {
	var apiErr smithy.APIError
	switch {
	case isErrorType[*s3types.NoSuchKey](err):
		return errors.Wrap(errors.ErrCodeObjectNotFound, fmt.Sprintf("object not found: %s", key), err).
			WithComponent("s3").WithOperation(operation)
	case isErrorType[*s3types.NoSuchBucket](err):
		return errors.Wrap(errors.ErrCodeObjectNotFound, fmt.Sprintf("bucket not found: %s", bucket), err).
			WithComponent("s3").WithOperation(operation)
	case stderrors.As(err, &apiErr) && (apiErr.ErrorCode() == "AccessDenied" || apiErr.ErrorCode() == "Forbidden"):
		return errors.Wrap(errors.ErrCodeAccessDenied, fmt.Sprintf("access denied: %s/%s", bucket, key), err).
			WithComponent("s3").WithOperation(operation)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(errors.ErrCodeOperationTimeout, fmt.Sprintf("%s timed out", operation), err).
			WithComponent("s3").WithOperation(operation)
	default:
		return errors.Wrap(errors.ErrCodeStorageRead, fmt.Sprintf("%s failed for %s/%s", operation, bucket, key), err).
			WithComponent("s3").WithOperation(operation)
	}
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}
