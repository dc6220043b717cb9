package datastore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/danthegoodman1/icetier/utils"
	"github.com/rs/zerolog"
	s3pq "github.com/xitongsys/parquet-go-source/s3"
	"github.com/xitongsys/parquet-go/source"
)

const maxS3Retries = 5

type (
	S3Config struct {
		Bucket   string
		Endpoint string
		Region   string

		// Static keys, when either is empty the env credential provider is used
		AccessKeyID     string
		SecretAccessKey string
	}

	S3DataStore struct {
		bucket   string
		client   s3iface.S3API
		uploader *s3manager.Uploader
	}
)

func NewS3DataStore(cfg S3Config) (*S3DataStore, error) {
	if cfg.Bucket == "" {
		return nil, utils.PermError("S3_BUCKET_NAME is required for the s3 datastore")
	}
	s3Config := &aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: cfg.credentials(),
	}
	if cfg.Endpoint != "" {
		s3Config.Endpoint = aws.String(cfg.Endpoint)
		s3Config.S3ForcePathStyle = aws.Bool(true)
	}

	s3Session, err := session.NewSession(s3Config)
	if err != nil {
		return nil, fmt.Errorf("error making new session: %w", err)
	}
	return newS3DataStoreWithClient(cfg.Bucket, s3.New(s3Session)), nil
}

func (cfg S3Config) credentials() *credentials.Credentials {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return credentials.NewEnvCredentials()
	}
	return credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
}

func newS3DataStoreWithClient(bucket string, client s3iface.S3API) *S3DataStore {
	return &S3DataStore{
		bucket:   bucket,
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
	}
}

func (sds *S3DataStore) GetChunkFile(ctx context.Context, partitionKey string, chunkID uint32, table string) (source.ParquetFile, error) {
	key := ChunkFilePath(partitionKey, chunkID, table)
	var pf source.ParquetFile
	err := sds.retry(ctx, "open", key, func() (err error) {
		pf, err = s3pq.NewS3FileReaderWithClient(ctx, sds.client, sds.bucket, key)
		return
	})
	if err != nil {
		return nil, fmt.Errorf("error opening s3 file %s: %w", key, err)
	}
	return pf, nil
}

func (sds *S3DataStore) WriteChunkFile(ctx context.Context, partitionKey string, chunkID uint32, table string, b []byte) error {
	key := ChunkFilePath(partitionKey, chunkID, table)
	err := sds.retry(ctx, "upload", key, func() error {
		_, err := sds.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket:      aws.String(sds.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(b),
			ContentType: aws.String("application/vnd.apache.parquet"),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("error uploading to s3: %w", err)
	}
	return nil
}

func (sds *S3DataStore) Shutdown(context.Context) error {
	return nil
}

// retry runs op with exponential backoff until it succeeds, fails
// permanently, or ctx is done.
func (sds *S3DataStore) retry(ctx context.Context, action, key string, op func() error) error {
	logger := zerolog.Ctx(ctx)
	s := time.Now()
	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxS3Retries), ctx)
	err := backoff.Retry(func() error {
		attempt++
		err := classifyS3Error(op())
		if err == nil {
			return nil
		}
		if utils.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		logger.Warn().Err(err).Str("key", key).Int("attempt", attempt).Msgf("s3 %s failed, retrying", action)
		return err
	}, b)
	if err != nil {
		return err
	}
	d := time.Since(s)
	logger.Debug().Str("key", key).Int64("durationNS", d.Nanoseconds()).Str("durationHuman", d.String()).Msgf("s3 %s done", action)
	return nil
}

// classifyS3Error marks errors that no retry can fix as permanent.
func classifyS3Error(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", utils.PermError("context done"), err)
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchBucket, s3.ErrCodeNoSuchKey, "NotFound", "AccessDenied", "InvalidAccessKeyId":
			return fmt.Errorf("%w: %w", utils.PermError(aerr.Code()), err)
		}
	}
	return err
}
