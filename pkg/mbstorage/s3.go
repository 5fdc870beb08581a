package mbstorage

import (
	"context"
	"io"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/endpoints"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/dustin/go-humanize"
	"github.com/function61/gokit/logex"
	"github.com/function61/mongos3backup/pkg/mbconfig"
)

// S3-compatible providers don't care about the region, but the SDK needs one
const customEndpointRegion = endpoints.UsEast1RegionID

type S3Storage struct {
	s3   s3iface.S3API
	logl *logex.Leveled
}

var _ Storage = (*S3Storage)(nil)

// fails here, instead of at first call, if the region can't be resolved
func NewS3Storage(s3conf mbconfig.StorageS3Config, logl *logex.Leveled) (*S3Storage, error) {
	region := s3conf.BucketRegion
	if region == "" {
		if s3conf.Endpoint == "" {
			return nil, &mbconfig.ConfigurationError{Missing: []string{mbconfig.EnvRegion}}
		}

		region = customEndpointRegion
		logl.Info.Printf("using region %s with custom endpoint", region)
	}

	awsConf := aws.NewConfig().
		WithCredentials(credentials.NewStaticCredentials(
			s3conf.AccessKeyId,
			s3conf.AccessKeySecret,
			"")).
		WithRegion(region)

	if s3conf.Endpoint != "" {
		logl.Info.Printf("using custom S3 endpoint %s", s3conf.Endpoint)

		// virtual-hosted addressing is AWS-only
		awsConf = awsConf.WithEndpoint(s3conf.Endpoint).WithS3ForcePathStyle(true)
	}

	// a failed call fails the stage; the SDK's own retryer is opt-in
	maxRetries := 0
	if s3conf.MaxRetries != nil {
		maxRetries = *s3conf.MaxRetries
	}
	awsConf = awsConf.WithMaxRetries(maxRetries)

	awsSession, err := session.NewSession(awsConf)
	if err != nil {
		return nil, err
	}

	return &S3Storage{s3.New(awsSession), logl}, nil
}

func (s *S3Storage) Upload(ctx context.Context, localPath string, bucket string, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return &StorageError{"upload", bucket, key, err}
	}
	defer file.Close()

	if info, err := file.Stat(); err == nil {
		s.logl.Info.Printf("uploading %s (%s) to s3://%s/%s", localPath, humanize.Bytes(uint64(info.Size())), bucket, key)
	}

	// multipart for big dumps, single PutObject for small ones
	uploader := s3manager.NewUploaderWithClient(s.s3)

	if _, err := uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String("application/gzip"),
		Body:        file,
	}); err != nil {
		return &StorageError{"upload", bucket, key, err}
	}

	s.logl.Info.Printf("upload completed to s3://%s/%s", bucket, key)

	return nil
}

// on error the contents of destPath are undefined
func (s *S3Storage) Download(ctx context.Context, bucket string, key string, destPath string) (string, error) {
	s.logl.Info.Printf("downloading s3://%s/%s to %s", bucket, key, destPath)

	if err := s.download(ctx, bucket, key, destPath); err != nil {
		return "", &StorageError{"download", bucket, key, err}
	}

	s.logl.Info.Printf("download completed to %s", destPath)

	return destPath, nil
}

func (s *S3Storage) download(ctx context.Context, bucket string, key string, destPath string) error {
	object, err := s.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	defer object.Body.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dest, object.Body); err != nil {
		dest.Close()
		return err
	}

	return dest.Close()
}

func (s *S3Storage) List(ctx context.Context, bucket string, prefix string) ([]RemoteObject, error) {
	if prefix == "" {
		s.logl.Debug.Printf("listing objects in bucket %s", bucket)
	} else {
		s.logl.Debug.Printf("listing objects in bucket %s with prefix %s", bucket, prefix)
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	objects := []RemoteObject{}
	pages := 0

	if err := s.s3.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		pages++

		for _, item := range page.Contents {
			objects = append(objects, RemoteObject{
				Key:          aws.StringValue(item.Key),
				LastModified: aws.TimeValue(item.LastModified),
				Size:         aws.Int64Value(item.Size),
			})
		}

		return true // keep paging
	}); err != nil {
		return nil, &StorageError{Op: "list", Bucket: bucket, Err: err}
	}

	s.logl.Info.Printf("found %d objects in bucket %s (%d pages)", len(objects), bucket, pages)

	return objects, nil
}

func (s *S3Storage) Delete(ctx context.Context, bucket string, key string) error {
	s.logl.Info.Printf("deleting s3://%s/%s", bucket, key)

	if _, err := s.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		if isNotFound(err) {
			s.logl.Debug.Printf("s3://%s/%s already gone", bucket, key)
			return nil
		}

		return &StorageError{"delete", bucket, key, err}
	}

	return nil
}

func isNotFound(err error) bool {
	awsErr, ok := err.(awserr.Error)
	if !ok {
		return false
	}

	return awsErr.Code() == s3.ErrCodeNoSuchKey || awsErr.Code() == "NotFound"
}
