package mbstorage

import (
	"context"
	"fmt"
	"time"
)

// read-only projection of an object in the bucket
type RemoteObject struct {
	Key          string
	LastModified time.Time
	Size         int64
}

type Storage interface {
	Upload(ctx context.Context, localPath string, bucket string, key string) error
	Download(ctx context.Context, bucket string, key string, destPath string) (string, error)
	// follows pagination until the whole listing has been read
	List(ctx context.Context, bucket string, prefix string) ([]RemoteObject, error)
	// deleting a non-existing key is not an error
	Delete(ctx context.Context, bucket string, key string) error
}

type StorageError struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s s3://%s: %v", e.Op, e.Bucket, e.Err)
	}

	return fmt.Sprintf("%s s3://%s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
