// Deletes objects older than the retention period from the backup bucket
package mbretention

import (
	"context"
	"fmt"

	"github.com/function61/gokit/logex"
	"github.com/function61/mongos3backup/pkg/mbconfig"
	"github.com/function61/mongos3backup/pkg/mbnaming"
	"github.com/function61/mongos3backup/pkg/mbstorage"
	"github.com/function61/mongos3backup/pkg/mbtypes"
	"github.com/juju/clock"
)

// subset of mbstorage.Storage that the sweep needs
type ObjectStore interface {
	List(ctx context.Context, bucket string, prefix string) ([]mbstorage.RemoteObject, error)
	Delete(ctx context.Context, bucket string, key string) error
}

// a delete failed. keys in Deleted stay deleted
type SweepError struct {
	Key     string
	Deleted []string
	Err     error
}

func (e *SweepError) Error() string {
	return fmt.Sprintf("sweep stopped at %s after %d deletions: %v", e.Key, len(e.Deleted), e.Err)
}

func (e *SweepError) Unwrap() error {
	return e.Err
}

type Sweeper struct {
	store  ObjectStore
	clock  clock.Clock
	layout *mbnaming.Layout
	logl   *logex.Leveled
}

func NewSweeper(store ObjectStore, clk clock.Clock, layout *mbnaming.Layout, logl *logex.Leveled) *Sweeper {
	return &Sweeper{
		store:  store,
		clock:  clk,
		layout: layout,
		logl:   logl,
	}
}

// lists the whole bucket (no prefix filter!), deletes every object last modified strictly
// before now-retentionDays, one at a time in listing order. the first failed delete ends
// the sweep. returns deleted keys in listing order.
func (s *Sweeper) Sweep(ctx context.Context, bucket string, retentionDays int) ([]string, error) {
	if retentionDays < 0 {
		return nil, &mbconfig.ConfigurationError{Reason: fmt.Sprintf("retention days must not be negative; got %d", retentionDays)}
	}

	policy := mbtypes.RetentionPolicy{Days: retentionDays}
	now := s.clock.Now()

	s.logl.Info.Printf(
		"cleaning up backups older than %d days (before %s) in bucket %s",
		retentionDays,
		policy.Cutoff(now).UTC().Format("2006-01-02 15:04:05Z"),
		bucket)

	objects, err := s.store.List(ctx, bucket, "")
	if err != nil {
		return nil, err
	}

	s.warnAboutForeignObjects(bucket, objects)

	expired := []mbstorage.RemoteObject{}
	for _, obj := range objects {
		if policy.Expired(obj.LastModified, now) {
			expired = append(expired, obj)
		}
	}

	if len(expired) == 0 {
		s.logl.Info.Println("no backups exceed the retention period")
		return []string{}, nil
	}

	s.logl.Info.Printf("found %d backups older than %d days", len(expired), retentionDays)

	deleted := []string{}
	for _, obj := range expired {
		if err := s.store.Delete(ctx, bucket, obj.Key); err != nil {
			return nil, &SweepError{Key: obj.Key, Deleted: deleted, Err: err}
		}

		deleted = append(deleted, obj.Key)
	}

	s.logl.Info.Printf("cleanup completed, deleted %d old backups", len(deleted))

	return deleted, nil
}

// the sweep treats the bucket as dedicated to backups. say so when it obviously isn't
func (s *Sweeper) warnAboutForeignObjects(bucket string, objects []mbstorage.RemoteObject) {
	foreign := 0
	for _, obj := range objects {
		if _, isBackup := s.layout.ParseTimestamp(obj.Key); !isBackup {
			foreign++
		}
	}

	if foreign > 0 {
		s.logl.Info.Printf(
			"WARN: %d objects in bucket %s are not named like backups; retention applies to them too",
			foreign,
			bucket)
	}
}
