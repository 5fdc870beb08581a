package mbtypes

import (
	"time"
)

// one run of the backup pipeline. every path is derived from Started, and the local
// paths are removed once the upload has succeeded
type BackupJob struct {
	Started     time.Time
	DumpDir     string
	ArchivePath string
	ObjectKey   string
}

type RetentionPolicy struct {
	Days int // 0 = everything found is expired
}

// calendar subtraction (AddDate normalizes month/day overflow), not Days*24h
func (r RetentionPolicy) Cutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -r.Days)
}

func (r RetentionPolicy) Expired(lastModified time.Time, now time.Time) bool {
	return lastModified.Before(r.Cutoff(now))
}
