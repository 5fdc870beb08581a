// Deterministic names for backup directories, archives and object keys
package mbnaming

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/function61/mongos3backup/pkg/mbtypes"
)

const (
	TimestampFormat = "20060102_150405"
	DefaultPrefix   = "mongodb_backup_"
	ArchiveSuffix   = ".tar.gz"
)

func DefaultBaseDir() string {
	return filepath.Join(os.TempDir(), "mongodb-backups")
}

// sortable & filesystem-safe encoding of the instant, always in UTC
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

func ObjectKey(localFilename string) string {
	return filepath.Base(localFilename)
}

type Layout struct {
	BaseDir string
	Prefix  string

	timestampRe *regexp.Regexp
}

func NewLayout(baseDir string, prefix string) *Layout {
	if baseDir == "" {
		baseDir = DefaultBaseDir()
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Layout{
		BaseDir:     baseDir,
		Prefix:      prefix,
		timestampRe: regexp.MustCompile(regexp.QuoteMeta(prefix) + `(\d{8}_\d{6})`),
	}
}

// ensures that the base directory exists
func (l *Layout) BackupDirectoryPath(timestamp string) (string, error) {
	if err := os.MkdirAll(l.BaseDir, 0700); err != nil {
		return "", fmt.Errorf("create backup base directory: %w", err)
	}

	return filepath.Join(l.BaseDir, l.Prefix+timestamp), nil
}

func (l *Layout) ArchiveFilePath(dirName string) string {
	return filepath.Join(l.BaseDir, dirName+ArchiveSuffix)
}

// returns false (instead of an error) for names that aren't ours. callers must skip those.
func (l *Layout) ParseTimestamp(filename string) (time.Time, bool) {
	match := l.timestampRe.FindStringSubmatch(filepath.Base(filename))
	if match == nil {
		return time.Time{}, false
	}

	ts, err := time.ParseInLocation(TimestampFormat, match[1], time.UTC)
	if err != nil { // digits in the right shape but not a real date, e.g. month 13
		return time.Time{}, false
	}

	return ts, true
}

func (l *Layout) NewJob(started time.Time) (*mbtypes.BackupJob, error) {
	dumpDir, err := l.BackupDirectoryPath(Timestamp(started))
	if err != nil {
		return nil, err
	}

	archivePath := l.ArchiveFilePath(filepath.Base(dumpDir))

	return &mbtypes.BackupJob{
		Started:     started,
		DumpDir:     dumpDir,
		ArchivePath: archivePath,
		ObjectKey:   ObjectKey(archivePath),
	}, nil
}
