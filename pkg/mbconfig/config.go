package mbconfig

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/function61/gokit/envvar"
	"github.com/function61/gokit/jsonfile"
	"github.com/joho/godotenv"
)

const (
	EnvMongoURI        = "MONGODB_URI"
	EnvAccessKeyId     = "AWS_ACCESS_KEY_ID"
	EnvAccessKeySecret = "AWS_SECRET_ACCESS_KEY"
	EnvRegion          = "AWS_REGION"
	EnvBucket          = "S3_BUCKET_NAME"
	EnvEndpoint        = "S3_ENDPOINT_URL"
	EnvRetentionDays   = "BACKUP_RETENTION_DAYS"
	EnvBackupDir       = "BACKUP_DIR"
	EnvTempDir         = "TEMP_DIR"
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogFile         = "LOG_FILE"
	EnvDumpCommand     = "MONGODUMP_PATH"
	EnvBackupPrefix    = "BACKUP_PREFIX"
	EnvSchedule        = "BACKUP_SCHEDULE"

	// base64-encoded JSON, overridden by the individual variables above
	EnvConf = "MONGOS3BACKUP_CONF"
)

const (
	DefaultRetentionDays = 7
	DefaultLogLevel      = "info"
	DefaultLogFile       = "mongodb-backup.log"
	DefaultDumpCommand   = "mongodump"
	DefaultSchedule      = "0 0 1 * * *" // 01:00 every day (with seconds field)
)

type Config struct {
	MongoURI    string        `json:"mongodb_uri"`
	DumpCommand string        `json:"mongodump_path,omitempty"`
	Storage     StorageConfig `json:"storage"`
	Backup      BackupConfig  `json:"backup"`
	Log         LogConfig     `json:"log"`
}

type StorageConfig struct {
	S3 StorageS3Config `json:"s3"`
}

type StorageS3Config struct {
	Bucket          string `json:"bucket"`
	BucketRegion    string `json:"bucket_region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"` // S3-compatible providers (MinIO, Spaces, ..)
	AccessKeyId     string `json:"access_key_id"`
	AccessKeySecret string `json:"access_key_secret"`
	MaxRetries      *int   `json:"max_retries,omitempty"`
}

type BackupConfig struct {
	RetentionDays int    `json:"retention_days"`
	Dir           string `json:"dir,omitempty"`
	TempDir       string `json:"temp_dir,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
	Schedule      string `json:"schedule,omitempty"`
}

type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

type ConfigurationError struct {
	Missing []string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("missing required environment variables: %s", strings.Join(e.Missing, ", "))
	}

	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

func Defaults() *Config {
	return &Config{
		DumpCommand: DefaultDumpCommand,
		Backup: BackupConfig{
			RetentionDays: DefaultRetentionDays,
			Schedule:      DefaultSchedule,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
			File:  DefaultLogFile,
		},
	}
}

// reads .env (only if the connection string isn't already in the environment), then
// the optional base64 JSON config, then the individual variables. does not validate.
func ReadFromEnv() (*Config, error) {
	if os.Getenv(EnvMongoURI) == "" {
		// .env is optional, the scheduler / container usually provides the env
		_ = godotenv.Load()
	}

	conf := Defaults()

	// empty counts as unset, like the individual variables
	if os.Getenv(EnvConf) != "" {
		confJson, err := envvar.RequiredFromBase64Encoded(EnvConf)
		if err != nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("%s: %v", EnvConf, err)}
		}

		if err := jsonfile.Unmarshal(bytes.NewReader(confJson), conf, true); err != nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("%s: %v", EnvConf, err)}
		}
	}

	if err := conf.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	return conf, nil
}

// same as ReadFromEnv, but without touching the process environment
func FromEnv(lookup func(key string) (string, bool)) (*Config, error) {
	conf := Defaults()
	return conf, conf.ApplyEnv(lookup)
}

// non-empty variables override whatever is in the config
func (c *Config) ApplyEnv(lookup func(key string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{EnvMongoURI, &c.MongoURI},
		{EnvDumpCommand, &c.DumpCommand},
		{EnvAccessKeyId, &c.Storage.S3.AccessKeyId},
		{EnvAccessKeySecret, &c.Storage.S3.AccessKeySecret},
		{EnvRegion, &c.Storage.S3.BucketRegion},
		{EnvBucket, &c.Storage.S3.Bucket},
		{EnvEndpoint, &c.Storage.S3.Endpoint},
		{EnvBackupDir, &c.Backup.Dir},
		{EnvTempDir, &c.Backup.TempDir},
		{EnvBackupPrefix, &c.Backup.Prefix},
		{EnvSchedule, &c.Backup.Schedule},
		{EnvLogLevel, &c.Log.Level},
		{EnvLogFile, &c.Log.File},
	}

	for _, str := range strs {
		if value, _ := lookup(str.key); value != "" {
			*str.dst = value
		}
	}

	if value, _ := lookup(EnvRetentionDays); value != "" {
		days, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return &ConfigurationError{Reason: fmt.Sprintf("%s: not an integer: %q", EnvRetentionDays, value)}
		}

		c.Backup.RetentionDays = days
	}

	return nil
}

// reports every missing name at once, not just the first one
func (c *Config) Validate() error {
	missing := []string{}

	if c.MongoURI == "" {
		missing = append(missing, EnvMongoURI)
	}

	return c.validate(append(missing, c.missingStorage()...))
}

// for commands that only talk to the bucket (restore, listing, sweeping)
func (c *Config) ValidateStorage() error {
	return c.validate(c.missingStorage())
}

func (c *Config) validate(missing []string) error {
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}

	if c.Backup.RetentionDays < 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("%s must not be negative; got %d", EnvRetentionDays, c.Backup.RetentionDays)}
	}

	return nil
}

func (c *Config) missingStorage() []string {
	missing := []string{}

	required := []struct {
		key   string
		value string
	}{
		{EnvAccessKeyId, c.Storage.S3.AccessKeyId},
		{EnvAccessKeySecret, c.Storage.S3.AccessKeySecret},
		{EnvBucket, c.Storage.S3.Bucket},
	}

	for _, req := range required {
		if req.value == "" {
			missing = append(missing, req.key)
		}
	}

	// custom endpoints imply the region
	if c.Storage.S3.BucketRegion == "" && c.Storage.S3.Endpoint == "" {
		missing = append(missing, EnvRegion)
	}

	return missing
}
