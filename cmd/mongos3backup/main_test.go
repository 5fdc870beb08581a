package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/function61/mongos3backup/pkg/mbconfig"
	"github.com/function61/mongos3backup/pkg/mbnaming"
	"github.com/function61/mongos3backup/pkg/mbstorage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runMainEnv = "MONGOS3BACKUP_TEST_RUN_MAIN"

// the test binary doubles as the real command, so exit statuses can be observed
func TestMain(m *testing.M) {
	if os.Getenv(runMainEnv) == "1" {
		os.Args = append([]string{"mongos3backup"}, os.Args[1:]...)
		main()
		os.Exit(0)
	}

	os.Exit(m.Run())
}

func runCommand(t *testing.T, env map[string]string, args ...string) (int, string) {
	t.Helper()

	cmd := exec.Command(os.Args[0], args...)
	cmd.Env = append(os.Environ(), runMainEnv+"=1")
	for key, value := range env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}

	output := &bytes.Buffer{}
	cmd.Stdout = output
	cmd.Stderr = output

	err := cmd.Run()
	if err == nil {
		return 0, output.String()
	}

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "%v", err)

	return exitErr.ExitCode(), output.String()
}

// every variable the command reads, unset unless overridden
func commandEnv(t *testing.T, overrides map[string]string) map[string]string {
	env := map[string]string{
		mbconfig.EnvConf:            "",
		mbconfig.EnvMongoURI:        "",
		mbconfig.EnvAccessKeyId:     "",
		mbconfig.EnvAccessKeySecret: "",
		mbconfig.EnvRegion:          "",
		mbconfig.EnvBucket:          "",
		mbconfig.EnvEndpoint:        "",
		mbconfig.EnvRetentionDays:   "",
		mbconfig.EnvBackupDir:       filepath.Join(t.TempDir(), "backups"),
		mbconfig.EnvTempDir:         t.TempDir(),
		mbconfig.EnvLogFile:         filepath.Join(t.TempDir(), "mongodb-backup.log"),
		mbconfig.EnvDumpCommand:     "",
	}

	for key, value := range overrides {
		env[key] = value
	}

	return env
}

// accepts uploads and lists an empty bucket
func newEmptyBucket(t *testing.T) (*httptest.Server, func() []string) {
	mu := sync.Mutex{}
	uploads := []string{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		switch r.Method {
		case http.MethodPut:
			uploads = append(uploads, r.URL.Path)
			w.Header().Set("ETag", `"fake"`)
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/xml")
			_, _ = w.Write([]byte(`<ListBucketResult><Name>backups</Name><KeyCount>0</KeyCount><IsTruncated>false</IsTruncated></ListBucketResult>`))
		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
	}))
	t.Cleanup(server.Close)

	return server, func() []string {
		mu.Lock()
		defer mu.Unlock()

		return append([]string{}, uploads...)
	}
}

func writeFakeMongodump(t *testing.T, script string) string {
	path := filepath.Join(t.TempDir(), "mongodump")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0755))
	return path
}

func TestExitStatusMissingConfig(t *testing.T) {
	exitCode, output := runCommand(t, commandEnv(t, nil))

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, output, "missing required environment variables: MONGODB_URI, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, S3_BUCKET_NAME, AWS_REGION")
}

func TestExitStatusPipeline(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("needs sh")
	}

	succeedingDump := `for arg in "$@"; do case "$arg" in --out=*) out="${arg#--out=}";; esac; done
mkdir -p "$out/shop" && echo data > "$out/shop/orders.bson"`

	tcs := []struct {
		name     string
		dump     string
		args     []string
		exitCode int
		uploads  int
	}{
		{"success", succeedingDump, nil, 0, 1},
		{"dump fails", `echo "Failed: no reachable servers" >&2; exit 1`, nil, 1, 0},
		{"unexpected dump diagnostic", succeedingDump + `; echo "warning: something odd" >&2`, nil, 1, 0},
		{"negative retention override", succeedingDump, []string{"--retention-days=-1"}, 1, 0},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			server, uploads := newEmptyBucket(t)

			exitCode, output := runCommand(t, commandEnv(t, map[string]string{
				mbconfig.EnvMongoURI:        "mongodb://localhost:27017",
				mbconfig.EnvAccessKeyId:     "AKID",
				mbconfig.EnvAccessKeySecret: "secret",
				mbconfig.EnvBucket:          "backups",
				mbconfig.EnvEndpoint:        server.URL,
				mbconfig.EnvDumpCommand:     writeFakeMongodump(t, tc.dump),
			}), tc.args...)

			assert.Equal(t, tc.exitCode, exitCode, output)
			assert.Len(t, uploads(), tc.uploads)
		})
	}
}

func TestParseSchedule(t *testing.T) {
	schedule, err := parseSchedule(mbconfig.DefaultSchedule)
	require.NoError(t, err)

	from := time.Date(2024, time.March, 15, 10, 0, 0, 0, time.Local)
	assert.Equal(t, time.Date(2024, time.March, 16, 1, 0, 0, 0, time.Local), schedule.Next(from))

	_, err = parseSchedule("@daily")
	assert.NoError(t, err)

	_, err = parseSchedule("every now and then")
	assert.Error(t, err)
}

func TestPrintListing(t *testing.T) {
	out := &bytes.Buffer{}

	require.NoError(t, printListing(out, []mbstorage.RemoteObject{
		{
			Key:          "mongodb_backup_20240102_030405.tar.gz",
			LastModified: time.Date(2024, time.January, 2, 3, 5, 0, 0, time.UTC),
			Size:         2 * 1000 * 1000,
		},
		{
			Key:          "notes.txt",
			LastModified: time.Date(2023, time.May, 1, 0, 0, 0, 0, time.UTC),
			Size:         12,
		},
	}, mbnaming.NewLayout("", "")))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)

	assert.True(t, strings.HasPrefix(lines[0], "KEY"))
	assert.Contains(t, lines[1], "2.0 MB")
	assert.Contains(t, lines[1], "2024-01-02 03:04:05Z")
	assert.Contains(t, lines[2], "12 B")
	assert.True(t, strings.HasSuffix(lines[2], "-"))
}
