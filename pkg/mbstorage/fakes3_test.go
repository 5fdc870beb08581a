package mbstorage

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeObject struct {
	content      []byte
	lastModified time.Time
}

// just enough of the S3 REST API (path-style) for the client
type fakeS3 struct {
	mu          sync.Mutex
	buckets     map[string]map[string]fakeObject
	pageSize    int
	listCalls   int
	deleteCalls []string
	denyDelete  map[string]bool
	denyAll     bool
	unavailable map[string]bool // 503 on delete, which the SDK considers retryable
}

func newFakeS3(t *testing.T, pageSize int) (*fakeS3, *httptest.Server) {
	fake := &fakeS3{
		buckets:     map[string]map[string]fakeObject{},
		pageSize:    pageSize,
		denyDelete:  map[string]bool{},
		unavailable: map[string]bool{},
	}

	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	return fake, server
}

func (f *fakeS3) put(bucket string, key string, content string, lastModified time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.buckets[bucket] == nil {
		f.buckets[bucket] = map[string]fakeObject{}
	}

	f.buckets[bucket][key] = fakeObject{[]byte(content), lastModified}
}

func (f *fakeS3) get(bucket string, key string) (fakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, found := f.buckets[bucket][key]
	return obj, found
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.denyAll {
		writeS3Error(w, http.StatusForbidden, "AccessDenied")
		return
	}

	bucket, key := splitBucketAndKey(r.URL.Path)

	switch {
	case r.Method == http.MethodGet && key == "":
		f.list(w, r, bucket)
	case r.Method == http.MethodGet:
		obj, found := f.buckets[bucket][key]
		if !found {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey")
			return
		}

		w.Header().Set("Content-Length", strconv.Itoa(len(obj.content)))
		w.Header().Set("Last-Modified", obj.lastModified.UTC().Format(http.TimeFormat))
		_, _ = w.Write(obj.content)
	case r.Method == http.MethodPut:
		content, err := io.ReadAll(r.Body)
		if err != nil {
			writeS3Error(w, http.StatusInternalServerError, "InternalError")
			return
		}

		if f.buckets[bucket] == nil {
			f.buckets[bucket] = map[string]fakeObject{}
		}
		f.buckets[bucket][key] = fakeObject{content, time.Now()}

		w.Header().Set("ETag", `"fake"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodDelete:
		f.deleteCalls = append(f.deleteCalls, key)

		if f.unavailable[key] {
			writeS3Error(w, http.StatusServiceUnavailable, "ServiceUnavailable")
			return
		}

		if f.denyDelete[key] {
			writeS3Error(w, http.StatusForbidden, "AccessDenied")
			return
		}

		delete(f.buckets[bucket], key)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeS3Error(w, http.StatusNotImplemented, "NotImplemented")
	}
}

type listResult struct {
	XMLName               xml.Name     `xml:"ListBucketResult"`
	Name                  string       `xml:"Name"`
	Prefix                string       `xml:"Prefix"`
	KeyCount              int          `xml:"KeyCount"`
	MaxKeys               int          `xml:"MaxKeys"`
	IsTruncated           bool         `xml:"IsTruncated"`
	Contents              []listObject `xml:"Contents"`
	NextContinuationToken string       `xml:"NextContinuationToken,omitempty"`
}

type listObject struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int    `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

func (f *fakeS3) list(w http.ResponseWriter, r *http.Request, bucket string) {
	f.listCalls++

	query := r.URL.Query()
	prefix := query.Get("prefix")

	keys := []string{}
	for key := range f.buckets[bucket] {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	start := 0
	if token := query.Get("continuation-token"); token != "" {
		var err error
		if start, err = strconv.Atoi(token); err != nil {
			writeS3Error(w, http.StatusBadRequest, "InvalidArgument")
			return
		}
	}

	end := start + f.pageSize
	if end > len(keys) {
		end = len(keys)
	}

	result := listResult{
		Name:        bucket,
		Prefix:      prefix,
		MaxKeys:     f.pageSize,
		KeyCount:    end - start,
		IsTruncated: end < len(keys),
		Contents:    []listObject{},
	}

	if result.IsTruncated {
		result.NextContinuationToken = strconv.Itoa(end)
	}

	for _, key := range keys[start:end] {
		obj := f.buckets[bucket][key]

		result.Contents = append(result.Contents, listObject{
			Key:          key,
			LastModified: obj.lastModified.UTC().Format("2006-01-02T15:04:05.000Z"),
			ETag:         `"fake"`,
			Size:         len(obj.content),
			StorageClass: "STANDARD",
		})
	}

	w.Header().Set("Content-Type", "application/xml")
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(result)
}

func splitBucketAndKey(path string) (string, string) {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}

	return parts[0], parts[1]
}

func writeS3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, "%s<Error><Code>%s</Code><Message>%s</Message></Error>", xml.Header, code, code)
}
