package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomeStreamRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outcomes.ndjson.snappy")

	w, err := NewOutcomeWriter(path)
	require.NoError(t, err)

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 250; i++ {
		rec := Record{
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
			Batch:     i / 100,
			LatencyMS: float64(10 + i%5),
			Success:   i%10 != 0,
			Status:    200,
			Bytes:     512,
		}
		if !rec.Success {
			rec.Kind = "timeout"
			rec.Status = 0
		}
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, w.Close())

	// The file on disk is framed snappy, not plain text.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("\xff\x06\x00\x00sNaPpY")), "missing snappy stream header")
	assert.NotContains(t, string(raw[:64]), "latency_ms")

	records, err := ReadOutcomes(path)
	require.NoError(t, err)
	require.Len(t, records, 250)
	assert.Equal(t, base, records[0].Timestamp)
	assert.Equal(t, "timeout", records[0].Kind)
	assert.Equal(t, 2, records[249].Batch)
	assert.InDelta(t, 14.0, records[249].LatencyMS, 0.001)
}

func TestOutcomeWriterConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outcomes.snappy")
	w, err := NewOutcomeWriter(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(batch int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = w.Write(Record{Batch: batch, LatencyMS: 1, Success: true})
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, w.Close())

	records, err := ReadOutcomes(path)
	require.NoError(t, err)
	assert.Len(t, records, 200)
}

func TestReadOutcomesMissingFile(t *testing.T) {
	_, err := ReadOutcomes(filepath.Join(t.TempDir(), "absent.snappy"))
	assert.Error(t, err)
}

func TestCompressFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "run.json")
	content := bytes.Repeat([]byte(`{"latency_ms":12.5,"success":true}`+"\n"), 1000)
	require.NoError(t, os.WriteFile(src, content, 0o644))

	out, err := DefaultBundler().CompressFile(src)
	require.NoError(t, err)
	assert.Equal(t, src+".zst", out)

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(content)), "repetitive JSON must shrink")

	_, err = os.Stat(src)
	assert.NoError(t, err, "the source file stays in place")

	restored, err := DecompressFile(out)
	require.NoError(t, err)
	assert.Equal(t, content, restored)
}

func TestNewBundlerLevels(t *testing.T) {
	for _, level := range []int{0, -1, 20} {
		_, err := NewBundler(level)
		assert.Error(t, err, "level %d", level)
	}
	for _, level := range []int{1, 3, 19} {
		_, err := NewBundler(level)
		assert.NoError(t, err, "level %d", level)
	}
}

func TestBundleRun(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"run.json", "run.csv", "outcomes.snappy"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(strings.Repeat(name, 100)), 0o644))
		paths = append(paths, path)
	}

	bundle := filepath.Join(dir, "run.tar.zst")
	require.NoError(t, DefaultBundler().BundleRun(bundle, paths))

	names, err := ListBundle(bundle)
	require.NoError(t, err)
	assert.Equal(t, []string{"run.json", "run.csv", "outcomes.snappy"}, names)
}

func TestBundleRunEmpty(t *testing.T) {
	err := DefaultBundler().BundleRun(filepath.Join(t.TempDir(), "x.tar.zst"), nil)
	assert.Error(t, err)
}

type putCall struct {
	bucket      string
	key         string
	contentType string
	body        []byte
}

type fakeS3 struct {
	mu   sync.Mutex
	puts []putCall
	err  error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.puts = append(f.puts, putCall{
		bucket:      aws.ToString(in.Bucket),
		key:         aws.ToString(in.Key),
		contentType: aws.ToString(in.ContentType),
		body:        body,
	})
	return &s3.PutObjectOutput{}, nil
}

func TestUploaderUploadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crucible_run_xyz.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"xyz"}`), 0o644))

	fake := &fakeS3{}
	u := NewUploaderWithClient(fake, "perf-results", "runs/2026", nil)

	key, err := u.UploadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "runs/2026/crucible_run_xyz.json", key)

	require.Len(t, fake.puts, 1)
	put := fake.puts[0]
	assert.Equal(t, "perf-results", put.bucket)
	assert.Equal(t, "application/json", put.contentType)
	assert.Equal(t, []byte(`{"id":"xyz"}`), put.body)
}

func TestUploaderUploadAll(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a.json", "b.csv", "c.tar.zst"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(name), 0o644))
		paths = append(paths, path)
	}

	fake := &fakeS3{}
	u := NewUploaderWithClient(fake, "perf-results", "", nil)

	keys, err := u.UploadAll(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json", "b.csv", "c.tar.zst"}, keys)
	assert.Equal(t, "text/csv", fake.puts[1].contentType)
	assert.Equal(t, "application/zstd", fake.puts[2].contentType)
}

func TestUploaderStopsOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.json")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))

	fake := &fakeS3{err: errors.New("access denied")}
	u := NewUploaderWithClient(fake, "perf-results", "", nil)

	_, err := u.UploadFile(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")

	_, err = u.UploadFile(context.Background(), filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
