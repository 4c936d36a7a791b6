package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/followcrawl/internal/crawler"
)

func record(name string) crawler.DiscoveryRecord {
	return crawler.DiscoveryRecord{Username: crawler.Username(name)}
}

func TestNewRequiresWriter(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil)
	require.Error(t, err)
}

func TestSinkPreservesPerProducerOrder(t *testing.T) {
	t.Parallel()

	mem := NewMemoryWriter()
	s, err := New(mem, zap.NewNop())
	require.NoError(t, err)
	s.Start(context.Background())

	const producers = 4
	const perProducer = 200
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := range perProducer {
				s.Write(record(fmt.Sprintf("p%d-%04d", p, i)))
			}
		}(p)
	}
	wg.Wait()
	require.NoError(t, s.Close(context.Background()))

	got := mem.Usernames()
	require.Len(t, got, producers*perProducer)
	assert.True(t, mem.Closed())
	assert.EqualValues(t, producers*perProducer, s.Written())

	perProducerSeen := make(map[string][]crawler.Username)
	for _, u := range got {
		prefix := strings.SplitN(string(u), "-", 2)[0]
		perProducerSeen[prefix] = append(perProducerSeen[prefix], u)
	}
	for p := range producers {
		prefix := fmt.Sprintf("p%d", p)
		want := make([]crawler.Username, 0, perProducer)
		for i := range perProducer {
			want = append(want, crawler.Username(fmt.Sprintf("%s-%04d", prefix, i)))
		}
		if diff := cmp.Diff(want, perProducerSeen[prefix]); diff != "" {
			t.Fatalf("producer %s order mismatch (-want +got):\n%s", prefix, diff)
		}
	}
}

type flakyWriter struct {
	MemoryWriter
	failOn crawler.Username
}

func (f *flakyWriter) WriteRecord(ctx context.Context, rec crawler.DiscoveryRecord) error {
	if rec.Username == f.failOn {
		return errors.New("disk full")
	}
	return f.MemoryWriter.WriteRecord(ctx, rec)
}

func TestSinkDropsFailedRecordAndContinues(t *testing.T) {
	t.Parallel()

	w := &flakyWriter{failOn: "bad"}
	s, err := New(w, nil)
	require.NoError(t, err)
	s.Start(context.Background())

	for _, name := range []string{"a", "bad", "b"} {
		s.Write(record(name))
	}
	require.NoError(t, s.Close(context.Background()))

	assert.Equal(t, []crawler.Username{"a", "b"}, w.Usernames())
	assert.EqualValues(t, 2, s.Written())
	assert.EqualValues(t, 1, s.Failed())
}

func TestSinkWriteAfterCloseIsDropped(t *testing.T) {
	t.Parallel()

	mem := NewMemoryWriter()
	s, err := New(mem, nil)
	require.NoError(t, err)
	s.Start(context.Background())
	s.Write(record("a"))
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()), "closing twice should be safe")

	s.Write(record("late"))
	assert.Equal(t, []crawler.Username{"a"}, mem.Usernames())
	assert.EqualValues(t, 1, s.Failed())
}

func TestSinkCloseWithoutStartDrains(t *testing.T) {
	t.Parallel()

	mem := NewMemoryWriter()
	s, err := New(mem, nil)
	require.NoError(t, err)
	s.Write(record("queued-before-start"))
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, []crawler.Username{"queued-before-start"}, mem.Usernames())
}

func TestFileWriterOverwritesPreviousRun(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "accounts.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("stale\nlines\nfrom-last-run\n"), 0o600))

	fw, err := NewFileWriter(path)
	require.NoError(t, err)
	assert.Equal(t, path, fw.Path())

	s, err := New(fw, nil)
	require.NoError(t, err)
	s.Start(context.Background())
	s.Write(record("griffpatch"))
	s.Write(record("Ünïcødé"))
	require.NoError(t, s.Close(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "griffpatch\nÜnïcødé\n", string(data))
}

func TestFileWriterRejectsUseAfterClose(t *testing.T) {
	t.Parallel()

	fw, err := NewFileWriter(filepath.Join(t.TempDir(), "accounts.txt"))
	require.NoError(t, err)
	require.NoError(t, fw.Close(context.Background()))
	require.NoError(t, fw.Close(context.Background()))
	require.Error(t, fw.WriteRecord(context.Background(), record("x")))
}

func TestNewFileWriterRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewFileWriter("")
	require.Error(t, err)
}

func TestMultiWriterKeepsWritingAfterFailure(t *testing.T) {
	t.Parallel()

	bad := &flakyWriter{failOn: "x"}
	good := NewMemoryWriter()
	m := NewMultiWriter(bad, nil, good)

	err := m.WriteRecord(context.Background(), record("x"))
	require.Error(t, err)
	require.NoError(t, m.WriteRecord(context.Background(), record("y")))
	require.NoError(t, m.Close(context.Background()))

	assert.Equal(t, []crawler.Username{"x", "y"}, good.Usernames())
	assert.Equal(t, []crawler.Username{"y"}, bad.Usernames())
	assert.True(t, good.Closed())
	assert.True(t, bad.Closed())
}

// shortFile fails the first write containing failOn after storing only half
// of it, the way a full disk does.
type shortFile struct {
	data   []byte
	failOn string
	failed bool
}

func (f *shortFile) Write(p []byte) (int, error) {
	if !f.failed && strings.Contains(string(p), f.failOn) {
		f.failed = true
		half := len(p) / 2
		f.data = append(f.data, p[:half]...)
		return half, errors.New("no space left on device")
	}
	f.data = append(f.data, p...)
	return len(p), nil
}

func (f *shortFile) Seek(offset int64, _ int) (int64, error) { return offset, nil }

func (f *shortFile) Truncate(size int64) error {
	f.data = f.data[:size]
	return nil
}

func (f *shortFile) Close() error { return nil }

func TestFileWriterFailureDropsOnlyThatRecord(t *testing.T) {
	t.Parallel()

	file := &shortFile{failOn: "unlucky"}
	fw := &FileWriter{path: "accounts.txt", file: file}
	s, err := New(fw, nil)
	require.NoError(t, err)
	s.Start(context.Background())

	for _, name := range []string{"first", "unlucky", "second", "third"} {
		s.Write(record(name))
	}
	require.NoError(t, s.Close(context.Background()))

	assert.Equal(t, "first\nsecond\nthird\n", string(file.data), "no partial line is left behind")
	assert.EqualValues(t, 3, s.Written())
	assert.EqualValues(t, 1, s.Failed())
}

func TestSinkCountsFailedFileWrites(t *testing.T) {
	t.Parallel()

	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}
	fw, err := NewFileWriter("/dev/full")
	require.NoError(t, err)
	s, err := New(fw, nil)
	require.NoError(t, err)
	s.Start(context.Background())

	for _, name := range []string{"a", "b", "c"} {
		s.Write(record(name))
	}
	require.NoError(t, s.Close(context.Background()))

	assert.Zero(t, s.Written())
	assert.EqualValues(t, 3, s.Failed())
}
