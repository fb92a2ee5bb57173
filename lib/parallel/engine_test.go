// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package parallel

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/bureau-foundation/jarpack/lib/backingstore"
	"github.com/bureau-foundation/jarpack/lib/clock"
	"github.com/bureau-foundation/jarpack/lib/scatter"
	"github.com/bureau-foundation/jarpack/lib/testutil"
	"github.com/bureau-foundation/jarpack/lib/zipentry"
)

func newTestEngine(t *testing.T, workers int, capacity int64) *Engine {
	t.Helper()
	provider, err := backingstore.NewProvider(backingstore.ProviderConfig{
		TotalCapacity: capacity,
		Workers:       workers,
		TempDir:       t.TempDir(),
	})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	engine, err := New(Config{
		Workers:  workers,
		Provider: provider,
		Level:    6,
		Clock:    clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

// mergeNames replays the engine into a fresh container and returns the
// entry names and contents in container order.
func mergeNames(t *testing.T, engine *Engine) ([]string, map[string]string) {
	t.Helper()
	var buffer bytes.Buffer
	writer := zip.NewWriter(&buffer)
	if err := engine.ReplayInto(writer); err != nil {
		t.Fatalf("ReplayInto failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing container: %v", err)
	}

	reader, err := zip.NewReader(bytes.NewReader(buffer.Bytes()), int64(buffer.Len()))
	if err != nil {
		t.Fatalf("merged container does not parse: %v", err)
	}
	var names []string
	contents := make(map[string]string)
	for _, file := range reader.File {
		opened, err := file.Open()
		if err != nil {
			t.Fatalf("opening %s: %v", file.Name, err)
		}
		data, err := io.ReadAll(opened)
		opened.Close()
		if err != nil {
			t.Fatalf("reading %s: %v", file.Name, err)
		}
		names = append(names, file.Name)
		contents[file.Name] = string(data)
	}
	return names, contents
}

func entryName(i int) string {
	return fmt.Sprintf("classes/C%03d.class", i)
}

func TestEngineMergesInSubmissionOrder(t *testing.T) {
	const count = 64
	engine := newTestEngine(t, 4, 1<<20)

	// The first entry blocks until every other entry has been
	// compressed, so it settles last.
	release := make(chan struct{})
	othersDone := make(chan struct{})
	var finished atomic.Int32

	for i := 0; i < count; i++ {
		content := strings.Repeat(entryName(i), i+1)
		var source zipentry.PayloadSource
		if i == 0 {
			source = zipentry.PayloadFunc(func() (io.ReadCloser, error) {
				<-release
				return io.NopCloser(strings.NewReader(content)), nil
			})
		} else {
			source = zipentry.PayloadFunc(func() (io.ReadCloser, error) {
				if finished.Add(1) == count-1 {
					close(othersDone)
				}
				return io.NopCloser(strings.NewReader(content)), nil
			})
		}
		if err := engine.Submit(zipentry.Descriptor{Name: entryName(i), Method: zipentry.MethodDeflate}, source); err != nil {
			t.Fatalf("Submit(%d) failed: %v", i, err)
		}
	}

	testutil.RequireClosed(t, othersDone, 10*time.Second, "sibling entries compressing")
	close(release)

	if err := engine.AwaitAll(); err != nil {
		t.Fatalf("AwaitAll failed: %v", err)
	}
	names, contents := mergeNames(t, engine)
	if len(names) != count {
		t.Fatalf("merged %d entries, want %d", len(names), count)
	}
	for i, name := range names {
		if name != entryName(i) {
			t.Fatalf("entry %d = %s, want %s", i, name, entryName(i))
		}
		if want := strings.Repeat(name, i+1); contents[name] != want {
			t.Errorf("%s content mismatch", name)
		}
	}
}

func TestEngineMergeAcrossSpilledStores(t *testing.T) {
	engine := newTestEngine(t, 3, 3*128)
	payload := bytes.Repeat([]byte("spill me please "), 256)
	for i := 0; i < 12; i++ {
		if err := engine.Submit(zipentry.Descriptor{Name: entryName(i), Method: zipentry.MethodStore}, zipentry.Bytes(payload)); err != nil {
			t.Fatal(err)
		}
	}
	if err := engine.AwaitAll(); err != nil {
		t.Fatal(err)
	}
	names, contents := mergeNames(t, engine)
	for i, name := range names {
		if name != entryName(i) {
			t.Errorf("entry %d = %s, want %s", i, name, entryName(i))
		}
		if contents[name] != string(payload) {
			t.Errorf("%s lost content across spill", name)
		}
	}
	if stats := engine.Stats(); stats.SpilledStores == 0 {
		t.Errorf("Stats().SpilledStores = 0 with a 128-byte threshold")
	}
}

func TestEngineFailureIsReportedWithoutHanging(t *testing.T) {
	engine := newTestEngine(t, 4, 1<<20)

	failing := zipentry.PayloadFunc(func() (io.ReadCloser, error) {
		return nil, errors.New("permission denied")
	})
	for i := 0; i < 10; i++ {
		var source zipentry.PayloadSource = zipentry.String(entryName(i))
		if i == 5 {
			source = failing
		}
		if err := engine.Submit(zipentry.Descriptor{Name: entryName(i), Method: zipentry.MethodDeflate}, source); err != nil {
			t.Fatal(err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- engine.AwaitAll() }()
	err := testutil.RequireReceive(t, done, 10*time.Second, "AwaitAll with a failing entry")
	if err == nil {
		t.Fatal("AwaitAll returned nil with a failing entry")
	}
	var taskErr *TaskError
	if !errors.As(err, &taskErr) {
		t.Fatalf("AwaitAll error %v does not carry a TaskError", err)
	}
	if taskErr.Name != entryName(5) || taskErr.Seq != 5 {
		t.Errorf("TaskError = %s/%d, want %s/5", taskErr.Name, taskErr.Seq, entryName(5))
	}
	if !strings.Contains(err.Error(), "permission denied") {
		t.Errorf("AwaitAll error %q lost the cause", err)
	}

	names, _ := mergeNames(t, engine)
	if len(names) != 9 {
		t.Fatalf("merged %d entries, want the 9 successful siblings", len(names))
	}
	for _, name := range names {
		if name == entryName(5) {
			t.Error("failed entry appears in the merged output")
		}
	}
	if stats := engine.Stats(); stats.Failed != 1 || stats.Entries != 9 {
		t.Errorf("Stats() = %+v, want 9 entries and 1 failure", stats)
	}
}

func TestEngineReportsFailuresInSubmissionOrder(t *testing.T) {
	engine := newTestEngine(t, 3, 1<<20)
	for i := 0; i < 6; i++ {
		source := zipentry.PayloadFunc(func() (io.ReadCloser, error) {
			return nil, fmt.Errorf("broken %d", i)
		})
		if err := engine.Submit(zipentry.Descriptor{Name: entryName(i), Method: zipentry.MethodStore}, source); err != nil {
			t.Fatal(err)
		}
	}
	err := engine.AwaitAll()
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		t.Fatalf("AwaitAll error %T is not a joined error", err)
	}
	for i, failure := range joined.Unwrap() {
		if seq := failure.(*TaskError).Seq; seq != uint64(i) {
			t.Errorf("failure %d has seq %d", i, seq)
		}
	}
}

func TestEngineRecoversPanickingSource(t *testing.T) {
	engine := newTestEngine(t, 2, 1<<20)
	panicking := zipentry.PayloadFunc(func() (io.ReadCloser, error) {
		panic("source exploded")
	})
	if err := engine.Submit(zipentry.Descriptor{Name: "boom", Method: zipentry.MethodDeflate}, panicking); err != nil {
		t.Fatal(err)
	}
	if err := engine.Submit(zipentry.Descriptor{Name: "fine", Method: zipentry.MethodDeflate}, zipentry.String("ok")); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- engine.AwaitAll() }()
	err := testutil.RequireReceive(t, done, 10*time.Second, "AwaitAll with a panicking source")
	var taskErr *TaskError
	if !errors.As(err, &taskErr) || taskErr.Name != "boom" {
		t.Fatalf("AwaitAll = %v, want a TaskError for boom", err)
	}
	if !strings.Contains(err.Error(), "source exploded") {
		t.Errorf("panic value missing from %q", err)
	}
}

func TestEngineAwaitAllIsIdempotent(t *testing.T) {
	engine := newTestEngine(t, 2, 1<<20)
	if err := engine.AwaitAll(); err != nil {
		t.Fatalf("AwaitAll with nothing submitted = %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := engine.Submit(zipentry.Descriptor{Name: entryName(i), Method: zipentry.MethodStore}, zipentry.String("x")); err != nil {
			t.Fatal(err)
		}
	}
	for attempt := 0; attempt < 3; attempt++ {
		if err := engine.AwaitAll(); err != nil {
			t.Fatalf("AwaitAll attempt %d = %v", attempt, err)
		}
	}
	if stats := engine.Stats(); stats.Entries != 5 {
		t.Errorf("Stats().Entries = %d, want 5", stats.Entries)
	}
}

func TestEngineRejectsSubmitAfterMerge(t *testing.T) {
	engine := newTestEngine(t, 1, 1024)
	mergeNames(t, engine)

	err := engine.Submit(zipentry.Descriptor{Name: "late", Method: zipentry.MethodStore}, zipentry.Empty())
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after merge = %v, want ErrClosed", err)
	}
	if err := engine.ReplayInto(zip.NewWriter(io.Discard)); err == nil {
		t.Error("second ReplayInto succeeded")
	}
}

func TestEngineRejectsInvalidSubmissions(t *testing.T) {
	engine := newTestEngine(t, 1, 1024)
	if err := engine.Submit(zipentry.Descriptor{Name: "unset"}, zipentry.Empty()); !errors.Is(err, zipentry.ErrMethodUnset) {
		t.Errorf("Submit without a method = %v, want ErrMethodUnset", err)
	}
	if err := engine.Submit(zipentry.Descriptor{Method: zipentry.MethodStore}, zipentry.Empty()); err == nil {
		t.Error("Submit without a name succeeded")
	}
}

func TestEngineCloseIsIdempotent(t *testing.T) {
	engine := newTestEngine(t, 2, 1024)
	if err := engine.Submit(zipentry.Descriptor{Name: "a", Method: zipentry.MethodStore}, zipentry.String("a")); err != nil {
		t.Fatal(err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if err := engine.Submit(zipentry.Descriptor{Name: "b", Method: zipentry.MethodStore}, zipentry.Empty()); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Close = %v, want ErrClosed", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	provider, err := backingstore.NewProvider(backingstore.ProviderConfig{TotalCapacity: 1024, Workers: 1, TempDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		name   string
		config Config
	}{
		{"zero workers", Config{Workers: 0, Provider: provider}},
		{"no provider", Config{Workers: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.config); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New = %v, want ErrInvalidConfig", err)
			}
		})
	}

	if _, err := New(Config{Workers: 1, Provider: provider, Level: 42}); err == nil {
		t.Error("New accepted compression level 42")
	}
}

func TestEngineStoreFailureStopsSubmissions(t *testing.T) {
	spillDir := filepath.Join(t.TempDir(), "spill")
	if err := os.Mkdir(spillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	provider, err := backingstore.NewProvider(backingstore.ProviderConfig{
		TotalCapacity: 16,
		Workers:       1,
		TempDir:       spillDir,
	})
	if err != nil {
		t.Fatal(err)
	}
	engine, err := New(Config{Workers: 1, Provider: provider, Level: 6, Clock: clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { engine.Close() })

	// The store cannot spill once its directory is gone.
	if err := os.Remove(spillDir); err != nil {
		t.Fatal(err)
	}
	payload := zipentry.String(strings.Repeat("x", 64))
	if err := engine.Submit(zipentry.Descriptor{Name: "big", Method: zipentry.MethodStore}, payload); err != nil {
		t.Fatalf("Submit = %v", err)
	}

	err = engine.AwaitAll()
	if !errors.Is(err, scatter.ErrBroken) {
		t.Fatalf("AwaitAll = %v, want ErrBroken", err)
	}
	var task *TaskError
	if !errors.As(err, &task) || task.Name != "big" {
		t.Errorf("AwaitAll = %v, want a TaskError naming big", err)
	}
	if !errors.Is(engine.Err(), scatter.ErrBroken) {
		t.Errorf("Err = %v, want ErrBroken", engine.Err())
	}
	if err := engine.Submit(zipentry.Descriptor{Name: "later", Method: zipentry.MethodStore}, zipentry.Empty()); !errors.Is(err, scatter.ErrBroken) {
		t.Errorf("Submit after a store failure = %v, want ErrBroken", err)
	}
}
