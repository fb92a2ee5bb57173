// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jar

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/bureau-foundation/jarpack/lib/binhash"
	"github.com/bureau-foundation/jarpack/lib/clock"
	"github.com/bureau-foundation/jarpack/lib/parallel"
	"github.com/bureau-foundation/jarpack/lib/scatter"
	"github.com/bureau-foundation/jarpack/lib/testutil"
	"github.com/bureau-foundation/jarpack/lib/zipentry"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestCreator(t *testing.T, workers int, capacity int64, tempDir string) *Creator {
	t.Helper()
	creator, err := NewCreator(Config{
		Workers:       workers,
		TotalCapacity: capacity,
		TempDir:       tempDir,
		Level:         6,
		Clock:         clock.Fake(epoch),
	})
	if err != nil {
		t.Fatalf("NewCreator failed: %v", err)
	}
	t.Cleanup(func() { creator.Abort() })
	return creator
}

type entry struct {
	name    string
	content string
	mode    os.FileMode
}

func readEntries(t *testing.T, data []byte) []entry {
	t.Helper()
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("container does not parse: %v", err)
	}
	reader.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	var entries []entry
	for _, file := range reader.File {
		opened, err := file.Open()
		if err != nil {
			t.Fatalf("opening %s: %v", file.Name, err)
		}
		content, err := io.ReadAll(opened)
		opened.Close()
		if err != nil {
			t.Fatalf("reading %s: %v", file.Name, err)
		}
		entries = append(entries, entry{name: file.Name, content: string(content), mode: file.Mode()})
	}
	return entries
}

func mustAdd(t *testing.T, creator *Creator, descriptor zipentry.Descriptor, source zipentry.PayloadSource, parallel bool) {
	t.Helper()
	if err := creator.AddEntry(descriptor, source, parallel); err != nil {
		t.Fatalf("AddEntry(%s) failed: %v", descriptor.Name, err)
	}
}

func write(t *testing.T, creator *Creator) []byte {
	t.Helper()
	var buffer bytes.Buffer
	if err := creator.WriteTo(zip.NewWriter(&buffer)); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	return buffer.Bytes()
}

// addRoundTripEntries adds the reference set of entries, deliberately
// out of container order.
func addRoundTripEntries(t *testing.T, creator *Creator) {
	t.Helper()
	for i := 0; i < 25; i++ {
		name := fmt.Sprintf("p%d", i)
		mustAdd(t, creator, zipentry.Descriptor{Name: name, Method: zipentry.MethodDeflate}, zipentry.String(name), true)
	}
	mustAdd(t, creator, zipentry.Descriptor{Name: "x.txt", Method: zipentry.MethodDeflate}, zipentry.String("seq"), false)
	mustAdd(t, creator, zipentry.Descriptor{Name: zipentry.ManifestName, Method: zipentry.MethodDeflate}, zipentry.String("M"), false)
	mustAdd(t, creator, zipentry.Descriptor{Name: "a/", Method: zipentry.MethodStore, Directory: true}, nil, false)
	for i := 25; i < 50; i++ {
		name := fmt.Sprintf("p%d", i)
		mustAdd(t, creator, zipentry.Descriptor{Name: name, Method: zipentry.MethodDeflate}, zipentry.String(name), true)
	}
	mustAdd(t, creator, zipentry.Descriptor{Name: "META-INF/", Method: zipentry.MethodStore}, zipentry.Empty(), false)
}

func TestRoundTrip(t *testing.T) {
	creator := newTestCreator(t, 4, 1<<20, t.TempDir())
	addRoundTripEntries(t, creator)
	entries := readEntries(t, write(t, creator))

	want := []entry{
		{name: "META-INF/"},
		{name: "META-INF/MANIFEST.MF", content: "M"},
		{name: "a/"},
		{name: "x.txt", content: "seq"},
	}
	for i := 0; i < 50; i++ {
		name := fmt.Sprintf("p%d", i)
		want = append(want, entry{name: name, content: name})
	}

	if len(entries) != len(want) {
		t.Fatalf("container has %d entries, want %d", len(entries), len(want))
	}
	for i := range want {
		if entries[i].name != want[i].name || entries[i].content != want[i].content {
			t.Errorf("entry %d = %s %q, want %s %q", i, entries[i].name, entries[i].content, want[i].name, want[i].content)
		}
	}
	if creator.State() != StateClosed {
		t.Errorf("state after WriteTo = %s, want closed", creator.State())
	}
}

func TestOutputIsIndependentOfWorkerCount(t *testing.T) {
	build := func(workers int, capacity int64) binhash.Digest {
		creator := newTestCreator(t, workers, capacity, t.TempDir())
		addRoundTripEntries(t, creator)
		for i := 0; i < 20; i++ {
			name := fmt.Sprintf("lib/big-%02d.bin", i)
			payload := bytes.Repeat([]byte(name), 300+i*17)
			method := zipentry.MethodDeflate
			if i%3 == 0 {
				method = zipentry.MethodZstd
			}
			mustAdd(t, creator, zipentry.Descriptor{Name: name, Method: method}, zipentry.Bytes(payload), true)
		}
		return binhash.HashBytes(write(t, creator))
	}

	reference := build(1, 1<<24)
	for _, workers := range []int{2, 3, 8} {
		// A small capacity forces every store to spill.
		if got := build(workers, int64(workers)*512); got != reference {
			t.Errorf("%d workers produced %s, want %s", workers, got, reference)
		}
	}
}

func TestFailingParallelEntryIsNamed(t *testing.T) {
	creator := newTestCreator(t, 3, 1<<20, t.TempDir())
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("p%d", i)
		var source zipentry.PayloadSource = zipentry.String(name)
		if i == 4 {
			source = zipentry.PayloadFunc(func() (io.ReadCloser, error) {
				return io.NopCloser(&failingReader{}), nil
			})
		}
		mustAdd(t, creator, zipentry.Descriptor{Name: name, Method: zipentry.MethodDeflate}, source, true)
	}

	var buffer bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- creator.WriteTo(zip.NewWriter(&buffer)) }()
	err := testutil.RequireReceive(t, done, 10*time.Second, "WriteTo with a failing parallel entry")

	var taskErr *parallel.TaskError
	if !errors.As(err, &taskErr) || taskErr.Name != "p4" {
		t.Fatalf("WriteTo = %v, want a TaskError naming p4", err)
	}

	entries := readEntries(t, buffer.Bytes())
	if len(entries) != 9 {
		t.Fatalf("container has %d entries, want the 9 siblings", len(entries))
	}
	for _, entry := range entries {
		if entry.name == "p4" {
			t.Error("failed entry was written")
		}
		if entry.content != entry.name {
			t.Errorf("%s content = %q", entry.name, entry.content)
		}
	}

	stats, err := creator.Statistics()
	if err != nil {
		t.Fatalf("Statistics after partial failure: %v", err)
	}
	if stats.FailedEntries != 1 || stats.ParallelEntries != 9 {
		t.Errorf("statistics = %+v, want 9 parallel and 1 failed", stats)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("read error on purpose")
}

func TestSecondWriteToFails(t *testing.T) {
	creator := newTestCreator(t, 2, 1<<20, t.TempDir())
	mustAdd(t, creator, zipentry.Descriptor{Name: "x.txt", Method: zipentry.MethodStore}, zipentry.String("x"), false)
	write(t, creator)

	if err := creator.WriteTo(zip.NewWriter(io.Discard)); !errors.Is(err, ErrAlreadyWritten) {
		t.Errorf("second WriteTo = %v, want ErrAlreadyWritten", err)
	}
	err := creator.AddEntry(zipentry.Descriptor{Name: "late", Method: zipentry.MethodStore}, zipentry.Empty(), false)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("AddEntry after WriteTo = %v, want ErrClosed", err)
	}
}

func TestAddRejectsUnsetMethod(t *testing.T) {
	creator := newTestCreator(t, 1, 1<<20, t.TempDir())
	for _, parallel := range []bool{false, true} {
		err := creator.AddEntry(zipentry.Descriptor{Name: "x"}, zipentry.String("x"), parallel)
		if !errors.Is(err, zipentry.ErrMethodUnset) {
			t.Errorf("AddEntry(parallel=%v) = %v, want ErrMethodUnset", parallel, err)
		}
	}
}

func TestDirectoriesAreStoredEmpty(t *testing.T) {
	creator := newTestCreator(t, 1, 1<<20, t.TempDir())
	mustAdd(t, creator, zipentry.Descriptor{Name: "src", Method: zipentry.MethodDeflate, Directory: true},
		zipentry.String("should be dropped"), false)
	mustAdd(t, creator, zipentry.Descriptor{Name: "src/main.go", Method: zipentry.MethodZstd},
		zipentry.String("package main\n"), true)

	entries := readEntries(t, write(t, creator))
	if len(entries) != 2 {
		t.Fatalf("container has %d entries, want 2", len(entries))
	}
	if entries[0].name != "src/" || entries[0].content != "" || !entries[0].mode.IsDir() {
		t.Errorf("directory entry = %+v, want empty directory src/", entries[0])
	}
	if entries[1].content != "package main\n" {
		t.Errorf("zstd entry content = %q", entries[1].content)
	}
}

func TestSequentialPayloadFailureSkipsOnlyThatEntry(t *testing.T) {
	creator := newTestCreator(t, 1, 1<<20, t.TempDir())
	broken := zipentry.PayloadFunc(func() (io.ReadCloser, error) {
		return nil, os.ErrNotExist
	})
	if err := creator.AddEntry(zipentry.Descriptor{Name: "gone", Method: zipentry.MethodDeflate}, broken, false); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("AddEntry with missing payload = %v, want ErrNotExist", err)
	}
	mustAdd(t, creator, zipentry.Descriptor{Name: "kept", Method: zipentry.MethodDeflate}, zipentry.String("kept"), false)

	entries := readEntries(t, write(t, creator))
	if len(entries) != 1 || entries[0].name != "kept" {
		t.Errorf("entries = %+v, want only kept", entries)
	}
}

// slowCloser advances the fake clock while the container is closed.
type slowCloser struct {
	*zip.Writer
	clock *clock.FakeClock
	delay time.Duration
}

func (s *slowCloser) Close() error {
	s.clock.Advance(s.delay)
	return s.Writer.Close()
}

func TestStatisticsUseInjectedClock(t *testing.T) {
	fake := clock.Fake(epoch)
	creator, err := NewCreator(Config{Workers: 2, TotalCapacity: 1 << 20, TempDir: t.TempDir(), Clock: fake})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := creator.Statistics(); !errors.Is(err, ErrNotWritten) {
		t.Errorf("Statistics before WriteTo = %v, want ErrNotWritten", err)
	}

	addRoundTripEntries(t, creator)
	writer := &slowCloser{Writer: zip.NewWriter(io.Discard), clock: fake, delay: 250 * time.Millisecond}
	if err := creator.WriteTo(writer); err != nil {
		t.Fatal(err)
	}

	stats, err := creator.Statistics()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Close != 250*time.Millisecond {
		t.Errorf("Close = %v, want 250ms", stats.Close)
	}
	if stats.Total != 250*time.Millisecond {
		t.Errorf("Total = %v, want 250ms", stats.Total)
	}
	if stats.Entries() != 54 || stats.ParallelEntries != 50 || stats.DirectoryEntries != 1 ||
		stats.MetaDirectoryEntries != 1 || stats.ManifestEntries != 1 || stats.SequentialEntries != 1 {
		t.Errorf("entry counts = %+v", stats)
	}
	if stats.Workers != 2 {
		t.Errorf("Workers = %d, want 2", stats.Workers)
	}
	if stats.UncompressedBytes == 0 || stats.CompressedBytes == 0 {
		t.Errorf("byte counts = %d/%d, want both nonzero", stats.CompressedBytes, stats.UncompressedBytes)
	}

	summary := stats.String()
	for _, want := range []string{"54 entries", "50 parallel on 2 workers", "close 250ms"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary %q missing %q", summary, want)
		}
	}
}

func TestSpillFilesAreRemoved(t *testing.T) {
	payload := bytes.Repeat([]byte("incompressible? no, but large "), 1024)

	for _, finish := range []string{"write", "abort"} {
		t.Run(finish, func(t *testing.T) {
			tempDir := t.TempDir()
			creator := newTestCreator(t, 2, 2*256, tempDir)
			for i := 0; i < 6; i++ {
				name := testutil.UniqueID("blob")
				mustAdd(t, creator, zipentry.Descriptor{Name: name, Method: zipentry.MethodStore}, zipentry.Bytes(payload), i%2 == 0)
			}

			if finish == "write" {
				write(t, creator)
				if stats, _ := creator.Statistics(); stats.SpilledStores == 0 {
					t.Error("no store spilled with a 256-byte threshold")
				}
			} else {
				if err := creator.Abort(); err != nil {
					t.Fatalf("Abort failed: %v", err)
				}
				if err := creator.WriteTo(zip.NewWriter(io.Discard)); !errors.Is(err, ErrClosed) {
					t.Errorf("WriteTo after Abort = %v, want ErrClosed", err)
				}
			}

			testutil.RequireEmptyDir(t, tempDir)
		})
	}
}

func TestNewCreatorRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name   string
		config Config
	}{
		{"zero workers", Config{Workers: 0, TempDir: t.TempDir()}},
		{"negative capacity", Config{Workers: 1, TotalCapacity: -1, TempDir: t.TempDir()}},
		{"capacity below worker count", Config{Workers: 4, TotalCapacity: 3, TempDir: t.TempDir()}},
		{"missing temp dir", Config{Workers: 1, TempDir: "/nonexistent/jarpack"}},
		{"bad level", Config{Workers: 1, TempDir: t.TempDir(), Level: 99}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if creator, err := NewCreator(tc.config); err == nil {
				creator.Abort()
				t.Error("NewCreator succeeded")
			}
		})
	}
}

// brokenSpillCreator returns a creator whose stores hold 16 bytes and
// whose spill directory no longer exists.
func brokenSpillCreator(t *testing.T) *Creator {
	t.Helper()
	spillDir := filepath.Join(t.TempDir(), "spill")
	if err := os.Mkdir(spillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	creator := newTestCreator(t, 1, 16, spillDir)
	if err := os.Remove(spillDir); err != nil {
		t.Fatal(err)
	}
	return creator
}

func TestSequentialStoreFailureEndsTheRun(t *testing.T) {
	creator := brokenSpillCreator(t)
	large := zipentry.String(strings.Repeat("x", 64))

	err := creator.AddEntry(zipentry.Descriptor{Name: "large.txt", Method: zipentry.MethodStore}, large, false)
	if !errors.Is(err, scatter.ErrBroken) {
		t.Fatalf("AddEntry past the threshold = %v, want ErrBroken", err)
	}

	later := []zipentry.Request{
		{Descriptor: zipentry.Descriptor{Name: "d/", Method: zipentry.MethodStore, Directory: true}},
		{Descriptor: zipentry.Descriptor{Name: zipentry.ManifestName, Method: zipentry.MethodDeflate}, Source: zipentry.String("M")},
		{Descriptor: zipentry.Descriptor{Name: "p", Method: zipentry.MethodDeflate}, Source: zipentry.String("p"), Parallel: true},
	}
	for _, request := range later {
		if err := creator.Add(request); !errors.Is(err, scatter.ErrBroken) {
			t.Errorf("Add(%s) after a store failure = %v, want ErrBroken", request.Descriptor.Name, err)
		}
	}

	var buffer bytes.Buffer
	if err := creator.WriteTo(zip.NewWriter(&buffer)); !errors.Is(err, scatter.ErrBroken) {
		t.Errorf("WriteTo after a store failure = %v, want ErrBroken", err)
	}
	if buffer.Len() != 0 {
		t.Errorf("WriteTo wrote %d bytes after a store failure", buffer.Len())
	}
	if creator.State() != StateClosed {
		t.Errorf("state = %s, want closed", creator.State())
	}
	if _, err := creator.Statistics(); !errors.Is(err, ErrNotWritten) {
		t.Errorf("Statistics = %v, want ErrNotWritten", err)
	}
}

func TestWorkerStoreFailureEndsTheRun(t *testing.T) {
	creator := brokenSpillCreator(t)
	mustAdd(t, creator, zipentry.Descriptor{Name: "big.bin", Method: zipentry.MethodStore},
		zipentry.String(strings.Repeat("y", 64)), true)

	var buffer bytes.Buffer
	err := creator.WriteTo(zip.NewWriter(&buffer))
	if !errors.Is(err, scatter.ErrBroken) {
		t.Fatalf("WriteTo = %v, want ErrBroken", err)
	}
	var task *parallel.TaskError
	if !errors.As(err, &task) || task.Name != "big.bin" {
		t.Errorf("WriteTo = %v, want a TaskError naming big.bin", err)
	}
	if buffer.Len() != 0 {
		t.Errorf("WriteTo wrote %d bytes after a store failure", buffer.Len())
	}
	if err := creator.AddEntry(zipentry.Descriptor{Name: "late", Method: zipentry.MethodStore}, zipentry.Empty(), false); !errors.Is(err, ErrClosed) {
		t.Errorf("AddEntry after WriteTo = %v, want ErrClosed", err)
	}
}

// failingWriter accepts entries but cannot complete any of them.
type failingWriter struct{}

func (failingWriter) CreateRaw(*zip.FileHeader) (io.Writer, error) {
	return nil, errors.New("disk full")
}

func (failingWriter) Close() error { return nil }

func TestReplayFailureKeepsTaskErrors(t *testing.T) {
	creator := newTestCreator(t, 2, 1<<20, t.TempDir())
	unreadable := zipentry.PayloadFunc(func() (io.ReadCloser, error) {
		return nil, errors.New("unreadable")
	})
	mustAdd(t, creator, zipentry.Descriptor{Name: "gone.class", Method: zipentry.MethodDeflate}, unreadable, true)
	mustAdd(t, creator, zipentry.Descriptor{Name: "x.txt", Method: zipentry.MethodDeflate}, zipentry.String("seq"), false)

	err := creator.WriteTo(failingWriter{})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("WriteTo = %v, want the replay failure", err)
	}
	var task *parallel.TaskError
	if !errors.As(err, &task) || task.Name != "gone.class" {
		t.Errorf("WriteTo = %v, want it to keep the TaskError naming gone.class", err)
	}
}
