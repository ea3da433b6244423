// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfdatasets

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bodaay/HuggingFaceDatasets/pkg/tabular"
)

// countingEngine counts csv opens on top of a real engine. It shows when
// the stream actually touches a file.
type countingEngine struct {
	Engine
	mu       sync.Mutex
	csvOpens int
}

func (e *countingEngine) OpenCSV(r io.Reader) (tabular.Source, error) {
	e.mu.Lock()
	e.csvOpens++
	e.mu.Unlock()
	return e.Engine.OpenCSV(r)
}

func (e *countingEngine) reads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.csvOpens
}

// meteredReader counts the bytes the decoder pulls from its input.
type meteredReader struct {
	r io.Reader
	n *int64
}

func (m *meteredReader) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	*m.n += int64(n)
	return n, err
}

// meteredEngine measures how much of a csv payload the stream consumes.
type meteredEngine struct {
	Engine
	bytes int64
}

func (e *meteredEngine) OpenCSV(r io.Reader) (tabular.Source, error) {
	return e.Engine.OpenCSV(&meteredReader{r: r, n: &e.bytes})
}

// fakeSource yields rows {"i": offset..} without any backing bytes.
type fakeSource struct {
	total  int
	closed int
}

func (s *fakeSource) NumRows() int64 { return int64(s.total) }

func (s *fakeSource) Slice(_ context.Context, offset, n int) (*tabular.Table, error) {
	if offset >= s.total || n <= 0 {
		return tabular.NewTable([]string{"i"}, nil), nil
	}
	end := offset + n
	if end > s.total {
		end = s.total
	}
	rows := make([]tabular.Row, 0, end-offset)
	for i := offset; i < end; i++ {
		rows = append(rows, tabular.Row{"i": int64(i)})
	}
	return tabular.NewTable([]string{"i"}, rows), nil
}

func (s *fakeSource) Close() error {
	s.closed++
	return nil
}

// fakeParquetEngine serves a fixed row count per parquet open and records the
// sizes it was handed. With probe set it reads the head and tail of the
// payload through the ReaderAt, which over HTTP must become ranged requests.
type fakeParquetEngine struct {
	Engine
	mu    sync.Mutex
	opens int
	sizes []int64
	probe bool
	rows  int
}

func (e *fakeParquetEngine) OpenParquet(ra io.ReaderAt, size int64) (tabular.Source, error) {
	e.mu.Lock()
	e.opens++
	e.sizes = append(e.sizes, size)
	e.mu.Unlock()
	if e.probe {
		buf := make([]byte, 4)
		if _, err := ra.ReadAt(buf, 0); err != nil {
			return nil, err
		}
		if _, err := ra.ReadAt(buf, size-int64(len(buf))); err != nil {
			return nil, err
		}
	}
	return &fakeSource{total: e.rows}, nil
}

func (e *fakeParquetEngine) stats() (opens int, sizes []int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opens, append([]int64(nil), e.sizes...)
}

// streamDir writes one CSV file per entry, 0..rows-1 ids offset by startID.
func streamDir(t *testing.T, files []string, rows []int, startIDs []int) string {
	t.Helper()
	dir := t.TempDir()
	for i, name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), csvRows(rows[i], startIDs[i]), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func drain(t *testing.T, ctx context.Context, it *StreamIter) (lengths []int, firstIDs []int64) {
	t.Helper()
	for it.Next(ctx) {
		batch := it.Batch()
		lengths = append(lengths, len(batch))
		firstIDs = append(firstIDs, batch[0]["i"].(int64))
	}
	return lengths, firstIDs
}

func TestStream_BatchScenario(t *testing.T) {
	hermetic(t)
	// Files of 7, 4 and 9 rows pulled in batches of 5 give exactly
	// 5, 2, 4, 5, 4: a short batch ends its file, a full batch may too.
	dir := streamDir(t,
		[]string{"a.csv", "b.csv", "c.csv"},
		[]int{7, 4, 9},
		[]int{0, 100, 200},
	)
	eng := &countingEngine{Engine: DefaultEngine}
	d, err := Load(context.Background(), Local(dir), Options{Streaming: true, BatchSize: 5, Engine: eng})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	it := d.Stream.Iter()
	defer it.Close()

	wantLens := []int{5, 2, 4, 5, 4}
	wantFirst := []int64{0, 5, 100, 200, 205}
	var gotLens []int
	var gotFirst []int64
	for i := 0; it.Next(ctx); i++ {
		batch := it.Batch()
		gotLens = append(gotLens, len(batch))
		gotFirst = append(gotFirst, batch[0]["id"].(int64))
		// The second file must not be opened while the first still has rows.
		if i == 0 && eng.reads() != 1 {
			t.Errorf("after first batch %d files were read, want 1", eng.reads())
		}
		if i == 2 && eng.reads() != 2 {
			t.Errorf("after third batch %d files were read, want 2", eng.reads())
		}
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration failed: %v", err)
	}
	if len(gotLens) != len(wantLens) {
		t.Fatalf("batch lengths = %v, want %v", gotLens, wantLens)
	}
	for i := range wantLens {
		if gotLens[i] != wantLens[i] {
			t.Errorf("batch %d has %d rows, want %d", i, gotLens[i], wantLens[i])
		}
		if gotFirst[i] != wantFirst[i] {
			t.Errorf("batch %d starts at id %d, want %d", i, gotFirst[i], wantFirst[i])
		}
	}
	if it.Next(ctx) {
		t.Error("Next after exhaustion must keep returning false")
	}
}

func TestStream_LocalCSVDecodesIncrementally(t *testing.T) {
	hermetic(t)
	const total = 10000
	dir := streamDir(t, []string{"big.csv"}, []int{total}, []int{0})
	st, err := os.Stat(filepath.Join(dir, "big.csv"))
	if err != nil {
		t.Fatal(err)
	}
	size := st.Size()

	eng := &meteredEngine{Engine: DefaultEngine}
	d, err := Load(context.Background(), Local(dir), Options{Streaming: true, BatchSize: 5, Engine: eng})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	it := d.Stream.Iter()
	defer it.Close()
	if !it.Next(ctx) {
		t.Fatalf("first batch failed: %v", it.Err())
	}
	if len(it.Batch()) != 5 {
		t.Fatalf("first batch has %d rows, want 5", len(it.Batch()))
	}
	// One 5-row batch must not pull the whole file through the decoder.
	if eng.bytes >= size/2 {
		t.Fatalf("one 5-row batch consumed %d of %d bytes, decoding is not incremental", eng.bytes, size)
	}

	rows := len(it.Batch())
	for it.Next(ctx) {
		rows += len(it.Batch())
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	if rows != total {
		t.Errorf("streamed %d rows, want %d", rows, total)
	}
}

func TestStream_Restart(t *testing.T) {
	hermetic(t)
	dir := streamDir(t, []string{"a.csv", "b.csv"}, []int{3, 2}, []int{0, 10})
	eng := &countingEngine{Engine: DefaultEngine}
	d, err := Load(context.Background(), Local(dir), Options{Streaming: true, BatchSize: 10, Engine: eng})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	pass := func() []int {
		it := d.Stream.Iter()
		defer it.Close()
		var lens []int
		for it.Next(ctx) {
			lens = append(lens, len(it.Batch()))
		}
		if err := it.Err(); err != nil {
			t.Fatal(err)
		}
		return lens
	}

	first := pass()
	second := pass()
	if len(first) != 2 || first[0] != 3 || first[1] != 2 {
		t.Fatalf("first pass = %v, want [3 2]", first)
	}
	if len(second) != len(first) || second[0] != first[0] || second[1] != first[1] {
		t.Errorf("restarted pass = %v, want %v", second, first)
	}
	// No memoization between passes, files are read again.
	if eng.reads() != 4 {
		t.Errorf("files read %d times across two passes, want 4", eng.reads())
	}
}

func TestStream_SkipsUnreadableFile(t *testing.T) {
	hermetic(t)
	dir := streamDir(t, []string{"a.csv", "c.csv"}, []int{2, 3}, []int{0, 20})
	// Field count mismatch makes the middle file undecodable.
	if err := os.WriteFile(filepath.Join(dir, "b.csv"), []byte("id,word\n1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	log := &eventLog{}
	d, err := Load(context.Background(), Local(dir), Options{Streaming: true, BatchSize: 10, Progress: log.record})
	if err != nil {
		t.Fatal(err)
	}

	it := d.Stream.Iter()
	defer it.Close()
	lens, first := drainIDs(t, it)
	if len(lens) != 2 || lens[0] != 2 || lens[1] != 3 {
		t.Fatalf("batch lengths = %v, want [2 3]", lens)
	}
	if first[0] != 0 || first[1] != 20 {
		t.Errorf("first ids = %v, want [0 20]", first)
	}
	if err := it.Err(); err != nil {
		t.Errorf("a skipped file must not fail the stream: %v", err)
	}
	if got := log.kind("error"); got != 1 {
		t.Errorf("error events = %d, want 1", got)
	}
}

func drainIDs(t *testing.T, it *StreamIter) (lengths []int, firstIDs []int64) {
	t.Helper()
	ctx := context.Background()
	for it.Next(ctx) {
		batch := it.Batch()
		lengths = append(lengths, len(batch))
		firstIDs = append(firstIDs, batch[0]["id"].(int64))
	}
	return lengths, firstIDs
}

func TestStream_EmptyFileAdvances(t *testing.T) {
	hermetic(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.csv"), []byte("id,word\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.csv"), csvRows(3, 0), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := Load(context.Background(), Local(dir), Options{Streaming: true, BatchSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	it := d.Stream.Iter()
	defer it.Close()
	lens, _ := drainIDs(t, it)
	if len(lens) != 1 || lens[0] != 3 {
		t.Fatalf("batch lengths = %v, want [3]", lens)
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
}

func TestStream_ContextCancellation(t *testing.T) {
	hermetic(t)
	dir := streamDir(t, []string{"big.csv"}, []int{100}, []int{0})
	d, err := Load(context.Background(), Local(dir), Options{Streaming: true, BatchSize: 10})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	it := d.Stream.Iter()
	defer it.Close()
	if !it.Next(ctx) {
		t.Fatalf("first batch failed: %v", it.Err())
	}
	cancel()
	if it.Next(ctx) {
		t.Fatal("Next must fail after cancellation")
	}
	if !errors.Is(it.Err(), context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", it.Err())
	}
	if it.Batch() != nil {
		t.Error("Batch must be cleared after a fatal error")
	}
}

func TestStream_CloseStopsIteration(t *testing.T) {
	hermetic(t)
	dir := streamDir(t, []string{"a.csv"}, []int{20}, []int{0})
	d, err := Load(context.Background(), Local(dir), Options{Streaming: true, BatchSize: 5})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	it := d.Stream.Iter()
	if !it.Next(ctx) {
		t.Fatalf("first batch failed: %v", it.Err())
	}
	if err := it.Close(); err != nil {
		t.Fatal(err)
	}
	if it.Next(ctx) {
		t.Error("Next after Close must return false")
	}
	if err := it.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := it.Err(); err != nil {
		t.Errorf("Close is not an error: %v", err)
	}
}

func TestStream_RemoteCSVThroughCache(t *testing.T) {
	hermetic(t)
	hub := newFakeHub(t, "owner/streamcsv")
	hub.add("train.csv", csvRows(6, 0))

	opts := hub.options(t)
	opts.Streaming = true
	opts.BatchSize = 4
	d, err := Load(context.Background(), mustRemote(t, "owner/streamcsv", opts), Options{})
	if err != nil {
		t.Fatal(err)
	}

	it := d.Stream.Iter()
	lens, _ := drainIDs(t, it)
	it.Close()
	if len(lens) != 2 || lens[0] != 4 || lens[1] != 2 {
		t.Fatalf("batch lengths = %v, want [4 2]", lens)
	}
	if h, g := hub.counts("train.csv"); h != 1 || g != 1 {
		t.Fatalf("first pass: %d HEADs %d GETs, want 1 and 1", h, g)
	}

	// Replaying hits the cache through the listing etag, no new traffic.
	it = d.Stream.Iter()
	lens, _ = drainIDs(t, it)
	it.Close()
	if len(lens) != 2 {
		t.Fatalf("replay lengths = %v", lens)
	}
	if h, g := hub.counts("train.csv"); h != 1 || g != 1 {
		t.Errorf("replay went to the network: %d HEADs %d GETs", h, g)
	}
}

func TestStream_RemoteParquetLazy(t *testing.T) {
	hermetic(t)
	hub := newFakeHub(t, "owner/streampq")
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}
	hub.add("data.parquet", payload)

	eng := &fakeParquetEngine{Engine: DefaultEngine, probe: true, rows: 7}
	opts := hub.options(t)
	opts.Streaming = true
	opts.BatchSize = 5
	opts.Engine = eng
	d, err := Load(context.Background(), mustRemote(t, "owner/streampq", opts), Options{})
	if err != nil {
		t.Fatal(err)
	}

	it := d.Stream.Iter()
	defer it.Close()
	lens, first := drain(t, context.Background(), it)
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	if len(lens) != 2 || lens[0] != 5 || lens[1] != 2 {
		t.Fatalf("batch lengths = %v, want [5 2]", lens)
	}
	if first[0] != 0 || first[1] != 5 {
		t.Errorf("first row ids = %v, want [0 5]", first)
	}

	opens, sizes := eng.stats()
	if opens != 1 || sizes[0] != int64(len(payload)) {
		t.Errorf("opens = %d sizes = %v, want one open of %d bytes", opens, sizes, len(payload))
	}
	// One HEAD to size the file, then only the two probe ranges. The payload
	// is never downloaded whole.
	if h, g := hub.counts("data.parquet"); h != 1 || g != 2 {
		t.Errorf("%d HEADs %d GETs, want 1 and 2", h, g)
	}
}

func TestStream_OfflineParquetFromCache(t *testing.T) {
	hermetic(t)
	hub := newFakeHub(t, "owner/offpq")
	payload := make([]byte, 512)
	hub.add("data.parquet", payload)

	opts := hub.options(t)
	if _, err := Fetch(context.Background(), mustRemote(t, "owner/offpq", opts), Options{}); err != nil {
		t.Fatal(err)
	}
	headsBefore, getsBefore := hub.counts("data.parquet")

	eng := &fakeParquetEngine{Engine: DefaultEngine, rows: 3}
	opts.Streaming = true
	opts.Offline = OfflineEnabled
	opts.Engine = eng
	d, err := Load(context.Background(), mustRemote(t, "owner/offpq", opts), Options{})
	if err != nil {
		t.Fatal(err)
	}

	it := d.Stream.Iter()
	defer it.Close()
	lens, _ := drain(t, context.Background(), it)
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	if len(lens) != 1 || lens[0] != 3 {
		t.Fatalf("batch lengths = %v, want [3]", lens)
	}
	opens, sizes := eng.stats()
	if opens != 1 || sizes[0] != int64(len(payload)) {
		t.Errorf("opens = %d sizes = %v", opens, sizes)
	}
	if h, g := hub.counts("data.parquet"); h != headsBefore || g != getsBefore {
		t.Errorf("offline streaming made requests: %d HEADs %d GETs beyond %d and %d", h, g, headsBefore, getsBefore)
	}
}
