package featuresort

import (
	"bufio"
	"container/heap"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// runRecordHeaderMax is the worst-case size of a record header: an 8-byte
// key plus a varint length.
const runRecordHeaderMax = 8 + binary.MaxVarintLen64

// ExternalSorter buffers SortableFeatures in memory up to a configured
// budget, spills run-sized chunks to disk sorted by 64-bit key, and
// produces a streamed k-way-merged iterator (spec §4.C). Add locks the
// sorter, so several goroutines may call it; all Add calls must finish
// before Sort, and the Iterator is single-consumer.
type ExternalSorter struct {
	tempDir           string
	chunkMemoryBudget int
	chunkRecordLimit  int
	parallelism       int

	mu          sync.Mutex
	chunk       []SortableFeature
	chunkBytes  int
	runFiles    []string
	numWritten  int64
	sorted      bool
	soleRunFile string
	soleChunk   []SortableFeature // set when Sort() keeps the in-memory chunk as the only source
}

// SorterConfig mirrors the `chunk_memory_budget_bytes` / `temp_dir` /
// `sort_parallelism` knobs named in spec §6.
type SorterConfig struct {
	TempDir           string
	ChunkMemoryBudget int // bytes; 0 uses a conservative default
	ChunkRecordLimit  int // records; 0 means unbounded (budget governs alone)
	Parallelism       int // goroutines used to sort a large chunk; below 2 sorts on one goroutine
}

const defaultChunkMemoryBudget = 64 << 20 // 64MiB

// NewExternalSorter creates a sorter that spills to cfg.TempDir.
func NewExternalSorter(cfg SorterConfig) *ExternalSorter {
	budget := cfg.ChunkMemoryBudget
	if budget <= 0 {
		budget = defaultChunkMemoryBudget
	}
	return &ExternalSorter{
		tempDir:           cfg.TempDir,
		chunkMemoryBudget: budget,
		chunkRecordLimit:  cfg.ChunkRecordLimit,
		parallelism:       cfg.Parallelism,
	}
}

func recordApproxSize(sf SortableFeature) int {
	return runRecordHeaderMax + len(sf.Value)
}

// Add appends one record to the in-memory chunk, spilling a sorted run to
// disk when the chunk reaches its byte budget or record-count cap.
func (s *ExternalSorter) Add(sf SortableFeature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sorted {
		panic("featuresort: Add called after sort(); sorter is read-only")
	}

	s.chunk = append(s.chunk, sf)
	s.chunkBytes += recordApproxSize(sf)
	atomic.AddInt64(&s.numWritten, 1)

	overBudget := s.chunkBytes >= s.chunkMemoryBudget
	overCount := s.chunkRecordLimit > 0 && len(s.chunk) >= s.chunkRecordLimit
	if overBudget || overCount {
		return s.flushChunkLocked()
	}
	return nil
}

func (s *ExternalSorter) sortChunk(chunk []SortableFeature) {
	if s.parallelism > 1 && len(chunk) > 1<<16 {
		parallelSortByKey(chunk, s.parallelism)
		return
	}
	sort.Slice(chunk, func(i, j int) bool { return chunk[i].SortKey < chunk[j].SortKey })
}

// parallelSortByKey splits chunk into s.parallelism slices, sorts each
// concurrently (spec §4.C "sort itself may parallelise per-chunk sorting
// across cores"), then merges the sorted slices back in place.
func parallelSortByKey(chunk []SortableFeature, parallelism int) {
	n := len(chunk)
	parts := splitEvenly(n, parallelism)

	var g errgroup.Group
	offset := 0
	bounds := make([][2]int, 0, len(parts))
	for _, size := range parts {
		lo, hi := offset, offset+size
		bounds = append(bounds, [2]int{lo, hi})
		g.Go(func() error {
			sort.Slice(chunk[lo:hi], func(i, j int) bool {
				return chunk[lo:hi][i].SortKey < chunk[lo:hi][j].SortKey
			})
			return nil
		})
		offset = hi
	}
	_ = g.Wait() // sort.Slice cannot fail

	merged := make([]SortableFeature, 0, n)
	heads := make([]int, len(bounds))
	for {
		best := -1
		for i, b := range bounds {
			if heads[i] >= b[1]-b[0] {
				continue
			}
			idx := b[0] + heads[i]
			if best == -1 || chunk[idx].SortKey < chunk[bounds[best][0]+heads[best]].SortKey {
				best = i
			}
		}
		if best == -1 {
			break
		}
		idx := bounds[best][0] + heads[best]
		merged = append(merged, chunk[idx])
		heads[best]++
	}
	copy(chunk, merged)
}

func splitEvenly(n, parts int) []int {
	if parts < 1 {
		parts = 1
	}
	base := n / parts
	rem := n % parts
	sizes := make([]int, parts)
	for i := range sizes {
		sizes[i] = base
		if i < rem {
			sizes[i]++
		}
	}
	return sizes
}

func (s *ExternalSorter) flushChunkLocked() error {
	if len(s.chunk) == 0 {
		return nil
	}
	s.sortChunk(s.chunk)

	path := filepath.Join(s.tempDir, fmt.Sprintf("featuresort-run-%d.bin", len(s.runFiles)))
	if err := writeRunFile(path, s.chunk); err != nil {
		return fmt.Errorf("featuresort: spilling run file: %w", err)
	}
	s.runFiles = append(s.runFiles, path)
	s.chunk = nil
	s.chunkBytes = 0
	return nil
}

func writeRunFile(path string, records []SortableFeature) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriterSize(f, 256*1024)
	for _, r := range records {
		if err := writeRunRecord(w, r); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeRunRecord(w *bufio.Writer, r SortableFeature) error {
	var keyBuf [8]byte
	binary.BigEndian.PutUint64(keyBuf[:], r.SortKey)
	if _, err := w.Write(keyBuf[:]); err != nil {
		return err
	}
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(r.Value)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return err
	}
	_, err := w.Write(r.Value)
	return err
}

func readRunRecord(r *bufio.Reader) (SortableFeature, error) {
	var keyBuf [8]byte
	if _, err := io.ReadFull(r, keyBuf[:]); err != nil {
		return SortableFeature{}, err
	}
	key := binary.BigEndian.Uint64(keyBuf[:])
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return SortableFeature{}, fmt.Errorf("featuresort: truncated run file record: %w", err)
	}
	value := make([]byte, n)
	if _, err := io.ReadFull(r, value); err != nil {
		return SortableFeature{}, fmt.Errorf("featuresort: truncated run file record: %w", err)
	}
	return SortableFeature{SortKey: key, Value: value}, nil
}

// Sort finalizes ingestion: the current in-memory chunk is either retained
// as the sole source (when no run was ever spilled) or flushed to a final
// run file. After Sort, the sorter is read-only.
func (s *ExternalSorter) Sort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sorted {
		return nil
	}

	if len(s.runFiles) == 0 {
		s.sortChunk(s.chunk)
		s.soleChunk = s.chunk
		s.chunk = nil
		s.sorted = true
		return nil
	}

	if err := s.flushChunkLocked(); err != nil {
		return err
	}
	s.sorted = true
	return nil
}

// NumFeaturesWritten returns the number of records accepted via Add.
func (s *ExternalSorter) NumFeaturesWritten() int64 {
	return atomic.LoadInt64(&s.numWritten)
}

// DiskUsageBytes reports the sum of current run-file sizes.
func (s *ExternalSorter) DiskUsageBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, path := range s.runFiles {
		if fi, err := os.Stat(path); err == nil {
			total += fi.Size()
		}
	}
	return total
}

// Close deletes all run files owned by this sorter.
func (s *ExternalSorter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, path := range s.runFiles {
		if err := os.Remove(path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.runFiles = nil
	return firstErr
}

// Iterator opens a k-way merge over all runs (or returns the in-memory
// chunk directly when it was the only source) and yields SortableFeatures
// in ascending key order. One-shot, single-consumer.
func (s *ExternalSorter) Iterator() (SortedIterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sorted {
		panic("featuresort: Iterator called before sort()")
	}
	if s.soleChunk != nil {
		return &sliceIterator{records: s.soleChunk}, nil
	}
	return newRunMergeIterator(s.runFiles)
}

// SortedIterator yields SortableFeatures in ascending sort-key order.
type SortedIterator interface {
	// Next advances to the next record, returning false at end of stream.
	Next() bool
	// Feature returns the current record. Valid only after Next returns true.
	Feature() SortableFeature
	// Err returns the first error encountered, if any.
	Err() error
	// Close releases any open file handles.
	Close() error
}

type sliceIterator struct {
	records []SortableFeature
	pos     int
}

func (it *sliceIterator) Next() bool {
	if it.pos >= len(it.records) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Feature() SortableFeature { return it.records[it.pos-1] }
func (it *sliceIterator) Err() error               { return nil }
func (it *sliceIterator) Close() error             { return nil }

// mergeItem is one entry in the k-way-merge min-heap.
type mergeItem struct {
	feature SortableFeature
	run     int // source run index, used as a stable tie-breaker
}

type mergeHeap []mergeItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if h[i].feature.SortKey != h[j].feature.SortKey {
		return h[i].feature.SortKey < h[j].feature.SortKey
	}
	return h[i].run < h[j].run
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any) {
	*h = append(*h, x.(mergeItem))
}
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type runMergeIterator struct {
	files   []*os.File
	readers []*bufio.Reader
	heap    mergeHeap

	current SortableFeature
	err     error
}

func newRunMergeIterator(paths []string) (*runMergeIterator, error) {
	it := &runMergeIterator{
		files:   make([]*os.File, len(paths)),
		readers: make([]*bufio.Reader, len(paths)),
	}
	for i, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			it.Close()
			return nil, fmt.Errorf("featuresort: opening run file %q: %w", p, err)
		}
		it.files[i] = f
		it.readers[i] = bufio.NewReaderSize(f, 64*1024)
	}

	for i, r := range it.readers {
		rec, err := readRunRecord(r)
		if err == io.EOF {
			continue
		}
		if err != nil {
			it.Close()
			return nil, err
		}
		it.heap = append(it.heap, mergeItem{feature: rec, run: i})
	}
	heap.Init(&it.heap)
	return it, nil
}

func (it *runMergeIterator) Next() bool {
	if it.err != nil || len(it.heap) == 0 {
		return false
	}
	top := heap.Pop(&it.heap).(mergeItem)
	it.current = top.feature

	rec, err := readRunRecord(it.readers[top.run])
	switch err {
	case nil:
		heap.Push(&it.heap, mergeItem{feature: rec, run: top.run})
	case io.EOF:
		// run exhausted
	default:
		it.err = fmt.Errorf("featuresort: reading run file: %w", err)
	}
	return true
}

func (it *runMergeIterator) Feature() SortableFeature { return it.current }
func (it *runMergeIterator) Err() error                { return it.err }

func (it *runMergeIterator) Close() error {
	var firstErr error
	for _, f := range it.files {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
