// Package partition splits a work list into N order-preserving shards and
// persists each shard as its own CSV file.
//
// # Size Policy
//
// For M rows and N shards the first M mod N shards hold ⌈M/N⌉ rows and the
// rest hold ⌊M/N⌋, so sizes differ by at most one. When M < N the trailing
// shards are empty but still written, so a run always has exactly N shard
// files.
//
// # Layout
//
//	{outputDir}/partition_csv_0.csv
//	{outputDir}/partition_csv_1.csv
//	...
package partition

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lisurui6/ukbb-batch-downloader/internal/fsx"
	"github.com/lisurui6/ukbb-batch-downloader/internal/worklist"
)

// ErrInvalidCount is returned when the shard count is less than one.
var ErrInvalidCount = errors.New("partition: shard count must be at least 1")

// Bounds returns the [lo, hi) row range of every shard for m rows split n
// ways.
func Bounds(m, n int) [][2]int {
	bounds := make([][2]int, n)
	size, extra := m/n, m%n
	lo := 0
	for i := 0; i < n; i++ {
		hi := lo + size
		if i < extra {
			hi++
		}
		bounds[i] = [2]int{lo, hi}
		lo = hi
	}
	return bounds
}

// Split divides wl into n contiguous sub-lists preserving row order.
func Split(wl *worklist.WorkList, n int) ([]*worklist.WorkList, error) {
	if n < 1 {
		return nil, ErrInvalidCount
	}
	shards := make([]*worklist.WorkList, n)
	for i, b := range Bounds(wl.Len(), n) {
		shards[i] = wl.Slice(b[0], b[1])
	}
	return shards, nil
}

// FileName returns the file name of shard i.
func FileName(i int) string {
	return fmt.Sprintf("partition_csv_%d.csv", i)
}

// Partition splits wl into n shards and writes them under outputDir, which is
// created if absent. It returns the shard paths in index order.
func Partition(wl *worklist.WorkList, n int, outputDir string) ([]string, error) {
	if wl == nil || wl.Column == "" {
		return nil, &worklist.DataFormatError{Path: outputDir, Reason: "work list has no identifier column"}
	}
	if !hasColumn(wl.Header, wl.Column) {
		return nil, &worklist.DataFormatError{Path: outputDir, Column: wl.Column, Reason: fmt.Sprintf("missing identifier column %q", wl.Column)}
	}
	shards, err := Split(wl, n)
	if err != nil {
		return nil, err
	}

	if err := fsx.MkdirAll(outputDir); err != nil {
		return nil, err
	}

	paths := make([]string, n)
	for i, shard := range shards {
		path := filepath.Join(outputDir, FileName(i))
		if err := worklist.Write(path, shard); err != nil {
			return nil, fmt.Errorf("write shard %d: %w", i, err)
		}
		paths[i] = path
	}
	return paths, nil
}

func hasColumn(header []string, column string) bool {
	for _, h := range header {
		if strings.TrimSpace(h) == column {
			return true
		}
	}
	return false
}

// PartitionFile reads the work list at path and partitions it.
func PartitionFile(path, column string, n int, outputDir string) ([]string, error) {
	wl, err := worklist.Read(path, column)
	if err != nil {
		return nil, err
	}
	return Partition(wl, n, outputDir)
}
