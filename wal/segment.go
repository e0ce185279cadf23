package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/colossusdb/corestore/vfs"
)

// generationPrefix names the per-generation WAL directory under a table's
// root, per spec.md §6's filesystem layout: <dirName>/wal<N>/<segment>/.
const generationPrefix = "wal"

// segmentName is the fixed segment within a WAL generation. corestore does
// not implement within-generation segment rollover by size, only
// generation rollover on writer re-creation (see DESIGN.md).
const segmentName = "0"

func generationNumbers(ff vfs.FilesFacade, tableDir string) ([]int, error) {
	entries, err := ff.ReadDir(tableDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var nums []int
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), generationPrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), generationPrefix))
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums, nil
}

// NextGenerationDir returns the segment directory for a fresh WAL
// generation under tableDir, one past the highest existing wal<N>.
func NextGenerationDir(ff vfs.FilesFacade, tableDir string) (string, error) {
	nums, err := generationNumbers(ff, tableDir)
	if err != nil {
		return "", err
	}
	next := 1
	if len(nums) > 0 {
		next = nums[len(nums)-1] + 1
	}
	return generationDir(tableDir, next), nil
}

// GenerationDirs returns every existing WAL generation's segment directory
// under tableDir, oldest first — the order a replay must process them in
// to preserve record ordering across a rotation.
func GenerationDirs(ff vfs.FilesFacade, tableDir string) ([]string, error) {
	nums, err := generationNumbers(ff, tableDir)
	if err != nil {
		return nil, err
	}
	dirs := make([]string, len(nums))
	for i, n := range nums {
		dirs[i] = generationDir(tableDir, n)
	}
	return dirs, nil
}

func generationDir(tableDir string, n int) string {
	return filepath.Join(tableDir, fmt.Sprintf("%s%d", generationPrefix, n), segmentName)
}
