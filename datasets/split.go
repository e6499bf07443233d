package datasets

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
)

// ShouldSplit
// Reports whether `proportions` describe more than a single 100%
// allocation, i.e. max(p)/sum(p) != 1.
//
//	ShouldSplit([]float64{10, 0, 0})    // false
//	ShouldSplit([]float64{1, 0.1, 0.2}) // true
func ShouldSplit(proportions []float64) bool {
	if len(proportions) == 0 {
		return false
	}
	maxP, sum := proportions[0], 0.0
	for _, p := range proportions {
		maxP = math.Max(maxP, p)
		sum += p
	}
	return maxP/sum != 1
}

// SplitDataset is a view of selected indices of a base dataset.
type SplitDataset struct {
	base    Dataset
	indices []int
}

// NewSplitDataset
// Returns a view of `base` at `indices`, which are not copied.
func NewSplitDataset(base Dataset, indices []int) *SplitDataset {
	return &SplitDataset{base: base, indices: indices}
}

func (s *SplitDataset) Len() int {
	return len(s.indices)
}

func (s *SplitDataset) Get(i int) (Sample, error) {
	if err := checkIndex(i, len(s.indices)); err != nil {
		return Sample{}, err
	}
	return s.base.Get(s.indices[i])
}

func (s *SplitDataset) DocLen(i int) (int, error) {
	if err := checkIndex(i, len(s.indices)); err != nil {
		return 0, err
	}
	return DocLen(s.base, s.indices[i])
}

// Indices returns a copy of the base indices in view order.
func (s *SplitDataset) Indices() []int {
	out := make([]int, len(s.indices))
	copy(out, s.indices)
	return out
}

func (s *SplitDataset) Base() Dataset {
	return s.base
}

// SplitOptions
// Controls Split. When LoadPath names an existing split file its indices
// are reused verbatim; otherwise indices are computed and, if SavePath is
// set, persisted there.
type SplitOptions struct {
	Shuffle  bool
	Seed     int64
	SavePath string
	LoadPath string
	Logger   *log.Logger
}

// SplitFile is the persisted form of a split.
type SplitFile struct {
	DatasetLen  int       `json:"dataset_len"`
	Proportions []float64 `json:"proportions"`
	Splits      [][]int   `json:"splits"`
}

// ValidateProportions
// Rejects empty proportions, negative entries and non-positive sums.
func ValidateProportions(proportions []float64) error {
	if len(proportions) == 0 {
		return fmt.Errorf("%w: no proportions given", ErrInvalidSplit)
	}
	sum := 0.0
	for _, p := range proportions {
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("%w: proportion %v", ErrInvalidSplit, p)
		}
		sum += p
	}
	if sum <= 0 {
		return fmt.Errorf("%w: proportions sum to %v", ErrInvalidSplit, sum)
	}
	return nil
}

// SplitSizes
// Sizes each split as floor(n*p_i/sum(p)); the remainder goes to the last
// split with a nonzero proportion.
func SplitSizes(n int, proportions []float64) ([]int, error) {
	if err := ValidateProportions(proportions); err != nil {
		return nil, err
	}
	sum := 0.0
	last := 0
	for i, p := range proportions {
		sum += p
		if p > 0 {
			last = i
		}
	}
	sizes := make([]int, len(proportions))
	assigned := 0
	for i, p := range proportions {
		sizes[i] = int(math.Floor(float64(n) * p / sum))
		assigned += sizes[i]
	}
	sizes[last] += n - assigned
	return sizes, nil
}

// Split
// Partitions the indices of `ds` into disjoint contiguous blocks, one per
// proportion, optionally after a seeded shuffle. Zero proportions yield a
// nil entry. The returned datasets are views over `ds`.
func Split(ds Dataset, proportions []float64,
	opts SplitOptions) ([]*SplitDataset, error) {
	if err := ValidateProportions(proportions); err != nil {
		return nil, err
	}
	n := ds.Len()
	var splits [][]int
	if opts.LoadPath != "" {
		loaded, err := LoadSplits(opts.LoadPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if loaded != nil {
			if err := loaded.check(n, len(proportions)); err != nil {
				return nil, fmt.Errorf("%s: %w", opts.LoadPath, err)
			}
			splits = loaded.Splits
			logger(opts.Logger).Printf("Loaded splits from %s",
				opts.LoadPath)
		}
	}
	if splits == nil {
		var err error
		if splits, err = computeSplits(n, proportions, opts); err != nil {
			return nil, err
		}
		if opts.SavePath != "" {
			if err := SaveSplits(opts.SavePath, &SplitFile{
				DatasetLen:  n,
				Proportions: proportions,
				Splits:      splits,
			}); err != nil {
				return nil, err
			}
			logger(opts.Logger).Printf("Saved splits to %s", opts.SavePath)
		}
	}
	out := make([]*SplitDataset, len(splits))
	for i, indices := range splits {
		if proportions[i] > 0 {
			out[i] = NewSplitDataset(ds, indices)
		}
	}
	return out, nil
}

func computeSplits(n int, proportions []float64,
	opts SplitOptions) ([][]int, error) {
	sizes, err := SplitSizes(n, proportions)
	if err != nil {
		return nil, err
	}
	var order []int
	if opts.Shuffle {
		order = rand.New(rand.NewSource(opts.Seed)).Perm(n)
	} else {
		order = make([]int, n)
		for i := range order {
			order[i] = i
		}
	}
	splits := make([][]int, len(sizes))
	start := 0
	for i, size := range sizes {
		splits[i] = order[start : start+size : start+size]
		start += size
	}
	return splits, nil
}

func (f *SplitFile) check(n int, count int) error {
	if f.DatasetLen != n {
		return fmt.Errorf("%w: split file covers %d records, dataset has %d",
			ErrInvalidSplit, f.DatasetLen, n)
	}
	if len(f.Splits) != count {
		return fmt.Errorf("%w: split file has %d splits, %d requested",
			ErrInvalidSplit, len(f.Splits), count)
	}
	seen := make([]bool, n)
	total := 0
	for _, indices := range f.Splits {
		for _, idx := range indices {
			if idx < 0 || idx >= n || seen[idx] {
				return fmt.Errorf("%w: index %d repeated or out of range",
					ErrInvalidSplit, idx)
			}
			seen[idx] = true
			total++
		}
	}
	if total != n {
		return fmt.Errorf("%w: split file covers %d of %d indices",
			ErrInvalidSplit, total, n)
	}
	return nil
}

// SaveSplits writes `f` as JSON, replacing `path` atomically.
func SaveSplits(path string, f *SplitFile) error {
	buf, err := json.Marshal(f)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadSplits reads a split file written by SaveSplits.
func LoadSplits(path string) (*SplitFile, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f := &SplitFile{}
	if err := json.Unmarshal(buf, f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func logger(l *log.Logger) *log.Logger {
	if l != nil {
		return l
	}
	return log.Default()
}
