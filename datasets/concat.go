package datasets

import "sort"

// ConcatDataset
// Presents several datasets as one; index i resolves to a (source, local
// index) pair by binary search over cumulative source sizes.
type ConcatDataset struct {
	sources    []Dataset
	cumulative []int
}

// Concat joins `sources` in order.
func Concat(sources ...Dataset) *ConcatDataset {
	cumulative := make([]int, len(sources))
	total := 0
	for i, src := range sources {
		total += src.Len()
		cumulative[i] = total
	}
	return &ConcatDataset{sources: sources, cumulative: cumulative}
}

func (c *ConcatDataset) Len() int {
	if len(c.cumulative) == 0 {
		return 0
	}
	return c.cumulative[len(c.cumulative)-1]
}

// Locate returns the source number and the index within that source.
func (c *ConcatDataset) Locate(i int) (source int, local int, err error) {
	if err := checkIndex(i, c.Len()); err != nil {
		return 0, 0, err
	}
	source = sort.SearchInts(c.cumulative, i+1)
	if source > 0 {
		local = i - c.cumulative[source-1]
	} else {
		local = i
	}
	return source, local, nil
}

func (c *ConcatDataset) Get(i int) (Sample, error) {
	source, local, err := c.Locate(i)
	if err != nil {
		return Sample{}, err
	}
	return c.sources[source].Get(local)
}

func (c *ConcatDataset) DocLen(i int) (int, error) {
	source, local, err := c.Locate(i)
	if err != nil {
		return 0, err
	}
	return DocLen(c.sources[source], local)
}

// Sources returns the joined datasets.
func (c *ConcatDataset) Sources() []Dataset {
	return c.sources
}
