package datasets

import (
	"bytes"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/lazy_corpus/tokenizer"
	"github.com/wbrown/lazy_corpus/types"
)

// numbered returns n one-token documents whose token is base+i.
func numbered(base int, n int) Dataset {
	docs := make([]types.Tokens, n)
	for i := range docs {
		docs[i] = types.Tokens{types.Token(base + i)}
	}
	return FromTokens(docs...)
}

func TestConcat(t *testing.T) {
	c := Concat(numbered(0, 5), numbered(100, 7))
	require.Equal(t, 12, c.Len())
	for i := 0; i < 12; i++ {
		sample, err := c.Get(i)
		require.NoError(t, err)
		source, local, err := c.Locate(i)
		require.NoError(t, err)
		if i < 5 {
			assert.Equal(t, types.Token(i), sample.Tokens[0])
			assert.Equal(t, 0, source)
			assert.Equal(t, i, local)
		} else {
			assert.Equal(t, types.Token(100+i-5), sample.Tokens[0])
			assert.Equal(t, 1, source)
			assert.Equal(t, i-5, local)
		}
	}
	_, err := c.Get(12)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = c.Get(-1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestConcat_SkipsEmptySources(t *testing.T) {
	c := Concat(numbered(0, 2), FromTokens(), numbered(50, 1))
	require.Equal(t, 3, c.Len())
	sample, err := c.Get(2)
	require.NoError(t, err)
	assert.Equal(t, types.Token(50), sample.Tokens[0])
	assert.Equal(t, 0, Concat().Len())
}

func TestShouldSplit(t *testing.T) {
	tests := []struct {
		proportions []float64
		expected    bool
	}{
		{[]float64{10, 0, 0}, false},
		{[]float64{1, .1, .2}, true},
		{[]float64{1}, false},
		{[]float64{0, 5, 0}, false},
		{[]float64{80, 10, 10}, true},
		{nil, false},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, ShouldSplit(test.proportions),
			"%v", test.proportions)
	}
}

func checkPartition(t *testing.T, splits []*SplitDataset, n int,
	sizes []int) {
	var all []int
	for i, split := range splits {
		require.NotNil(t, split)
		assert.Equal(t, sizes[i], split.Len(), "split %d", i)
		all = append(all, split.Indices()...)
	}
	sort.Ints(all)
	require.Len(t, all, n)
	for i, idx := range all {
		require.Equal(t, i, idx)
	}
}

func TestSplit_Proportions(t *testing.T) {
	ds := numbered(0, 100)
	for _, shuffle := range []bool{false, true} {
		splits, err := Split(ds, []float64{80, 10, 10},
			SplitOptions{Shuffle: shuffle, Seed: 1234})
		require.NoError(t, err)
		checkPartition(t, splits, 100, []int{80, 10, 10})
	}

	splits, err := Split(ds, []float64{80, 10, 10}, SplitOptions{})
	require.NoError(t, err)
	sample, err := splits[1].Get(0)
	require.NoError(t, err)
	assert.Equal(t, types.Token(80), sample.Tokens[0])
}

func TestSplit_Reproducible(t *testing.T) {
	ds := numbered(0, 100)
	path := filepath.Join(t.TempDir(), "splits.json")
	first, err := Split(ds, []float64{80, 10, 10}, SplitOptions{
		Shuffle: true, Seed: 1, SavePath: path, LoadPath: path,
	})
	require.NoError(t, err)

	// A different seed must not matter once the file exists.
	second, err := Split(ds, []float64{80, 10, 10}, SplitOptions{
		Shuffle: true, Seed: 99, LoadPath: path,
	})
	require.NoError(t, err)
	for i := range first {
		assert.Equal(t, first[i].Indices(), second[i].Indices())
	}

	_, err = Split(numbered(0, 50), []float64{80, 10, 10},
		SplitOptions{LoadPath: path})
	assert.ErrorIs(t, err, ErrInvalidSplit)
}

func TestSplit_Remainder(t *testing.T) {
	sizes, err := SplitSizes(10, []float64{1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 4}, sizes)

	sizes, err = SplitSizes(10, []float64{1, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, []int{5, 5, 0}, sizes)

	sizes, err = SplitSizes(7, []float64{0.95, 0.05, 0})
	require.NoError(t, err)
	assert.Equal(t, []int{6, 1, 0}, sizes)

	splits, err := Split(numbered(0, 10), []float64{1, 1, 0}, SplitOptions{})
	require.NoError(t, err)
	assert.Nil(t, splits[2])
}

func TestSplit_Invalid(t *testing.T) {
	for _, proportions := range [][]float64{
		nil, {0, 0, 0}, {1, -1, 1}, {-5},
	} {
		_, err := Split(numbered(0, 10), proportions, SplitOptions{
			SavePath: filepath.Join(t.TempDir(), "never.json"),
		})
		assert.ErrorIs(t, err, ErrInvalidSplit, "%v", proportions)
	}
}

func TestDocLen(t *testing.T) {
	ds := FromTokens(types.Tokens{1, 2, 3}, types.Tokens{4})
	split := NewSplitDataset(Concat(ds, ds), []int{3, 0})
	lens, err := DocLens(split)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, lens)
}

func TestWriteDecoded(t *testing.T) {
	tok := tokenizer.Bytes{}
	ds := FromTokens(tok.Encode("first doc"), tok.Encode("second"))
	var buf bytes.Buffer
	require.NoError(t, WriteDecoded(&buf, ds, tok))
	assert.Equal(t, "first doc\nsecond\n", buf.String())
}
