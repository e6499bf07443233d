package lazy_corpus

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/lazy_corpus/config"
	"github.com/wbrown/lazy_corpus/corpora"
	"github.com/wbrown/lazy_corpus/datasets"
	"github.com/wbrown/lazy_corpus/tokenizer"
)

var quiet = log.New(io.Discard, "", 0)

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	var lines strings.Builder
	for i := 0; i < 18; i++ {
		fmt.Fprintf(&lines, `{"prompt": "Q%d: ", "text": "The answer `+
			`is %d. It is a number. Numbers are fun to count."}`+"\n", i, i)
	}
	chat := filepath.Join(dir, "chat.jsonl")
	require.NoError(t, os.WriteFile(chat, []byte(lines.String()), 0644))
	texts := filepath.Join(dir, "texts")
	require.NoError(t, os.MkdirAll(texts, 0755))
	for _, name := range []string{"one.txt", "two.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(texts, name),
			[]byte("This is "+name+". It has sentences. More follow "+
				"here. The end."), 0644))
	}

	cfg := config.Default()
	cfg.Corpora = []config.CorpusConfig{
		{Name: "chat", Path: filepath.Join(dir, "stores", "chat"),
			Shape: "prompt", Format: "jsonl", Source: []string{chat}},
		{Name: "books", Path: filepath.Join(dir, "stores", "books"),
			Shape: "prompt", Format: "textdir", Source: []string{texts},
			Sort: "path_ascending"},
	}
	cfg.Tokenizer = "bytes"
	cfg.SeqLength = 32
	cfg.Coordinator.PollInterval = 10 * time.Millisecond
	return cfg
}

func makeDataset(t *testing.T, cfg config.Config) *Datasets {
	result, err := MakeDataset(context.Background(), cfg,
		Deps{Tokenizer: tokenizer.Bytes{}, Logger: quiet})
	require.NoError(t, err)
	t.Cleanup(func() { result.Close() })
	return result
}

func TestMakeDatasetUnsplit(t *testing.T) {
	cfg := testConfig(t)
	result := makeDataset(t, cfg)
	require.Len(t, result.Splits, 1)
	assert.Nil(t, result.Framed)
	ds := result.Splits[0]
	assert.Equal(t, 20, ds.Len())

	first, err := ds.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "Q0: The answer is 0. It is a number. Numbers are "+
		"fun to count.", tokenizer.Bytes{}.Decode(first.Tokens))
	assert.Equal(t, 4, first.PromptLen)
	last, err := ds.Get(19)
	require.NoError(t, err)
	assert.Contains(t, tokenizer.Bytes{}.Decode(last.Tokens), "two.txt")
}

func TestMakeDatasetSplits(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	cfg.Split = []float64{8, 1, 1}
	cfg.SaveSplits = filepath.Join(dir, "splits.json")
	cfg.SaveTestData = filepath.Join(dir, "test.txt")
	result := makeDataset(t, cfg)

	require.Len(t, result.Splits, 3)
	assert.Equal(t, 16, result.Splits[0].Len())
	assert.Equal(t, 2, result.Splits[1].Len())
	assert.Equal(t, 2, result.Splits[2].Len())
	assert.FileExists(t, cfg.SaveSplits)

	dumped, err := os.ReadFile(cfg.SaveTestData)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(dumped), "\n"))

	// A different seed must not matter once the split is loaded.
	reloaded := cfg
	reloaded.Seed = cfg.Seed + 1
	reloaded.SaveSplits = ""
	reloaded.SaveTestData = ""
	reloaded.LoadSplits = cfg.SaveSplits
	again := makeDataset(t, reloaded)
	for i := range result.Splits {
		want := result.Splits[i].(*datasets.SplitDataset).Indices()
		got := again.Splits[i].(*datasets.SplitDataset).Indices()
		assert.Equal(t, want, got)
	}
}

func TestMakeDatasetZeroProportion(t *testing.T) {
	cfg := testConfig(t)
	cfg.Split = []float64{9, 0, 1}
	result := makeDataset(t, cfg)
	require.Len(t, result.Splits, 3)
	assert.Nil(t, result.Splits[1])
	assert.Equal(t, 20, result.Splits[0].Len()+result.Splits[2].Len())
}

func TestMakeDatasetFraming(t *testing.T) {
	for _, dsType := range []string{"gpt2", "block", "gpt-xl", "bert"} {
		t.Run(dsType, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.DsType = dsType
			cfg.PreTokenize = true
			cfg.MemLength = 8
			cfg.NumSamples = 16
			cfg.Split = []float64{0.5, 0.5}
			result := makeDataset(t, cfg)
			require.Len(t, result.Framed, 2)
			for _, framed := range result.Framed {
				require.NotNil(t, framed)
				require.Greater(t, framed.Len(), 0)
				example, err := framed.Example(0)
				require.NoError(t, err)
				assert.Len(t, example.Tokens, cfg.SeqLength)
				assert.Len(t, example.LossMask, cfg.SeqLength)
			}
		})
	}
}

func TestMakeDatasetInvalid(t *testing.T) {
	cfg := testConfig(t)
	cfg.DsType = "gpt-xl"
	_, err := MakeDataset(context.Background(), cfg,
		Deps{Tokenizer: tokenizer.Bytes{}, Logger: quiet})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	cfg = testConfig(t)
	cfg.Corpora[1].Format = "csv"
	_, err = MakeDataset(context.Background(), cfg,
		Deps{Tokenizer: tokenizer.Bytes{}, Logger: quiet})
	assert.Error(t, err)
}

func TestNewRegistry(t *testing.T) {
	cfg := testConfig(t)
	cfg.Seed = 99
	cfg.Corpora[1].Sort = "random"
	registry, err := NewRegistry(cfg.Corpora, cfg.Seed, quiet)
	require.NoError(t, err)
	assert.Equal(t, []string{"books", "chat"}, registry.Names())
	books, err := registry.Lookup("books")
	require.NoError(t, err)
	reader, ok := books.Reader.(corpora.TextDirReader)
	require.True(t, ok)
	assert.Equal(t, int64(99), reader.Seed)
	assert.Equal(t, "random", reader.Sort)

	cfg.Corpora[1].Source = append(cfg.Corpora[1].Source, "elsewhere")
	_, err = NewRegistry(cfg.Corpora, cfg.Seed, quiet)
	assert.Error(t, err)
}
