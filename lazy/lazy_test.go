package lazy

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/lazy_corpus/types"
	"golang.org/x/sync/errgroup"
)

var textRecords = []string{
	"It was on a dreary night of November.",
	"",
	"that I beheld the accomplishment of my toils",
	"ünïcödé ✓ records survive",
	"With an anxiety that almost amounted to agony\n",
}

func writeTexts(t testing.TB, path string, tag string, texts []string) {
	w, err := NewWriter(path, tag, false, 0)
	require.NoError(t, err)
	for _, text := range texts {
		require.NoError(t, w.AppendText(text))
	}
	require.Equal(t, len(texts), w.Len())
	require.NoError(t, w.Close())
}

func randomDocs(rng *rand.Rand, count int, maxLen int,
	vocab int) []types.Tokens {
	docs := make([]types.Tokens, count)
	for i := range docs {
		doc := make(types.Tokens, rng.Intn(maxLen))
		for j := range doc {
			doc[j] = types.Token(rng.Intn(vocab))
		}
		docs[i] = doc
	}
	return docs
}

func writeTokens(t testing.TB, path string, tag string, width types.Width,
	docs []types.Tokens) {
	w, err := NewWriter(path, tag, true, width)
	require.NoError(t, err)
	for _, doc := range docs {
		require.NoError(t, w.AppendTokens(doc))
	}
	require.NoError(t, w.Close())
}

func TestTextRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus")
	writeTexts(t, path, "text", textRecords)
	assert.True(t, Exists(path, "text"))

	r, err := OpenReader(path, "text", false, nil)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, len(textRecords), r.Len())
	for i, want := range textRecords {
		got, err := r.Text(i)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		n, err := r.RecordLen(i)
		require.NoError(t, err)
		assert.Equal(t, len(want), n)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, tc := range []struct {
		width types.Width
		vocab int
	}{
		{types.Width16, 65536},
		{types.Width32, 1 << 20},
	} {
		t.Run(tc.width.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "corpus")
			docs := randomDocs(rng, 200, 64, tc.vocab)
			writeTokens(t, path, "text", tc.width, docs)

			r, err := OpenReader(path, "text", true, nil)
			require.NoError(t, err)
			defer r.Close()
			assert.Equal(t, tc.width, r.Width())
			require.Equal(t, len(docs), r.Len())
			for i, want := range docs {
				got, err := r.Tokens(i)
				require.NoError(t, err)
				assert.Equal(t, len(want), len(got))
				if len(want) > 0 {
					assert.Equal(t, want, got, "record %d", i)
				}
			}
		})
	}
}

func TestReader_MapFn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus")
	writeTexts(t, path, "prompt", []string{"abc", "Def"})
	r, err := OpenReader(path, "prompt", false, strings.ToUpper)
	require.NoError(t, err)
	defer r.Close()
	got, err := r.Text(1)
	require.NoError(t, err)
	assert.Equal(t, "DEF", got)
}

func TestReader_EmptyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	writeTexts(t, path, "text", nil)
	r, err := OpenReader(path, "text", false, nil)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 0, r.Len())
	_, err = r.Text(0)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestReader_NotReady(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing", func(t *testing.T) {
		path := filepath.Join(dir, "missing")
		assert.False(t, Exists(path, "text"))
		_, err := OpenReader(path, "text", false, nil)
		assert.ErrorIs(t, err, ErrNotReady)
	})

	t.Run("unfinalized", func(t *testing.T) {
		path := filepath.Join(dir, "unfinalized")
		w, err := NewWriter(path, "text", false, 0)
		require.NoError(t, err)
		require.NoError(t, w.AppendText("never closed"))
		assert.False(t, Exists(path, "text"))
		_, err = OpenReader(path, "text", false, nil)
		assert.ErrorIs(t, err, ErrNotReady)
		require.NoError(t, w.Abort())
		_, err = os.Stat(DataPath(path, "text"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("partial index", func(t *testing.T) {
		path := filepath.Join(dir, "partial")
		writeTexts(t, path, "text", textRecords)
		full, err := os.ReadFile(LenPath(path, "text"))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(LenPath(path, "text"),
			full[:len(full)-5], 0644))
		assert.False(t, Exists(path, "text"))
		_, err = OpenReader(path, "text", false, nil)
		assert.ErrorIs(t, err, ErrNotReady)
	})

	t.Run("corrupt index", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt")
		writeTexts(t, path, "text", textRecords)
		full, err := os.ReadFile(LenPath(path, "text"))
		require.NoError(t, err)
		full[indexHeaderSize] ^= 0xff
		require.NoError(t, os.WriteFile(LenPath(path, "text"), full, 0644))
		assert.False(t, Exists(path, "text"))
		_, err = OpenReader(path, "text", false, nil)
		assert.ErrorIs(t, err, ErrNotReady)
	})

	t.Run("truncated blob", func(t *testing.T) {
		path := filepath.Join(dir, "truncated")
		writeTexts(t, path, "text", textRecords)
		require.NoError(t, os.Truncate(DataPath(path, "text"), 3))
		_, err := OpenReader(path, "text", false, nil)
		assert.ErrorIs(t, err, ErrNotReady)
	})
}

func TestWriter_RebuildClearsReadiness(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus")
	writeTexts(t, path, "text", textRecords)
	require.True(t, Exists(path, "text"))

	w, err := NewWriter(path, "text", false, 0)
	require.NoError(t, err)
	assert.False(t, Exists(path, "text"))
	require.NoError(t, w.AppendText("rebuilt"))
	require.NoError(t, w.Close())

	r, err := OpenReader(path, "text", false, nil)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 1, r.Len())
}

func TestInvalidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus")
	writeTexts(t, path, "text", textRecords)
	require.True(t, Exists(path, "text"))

	require.NoError(t, Invalidate(path, "text"))
	assert.False(t, Exists(path, "text"))
	_, err := OpenReader(path, "text", false, nil)
	assert.ErrorIs(t, err, ErrNotReady)

	// Already gone.
	assert.NoError(t, Invalidate(path, "text"))
}

func TestWriter_AbortAfterFailedClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus")
	w, err := NewWriter(path, "text", false, 0)
	require.NoError(t, err)
	require.NoError(t, w.AppendText("orphaned"))

	// A directory where the index temp file belongs makes Close fail.
	require.NoError(t, os.MkdirAll(LenPath(path, "text")+tmpSuffix, 0755))
	require.Error(t, w.Close())
	assert.False(t, Exists(path, "text"))

	require.NoError(t, w.Abort())
	_, err = os.Stat(DataPath(path, "text"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(LenPath(path, "text") + tmpSuffix)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriter_AbortAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus")
	w, err := NewWriter(path, "text", false, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Abort(), ErrClosed)
	assert.True(t, Exists(path, "text"))
}

func TestTypeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus")
	w, err := NewWriter(path, "mask", true, types.Width16)
	require.NoError(t, err)
	assert.ErrorIs(t, w.AppendText("nope"), ErrTypeMismatch)
	require.NoError(t, w.AppendTokens(types.Tokens{1, 2}))
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Close(), ErrClosed)

	_, err = OpenReader(path, "mask", false, nil)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	r, err := OpenReader(path, "mask", true, nil)
	require.NoError(t, err)
	_, err = r.Text(0)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	require.NoError(t, r.Close())
	_, err = r.Tokens(0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInvalidTags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus")
	for _, tag := range []string{"", ".building", "a/b", "text.len", "x.tmp"} {
		_, err := NewWriter(path, tag, false, 0)
		assert.Error(t, err, tag)
	}
}

func TestConcurrentReaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus")
	docs := randomDocs(rand.New(rand.NewSource(3)), 500, 128, 50257)
	writeTokens(t, path, "text", types.Width16, docs)

	readers := make([]*Reader, 2)
	for i := range readers {
		r, err := OpenReader(path, "text", true, nil)
		require.NoError(t, err)
		defer r.Close()
		readers[i] = r
	}

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		seed := int64(w)
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed))
			for n := 0; n < 2000; n++ {
				i := rng.Intn(len(docs))
				a, err := readers[0].Tokens(i)
				if err != nil {
					return err
				}
				b, err := readers[1].Tokens(i)
				if err != nil {
					return err
				}
				if len(a) != len(docs[i]) || len(b) != len(docs[i]) {
					return fmt.Errorf("record %d: length mismatch", i)
				}
				for j := range a {
					if a[j] != b[j] || a[j] != docs[i][j] {
						return fmt.Errorf("record %d differs at %d", i, j)
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterMetrics(reg))
	require.NoError(t, RegisterMetrics(reg))

	before := testutil.ToFloat64(recordsWritten.WithLabelValues("metrics"))
	path := filepath.Join(t.TempDir(), "corpus")
	writeTexts(t, path, "metrics", []string{"a", "bb"})
	assert.Equal(t, before+2,
		testutil.ToFloat64(recordsWritten.WithLabelValues("metrics")))
}

func BenchmarkReader_Tokens(b *testing.B) {
	b.StopTimer()
	path := filepath.Join(b.TempDir(), "corpus")
	docs := randomDocs(rand.New(rand.NewSource(1)), 10000, 2048, 50257)
	writeTokens(b, path, "text", types.Width16, docs)
	r, err := OpenReader(path, "text", true, nil)
	require.NoError(b, err)
	defer r.Close()
	b.StartTimer()
	tokensCt := 0
	for i := 0; i < b.N; i++ {
		tokens, _ := r.Tokens(i % len(docs))
		tokensCt += len(tokens)
	}
	b.StopTimer()
	b.Logf("%d tokens decoded", tokensCt)
}
