package corpora

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type SanitizerTest struct {
	Name     string
	Input    string
	Expected string
}

var sanitizerTests = []SanitizerTest{
	{"\\n handling",
		"\nfoobar\\n\n",
		"\nfoobar\n"},
	{"\\r handling",
		"\r\n\r\n",
		"\n"},
	{"Trailing spaces handling",
		"foobar  ",
		"foobar"},
	{"Extra spaces handling",
		"foo  bar",
		"foo bar"},
	{"Prefix spaces handling",
		" foo bar",
		"foo bar"},
	{"Colon with spaces handling",
		"foo : bar",
		"foo: bar"},
	{"Extra spaces with newlines",
		" foo \n   bar\nfoo ",
		"foo\nbar\nfoo"},
	{"Tabs handling",
		"foo\t\tbar",
		"foo bar"},
}

func TestSanitizer(t *testing.T) {
	for _, tt := range sanitizerTests {
		t.Run(tt.Name, func(t *testing.T) {
			assert.Equal(t, tt.Expected, SanitizeText(tt.Input))
		})
	}
}

func collect(t *testing.T, reader CorpusReader) []Document {
	next, err := reader.Documents(context.Background())
	require.NoError(t, err)
	var docs []Document
	for {
		doc, err := next()
		require.NoError(t, err)
		if doc == nil {
			return docs
		}
		docs = append(docs, *doc)
	}
}

func writeFile(t *testing.T, path string, content string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestTextDirReader(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b", "second.txt"), "second  file ")
	writeFile(t, filepath.Join(dir, "a", "first.txt"), "first")
	writeFile(t, filepath.Join(dir, "a", "deep", "third.txt"), "the third")
	writeFile(t, filepath.Join(dir, "ignored.md"), "not text")

	docs := collect(t, TextDirReader{Dir: dir, Sort: "path_ascending",
		Sanitize: true, Logger: quiet})
	require.Len(t, docs, 3)
	assert.Equal(t, "the third", docs[0].Text)
	assert.Equal(t, "first", docs[1].Text)
	assert.Equal(t, "second file", docs[2].Text)

	docs = collect(t, TextDirReader{Dir: dir, Sort: "size_ascending",
		Logger: quiet})
	require.Len(t, docs, 3)
	assert.Equal(t, "first", docs[0].Text)
	assert.Equal(t, "second  file ", docs[2].Text)

	shuffled := collect(t, TextDirReader{Dir: dir, Sort: "random", Seed: 7,
		Logger: quiet})
	again := collect(t, TextDirReader{Dir: dir, Sort: "random", Seed: 7,
		Logger: quiet})
	assert.Equal(t, shuffled, again)
}

func TestTextDirReader_Errors(t *testing.T) {
	_, err := TextDirReader{Dir: t.TempDir()}.Documents(context.Background())
	assert.Error(t, err)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "one.txt"), "one")
	_, err = TextDirReader{Dir: dir, Sort: "sideways"}.Documents(
		context.Background())
	assert.ErrorContains(t, err, "invalid sort spec")
	assert.Error(t, SortPathInfos(nil, "shuffle", 0))
}

func TestTextDirReader_Canceled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "one.txt"), "one")
	ctx, cancel := context.WithCancel(context.Background())
	next, err := TextDirReader{Dir: dir, Logger: quiet}.Documents(ctx)
	require.NoError(t, err)
	cancel()
	doc, err := next()
	if err == nil {
		// The read-ahead may win the race; the stream still ends.
		require.NotNil(t, doc)
		_, err = next()
	}
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJSONLinesReader(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.jsonl")
	second := filepath.Join(dir, "second.jsonl")
	writeFile(t, first, `{"prompt": "Q: ", "text": "A"}`+"\n\n"+
		`{"text": "plain"}`+"\n")
	writeFile(t, second, `{"segments": [{"text": "ask "}, `+
		`{"text": "answer", "loss": true}]}`)

	docs := collect(t, JSONLinesReader{Paths: []string{first, second}})
	require.Len(t, docs, 3)
	assert.Equal(t, Document{Prompt: "Q: ", Text: "A"}, docs[0])
	assert.Equal(t, "plain", docs[1].Text)
	assert.Equal(t, []Segment{{Text: "ask "}, {Text: "answer", Loss: true}},
		docs[2].Segments)
}

func TestJSONLinesReader_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := JSONLinesReader{}.Documents(context.Background())
	assert.Error(t, err)
	_, err = JSONLinesReader{Paths: []string{filepath.Join(dir, "none")}}.
		Documents(context.Background())
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.jsonl")
	writeFile(t, bad, `{"text": "ok"}`+"\n"+`{"text": `+"\n")
	next, err := JSONLinesReader{Paths: []string{bad}}.Documents(
		context.Background())
	require.NoError(t, err)
	doc, err := next()
	require.NoError(t, err)
	assert.Equal(t, "ok", doc.Text)
	_, err = next()
	assert.ErrorContains(t, err, "line 2")
	doc, err = next()
	assert.NoError(t, err)
	assert.Nil(t, doc)
}

func TestNewestText(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "old.txt"), "old")
	writeFile(t, filepath.Join(dir, "sub", "new.txt"), "new")
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old.txt"), past, past))

	newest, err := NewestText(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sub", "new.txt"), newest.Path)
}
