package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleConfig = `
corpora:
  - name: wiki
    path: /data/stores/wiki
    shape: prompt
    format: textdir
    source: [/data/raw/wiki]
    sanitize: true
    sort: path_ascending
  - name: chat
    path: /data/stores/chat
    shape: mask
    format: jsonl
    source: [/data/raw/chat-0.jsonl, /data/raw/chat-1.jsonl]
split: [0.9, 0.05, 0.05]
seq_length: 1024
mem_length: 256
ds_type: gpt-xl
pre_tokenize: true
save_splits: /data/splits.json
coordinator:
  elect: lock
  poll_interval: 250ms
  timeout: 2h
`

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "corpus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, exampleConfig))
	require.NoError(t, err)
	require.Len(t, cfg.Corpora, 2)
	assert.Equal(t, "chat", cfg.Corpora[1].Name)
	assert.Equal(t, []string{"/data/raw/chat-0.jsonl",
		"/data/raw/chat-1.jsonl"}, cfg.Corpora[1].Source)
	assert.Equal(t, []float64{0.9, 0.05, 0.05}, cfg.Split)
	assert.Equal(t, 1024, cfg.SeqLength)
	assert.Equal(t, "gpt-xl", cfg.DsType)
	assert.Equal(t, "lock", cfg.Coordinator.Elect)
	assert.Equal(t, 250*time.Millisecond, cfg.Coordinator.PollInterval)
	assert.Equal(t, 2*time.Hour, cfg.Coordinator.Timeout)

	// Defaults survive for keys the file leaves out.
	assert.Equal(t, "gpt2", cfg.Tokenizer)
	assert.True(t, cfg.Shuffle)
	assert.Equal(t, 30*time.Second, cfg.Coordinator.FailureGrace)
	assert.Equal(t, 0.15, cfg.SentencePair.MaskLMProb)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Corpora = []CorpusConfig{{Name: "wiki", Path: "/s/wiki",
			Shape: "prompt", Format: "textdir", Source: []string{"/r/wiki"}}}
		return cfg
	}
	base := valid()
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no corpora", func(c *Config) { c.Corpora = nil }},
		{"bad shape", func(c *Config) { c.Corpora[0].Shape = "table" }},
		{"bad format", func(c *Config) { c.Corpora[0].Format = "csv" }},
		{"no source", func(c *Config) { c.Corpora[0].Source = nil }},
		{"bad sort", func(c *Config) { c.Corpora[0].Sort = "sideways" }},
		{"duplicate corpus", func(c *Config) {
			c.Corpora = append(c.Corpora, c.Corpora[0])
		}},
		{"negative split", func(c *Config) { c.Split = []float64{1, -1} }},
		{"empty split", func(c *Config) { c.Split = nil }},
		{"zero seq length", func(c *Config) { c.SeqLength = 0 }},
		{"unknown ds type", func(c *Config) { c.DsType = "t5" }},
		{"xl without pretokenize", func(c *Config) { c.DsType = "gpt-xl" }},
		{"short bert", func(c *Config) {
			c.DsType = "bert"
			c.SeqLength = 4
		}},
		{"bad elect", func(c *Config) { c.Coordinator.Elect = "vote" }},
		{"no tokenizer", func(c *Config) { c.Tokenizer = "" }},
		{"mask prob", func(c *Config) { c.SentencePair.MaskLMProb = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "corpora: [unterminated"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(writeConfig(t, "seq_length: 128\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
