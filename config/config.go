// Package config loads and validates corpus build and framing settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

var validate = validator.New()

// CorpusConfig
// Declares one corpus: where its store lives, its shape, and the raw
// sources it is built from.
type CorpusConfig struct {
	Name string `yaml:"name" validate:"required"`
	// Path is the store path; streams live under `<path>.lazy/`.
	Path   string   `yaml:"path" validate:"required"`
	Shape  string   `yaml:"shape" validate:"required,oneof=prompt mask"`
	Format string   `yaml:"format" validate:"required,oneof=textdir jsonl"`
	Source []string `yaml:"source" validate:"required,min=1,dive,required"`
	// Sanitize and Sort apply to textdir sources.
	Sanitize bool   `yaml:"sanitize"`
	Sort     string `yaml:"sort" validate:"omitempty,oneof=none size_ascending size_descending path_ascending path_descending random"`
}

// CoordinatorConfig selects how the builder of a store is elected and how
// long other participants wait for it.
type CoordinatorConfig struct {
	Rank         int           `yaml:"rank" validate:"gte=0"`
	Elect        string        `yaml:"elect" validate:"oneof=rank lock"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gte=0"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	FailureGrace time.Duration `yaml:"failure_grace" validate:"gte=0"`
	DisableWatch bool          `yaml:"disable_watch"`
}

// SentencePairConfig holds the settings only the bert framing uses.
type SentencePairConfig struct {
	ShortSeqProb   float64 `yaml:"short_seq_prob" validate:"gte=0,lte=1"`
	MaskLMProb     float64 `yaml:"mask_lm_prob" validate:"gte=0,lte=1"`
	MaxPredsPerSeq int     `yaml:"max_preds_per_seq" validate:"gte=0"`
}

type Config struct {
	Corpora []CorpusConfig `yaml:"corpora" validate:"required,min=1,dive"`
	// Split proportions; a single entry means no split.
	Split             []float64 `yaml:"split" validate:"required,min=1,dive,gte=0"`
	SeqLength         int       `yaml:"seq_length" validate:"gt=0"`
	MemLength         int       `yaml:"mem_length" validate:"gte=0"`
	DsType            string    `yaml:"ds_type" validate:"omitempty,oneof=gpt2 block gpt-xl bert"`
	SampleOneDocument bool      `yaml:"sample_one_document"`
	PreTokenize       bool      `yaml:"pre_tokenize"`
	PresplitSentences bool      `yaml:"presplit_sentences"`
	Shuffle           bool      `yaml:"shuffle"`
	Seed              int64     `yaml:"seed"`
	NumSamples        int       `yaml:"num_samples" validate:"gte=0"`
	AppendEos         bool      `yaml:"append_eos"`
	SaveSplits        string    `yaml:"save_splits"`
	LoadSplits        string    `yaml:"load_splits"`
	SaveTestData      string    `yaml:"save_test_data"`
	Tokenizer         string    `yaml:"tokenizer" validate:"required"`
	CacheSize         int       `yaml:"cache_size" validate:"gte=-1"`

	Coordinator  CoordinatorConfig  `yaml:"coordinator"`
	SentencePair SentencePairConfig `yaml:"sentence_pair"`
}

// Default returns the settings used for anything a file leaves out.
func Default() Config {
	return Config{
		Split:     []float64{1},
		SeqLength: 512,
		MemLength: 0,
		Shuffle:   true,
		Seed:      1234,
		Tokenizer: "gpt2",
		Coordinator: CoordinatorConfig{
			Elect:        "rank",
			PollInterval: time.Second,
			FailureGrace: 30 * time.Second,
		},
		SentencePair: SentencePairConfig{
			ShortSeqProb:   0.01,
			MaskLMProb:     0.15,
			MaxPredsPerSeq: 80,
		},
	}
}

// Load
// Reads the YAML file at `path` over the defaults and validates the
// result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, cfg.Validate()
}

// Validate
// Checks struct tags, then the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	names := make(map[string]bool, len(c.Corpora))
	for _, corpus := range c.Corpora {
		if names[corpus.Name] {
			return fmt.Errorf("%w: corpus %q declared twice", ErrInvalidConfig,
				corpus.Name)
		}
		names[corpus.Name] = true
	}
	if c.DsType == "gpt-xl" && !c.PreTokenize {
		return fmt.Errorf("%w: ds_type gpt-xl requires pre_tokenize",
			ErrInvalidConfig)
	}
	if c.DsType == "bert" && c.SeqLength < 5 {
		return fmt.Errorf("%w: ds_type bert needs seq_length >= 5",
			ErrInvalidConfig)
	}
	if c.DsType == "block" && c.SeqLength < 2 {
		return fmt.Errorf("%w: ds_type block needs seq_length >= 2",
			ErrInvalidConfig)
	}
	return nil
}
