// Package config loads mnemo configuration from file, environment, and
// defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all mnemo configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	Recall        RecallConfig        `mapstructure:"recall"`
	Spreading     SpreadingConfig     `mapstructure:"spreading"`
	Decay         DecayConfig         `mapstructure:"decay"`
	Consolidation ConsolidationConfig `mapstructure:"consolidation"`
	Formation     FormationConfig     `mapstructure:"formation"`
}

type ServerConfig struct {
	Bind string `mapstructure:"bind"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type EmbeddingConfig struct {
	OllamaURL   string        `mapstructure:"ollama_url"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CacheSize   int64         `mapstructure:"cache_size"`   // max cached vectors
	BreakerMax  uint32        `mapstructure:"breaker_max"`  // consecutive failures before the breaker opens
	BreakerCool time.Duration `mapstructure:"breaker_cool"` // open-state cool-down
}

// RecallConfig carries the strategy weights and result shaping knobs.
// Weights are normalized over enabled strategies at fusion time.
type RecallConfig struct {
	SemanticWeight    float64 `mapstructure:"semantic_weight"`
	KeywordWeight     float64 `mapstructure:"keyword_weight"`
	AssociativeWeight float64 `mapstructure:"associative_weight"`
	TemporalWeight    float64 `mapstructure:"temporal_weight"`
	StrengthWeight    float64 `mapstructure:"strength_weight"`

	Limit           int           `mapstructure:"limit"`
	MinScore        float64       `mapstructure:"min_score"`
	SemanticFloor   float64       `mapstructure:"semantic_floor"`    // cosine similarity below this contributes nothing
	TouchReinforce  float64       `mapstructure:"touch_reinforce"`   // strength bump applied to returned memories
	PerConceptLimit int           `mapstructure:"per_concept_limit"` // associative memories collected per activated concept

	RecentWindow      time.Duration `mapstructure:"recent_window"`
	RecentWeight      float64       `mapstructure:"recent_weight"`
	AnniversaryDays   []int         `mapstructure:"anniversary_days"`  // period lengths, e.g. 30 and 365
	AnniversarySlack  int           `mapstructure:"anniversary_slack"` // tolerance in days around an anniversary
	AnniversaryWeight float64       `mapstructure:"anniversary_weight"`
}

type SpreadingConfig struct {
	Lambda  float64 `mapstructure:"lambda"`
	MaxHops int     `mapstructure:"max_hops"`
	Floor   float64 `mapstructure:"floor"`
}

type DecayConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	Threshold    time.Duration `mapstructure:"threshold"` // idle age before decay applies
	Factor       float64       `mapstructure:"factor"`    // per-interval strength multiplier
	RemovalFloor float64       `mapstructure:"removal_floor"`
	Grace        time.Duration `mapstructure:"grace"`
}

type ConsolidationConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	MergeThreshold float64 `mapstructure:"merge_threshold"`
	StrengthBonus  float64 `mapstructure:"strength_bonus"`
	MaxPerConcept  int     `mapstructure:"max_per_concept"`
}

type FormationConfig struct {
	MaxContentLen      int     `mapstructure:"max_content_len"`
	MaxKeywords        int     `mapstructure:"max_keywords"`
	ReinforceStep      float64 `mapstructure:"reinforce_step"`      // connection strength bump on co-occurrence
	FallbackConfidence float64 `mapstructure:"fallback_confidence"` // confidence for keyword-extracted fallback records
}

// Default returns a Config with the shipped defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37710,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Embedding: EmbeddingConfig{
			OllamaURL:   "http://localhost:11434",
			Model:       "nomic-embed-text",
			Timeout:     10 * time.Second,
			CacheSize:   4096,
			BreakerMax:  3,
			BreakerCool: 30 * time.Second,
		},
		Recall: RecallConfig{
			SemanticWeight:    0.55,
			KeywordWeight:     0.20,
			AssociativeWeight: 0.20,
			TemporalWeight:    0.03,
			StrengthWeight:    0.02,
			Limit:             10,
			MinScore:          0.05,
			SemanticFloor:     0.3,
			TouchReinforce:    0.02,
			PerConceptLimit:   2,
			RecentWindow:      72 * time.Hour,
			RecentWeight:      1.0,
			AnniversaryDays:   []int{30, 365},
			AnniversarySlack:  2,
			AnniversaryWeight: 0.6,
		},
		Spreading: SpreadingConfig{
			Lambda:  0.7,
			MaxHops: 3,
			Floor:   0.1,
		},
		Decay: DecayConfig{
			Enabled:      true,
			Interval:     24 * time.Hour,
			Threshold:    30 * 24 * time.Hour,
			Factor:       0.9,
			RemovalFloor: 0.05,
			Grace:        7 * 24 * time.Hour,
		},
		Consolidation: ConsolidationConfig{
			Enabled:        true,
			MergeThreshold: 0.8,
			StrengthBonus:  0.1,
			MaxPerConcept:  20,
		},
		Formation: FormationConfig{
			MaxContentLen:      2000,
			MaxKeywords:        8,
			ReinforceStep:      0.1,
			FallbackConfidence: 0.5,
		},
	}
}

// DefaultConfigPath returns ~/.mnemo/config.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".mnemo", "config.yaml"), nil
}

// Load reads configuration from the given path (optional) with MNEMO_*
// environment overrides layered on top of the defaults. A missing config
// file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("MNEMO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		if p, err := DefaultConfigPath(); err == nil {
			path = p
		}
	}
	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("server.bind", cfg.Server.Bind)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("embedding.ollama_url", cfg.Embedding.OllamaURL)
	v.SetDefault("embedding.model", cfg.Embedding.Model)
	v.SetDefault("embedding.timeout", cfg.Embedding.Timeout)
	v.SetDefault("embedding.cache_size", cfg.Embedding.CacheSize)
	v.SetDefault("embedding.breaker_max", cfg.Embedding.BreakerMax)
	v.SetDefault("embedding.breaker_cool", cfg.Embedding.BreakerCool)
	v.SetDefault("recall.semantic_weight", cfg.Recall.SemanticWeight)
	v.SetDefault("recall.keyword_weight", cfg.Recall.KeywordWeight)
	v.SetDefault("recall.associative_weight", cfg.Recall.AssociativeWeight)
	v.SetDefault("recall.temporal_weight", cfg.Recall.TemporalWeight)
	v.SetDefault("recall.strength_weight", cfg.Recall.StrengthWeight)
	v.SetDefault("recall.limit", cfg.Recall.Limit)
	v.SetDefault("recall.min_score", cfg.Recall.MinScore)
	v.SetDefault("recall.semantic_floor", cfg.Recall.SemanticFloor)
	v.SetDefault("recall.touch_reinforce", cfg.Recall.TouchReinforce)
	v.SetDefault("recall.per_concept_limit", cfg.Recall.PerConceptLimit)
	v.SetDefault("recall.recent_window", cfg.Recall.RecentWindow)
	v.SetDefault("recall.recent_weight", cfg.Recall.RecentWeight)
	v.SetDefault("recall.anniversary_days", cfg.Recall.AnniversaryDays)
	v.SetDefault("recall.anniversary_slack", cfg.Recall.AnniversarySlack)
	v.SetDefault("recall.anniversary_weight", cfg.Recall.AnniversaryWeight)
	v.SetDefault("spreading.lambda", cfg.Spreading.Lambda)
	v.SetDefault("spreading.max_hops", cfg.Spreading.MaxHops)
	v.SetDefault("spreading.floor", cfg.Spreading.Floor)
	v.SetDefault("decay.enabled", cfg.Decay.Enabled)
	v.SetDefault("decay.interval", cfg.Decay.Interval)
	v.SetDefault("decay.threshold", cfg.Decay.Threshold)
	v.SetDefault("decay.factor", cfg.Decay.Factor)
	v.SetDefault("decay.removal_floor", cfg.Decay.RemovalFloor)
	v.SetDefault("decay.grace", cfg.Decay.Grace)
	v.SetDefault("consolidation.enabled", cfg.Consolidation.Enabled)
	v.SetDefault("consolidation.merge_threshold", cfg.Consolidation.MergeThreshold)
	v.SetDefault("consolidation.strength_bonus", cfg.Consolidation.StrengthBonus)
	v.SetDefault("consolidation.max_per_concept", cfg.Consolidation.MaxPerConcept)
	v.SetDefault("formation.max_content_len", cfg.Formation.MaxContentLen)
	v.SetDefault("formation.max_keywords", cfg.Formation.MaxKeywords)
	v.SetDefault("formation.reinforce_step", cfg.Formation.ReinforceStep)
	v.SetDefault("formation.fallback_confidence", cfg.Formation.FallbackConfidence)
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
