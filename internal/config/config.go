// Package config loads and validates STAR retrieval core configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"starcore/internal/logging"
)

// RecallMode selects a named preset for the walker/fuser parameters.
type RecallMode string

const (
	RecallMaximum  RecallMode = "maximum"
	RecallBalanced RecallMode = "balanced"
	RecallFocused  RecallMode = "focused"
)

// Config holds all STAR retrieval core configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Retrieval RetrievalConfig `yaml:"retrieval"`
	Walker    WalkerConfig    `yaml:"walker"`
	Fuser     FuserConfig     `yaml:"fuser"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RetrievalConfig controls query-time defaults.
type RetrievalConfig struct {
	RecallMode      RecallMode `yaml:"recall_mode"`
	MaxCharsDefault int        `yaml:"max_chars_default"`
	CodeWeight      float64    `yaml:"code_weight"`
	QueryTimeout    string     `yaml:"query_timeout"`
	MaxQueryLength  int        `yaml:"max_query_length"`
}

// WalkerConfig controls the tag-walker's graph traversal.
type WalkerConfig struct {
	PlanetBudget     float64 `yaml:"planet_budget"`
	MoonBudget       float64 `yaml:"moon_budget"`
	MaxHops          int     `yaml:"max_hops"`
	TemporalDecay    float64 `yaml:"temporal_decay"`
	Damping          float64 `yaml:"damping"`
	MinRelevance     float64 `yaml:"min_relevance"`
	Temperature      float64 `yaml:"temperature"`
	GravityThreshold float64 `yaml:"gravity_threshold"`
	MaxPerHop        int     `yaml:"max_per_hop"`
	WalkRadius       int     `yaml:"walk_radius"`
}

// FuserConfig controls the gravity formula weights and dedup threshold.
type FuserConfig struct {
	WeightTags         float64 `yaml:"weight_tags"`
	WeightTime         float64 `yaml:"weight_time"`
	WeightSim          float64 `yaml:"weight_sim"`
	WeightLex          float64 `yaml:"weight_lex"`
	WeightVec          float64 `yaml:"weight_vec"`
	WeightWalk         float64 `yaml:"weight_walk"`
	DedupHammingBucket int     `yaml:"dedup_hamming_bucket"`
}

// EmbeddingConfig selects and configures the embedder backend.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // genai, ollama
	Dimensions     int    `yaml:"embedding_dim"`
	BatchSize      int    `yaml:"embed_batch_size"`
	ContextSize    int    `yaml:"embed_context_size"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
}

// StorageConfig locates the mirror and index trees.
type StorageConfig struct {
	MirrorRoot     string `yaml:"mirror_root"`
	IndexPath      string `yaml:"index_path"`
	BackupDir      string `yaml:"backup_dir"`
	RequireVecExt  bool   `yaml:"require_vec_ext"`
	EmbedQueueSize int    `yaml:"embed_queue_size"`
}

// LoggingConfig mirrors logging.loggingConfig's on-disk shape.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "star-retrieval-core",
		Version: "0.1.0",
		Retrieval: RetrievalConfig{
			RecallMode:      RecallBalanced,
			MaxCharsDefault: 131072,
			CodeWeight:      0.5,
			QueryTimeout:    "30s",
			MaxQueryLength:  4096,
		},
		Walker:    balancedWalkerConfig(),
		Fuser: FuserConfig{
			WeightTags:         0.30,
			WeightTime:         0.10,
			WeightSim:          0.25,
			WeightLex:          0.15,
			WeightVec:          0.15,
			WeightWalk:         0.05,
			DedupHammingBucket: 5,
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			Dimensions:     768,
			BatchSize:      32,
			ContextSize:    8192,
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "nomic-embed-text",
		},
		Storage: StorageConfig{
			MirrorRoot:     "mirror",
			IndexPath:      "index/star.db",
			BackupDir:      "index/backup",
			RequireVecExt:  false,
			EmbedQueueSize: 256,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// recallPresets maps each RecallMode to its WalkerConfig.
func recallPresets() map[RecallMode]WalkerConfig {
	return map[RecallMode]WalkerConfig{
		RecallMaximum:  maxRecallWalkerConfig(),
		RecallBalanced: balancedWalkerConfig(),
		RecallFocused:  focusedWalkerConfig(),
	}
}

func maxRecallWalkerConfig() WalkerConfig {
	return WalkerConfig{
		PlanetBudget: 0.7, MoonBudget: 0.3, MaxHops: 3,
		TemporalDecay: 1e-6, Damping: 0.85, MinRelevance: 0.0,
		Temperature: 0.3, GravityThreshold: 0.05, MaxPerHop: 200, WalkRadius: 3,
	}
}

func balancedWalkerConfig() WalkerConfig {
	return WalkerConfig{
		PlanetBudget: 0.7, MoonBudget: 0.3, MaxHops: 2,
		TemporalDecay: 1e-6, Damping: 0.8, MinRelevance: 0.1,
		Temperature: 0.2, GravityThreshold: 0.15, MaxPerHop: 60, WalkRadius: 2,
	}
}

func focusedWalkerConfig() WalkerConfig {
	return WalkerConfig{
		PlanetBudget: 0.7, MoonBudget: 0.3, MaxHops: 1,
		TemporalDecay: 1e-5, Damping: 0.7, MinRelevance: 0.2,
		Temperature: 0.1, GravityThreshold: 0.3, MaxPerHop: 20, WalkRadius: 1,
	}
}

// contextBudgetChars maps each RecallMode to its default max_chars.
func contextBudgetChars() map[RecallMode]int {
	return map[RecallMode]int{
		RecallMaximum:  262144,
		RecallBalanced: 131072,
		RecallFocused:  32768,
	}
}

// ApplyRecallMode overwrites the walker preset and max_chars default for mode.
func (c *Config) ApplyRecallMode(mode RecallMode) error {
	preset, ok := recallPresets()[mode]
	if !ok {
		return fmt.Errorf("unknown recall_mode: %s", mode)
	}
	c.Retrieval.RecallMode = mode
	c.Walker = preset
	c.Retrieval.MaxCharsDefault = contextBudgetChars()[mode]
	return nil
}

// Load reads config from a YAML file, falling back to defaults when absent.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	logging.Get(logging.CategoryConfig).Debug("loading config from: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Get(logging.CategoryConfig).Info("config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		logging.Get(logging.CategoryConfig).Error("failed to read config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		logging.Get(logging.CategoryConfig).Error("failed to parse config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	logging.Get(logging.CategoryConfig).Info("config loaded: recall_mode=%s embedding_provider=%s",
		cfg.Retrieval.RecallMode, cfg.Embedding.Provider)
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies STARCORE_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STARCORE_MIRROR_ROOT"); v != "" {
		c.Storage.MirrorRoot = v
	}
	if v := os.Getenv("STARCORE_INDEX_PATH"); v != "" {
		c.Storage.IndexPath = v
	}
	if v := os.Getenv("STARCORE_RECALL_MODE"); v != "" {
		_ = c.ApplyRecallMode(RecallMode(v))
	}
	if v := os.Getenv("GENAI_API_KEY"); v != "" {
		c.Embedding.GenAIAPIKey = v
		if c.Embedding.Provider == "" || c.Embedding.Provider == "ollama" {
			c.Embedding.Provider = "genai"
		}
	}
	if v := os.Getenv("OLLAMA_ENDPOINT"); v != "" {
		c.Embedding.OllamaEndpoint = v
	}
	if v := os.Getenv("OLLAMA_EMBEDDING_MODEL"); v != "" {
		c.Embedding.OllamaModel = v
	}
	if v := os.Getenv("STARCORE_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
}

// GetQueryTimeout returns the per-query timeout as a duration.
func (c *Config) GetQueryTimeout() time.Duration {
	d, err := time.ParseDuration(c.Retrieval.QueryTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ValidRecallModes lists every supported recall_mode value.
var ValidRecallModes = []RecallMode{RecallMaximum, RecallBalanced, RecallFocused}

// Validate checks the closed-set and numeric configuration invariants.
func (c *Config) Validate() error {
	validMode := false
	for _, m := range ValidRecallModes {
		if c.Retrieval.RecallMode == m {
			validMode = true
			break
		}
	}
	if !validMode {
		return fmt.Errorf("invalid recall_mode: %s (valid: %v)", c.Retrieval.RecallMode, ValidRecallModes)
	}

	if sum := c.Walker.PlanetBudget + c.Walker.MoonBudget; sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("planet_budget + moon_budget must sum to 1, got %.4f", sum)
	}

	weightSum := c.Fuser.WeightTags + c.Fuser.WeightTime + c.Fuser.WeightSim +
		c.Fuser.WeightLex + c.Fuser.WeightVec + c.Fuser.WeightWalk
	if weightSum < 0.999 || weightSum > 1.001 {
		return fmt.Errorf("fuser weights must sum to 1, got %.4f", weightSum)
	}

	if c.Retrieval.MaxCharsDefault <= 0 {
		return fmt.Errorf("max_chars_default must be positive")
	}
	if c.Embedding.Dimensions != 384 && c.Embedding.Dimensions != 768 {
		return fmt.Errorf("embedding_dim must be 384 or 768, got %d", c.Embedding.Dimensions)
	}
	if c.Storage.MirrorRoot == "" || c.Storage.IndexPath == "" {
		return fmt.Errorf("mirror_root and index_path are required")
	}
	return nil
}
