// Package config loads the collections/contexts YAML, the optional .env
// file, and the QMD_* environment overrides. The core engines receive
// plain values from here; nothing else reads the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/uf-hy/qmdr/internal/ingest"
	"github.com/uf-hy/qmdr/internal/llm"
	"github.com/uf-hy/qmdr/internal/search"
)

// indexFile is the collections/contexts YAML inside the config dir.
const indexFile = "index.yml"

// DefaultIndexName names the index database when --index is not given.
const DefaultIndexName = "index"

// Collection is a named view over a filesystem subtree.
type Collection struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
	Glob string `yaml:"glob,omitempty"`
	// Update is an optional shell command run by `update --allow-run`.
	Update string `yaml:"update,omitempty"`
}

// Context is a human-written annotation attached to a (collection, path
// prefix). An empty collection with path "/" is the global context.
type Context struct {
	Collection string `yaml:"collection,omitempty"`
	Path       string `yaml:"path,omitempty"`
	Text       string `yaml:"text"`
}

// indexYAML is the on-disk shape of index.yml.
type indexYAML struct {
	Collections []Collection `yaml:"collections"`
	Contexts    []Context    `yaml:"contexts,omitempty"`
}

// Config is everything the engines need, resolved from YAML + environment.
type Config struct {
	IndexName string
	ConfigDir string
	DataDir   string

	Collections []Collection
	Contexts    []Context

	// Pipeline caps and limits.
	Caps              search.Caps
	MaxIndexFileBytes int64
	TimeoutMS         int
	EmbedBatchSize    int

	// Provider selection, resolved into the gateway config.
	EmbedProvider  string
	ExpandProvider string
	RerankProvider string
	RerankMode     string

	// AllowExtensions mirrors QMD_ALLOW_SQLITE_EXTENSIONS. The embedded
	// vector index needs no extension; the variable is accepted for
	// compatibility and surfaced by status.
	AllowExtensions bool
}

// DefaultConfigDir follows XDG with a ~/.config fallback.
func DefaultConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "qmd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".qmd"
	}
	return filepath.Join(home, ".config", "qmd")
}

// DefaultDataDir follows XDG with a ~/.local/share fallback.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "qmd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".qmd"
	}
	return filepath.Join(home, ".local", "share", "qmd")
}

// Load reads index.yml from configDir (missing file means empty config),
// applies the .env file, and folds in environment overrides.
func Load(configDir, dataDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	cfg := &Config{
		IndexName:         DefaultIndexName,
		ConfigDir:         configDir,
		DataDir:           dataDir,
		Caps:              search.DefaultCaps(),
		MaxIndexFileBytes: ingest.DefaultMaxFileBytes,
		EmbedBatchSize:    llm.DefaultEmbedBatchSize,
		RerankMode:        string(llm.RerankModeLLM),
	}

	data, err := os.ReadFile(filepath.Join(configDir, indexFile))
	if err == nil {
		var y indexYAML
		if err := yaml.Unmarshal(data, &y); err != nil {
			return nil, fmt.Errorf("parse %s: %w", indexFile, err)
		}
		cfg.Collections = y.Collections
		cfg.Contexts = y.Contexts
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", indexFile, err)
	}

	if err := applyDotEnv(filepath.Join(configDir, ".env")); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyDotEnv loads KEY=VALUE lines. QMD_-prefixed keys override the
// inherited environment; any other key is only set when absent.
func applyDotEnv(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read .env: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if strings.HasPrefix(key, "QMD_") {
			if err := os.Setenv(key, value); err != nil {
				return err
			}
			continue
		}
		if _, present := os.LookupEnv(key); !present {
			if err := os.Setenv(key, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyEnv folds QMD_* variables into the config. Malformed numbers fall
// back to defaults rather than failing.
func (c *Config) applyEnv() {
	if v := os.Getenv("QMD_EMBED_PROVIDER"); v != "" {
		c.EmbedProvider = v
	}
	if v := os.Getenv("QMD_QUERY_EXPANSION_PROVIDER"); v != "" {
		c.ExpandProvider = v
	}
	if v := os.Getenv("QMD_RERANK_PROVIDER"); v != "" {
		c.RerankProvider = v
	}
	if v := os.Getenv("QMD_RERANK_MODE"); v == string(llm.RerankModeLLM) || v == string(llm.RerankModeDedicated) {
		c.RerankMode = v
	}
	if n, ok := envInt("QMD_TIMEOUT_MS"); ok && n > 0 {
		c.TimeoutMS = n
	}
	if n, ok := envInt("QMD_EMBED_BATCH_SIZE"); ok && n > 0 {
		c.EmbedBatchSize = n
	}
	if n, ok := envInt("QMD_RERANK_DOC_LIMIT"); ok && n > 0 {
		c.Caps.RerankDocLimit = n
	}
	if n, ok := envInt("QMD_RERANK_CHUNKS_PER_DOC"); ok && n > 0 {
		c.Caps.RerankChunksPerDoc = n
	}
	// NaN and non-positive values keep the default.
	if v := os.Getenv("QMD_MAX_INDEX_FILE_BYTES"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n == n && n > 0 {
			c.MaxIndexFileBytes = int64(n)
		}
	}
	if v := os.Getenv("QMD_ALLOW_SQLITE_EXTENSIONS"); v == "1" || strings.EqualFold(v, "true") {
		c.AllowExtensions = true
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Save writes collections and contexts back to index.yml.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.ConfigDir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(indexYAML{Collections: c.Collections, Contexts: c.Contexts})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.ConfigDir, indexFile), data, 0o644)
}

// IndexPath is where the index database lives.
func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, c.IndexName+".sqlite")
}

// Timeout converts the millisecond override into a duration (0 = unset).
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// CollectionNames lists configured collection names in order.
func (c *Config) CollectionNames() []string {
	names := make([]string, 0, len(c.Collections))
	for _, col := range c.Collections {
		names = append(names, col.Name)
	}
	return names
}

// FindCollection returns the named collection, or nil.
func (c *Config) FindCollection(name string) *Collection {
	for i := range c.Collections {
		if c.Collections[i].Name == name {
			return &c.Collections[i]
		}
	}
	return nil
}

// AddCollection registers a collection. (root_path, glob) pairs must be
// unique; names must be unique.
func (c *Config) AddCollection(col Collection) error {
	for _, existing := range c.Collections {
		if existing.Name == col.Name {
			return fmt.Errorf("collection %q already exists", col.Name)
		}
		if existing.Path == col.Path && existing.Glob == col.Glob {
			return fmt.Errorf("collection %q already covers %s with %s", existing.Name, col.Path, col.Glob)
		}
	}
	c.Collections = append(c.Collections, col)
	return nil
}

// RemoveCollection drops the named collection. Returns whether it existed.
func (c *Config) RemoveCollection(name string) bool {
	for i, col := range c.Collections {
		if col.Name == name {
			c.Collections = append(c.Collections[:i], c.Collections[i+1:]...)
			return true
		}
	}
	return false
}

// RenameCollection renames a collection in place.
func (c *Config) RenameCollection(from, to string) error {
	if c.FindCollection(to) != nil {
		return fmt.Errorf("collection %q already exists", to)
	}
	col := c.FindCollection(from)
	if col == nil {
		return fmt.Errorf("collection %q not found", from)
	}
	col.Name = to
	for i := range c.Contexts {
		if c.Contexts[i].Collection == from {
			c.Contexts[i].Collection = to
		}
	}
	return nil
}

// GatewayConfig assembles the LLM gateway configuration from provider API
// keys in the environment plus the resolved overrides.
func (c *Config) GatewayConfig() llm.Config {
	return llm.Config{
		SiliconFlowKey: os.Getenv("SILICONFLOW_API_KEY"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		GeminiKey:      os.Getenv("GEMINI_API_KEY"),
		DashScopeKey:   os.Getenv("DASHSCOPE_API_KEY"),
		OpenAIBaseURL:  os.Getenv("OPENAI_BASE_URL"),

		EmbedProvider:  c.EmbedProvider,
		ExpandProvider: c.ExpandProvider,
		RerankProvider: c.RerankProvider,
		RerankMode:     llm.RerankMode(c.RerankMode),

		EmbedModel:  os.Getenv("QMD_EMBED_MODEL"),
		ChatModel:   os.Getenv("QMD_CHAT_MODEL"),
		RerankModel: os.Getenv("QMD_RERANK_MODEL"),

		Timeout:        c.Timeout(),
		EmbedBatchSize: c.EmbedBatchSize,
		ConfigDir:      c.ConfigDir,
	}
}
