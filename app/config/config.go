package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type CorpusDefn struct {
	// A human readable name used in titles. Eg: "World English Bible"
	ReadableName string `json:"readable_name"`
	// Directory (relative to the data dir) holding one JSON document per book
	BooksDir string `json:"books_dir"`
	// Verse id -> ordered related verse ids
	CrossReferencesFile string `json:"cross_references_file"`
	// Book -> chapter -> spoken-word verse ranges
	RedLettersFile string `json:"red_letters_file"`
}

type LectioConfig struct {
	InstanceName string     `json:"instance_name"`
	DataDir      string     `json:"-"`
	Corpus       CorpusDefn `json:"corpus"`

	// Database file name inside the data dir
	DBFile             string `json:"db_file"`
	InitTimeoutSeconds int    `json:"init_timeout_seconds"`

	// Seeding chunk sizes
	BooksPerChunk  int `json:"books_per_chunk"`
	IndexBatchSize int `json:"index_batch_size"`

	// Seconds to cache chapter metadata lookups
	CacheTTLSeconds int `json:"cache_ttl_seconds"`

	Hostnames      []string `json:"hostnames"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	LogLatency     bool     `json:"log_latency"`
}

type ServerRuntimeConfig struct {
	Addr               string
	Port               int
	CertDir            string
	AcmeEnabled        bool
	BehindLoadBalancer bool
	RateLimit          int
	GzipLevel          int
}

const (
	DefaultDBFile         = "lectio.db"
	DefaultInitTimeout    = 5
	DefaultBooksPerChunk  = 6
	DefaultIndexBatchSize = 500
	DefaultCacheTTL       = 600
)

// WithDefaults fills every unset knob. It returns a copy.
func (c LectioConfig) WithDefaults() LectioConfig {
	if c.DBFile == "" {
		c.DBFile = DefaultDBFile
	}
	if c.InitTimeoutSeconds <= 0 {
		c.InitTimeoutSeconds = DefaultInitTimeout
	}
	if c.BooksPerChunk <= 0 {
		c.BooksPerChunk = DefaultBooksPerChunk
	}
	if c.IndexBatchSize <= 0 {
		c.IndexBatchSize = DefaultIndexBatchSize
	}
	if c.CacheTTLSeconds <= 0 {
		c.CacheTTLSeconds = DefaultCacheTTL
	}
	if c.Corpus.BooksDir == "" {
		c.Corpus.BooksDir = "books"
	}
	return c
}

func (c *LectioConfig) Validate() error {
	if c.DataDir == "" {
		return errors.New("data dir is not set")
	}
	if len(c.Hostnames) == 0 {
		c.Hostnames = []string{"localhost"}
	}
	if c.BooksPerChunk > 66 {
		return fmt.Errorf("books_per_chunk %d is larger than a whole corpus", c.BooksPerChunk)
	}
	return nil
}

func (c *LectioConfig) DBPath() string {
	return filepath.Join(c.DataDir, c.DBFile)
}

func (c *LectioConfig) InitTimeout() time.Duration {
	return time.Duration(c.InitTimeoutSeconds) * time.Second
}

func (c *LectioConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// DataPath resolves a file named in the config against the data dir.
func (c *LectioConfig) DataPath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir, name)
}

// Load reads <dataDir>/config.json. A missing file yields the defaults.
func Load(dataDir string) (*LectioConfig, error) {
	var conf LectioConfig
	confPath := filepath.Join(dataDir, "config.json")
	confFile, err := os.Open(confPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("opening config.json: %w", err)
	}
	if err == nil {
		defer confFile.Close()
		if err := json.NewDecoder(confFile).Decode(&conf); err != nil {
			return nil, fmt.Errorf("reading config.json: %w", err)
		}
	}
	conf = conf.WithDefaults()
	conf.DataDir = dataDir
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}
