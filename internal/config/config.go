// Package config loads the TOML application configuration, following the
// section layout of original_source/backend/src/settings.rs's AppConfig:
// indexer, http, bitcoin, cardano, ergo. Secrets (api_username,
// api_password, api_key) are read from the process environment / a .env
// overlay via github.com/joho/godotenv, exactly as the teacher's
// cmd/server/main.go loads its own secrets, rather than being written in
// plaintext into the TOML file.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/eutxo/indexer/internal/apperr"
	"github.com/joho/godotenv"
)

// Parallelism is the coarse-grained worker-count knob from
// original_source/backend/src/settings.rs: Parallelism::to_numeric.
type Parallelism string

const (
	ParallelismLow  Parallelism = "low"
	ParallelismMild Parallelism = "mild"
	ParallelismHigh Parallelism = "high"
)

// Numeric converts the enum to a worker count, floored at 1.
func (p Parallelism) Numeric() int {
	cores := runtime.NumCPU()
	var n int
	switch strings.ToLower(string(p)) {
	case string(ParallelismLow):
		n = cores / 8
	case string(ParallelismMild):
		n = cores / 4
	case string(ParallelismHigh):
		n = cores / 2
	default:
		n = cores / 4
	}
	if n < 1 {
		n = 1
	}
	return n
}

type IndexerConfig struct {
	Enable               bool        `toml:"enable"`
	DbPath                string      `toml:"db_path"`
	SchemaPath            string      `toml:"schema_path"`
	TxBatchSize           int         `toml:"tx_batch_size"`
	FetchingParallelism   Parallelism `toml:"fetching_parallelism"`
	ProcessingParallelism Parallelism `toml:"processing_parallelism"`
	MinBatchWeight        int         `toml:"min_batch_weight"`
}

type HTTPConfig struct {
	Enable      bool   `toml:"enable"`
	BindAddress string `toml:"bind_address"`
}

type BitcoinConfig struct {
	ApiHost     string `toml:"api_host"`
	ApiUsername string `toml:"-"`
	ApiPassword string `toml:"-"`
}

type CardanoConfig struct {
	SocketPath string `toml:"socket_path"`
	NetworkMagic uint32 `toml:"network_magic"`
}

type ErgoConfig struct {
	ApiHost string `toml:"api_host"`
	ApiKey  string `toml:"-"`
}

type Config struct {
	Blockchain string        `toml:"blockchain"`
	Indexer    IndexerConfig `toml:"indexer"`
	HTTP       HTTPConfig    `toml:"http"`
	Bitcoin    BitcoinConfig `toml:"bitcoin"`
	Cardano    CardanoConfig `toml:"cardano"`
	Ergo       ErgoConfig    `toml:"ergo"`
}

// Load reads the TOML file at path, then overlays secrets from the process
// environment (after loading any ".env" file found alongside the binary,
// ignoring its absence — matching godotenv.Load()'s own lenient behavior
// in the teacher's cmd/server/main.go).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, &apperr.ConfigError{Msg: fmt.Sprintf("decode %s: %v", path, err)}
	}

	cfg.Bitcoin.ApiUsername = os.Getenv("BITCOIN_API_USERNAME")
	cfg.Bitcoin.ApiPassword = os.Getenv("BITCOIN_API_PASSWORD")
	cfg.Ergo.ApiKey = os.Getenv("ERGO_API_KEY")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Blockchain {
	case "bitcoin", "cardano", "ergo":
	default:
		return &apperr.ConfigError{Msg: fmt.Sprintf("unknown blockchain %q: want bitcoin, cardano or ergo", c.Blockchain)}
	}
	if c.Indexer.DbPath == "" {
		return &apperr.ConfigError{Msg: "indexer.db_path is required"}
	}
	if c.Indexer.SchemaPath == "" {
		return &apperr.ConfigError{Msg: "indexer.schema_path is required"}
	}
	if c.Indexer.TxBatchSize <= 0 {
		c.Indexer.TxBatchSize = 10_000
	}
	if c.Indexer.FetchingParallelism == "" {
		c.Indexer.FetchingParallelism = ParallelismMild
	}
	if c.Indexer.ProcessingParallelism == "" {
		c.Indexer.ProcessingParallelism = ParallelismMild
	}
	return nil
}
