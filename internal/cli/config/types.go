// Package config provides configuration management for the catasto CLI.
// Configuration is layered: defaults, then catasto.yaml, then CATASTO_*
// environment variables, then explicit flags.
package config

import "time"

// Config holds all CLI configuration options.
type Config struct {
	// DataDir is the source tree root (REGION/PROVINCE/COMUNE_NAME/*).
	DataDir string `koanf:"data_dir"`
	// StoreDir is where store files live.
	StoreDir string `koanf:"store_dir"`
	// StorePrefix names store files: <prefix>_map.sqlite and
	// <prefix>_ple.<region-slug>.sqlite.
	StorePrefix string `koanf:"store_prefix"`
	// SafeMode validates every source file in an isolated subprocess
	// before the main process reads it.
	SafeMode bool `koanf:"safe_mode"`
	// ValidateTimeout bounds one subprocess validation.
	ValidateTimeout time.Duration `koanf:"validate_timeout"`

	Verbose      bool   `koanf:"verbose"`
	OutputFormat string `koanf:"output"`
}

// Default configuration values.
const (
	DefaultDataDir         = "data"
	DefaultStoreDir        = "stores"
	DefaultStorePrefix     = "catasto"
	DefaultValidateTimeout = 60 * time.Second
	DefaultOutput          = "auto"
)
